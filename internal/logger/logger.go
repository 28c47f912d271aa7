package logger

import (
	"io"
	"log/slog"
	"os"
)

func Load(debug bool) *slog.Logger {
	return New(os.Stdout, debug)
}

func New(w io.Writer, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
