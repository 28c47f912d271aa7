// Command eventtail prints the attendees of one event and then follows
// attendee changes as JSON lines until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"eventhub/internal/config"
	"eventhub/internal/logger"
	"eventhub/internal/phoenix"
	"eventhub/internal/supabase"
	"eventhub/pkg/apiclient"
	"eventhub/pkg/event"
	"eventhub/pkg/realtime"
)

const authRefreshInterval = time.Minute

func main() {
	opts, err := config.ParseTailOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := config.ValidateTail(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(os.Stderr, opts.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tail(ctx, opts, os.Stdout, log); err != nil {
		log.Error("eventtail stopped", "error", err)
		os.Exit(1)
	}
}

type line struct {
	Kind     string           `json:"kind"`
	Attendee *event.Attendee  `json:"attendee,omitempty"`
	Change   *realtime.Change `json:"change,omitempty"`
	Status   realtime.Status  `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printer) print(l line) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(l)
}

func tail(ctx context.Context, opts config.TailOptions, out io.Writer, log *slog.Logger) error {
	api, err := apiclient.New(opts.APIBaseURL, apiclient.WithLogger(log))
	if err != nil {
		return err
	}
	token, err := api.VisitorToken(ctx)
	if err != nil {
		return fmt.Errorf("visitor token: %w", err)
	}

	p := &printer{enc: json.NewEncoder(out)}
	attendees, err := api.Attendees(ctx, opts.EventID)
	if err != nil {
		return fmt.Errorf("attendees: %w", err)
	}
	for i := range attendees {
		if err := p.print(line{Kind: "attendee", Attendee: &attendees[i]}); err != nil {
			return err
		}
	}

	rtURL, err := supabase.RealtimeURL(opts.URL, opts.AnonKey)
	if err != nil {
		return err
	}
	socket := phoenix.NewSocket(phoenix.Config{URL: rtURL, AccessToken: token, Logger: log})

	cleanup := realtime.CreateSubscription(realtime.Config{
		Source: socket,
		Table:  event.Table,
		Filter: event.Filter(opts.EventID),
		OnEvent: func(c realtime.Change) error {
			return p.print(line{Kind: "change", Change: &c})
		},
		OnStatus: func(s realtime.Status, err error) {
			l := line{Kind: "status", Status: s}
			if err != nil {
				l.Error = err.Error()
			}
			if perr := p.print(l); perr != nil {
				log.Warn("status not printed", "error", perr)
			}
		},
		Logger: log,
	})
	defer cleanup()

	go func() {
		ticker := time.NewTicker(authRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			next, err := api.VisitorToken(ctx)
			if err != nil {
				if apiclient.IsUnauthorized(err) {
					log.Error("visitor token rejected", "error", err)
				} else {
					log.Warn("visitor token refresh failed", "error", err)
				}
				continue
			}
			if next != token {
				socket.SetAuth(next)
				token = next
			}
		}
	}()

	return socket.Run(ctx)
}
