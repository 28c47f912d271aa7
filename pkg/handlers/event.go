package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"eventhub/pkg/event"
	"eventhub/pkg/realtime"
)

const DefaultStreamKeepAlive = 15 * time.Second

type EventHandler struct {
	Service   event.ServiceInterface
	Logger    *slog.Logger
	KeepAlive time.Duration
}

func NewEventHandler(service event.ServiceInterface, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		Service:   service,
		Logger:    logger,
		KeepAlive: DefaultStreamKeepAlive,
	}
}

func (h *EventHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)[muxVarEventID]
	if err := event.ValidateID(eventID); err != nil {
		writeError(w, http.StatusBadRequest, typeError, "invalid event id")
		return
	}

	attendees, err := h.Service.Attendees(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("attendees", "error", err, "event_id", eventID)
		writeError(w, http.StatusBadGateway, typeError, "failed to load attendees")
		return
	}
	writeJSON(w, h.Logger, attendees)
}

type statusEvent struct {
	Status realtime.Status `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// Stream relays attendee changes of one event as Server-Sent Events until
// the client goes away.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)[muxVarEventID]
	if err := event.ValidateID(eventID); err != nil {
		writeError(w, http.StatusBadRequest, typeError, "invalid event id")
		return
	}

	rc := http.NewResponseController(w)
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, rc: rc}
	if err := sse.comment("connected"); err != nil {
		h.Logger.Debug("stream", "error", err, "event_id", eventID)
		return
	}

	logger := h.Logger.With("event_id", eventID)
	cleanup, err := h.Service.Watch(eventID,
		func(c realtime.Change) error {
			return sse.send("change", c)
		},
		func(status realtime.Status, err error) {
			ev := statusEvent{Status: status}
			if err != nil {
				ev.Error = err.Error()
			}
			switch status {
			case realtime.StatusChannelError:
				logger.Error("realtime channel error", "table", event.Table, "error", err)
			case realtime.StatusTimedOut:
				logger.Warn("realtime subscription timed out", "table", event.Table)
			}
			if err := sse.send("status", ev); err != nil {
				logger.Debug("stream status", "error", err)
			}
		},
	)
	if err != nil {
		logger.Error("stream", "error", err)
		return
	}
	defer cleanup()
	defer sse.close()

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultStreamKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.comment("ping"); err != nil {
				return
			}
		}
	}
}

var errStreamClosed = errors.New("stream closed")

// sseWriter serializes writes from the realtime dispatcher and the keep
// alive loop. Writes after close are dropped.
type sseWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

func (s *sseWriter) send(name string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, buf))
}

func (s *sseWriter) comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *sseWriter) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		s.closed = true
		return fmt.Errorf("%w: %w", errStreamClosed, err)
	}
	if err := s.rc.Flush(); err != nil {
		s.closed = true
		return fmt.Errorf("%w: %w", errStreamClosed, err)
	}
	return nil
}

func (s *sseWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
