// Package realtime turns a Postgres change feed channel into a plain
// callback: events are handed to the caller's handler in order on a
// dedicated goroutine, handler failures are logged and never reach the
// transport, and the returned cleanup removes the channel exactly once.
package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventhub/internal/metrics"
)

type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

const (
	EventAll    = "*"
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	DefaultSchema = "public"
)

// ChangeFilter selects the rows a channel listens to. Filter uses the
// PostgREST syntax, e.g. "event_id=eq.e1".
type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// Change is one row change delivered by the feed.
type Change struct {
	EventType       string         `json:"eventType"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	CommitTimestamp string         `json:"commit_timestamp,omitempty"`
	New             map[string]any `json:"new"`
	Old             map[string]any `json:"old"`
	Errors          []string       `json:"errors,omitempty"`
}

type Channel interface {
	OnPostgresChanges(filter ChangeFilter, handler func(Change)) Channel
	Subscribe(callback func(status Status, err error)) Channel
}

type ChannelSource interface {
	Channel(name string) Channel
	RemoveChannel(ch Channel) error
}

type Config struct {
	Source  ChannelSource
	Table   string
	OnEvent func(Change) error
	// Filter is optional.
	Filter string
	// ChannelName defaults to "<table>_changes_<unix millis>".
	ChannelName string
	// OnStatus replaces the default status logging when set.
	OnStatus func(status Status, err error)
	Logger   *slog.Logger
	Now      func() time.Time
}

// CreateSubscription opens a channel on cfg.Source and returns the function
// that tears it down. The cleanup may be called any number of times.
func CreateSubscription(cfg Config) func() {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	name := cfg.ChannelName
	if name == "" {
		name = fmt.Sprintf("%s_changes_%d", cfg.Table, now().UnixMilli())
	}

	q := newQueue()
	go q.run(func(c Change) { handle(cfg, logger, c) })

	onStatus := cfg.OnStatus
	if onStatus == nil {
		onStatus = defaultStatusHandler(cfg.Table, logger)
	}

	filter := ChangeFilter{
		Event:  EventAll,
		Schema: DefaultSchema,
		Table:  cfg.Table,
		Filter: cfg.Filter,
	}
	ch := cfg.Source.Channel(name).
		OnPostgresChanges(filter, q.push).
		Subscribe(func(status Status, err error) {
			metrics.RealtimeStatus.WithLabelValues(cfg.Table, string(status)).Inc()
			onStatus(status, err)
		})

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := cfg.Source.RemoveChannel(ch); err != nil {
				logger.Warn("failed to remove realtime channel", "channel", name, "table", cfg.Table, "error", err)
			}
			q.close()
		})
	}
}

func handle(cfg Config, logger *slog.Logger, c Change) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RealtimeEvents.WithLabelValues(cfg.Table, "panic").Inc()
			logger.Error("realtime handler failed", "table", cfg.Table, "error", fmt.Errorf("panic: %v", r))
		}
	}()
	if cfg.OnEvent == nil {
		return
	}
	if err := cfg.OnEvent(c); err != nil {
		metrics.RealtimeEvents.WithLabelValues(cfg.Table, "error").Inc()
		logger.Error("realtime handler failed", "table", cfg.Table, "error", err)
		return
	}
	metrics.RealtimeEvents.WithLabelValues(cfg.Table, "ok").Inc()
}

func defaultStatusHandler(table string, logger *slog.Logger) func(Status, error) {
	return func(status Status, err error) {
		switch status {
		case StatusChannelError:
			logger.Error("realtime channel error", "table", table, "error", err)
		case StatusTimedOut:
			logger.Warn("realtime subscription timed out", "table", table)
		}
	}
}

// queue is an unbounded FIFO drained by a single goroutine. push never
// blocks, so a slow handler cannot stall the transport's read loop.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Change
	closed  bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(c Change) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, c)
	q.cond.Signal()
}

// close stops accepting events. Events already queued are still handled.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue) run(fn func(Change)) {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		c := q.pending[0]
		q.pending[0] = Change{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn(c)
	}
}
