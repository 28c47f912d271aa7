// Package phoenix is a client for Supabase Realtime, which speaks the
// Phoenix channel protocol over a WebSocket. Socket implements
// realtime.ChannelSource.
package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"eventhub/pkg/realtime"
)

const (
	DefaultHeartbeat   = 25 * time.Second
	DefaultJoinTimeout = 10 * time.Second

	writeTimeout      = 10 * time.Second
	reconnectDelay    = time.Second
	reconnectMaxDelay = 30 * time.Second
)

var (
	ErrNotConnected    = errors.New("realtime socket not connected")
	ErrForeignChannel  = errors.New("channel does not belong to this socket")
	ErrBindingMismatch = errors.New("mismatch between server and client bindings for postgres changes")
	errHeartbeat       = errors.New("heartbeat timeout")
)

type Config struct {
	// URL is the full websocket endpoint, see supabase.RealtimeURL.
	URL         string
	AccessToken string
	Heartbeat   time.Duration
	JoinTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
}

type Socket struct {
	cfg    Config
	logger *slog.Logger
	refs   atomic.Uint64
	topics atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	token    string
	channels map[string]*Channel
	pending  map[string]func(reply)

	writeMu sync.Mutex
}

func NewSocket(cfg Config) *Socket {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		cfg:      cfg,
		logger:   logger,
		token:    cfg.AccessToken,
		channels: make(map[string]*Channel),
		pending:  make(map[string]func(reply)),
	}
}

// Run keeps the socket connected until ctx is done, rejoining subscribed
// channels after every reconnect.
func (s *Socket) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = reconnectDelay
	retry.MaxInterval = reconnectMaxDelay
	retry.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("dial realtime: %w", err)
		}
		retry.Reset()

		err = s.serve(ctx, conn)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		s.logger.Warn("realtime socket disconnected", "error", err)
		return struct{}{}, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("reconnecting realtime socket", "error", err, "next_retry", next.String())
		}),
	)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Socket) serve(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	s.conn = conn
	rejoin := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		rejoin = append(rejoin, ch)
	}
	s.mu.Unlock()
	s.logger.Debug("realtime socket connected", "channels", len(rejoin))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go s.heartbeat(conn, done)

	for _, ch := range rejoin {
		if ch.wantsJoin() {
			s.join(ch)
		}
	}

	var err error
	for {
		var msg message
		if err = conn.ReadJSON(&msg); err != nil {
			break
		}
		s.dispatch(msg)
	}

	conn.Close()
	s.disconnected(conn, err)
	return err
}

func (s *Socket) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		if last != "" && s.takePending(last) != nil {
			s.logger.Warn("realtime heartbeat not acknowledged", "error", errHeartbeat)
			conn.Close()
			return
		}
		last = s.nextRef()
		s.addPending(last, func(reply) {})
		if err := s.push(message{Topic: topicPhoenix, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: last}); err != nil {
			s.takePending(last)
			conn.Close()
			return
		}
	}
}

func (s *Socket) dispatch(msg message) {
	if msg.Event == eventReply {
		if cb := s.takePending(msg.Ref); cb != nil {
			var r reply
			if err := json.Unmarshal(msg.Payload, &r); err != nil {
				s.logger.Warn("malformed realtime reply", "topic", msg.Topic, "error", err)
				return
			}
			cb(r)
		}
		return
	}

	s.mu.Lock()
	ch := s.channels[msg.Topic]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ch.receive(msg)
}

// disconnected fails in-flight pushes and reports every joined channel as
// errored. Channels stay registered and are joined again on reconnect.
func (s *Socket) disconnected(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.pending = make(map[string]func(reply))
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.connectionLost(cause)
	}
}

// Channel creates a new channel for name. A name already in use on this
// socket gets a numeric suffix, so every caller owns its own topic.
func (s *Socket) Channel(name string) realtime.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic := topicPrefix + name
	for {
		if _, taken := s.channels[topic]; !taken {
			break
		}
		topic = topicPrefix + name + "_" + strconv.FormatUint(s.topics.Add(1), 10)
	}
	ch := &Channel{socket: s, topic: topic}
	s.channels[topic] = ch
	return ch
}

// RemoveChannel leaves ch and forgets it. Removing a channel twice is a
// no-op.
func (s *Socket) RemoveChannel(rc realtime.Channel) error {
	ch, ok := rc.(*Channel)
	if !ok || ch.socket != s {
		return ErrForeignChannel
	}

	s.mu.Lock()
	if s.channels[ch.topic] == ch {
		delete(s.channels, ch.topic)
	}
	s.mu.Unlock()

	wasJoined, first := ch.remove()
	if !first {
		return nil
	}

	var err error
	if wasJoined {
		err = s.push(message{Topic: ch.topic, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: s.nextRef()})
		if errors.Is(err, ErrNotConnected) {
			err = nil
		}
	}
	ch.report(realtime.StatusClosed, nil)
	return err
}

// SetAuth replaces the access token used for future joins and pushes it to
// every joined channel.
func (s *Socket) SetAuth(token string) {
	s.mu.Lock()
	s.token = token
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"access_token": token})
	for _, ch := range channels {
		if !ch.isJoined() {
			continue
		}
		if err := s.push(message{Topic: ch.topic, Event: eventAccessToken, Payload: payload, Ref: s.nextRef()}); err != nil {
			s.logger.Debug("failed to push access token", "topic", ch.topic, "error", err)
		}
	}
}

func (s *Socket) join(ch *Channel) {
	if !ch.beginJoin() {
		return
	}

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	payload, err := json.Marshal(joinPayload{
		Config: joinConfig{
			PostgresChanges: ch.filters(),
		},
		AccessToken: token,
	})
	if err != nil {
		ch.endJoin()
		ch.report(realtime.StatusChannelError, err)
		return
	}

	ref := s.nextRef()
	timer := time.AfterFunc(s.cfg.JoinTimeout, func() {
		if s.takePending(ref) != nil {
			ch.endJoin()
			ch.report(realtime.StatusTimedOut, nil)
		}
	})
	s.addPending(ref, func(r reply) {
		timer.Stop()
		ch.endJoin()
		ch.joinReply(r)
	})

	if err := s.push(message{Topic: ch.topic, Event: eventJoin, Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		timer.Stop()
		ch.endJoin()
		if s.takePending(ref) != nil && !errors.Is(err, ErrNotConnected) {
			ch.report(realtime.StatusChannelError, err)
		}
	}
}

func (s *Socket) push(msg message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (s *Socket) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Socket) nextRef() string {
	return strconv.FormatUint(s.refs.Add(1), 10)
}

func (s *Socket) addPending(ref string, cb func(reply)) {
	s.mu.Lock()
	s.pending[ref] = cb
	s.mu.Unlock()
}

func (s *Socket) takePending(ref string) func(reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.pending[ref]
	if !ok {
		return nil
	}
	delete(s.pending, ref)
	return cb
}
