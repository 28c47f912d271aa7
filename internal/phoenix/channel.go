package phoenix

import (
	"encoding/json"
	"errors"
	"sync"

	"eventhub/pkg/realtime"
)

type binding struct {
	filter  realtime.ChangeFilter
	handler func(realtime.Change)
	id      int64
	bound   bool
}

// Channel is one topic on a Socket.
type Channel struct {
	socket *Socket
	topic  string

	mu       sync.Mutex
	bindings []*binding
	onStatus func(realtime.Status, error)
	want     bool
	joining  bool
	joined   bool
	removed  bool
}

func (c *Channel) OnPostgresChanges(filter realtime.ChangeFilter, handler func(realtime.Change)) realtime.Channel {
	c.mu.Lock()
	c.bindings = append(c.bindings, &binding{filter: filter, handler: handler})
	c.mu.Unlock()
	return c
}

// Subscribe asks the server to join the channel and returns immediately.
// callback receives every later lifecycle transition.
func (c *Channel) Subscribe(callback func(realtime.Status, error)) realtime.Channel {
	c.mu.Lock()
	c.onStatus = callback
	c.want = true
	c.mu.Unlock()

	if c.socket.connected() {
		c.socket.join(c)
	}
	return c
}

func (c *Channel) Topic() string {
	return c.topic
}

func (c *Channel) filters() []realtime.ChangeFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.ChangeFilter, len(c.bindings))
	for i, b := range c.bindings {
		out[i] = b.filter
	}
	return out
}

func (c *Channel) wantsJoin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.want && !c.removed
}

// beginJoin reports false when a join is already in flight or the channel
// is no longer wanted.
func (c *Channel) beginJoin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joining || c.joined || c.removed {
		return false
	}
	c.joining = true
	return true
}

func (c *Channel) endJoin() {
	c.mu.Lock()
	c.joining = false
	c.mu.Unlock()
}

func (c *Channel) isJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Channel) joinReply(r reply) {
	if r.Status != "ok" {
		var resp errorResponse
		reason := string(r.Response)
		if err := json.Unmarshal(r.Response, &resp); err == nil && resp.Reason != "" {
			reason = resp.Reason
		}
		c.report(realtime.StatusChannelError, errors.New(reason))
		return
	}

	var resp joinResponse
	if len(r.Response) > 0 {
		if err := json.Unmarshal(r.Response, &resp); err != nil {
			c.report(realtime.StatusChannelError, err)
			return
		}
	}

	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return
	}
	for i, b := range c.bindings {
		if i >= len(resp.PostgresChanges) || !resp.PostgresChanges[i].matches(b.filter) {
			c.mu.Unlock()
			c.report(realtime.StatusChannelError, ErrBindingMismatch)
			return
		}
		b.id = resp.PostgresChanges[i].ID
		b.bound = true
	}
	c.joined = true
	c.mu.Unlock()

	c.report(realtime.StatusSubscribed, nil)
}

func (c *Channel) receive(msg message) {
	switch msg.Event {
	case eventChanges:
		var p changesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.socket.logger.Warn("malformed postgres change", "topic", c.topic, "error", err)
			return
		}
		change := p.Data.change()
		for _, h := range c.handlersFor(p.IDs, change) {
			h(change)
		}
	case eventSystem:
		var p systemPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if p.Status == "error" {
			c.report(realtime.StatusChannelError, errors.New(p.Message))
		}
	case eventError:
		c.setJoined(false)
		c.report(realtime.StatusChannelError, errors.New("channel error"))
	case eventClose:
		c.setJoined(false)
		c.report(realtime.StatusClosed, nil)
	}
}

// handlersFor selects bindings by the server ids on the message. Frames
// without ids fall back to matching table and event type.
func (c *Channel) handlersFor(ids []int64, change realtime.Change) []func(realtime.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return nil
	}
	var out []func(realtime.Change)
	for _, b := range c.bindings {
		if len(ids) > 0 {
			if b.bound && containsID(ids, b.id) {
				out = append(out, b.handler)
			}
			continue
		}
		if b.filter.Table == change.Table && matchesEvent(b.filter.Event, change.EventType) {
			out = append(out, b.handler)
		}
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Channel) setJoined(joined bool) {
	c.mu.Lock()
	c.joined = joined
	c.mu.Unlock()
}

func (c *Channel) connectionLost(cause error) {
	c.mu.Lock()
	wasJoined := c.joined
	c.joined = false
	c.joining = false
	removed := c.removed
	c.mu.Unlock()

	if wasJoined && !removed {
		if cause == nil {
			cause = ErrNotConnected
		}
		c.report(realtime.StatusChannelError, cause)
	}
}

// remove marks the channel removed. first is false when it already was.
func (c *Channel) remove() (wasJoined, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return false, false
	}
	wasJoined = c.joined
	c.removed = true
	c.joined = false
	return wasJoined, true
}

// report delivers a status to the subscriber. A removed channel reports
// CLOSED once and nothing after.
func (c *Channel) report(status realtime.Status, err error) {
	c.mu.Lock()
	cb := c.onStatus
	if c.removed {
		if status != realtime.StatusClosed {
			cb = nil
		} else {
			c.onStatus = nil
		}
	}
	c.mu.Unlock()

	if cb != nil {
		cb(status, err)
	}
}
