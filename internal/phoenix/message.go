package phoenix

import (
	"encoding/json"

	"eventhub/pkg/realtime"
)

const (
	eventJoin        = "phx_join"
	eventLeave       = "phx_leave"
	eventReply       = "phx_reply"
	eventError       = "phx_error"
	eventClose       = "phx_close"
	eventHeartbeat   = "heartbeat"
	eventAccessToken = "access_token"
	eventSystem      = "system"
	eventChanges     = "postgres_changes"

	topicPhoenix = "phoenix"
	topicPrefix  = "realtime:"
)

// message is a Phoenix channel frame in the 1.0.0 JSON object encoding.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig         `json:"broadcast"`
	Presence        presenceConfig          `json:"presence"`
	PostgresChanges []realtime.ChangeFilter `json:"postgres_changes"`
	Private         bool                    `json:"private"`
}

type broadcastConfig struct {
	Ack  bool `json:"ack"`
	Self bool `json:"self"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type joinResponse struct {
	PostgresChanges []serverBinding `json:"postgres_changes"`
}

type serverBinding struct {
	ID     int64  `json:"id"`
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

func (b serverBinding) matches(f realtime.ChangeFilter) bool {
	return b.Event == f.Event && b.Schema == f.Schema && b.Table == f.Table && b.Filter == f.Filter
}

type errorResponse struct {
	Reason string `json:"reason"`
}

type systemPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Extension string `json:"extension"`
}

type changesPayload struct {
	IDs  []int64    `json:"ids"`
	Data wireChange `json:"data"`
}

type wireChange struct {
	Type            string         `json:"type"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	CommitTimestamp string         `json:"commit_timestamp"`
	Record          map[string]any `json:"record"`
	OldRecord       map[string]any `json:"old_record"`
	Errors          []string       `json:"errors"`
}

func (w wireChange) change() realtime.Change {
	c := realtime.Change{
		EventType:       w.Type,
		Schema:          w.Schema,
		Table:           w.Table,
		CommitTimestamp: w.CommitTimestamp,
		New:             w.Record,
		Old:             w.OldRecord,
		Errors:          w.Errors,
	}
	if c.New == nil {
		c.New = map[string]any{}
	}
	if c.Old == nil {
		c.Old = map[string]any{}
	}
	return c
}

// matchesEvent reports whether a change of type eventType is selected by a
// binding listening for event.
func matchesEvent(event, eventType string) bool {
	return event == realtime.EventAll || event == eventType
}
