package event

import (
	"context"
	"errors"
	"regexp"

	"eventhub/pkg/realtime"
)

const Table = "event_user"

var ErrInvalidEventID = errors.New("invalid event id")

// IDs are used verbatim in PostgREST filters, so they are restricted to a
// safe alphabet.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Attendee struct {
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at,omitempty"`
}

type Repo interface {
	ListAttendees(ctx context.Context, token, eventID string) ([]Attendee, error)
}

type TokenSource interface {
	VisitorToken(ctx context.Context) (string, error)
}

type ServiceInterface interface {
	Attendees(ctx context.Context, eventID string) ([]Attendee, error)
	Watch(eventID string, onChange func(realtime.Change) error, onStatus func(realtime.Status, error)) (func(), error)
}

func ValidateID(eventID string) error {
	if !validID.MatchString(eventID) {
		return ErrInvalidEventID
	}
	return nil
}

func Filter(eventID string) string {
	return "event_id=eq." + eventID
}
