package supabase

import (
	"context"
	"fmt"

	"eventhub/pkg/event"
)

const attendeeTable = "event_user"

// AttendeeRepo reads event_user rows through PostgREST, authorized as the
// token passed to each call.
type AttendeeRepo struct {
	factory *Factory
}

func NewAttendeeRepo(f *Factory) *AttendeeRepo {
	return &AttendeeRepo{factory: f}
}

func (r *AttendeeRepo) ListAttendees(ctx context.Context, token, eventID string) ([]event.Attendee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := r.factory.WithToken(token)
	if err != nil {
		return nil, err
	}

	var out []event.Attendee
	_, err = client.From(attendeeTable).
		Select("event_id,user_id,created_at", "", false).
		Eq("event_id", eventID).
		ExecuteTo(&out)
	if err != nil {
		return nil, fmt.Errorf("list attendees of %s: %w", eventID, err)
	}
	if out == nil {
		out = []event.Attendee{}
	}
	return out, nil
}
