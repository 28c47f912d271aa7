package event

import (
	"context"
	"fmt"
	"log/slog"

	"eventhub/pkg/realtime"
)

type Service struct {
	repo   Repo
	tokens TokenSource
	source realtime.ChannelSource
	logger *slog.Logger
}

func NewService(repo Repo, tokens TokenSource, source realtime.ChannelSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, source: source, logger: logger}
}

// Attendees lists the attendees of eventID, authorized as the visitor.
func (s *Service) Attendees(ctx context.Context, eventID string) ([]Attendee, error) {
	if err := ValidateID(eventID); err != nil {
		return nil, err
	}
	token, err := s.tokens.VisitorToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("visitor token: %w", err)
	}
	return s.repo.ListAttendees(ctx, token, eventID)
}

// Watch subscribes to attendee changes of eventID until the returned
// cleanup is called.
func (s *Service) Watch(eventID string, onChange func(realtime.Change) error, onStatus func(realtime.Status, error)) (func(), error) {
	if err := ValidateID(eventID); err != nil {
		return nil, err
	}
	cleanup := realtime.CreateSubscription(realtime.Config{
		Source:   s.source,
		Table:    Table,
		Filter:   Filter(eventID),
		OnEvent:  onChange,
		OnStatus: onStatus,
		Logger:   s.logger.With("event_id", eventID),
	})
	return cleanup, nil
}
