package persistence

import (
	"context"

	"github.com/petrijr/conduit/pkg/api"
)

// EventStore is an append-only history store for run events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.RunEvent) error
	ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(context.Context, api.RunEvent) error { return nil }
func (NoopEventStore) ListEvents(context.Context, string) ([]api.RunEvent, error) {
	return nil, nil
}
