package persistence

import (
	"context"
	"slices"
	"sync"

	"github.com/petrijr/conduit/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of RunStore and
// EventStore backed by maps.
type InMemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]RunRecord
	events map[string][]api.RunEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:   make(map[string]RunRecord),
		events: make(map[string][]api.RunEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ RunStore   = (*InMemoryStore)(nil)
	_ EventStore = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveRun(_ context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Completed = slices.Clone(rec.Completed)
	rec.Pending = slices.Clone(rec.Pending)
	rec.Context = slices.Clone(rec.Context)
	s.runs[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return RunRecord{}, ErrRunNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []RunRecord
	for _, rec := range s.runs {
		if filter.matches(rec) {
			result = append(result, rec)
		}
	}
	sortRuns(result)
	return result, nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, ev api.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, runID string) ([]api.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.events[runID]), nil
}

func sortRuns(runs []RunRecord) {
	slices.SortStableFunc(runs, func(a, b RunRecord) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
