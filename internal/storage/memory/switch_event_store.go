package memory

import (
	"context"
	"sort"
	"sync"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// SwitchEventStore is an in-memory implementation of storage.SwitchEventStore.
type SwitchEventStore struct {
	mu     sync.RWMutex
	events []domain.SwitchEvent
}

// NewSwitchEventStore creates a new in-memory switch event store.
func NewSwitchEventStore() *SwitchEventStore {
	return &SwitchEventStore{}
}

// Append adds an event.
func (s *SwitchEventStore) Append(_ context.Context, ev *domain.SwitchEvent) error {
	if ev == nil || ev.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

// ListBySession retrieves the events of a session, ordered by timestamp ASC.
func (s *SwitchEventStore) ListBySession(_ context.Context, sessionID string) ([]*domain.SwitchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwitchEvent
	for i := range s.events {
		if s.events[i].SessionID == sessionID {
			ev := s.events[i]
			result = append(result, &ev)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

var _ storage.SwitchEventStore = (*SwitchEventStore)(nil)
