package memory

import (
	"context"
	"sort"
	"sync"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// PerformanceStore is an in-memory implementation of storage.PerformanceStore.
type PerformanceStore struct {
	mu    sync.RWMutex
	snaps []domain.PerformanceSnapshot
}

// NewPerformanceStore creates a new in-memory performance store.
func NewPerformanceStore() *PerformanceStore {
	return &PerformanceStore{}
}

// InsertSnapshot adds one row per strategy.
func (s *PerformanceStore) InsertSnapshot(_ context.Context, snaps []*domain.PerformanceSnapshot) error {
	for _, p := range snaps {
		if p == nil || p.SessionID == "" || p.Strategy == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range snaps {
		s.snaps = append(s.snaps, *p)
	}
	return nil
}

// Latest retrieves the most recent snapshot of each strategy in a session,
// ordered by strategy.
func (s *PerformanceStore) Latest(_ context.Context, sessionID string) ([]*domain.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[domain.Strategy]domain.PerformanceSnapshot)
	for _, p := range s.snaps {
		if p.SessionID != sessionID {
			continue
		}
		if cur, ok := latest[p.Strategy]; !ok || !p.TakenAt.Before(cur.TakenAt) {
			latest[p.Strategy] = p
		}
	}

	result := make([]*domain.PerformanceSnapshot, 0, len(latest))
	for _, p := range latest {
		snap := p
		result = append(result, &snap)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Strategy < result[j].Strategy
	})
	return result, nil
}

var _ storage.PerformanceStore = (*PerformanceStore)(nil)
