package memory

import (
	"context"
	"sort"
	"sync"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

type tickKey struct {
	symbol string
	epoch  int64
}

// TickStore is an in-memory implementation of storage.TickStore.
type TickStore struct {
	mu   sync.RWMutex
	data map[tickKey]domain.Tick
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{
		data: make(map[tickKey]domain.Tick),
	}
}

// InsertBulk adds multiple ticks atomically. Fails entire batch on any duplicate.
func (s *TickStore) InsertBulk(_ context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[tickKey]struct{}, len(ticks))
	for _, t := range ticks {
		if t == nil || t.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := tickKey{t.Symbol, t.Epoch}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, t := range ticks {
		s.data[tickKey{t.Symbol, t.Epoch}] = *t
	}
	return nil
}

// GetByTimeRange retrieves ticks for a symbol within [start, end] (inclusive).
func (s *TickStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Tick
	for k, t := range s.data {
		if k.symbol == symbol && k.epoch >= start && k.epoch <= end {
			tick := t
			result = append(result, &tick)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Epoch < result[j].Epoch
	})
	return result, nil
}

var _ storage.TickStore = (*TickStore)(nil)
