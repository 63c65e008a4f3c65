package memory

import (
	"context"
	"sort"
	"sync"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by trade id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
	}
}

// Upsert inserts or replaces a trade. Returns ErrTerminalTrade if the
// stored row is already terminal.
func (s *TradeStore) Upsert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, exists := s.data[t.ID]; exists && cur.Status.Terminal() {
		return storage.ErrTerminalTrade
	}
	s.data[t.ID] = t.Clone()
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, tradeID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// ListBySession retrieves all trades of a session, ordered by created_at ASC.
func (s *TradeStore) ListBySession(_ context.Context, sessionID string) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool { return t.SessionID == sessionID }), nil
}

// ListPending retrieves every pending trade, ordered by created_at ASC.
func (s *TradeStore) ListPending(_ context.Context) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool { return t.Status == domain.StatusPending }), nil
}

func (s *TradeStore) filter(keep func(*domain.Trade) bool) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if keep(t) {
			result = append(result, t.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

var _ storage.TradeStore = (*TradeStore)(nil)
