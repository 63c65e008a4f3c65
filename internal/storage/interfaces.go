package storage

import (
	"context"

	"digit-trader/internal/domain"
)

// TradeStore provides access to the trades ledger.
type TradeStore interface {
	// Upsert inserts the trade or replaces the stored row. A terminal row is
	// never overwritten; doing so returns ErrTerminalTrade.
	Upsert(ctx context.Context, t *domain.Trade) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// ListBySession retrieves all trades of a session, ordered by created_at ASC.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Trade, error)

	// ListPending retrieves every trade still pending, across sessions.
	ListPending(ctx context.Context) ([]*domain.Trade, error)
}

// SwitchEventStore provides access to the append-only switch log.
type SwitchEventStore interface {
	// Append adds an event.
	Append(ctx context.Context, ev *domain.SwitchEvent) error

	// ListBySession retrieves the events of a session, ordered by timestamp ASC.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.SwitchEvent, error)
}

// TickStore provides access to the tick archive.
type TickStore interface {
	// InsertBulk adds multiple ticks atomically. Fails entire batch on duplicate (symbol, epoch).
	InsertBulk(ctx context.Context, ticks []*domain.Tick) error

	// GetByTimeRange retrieves ticks for a symbol within [start, end] epoch seconds (inclusive), ordered ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.Tick, error)
}

// PerformanceStore provides access to periodic per-strategy snapshots.
type PerformanceStore interface {
	// InsertSnapshot adds one snapshot row per strategy.
	InsertSnapshot(ctx context.Context, snaps []*domain.PerformanceSnapshot) error

	// Latest retrieves the most recent snapshot of each strategy in a session.
	Latest(ctx context.Context, sessionID string) ([]*domain.PerformanceSnapshot, error)
}
