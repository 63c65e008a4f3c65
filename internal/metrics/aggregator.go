package metrics

import (
	"context"
	"errors"
	"fmt"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// ErrNoTrades is returned when a session has no stored trades.
var ErrNoTrades = errors.New("no trades available for aggregation")

// Aggregator computes session summaries from stored trades.
type Aggregator struct {
	trades   storage.TradeStore
	switches storage.SwitchEventStore
}

// NewAggregator creates a new metrics aggregator. switches may be nil.
func NewAggregator(trades storage.TradeStore, switches storage.SwitchEventStore) *Aggregator {
	return &Aggregator{trades: trades, switches: switches}
}

// SessionReport is the stored view of one session.
type SessionReport struct {
	Summary  domain.SessionSummary
	Trades   []*domain.Trade
	Switches []*domain.SwitchEvent
}

// Load reads a session's trades and switch events and summarizes them.
// Returns ErrNoTrades if the session has no trades.
func (a *Aggregator) Load(ctx context.Context, sessionID string) (*SessionReport, error) {
	trades, err := a.trades.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoTrades)
	}

	rep := &SessionReport{
		Summary: Summarize(trades),
		Trades:  trades,
	}
	rep.Summary.SessionID = sessionID

	if a.switches != nil {
		rep.Switches, err = a.switches.ListBySession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("list switch events: %w", err)
		}
	}
	return rep, nil
}
