package reporting

import (
	"context"
	"fmt"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/metrics"
	"digit-trader/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	trades      storage.TradeStore
	switches    storage.SwitchEventStore
	performance storage.PerformanceStore
	now         func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. switches and performance
// may be nil.
func NewGenerator(
	trades storage.TradeStore,
	switches storage.SwitchEventStore,
	performance storage.PerformanceStore,
) *Generator {
	return &Generator{
		trades:      trades,
		switches:    switches,
		performance: performance,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report of one session.
func (g *Generator) Generate(ctx context.Context, sessionID string) (*Report, error) {
	rep, err := metrics.NewAggregator(g.trades, g.switches).Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var perf []*domain.PerformanceSnapshot
	if g.performance != nil {
		perf, err = g.performance.Latest(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("latest performance: %w", err)
		}
	}

	return &Report{
		GeneratedAt: g.now(),
		SessionID:   sessionID,
		Summary:     rep.Summary,
		Performance: perf,
		Switches:    switchRows(rep.Switches),
		Trades:      tradeRows(rep.Trades),
	}, nil
}

func switchRows(events []*domain.SwitchEvent) []SwitchRow {
	rows := make([]SwitchRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, SwitchRow{
			Time:              ev.Timestamp,
			From:              ev.From,
			To:                ev.To,
			Reason:            ev.Reason,
			ConsecutiveLosses: ev.ConsecutiveLosses,
		})
	}
	return rows
}

func tradeRows(trades []*domain.Trade) []TradeRow {
	rows := make([]TradeRow, 0, len(trades))
	for _, t := range trades {
		row := TradeRow{
			TradeID:    t.ID,
			CreatedAt:  t.CreatedAt,
			Strategy:   t.Strategy,
			Mode:       t.Mode,
			ContractID: t.ContractID,
			Stake:      t.Stake,
			Status:     t.Status,
			Profit:     t.Profit,
			Error:      t.Error,
		}
		if t.ExitTick != nil {
			d := t.ExitTick.LastDigit()
			row.ExitDigit = &d
		}
		rows = append(rows, row)
	}
	return rows
}
