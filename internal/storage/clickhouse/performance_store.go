package clickhouse

import (
	"context"
	"fmt"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// PerformanceStore implements storage.PerformanceStore using ClickHouse.
type PerformanceStore struct {
	conn *Conn
}

// NewPerformanceStore creates a new PerformanceStore.
func NewPerformanceStore(conn *Conn) *PerformanceStore {
	return &PerformanceStore{conn: conn}
}

var _ storage.PerformanceStore = (*PerformanceStore)(nil)

// InsertSnapshot appends one row per strategy.
func (s *PerformanceStore) InsertSnapshot(ctx context.Context, snaps []*domain.PerformanceSnapshot) (err error) {
	if len(snaps) == 0 {
		return nil
	}
	for _, p := range snaps {
		if p == nil || p.SessionID == "" || p.Strategy == "" {
			return storage.ErrInvalidInput
		}
	}
	start := time.Now()
	defer func() { observe("performance_insert", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO performance_snapshots (
			session_id, taken_at, strategy, total_trades, wins, losses,
			win_rate, total_profit, recent_rate
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range snaps {
		err = batch.Append(
			p.SessionID, p.TakenAt.UTC(), string(p.Strategy),
			uint32(p.TotalTrades), uint32(p.Wins), uint32(p.Losses),
			p.WinRate, p.TotalProfit, p.RecentRate,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Latest retrieves the newest snapshot of each strategy, ordered by strategy.
func (s *PerformanceStore) Latest(ctx context.Context, sessionID string) (_ []*domain.PerformanceSnapshot, err error) {
	start := time.Now()
	defer func() { observe("performance_latest", start, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT session_id, taken_at, strategy, total_trades, wins, losses,
			win_rate, total_profit, recent_rate
		FROM performance_snapshots
		WHERE session_id = ?
		ORDER BY strategy ASC, taken_at DESC
		LIMIT 1 BY strategy
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows chRows) ([]*domain.PerformanceSnapshot, error) {
	var snaps []*domain.PerformanceSnapshot

	for rows.Next() {
		var p domain.PerformanceSnapshot
		var strategy string
		var total, wins, losses uint32
		err := rows.Scan(
			&p.SessionID, &p.TakenAt, &strategy, &total, &wins, &losses,
			&p.WinRate, &p.TotalProfit, &p.RecentRate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		p.Strategy = domain.Strategy(strategy)
		p.TotalTrades = int(total)
		p.Wins = int(wins)
		p.Losses = int(losses)
		snaps = append(snaps, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snaps, nil
}
