package clickhouse

import (
	"context"
	"fmt"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// TickStore implements storage.TickStore using ClickHouse.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

type tickKey struct {
	symbol string
	epoch  int64
}

// InsertBulk adds multiple ticks. Fails entire batch on duplicate (symbol, epoch).
// MergeTree does not enforce uniqueness, so duplicates are checked before
// the batch is sent.
func (s *TickStore) InsertBulk(ctx context.Context, ticks []*domain.Tick) (err error) {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("ticks_insert", start, err) }()

	seen := make(map[tickKey]struct{}, len(ticks))
	bounds := make(map[string][2]int64)
	for _, t := range ticks {
		if t == nil || t.Symbol == "" {
			return storage.ErrInvalidInput
		}
		k := tickKey{t.Symbol, t.Epoch}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		b, ok := bounds[t.Symbol]
		if !ok {
			b = [2]int64{t.Epoch, t.Epoch}
		}
		b[0] = min(b[0], t.Epoch)
		b[1] = max(b[1], t.Epoch)
		bounds[t.Symbol] = b
	}

	// One range query per symbol covers every key in the batch.
	for symbol, b := range bounds {
		epochs, err := s.epochs(ctx, symbol, b[0], b[1])
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, e := range epochs {
			if _, dup := seen[tickKey{symbol, e}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ticks (symbol, epoch, quote, pip_size, last_digit)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		err = batch.Append(t.Symbol, t.Epoch, t.Quote, uint8(t.PipSize), uint8(t.LastDigit()))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves ticks for a symbol within [start, end] (inclusive).
func (s *TickStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) (_ []*domain.Tick, err error) {
	began := time.Now()
	defer func() { observe("ticks_range", began, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT symbol, epoch, quote, pip_size
		FROM ticks
		WHERE symbol = ? AND epoch >= ? AND epoch <= ?
		ORDER BY epoch ASC
	`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

func (s *TickStore) epochs(ctx context.Context, symbol string, start, end int64) ([]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch FROM ticks
		WHERE symbol = ? AND epoch >= ? AND epoch <= ?
	`, symbol, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []int64
	for rows.Next() {
		var e int64
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

func scanTicks(rows chRows) ([]*domain.Tick, error) {
	var ticks []*domain.Tick

	for rows.Next() {
		var t domain.Tick
		var pip uint8
		if err := rows.Scan(&t.Symbol, &t.Epoch, &t.Quote, &pip); err != nil {
			return nil, fmt.Errorf("scan tick row: %w", err)
		}
		t.PipSize = int(pip)
		ticks = append(ticks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tick rows: %w", err)
	}
	return ticks, nil
}
