package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// TradeStore implements storage.TradeStore on SQLite.
type TradeStore struct {
	db *DB
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	trade_id, session_id, created_at, strategy, market, contract_type,
	barrier, stake, duration_ticks, mode, group_id,
	entry_quote, entry_epoch, pip_size, exit_quote, exit_epoch,
	contract_id, transaction_id, buy_price, payout, sell_price,
	status, error, profit, settled_at`

// Upsert inserts the trade or overwrites a pending row.
func (s *TradeStore) Upsert(ctx context.Context, t *domain.Trade) (err error) {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("trades_upsert", start, err) }()

	query := `
		INSERT INTO trades (` + tradeColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			exit_quote = excluded.exit_quote,
			exit_epoch = excluded.exit_epoch,
			contract_id = excluded.contract_id,
			transaction_id = excluded.transaction_id,
			buy_price = excluded.buy_price,
			payout = excluded.payout,
			sell_price = excluded.sell_price,
			status = excluded.status,
			error = excluded.error,
			profit = excluded.profit,
			settled_at = excluded.settled_at
		WHERE trades.status = 'pending'
	`

	res, err := s.db.ExecContext(ctx, query, tradeArgs(t)...)
	if err != nil {
		return fmt.Errorf("upsert trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert trade: %w", err)
	}
	if n == 0 {
		return storage.ErrTerminalTrade
	}
	return nil
}

// GetByID retrieves a trade by its ID.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (_ *domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_get", start, err) }()

	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// ListBySession retrieves all trades of a session, ordered by created_at ASC.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string) (_ []*domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_list_session", start, err) }()

	return s.list(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE session_id = ?
		ORDER BY created_at ASC, trade_id ASC
	`, sessionID)
}

// ListPending retrieves every pending trade, oldest first.
func (s *TradeStore) ListPending(ctx context.Context) (_ []*domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_list_pending", start, err) }()

	return s.list(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status = 'pending'
		ORDER BY created_at ASC, trade_id ASC
	`)
}

func (s *TradeStore) list(ctx context.Context, query string, args ...any) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}

func tradeArgs(t *domain.Trade) []any {
	var exitQuote sql.NullFloat64
	var exitEpoch sql.NullInt64
	if t.ExitTick != nil {
		exitQuote = sql.NullFloat64{Float64: t.ExitTick.Quote, Valid: true}
		exitEpoch = sql.NullInt64{Int64: t.ExitTick.Epoch, Valid: true}
	}
	var barrier sql.NullInt64
	if t.Barrier != nil {
		barrier = sql.NullInt64{Int64: int64(*t.Barrier), Valid: true}
	}
	var settledAt sql.NullInt64
	if t.SettledAt != nil {
		settledAt = sql.NullInt64{Int64: unixNano(*t.SettledAt), Valid: true}
	}
	return []any{
		t.ID, t.SessionID, unixNano(t.CreatedAt), string(t.Strategy), t.Market, string(t.ContractType),
		barrier, t.Stake, t.Duration, string(t.Mode), t.GroupID,
		t.EntryTick.Quote, t.EntryTick.Epoch, t.EntryTick.PipSize, exitQuote, exitEpoch,
		t.ContractID, t.TransactionID, nullFloat(t.BuyPrice), nullFloat(t.Payout), nullFloat(t.SellPrice),
		string(t.Status), t.Error, nullFloat(t.Profit), settledAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var (
		t                                 domain.Trade
		createdAt                         int64
		strategy, contractType, mode, st  string
		barrier, exitEpoch, settledAt     sql.NullInt64
		exitQuote, buy, payout, sell, pnl sql.NullFloat64
	)
	err := row.Scan(
		&t.ID, &t.SessionID, &createdAt, &strategy, &t.Market, &contractType,
		&barrier, &t.Stake, &t.Duration, &mode, &t.GroupID,
		&t.EntryTick.Quote, &t.EntryTick.Epoch, &t.EntryTick.PipSize, &exitQuote, &exitEpoch,
		&t.ContractID, &t.TransactionID, &buy, &payout, &sell,
		&st, &t.Error, &pnl, &settledAt,
	)
	if err != nil {
		return nil, err
	}

	t.CreatedAt = fromUnixNano(createdAt)
	t.Strategy = domain.Strategy(strategy)
	t.ContractType = domain.ContractType(contractType)
	t.Mode = domain.ExecutionMode(mode)
	t.Status = domain.TradeStatus(st)
	t.EntryTick.Symbol = t.Market
	if barrier.Valid {
		b := int(barrier.Int64)
		t.Barrier = &b
	}
	if exitQuote.Valid && exitEpoch.Valid {
		t.ExitTick = &domain.Tick{
			Symbol:  t.Market,
			Quote:   exitQuote.Float64,
			Epoch:   exitEpoch.Int64,
			PipSize: t.EntryTick.PipSize,
		}
	}
	t.BuyPrice = floatPtr(buy)
	t.Payout = floatPtr(payout)
	t.SellPrice = floatPtr(sell)
	t.Profit = floatPtr(pnl)
	if settledAt.Valid {
		at := fromUnixNano(settledAt.Int64)
		t.SettledAt = &at
	}
	return &t, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
