package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	trade_id, session_id, created_at, strategy, market, contract_type,
	barrier, stake, duration_ticks, mode, group_id,
	entry_quote, entry_epoch, pip_size, exit_quote, exit_epoch,
	contract_id, transaction_id, buy_price, payout, sell_price,
	status, error, profit, settled_at`

// Upsert inserts the trade or overwrites a pending row. The WHERE clause on
// the conflict branch leaves terminal rows untouched.
func (s *TradeStore) Upsert(ctx context.Context, t *domain.Trade) (err error) {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("trades_upsert", start, err) }()

	query := `
		INSERT INTO trades (` + tradeColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23, $24, $25
		)
		ON CONFLICT (trade_id) DO UPDATE SET
			exit_quote = EXCLUDED.exit_quote,
			exit_epoch = EXCLUDED.exit_epoch,
			contract_id = EXCLUDED.contract_id,
			transaction_id = EXCLUDED.transaction_id,
			buy_price = EXCLUDED.buy_price,
			payout = EXCLUDED.payout,
			sell_price = EXCLUDED.sell_price,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			profit = EXCLUDED.profit,
			settled_at = EXCLUDED.settled_at
		WHERE trades.status = 'pending'
	`

	tag, err := s.pool.Exec(ctx, query, tradeArgs(t)...)
	if err != nil {
		return fmt.Errorf("upsert trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTerminalTrade
	}
	return nil
}

// GetByID retrieves a trade by its ID.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (_ *domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_get", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = $1`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
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
		WHERE session_id = $1
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
	rows, err := s.pool.Query(ctx, query, args...)
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
	var exitQuote *float64
	var exitEpoch *int64
	if t.ExitTick != nil {
		exitQuote = &t.ExitTick.Quote
		exitEpoch = &t.ExitTick.Epoch
	}
	return []any{
		t.ID, t.SessionID, t.CreatedAt.UTC(), string(t.Strategy), t.Market, string(t.ContractType),
		t.Barrier, t.Stake, t.Duration, string(t.Mode), t.GroupID,
		t.EntryTick.Quote, t.EntryTick.Epoch, t.EntryTick.PipSize, exitQuote, exitEpoch,
		t.ContractID, t.TransactionID, t.BuyPrice, t.Payout, t.SellPrice,
		string(t.Status), t.Error, t.Profit, t.SettledAt,
	}
}

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t                                domain.Trade
		strategy, contractType, mode, st string
		exitQuote                        *float64
		exitEpoch                        *int64
	)
	err := row.Scan(
		&t.ID, &t.SessionID, &t.CreatedAt, &strategy, &t.Market, &contractType,
		&t.Barrier, &t.Stake, &t.Duration, &mode, &t.GroupID,
		&t.EntryTick.Quote, &t.EntryTick.Epoch, &t.EntryTick.PipSize, &exitQuote, &exitEpoch,
		&t.ContractID, &t.TransactionID, &t.BuyPrice, &t.Payout, &t.SellPrice,
		&st, &t.Error, &t.Profit, &t.SettledAt,
	)
	if err != nil {
		return nil, err
	}

	t.Strategy = domain.Strategy(strategy)
	t.ContractType = domain.ContractType(contractType)
	t.Mode = domain.ExecutionMode(mode)
	t.Status = domain.TradeStatus(st)
	t.EntryTick.Symbol = t.Market
	if exitQuote != nil && exitEpoch != nil {
		t.ExitTick = &domain.Tick{
			Symbol:  t.Market,
			Quote:   *exitQuote,
			Epoch:   *exitEpoch,
			PipSize: t.EntryTick.PipSize,
		}
	}
	return &t, nil
}
