package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

func TestTradeStore_UpsertAndGetByID(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore(openTestDB(t))

	trade := createTestTrade("trade-001", "session-1", 0)
	require.NoError(t, store.Upsert(ctx, trade))

	got, err := store.GetByID(ctx, "trade-001")
	require.NoError(t, err)
	assert.Equal(t, "session-1", got.SessionID)
	assert.True(t, got.CreatedAt.Equal(trade.CreatedAt))
	assert.Equal(t, domain.StrategyOver, got.Strategy)
	require.NotNil(t, got.Barrier)
	assert.Equal(t, 4, *got.Barrier)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "R_100", got.EntryTick.Symbol)
	assert.Nil(t, got.ExitTick)
	assert.Nil(t, got.Profit)
	assert.Nil(t, got.BuyPrice)
	assert.Nil(t, got.SettledAt)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_UpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore(openTestDB(t))

	trade := createTestTrade("trade-001", "session-1", 0)
	require.NoError(t, store.Upsert(ctx, trade))
	require.NoError(t, trade.MarkPurchased("1001", "2001", 1, 1.95))
	require.NoError(t, store.Upsert(ctx, trade))

	exit := &domain.Tick{Symbol: "R_100", Quote: 1234.57, Epoch: baseTime.Unix() + 2, PipSize: 2}
	sell := 1.95
	require.NoError(t, trade.Settle(domain.StatusWon, 0.95, exit, &sell, baseTime.Add(2*time.Second)))
	require.NoError(t, store.Upsert(ctx, trade))

	got, err := store.GetByID(ctx, "trade-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWon, got.Status)
	assert.Equal(t, "1001", got.ContractID)
	require.NotNil(t, got.BuyPrice)
	assert.Equal(t, 1.0, *got.BuyPrice)
	require.NotNil(t, got.Profit)
	assert.InDelta(t, 0.95, *got.Profit, 1e-9)
	require.NotNil(t, got.ExitTick)
	assert.Equal(t, 7, got.ExitTick.LastDigit())
	require.NotNil(t, got.SettledAt)
	assert.True(t, got.SettledAt.Equal(baseTime.Add(2*time.Second)))

	err = store.Upsert(ctx, createTestTrade("trade-001", "session-1", 0))
	assert.ErrorIs(t, err, storage.ErrTerminalTrade)

	got, err = store.GetByID(ctx, "trade-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWon, got.Status)
}

func TestTradeStore_UpsertInvalid(t *testing.T) {
	store := NewTradeStore(openTestDB(t))
	assert.ErrorIs(t, store.Upsert(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Upsert(context.Background(), &domain.Trade{}), storage.ErrInvalidInput)
}

func TestTradeStore_ListBySessionAndPending(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore(openTestDB(t))

	t3 := createTestTrade("trade-003", "session-1", 3*time.Second)
	t1 := createTestTrade("trade-001", "session-1", time.Second)
	t2 := createTestTrade("trade-002", "session-1", 2*time.Second)
	other := createTestTrade("trade-100", "session-2", 0)
	for _, tr := range []*domain.Trade{t3, t1, t2, other} {
		require.NoError(t, store.Upsert(ctx, tr))
	}
	require.NoError(t, t1.Fail(domain.StatusError, "buy rejected", baseTime.Add(time.Second)))
	require.NoError(t, store.Upsert(ctx, t1))

	trades, err := store.ListBySession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, []string{"trade-001", "trade-002", "trade-003"}, ids(trades))
	assert.Equal(t, domain.StatusError, trades[0].Status)
	assert.Equal(t, "buy rejected", trades[0].Error)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"trade-100", "trade-002", "trade-003"}, ids(pending))
}

func ids(trades []*domain.Trade) []string {
	out := make([]string, len(trades))
	for i, t := range trades {
		out[i] = t.ID
	}
	return out
}
