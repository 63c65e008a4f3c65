package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

func TestPerformanceStore_Latest(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPerformanceStore(conn)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertSnapshot(ctx, []*domain.PerformanceSnapshot{
		{SessionID: "s1", TakenAt: t0, Strategy: domain.StrategyEven, TotalTrades: 2, Wins: 1, Losses: 1, WinRate: 0.5},
		{SessionID: "s1", TakenAt: t0, Strategy: domain.StrategyOdd, TotalTrades: 1, Wins: 1, WinRate: 1},
	}))
	require.NoError(t, store.InsertSnapshot(ctx, []*domain.PerformanceSnapshot{
		{SessionID: "s1", TakenAt: t0.Add(time.Minute), Strategy: domain.StrategyEven, TotalTrades: 4, Wins: 3, Losses: 1, WinRate: 0.75, TotalProfit: 1.85},
		{SessionID: "s2", TakenAt: t0.Add(time.Hour), Strategy: domain.StrategyEven, TotalTrades: 9},
	}))

	got, err := store.Latest(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StrategyEven, got[0].Strategy)
	assert.Equal(t, 4, got[0].TotalTrades)
	assert.InDelta(t, 1.85, got[0].TotalProfit, 1e-9)
	assert.True(t, got[0].TakenAt.Equal(t0.Add(time.Minute)))
	assert.Equal(t, domain.StrategyOdd, got[1].Strategy)
	assert.Equal(t, 1, got[1].Wins)
}

func TestPerformanceStore_InsertInvalid(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewPerformanceStore(conn).InsertSnapshot(context.Background(), []*domain.PerformanceSnapshot{{SessionID: "s1"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
