package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

func TestSwitchEventStore_AppendAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwitchEventStore(pool)

	events := []*domain.SwitchEvent{
		{SessionID: "session-1", Timestamp: baseTime.Add(time.Minute), From: domain.StrategyOdd, To: domain.StrategyOver, Reason: "loss_threshold", ConsecutiveLosses: 3},
		{SessionID: "session-1", Timestamp: baseTime, From: domain.StrategyEven, To: domain.StrategyOdd, Reason: "loss_threshold", ConsecutiveLosses: 2},
		{SessionID: "session-2", Timestamp: baseTime, From: domain.StrategyEven, To: domain.StrategyUnder, Reason: "manual"},
	}
	for _, ev := range events {
		require.NoError(t, store.Append(ctx, ev))
	}

	got, err := store.ListBySession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StrategyEven, got[0].From)
	assert.Equal(t, domain.StrategyOdd, got[0].To)
	assert.Equal(t, 2, got[0].ConsecutiveLosses)
	assert.Equal(t, domain.StrategyOver, got[1].To)
	assert.True(t, got[1].Timestamp.Equal(baseTime.Add(time.Minute)))
}

func TestSwitchEventStore_AppendInvalid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewSwitchEventStore(pool).Append(context.Background(), &domain.SwitchEvent{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
