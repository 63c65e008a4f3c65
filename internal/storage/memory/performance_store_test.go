package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

func TestPerformanceStore_LatestPerStrategy(t *testing.T) {
	store := NewPerformanceStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	first := []*domain.PerformanceSnapshot{
		{SessionID: "s1", TakenAt: base, Strategy: domain.StrategyOdd, TotalTrades: 2, Wins: 1},
		{SessionID: "s1", TakenAt: base, Strategy: domain.StrategyEven, TotalTrades: 1},
	}
	second := []*domain.PerformanceSnapshot{
		{SessionID: "s1", TakenAt: base.Add(time.Minute), Strategy: domain.StrategyEven, TotalTrades: 4, Wins: 3},
		{SessionID: "s2", TakenAt: base.Add(time.Minute), Strategy: domain.StrategyEven, TotalTrades: 9},
	}
	if err := store.InsertSnapshot(ctx, first); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}
	if err := store.InsertSnapshot(ctx, second); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}

	got, err := store.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(got))
	}
	if got[0].Strategy != domain.StrategyEven || got[0].TotalTrades != 4 {
		t.Errorf("Even snapshot mismatch: %+v", got[0])
	}
	if got[1].Strategy != domain.StrategyOdd || got[1].TotalTrades != 2 {
		t.Errorf("Odd snapshot mismatch: %+v", got[1])
	}
}

func TestPerformanceStore_InvalidInput(t *testing.T) {
	store := NewPerformanceStore()
	err := store.InsertSnapshot(context.Background(), []*domain.PerformanceSnapshot{{SessionID: "s1"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
