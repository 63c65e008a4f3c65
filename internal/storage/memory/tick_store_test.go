package memory

import (
	"context"
	"errors"
	"testing"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

func TestTickStore_InsertBulkAndRange(t *testing.T) {
	store := NewTickStore()
	ctx := context.Background()

	ticks := []*domain.Tick{
		{Symbol: "R_100", Quote: 1234.52, Epoch: 1003, PipSize: 2},
		{Symbol: "R_100", Quote: 1234.50, Epoch: 1001, PipSize: 2},
		{Symbol: "R_100", Quote: 1234.51, Epoch: 1002, PipSize: 2},
		{Symbol: "R_50", Quote: 99.1, Epoch: 1002, PipSize: 4},
	}
	if err := store.InsertBulk(ctx, ticks); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, "R_100", 1001, 1002)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 ticks, got %d", len(got))
	}
	if got[0].Epoch != 1001 || got[1].Epoch != 1002 {
		t.Errorf("Ticks out of order: %d, %d", got[0].Epoch, got[1].Epoch)
	}
}

func TestTickStore_DuplicateFailsWholeBatch(t *testing.T) {
	store := NewTickStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Tick{{Symbol: "R_100", Epoch: 1}}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Tick{
		{Symbol: "R_100", Epoch: 2},
		{Symbol: "R_100", Epoch: 1},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByTimeRange(ctx, "R_100", 0, 10)
	if len(got) != 1 {
		t.Errorf("Batch was partially applied: %d ticks stored", len(got))
	}
}

func TestTickStore_DuplicateWithinBatch(t *testing.T) {
	store := NewTickStore()
	err := store.InsertBulk(context.Background(), []*domain.Tick{
		{Symbol: "R_100", Epoch: 5},
		{Symbol: "R_100", Epoch: 5},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}
