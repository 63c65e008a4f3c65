package tickfeed

import (
	"math"
	"testing"

	"digit-trader/internal/domain"
)

func tick(epoch int64, quote float64) domain.Tick {
	return domain.Tick{Symbol: "R_100", Quote: quote, Epoch: epoch, PipSize: 2}
}

func TestFeed_BoundedHistory(t *testing.T) {
	f := New(0)
	for i := int64(1); i <= 150; i++ {
		f.Push(tick(i, float64(i)))
	}
	if f.Len() != DefaultCapacity {
		t.Fatalf("len = %d, want %d", f.Len(), DefaultCapacity)
	}
	h := f.History()
	if h[0].Epoch != 51 || h[len(h)-1].Epoch != 150 {
		t.Errorf("history spans %d..%d, want 51..150", h[0].Epoch, h[len(h)-1].Epoch)
	}
	if f.Index() != 150 {
		t.Errorf("index = %d, want 150", f.Index())
	}
}

func TestFeed_RejectsStaleAndDuplicateEpochs(t *testing.T) {
	f := New(10)
	var calls int
	f.Subscribe(func(domain.Tick, uint64) { calls++ })

	if !f.Push(tick(100, 1.01)) {
		t.Fatal("first tick rejected")
	}
	if f.Push(tick(100, 1.01)) {
		t.Error("duplicate epoch accepted")
	}
	if f.Push(tick(99, 1.00)) {
		t.Error("older epoch accepted")
	}
	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}

	// Other symbols keep their own guard.
	other := domain.Tick{Symbol: "R_50", Quote: 2, Epoch: 50}
	if !f.Push(other) {
		t.Error("tick for another symbol rejected")
	}
}

func TestFeed_SubscribeReceivesIndex(t *testing.T) {
	f := New(10)
	var idx []uint64
	unsub := f.Subscribe(func(_ domain.Tick, i uint64) { idx = append(idx, i) })

	f.Push(tick(1, 1))
	f.Push(tick(2, 1))
	unsub()
	f.Push(tick(3, 1))

	if len(idx) != 2 || idx[0] != 1 || idx[1] != 2 {
		t.Errorf("indices = %v, want [1 2]", idx)
	}
}

func TestFeed_Volatility(t *testing.T) {
	f := New(0)
	if f.Volatility() != 0 {
		t.Error("volatility of empty feed should be 0")
	}

	// 100, 102 alternating: mean 101, sample stddev over 20 points.
	for i := int64(0); i < 20; i++ {
		q := 100.0
		if i%2 == 1 {
			q = 102
		}
		f.Push(tick(i+1, q))
	}
	sd := math.Sqrt(20.0 / 19.0) // each deviation is 1
	want := sd / 101 * 100
	if got := f.Volatility(); math.Abs(got-want) > 1e-9 {
		t.Errorf("volatility = %v, want %v", got, want)
	}
}

func TestFeed_Trend(t *testing.T) {
	f := New(0)
	for i := int64(1); i <= 10; i++ {
		f.Push(tick(i, float64(i)))
	}
	// first half 1..5 mean 3, second half 6..10 mean 8
	if got := f.Trend(); got != 5 {
		t.Errorf("trend = %v, want 5", got)
	}
}

func TestFeed_Signals(t *testing.T) {
	f := New(0)
	f.Push(tick(1, 1234.56))
	s := f.Signals()
	if s.LastDigit != 6 || s.Samples != 1 {
		t.Errorf("signals = %+v", s)
	}
	if s.Volatility != 0 || s.Trend != 0 {
		t.Errorf("single sample should have no volatility or trend: %+v", s)
	}
}
