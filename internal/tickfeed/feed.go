// Package tickfeed keeps the rolling tick history and derives the signals
// the adaptive switching policy consumes.
package tickfeed

import (
	"math"
	"sync"

	"digit-trader/internal/domain"
)

// Defaults
const (
	DefaultCapacity  = 100
	VolatilityWindow = 20
	TrendWindow      = 10
)

// Signals are derived from the recent ticks.
type Signals struct {
	Volatility float64 // stddev / mean of the last 20 quotes, in percent
	Trend      float64 // mean(second half) - mean(first half) of the last 10 quotes
	LastDigit  int
	Samples    int
}

// Feed is a bounded tick history with subscriber fan-out.
type Feed struct {
	capacity int

	mu        sync.RWMutex
	ticks     []domain.Tick
	index     uint64
	lastEpoch map[string]int64
	subs      map[int]func(domain.Tick, uint64)
	nextSub   int
}

// New creates a feed holding up to capacity ticks (DefaultCapacity if <= 0).
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity:  capacity,
		lastEpoch: make(map[string]int64),
		subs:      make(map[int]func(domain.Tick, uint64)),
	}
}

// Push appends t and notifies subscribers with the new tick index. Samples
// not newer than the latest accepted epoch for the symbol are dropped.
func (f *Feed) Push(t domain.Tick) bool {
	f.mu.Lock()
	if last, ok := f.lastEpoch[t.Symbol]; ok && t.Epoch <= last {
		f.mu.Unlock()
		return false
	}
	f.lastEpoch[t.Symbol] = t.Epoch
	f.ticks = append(f.ticks, t)
	if len(f.ticks) > f.capacity {
		f.ticks = append(f.ticks[:0:0], f.ticks[len(f.ticks)-f.capacity:]...)
	}
	f.index++
	idx := f.index
	subs := make([]func(domain.Tick, uint64), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(t, idx)
	}
	return true
}

// Subscribe registers fn for every accepted tick. The returned function
// removes it.
func (f *Feed) Subscribe(fn func(t domain.Tick, index uint64)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Latest returns the most recent tick and its index.
func (f *Feed) Latest() (domain.Tick, uint64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.ticks) == 0 {
		return domain.Tick{}, 0, false
	}
	return f.ticks[len(f.ticks)-1], f.index, true
}

// Index returns the number of ticks accepted so far.
func (f *Feed) Index() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index
}

// History returns a copy of the retained ticks, oldest first.
func (f *Feed) History() []domain.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]domain.Tick(nil), f.ticks...)
}

// Len returns the number of retained ticks.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ticks)
}

// Reset clears history and the per-symbol epoch guard.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = nil
	f.lastEpoch = make(map[string]int64)
}

// Volatility is the sample standard deviation of the last 20 quotes over
// their mean, in percent. Zero with fewer than two samples.
func (f *Feed) Volatility() float64 {
	return volatility(f.quotes(VolatilityWindow))
}

// Trend is mean(second half) minus mean(first half) of the last 10 quotes.
func (f *Feed) Trend() float64 {
	return trend(f.quotes(TrendWindow))
}

// Signals bundles the derived signals.
func (f *Feed) Signals() Signals {
	f.mu.RLock()
	n := len(f.ticks)
	var last domain.Tick
	if n > 0 {
		last = f.ticks[n-1]
	}
	f.mu.RUnlock()

	s := Signals{
		Volatility: f.Volatility(),
		Trend:      f.Trend(),
		Samples:    n,
	}
	if n > 0 {
		s.LastDigit = last.LastDigit()
	}
	return s
}

func (f *Feed) quotes(n int) []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	start := len(f.ticks) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, len(f.ticks)-start)
	for _, t := range f.ticks[start:] {
		out = append(out, t.Quote)
	}
	return out
}

func volatility(q []float64) float64 {
	if len(q) < 2 {
		return 0
	}
	mean := mean(q)
	if mean == 0 {
		return 0
	}
	var ss float64
	for _, v := range q {
		d := v - mean
		ss += d * d
	}
	stddev := math.Sqrt(ss / float64(len(q)-1))
	return stddev / math.Abs(mean) * 100
}

func trend(q []float64) float64 {
	if len(q) < 2 {
		return 0
	}
	half := len(q) / 2
	return mean(q[half:]) - mean(q[:half])
}

func mean(q []float64) float64 {
	var sum float64
	for _, v := range q {
		sum += v
	}
	return sum / float64(len(q))
}
