package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// Stores are the optional persistence targets. Nil stores are skipped.
type Stores struct {
	Trades      storage.TradeStore
	Switches    storage.SwitchEventStore
	Ticks       storage.TickStore
	Performance storage.PerformanceStore
}

// Persistence tuning.
const (
	persistQueue   = 1024
	persistTimeout = 10 * time.Second
	TickBatchSize  = 50
)

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// persister writes to the stores on one goroutine so that store latency
// never stalls message handling. Failures are logged and dropped.
type persister struct {
	stores Stores
	logger *log.Logger

	mu     sync.Mutex
	jobs   chan job
	closed bool
	ticks  []*domain.Tick

	wg sync.WaitGroup
}

func newPersister(stores Stores, logger *log.Logger) *persister {
	p := &persister{
		stores: stores,
		logger: logger,
		jobs:   make(chan job, persistQueue),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *persister) run() {
	defer p.wg.Done()
	for j := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := j.fn(ctx)
		cancel()
		if err != nil && !errors.Is(err, storage.ErrTerminalTrade) {
			p.logger.Printf("persist %s: %v", j.name, err)
		}
	}
}

func (p *persister) enqueue(name string, fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueueLocked(name, fn)
}

func (p *persister) enqueueLocked(name string, fn func(ctx context.Context) error) {
	if p.closed {
		return
	}
	select {
	case p.jobs <- job{name: name, fn: fn}:
	default:
		p.logger.Printf("persist queue full, dropping %s", name)
	}
}

func (p *persister) trade(t *domain.Trade) {
	if p.stores.Trades == nil {
		return
	}
	p.enqueue("trade "+t.ID, func(ctx context.Context) error {
		return p.stores.Trades.Upsert(ctx, t)
	})
}

func (p *persister) switchEvent(ev *domain.SwitchEvent) {
	if p.stores.Switches == nil {
		return
	}
	p.enqueue("switch event", func(ctx context.Context) error {
		return p.stores.Switches.Append(ctx, ev)
	})
}

func (p *persister) snapshots(snaps []*domain.PerformanceSnapshot) {
	if p.stores.Performance == nil || len(snaps) == 0 {
		return
	}
	p.enqueue("performance snapshot", func(ctx context.Context) error {
		return p.stores.Performance.InsertSnapshot(ctx, snaps)
	})
}

// tick buffers t and flushes a full batch.
func (p *persister) tick(t domain.Tick) {
	if p.stores.Ticks == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, &t)
	if len(p.ticks) >= TickBatchSize {
		p.flushTicksLocked()
	}
}

func (p *persister) flushTicks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushTicksLocked()
}

func (p *persister) flushTicksLocked() {
	if len(p.ticks) == 0 || p.stores.Ticks == nil {
		return
	}
	batch := p.ticks
	p.ticks = nil
	p.enqueueLocked("tick batch", func(ctx context.Context) error {
		return p.stores.Ticks.InsertBulk(ctx, batch)
	})
}

// close flushes buffered ticks and waits for queued writes.
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.flushTicksLocked()
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
