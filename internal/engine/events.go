package engine

import (
	"sort"
	"sync"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/risk"
	"digit-trader/internal/session"
)

// EventType identifies what an Event carries.
type EventType string

// Event types
const (
	EventTick   EventType = "tick"
	EventTrade  EventType = "trade"
	EventStatus EventType = "status"
	EventError  EventType = "error"
	EventReset  EventType = "reset"
	EventSwitch EventType = "switch"
)

// Event is delivered to subscribers. Payloads are copies.
type Event struct {
	Type   EventType
	Time   time.Time
	Tick   *domain.Tick
	Trade  *domain.Trade
	Status *Status
	Switch *domain.SwitchEvent
	Err    error
}

// Status is the engine state at a point in time.
type Status struct {
	Running    bool
	SessionID  string
	Connection session.State
	Strategy   domain.Strategy
	StopReason string
	Balance    float64
	InFlight   int
	Risk       risk.Snapshot
}

// bus fans events out to subscribers in subscription order. Handlers run on
// the emitting goroutine and must not block.
type bus struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

func newBus() *bus {
	return &bus{subs: make(map[int]func(Event))}
}

func (b *bus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *bus) emit(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
