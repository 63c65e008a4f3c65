// Package executor turns trade intents into purchased contracts. Each path
// acquires a slot from a FIFO semaphore and holds it until the trade
// settles or fails.
package executor

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"digit-trader/internal/clock"
	"digit-trader/internal/deriv"
	"digit-trader/internal/domain"
	"digit-trader/internal/observability"
)

// Gateway sends requests over the authorized session.
type Gateway interface {
	Request(ctx context.Context, req deriv.Request) (deriv.Message, error)
	Dispatch(ctx context.Context, req deriv.Request) (*deriv.Pending, error)
}

// Tracker takes ownership of purchased trades until they settle.
type Tracker interface {
	Track(t *domain.Trade, fast bool) error
}

// Intent is one trade the caller wants placed.
type Intent struct {
	SessionID string
	Strategy  domain.Strategy
	Market    string
	Currency  string
	Stake     float64
	TickCount int
	Barrier   int
	Entry     domain.Tick

	// Wait, when set, also bounds the wait for a concurrency slot. Requests
	// already sent are not affected by it.
	Wait  context.Context
	// Admit runs once the slot is held and may revise the intent. An error
	// gives the slot back and no trade is created.
	Admit func(in *Intent) error
}

// Validate rejects intents before any network call.
func (in Intent) Validate() error {
	if in.Stake <= 0 {
		return fmt.Errorf("%w: %w: %.2f", ErrInvalidIntent, domain.ErrInvalidStake, in.Stake)
	}
	if in.Market == "" {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, domain.ErrMissingMarket)
	}
	if !in.Strategy.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidIntent, domain.ErrUnknownStrategy, in.Strategy)
	}
	return nil
}

// Config configures the executor.
type Config struct {
	MaxConcurrent int // standard ceiling; the fast path gets twice this
}

type slot struct {
	sem  *semaphore.Weighted
	legs int
}

// Executor submits trades and hands them to the tracker.
type Executor struct {
	gw      Gateway
	tracker Tracker
	clock   clock.Clock
	logger  *log.Logger

	std  *semaphore.Weighted
	fast *semaphore.Weighted

	onUpdate func(*domain.Trade)

	mu       sync.Mutex
	slots    map[string]*slot // by trade id
	inFlight int

	wg sync.WaitGroup
}

// New creates an executor.
func New(cfg Config, gw Gateway, tracker Tracker, c clock.Clock, logger *log.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		gw:      gw,
		tracker: tracker,
		clock:   c,
		logger:  logger,
		std:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		fast:    semaphore.NewWeighted(int64(2 * cfg.MaxConcurrent)),
		slots:   make(map[string]*slot),
	}
}

// OnUpdate registers a callback receiving a copy of the trade on creation,
// purchase and failure.
func (e *Executor) OnUpdate(fn func(*domain.Trade)) { e.onUpdate = fn }

// Execute requests a proposal, buys it and hands the trade to the tracker.
// The returned trade is a snapshot; on failure it carries status error.
func (e *Executor) Execute(ctx context.Context, in Intent) (*domain.Trade, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx, e.std, &in); err != nil {
		return nil, err
	}
	t := e.newTrade(in, domain.ModeStandard, "")
	e.hold(e.std, 1, t)
	e.emit(t.Clone())
	return e.submit(ctx, t, in.Currency)
}

// ExecuteFast dispatches a direct purchase and returns once it is written.
// The acknowledgement is awaited in the background, after which the trade
// is tracked on the fast confirmation schedule.
func (e *Executor) ExecuteFast(ctx context.Context, in Intent) (*domain.Trade, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx, e.fast, &in); err != nil {
		return nil, err
	}
	t := e.newTrade(in, domain.ModeFast, "")
	e.hold(e.fast, 1, t)
	e.emit(t.Clone())

	params, err := buyParameters(t, in.Currency)
	if err != nil {
		return e.fail(t, err)
	}
	p, err := e.gw.Dispatch(ctx, &deriv.BuyRequest{Buy: "1", Price: t.Stake, Parameters: params})
	if err != nil {
		return e.fail(t, err)
	}
	snap := t.Clone()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		msg, err := p.Wait(context.Background())
		if err != nil {
			e.fail(t, err)
			return
		}
		if _, err := e.purchased(t, msg, true); err != nil {
			e.logger.Printf("fast trade %s: %v", t.ID, err)
		}
	}()
	return snap, nil
}

// ExecuteStraddle places an Over and an Under leg on in.Barrier, each with
// half the stake, concurrently. Both legs share a group id and one
// concurrency slot. Legs complete independently; the first error is
// returned alongside both snapshots.
func (e *Executor) ExecuteStraddle(ctx context.Context, in Intent) ([]*domain.Trade, error) {
	in.Strategy = domain.StrategyOver
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx, e.std, &in); err != nil {
		return nil, err
	}

	group := uuid.NewString()
	half := StraddleStake(in.Stake)
	over, under := in, in
	over.Strategy, over.Stake = domain.StrategyOver, half
	under.Strategy, under.Stake = domain.StrategyUnder, half

	legs := []*domain.Trade{
		e.newTrade(over, domain.ModeStraddle, group),
		e.newTrade(under, domain.ModeStraddle, group),
	}
	e.hold(e.std, len(legs), legs...)
	for _, t := range legs {
		e.emit(t.Clone())
	}

	out := make([]*domain.Trade, len(legs))
	var g errgroup.Group
	for i, t := range legs {
		g.Go(func() error {
			snap, err := e.submit(ctx, t, in.Currency)
			out[i] = snap
			return err
		})
	}
	return out, g.Wait()
}

// acquire takes one slot of sem, then runs the intent's admission check.
// A wait ended by in.Wait returns ErrWithdrawn.
func (e *Executor) acquire(ctx context.Context, sem *semaphore.Weighted, in *Intent) error {
	wait := ctx
	if in.Wait != nil {
		var cancel context.CancelFunc
		wait, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(in.Wait, cancel)
		defer stop()
	}
	if err := sem.Acquire(wait, 1); err != nil {
		if ctx.Err() == nil {
			return ErrWithdrawn
		}
		return err
	}
	if in.Admit == nil {
		return nil
	}
	err := in.Admit(in)
	if err == nil {
		err = in.Validate()
	}
	if err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

// StraddleStake is half the stake rounded to cents, at least MinStake.
func StraddleStake(stake float64) float64 {
	half := decimal.NewFromFloat(stake).Div(decimal.NewFromInt(2)).Round(2)
	return decimal.Max(half, decimal.NewFromFloat(domain.MinStake)).InexactFloat64()
}

// submit runs proposal then buy for t. t is handed to the tracker on
// success and must not be touched afterwards.
func (e *Executor) submit(ctx context.Context, t *domain.Trade, currency string) (*domain.Trade, error) {
	ct, err := domain.ContractTypeFor(t.Strategy)
	if err != nil {
		return e.fail(t, err)
	}
	req := &deriv.ProposalRequest{
		Proposal:     1,
		Amount:       t.Stake,
		Basis:        "stake",
		ContractType: string(ct),
		Currency:     currency,
		Duration:     t.Duration,
		DurationUnit: "t",
		Symbol:       t.Market,
	}
	if t.Barrier != nil {
		req.Barrier = strconv.Itoa(*t.Barrier)
	}

	msg, err := e.gw.Request(ctx, req)
	if err != nil {
		return e.fail(t, err)
	}
	prop, ok := msg.(*deriv.ProposalMessage)
	if !ok {
		return e.fail(t, fmt.Errorf("%w: %s to proposal", ErrUnexpectedReply, msg.Type()))
	}

	msg, err = e.gw.Request(ctx, &deriv.BuyRequest{Buy: prop.Proposal.ID, Price: float64(prop.Proposal.AskPrice)})
	if err != nil {
		return e.fail(t, err)
	}
	return e.purchased(t, msg, false)
}

// purchased applies a buy acknowledgement and starts settlement tracking.
func (e *Executor) purchased(t *domain.Trade, msg deriv.Message, fast bool) (*domain.Trade, error) {
	ack, ok := msg.(*deriv.BuyMessage)
	if !ok {
		return e.fail(t, fmt.Errorf("%w: %s to buy", ErrUnexpectedReply, msg.Type()))
	}
	err := t.MarkPurchased(string(ack.Buy.ContractID), string(ack.Buy.TransactionID),
		float64(ack.Buy.BuyPrice), float64(ack.Buy.Payout))
	if err != nil {
		return e.fail(t, err)
	}
	observability.RecordTradeSubmitted(t.Stake)

	snap := t.Clone()
	e.emit(t.Clone())
	if err := e.tracker.Track(t, fast); err != nil {
		return e.fail(t, fmt.Errorf("track %s: %w", snap.ContractID, err))
	}
	e.watch(snap.ContractID)
	return snap, nil
}

// watch subscribes to pushed status updates for a contract. Polling covers
// the contract if this fails.
func (e *Executor) watch(contractID string) {
	req := deriv.NewOpenContract(contractID)
	req.Subscribe = 1
	if _, err := e.gw.Dispatch(context.Background(), req); err != nil {
		e.logger.Printf("subscribe contract %s: %v", contractID, err)
	}
}

func (e *Executor) fail(t *domain.Trade, cause error) (*domain.Trade, error) {
	cat, msg := Classify(cause)
	if err := t.Fail(domain.StatusError, msg, e.clock.Now()); err != nil {
		return t.Clone(), err
	}
	observability.RecordTradeTerminal(string(t.Strategy), string(domain.StatusError))
	e.logger.Printf("trade %s (%s) failed [%s]: %s", t.ID, t.Strategy, cat, msg)

	// The slot stays held until the update has been handled.
	snap := t.Clone()
	e.emit(snap.Clone())
	e.Release(t.ID)
	return snap, fmt.Errorf("trade %s: %w", t.ID, cause)
}

func (e *Executor) newTrade(in Intent, mode domain.ExecutionMode, group string) *domain.Trade {
	ct, _ := domain.ContractTypeFor(in.Strategy)
	t := &domain.Trade{
		ID:           uuid.NewString(),
		SessionID:    in.SessionID,
		CreatedAt:    e.clock.Now(),
		Strategy:     in.Strategy,
		Market:       in.Market,
		ContractType: ct,
		Stake:        in.Stake,
		Duration:     in.TickCount,
		Mode:         mode,
		GroupID:      group,
		EntryTick:    in.Entry,
		Status:       domain.StatusPending,
	}
	if t.Duration <= 0 {
		t.Duration = 1
	}
	if in.Strategy.UsesBarrier() {
		b := in.Barrier
		t.Barrier = &b
	}
	return t
}

func buyParameters(t *domain.Trade, currency string) (*deriv.BuyParameters, error) {
	ct, err := domain.ContractTypeFor(t.Strategy)
	if err != nil {
		return nil, err
	}
	p := &deriv.BuyParameters{
		Amount:       t.Stake,
		Basis:        "stake",
		ContractType: string(ct),
		Currency:     currency,
		Duration:     t.Duration,
		DurationUnit: "t",
		Symbol:       t.Market,
	}
	if t.Barrier != nil {
		p.Barrier = strconv.Itoa(*t.Barrier)
	}
	return p, nil
}

// hold records that the trades share one acquired slot of sem, released
// once every one of them has been released.
func (e *Executor) hold(sem *semaphore.Weighted, legs int, trades ...*domain.Trade) {
	s := &slot{sem: sem, legs: legs}
	e.mu.Lock()
	for _, t := range trades {
		e.slots[t.ID] = s
	}
	e.inFlight++
	n := e.inFlight
	e.mu.Unlock()
	observability.UpdateInFlight(n)
}

// Release frees the trade's share of its concurrency slot. Called on
// settlement; unknown or already released ids are ignored.
func (e *Executor) Release(tradeID string) {
	e.mu.Lock()
	s, ok := e.slots[tradeID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.slots, tradeID)
	s.legs--
	if s.legs == 0 {
		s.sem.Release(1)
		e.inFlight--
	}
	n := e.inFlight
	e.mu.Unlock()
	observability.UpdateInFlight(n)
}

// InFlight returns the number of held slots. A straddle counts once.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Wait blocks until every background confirmation has finished.
func (e *Executor) Wait() { e.wg.Wait() }

func (e *Executor) emit(t *domain.Trade) {
	if e.onUpdate != nil {
		e.onUpdate(t)
	}
}
