// Package engine is the caller-facing trading session. It wires the session
// manager, tick feed, executor, reconciler, risk and switch controllers
// together and keeps the trade ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"digit-trader/internal/clock"
	"digit-trader/internal/deriv"
	"digit-trader/internal/domain"
	"digit-trader/internal/executor"
	"digit-trader/internal/metrics"
	"digit-trader/internal/observability"
	"digit-trader/internal/reconcile"
	"digit-trader/internal/risk"
	"digit-trader/internal/session"
	"digit-trader/internal/switching"
	"digit-trader/internal/tickfeed"
)

// Engine errors.
var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrNotAuthorized  = errors.New("session not authorized")
	ErrRunning        = errors.New("engine is running")
	ErrNotRunning     = errors.New("engine is not running")
	ErrNoTick         = errors.New("no tick received yet")
	ErrDuplicateTick  = errors.New("tick index has not advanced since the last trade")
	ErrClosed         = errors.New("engine closed")
)

// Stop reasons set by the engine itself.
const (
	StopByCaller      = "stopped by caller"
	StopSessionFailed = "session failed"
)

// Session is the connection surface the engine drives.
type Session interface {
	Authorized() bool
	State() session.State
	Request(ctx context.Context, req deriv.Request) (deriv.Message, error)
	Dispatch(ctx context.Context, req deriv.Request) (*deriv.Pending, error)
	Subscribe(ctx context.Context, typ domain.SubscriptionType, req deriv.Request) (*session.Subscription, deriv.Message, error)
	Unsubscribe(key int64)
	OnMessage(fn func(deriv.Message))
	OnState(fn func(session.State))
	OnError(fn func(error))
}

// Options configures an engine.
type Options struct {
	Reconcile    reconcile.Config
	TickCapacity int
	Stores       Stores
	Clock        clock.Clock
	Logger       *log.Logger
}

// straddle tracks the legs of one group until all are terminal.
type straddle struct {
	legs    int
	settled int
	profit  float64
}

// Engine is one trading session.
type Engine struct {
	sess    Session
	clock   clock.Clock
	logger  *log.Logger
	recon   *reconcile.Reconciler
	persist *persister
	events  *bus
	feed    *tickfeed.Feed

	mu          sync.Mutex
	cfg         domain.TradeConfig
	initialized bool
	running     bool
	closed      bool
	sessionID   string
	stopReason  string
	balance     float64

	risk     *risk.Controller
	switcher *switching.Controller
	exec     *executor.Executor
	retired  []*executor.Executor // earlier sessions; may still hold open trades

	ledger     []*domain.Trade
	byID       map[string]int
	groups     map[string]*straddle
	lastIndex  uint64
	hasTraded  bool
	submitting int
	queued     int // trades waiting for a concurrency slot
	switchDue  bool

	// run is cancelled by halt; it withdraws trades still waiting for a slot.
	run       context.Context
	cancelRun context.CancelFunc

	tickSub    *session.Subscription
	balanceSub *session.Subscription

	wg sync.WaitGroup
}

// New creates an engine bound to sess and registers its message handlers.
func New(sess Session, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	e := &Engine{
		sess:    sess,
		clock:   opts.Clock,
		logger:  opts.Logger,
		persist: newPersister(opts.Stores, opts.Logger),
		events:  newBus(),
		feed:    tickfeed.New(opts.TickCapacity),
		byID:    make(map[string]int),
		groups:  make(map[string]*straddle),
	}
	e.recon = reconcile.New(opts.Reconcile, opts.Clock, reconcile.NewSessionChecker(sess), opts.Logger)
	e.recon.OnSettled(e.onSettled)
	e.feed.Subscribe(e.onTick)

	sess.OnMessage(e.handleMessage)
	sess.OnState(e.onSessionState)
	sess.OnError(func(err error) {
		e.events.emit(Event{Type: EventError, Time: e.clock.Now(), Err: err})
	})
	return e
}

// Initialize applies a trade configuration and starts a fresh session
// ledger. Refused while running.
func (e *Engine) Initialize(cfg domain.TradeConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	if e.tickSub != nil && e.cfg.Market != cfg.Market {
		e.sess.Unsubscribe(e.tickSub.Key)
		e.tickSub = nil
		e.feed.Reset()
	}
	e.cfg = cfg
	e.resetLocked()
	e.initialized = true
	e.mu.Unlock()

	e.logger.Printf("initialized: %s on %s, base stake %.2f, mode %s", cfg.Strategy, cfg.Market, cfg.BaseStake, cfg.Mode)
	e.emitStatus()
	return nil
}

// resetLocked rebuilds the per-session components from e.cfg.
func (e *Engine) resetLocked() {
	e.sessionID = uuid.NewString()
	e.risk = risk.New(e.cfg)
	e.switcher = switching.New(e.cfg, e.clock)
	e.switcher.SetSessionID(e.sessionID)
	e.switcher.OnSwitch(e.onSwitch)

	if e.exec != nil {
		e.retired = append(e.retired, e.exec)
	}
	e.exec = executor.New(executor.Config{MaxConcurrent: e.cfg.MaxConcurrentTrades}, e.sess, e.recon, e.clock, e.logger)
	e.exec.OnUpdate(e.onTradeUpdate)

	e.ledger = nil
	e.byID = make(map[string]int)
	e.groups = make(map[string]*straddle)
	e.hasTraded = false
	e.lastIndex = 0
	e.switchDue = false
	e.stopReason = ""
	observability.UpdateRiskState(0, 0)
}

// Start subscribes to the configured market's ticks and the account
// balance, then trades on every new tick. The session must already be
// authorized; authorization is never retried here.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case !e.initialized:
		e.mu.Unlock()
		return ErrNotInitialized
	case e.running:
		e.mu.Unlock()
		return ErrRunning
	}
	market := e.cfg.Market
	needTicks := e.tickSub == nil
	needBalance := e.balanceSub == nil
	e.mu.Unlock()

	if !e.sess.Authorized() {
		return ErrNotAuthorized
	}

	if needTicks {
		sub, _, err := e.sess.Subscribe(ctx, domain.SubscriptionTicks, deriv.NewTicks(market))
		if err != nil {
			return fmt.Errorf("subscribe ticks %s: %w", market, err)
		}
		e.mu.Lock()
		e.tickSub = sub
		e.mu.Unlock()
	}
	if needBalance {
		sub, _, err := e.sess.Subscribe(ctx, domain.SubscriptionBalance, deriv.NewBalance(true))
		if err != nil {
			// Balance is informational; trading proceeds without it.
			e.logger.Printf("subscribe balance: %v", err)
		} else {
			e.mu.Lock()
			e.balanceSub = sub
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	e.running = true
	e.stopReason = ""
	e.run, e.cancelRun = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.logger.Printf("started session %s", e.SessionID())
	e.emitStatus()
	return nil
}

// Stop halts trade submission and tick evaluation. Trades still waiting
// for a slot are withdrawn; open contracts keep being reconciled.
func (e *Engine) Stop() {
	e.halt(StopByCaller)
}

func (e *Engine) halt(reason string) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stopReason = reason
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.mu.Unlock()

	e.persist.flushTicks()
	e.logger.Printf("stopped: %s", reason)
	e.emitStatus()
}

// Running reports whether the engine trades on new ticks.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SessionID returns the current session id.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// ManualContractSwitch switches to target, or lets the policy choose when
// target is empty. Cooldown and budget apply.
func (e *Engine) ManualContractSwitch(target domain.Strategy) (*domain.SwitchEvent, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	sw, rk := e.switcher, e.risk
	e.mu.Unlock()
	return sw.Manual(target, rk.ConsecutiveLosses(), e.feed.Signals())
}

// ContractSwitchingStats returns the switch controller state.
func (e *Engine) ContractSwitchingStats() switching.Stats {
	e.mu.Lock()
	sw := e.switcher
	e.mu.Unlock()
	if sw == nil {
		return switching.Stats{}
	}
	return sw.Stats()
}

// ContractPerformance returns the aggregate for one strategy.
func (e *Engine) ContractPerformance(s domain.Strategy) (domain.ContractTypePerformance, bool) {
	e.mu.Lock()
	sw := e.switcher
	e.mu.Unlock()
	if sw == nil {
		return domain.ContractTypePerformance{}, false
	}
	return sw.Performance(s)
}

// PerformanceSnapshots captures every strategy's aggregate now.
func (e *Engine) PerformanceSnapshots() []*domain.PerformanceSnapshot {
	e.mu.Lock()
	sw, id, window := e.switcher, e.sessionID, domain.MaxPerformanceWindow
	if e.cfg.Switching != nil {
		window = e.cfg.Switching.PerformanceWindow
	}
	e.mu.Unlock()
	if sw == nil {
		return nil
	}

	now := e.clock.Now()
	perf := sw.AllPerformance()
	out := make([]*domain.PerformanceSnapshot, 0, len(perf))
	for i := range perf {
		p := perf[i]
		recent, _ := p.RecentWinRate(window)
		out = append(out, &domain.PerformanceSnapshot{
			SessionID:   id,
			TakenAt:     now,
			Strategy:    p.Strategy,
			TotalTrades: p.TotalTrades,
			Wins:        p.Wins,
			Losses:      p.Losses,
			WinRate:     p.WinRate,
			TotalProfit: p.TotalProfit,
			RecentRate:  recent,
		})
	}
	return out
}

// SnapshotPerformance persists the current performance snapshots.
func (e *Engine) SnapshotPerformance() int {
	snaps := e.PerformanceSnapshots()
	e.persist.snapshots(snaps)
	return len(snaps)
}

// ResetSession clears the ledger, streaks, performance and switch history
// and starts a new session id. Refused while running. Contracts still open
// from the previous session settle into the store only.
func (e *Engine) ResetSession() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	e.resetLocked()
	id := e.sessionID
	e.mu.Unlock()

	e.logger.Printf("session reset, new session %s", id)
	e.events.emit(Event{Type: EventReset, Time: e.clock.Now()})
	e.emitStatus()
	return nil
}

// Subscribe registers handler for every engine event and returns the
// function that removes it. Handlers must not block.
func (e *Engine) Subscribe(handler func(Event)) func() {
	return e.events.subscribe(handler)
}

// Trades returns copies of the session's trades in creation order.
func (e *Engine) Trades() []*domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Trade, len(e.ledger))
	for i, t := range e.ledger {
		out[i] = t.Clone()
	}
	return out
}

// Summary aggregates the session's trades.
func (e *Engine) Summary() domain.SessionSummary {
	trades := e.Trades()
	s := metrics.Summarize(trades)
	s.SessionID = e.SessionID()
	return s
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	st := Status{
		Running:    e.running,
		SessionID:  e.sessionID,
		Connection: e.sess.State(),
		StopReason: e.stopReason,
		Balance:    e.balance,
	}
	if e.initialized {
		st.Strategy = e.switcher.Active()
		st.InFlight = e.exec.InFlight()
		st.Risk = e.risk.Snapshot()
	}
	return st
}

func (e *Engine) emitStatus() {
	st := e.Status()
	e.events.emit(Event{Type: EventStatus, Time: e.clock.Now(), Status: &st})
}

// Close stops trading, stops the reconciler and waits for background
// work and queued writes. The session itself is left to its owner.
func (e *Engine) Close() error {
	e.halt(StopByCaller)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	execs := append([]*executor.Executor(nil), e.retired...)
	if e.exec != nil {
		execs = append(execs, e.exec)
	}
	e.mu.Unlock()

	e.recon.Close()
	e.wg.Wait()
	for _, x := range execs {
		x.Wait()
	}
	e.persist.close()
	return nil
}
