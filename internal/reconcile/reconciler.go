// Package reconcile forces every purchased contract to a terminal status.
// Each trade climbs an escalation ladder driven by one clock timer, a
// global sweep re-checks stragglers, and push updates settle immediately.
package reconcile

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"digit-trader/internal/clock"
	"digit-trader/internal/domain"
	"digit-trader/internal/observability"
)

// Phase is a rung of the escalation ladder.
type Phase string

// Escalation phases
const (
	PhaseJustBought    Phase = "justBought"
	PhaseQuickPoll     Phase = "quickPoll"
	PhaseMediumPoll    Phase = "mediumPoll"
	PhaseFinalCheck    Phase = "finalCheck"
	PhaseForceResolved Phase = "forceResolved"
)

// ForcedResolutionMessage is recorded on trades settled by timeout.
const ForcedResolutionMessage = "settlement timeout: assumed loss"

// ErrNoContract is returned when tracking a trade without a contract id.
var ErrNoContract = errors.New("trade has no contract id")

// Step is one scheduled check, at an offset from purchase.
type Step struct {
	At    time.Duration
	Phase Phase
}

// StandardSchedule: 3s, every 5s to 60s, every 15s to 180s, final check at
// 180s, forced resolution at 195s.
func StandardSchedule() []Step {
	steps := []Step{{3 * time.Second, PhaseJustBought}}
	return append(steps, tail(5*time.Second)...)
}

// FastSchedule confirms at 1s and every 2s for the first 30s, then joins
// the standard tiers.
func FastSchedule() []Step {
	steps := []Step{{time.Second, PhaseJustBought}}
	for at := 3 * time.Second; at < 30*time.Second; at += 2 * time.Second {
		steps = append(steps, Step{at, PhaseQuickPoll})
	}
	return append(steps, tail(35*time.Second)...)
}

// tail is the shared part of both ladders from quickFrom on.
func tail(quickFrom time.Duration) []Step {
	var steps []Step
	for at := quickFrom; at <= 60*time.Second; at += 5 * time.Second {
		steps = append(steps, Step{at, PhaseQuickPoll})
	}
	for at := 75 * time.Second; at < 180*time.Second; at += 15 * time.Second {
		steps = append(steps, Step{at, PhaseMediumPoll})
	}
	return append(steps,
		Step{180 * time.Second, PhaseFinalCheck},
		Step{195 * time.Second, PhaseForceResolved},
	)
}

// Config configures the reconciler.
type Config struct {
	SweepInterval time.Duration // global sweep period
	SweepMinAge   time.Duration // sweep only trades older than this
	CheckTimeout  time.Duration // per lookup
}

// DefaultConfig returns default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		SweepMinAge:   30 * time.Second,
		CheckTimeout:  10 * time.Second,
	}
}

type entry struct {
	trade   *domain.Trade
	start   time.Time
	steps   []Step
	next    int
	timer   clock.Timer
	phase   Phase
	checked int
}

// Reconciler tracks open contracts until they settle.
type Reconciler struct {
	cfg     Config
	clock   clock.Clock
	checker Checker
	logger  *log.Logger

	onSettled func(*domain.Trade)

	mu      sync.Mutex
	tracked map[string]*entry // by contract id
	sweep   clock.Timer
	closed  bool
}

// New creates a reconciler and starts its sweep.
func New(cfg Config, c clock.Clock, checker Checker, logger *log.Logger) *Reconciler {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SweepMinAge <= 0 {
		cfg.SweepMinAge = def.SweepMinAge
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Reconciler{
		cfg:     cfg,
		clock:   c,
		checker: checker,
		logger:  logger,
		tracked: make(map[string]*entry),
	}
	r.sweep = clock.Every(c, cfg.SweepInterval, r.runSweep)
	return r
}

// OnSettled registers the callback receiving a copy of each trade once it
// is terminal. It fires exactly once per trade.
func (r *Reconciler) OnSettled(fn func(*domain.Trade)) {
	r.mu.Lock()
	r.onSettled = fn
	r.mu.Unlock()
}

// Track takes ownership of a purchased trade. fast selects the fast
// confirmation ladder.
func (r *Reconciler) Track(t *domain.Trade, fast bool) error {
	if t.ContractID == "" {
		return ErrNoContract
	}
	if t.Status.Terminal() {
		return domain.ErrTradeNotPending
	}

	steps := StandardSchedule()
	if fast {
		steps = FastSchedule()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("reconciler closed")
	}
	if _, ok := r.tracked[t.ContractID]; ok {
		return nil
	}
	e := &entry{trade: t, start: r.clock.Now(), steps: steps, phase: PhaseJustBought}
	r.tracked[t.ContractID] = e
	r.scheduleLocked(e)
	return nil
}

// scheduleLocked arms the entry's timer for its next step.
func (r *Reconciler) scheduleLocked(e *entry) {
	if e.next >= len(e.steps) {
		return
	}
	step := e.steps[e.next]
	delay := e.start.Add(step.At).Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	id := e.trade.ContractID
	e.timer = r.clock.AfterFunc(delay, func() { r.fire(id, step) })
}

func (r *Reconciler) fire(contractID string, step Step) {
	r.mu.Lock()
	e, ok := r.tracked[contractID]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	e.phase = step.Phase
	e.next++
	e.checked++
	trade := e.trade.Clone()
	r.mu.Unlock()

	settled := false
	switch step.Phase {
	case PhaseForceResolved:
		r.forceResolve(contractID)
		return
	case PhaseFinalCheck:
		settled = r.finalCheck(trade)
	default:
		settled = r.directCheck(trade, string(step.Phase))
	}
	if settled {
		return
	}

	r.mu.Lock()
	if e, ok := r.tracked[contractID]; ok && !r.closed {
		r.scheduleLocked(e)
	}
	r.mu.Unlock()
}

// directCheck queries the contract once. Returns true if it settled.
func (r *Reconciler) directCheck(trade *domain.Trade, method string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CheckTimeout)
	defer cancel()

	u, err := r.checker.ContractStatus(ctx, trade.ContractID)
	if err != nil {
		observability.RecordReconcileCheck(method, "error")
		r.logger.Printf("check %s (%s): %v", trade.ContractID, method, err)
		return false
	}
	if u == nil || !u.Settled {
		observability.RecordReconcileCheck(method, "open")
		return false
	}
	observability.RecordReconcileCheck(method, "settled")
	return r.settle(trade.ContractID, *u, method)
}

// finalCheck tries the direct query, the profit table and the open
// positions scan, in that order.
func (r *Reconciler) finalCheck(trade *domain.Trade) bool {
	if r.directCheck(trade, "final_direct") {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CheckTimeout)
	defer cancel()

	u, err := r.checker.ProfitTable(ctx, trade.ContractID)
	switch {
	case err != nil:
		observability.RecordReconcileCheck("final_profit_table", "error")
		r.logger.Printf("profit table lookup %s: %v", trade.ContractID, err)
	case u != nil && u.Settled:
		observability.RecordReconcileCheck("final_profit_table", "settled")
		if r.settle(trade.ContractID, *u, "final_profit_table") {
			return true
		}
	default:
		observability.RecordReconcileCheck("final_profit_table", "not_found")
	}

	open, err := r.checker.Portfolio(ctx, trade.ContractID)
	switch {
	case err != nil:
		observability.RecordReconcileCheck("final_portfolio", "error")
		r.logger.Printf("portfolio scan %s: %v", trade.ContractID, err)
	case open:
		observability.RecordReconcileCheck("final_portfolio", "open")
	default:
		observability.RecordReconcileCheck("final_portfolio", "closed_unknown")
		r.logger.Printf("contract %s closed but outcome unknown", trade.ContractID)
	}
	return false
}

// HandleUpdate applies a pushed status. Updates for untracked or already
// terminal contracts are ignored. Returns true if the trade settled.
func (r *Reconciler) HandleUpdate(u Update) bool {
	if !u.Settled || u.ContractID == "" {
		return false
	}
	r.mu.Lock()
	_, ok := r.tracked[u.ContractID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.settle(u.ContractID, u, "push")
}

// settle moves the trade to its computed outcome. Only the first caller
// for a contract wins; later calls are no-ops.
func (r *Reconciler) settle(contractID string, u Update, source string) bool {
	r.mu.Lock()
	e, ok := r.tracked[contractID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	out, ok := ComputeOutcome(e.trade, u)
	if !ok {
		r.mu.Unlock()
		r.logger.Printf("contract %s terminal without exit, sell price or profit", contractID)
		return false
	}
	if err := e.trade.Settle(out.Status, out.Profit, out.Exit, out.SellPrice, r.clock.Now()); err != nil {
		r.mu.Unlock()
		return false
	}
	if out.Entry != nil {
		e.trade.EntryTick = *out.Entry
	}
	r.finishLocked(e)
	done := e.trade.Clone()
	latency := r.clock.Now().Sub(e.start)
	cb := r.onSettled
	r.mu.Unlock()

	observability.RecordSettlement(source, latency.Seconds())
	if cb != nil {
		cb(done)
	}
	return true
}

// forceResolve settles a trade nothing could resolve as a loss of its cost.
func (r *Reconciler) forceResolve(contractID string) {
	r.mu.Lock()
	e, ok := r.tracked[contractID]
	if !ok {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()
	if err := e.trade.Settle(domain.StatusLost, -e.trade.CostBasis(), nil, nil, now); err != nil {
		r.mu.Unlock()
		return
	}
	e.trade.Error = ForcedResolutionMessage
	e.phase = PhaseForceResolved
	r.finishLocked(e)
	done := e.trade.Clone()
	cb := r.onSettled
	r.mu.Unlock()

	observability.RecordForcedResolution()
	observability.RecordSettlement("forced", now.Sub(e.start).Seconds())
	r.logger.Printf("contract %s forced to lost after %s", contractID, now.Sub(e.start))
	if cb != nil {
		cb(done)
	}
}

func (r *Reconciler) finishLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.tracked, e.trade.ContractID)
}

// runSweep re-checks every trade pending longer than SweepMinAge.
func (r *Reconciler) runSweep() {
	now := r.clock.Now()
	r.mu.Lock()
	var due []*domain.Trade
	for _, e := range r.tracked {
		if now.Sub(e.start) > r.cfg.SweepMinAge {
			due = append(due, e.trade.Clone())
		}
	}
	r.mu.Unlock()

	for _, t := range due {
		r.directCheck(t, "sweep")
	}
}

// Phase returns the current phase of a tracked contract.
func (r *Reconciler) Phase(contractID string) (Phase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tracked[contractID]
	if !ok {
		return "", false
	}
	return e.phase, true
}

// Pending returns copies of all tracked trades, oldest first.
func (r *Reconciler) Pending() []*domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Trade, 0, len(r.tracked))
	for _, e := range r.tracked {
		out = append(out, e.trade.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of tracked trades.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// Close stops the sweep and every per-trade timer. Tracked trades stay
// pending; call only on engine teardown.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.sweep.Stop()
	for _, e := range r.tracked {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
