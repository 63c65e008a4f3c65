// Package switching rotates the active strategy after runs of losses and
// keeps per-strategy performance.
package switching

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"digit-trader/internal/clock"
	"digit-trader/internal/domain"
	"digit-trader/internal/tickfeed"
)

// Refusal errors.
var (
	ErrSwitchingDisabled     = errors.New("strategy switching disabled")
	ErrSwitchBudgetExhausted = errors.New("switch budget exhausted for this session")
	ErrSwitchCooldown        = errors.New("switch cooldown active")
	ErrNoCandidate           = errors.New("no eligible strategy to switch to")
	ErrExcluded              = errors.New("strategy is excluded")
)

// Switch reasons
const (
	ReasonRotation   = "Sequential rotation"
	ReasonCustom     = "Custom sequence"
	ReasonManual     = "Manual switch"
	ReasonResetOnWin = "Reset on win"
)

// Adaptive volatility bands, in percent.
const (
	HighVolatility = 0.05
	LowVolatility  = 0.01
)

// MinPerformanceTrades is the sample size a strategy needs before the
// performance policy considers it.
const MinPerformanceTrades = 3

// Stats is a snapshot of the switching state.
type Stats struct {
	Enabled             bool
	Mode                domain.SwitchMode
	Active              domain.Strategy
	Original            domain.Strategy
	SwitchesThisSession int
	MaxSwitches         int
	LastSwitch          time.Time
	CooldownActive      bool
	CooldownRemaining   time.Duration
	History             []domain.SwitchEvent
}

// Controller owns the active strategy of a session.
type Controller struct {
	clock     clock.Clock
	enabled   bool
	threshold int
	policy    domain.SwitchingPolicy

	mu         sync.Mutex
	sessionID  string
	original   domain.Strategy
	active     domain.Strategy
	lastSwitch time.Time
	switches   int
	history    []domain.SwitchEvent
	customIdx  int
	perf       map[domain.Strategy]*domain.ContractTypePerformance
	notify     func(domain.SwitchEvent)
}

// New creates a controller for cfg. Switching is enabled by SwitchOnLoss;
// a missing policy means sequential rotation.
func New(cfg domain.TradeConfig, c clock.Clock) *Controller {
	if c == nil {
		c = clock.New()
	}
	policy := domain.SwitchingPolicy{Mode: domain.SwitchRotation, PerformanceWindow: domain.MaxPerformanceWindow}
	if cfg.Switching != nil {
		policy = *cfg.Switching
	}
	threshold := cfg.LossThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Controller{
		clock:     c,
		enabled:   cfg.SwitchOnLoss,
		threshold: threshold,
		policy:    policy,
		original:  cfg.Strategy,
		active:    cfg.Strategy,
		customIdx: -1,
		perf:      make(map[domain.Strategy]*domain.ContractTypePerformance),
	}
}

// OnSwitch registers the notification callback, invoked after every switch.
func (c *Controller) OnSwitch(fn func(domain.SwitchEvent)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// SetSessionID tags subsequent switch events.
func (c *Controller) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Active returns the strategy currently traded.
func (c *Controller) Active() domain.Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Evaluate switches when losses reached the threshold. Returns nil, nil when
// no switch was due.
func (c *Controller) Evaluate(losses int, sig tickfeed.Signals) (*domain.SwitchEvent, error) {
	c.mu.Lock()
	if !c.enabled || losses < c.threshold {
		c.mu.Unlock()
		return nil, nil
	}
	if err := c.refusedLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	target, reason := c.chooseLocked(sig)
	if target == "" {
		c.mu.Unlock()
		return nil, ErrNoCandidate
	}
	return c.applyLocked(target, reason, losses, true)
}

// Manual switches on request. An empty target lets the policy choose.
// Budget and cooldown apply as for automatic switches.
func (c *Controller) Manual(target domain.Strategy, losses int, sig tickfeed.Signals) (*domain.SwitchEvent, error) {
	c.mu.Lock()
	if err := c.refusedLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	reason := ReasonManual
	if target == "" {
		target, reason = c.chooseLocked(sig)
		if target == "" {
			c.mu.Unlock()
			return nil, ErrNoCandidate
		}
	} else {
		if !target.Valid() {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, target)
		}
		if c.policy.IsExcluded(target) {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrExcluded, target)
		}
		if target == c.active {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s is already active", ErrNoCandidate, target)
		}
	}
	return c.applyLocked(target, reason, losses, true)
}

// HandleWin reverts to the original strategy when reset-on-win is set.
// Reverting does not count against the switch budget.
func (c *Controller) HandleWin(losses int) *domain.SwitchEvent {
	c.mu.Lock()
	if !c.policy.ResetOnWin || c.active == c.original {
		c.mu.Unlock()
		return nil
	}
	ev, _ := c.applyLocked(c.original, ReasonResetOnWin, losses, false)
	return ev
}

// refusedLocked checks the session budget and cooldown.
func (c *Controller) refusedLocked() error {
	if c.policy.MaxSwitches > 0 && c.switches >= c.policy.MaxSwitches {
		return ErrSwitchBudgetExhausted
	}
	if cd := c.policy.Cooldown(); cd > 0 && !c.lastSwitch.IsZero() {
		if elapsed := c.clock.Now().Sub(c.lastSwitch); elapsed < cd {
			return fmt.Errorf("%w: %s remaining", ErrSwitchCooldown, (cd - elapsed).Round(time.Second))
		}
	}
	return nil
}

// applyLocked performs the switch, releases c.mu and notifies.
func (c *Controller) applyLocked(target domain.Strategy, reason string, losses int, counted bool) (*domain.SwitchEvent, error) {
	now := c.clock.Now()
	ev := domain.SwitchEvent{
		SessionID:         c.sessionID,
		Timestamp:         now,
		From:              c.active,
		To:                target,
		Reason:            reason,
		ConsecutiveLosses: losses,
	}
	c.active = target
	if counted {
		c.switches++
		c.lastSwitch = now
	}
	c.history = append(c.history, ev)
	notify := c.notify
	c.mu.Unlock()

	if notify != nil {
		notify(ev)
	}
	return &ev, nil
}

func (c *Controller) chooseLocked(sig tickfeed.Signals) (domain.Strategy, string) {
	switch c.policy.Mode {
	case domain.SwitchPerformance:
		if s, rate := c.bestPerformerLocked(); s != "" {
			return s, fmt.Sprintf("Best performance (%.1f%% win rate)", rate*100)
		}
	case domain.SwitchAdaptive:
		if s, reason := adaptivePick(sig); s != "" && c.eligibleLocked(s) {
			return s, reason
		}
	case domain.SwitchCustom:
		if s := c.nextCustomLocked(); s != "" {
			return s, ReasonCustom
		}
	}
	return c.nextRotationLocked(), ReasonRotation
}

func (c *Controller) eligibleLocked(s domain.Strategy) bool {
	return s != c.active && !c.policy.IsExcluded(s)
}

// nextRotationLocked walks the pool cyclically from the active strategy.
func (c *Controller) nextRotationLocked() domain.Strategy {
	pool := c.policy.RotationPool()
	start := -1
	for i, s := range pool {
		if s == c.active {
			start = i
			break
		}
	}
	for step := 1; step <= len(pool); step++ {
		s := pool[(start+step+len(pool))%len(pool)]
		if c.eligibleLocked(s) {
			return s
		}
	}
	return ""
}

func (c *Controller) nextCustomLocked() domain.Strategy {
	seq := c.policy.CustomSequence
	for step := 1; step <= len(seq); step++ {
		idx := (c.customIdx + step) % len(seq)
		if c.eligibleLocked(seq[idx]) {
			c.customIdx = idx
			return seq[idx]
		}
	}
	return ""
}

func (c *Controller) bestPerformerLocked() (domain.Strategy, float64) {
	window := c.policy.PerformanceWindow
	if window <= 0 || window > domain.MaxPerformanceWindow {
		window = domain.MaxPerformanceWindow
	}

	var best domain.Strategy
	bestRate := -1.0
	for _, s := range c.policy.RotationPool() {
		p, ok := c.perf[s]
		if !ok || p.TotalTrades < MinPerformanceTrades || !c.eligibleLocked(s) {
			continue
		}
		rate, _ := p.RecentWinRate(window)
		if rate > bestRate {
			best, bestRate = s, rate
		}
	}
	return best, bestRate
}

// adaptivePick maps live signals onto a strategy.
func adaptivePick(sig tickfeed.Signals) (domain.Strategy, string) {
	if sig.Samples == 0 {
		return "", ""
	}
	switch {
	case sig.Volatility >= HighVolatility:
		if sig.Trend >= 0 {
			return domain.StrategyRise, fmt.Sprintf("Adaptive: high volatility (%.3f%%), uptrend", sig.Volatility)
		}
		return domain.StrategyFall, fmt.Sprintf("Adaptive: high volatility (%.3f%%), downtrend", sig.Volatility)
	case sig.Volatility < LowVolatility:
		if sig.LastDigit%2 == 0 {
			return domain.StrategyEven, fmt.Sprintf("Adaptive: low volatility (%.3f%%), last digit %d", sig.Volatility, sig.LastDigit)
		}
		return domain.StrategyOdd, fmt.Sprintf("Adaptive: low volatility (%.3f%%), last digit %d", sig.Volatility, sig.LastDigit)
	default:
		if sig.LastDigit < 5 {
			return domain.StrategyOver, fmt.Sprintf("Adaptive: medium volatility (%.3f%%), last digit %d", sig.Volatility, sig.LastDigit)
		}
		return domain.StrategyUnder, fmt.Sprintf("Adaptive: medium volatility (%.3f%%), last digit %d", sig.Volatility, sig.LastDigit)
	}
}

// RecordOutcome folds a settled outcome into the strategy's performance.
func (c *Controller) RecordOutcome(s domain.Strategy, won bool, profit float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.perf[s]
	if !ok {
		p = &domain.ContractTypePerformance{Strategy: s}
		c.perf[s] = p
	}
	p.Record(won, profit, at)
}

// Performance returns a copy of one strategy's aggregate.
func (c *Controller) Performance(s domain.Strategy) (domain.ContractTypePerformance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.perf[s]
	if !ok {
		return domain.ContractTypePerformance{Strategy: s}, false
	}
	return p.Clone(), true
}

// AllPerformance returns copies of every aggregate, ordered by strategy.
func (c *Controller) AllPerformance() []domain.ContractTypePerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ContractTypePerformance, 0, len(c.perf))
	for _, p := range c.perf {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

// Stats returns a snapshot of the switching state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Enabled:             c.enabled,
		Mode:                c.policy.Mode,
		Active:              c.active,
		Original:            c.original,
		SwitchesThisSession: c.switches,
		MaxSwitches:         c.policy.MaxSwitches,
		LastSwitch:          c.lastSwitch,
		History:             append([]domain.SwitchEvent(nil), c.history...),
	}
	if cd := c.policy.Cooldown(); cd > 0 && !c.lastSwitch.IsZero() {
		if elapsed := c.clock.Now().Sub(c.lastSwitch); elapsed < cd {
			st.CooldownActive = true
			st.CooldownRemaining = cd - elapsed
		}
	}
	return st
}

// Reset restores the original strategy and clears history and performance.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = c.original
	c.lastSwitch = time.Time{}
	c.switches = 0
	c.history = nil
	c.customIdx = -1
	c.perf = make(map[domain.Strategy]*domain.ContractTypePerformance)
}
