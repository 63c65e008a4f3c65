// Package risk computes martingale stakes and enforces session limits.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"digit-trader/internal/domain"
)

// Stop reasons
const (
	ReasonTakeProfit    = "take profit reached"
	ReasonStopLoss      = "stop loss reached"
	ReasonMaxLossStreak = "max loss streak reached"
	ReasonMaxRounds     = "max rounds reached"
)

// MaxStakeFactor caps the stake at this multiple of the base stake.
const MaxStakeFactor = 10

// Decision is the result of folding in one settled outcome.
type Decision struct {
	Stop   bool
	Reason string
}

// Snapshot is the controller state at a point in time.
type Snapshot struct {
	ConsecutiveLosses int
	ConsecutiveWins   int
	LongestLossStreak int
	LongestWinStreak  int
	Rounds            int
	Wins              int
	Losses            int
	TotalProfit       float64
	NextStake         float64
}

// Controller tracks streaks and session profit for one session.
type Controller struct {
	mu  sync.Mutex
	cfg domain.TradeConfig

	consecutiveLosses int
	consecutiveWins   int
	longestLoss       int
	longestWin        int
	rounds            int
	wins              int
	losses            int
	profit            decimal.Decimal
}

// New creates a controller for cfg.
func New(cfg domain.TradeConfig) *Controller {
	return &Controller{cfg: cfg}
}

// NextStake returns base * multiplier^min(losses, maxSteps), clamped to
// [MinStake, min(10*base, maxPosition)] and rounded to cents.
func (c *Controller) NextStake() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextStakeLocked()
}

func (c *Controller) nextStakeLocked() float64 {
	return StakeFor(c.cfg, c.consecutiveLosses)
}

// StakeFor computes the stake after the given number of consecutive losses.
func StakeFor(cfg domain.TradeConfig, losses int) float64 {
	base := decimal.NewFromFloat(cfg.BaseStake)
	if !base.IsPositive() {
		return 0
	}

	steps := losses
	if cfg.MaxSteps > 0 && steps > cfg.MaxSteps {
		steps = cfg.MaxSteps
	}
	mult := decimal.NewFromFloat(cfg.Multiplier)
	if mult.LessThan(decimal.NewFromInt(1)) {
		mult = decimal.NewFromInt(1)
	}

	stake := base.Mul(mult.Pow(decimal.NewFromInt(int64(steps))))

	upper := base.Mul(decimal.NewFromInt(MaxStakeFactor))
	if cfg.MaxPosition > 0 {
		upper = decimal.Min(upper, decimal.NewFromFloat(cfg.MaxPosition))
	}
	lower := decimal.NewFromFloat(domain.MinStake)

	stake = decimal.Min(stake, upper)
	stake = decimal.Max(stake, lower)
	return stake.Round(2).InexactFloat64()
}

// RecordOutcome folds one settled outcome in and evaluates stop conditions.
func (c *Controller) RecordOutcome(won bool, profit float64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rounds++
	c.profit = c.profit.Add(decimal.NewFromFloat(profit))

	if won {
		c.wins++
		c.consecutiveWins++
		if !c.cfg.PreserveLossesOnWin {
			c.consecutiveLosses = 0
		}
		if c.consecutiveWins > c.longestWin {
			c.longestWin = c.consecutiveWins
		}
	} else {
		c.losses++
		c.consecutiveLosses++
		c.consecutiveWins = 0
		if c.consecutiveLosses > c.longestLoss {
			c.longestLoss = c.consecutiveLosses
		}
	}

	return c.evaluateLocked()
}

func (c *Controller) evaluateLocked() Decision {
	if tp := c.cfg.TakeProfit; tp != nil && *tp > 0 &&
		c.profit.GreaterThanOrEqual(decimal.NewFromFloat(*tp)) {
		return Decision{Stop: true, Reason: ReasonTakeProfit}
	}
	if sl := c.cfg.StopLoss; sl != nil && *sl > 0 &&
		c.profit.LessThanOrEqual(decimal.NewFromFloat(*sl).Neg()) {
		return Decision{Stop: true, Reason: ReasonStopLoss}
	}
	if c.cfg.MaxLossStreak > 0 && c.consecutiveLosses >= c.cfg.MaxLossStreak {
		return Decision{Stop: true, Reason: ReasonMaxLossStreak}
	}
	if c.cfg.MaxRounds > 0 && c.rounds >= c.cfg.MaxRounds {
		return Decision{Stop: true, Reason: ReasonMaxRounds}
	}
	return Decision{}
}

// ConsecutiveLosses returns the current loss streak.
func (c *Controller) ConsecutiveLosses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLosses
}

// TotalProfit returns the cumulative session profit.
func (c *Controller) TotalProfit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profit.InexactFloat64()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ConsecutiveLosses: c.consecutiveLosses,
		ConsecutiveWins:   c.consecutiveWins,
		LongestLossStreak: c.longestLoss,
		LongestWinStreak:  c.longestWin,
		Rounds:            c.rounds,
		Wins:              c.wins,
		Losses:            c.losses,
		TotalProfit:       c.profit.InexactFloat64(),
		NextStake:         c.nextStakeLocked(),
	}
}

// Reset clears all session state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLosses = 0
	c.consecutiveWins = 0
	c.longestLoss = 0
	c.longestWin = 0
	c.rounds = 0
	c.wins = 0
	c.losses = 0
	c.profit = decimal.Zero
}
