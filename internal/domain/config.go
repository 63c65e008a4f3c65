package domain

import (
	"fmt"
	"time"
)

// MinStake is the smallest stake the exchange accepts.
const MinStake = 0.35

// DefaultStraddleBarrier is the straddle digit when none is configured.
const DefaultStraddleBarrier = 5

// MaxPerformanceWindow bounds the rolling outcome window per strategy.
const MaxPerformanceWindow = 10

// ExecutionMode selects how the executor submits purchases.
type ExecutionMode string

// Execution modes
const (
	ModeStandard ExecutionMode = "standard" // await proposal and purchase acknowledgement
	ModeFast     ExecutionMode = "fast"     // dispatch purchase, confirm in background
	ModeStraddle ExecutionMode = "straddle" // two half-stake legs over/under a fixed digit
)

// SwitchMode selects the strategy switching policy.
type SwitchMode string

// Switching policies
const (
	SwitchRotation    SwitchMode = "rotation"
	SwitchPerformance SwitchMode = "performance"
	SwitchAdaptive    SwitchMode = "adaptive"
	SwitchCustom      SwitchMode = "custom"
)

// SwitchingPolicy configures loss-triggered strategy rotation.
type SwitchingPolicy struct {
	Mode              SwitchMode
	CustomSequence    []Strategy
	Pool              []Strategy // rotation order; DefaultRotation when empty
	ResetOnWin        bool       // revert to the original strategy after a win
	MaxSwitches       int        // per session; 0 means unlimited
	CooldownMinutes   float64
	PerformanceWindow int // outcomes considered by the performance policy (<= 10)
	Excluded          []Strategy
}

// Cooldown returns the cooldown window as a duration.
func (p SwitchingPolicy) Cooldown() time.Duration {
	return time.Duration(p.CooldownMinutes * float64(time.Minute))
}

// IsExcluded reports whether s is on the exclusion list.
func (p SwitchingPolicy) IsExcluded(s Strategy) bool {
	for _, x := range p.Excluded {
		if x == s {
			return true
		}
	}
	return false
}

// RotationPool returns the configured pool or the default rotation.
func (p SwitchingPolicy) RotationPool() []Strategy {
	if len(p.Pool) > 0 {
		return p.Pool
	}
	return DefaultRotation
}

// TradeConfig is the immutable-per-session trading configuration.
type TradeConfig struct {
	Strategy Strategy
	Market   string
	Currency string

	// Staking
	BaseStake   float64
	Multiplier  float64 // martingale multiplier applied per consecutive loss
	MaxSteps    int     // exponent cap for the martingale progression
	MaxPosition float64 // absolute stake cap; 0 means 10x base only

	// Contract parameters
	TickCount int // contract duration in ticks
	Barrier   int // barrier / prediction digit for digit contracts

	// Loss-triggered switching
	SwitchOnLoss  bool
	LossThreshold int
	Switching     *SwitchingPolicy

	// Limits
	MaxRounds           int
	MaxLossStreak       int
	TakeProfit          *float64
	StopLoss            *float64
	PreserveLossesOnWin bool // keep the consecutive-loss count after a win
	MaxConcurrentTrades int
	Mode                ExecutionMode
	StraddleBarrier     *int // 1-8; nil means DefaultStraddleBarrier
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c TradeConfig) WithDefaults() TradeConfig {
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Multiplier == 0 {
		c.Multiplier = 1
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 10
	}
	if c.TickCount == 0 {
		c.TickCount = 1
	}
	if c.MaxConcurrentTrades == 0 {
		c.MaxConcurrentTrades = 1
	}
	if c.Mode == "" {
		c.Mode = ModeStandard
	}
	b := DefaultStraddleBarrier
	if c.StraddleBarrier != nil {
		b = *c.StraddleBarrier
	}
	c.StraddleBarrier = &b
	if c.LossThreshold == 0 {
		c.LossThreshold = 3
	}
	if c.Switching != nil {
		p := *c.Switching
		if p.Mode == "" {
			p.Mode = SwitchRotation
		}
		if p.PerformanceWindow <= 0 || p.PerformanceWindow > MaxPerformanceWindow {
			p.PerformanceWindow = MaxPerformanceWindow
		}
		c.Switching = &p
	}
	return c
}

// Validate checks the configuration before a session starts.
func (c TradeConfig) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
	if c.Market == "" {
		return ErrMissingMarket
	}
	if c.BaseStake <= 0 {
		return fmt.Errorf("%w: base stake %.2f", ErrInvalidStake, c.BaseStake)
	}
	if c.BaseStake < MinStake {
		return fmt.Errorf("%w: base stake %.2f below minimum %.2f", ErrInvalidStake, c.BaseStake, MinStake)
	}
	if c.MaxPosition != 0 && c.MaxPosition < c.BaseStake {
		return fmt.Errorf("%w: max position %.2f below base stake", ErrInvalidConfig, c.MaxPosition)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier %.2f must be >= 1", ErrInvalidConfig, c.Multiplier)
	}
	if c.Barrier < 0 || c.Barrier > 9 {
		return fmt.Errorf("%w: barrier %d outside 0-9", ErrInvalidConfig, c.Barrier)
	}
	if c.Strategy == StrategyOver && c.Barrier > 8 {
		return fmt.Errorf("%w: over %d can never win", ErrInvalidConfig, c.Barrier)
	}
	if c.Strategy == StrategyUnder && c.Barrier < 1 {
		return fmt.Errorf("%w: under %d can never win", ErrInvalidConfig, c.Barrier)
	}
	// Both legs of a straddle need a winnable digit.
	if b := c.StraddleBarrier; b != nil && (*b < 1 || *b > 8) {
		return fmt.Errorf("%w: straddle barrier %d outside 1-8", ErrInvalidConfig, *b)
	}
	if c.TickCount < 1 || c.TickCount > 10 {
		return fmt.Errorf("%w: tick count %d outside 1-10", ErrInvalidConfig, c.TickCount)
	}
	switch c.Mode {
	case ModeStandard, ModeFast, ModeStraddle:
	default:
		return fmt.Errorf("%w: execution mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Switching != nil {
		switch c.Switching.Mode {
		case SwitchRotation, SwitchPerformance, SwitchAdaptive, SwitchCustom:
		default:
			return fmt.Errorf("%w: switching mode %q", ErrInvalidConfig, c.Switching.Mode)
		}
		for _, s := range c.Switching.CustomSequence {
			if !s.Valid() {
				return fmt.Errorf("%w: custom sequence entry %q", ErrUnknownStrategy, s)
			}
		}
	}
	return nil
}
