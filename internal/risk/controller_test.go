package risk

import (
	"testing"

	"digit-trader/internal/domain"
)

func baseConfig() domain.TradeConfig {
	return domain.TradeConfig{
		Strategy:   domain.StrategyEven,
		Market:     "R_100",
		BaseStake:  1,
		Multiplier: 2,
		MaxSteps:   3,
	}.WithDefaults()
}

func TestController_BasicWinResetsStake(t *testing.T) {
	c := New(baseConfig())
	if got := c.NextStake(); got != 1 {
		t.Fatalf("initial stake = %v, want 1", got)
	}
	c.RecordOutcome(false, -1)
	c.RecordOutcome(true, 0.95)

	if c.ConsecutiveLosses() != 0 {
		t.Errorf("consecutive losses = %d after win", c.ConsecutiveLosses())
	}
	if got := c.NextStake(); got != 1 {
		t.Errorf("stake after win = %v, want 1", got)
	}
}

func TestController_MartingaleEscalation(t *testing.T) {
	c := New(baseConfig())
	var stakes []float64
	for i := 0; i < 3; i++ {
		stake := c.NextStake()
		stakes = append(stakes, stake)
		c.RecordOutcome(false, -stake)
	}
	stakes = append(stakes, c.NextStake())

	want := []float64{1, 2, 4, 8}
	for i := range want {
		if stakes[i] != want[i] {
			t.Fatalf("stakes = %v, want %v", stakes, want)
		}
	}
}

func TestController_StakeMonotonicAndCapped(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSteps = 20
	cfg.MaxPosition = 6

	prev := 0.0
	for n := 0; n < 20; n++ {
		s := StakeFor(cfg, n)
		if s < prev {
			t.Fatalf("stake(%d)=%v < stake(%d)=%v", n, s, n-1, prev)
		}
		if s > 6 {
			t.Fatalf("stake(%d)=%v exceeds max position", n, s)
		}
		prev = s
	}

	cfg.MaxPosition = 0
	if s := StakeFor(cfg, 20); s != 10 {
		t.Errorf("stake capped at 10x base: got %v", s)
	}
}

func TestStakeFor_FloorAndRounding(t *testing.T) {
	cfg := domain.TradeConfig{BaseStake: 0.2, Multiplier: 1, MaxSteps: 5}
	if s := StakeFor(cfg, 0); s != domain.MinStake {
		t.Errorf("stake below minimum not raised: %v", s)
	}

	cfg = domain.TradeConfig{BaseStake: 0.35, Multiplier: 2.1, MaxSteps: 5}
	// 0.35 * 2.1^2 = 1.5435
	if s := StakeFor(cfg, 2); s != 1.54 {
		t.Errorf("stake not rounded to cents: %v", s)
	}
}

func TestController_PreserveLossesOnWin(t *testing.T) {
	cfg := baseConfig()
	cfg.PreserveLossesOnWin = true
	c := New(cfg)
	c.RecordOutcome(false, -1)
	c.RecordOutcome(false, -2)
	c.RecordOutcome(true, 3.8)
	if c.ConsecutiveLosses() != 2 {
		t.Errorf("losses = %d, want preserved 2", c.ConsecutiveLosses())
	}
}

func TestController_StopConditions(t *testing.T) {
	tp, sl := 2.0, 3.0

	cfg := baseConfig()
	cfg.TakeProfit = &tp
	c := New(cfg)
	if d := c.RecordOutcome(true, 0.95); d.Stop {
		t.Fatalf("stopped early: %+v", d)
	}
	if d := c.RecordOutcome(true, 1.05); !d.Stop || d.Reason != ReasonTakeProfit {
		t.Errorf("expected take profit stop, got %+v", d)
	}

	cfg = baseConfig()
	cfg.StopLoss = &sl
	c = New(cfg)
	c.RecordOutcome(false, -1)
	if d := c.RecordOutcome(false, -2); !d.Stop || d.Reason != ReasonStopLoss {
		t.Errorf("expected stop loss, got %+v", d)
	}

	cfg = baseConfig()
	cfg.MaxLossStreak = 2
	c = New(cfg)
	c.RecordOutcome(false, -1)
	if d := c.RecordOutcome(false, -2); d.Reason != ReasonMaxLossStreak {
		t.Errorf("expected loss streak stop, got %+v", d)
	}

	cfg = baseConfig()
	cfg.MaxRounds = 1
	c = New(cfg)
	if d := c.RecordOutcome(true, 1); d.Reason != ReasonMaxRounds {
		t.Errorf("expected max rounds stop, got %+v", d)
	}
}

func TestController_SnapshotAndReset(t *testing.T) {
	c := New(baseConfig())
	c.RecordOutcome(false, -1)
	c.RecordOutcome(false, -2)
	c.RecordOutcome(true, 3.8)

	s := c.Snapshot()
	if s.Rounds != 3 || s.Wins != 1 || s.Losses != 2 || s.LongestLossStreak != 2 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.TotalProfit != 0.8 {
		t.Errorf("total profit = %v, want 0.8", s.TotalProfit)
	}

	c.Reset()
	if s := c.Snapshot(); s.Rounds != 0 || s.TotalProfit != 0 || s.NextStake != 1 {
		t.Errorf("after reset = %+v", s)
	}
}
