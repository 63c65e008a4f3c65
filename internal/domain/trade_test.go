package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTrade_StatusIsMonotonic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := &Trade{ID: "t1", Stake: 1, Status: StatusPending}

	if err := tr.Settle(StatusWon, 0.95, &Tick{Quote: 100.12}, nil, now); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if err := tr.Settle(StatusLost, -1, nil, nil, now); !errors.Is(err, ErrTradeNotPending) {
		t.Errorf("expected ErrTradeNotPending on second settle, got %v", err)
	}
	if err := tr.Fail(StatusError, "boom", now); !errors.Is(err, ErrTradeNotPending) {
		t.Errorf("expected ErrTradeNotPending on fail after settle, got %v", err)
	}
	if tr.Status != StatusWon || *tr.Profit != 0.95 {
		t.Errorf("terminal state changed: status=%s profit=%v", tr.Status, *tr.Profit)
	}
}

func TestTrade_FailNeverSetsProfit(t *testing.T) {
	tr := &Trade{ID: "t1", Stake: 1, Status: StatusPending}
	if err := tr.Fail(StatusError, "InsufficientBalance", time.Now()); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if tr.Profit != nil {
		t.Errorf("profit must stay unset for error trades, got %v", *tr.Profit)
	}
}

func TestTrade_SettleRejectsNonOutcomeStatus(t *testing.T) {
	tr := &Trade{Status: StatusPending}
	if err := tr.Settle(StatusError, 0, nil, nil, time.Now()); !errors.Is(err, ErrInvalidSettle) {
		t.Errorf("expected ErrInvalidSettle, got %v", err)
	}
	if tr.Status != StatusPending {
		t.Errorf("status changed on rejected settle: %s", tr.Status)
	}
}

func TestTrade_MarkPurchasedOnce(t *testing.T) {
	tr := &Trade{Status: StatusPending}
	if err := tr.MarkPurchased("c-1", "tx-1", 1, 1.95); err != nil {
		t.Fatalf("MarkPurchased: %v", err)
	}
	if err := tr.MarkPurchased("c-2", "tx-2", 1, 1.95); !errors.Is(err, ErrContractAssigned) {
		t.Errorf("expected ErrContractAssigned, got %v", err)
	}
	if tr.ContractID != "c-1" {
		t.Errorf("contract id overwritten: %s", tr.ContractID)
	}
}

func TestTrade_CloneIsDeep(t *testing.T) {
	tr := &Trade{Status: StatusPending}
	_ = tr.MarkPurchased("c-1", "tx-1", 1, 1.95)

	c := tr.Clone()
	*c.BuyPrice = 42

	if *tr.BuyPrice != 1 {
		t.Errorf("clone shares buy price pointer")
	}
}

func TestTick_LastDigit(t *testing.T) {
	tests := []struct {
		quote float64
		pip   int
		want  int
	}{
		{1234.56, 2, 6},
		{1234.5, 2, 0},
		{1234.567, 3, 7},
		{987.1, 0, 0}, // default pip size 2 -> "987.10"
		{6543.219, 3, 9},
	}
	for _, tt := range tests {
		got := Tick{Quote: tt.quote, PipSize: tt.pip}.LastDigit()
		if got != tt.want {
			t.Errorf("LastDigit(%v, pip %d) = %d, want %d", tt.quote, tt.pip, got, tt.want)
		}
	}
}

func TestStrategy_Wins(t *testing.T) {
	entry := Tick{Quote: 100.00}
	exit := Tick{Quote: 100.07} // last digit 7

	cases := map[Strategy]bool{
		StrategyEven:    false,
		StrategyOdd:     true,
		StrategyOver:    true,  // 7 > 5
		StrategyUnder:   false, // 7 < 5
		StrategyMatches: false,
		StrategyDiffers: true,
		StrategyRise:    true,
		StrategyFall:    false,
	}
	for s, want := range cases {
		if got := s.Wins(5, entry, exit); got != want {
			t.Errorf("%s.Wins = %v, want %v", s, got, want)
		}
	}
}

func TestContractTypeFor(t *testing.T) {
	ct, err := ContractTypeFor(StrategyEven)
	if err != nil || ct != ContractDigitEven {
		t.Errorf("Even -> %s, %v", ct, err)
	}
	if _, err := ContractTypeFor("Sideways"); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestPerformance_RollingWindow(t *testing.T) {
	var p ContractTypePerformance
	for i := 0; i < 12; i++ {
		p.Record(i%2 == 0, 1, time.Now())
	}
	if len(p.RecentResults) != MaxPerformanceWindow {
		t.Fatalf("window length %d, want %d", len(p.RecentResults), MaxPerformanceWindow)
	}
	rate, n := p.RecentWinRate(4)
	if n != 4 || rate != 0.5 {
		t.Errorf("RecentWinRate(4) = %v over %d", rate, n)
	}
	if p.TotalTrades != 12 || p.Wins != 6 {
		t.Errorf("totals: %d trades %d wins", p.TotalTrades, p.Wins)
	}
}

func TestTradeConfig_Validate(t *testing.T) {
	valid := TradeConfig{Strategy: StrategyEven, Market: "R_100", BaseStake: 1}.WithDefaults()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noMarket := valid
	noMarket.Market = ""
	if err := noMarket.Validate(); !errors.Is(err, ErrMissingMarket) {
		t.Errorf("expected ErrMissingMarket, got %v", err)
	}

	zeroStake := valid
	zeroStake.BaseStake = 0
	if err := zeroStake.Validate(); !errors.Is(err, ErrInvalidStake) {
		t.Errorf("expected ErrInvalidStake, got %v", err)
	}

	badMode := valid
	badMode.Mode = "yolo"
	if err := badMode.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
