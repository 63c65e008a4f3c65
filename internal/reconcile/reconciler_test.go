package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"digit-trader/internal/clock"
	"digit-trader/internal/domain"
)

var quiet = log.New(io.Discard, "", 0)

type fakeChecker struct {
	mu     sync.Mutex
	direct func(id string) (*Update, error)
	table  func(id string) (*Update, error)
	open   bool
	calls  map[string]int
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{calls: make(map[string]int)}
}

func (f *fakeChecker) ContractStatus(ctx context.Context, id string) (*Update, error) {
	f.mu.Lock()
	f.calls["direct"]++
	fn := f.direct
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(id)
}

func (f *fakeChecker) ProfitTable(ctx context.Context, id string) (*Update, error) {
	f.mu.Lock()
	f.calls["profit_table"]++
	fn := f.table
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(id)
}

func (f *fakeChecker) Portfolio(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["portfolio"]++
	return f.open, nil
}

func (f *fakeChecker) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func purchased(t *testing.T, strategy domain.Strategy, stake float64) *domain.Trade {
	t.Helper()
	tr := &domain.Trade{
		ID:        "trade-1",
		Strategy:  strategy,
		Market:    "R_100",
		Stake:     stake,
		EntryTick: domain.Tick{Symbol: "R_100", Quote: 1234.50, Epoch: 1700000000, PipSize: 2},
		Status:    domain.StatusPending,
	}
	if err := tr.MarkPurchased("C1", "T1", stake, stake*1.95); err != nil {
		t.Fatalf("MarkPurchased: %v", err)
	}
	return tr
}

type settledLog struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (s *settledLog) add(t *domain.Trade) {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
}

func (s *settledLog) all() []*domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Trade(nil), s.trades...)
}

func f64(v float64) *float64 { return &v }

func TestReconciler_ForcedResolutionAt195s(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	chk := newFakeChecker()
	chk.open = true
	r := New(Config{}, fc, chk, quiet)
	defer r.Close()

	var settled settledLog
	r.OnSettled(settled.add)

	if err := r.Track(purchased(t, domain.StrategyEven, 1), false); err != nil {
		t.Fatalf("Track: %v", err)
	}

	fc.Advance(194 * time.Second)
	if len(settled.all()) != 0 {
		t.Fatal("settled before 195s")
	}
	if phase, _ := r.Phase("C1"); phase != PhaseFinalCheck {
		t.Errorf("phase at 194s = %s, want %s", phase, PhaseFinalCheck)
	}
	if chk.count("profit_table") != 1 || chk.count("portfolio") != 1 {
		t.Errorf("final check methods: %v", chk.calls)
	}

	fc.Advance(time.Second)
	got := settled.all()
	if len(got) != 1 {
		t.Fatalf("settled %d times, want 1", len(got))
	}
	tr := got[0]
	if tr.Status != domain.StatusLost || tr.Profit == nil || *tr.Profit != -1 {
		t.Errorf("forced trade: status=%s profit=%v", tr.Status, tr.Profit)
	}
	if tr.Error != ForcedResolutionMessage {
		t.Errorf("error = %q", tr.Error)
	}
	if r.Len() != 0 {
		t.Errorf("trade still tracked")
	}

	fc.Advance(10 * time.Minute)
	if len(settled.all()) != 1 {
		t.Error("settled again after forced resolution")
	}
}

func TestReconciler_PushSettlesOnceAndIgnoresRemoteProfit(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	r := New(Config{}, fc, newFakeChecker(), quiet)
	defer r.Close()

	var settled settledLog
	r.OnSettled(settled.add)
	r.Track(purchased(t, domain.StrategyEven, 1), false)

	u := Update{
		ContractID: "C1",
		Settled:    true,
		Status:     "won",
		ExitQuote:  f64(1234.58), // last digit 8 -> Even wins
		ExitEpoch:  1700000002,
		Profit:     f64(123),
		SellPrice:  f64(1.95),
	}
	if !r.HandleUpdate(u) {
		t.Fatal("first update did not settle")
	}
	if r.HandleUpdate(u) {
		t.Error("duplicate update settled again")
	}

	got := settled.all()
	if len(got) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(got))
	}
	tr := got[0]
	if tr.Status != domain.StatusWon || *tr.Profit != 0.95 {
		t.Errorf("status=%s profit=%v, want won 0.95", tr.Status, *tr.Profit)
	}
	if tr.ExitTick == nil || tr.ExitTick.LastDigit() != 8 {
		t.Errorf("exit tick = %+v", tr.ExitTick)
	}
}

func TestReconciler_SettlementStoresRemoteEntry(t *testing.T) {
	r := New(Config{}, clock.NewFake(time.Unix(1700000000, 0)), newFakeChecker(), quiet)
	defer r.Close()

	var settled settledLog
	r.OnSettled(settled.add)
	// Decided locally at 1234.50; the contract's own entry was 1235.00.
	r.Track(purchased(t, domain.StrategyRise, 1), false)

	if !r.HandleUpdate(Update{
		ContractID: "C1",
		Settled:    true,
		EntryQuote: f64(1235.00),
		ExitQuote:  f64(1234.80),
		ExitEpoch:  1700000001,
	}) {
		t.Fatal("update did not settle")
	}

	got := settled.all()
	if len(got) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(got))
	}
	tr := got[0]
	if tr.Status != domain.StatusLost {
		t.Errorf("status = %s, want lost", tr.Status)
	}
	if tr.EntryTick.Quote != 1235.00 {
		t.Errorf("entry quote = %v, want 1235.00", tr.EntryTick.Quote)
	}
	won := tr.Strategy.Wins(0, tr.EntryTick, *tr.ExitTick)
	if won != (tr.Status == domain.StatusWon) {
		t.Errorf("stored entry %v / exit %v give won=%v, status %s",
			tr.EntryTick.Quote, tr.ExitTick.Quote, won, tr.Status)
	}
}

func TestReconciler_OpenUpdateIgnored(t *testing.T) {
	r := New(Config{}, clock.NewFake(time.Unix(0, 0)), newFakeChecker(), quiet)
	defer r.Close()
	r.Track(purchased(t, domain.StrategyEven, 1), false)

	if r.HandleUpdate(Update{ContractID: "C1", Status: "open", Profit: f64(0.2)}) {
		t.Error("open update settled the trade")
	}
	if r.HandleUpdate(Update{ContractID: "unknown", Settled: true, Profit: f64(1)}) {
		t.Error("update for untracked contract settled something")
	}
	if r.Len() != 1 {
		t.Errorf("tracked = %d", r.Len())
	}
}

func TestReconciler_JustBoughtCheckAt3s(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	chk := newFakeChecker()
	chk.direct = func(id string) (*Update, error) {
		return &Update{ContractID: id, Settled: true, ExitQuote: f64(1234.57)}, nil
	}
	r := New(Config{}, fc, chk, quiet)
	defer r.Close()

	var settled settledLog
	r.OnSettled(settled.add)
	r.Track(purchased(t, domain.StrategyEven, 2), false)

	fc.Advance(2 * time.Second)
	if chk.count("direct") != 0 {
		t.Fatal("checked before 3s")
	}
	fc.Advance(time.Second)
	got := settled.all()
	if len(got) != 1 {
		t.Fatalf("not settled at 3s")
	}
	// exit digit 7 -> Even loses the full buy price
	if got[0].Status != domain.StatusLost || *got[0].Profit != -2 {
		t.Errorf("status=%s profit=%v", got[0].Status, *got[0].Profit)
	}
}

func TestReconciler_FastScheduleConfirmsAt1s(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	chk := newFakeChecker()
	r := New(Config{}, fc, chk, quiet)
	defer r.Close()
	r.Track(purchased(t, domain.StrategyOdd, 1), true)

	fc.Advance(time.Second)
	if chk.count("direct") != 1 {
		t.Fatalf("direct checks at 1s = %d, want 1", chk.count("direct"))
	}
	fc.Advance(28 * time.Second) // 3s..29s every 2s
	if n := chk.count("direct"); n != 15 {
		t.Errorf("direct checks by 29s = %d, want 15", n)
	}
}

func TestReconciler_ErrorsKeepEscalating(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	chk := newFakeChecker()
	chk.direct = func(string) (*Update, error) { return nil, errors.New("connection lost") }
	r := New(Config{}, fc, chk, quiet)
	defer r.Close()
	r.Track(purchased(t, domain.StrategyEven, 1), false)

	fc.Advance(10 * time.Second)
	if chk.count("direct") != 3 { // 3s, 5s, 10s
		t.Errorf("direct checks = %d, want 3", chk.count("direct"))
	}
	if phase, _ := r.Phase("C1"); phase != PhaseQuickPoll {
		t.Errorf("phase = %s", phase)
	}
}

func TestReconciler_FinalCheckUsesProfitTable(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	chk := newFakeChecker()
	chk.table = func(id string) (*Update, error) {
		return &Update{ContractID: id, Settled: true, Status: "sold", SellPrice: f64(1.95), BuyPrice: f64(1)}, nil
	}
	r := New(Config{}, fc, chk, quiet)
	defer r.Close()

	var settled settledLog
	r.OnSettled(settled.add)
	r.Track(purchased(t, domain.StrategyEven, 1), false)

	fc.Advance(180 * time.Second)
	got := settled.all()
	if len(got) != 1 {
		t.Fatal("final check did not settle")
	}
	if got[0].Status != domain.StatusWon || *got[0].Profit != 0.95 {
		t.Errorf("status=%s profit=%v", got[0].Status, *got[0].Profit)
	}
	if chk.count("portfolio") != 0 {
		t.Error("portfolio scanned after profit table resolved")
	}
}

func TestReconciler_SweepChecksOldTrades(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	chk := newFakeChecker()
	r := New(Config{}, fc, chk, quiet)
	defer r.Close()

	var settled settledLog
	r.OnSettled(settled.add)
	r.Track(purchased(t, domain.StrategyEven, 1), false)

	fc.Advance(31 * time.Second)
	before := chk.count("direct")

	chk.mu.Lock()
	chk.direct = func(id string) (*Update, error) {
		return &Update{ContractID: id, Settled: true, SellPrice: f64(0)}, nil
	}
	chk.mu.Unlock()

	r.runSweep()
	if chk.count("direct") != before+1 {
		t.Errorf("sweep did not check the trade")
	}
	got := settled.all()
	if len(got) != 1 || got[0].Status != domain.StatusLost || *got[0].Profit != -1 {
		t.Fatalf("sweep settlement = %+v", got)
	}
}

func TestReconciler_TrackValidation(t *testing.T) {
	r := New(Config{}, clock.NewFake(time.Unix(0, 0)), newFakeChecker(), quiet)
	defer r.Close()

	if err := r.Track(&domain.Trade{Status: domain.StatusPending}, false); !errors.Is(err, ErrNoContract) {
		t.Errorf("expected ErrNoContract, got %v", err)
	}
	done := purchased(t, domain.StrategyEven, 1)
	done.Fail(domain.StatusError, "x", time.Unix(0, 0))
	if err := r.Track(done, false); !errors.Is(err, domain.ErrTradeNotPending) {
		t.Errorf("expected ErrTradeNotPending, got %v", err)
	}
}

func TestReconciler_CloseStopsTimers(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	chk := newFakeChecker()
	r := New(Config{}, fc, chk, quiet)
	r.Track(purchased(t, domain.StrategyEven, 1), false)
	r.Close()

	fc.Advance(time.Hour)
	if chk.count("direct") != 0 {
		t.Errorf("checks after Close: %d", chk.count("direct"))
	}
	if fc.Pending() != 0 {
		t.Errorf("timers left: %d", fc.Pending())
	}
}

func TestSchedules(t *testing.T) {
	std := StandardSchedule()
	if std[0] != (Step{3 * time.Second, PhaseJustBought}) {
		t.Errorf("first step = %+v", std[0])
	}
	last := std[len(std)-1]
	if last != (Step{195 * time.Second, PhaseForceResolved}) {
		t.Errorf("last step = %+v", last)
	}
	if std[len(std)-2] != (Step{180 * time.Second, PhaseFinalCheck}) {
		t.Errorf("final check step = %+v", std[len(std)-2])
	}
	for i := 1; i < len(std); i++ {
		if std[i].At <= std[i-1].At {
			t.Fatalf("steps not increasing at %d: %v", i, std)
		}
	}

	fast := FastSchedule()
	if fast[0].At != time.Second || fast[1].At != 3*time.Second {
		t.Errorf("fast start = %v", fast[:2])
	}
}
