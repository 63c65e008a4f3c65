package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"digit-trader/internal/deriv"
	"digit-trader/internal/domain"
	"digit-trader/internal/executor"
	"digit-trader/internal/observability"
	"digit-trader/internal/reconcile"
	"digit-trader/internal/session"
	"digit-trader/internal/switching"
)

// handleMessage receives stream traffic on the session's read goroutine.
// It must never wait on a request.
func (e *Engine) handleMessage(msg deriv.Message) {
	switch m := msg.(type) {
	case *deriv.TickMessage:
		t := m.ToTick()
		e.mu.Lock()
		market := e.cfg.Market
		e.mu.Unlock()
		if market != "" && t.Symbol != market {
			return
		}
		if e.feed.Push(t) {
			observability.RecordTick(t.Symbol, t.Epoch)
		} else {
			observability.RecordDuplicateTick()
		}

	case *deriv.OpenContractMessage:
		e.recon.HandleUpdate(reconcile.FromContract(m.Contract))

	case *deriv.BalanceMessage:
		bal := float64(m.Balance.Balance)
		e.mu.Lock()
		e.balance = bal
		e.mu.Unlock()
		observability.UpdateBalance(bal)
		e.emitStatus()
	}
}

// onTick runs for every tick the feed accepts. At the concurrency ceiling
// one trade waits for a slot; ticks arriving meanwhile fold into it.
func (e *Engine) onTick(t domain.Tick, index uint64) {
	e.persist.tick(t)
	e.events.emit(Event{Type: EventTick, Time: e.clock.Now(), Tick: &t})

	e.mu.Lock()
	if !e.running || e.closed {
		e.mu.Unlock()
		return
	}
	due := e.switchDue
	rk := e.risk
	waiting := e.queued > 0
	if !waiting {
		e.queued++
	}
	e.mu.Unlock()

	if due {
		e.evaluateSwitch(rk.ConsecutiveLosses())
	}
	if waiting {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.executeTrade(context.Background(), true)
		switch {
		case err == nil, errors.Is(err, ErrDuplicateTick), errors.Is(err, ErrNotRunning), errors.Is(err, ErrClosed):
		default:
			e.logger.Printf("trade on tick %d: %v", index, err)
		}
	}()
}

// ExecuteTrade places one trade on the latest tick with the risk
// controller's stake and the active strategy. A straddle returns both legs.
// At the ceiling the call waits for a slot; the preconditions, stake and
// strategy are taken again once it has one.
func (e *Engine) ExecuteTrade(ctx context.Context) ([]*domain.Trade, error) {
	return e.executeTrade(ctx, false)
}

// executeTrade is ExecuteTrade for a caller that may already have counted
// the trade as queued.
func (e *Engine) executeTrade(ctx context.Context, reserved bool) ([]*domain.Trade, error) {
	e.mu.Lock()
	if !reserved {
		e.queued++
	}
	in, mode, err := e.prepareLocked()
	if err != nil {
		e.queued--
		e.mu.Unlock()
		return nil, err
	}
	e.submitting++
	exec := e.exec
	in.Wait = e.run
	if mode == domain.ModeStraddle {
		in.Barrier = *e.cfg.StraddleBarrier
	}
	e.mu.Unlock()

	dequeue := sync.OnceFunc(func() {
		e.mu.Lock()
		e.queued--
		e.mu.Unlock()
	})
	in.Admit = func(next *executor.Intent) error {
		dequeue()
		return e.admit(next, mode)
	}
	defer func() {
		dequeue()
		e.mu.Lock()
		e.submitting--
		e.mu.Unlock()
	}()

	var trades []*domain.Trade
	switch mode {
	case domain.ModeFast:
		var t *domain.Trade
		t, err = exec.ExecuteFast(ctx, in)
		trades = single(t)
	case domain.ModeStraddle:
		trades, err = exec.ExecuteStraddle(ctx, in)
	default:
		var t *domain.Trade
		t, err = exec.Execute(ctx, in)
		trades = single(t)
	}
	if errors.Is(err, executor.ErrWithdrawn) {
		return nil, ErrNotRunning
	}
	return trades, err
}

// admit re-checks a trade that holds its slot. Outcomes may have settled
// while it waited, so the stake, strategy and entry tick are taken again.
func (e *Engine) admit(in *executor.Intent, mode domain.ExecutionMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case !e.running, in.SessionID != e.sessionID:
		return ErrNotRunning
	case !e.sess.Authorized():
		return ErrNotAuthorized
	}

	stake := e.risk.NextStake()
	if stake <= 0 {
		return fmt.Errorf("%w: %.2f", domain.ErrInvalidStake, stake)
	}
	in.Stake = stake
	if mode != domain.ModeStraddle {
		in.Strategy = e.switcher.Active()
	}
	if tick, index, ok := e.feed.Latest(); ok && index > e.lastIndex {
		in.Entry = tick
		e.lastIndex = index
	}
	return nil
}

func single(t *domain.Trade) []*domain.Trade {
	if t == nil {
		return nil
	}
	return []*domain.Trade{t}
}

// prepareLocked checks the trade preconditions and claims the latest tick.
func (e *Engine) prepareLocked() (executor.Intent, domain.ExecutionMode, error) {
	switch {
	case e.closed:
		return executor.Intent{}, "", ErrClosed
	case !e.initialized:
		return executor.Intent{}, "", ErrNotInitialized
	case !e.running:
		return executor.Intent{}, "", ErrNotRunning
	case !e.sess.Authorized():
		return executor.Intent{}, "", ErrNotAuthorized
	}

	tick, index, ok := e.feed.Latest()
	if !ok {
		return executor.Intent{}, "", ErrNoTick
	}
	if e.cfg.Market == "" {
		return executor.Intent{}, "", domain.ErrMissingMarket
	}
	stake := e.risk.NextStake()
	if stake <= 0 {
		return executor.Intent{}, "", fmt.Errorf("%w: %.2f", domain.ErrInvalidStake, stake)
	}
	if e.hasTraded && index <= e.lastIndex {
		return executor.Intent{}, "", ErrDuplicateTick
	}
	e.hasTraded = true
	e.lastIndex = index

	return executor.Intent{
		SessionID: e.sessionID,
		Strategy:  e.switcher.Active(),
		Market:    e.cfg.Market,
		Currency:  e.cfg.Currency,
		Stake:     stake,
		TickCount: e.cfg.TickCount,
		Barrier:   e.cfg.Barrier,
		Entry:     tick,
	}, e.cfg.Mode, nil
}

// onTradeUpdate records executor-side transitions: creation, purchase and
// failure.
func (e *Engine) onTradeUpdate(t *domain.Trade) {
	e.mu.Lock()
	current := t.SessionID == e.sessionID
	ok := current && e.recordLocked(t)
	var won, complete bool
	var profit float64
	if ok && t.GroupID != "" && t.Status.Terminal() {
		if g, found := e.groups[t.GroupID]; found {
			won, profit, complete = e.closeGroupLocked(t.GroupID, g)
		}
	}
	e.mu.Unlock()
	if !current {
		// Left over from a reset session: stored, not reported.
		e.persist.trade(t.Clone())
		return
	}
	if !ok {
		return
	}
	e.persist.trade(t.Clone())
	e.events.emit(Event{Type: EventTrade, Time: e.clock.Now(), Trade: t.Clone()})
	if complete {
		e.applyOutcome(won, profit)
	}
}

// recordLocked writes t into the ledger. A terminal entry is never
// replaced; returns false when t changed nothing.
func (e *Engine) recordLocked(t *domain.Trade) bool {
	if i, ok := e.byID[t.ID]; ok {
		cur := e.ledger[i]
		if cur.Status.Terminal() {
			return false
		}
		if !t.Status.Terminal() && cur.ContractID != "" && t.ContractID == "" {
			return false
		}
		e.ledger[i] = t.Clone()
		return true
	}
	e.byID[t.ID] = len(e.ledger)
	e.ledger = append(e.ledger, t.Clone())
	if t.GroupID != "" {
		g, ok := e.groups[t.GroupID]
		if !ok {
			g = &straddle{}
			e.groups[t.GroupID] = g
		}
		g.legs++
	}
	return true
}

func (e *Engine) onSessionState(s session.State) {
	observability.SetSessionState(string(s))
	if s == session.StateError || s == session.StateUnauthorized {
		e.halt(StopSessionFailed)
		return
	}
	e.emitStatus()
}

// evaluateSwitch runs the loss-triggered switch. A cooldown refusal keeps
// the evaluation due so later ticks retry it.
func (e *Engine) evaluateSwitch(losses int) {
	e.mu.Lock()
	sw := e.switcher
	e.mu.Unlock()

	_, err := sw.Evaluate(losses, e.feed.Signals())
	due := errors.Is(err, switching.ErrSwitchCooldown)
	if err != nil && !due {
		e.logger.Printf("switch refused: %v", err)
	}

	e.mu.Lock()
	e.switchDue = due
	e.mu.Unlock()
}
