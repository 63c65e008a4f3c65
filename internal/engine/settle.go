package engine

import (
	"digit-trader/internal/domain"
	"digit-trader/internal/observability"
)

// onSettled handles a trade the reconciler resolved. It runs synchronously:
// performance, risk, reset-on-win, stop conditions and the switch check all
// complete before it returns.
//
// The trade's concurrency slot is released last, so a waiting trade is
// admitted only against the updated risk state.
func (e *Engine) onSettled(t *domain.Trade) {
	defer e.release(t.ID)

	e.mu.Lock()
	if t.SessionID != e.sessionID {
		e.mu.Unlock()
		e.persist.trade(t.Clone())
		return
	}
	if !e.recordLocked(t) {
		e.mu.Unlock()
		return
	}
	won, profit, complete := e.groupOutcomeLocked(t)
	sw := e.switcher
	e.mu.Unlock()

	observability.RecordTradeTerminal(string(t.Strategy), string(t.Status))
	e.persist.trade(t.Clone())
	e.events.emit(Event{Type: EventTrade, Time: e.clock.Now(), Trade: t.Clone()})

	sw.RecordOutcome(t.Strategy, t.Status == domain.StatusWon, t.ProfitOrZero(), e.clock.Now())
	if complete {
		e.applyOutcome(won, profit)
	}
}

func (e *Engine) release(tradeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked(tradeID)
}

func (e *Engine) releaseLocked(tradeID string) {
	for _, x := range e.retired {
		x.Release(tradeID)
	}
	if e.exec != nil {
		e.exec.Release(tradeID)
	}
}

// applyOutcome feeds one session-level outcome to the risk controller and
// acts on its decision.
func (e *Engine) applyOutcome(won bool, profit float64) {
	e.mu.Lock()
	rk, sw, cfg := e.risk, e.switcher, e.cfg
	e.mu.Unlock()

	dec := rk.RecordOutcome(won, profit)
	losses := rk.ConsecutiveLosses()
	observability.UpdateRiskState(losses, rk.TotalProfit())

	if won {
		sw.HandleWin(losses)
	} else if cfg.SwitchOnLoss && losses >= cfg.LossThreshold {
		e.evaluateSwitch(losses)
	}

	if dec.Stop {
		e.halt(dec.Reason)
		return
	}
	e.emitStatus()
}

// groupOutcomeLocked folds a settled trade into its straddle group. Single
// trades are complete at once; a group completes once every leg is
// terminal and wins when the legs' combined profit is positive.
func (e *Engine) groupOutcomeLocked(t *domain.Trade) (won bool, profit float64, complete bool) {
	if t.GroupID == "" {
		return t.Status == domain.StatusWon, t.ProfitOrZero(), true
	}
	g, ok := e.groups[t.GroupID]
	if !ok {
		return t.Status == domain.StatusWon, t.ProfitOrZero(), true
	}
	g.settled++
	g.profit += t.ProfitOrZero()
	return e.closeGroupLocked(t.GroupID, g)
}

// closeGroupLocked completes the group if no leg is still pending. Legs
// that failed at purchase count as done; a group without any settled leg
// produces no outcome.
func (e *Engine) closeGroupLocked(id string, g *straddle) (won bool, profit float64, complete bool) {
	terminal := 0
	for _, t := range e.ledger {
		if t.GroupID == id && t.Status.Terminal() {
			terminal++
		}
	}
	if terminal < g.legs {
		return false, 0, false
	}
	delete(e.groups, id)
	if g.settled == 0 {
		return false, 0, false
	}
	return g.profit > 0, g.profit, true
}

// onSwitch is the switch controller's notification.
func (e *Engine) onSwitch(ev domain.SwitchEvent) {
	observability.RecordSwitch(string(ev.To))
	e.logger.Printf("switched %s -> %s (%s) after %d losses", ev.From, ev.To, ev.Reason, ev.ConsecutiveLosses)
	e.persist.switchEvent(&ev)
	e.events.emit(Event{Type: EventSwitch, Time: ev.Timestamp, Switch: &ev})
}
