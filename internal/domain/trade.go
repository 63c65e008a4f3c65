package domain

import (
	"errors"
	"time"
)

// TradeStatus is the lifecycle status of a trade.
type TradeStatus string

// Trade status constants
const (
	StatusPending   TradeStatus = "pending"
	StatusWon       TradeStatus = "won"
	StatusLost      TradeStatus = "lost"
	StatusCancelled TradeStatus = "cancelled"
	StatusError     TradeStatus = "error"
)

// Terminal reports whether the status is final.
func (s TradeStatus) Terminal() bool {
	return s != StatusPending
}

// Domain errors.
var (
	ErrUnknownStrategy  = errors.New("unknown strategy")
	ErrMissingMarket    = errors.New("market is required")
	ErrInvalidStake     = errors.New("invalid stake")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrTradeNotPending  = errors.New("trade is not pending")
	ErrContractAssigned = errors.New("contract id already assigned")
	ErrInvalidSettle    = errors.New("settlement status must be won or lost")
	ErrInvalidFailure   = errors.New("failure status must be error or cancelled")
)

// Trade is one purchase attempt.
type Trade struct {
	ID           string // uuid
	SessionID    string
	CreatedAt    time.Time
	Strategy     Strategy
	Market       string
	ContractType ContractType
	Barrier      *int // barrier / prediction digit (digit contracts only)
	Stake        float64
	Duration     int // ticks
	Mode         ExecutionMode
	GroupID      string // straddle group; empty for single-leg trades

	// Entry / exit
	EntryTick Tick
	ExitTick  *Tick

	// Exchange references, set once on purchase acknowledgement
	ContractID    string
	TransactionID string
	BuyPrice      *float64
	Payout        *float64
	SellPrice     *float64

	// Outcome
	Status    TradeStatus
	Error     string
	Profit    *float64 // set iff Status is won or lost
	SettledAt *time.Time
}

// Clone returns a deep copy so callers can't mutate engine state.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	c.Barrier = clonePtr(t.Barrier)
	c.BuyPrice = clonePtr(t.BuyPrice)
	c.Payout = clonePtr(t.Payout)
	c.SellPrice = clonePtr(t.SellPrice)
	c.Profit = clonePtr(t.Profit)
	c.ExitTick = clonePtr(t.ExitTick)
	c.SettledAt = clonePtr(t.SettledAt)
	return &c
}

// MarkPurchased records the purchase acknowledgement. The contract id is
// assigned at most once.
func (t *Trade) MarkPurchased(contractID, transactionID string, buyPrice, payout float64) error {
	if t.Status != StatusPending {
		return ErrTradeNotPending
	}
	if t.ContractID != "" {
		return ErrContractAssigned
	}
	t.ContractID = contractID
	t.TransactionID = transactionID
	t.BuyPrice = &buyPrice
	t.Payout = &payout
	return nil
}

// Settle moves a pending trade to won or lost.
func (t *Trade) Settle(status TradeStatus, profit float64, exit *Tick, sellPrice *float64, at time.Time) error {
	if t.Status != StatusPending {
		return ErrTradeNotPending
	}
	if status != StatusWon && status != StatusLost {
		return ErrInvalidSettle
	}
	t.Status = status
	t.Profit = &profit
	t.ExitTick = clonePtr(exit)
	if sellPrice != nil {
		t.SellPrice = clonePtr(sellPrice)
	}
	t.SettledAt = &at
	return nil
}

// Fail moves a pending trade to error or cancelled. Profit stays unset.
func (t *Trade) Fail(status TradeStatus, msg string, at time.Time) error {
	if t.Status != StatusPending {
		return ErrTradeNotPending
	}
	if status != StatusError && status != StatusCancelled {
		return ErrInvalidFailure
	}
	t.Status = status
	t.Error = msg
	t.SettledAt = &at
	return nil
}

// CostBasis is what the trade put at risk: the acknowledged buy price or
// the requested stake.
func (t *Trade) CostBasis() float64 {
	if t.BuyPrice != nil {
		return *t.BuyPrice
	}
	return t.Stake
}

// ProfitOrZero returns the realized profit, zero when none.
func (t *Trade) ProfitOrZero() float64 {
	if t.Profit == nil {
		return 0
	}
	return *t.Profit
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
