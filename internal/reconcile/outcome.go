package reconcile

import (
	"github.com/shopspring/decimal"

	"digit-trader/internal/deriv"
	"digit-trader/internal/domain"
)

// Update is a normalized contract status, from a push or a query.
type Update struct {
	ContractID string
	Settled    bool
	Status     string
	BuyPrice   *float64
	Payout     *float64
	SellPrice  *float64
	Profit     *float64 // as reported remotely; last resort only
	EntryQuote *float64
	ExitQuote  *float64
	ExitEpoch  int64
}

var terminalStatuses = map[string]bool{
	"sold":    true,
	"expired": true,
	"won":     true,
	"lost":    true,
}

// FromContract normalizes a proposal_open_contract payload. A contract is
// terminal on an explicit settled/expired/sold flag, a terminal status
// string, a positive sell price, or a profit field. An explicit "open"
// status outranks the sell price and profit heuristics, since open
// contracts report a running profit.
func FromContract(c deriv.ContractStatus) Update {
	u := Update{
		ContractID: string(c.ContractID),
		Status:     c.Status,
		SellPrice:  c.SellPrice.Ptr(),
		Profit:     c.Profit.Ptr(),
		EntryQuote: c.EntryTick.Ptr(),
		ExitQuote:  c.ExitTick.Ptr(),
		ExitEpoch:  c.ExitTickTime,
	}
	if c.BuyPrice != 0 {
		v := float64(c.BuyPrice)
		u.BuyPrice = &v
	}
	if c.Payout != 0 {
		v := float64(c.Payout)
		u.Payout = &v
	}

	switch {
	case c.IsSettled == 1 || c.IsExpired == 1 || c.IsSold == 1:
		u.Settled = true
	case terminalStatuses[c.Status]:
		u.Settled = true
	case c.Status == "open":
		u.Settled = false
	case u.SellPrice != nil && *u.SellPrice > 0:
		u.Settled = true
	case u.Profit != nil:
		u.Settled = true
	}
	return u
}

// Outcome is the authoritative settlement of a trade.
type Outcome struct {
	Status    domain.TradeStatus
	Profit    float64
	Entry     *domain.Tick // remote entry the result was decided against
	Exit      *domain.Tick
	SellPrice *float64
	Source    string // exit_tick, sell_price or remote_profit
}

// ComputeOutcome derives the outcome from the entry tick, the exit quote
// and the contract parameters. A remote entry quote replaces the stored one. Without an exit quote it falls back to
// sell minus buy price, and only then to the remote profit field.
func ComputeOutcome(t *domain.Trade, u Update) (Outcome, bool) {
	buy := decimal.NewFromFloat(t.CostBasis())
	if t.BuyPrice == nil && u.BuyPrice != nil {
		buy = decimal.NewFromFloat(*u.BuyPrice)
	}
	payout := decimal.Zero
	switch {
	case t.Payout != nil:
		payout = decimal.NewFromFloat(*t.Payout)
	case u.Payout != nil:
		payout = decimal.NewFromFloat(*u.Payout)
	}

	if u.ExitQuote != nil {
		entry := t.EntryTick
		if u.EntryQuote != nil {
			entry.Quote = *u.EntryQuote
		}
		exit := domain.Tick{
			Symbol:  t.Market,
			Quote:   *u.ExitQuote,
			Epoch:   u.ExitEpoch,
			PipSize: t.EntryTick.PipSize,
		}
		barrier := 0
		if t.Barrier != nil {
			barrier = *t.Barrier
		}
		out := Outcome{Entry: &entry, Exit: &exit, SellPrice: u.SellPrice, Source: "exit_tick"}
		if t.Strategy.Wins(barrier, entry, exit) {
			out.Status = domain.StatusWon
			out.Profit = payout.Sub(buy).Round(2).InexactFloat64()
		} else {
			out.Status = domain.StatusLost
			out.Profit = buy.Neg().Round(2).InexactFloat64()
		}
		return out, true
	}

	if u.SellPrice != nil {
		profit := decimal.NewFromFloat(*u.SellPrice).Sub(buy).Round(2)
		return Outcome{
			Status:    statusFor(profit),
			Profit:    profit.InexactFloat64(),
			SellPrice: u.SellPrice,
			Source:    "sell_price",
		}, true
	}

	if u.Profit != nil {
		profit := decimal.NewFromFloat(*u.Profit).Round(2)
		return Outcome{Status: statusFor(profit), Profit: profit.InexactFloat64(), Source: "remote_profit"}, true
	}
	return Outcome{}, false
}

func statusFor(profit decimal.Decimal) domain.TradeStatus {
	if profit.IsPositive() {
		return domain.StatusWon
	}
	return domain.StatusLost
}
