package reconcile

import (
	"context"
	"fmt"

	"digit-trader/internal/deriv"
)

// Checker looks up a contract's status by three independent methods.
// A nil update means the method found nothing conclusive.
type Checker interface {
	// ContractStatus queries the contract directly.
	ContractStatus(ctx context.Context, contractID string) (*Update, error)
	// ProfitTable searches recently closed contracts.
	ProfitTable(ctx context.Context, contractID string) (*Update, error)
	// Portfolio reports whether the contract is still among open positions.
	Portfolio(ctx context.Context, contractID string) (open bool, err error)
}

// Requester sends a request and awaits its reply.
type Requester interface {
	Request(ctx context.Context, req deriv.Request) (deriv.Message, error)
}

// ProfitTableLimit is how many closed contracts the alternate lookup scans.
const ProfitTableLimit = 50

// SessionChecker implements Checker over the streaming API.
type SessionChecker struct {
	r Requester
}

// NewSessionChecker creates a checker using r.
func NewSessionChecker(r Requester) *SessionChecker {
	return &SessionChecker{r: r}
}

func (c *SessionChecker) ContractStatus(ctx context.Context, contractID string) (*Update, error) {
	msg, err := c.r.Request(ctx, deriv.NewOpenContract(contractID))
	if err != nil {
		return nil, err
	}
	oc, ok := msg.(*deriv.OpenContractMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %s", msg.Type())
	}
	if oc.Contract.ContractID == "" {
		return nil, nil
	}
	u := FromContract(oc.Contract)
	return &u, nil
}

func (c *SessionChecker) ProfitTable(ctx context.Context, contractID string) (*Update, error) {
	msg, err := c.r.Request(ctx, deriv.NewProfitTable(ProfitTableLimit))
	if err != nil {
		return nil, err
	}
	pt, ok := msg.(*deriv.ProfitTableMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %s", msg.Type())
	}
	for _, tx := range pt.ProfitTable.Transactions {
		if string(tx.ContractID) != contractID {
			continue
		}
		buy, sell, payout := float64(tx.BuyPrice), float64(tx.SellPrice), float64(tx.Payout)
		return &Update{
			ContractID: contractID,
			Settled:    true,
			Status:     "sold",
			BuyPrice:   &buy,
			SellPrice:  &sell,
			Payout:     &payout,
		}, nil
	}
	return nil, nil
}

func (c *SessionChecker) Portfolio(ctx context.Context, contractID string) (bool, error) {
	msg, err := c.r.Request(ctx, deriv.NewPortfolio())
	if err != nil {
		return false, err
	}
	pf, ok := msg.(*deriv.PortfolioMessage)
	if !ok {
		return false, fmt.Errorf("unexpected reply %s", msg.Type())
	}
	for _, pc := range pf.Portfolio.Contracts {
		if string(pc.ContractID) == contractID {
			return true, nil
		}
	}
	return false, nil
}
