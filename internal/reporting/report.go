package reporting

import (
	"time"

	"digit-trader/internal/domain"
)

// Report is the session report structure.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	SessionID   string

	Summary domain.SessionSummary

	// Strategy performance as last snapshotted (sorted by strategy)
	Performance []*domain.PerformanceSnapshot

	// Switch history (oldest first)
	Switches []SwitchRow

	// Trade ledger (created_at ASC)
	Trades []TradeRow
}

// SwitchRow is one strategy switch.
type SwitchRow struct {
	Time              time.Time
	From              domain.Strategy
	To                domain.Strategy
	Reason            string
	ConsecutiveLosses int
}

// TradeRow is one trade in the ledger table.
type TradeRow struct {
	TradeID    string
	CreatedAt  time.Time
	Strategy   domain.Strategy
	Mode       domain.ExecutionMode
	ContractID string
	Stake      float64
	Status     domain.TradeStatus
	Profit     *float64
	ExitDigit  *int
	Error      string
}
