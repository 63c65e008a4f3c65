package domain

import "time"

// SessionSummary aggregates the settled trades of one session.
type SessionSummary struct {
	SessionID string
	From      time.Time
	To        time.Time

	// Counts
	TotalTrades int
	Wins        int
	Losses      int
	Errors      int // error or cancelled
	Pending     int
	WinRate     float64 // wins / (wins + losses)

	// Profit
	TotalProfit  float64
	ProfitMean   float64
	ProfitStddev float64
	TotalStaked  float64

	// Drawdown
	MaxDrawdown          float64 // worst peak-to-trough on cumulative profit
	MaxConsecutiveLosses int

	PerStrategy []StrategySummary
}

// StrategySummary is one row of the per-strategy breakdown.
type StrategySummary struct {
	Strategy    Strategy
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	TotalProfit float64
}

// PerformanceSnapshot is a point-in-time copy of one strategy's aggregate,
// written periodically to the time-series store.
type PerformanceSnapshot struct {
	SessionID   string
	TakenAt     time.Time
	Strategy    Strategy
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	TotalProfit float64
	RecentRate  float64
}
