package domain

import "time"

// ContractTypePerformance aggregates settled outcomes for one strategy.
type ContractTypePerformance struct {
	Strategy      Strategy
	TotalTrades   int
	Wins          int
	Losses        int
	WinRate       float64 // wins / total trades
	AvgProfit     float64
	TotalProfit   float64
	LastUsed      time.Time
	RecentResults []bool // last MaxPerformanceWindow outcomes, oldest first; true = win
}

// Record folds one settled outcome into the aggregate.
func (p *ContractTypePerformance) Record(won bool, profit float64, at time.Time) {
	p.TotalTrades++
	if won {
		p.Wins++
	} else {
		p.Losses++
	}
	p.TotalProfit += profit
	p.WinRate = float64(p.Wins) / float64(p.TotalTrades)
	p.AvgProfit = p.TotalProfit / float64(p.TotalTrades)
	p.LastUsed = at

	p.RecentResults = append(p.RecentResults, won)
	if len(p.RecentResults) > MaxPerformanceWindow {
		p.RecentResults = p.RecentResults[len(p.RecentResults)-MaxPerformanceWindow:]
	}
}

// RecentWinRate returns the win rate over the last window outcomes and the
// number of outcomes it was computed from.
func (p *ContractTypePerformance) RecentWinRate(window int) (float64, int) {
	results := p.RecentResults
	if window > 0 && len(results) > window {
		results = results[len(results)-window:]
	}
	if len(results) == 0 {
		return 0, 0
	}
	wins := 0
	for _, r := range results {
		if r {
			wins++
		}
	}
	return float64(wins) / float64(len(results)), len(results)
}

// Clone returns a copy with its own outcome window.
func (p ContractTypePerformance) Clone() ContractTypePerformance {
	p.RecentResults = append([]bool(nil), p.RecentResults...)
	return p
}
