package metrics

import (
	"math"
	"sort"

	"digit-trader/internal/domain"
)

// Summarize calculates the session summary from a slice of trades.
// Trades are sorted by CreatedAt ASC, ID ASC before computing
// order-dependent metrics (MaxDrawdown, MaxConsecutiveLosses).
// Profit statistics cover settled trades only.
func Summarize(trades []*domain.Trade) domain.SessionSummary {
	var sum domain.SessionSummary
	n := len(trades)
	if n == 0 {
		return sum
	}

	sorted := make([]*domain.Trade, n)
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	sum.SessionID = sorted[0].SessionID
	sum.From = sorted[0].CreatedAt
	sum.To = sorted[n-1].CreatedAt
	sum.TotalTrades = n

	var outcomes []float64
	var settled []*domain.Trade
	for _, t := range sorted {
		switch t.Status {
		case domain.StatusWon:
			sum.Wins++
		case domain.StatusLost:
			sum.Losses++
		case domain.StatusPending:
			sum.Pending++
			continue
		default:
			sum.Errors++
			continue
		}
		sum.TotalStaked += t.CostBasis()
		outcomes = append(outcomes, t.ProfitOrZero())
		settled = append(settled, t)
		if t.SettledAt != nil && t.SettledAt.After(sum.To) {
			sum.To = *t.SettledAt
		}
	}

	mean := computeMean(outcomes)
	sum.WinRate = computeWinRate(sum.Wins, sum.Wins+sum.Losses)
	sum.TotalProfit = computeSum(outcomes)
	sum.ProfitMean = mean
	sum.ProfitStddev = computeStddev(outcomes, mean)
	sum.MaxDrawdown = computeMaxDrawdown(outcomes)
	sum.MaxConsecutiveLosses = computeMaxConsecutiveLosses(settled)
	sum.PerStrategy = computePerStrategy(settled)
	return sum
}

// computePerStrategy groups settled trades by strategy, ordered by strategy name.
func computePerStrategy(settled []*domain.Trade) []domain.StrategySummary {
	byStrategy := make(map[domain.Strategy]*domain.StrategySummary)
	for _, t := range settled {
		row, ok := byStrategy[t.Strategy]
		if !ok {
			row = &domain.StrategySummary{Strategy: t.Strategy}
			byStrategy[t.Strategy] = row
		}
		row.TotalTrades++
		if t.Status == domain.StatusWon {
			row.Wins++
		} else {
			row.Losses++
		}
		row.TotalProfit += t.ProfitOrZero()
	}

	rows := make([]domain.StrategySummary, 0, len(byStrategy))
	for _, row := range byStrategy {
		row.WinRate = computeWinRate(row.Wins, row.TotalTrades)
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Strategy < rows[j].Strategy
	})
	return rows
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

func computeSum(outcomes []float64) float64 {
	total := 0.0
	for _, o := range outcomes {
		total += o
	}
	return total
}

// computeMean calculates arithmetic mean of outcomes.
func computeMean(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	return computeSum(outcomes) / float64(len(outcomes))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(outcomes []float64, mean float64) float64 {
	n := len(outcomes)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range outcomes {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computeMaxDrawdown calculates worst peak-to-trough on cumulative profit.
// Outcomes must be in chronological order.
func computeMaxDrawdown(outcomes []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, o := range outcomes {
		cumulative += o
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds the longest run of lost trades.
// Trades must be in chronological order.
func computeMaxConsecutiveLosses(trades []*domain.Trade) int {
	maxStreak := 0
	currentStreak := 0

	for _, t := range trades {
		if t.Status == domain.StatusLost {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}
