package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	s := r.Summary

	// Header
	sb.WriteString("# Session Report\n\n")
	sb.WriteString(fmt.Sprintf("Session: %s\n\n", r.SessionID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Period | %s to %s |\n", formatTime(s.From), formatTime(s.To)))
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", s.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Wins | %d |\n", s.Wins))
	sb.WriteString(fmt.Sprintf("| Losses | %d |\n", s.Losses))
	sb.WriteString(fmt.Sprintf("| Errors | %d |\n", s.Errors))
	sb.WriteString(fmt.Sprintf("| Pending | %d |\n", s.Pending))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.2f%% |\n", s.WinRate*100))
	sb.WriteString(fmt.Sprintf("| Total Staked | %.2f |\n", s.TotalStaked))
	sb.WriteString(fmt.Sprintf("| Total Profit | %.2f |\n", s.TotalProfit))
	sb.WriteString(fmt.Sprintf("| Mean Profit | %.4f |\n", s.ProfitMean))
	sb.WriteString(fmt.Sprintf("| Profit Stddev | %.4f |\n", s.ProfitStddev))
	sb.WriteString(fmt.Sprintf("| Max Drawdown | %.2f |\n", s.MaxDrawdown))
	sb.WriteString(fmt.Sprintf("| Max Consecutive Losses | %d |\n", s.MaxConsecutiveLosses))
	sb.WriteString("\n")

	// Per-strategy breakdown
	sb.WriteString("## Strategies\n\n")
	if len(s.PerStrategy) > 0 {
		sb.WriteString("| Strategy | Trades | Wins | Losses | WinRate | Profit |\n")
		sb.WriteString("|----------|--------|------|--------|---------|--------|\n")
		for _, row := range s.PerStrategy {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %.4f | %.2f |\n",
				row.Strategy, row.TotalTrades, row.Wins, row.Losses, row.WinRate, row.TotalProfit))
		}
	} else {
		sb.WriteString("No settled trades.\n")
	}
	sb.WriteString("\n")

	// Performance snapshots
	if len(r.Performance) > 0 {
		sb.WriteString("## Latest Performance Snapshot\n\n")
		sb.WriteString("| Strategy | Taken | Trades | WinRate | Recent | Profit |\n")
		sb.WriteString("|----------|-------|--------|---------|--------|--------|\n")
		for _, p := range r.Performance {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %.4f | %.4f | %.2f |\n",
				p.Strategy, formatTime(p.TakenAt), p.TotalTrades, p.WinRate, p.RecentRate, p.TotalProfit))
		}
		sb.WriteString("\n")
	}

	// Switches
	sb.WriteString("## Strategy Switches\n\n")
	if len(r.Switches) > 0 {
		sb.WriteString("| Time | From | To | Reason | Losses |\n")
		sb.WriteString("|------|------|----|--------|--------|\n")
		for _, sw := range r.Switches {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d |\n",
				formatTime(sw.Time), sw.From, sw.To, sw.Reason, sw.ConsecutiveLosses))
		}
	} else {
		sb.WriteString("No strategy switches.\n")
	}
	sb.WriteString("\n")

	// Trades
	sb.WriteString("## Trades\n\n")
	if len(r.Trades) > 0 {
		sb.WriteString("| Created | Strategy | Mode | Contract | Stake | Status | Digit | Profit |\n")
		sb.WriteString("|---------|----------|------|----------|-------|--------|-------|--------|\n")
		for _, t := range r.Trades {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %.2f | %s | %s | %s |\n",
				formatTime(t.CreatedAt), t.Strategy, t.Mode, dash(t.ContractID), t.Stake,
				statusCell(t), digitCell(t.ExitDigit), profitCell(t.Profit)))
		}
	} else {
		sb.WriteString("No trades.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func statusCell(t TradeRow) string {
	if t.Error != "" {
		return fmt.Sprintf("%s (%s)", t.Status, t.Error)
	}
	return string(t.Status)
}

func digitCell(d *int) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *d)
}

func profitCell(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}
