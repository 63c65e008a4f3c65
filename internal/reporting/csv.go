package reporting

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// RenderCSV renders the trade ledger as CSV string.
func RenderCSV(rows []TradeRow) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	_ = w.Write([]string{
		"trade_id", "created_at", "strategy", "mode", "contract_id",
		"stake", "status", "exit_digit", "profit", "error",
	})
	for _, t := range rows {
		profit := ""
		if t.Profit != nil {
			profit = fmt.Sprintf("%.2f", *t.Profit)
		}
		digit := ""
		if t.ExitDigit != nil {
			digit = fmt.Sprintf("%d", *t.ExitDigit)
		}
		_ = w.Write([]string{
			t.TradeID,
			formatTime(t.CreatedAt),
			string(t.Strategy),
			string(t.Mode),
			t.ContractID,
			fmt.Sprintf("%.2f", t.Stake),
			string(t.Status),
			digit,
			profit,
			t.Error,
		})
	}
	w.Flush()
	return sb.String()
}
