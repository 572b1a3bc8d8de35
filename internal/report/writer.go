package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var csvHeader = []string{
	"id", "timestamp", "symbol", "type", "side", "leg",
	"amount", "price", "fees", "funding_rate", "profit",
}

// WriteReport renders summary.txt and trade_history.csv into a timestamped
// directory under the report dir. It returns "" when there is nothing to
// report.
func (r *Recorder) WriteReport(now time.Time) (string, error) {
	trades := r.Trades()
	if len(trades) == 0 {
		r.log.Warn("no trades to report")
		return "", nil
	}
	dir := filepath.Join(r.dir, now.UTC().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.txt"), []byte(r.Summary().Text()), 0o644); err != nil {
		return "", err
	}
	if err := writeTradeCSV(filepath.Join(dir, "trade_history.csv"), trades); err != nil {
		return "", err
	}
	r.log.Info("performance report written", zap.String("dir", dir))
	return dir, nil
}

func (s Summary) Text() string {
	var b strings.Builder
	b.WriteString("Trading Performance Summary\n")
	b.WriteString("===========================\n\n")
	if s.TotalTrades == 0 {
		b.WriteString("Status: No trades executed yet\n")
	}
	fmt.Fprintf(&b, "Initial Balance: %.2f\n", s.InitialBalance)
	fmt.Fprintf(&b, "Current Balance: %.2f\n", s.CurrentBalance)
	if s.TotalTrades == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Total Profit: %.4f\n", s.TotalProfit)
	fmt.Fprintf(&b, "Total Trades: %d\n", s.TotalTrades)
	fmt.Fprintf(&b, "Winning Trades: %d\n", s.WinningTrades)
	fmt.Fprintf(&b, "Losing Trades: %d\n", s.LosingTrades)
	fmt.Fprintf(&b, "Win Rate: %.2f%%\n", s.WinRate)
	fmt.Fprintf(&b, "Total Fees: %.4f\n", s.TotalFees)
	fmt.Fprintf(&b, "Max Drawdown: %.2f%%\n", s.MaxDrawdown*100)
	fmt.Fprintf(&b, "Profit Factor: %.4f\n", s.ProfitFactor)
	return b.String()
}

func writeTradeCSV(path string, trades []TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return err
	}
	for _, t := range trades {
		row := []string{
			t.ID,
			t.Timestamp.Format(time.RFC3339),
			t.Symbol,
			string(t.Type),
			string(t.Side),
			string(t.Leg),
			formatFloat(t.Amount),
			formatFloat(t.Price),
			formatFloat(t.Fees),
			formatFloat(t.FundingRate),
			formatFloat(t.Profit),
		}
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
