package alerts

import (
	"fmt"
	"strings"
)

func EntryMessage(symbol string, size, amount, rate, expectedNet float64) string {
	return fmt.Sprintf("Opened %s carry: %.2f quote (%.6f base) at funding %.4f%%, expected net %.4f",
		symbol, size, amount, rate*100, expectedNet)
}

func ExitMessage(symbol, reason string, profit float64) string {
	return fmt.Sprintf("Closed %s carry (%s): realized %.4f", symbol, reason, profit)
}

func ReconcileMessage(symbol string) string {
	return fmt.Sprintf("Dropped %s from ledger: venue position already closed", symbol)
}

func UnwindFailedMessage(symbol string, err error) string {
	return fmt.Sprintf("Unwind for %s incomplete, manual check required: %v", symbol, err)
}

func ShutdownMessage(closed, failed []string, totalProfit float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shutdown: closed %d position(s)", len(closed))
	if len(failed) > 0 {
		fmt.Fprintf(&b, ", %d still open (%s)", len(failed), strings.Join(failed, ", "))
	}
	fmt.Fprintf(&b, "; total profit %.4f", totalProfit)
	return b.String()
}
