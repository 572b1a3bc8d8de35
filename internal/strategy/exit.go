package strategy

import (
	"math"
	"time"

	"funding-carry-bot/internal/config"
)

type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitRateImproved   ExitReason = "rate_improved"
	ExitRateNormalized ExitReason = "rate_normalized"
	ExitMaxDuration    ExitReason = "max_duration"
	ExitShutdown       ExitReason = "shutdown"
	ExitHedgeBroken    ExitReason = "hedge_broken"
)

type ExitParams struct {
	ImprovementRatio   float64
	NormalizedRate     float64
	MaxDuration        time.Duration
	SettlementInterval time.Duration
}

func ExitParamsFromConfig(s config.StrategyConfig) ExitParams {
	return ExitParams{
		ImprovementRatio:   s.FundingImprovementRatio,
		NormalizedRate:     s.ExitFundingRate,
		MaxDuration:        s.MaxPositionDuration,
		SettlementInterval: s.SettlementInterval,
	}
}

type ExitInput struct {
	EntryRate           float64
	CurrentRate         float64
	EntryTime           time.Time
	Now                 time.Time
	PaymentsToBreakeven float64
}

// SettlementsReceived counts whole settlement windows elapsed since entry.
func SettlementsReceived(entry, now time.Time, interval time.Duration) int {
	if interval <= 0 || !now.After(entry) {
		return 0
	}
	hoursHeld := now.Sub(entry).Hours()
	return int(math.Floor(hoursHeld / interval.Hours()))
}

// ShouldExit is the single exit rule shared by the monitor loop and the
// gateway-side check.
func ShouldExit(in ExitInput, p ExitParams) ExitReason {
	received := SettlementsReceived(in.EntryTime, in.Now, p.SettlementInterval)
	if float64(received) < in.PaymentsToBreakeven && in.CurrentRate > in.EntryRate*p.ImprovementRatio {
		return ExitRateImproved
	}
	if in.CurrentRate >= p.NormalizedRate {
		return ExitRateNormalized
	}
	if p.MaxDuration > 0 && in.Now.Sub(in.EntryTime) > p.MaxDuration {
		return ExitMaxDuration
	}
	return ExitNone
}
