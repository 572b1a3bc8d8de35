package strategy

import (
	"context"
	"errors"
	"math"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/gateway"
)

// roundTripLegs counts entry and exit for each side of the hedge.
const roundTripLegs = 2

var (
	ErrNoHistory   = errors.New("no funding rate history available")
	ErrInvalidSize = errors.New("position size must be > 0")
	ErrInvalidPlan = errors.New("settlement interval and holding duration must be > 0")
)

type HistorySource interface {
	FundingRateHistory(ctx context.Context, symbol string, limit int) []gateway.FundingObservation
}

type Params struct {
	HistoryLimit       int
	MaxDuration        time.Duration
	SettlementInterval time.Duration
	SpotFee            float64
	FuturesFee         float64
}

func ParamsFromConfig(s config.StrategyConfig, fees config.FeeConfig) Params {
	return Params{
		HistoryLimit:       s.HistoryLimit,
		MaxDuration:        s.MaxPositionDuration,
		SettlementInterval: s.SettlementInterval,
		SpotFee:            fees.SpotMaker,
		FuturesFee:         fees.FuturesTaker,
	}
}

// ExpectedPayments is the number of settlements collected over the full
// holding period.
func (p Params) ExpectedPayments() float64 {
	if p.SettlementInterval <= 0 {
		return 0
	}
	return float64(p.MaxDuration) / float64(p.SettlementInterval)
}

type Verdict struct {
	Symbol                string
	PositionSize          float64
	Samples               int
	AvgRate               float64
	MinRate               float64
	ExpectedPayments      float64
	DaysToHold            float64
	TotalFees             float64
	BreakEvenRate         float64
	PaymentsToBreakeven   float64
	WorstCaseProfit       float64
	WorstCaseNet          float64
	ExpectedFundingProfit float64
	ExpectedNet           float64
	Profitable            bool
	Err                   error
}

// Analyze fetches recent settlements and evaluates them. It is total: fetch or
// input problems come back as a non-profitable verdict carrying Err.
func Analyze(ctx context.Context, src HistorySource, symbol string, positionSize float64, p Params) Verdict {
	if src == nil {
		return Verdict{Symbol: symbol, PositionSize: positionSize, Err: ErrNoHistory}
	}
	limit := p.HistoryLimit
	if limit <= 0 {
		limit = 30
	}
	history := src.FundingRateHistory(ctx, symbol, limit)
	v := Evaluate(history, positionSize, p)
	v.Symbol = symbol
	return v
}

// Evaluate applies the break-even and worst-case model to a funding history.
// A trade is profitable only if a single settlement at the most adverse
// observed rate covers the round-trip fees.
func Evaluate(history []gateway.FundingObservation, positionSize float64, p Params) Verdict {
	v := Verdict{PositionSize: positionSize}
	if positionSize <= 0 || math.IsNaN(positionSize) {
		v.Err = ErrInvalidSize
		return v
	}
	if len(history) == 0 {
		v.Err = ErrNoHistory
		return v
	}
	v.ExpectedPayments = p.ExpectedPayments()
	if v.ExpectedPayments <= 0 || p.MaxDuration <= 0 {
		v.Err = ErrInvalidPlan
		return v
	}
	v.Samples = len(history)
	var sum float64
	v.MinRate = history[0].Rate
	for _, obs := range history {
		sum += obs.Rate
		if obs.Rate < v.MinRate {
			v.MinRate = obs.Rate
		}
	}
	v.AvgRate = sum / float64(len(history))
	v.DaysToHold = p.MaxDuration.Hours() / 24

	v.TotalFees = TotalFees(positionSize, p.SpotFee, p.FuturesFee)
	v.BreakEvenRate = v.TotalFees / (positionSize * v.ExpectedPayments)

	worst := math.Abs(v.MinRate)
	v.WorstCaseProfit = positionSize * worst
	v.WorstCaseNet = v.WorstCaseProfit - v.TotalFees
	v.ExpectedFundingProfit = positionSize * worst * v.ExpectedPayments
	v.ExpectedNet = v.ExpectedFundingProfit - v.TotalFees
	if worst == 0 {
		v.PaymentsToBreakeven = math.Inf(1)
		return v
	}
	v.PaymentsToBreakeven = v.TotalFees / (positionSize * worst)
	v.Profitable = v.WorstCaseNet > 0
	return v
}

func TotalFees(positionSize, spotFee, futuresFee float64) float64 {
	return (spotFee + futuresFee) * positionSize * roundTripLegs
}
