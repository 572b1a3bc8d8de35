package app

import (
	"context"
	"errors"
	"math"

	"funding-carry-bot/internal/alerts"
	"funding-carry-bot/internal/gateway"
	"funding-carry-bot/internal/report"
	"funding-carry-bot/internal/state"
	"funding-carry-bot/internal/strategy"
	"funding-carry-bot/internal/timescale"

	"go.uber.org/zap"
)

type entryPlan struct {
	Symbol  string
	Rate    float64
	Size    float64
	Verdict strategy.Verdict
}

// scan looks for new entries at most once per scan interval.
func (a *App) scan(ctx context.Context) error {
	now := a.now()
	if !a.lastScan.IsZero() && now.Sub(a.lastScan) < a.cfg.Strategy.ScanInterval {
		return nil
	}
	a.lastScan = now

	a.mu.Lock()
	if a.ledger.ResetDailyIfElapsed(now) {
		a.log.Info("daily trade counter reset")
		if err := a.save(ctx); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	allowed := a.risk.Check(ctx)
	a.mu.Unlock()
	if !allowed {
		return nil
	}
	for _, symbol := range a.cfg.Strategy.TradingPairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.scanSymbol(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) scanSymbol(ctx context.Context, symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ledger.Has(symbol) || a.lifecycle.State(symbol) != strategy.StateAbsent {
		return nil
	}
	rate := a.gw.FundingRate(ctx, symbol)
	a.timescale.EnqueueFunding(timescale.FundingObservation{
		Time:   a.now().UTC(),
		Symbol: symbol,
		Rate:   rate,
		Source: "scan",
	})
	if rate > a.cfg.Strategy.MinFundingRate {
		return nil
	}
	plan, ok := a.evaluateEntry(ctx, symbol, rate)
	if !ok {
		return nil
	}
	return a.executeEntry(ctx, plan)
}

// evaluateEntry sizes a candidate and runs the profitability model on it.
// Caller holds a.mu.
func (a *App) evaluateEntry(ctx context.Context, symbol string, rate float64) (entryPlan, bool) {
	plan := entryPlan{Symbol: symbol, Rate: rate}
	log := a.log.With(zap.String("symbol", symbol), zap.Float64("funding_rate", rate))
	if !a.risk.Check(ctx) {
		return plan, false
	}
	if !a.gw.CheckLiquidity(ctx, symbol, a.cfg.Strategy.MinLiquidity) {
		log.Info("entry skipped: insufficient liquidity")
		return plan, false
	}
	balance := a.gw.Balance(ctx, a.quote)
	plan.Size = math.Min(balance*a.cfg.Strategy.MaxPositionPercent, a.cfg.Strategy.MaxPositionSize)
	if plan.Size < a.cfg.Strategy.MinPositionSize {
		log.Info("entry skipped: position size below minimum",
			zap.Float64("size", plan.Size),
			zap.Float64("min_size", a.cfg.Strategy.MinPositionSize),
		)
		return plan, false
	}
	plan.Verdict = strategy.Analyze(ctx, a.gw, symbol, plan.Size, a.analysis)
	if plan.Verdict.Err != nil || !plan.Verdict.Profitable {
		log.Info("entry skipped: not profitable",
			zap.Float64("size", plan.Size),
			zap.Float64("break_even_rate", plan.Verdict.BreakEvenRate),
			zap.Float64("min_rate", plan.Verdict.MinRate),
			zap.Float64("payments_to_breakeven", plan.Verdict.PaymentsToBreakeven),
			zap.Float64("worst_case_net", plan.Verdict.WorstCaseNet),
			zap.Error(plan.Verdict.Err),
		)
		return plan, false
	}
	return plan, true
}

// executeEntry buys spot and shorts futures for the same base amount. A failed
// leg triggers a compensating unwind and is not returned; only persistence
// failures are. Caller holds a.mu.
func (a *App) executeEntry(ctx context.Context, plan entryPlan) error {
	symbol := plan.Symbol
	log := a.log.With(zap.String("symbol", symbol))
	a.lifecycle.Apply(symbol, strategy.EventEnter)

	if !a.gw.SetLeverage(ctx, symbol, a.cfg.Strategy.MaxLeverage) {
		log.Warn("leverage not set, continuing", zap.Int("leverage", a.cfg.Strategy.MaxLeverage))
	}
	price, ok := a.gw.BestMakerPrice(ctx, symbol, gateway.Buy)
	if !ok || price <= 0 {
		price = a.gw.OrderBook(ctx, symbol, bookDepth).Mid()
	}
	if price <= 0 {
		log.Warn("entry aborted: no reference price")
		a.metrics.EntryFailed.Inc()
		a.lifecycle.Apply(symbol, strategy.EventAbort)
		return nil
	}
	amount := plan.Size / price

	spotFill, err := a.executor.Spot(ctx, gateway.OrderRequest{Symbol: symbol, Side: gateway.Buy, Amount: amount})
	a.countOrder(err)
	if err != nil {
		a.entryFailed(ctx, symbol, report.LegSpot, err)
		return nil
	}
	spotAmount := filledAmount(spotFill, amount)
	futuresFill, err := a.executor.Futures(ctx, gateway.OrderRequest{Symbol: symbol, Side: gateway.Sell, Amount: math.Min(amount, spotAmount)})
	a.countOrder(err)
	if err != nil {
		a.entryFailed(ctx, symbol, report.LegFutures, err)
		return nil
	}
	futuresAmount := filledAmount(futuresFill, math.Min(amount, spotAmount))

	a.record(report.TradeRecord{
		Symbol: symbol, Type: report.TradeOpen, Side: gateway.Buy, Leg: report.LegSpot,
		Amount: spotAmount, Price: spotFill.Price, Fees: spotFill.Fee, FundingRate: plan.Rate,
	})
	a.record(report.TradeRecord{
		Symbol: symbol, Type: report.TradeOpen, Side: gateway.Sell, Leg: report.LegFutures,
		Amount: futuresAmount, Price: futuresFill.Price, Fees: futuresFill.Fee, FundingRate: plan.Rate,
	})

	pos := state.Position{
		Symbol:         symbol,
		SpotSize:       spotAmount,
		FuturesSize:    futuresAmount,
		EntryRate:      plan.Rate,
		EntryTime:      a.now(),
		SpotOrder:      spotFill,
		FuturesOrder:   futuresFill,
		ExpectedProfit: plan.Verdict.ExpectedNet,
	}
	if err := a.ledger.Open(pos); err != nil {
		return err
	}
	a.ledger.IncrementDailyTrades()
	a.lifecycle.Apply(symbol, strategy.EventFilled)
	a.metrics.PositionsOpened.Inc()
	log.Info("position opened",
		zap.Float64("size", plan.Size),
		zap.Float64("spot_amount", spotAmount),
		zap.Float64("futures_amount", futuresAmount),
		zap.Float64("entry_rate", plan.Rate),
		zap.Float64("expected_net", plan.Verdict.ExpectedNet),
		zap.Int("daily_trades", a.ledger.DailyTrades),
	)
	a.alerts.Notify(ctx, alerts.EntryMessage(symbol, plan.Size, spotAmount, plan.Rate, plan.Verdict.ExpectedNet))
	return a.save(ctx)
}

func (a *App) entryFailed(ctx context.Context, symbol string, leg report.Leg, err error) {
	a.metrics.EntryFailed.Inc()
	a.log.Error("entry leg failed",
		zap.String("symbol", symbol),
		zap.String("leg", string(leg)),
		zap.Bool("rejected", gateway.IsOrderRejection(err)),
		zap.Error(err),
	)
	a.unwind(ctx, symbol)
}

// unwind flattens whatever the venue now holds for symbol. Failures are
// logged and alerted, never returned.
func (a *App) unwind(ctx context.Context, symbol string) {
	defer a.lifecycle.Set(symbol, strategy.StateAbsent)
	a.metrics.Unwinds.Inc()
	pos, ok := a.gw.Position(ctx, symbol)
	if !ok {
		err := errors.New("venue position unavailable")
		a.log.Error("unwind skipped", zap.String("symbol", symbol), zap.Error(err))
		a.alerts.Notify(ctx, alerts.UnwindFailedMessage(symbol, err))
		return
	}
	var errs []error
	if pos.SpotSize > flatEpsilon {
		_, err := a.executor.Spot(ctx, gateway.OrderRequest{Symbol: symbol, Side: gateway.Sell, Amount: pos.SpotSize})
		a.countOrder(err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if pos.FuturesSize > flatEpsilon {
		_, err := a.executor.Futures(ctx, gateway.OrderRequest{Symbol: symbol, Side: gateway.Buy, Amount: pos.FuturesSize, ReduceOnly: true})
		a.countOrder(err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("unwind failed", zap.String("symbol", symbol), zap.Error(err))
		a.alerts.Notify(ctx, alerts.UnwindFailedMessage(symbol, err))
		return
	}
	a.log.Info("entry unwound",
		zap.String("symbol", symbol),
		zap.Float64("spot_size", pos.SpotSize),
		zap.Float64("futures_size", pos.FuturesSize),
	)
}

func filledAmount(fill gateway.Fill, requested float64) float64 {
	if fill.Amount > 0 {
		return fill.Amount
	}
	return requested
}
