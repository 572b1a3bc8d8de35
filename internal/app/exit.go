package app

import (
	"context"
	"errors"
	"fmt"
	"math"

	"funding-carry-bot/internal/alerts"
	"funding-carry-bot/internal/gateway"
	"funding-carry-bot/internal/report"
	"funding-carry-bot/internal/state"
	"funding-carry-bot/internal/strategy"

	"go.uber.org/zap"
)

// monitor checks every ledger position for an exit signal. Close failures
// leave the position open and are returned together once all symbols ran.
func (a *App) monitor(ctx context.Context) error {
	a.mu.Lock()
	symbols := a.ledger.Symbols()
	a.mu.Unlock()

	var errs []error
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.monitorPosition(ctx, symbol); err != nil {
			errs = append(errs, err)
		}
	}
	if drawdown, err := a.risk.Drawdown(ctx); err == nil {
		a.metrics.Drawdown.Set(drawdown)
	}
	return errors.Join(errs...)
}

func (a *App) monitorPosition(ctx context.Context, symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, ok := a.ledger.Get(symbol)
	if !ok {
		return nil
	}
	reason := strategy.ExitHedgeBroken
	if !oneLegged(pos) {
		reason = a.shouldExitPosition(ctx, pos)
	}
	if reason == strategy.ExitNone {
		return nil
	}
	return a.closePosition(ctx, symbol, reason)
}

// shouldExitPosition feeds the current rate and a fresh break-even analysis
// into the shared exit rule.
func (a *App) shouldExitPosition(ctx context.Context, pos state.Position) strategy.ExitReason {
	current := a.gw.FundingRate(ctx, pos.Symbol)
	verdict := strategy.Analyze(ctx, a.gw, pos.Symbol, notional(pos), a.analysis)
	if verdict.Err != nil {
		a.log.Debug("exit analysis unavailable", zap.String("symbol", pos.Symbol), zap.Error(verdict.Err))
	}
	return strategy.ShouldExit(strategy.ExitInput{
		EntryRate:           pos.EntryRate,
		CurrentRate:         current,
		EntryTime:           pos.EntryTime,
		Now:                 a.now(),
		PaymentsToBreakeven: verdict.PaymentsToBreakeven,
	}, a.exits)
}

// closePosition flattens both legs of a ledger entry. Each leg is capped at
// what the venue still holds, since base-asset commission leaves slightly
// less spot than was bought. A venue that already holds neither leg is
// reconciled without orders. Caller holds a.mu.
func (a *App) closePosition(ctx context.Context, symbol string, reason strategy.ExitReason) error {
	pos, ok := a.ledger.Get(symbol)
	if !ok {
		return nil
	}
	log := a.log.With(zap.String("symbol", symbol), zap.String("reason", string(reason)))
	a.lifecycle.Apply(symbol, strategy.EventExit)

	venue, ok := a.gw.Position(ctx, symbol)
	if !ok {
		a.lifecycle.Apply(symbol, strategy.EventAbort)
		a.metrics.ExitFailed.Inc()
		return fmt.Errorf("close %s: venue position unavailable", symbol)
	}
	if venue.Flat(flatEpsilon) {
		return a.reconcile(ctx, symbol)
	}

	var profit float64
	if pos.SpotSize > flatEpsilon && venue.SpotSize > flatEpsilon {
		amount := math.Min(pos.SpotSize, venue.SpotSize)
		fill, err := a.executor.Spot(ctx, gateway.OrderRequest{Symbol: symbol, Side: gateway.Sell, Amount: amount})
		a.countOrder(err)
		if err != nil {
			return a.exitFailed(ctx, symbol, report.LegSpot, err)
		}
		legProfit := (fill.Price-pos.SpotOrder.Price)*amount - fill.Fee
		a.record(report.TradeRecord{
			Symbol: symbol, Type: report.TradeClose, Side: gateway.Sell, Leg: report.LegSpot,
			Amount: amount, Price: fill.Price, Fees: fill.Fee, FundingRate: pos.EntryRate, Profit: legProfit,
		})
		profit += legProfit
		pos.SpotSize = 0
		a.ledger.Update(pos)
	}
	if pos.FuturesSize > flatEpsilon && venue.FuturesSize > flatEpsilon {
		amount := math.Min(pos.FuturesSize, venue.FuturesSize)
		fill, err := a.executor.Futures(ctx, gateway.OrderRequest{Symbol: symbol, Side: gateway.Buy, Amount: amount, ReduceOnly: true})
		a.countOrder(err)
		if err != nil {
			return a.exitFailed(ctx, symbol, report.LegFutures, err)
		}
		legProfit := (pos.FuturesOrder.Price-fill.Price)*amount - fill.Fee
		a.record(report.TradeRecord{
			Symbol: symbol, Type: report.TradeClose, Side: gateway.Buy, Leg: report.LegFutures,
			Amount: amount, Price: fill.Price, Fees: fill.Fee, FundingRate: pos.EntryRate, Profit: legProfit,
		})
		profit += legProfit
	}

	a.ledger.Remove(symbol)
	a.lifecycle.Apply(symbol, strategy.EventDone)
	a.metrics.PositionsClosed.Inc()
	log.Info("position closed",
		zap.Float64("profit", profit),
		zap.Duration("held", pos.Held(a.now())),
	)
	a.alerts.Notify(ctx, alerts.ExitMessage(symbol, string(reason), profit))
	return a.save(ctx)
}

// exitFailed treats a venue that no longer holds the position as already
// closed. Any other failure keeps the entry so the next cycle retries.
func (a *App) exitFailed(ctx context.Context, symbol string, leg report.Leg, err error) error {
	if errors.Is(err, gateway.ErrInsufficientPosition) {
		a.log.Warn("position already closed on venue",
			zap.String("symbol", symbol),
			zap.String("leg", string(leg)),
			zap.Error(err),
		)
		return a.reconcile(ctx, symbol)
	}
	a.lifecycle.Apply(symbol, strategy.EventAbort)
	a.metrics.ExitFailed.Inc()
	failure := fmt.Errorf("close %s %s leg: %w", symbol, leg, err)
	if saveErr := a.save(ctx); saveErr != nil {
		return errors.Join(failure, saveErr)
	}
	return failure
}

// reconcile drops a ledger entry the venue no longer backs.
func (a *App) reconcile(ctx context.Context, symbol string) error {
	a.ledger.Remove(symbol)
	a.lifecycle.Set(symbol, strategy.StateAbsent)
	a.metrics.PositionsReconciled.Inc()
	a.log.Warn("ledger entry reconciled: venue position already closed", zap.String("symbol", symbol))
	a.alerts.Notify(ctx, alerts.ReconcileMessage(symbol))
	return a.save(ctx)
}

// oneLegged reports an entry left with a single leg after a partial close.
// It is closed on sight so the remaining leg never runs unhedged.
func oneLegged(pos state.Position) bool {
	return (pos.SpotSize > flatEpsilon) != (pos.FuturesSize > flatEpsilon)
}

// notional is the quote value committed at entry, taken from the futures leg
// once the spot leg is gone.
func notional(pos state.Position) float64 {
	size, price := pos.SpotSize, pos.SpotOrder.Price
	if size <= flatEpsilon {
		size, price = pos.FuturesSize, pos.FuturesOrder.Price
	}
	if price > 0 {
		return size * price
	}
	return size
}
