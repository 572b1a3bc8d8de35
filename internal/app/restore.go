package app

import (
	"context"
	"errors"
	"fmt"

	"funding-carry-bot/internal/state"
	"funding-carry-bot/internal/strategy"

	"go.uber.org/zap"
)

// restore loads the persisted ledger and keeps only entries the venue still
// backs, up to the open position cap. The validated ledger is saved back.
func (a *App) restore(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	loaded, err := state.LoadBotState(ctx, a.store, a.now())
	if err != nil {
		if !errors.Is(err, state.ErrCorruptState) {
			return fmt.Errorf("load state: %w", err)
		}
		a.log.Warn("state snapshot corrupt, starting empty", zap.Error(err))
	}

	kept := &state.BotState{
		ActivePositions:  make(map[string]state.Position),
		DailyTrades:      loaded.DailyTrades,
		DailyTradesReset: loaded.DailyTradesReset,
	}
	for _, symbol := range loaded.Symbols() {
		pos, _ := loaded.Get(symbol)
		log := a.log.With(zap.String("symbol", symbol))
		if kept.Len() >= a.cfg.Risk.MaxOpenPositions {
			log.Warn("restored position dropped: open position cap reached", zap.Int("max_open_positions", a.cfg.Risk.MaxOpenPositions))
			continue
		}
		venue, ok := a.gw.Position(ctx, symbol)
		if !ok {
			log.Warn("restored position dropped: venue position unavailable")
			continue
		}
		if venue.Flat(flatEpsilon) {
			log.Warn("restored position dropped: venue reports no position")
			continue
		}
		if err := kept.Open(pos); err != nil {
			log.Warn("restored position dropped", zap.Error(err))
			continue
		}
		a.lifecycle.Set(symbol, strategy.StateOpen)
		log.Info("position restored",
			zap.Float64("spot_size", pos.SpotSize),
			zap.Float64("futures_size", pos.FuturesSize),
			zap.Time("entry_time", pos.EntryTime),
		)
	}
	a.ledger = kept
	a.risk.SetLedger(kept)
	a.log.Info("state restored",
		zap.Int("loaded", loaded.Len()),
		zap.Int("kept", kept.Len()),
		zap.Int("daily_trades", kept.DailyTrades),
	)
	return a.save(ctx)
}
