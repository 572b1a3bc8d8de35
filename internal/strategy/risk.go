package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/state"

	"go.uber.org/zap"
)

var (
	ErrMaxDailyTrades   = errors.New("maximum daily trades reached")
	ErrMaxOpenPositions = errors.New("maximum number of open positions reached")
	ErrMaxDrawdown      = errors.New("maximum drawdown reached")
	ErrNoInitialBalance = errors.New("initial balance must be > 0")
)

type BalanceSource interface {
	Balance(ctx context.Context, currency string) float64
}

// Governor gates new entries on the daily trade cap, the open position cap and
// drawdown from the initial balance. It reads the engine-owned BotState and
// only ever mutates it to roll the daily counter.
type Governor struct {
	cfg      config.RiskConfig
	balances BalanceSource
	currency string
	initial  float64
	ledger   *state.BotState
	now      func() time.Time
	log      *zap.Logger
}

func NewGovernor(cfg config.RiskConfig, balances BalanceSource, currency string, initialBalance float64, ledger *state.BotState, log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Governor{
		cfg:      cfg,
		balances: balances,
		currency: currency,
		initial:  initialBalance,
		ledger:   ledger,
		now:      time.Now,
		log:      log,
	}
}

func (g *Governor) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// SetLedger points the governor at a replacement state, e.g. after restore.
func (g *Governor) SetLedger(ledger *state.BotState) {
	g.ledger = ledger
}

func (g *Governor) InitialBalance() float64 {
	return g.initial
}

// Check reports whether a new position may be opened, logging the reason when
// it may not.
func (g *Governor) Check(ctx context.Context) bool {
	if err := g.Evaluate(ctx); err != nil {
		g.log.Warn("risk check failed", zap.Error(err))
		return false
	}
	return true
}

func (g *Governor) Evaluate(ctx context.Context) error {
	if g.ledger == nil {
		return errors.New("risk governor has no ledger")
	}
	if g.ledger.ResetDailyIfElapsed(g.now()) {
		g.log.Info("daily trade counter reset")
	}
	if g.ledger.DailyTrades >= g.cfg.MaxDailyTrades {
		return fmt.Errorf("%d of %d: %w", g.ledger.DailyTrades, g.cfg.MaxDailyTrades, ErrMaxDailyTrades)
	}
	if open := g.ledger.Len(); open >= g.cfg.MaxOpenPositions {
		return fmt.Errorf("%d of %d: %w", open, g.cfg.MaxOpenPositions, ErrMaxOpenPositions)
	}
	drawdown, err := g.Drawdown(ctx)
	if err != nil {
		return err
	}
	if drawdown >= g.cfg.MaxDrawdown {
		return fmt.Errorf("drawdown %.2f%% exceeds %.2f%%: %w", drawdown*100, g.cfg.MaxDrawdown*100, ErrMaxDrawdown)
	}
	return nil
}

// Drawdown is the fractional decline from the initial balance using a fresh
// balance read.
func (g *Governor) Drawdown(ctx context.Context) (float64, error) {
	if g.initial <= 0 {
		return 0, ErrNoInitialBalance
	}
	current := 0.0
	if g.balances != nil {
		current = g.balances.Balance(ctx, g.currency)
	}
	return (g.initial - current) / g.initial, nil
}
