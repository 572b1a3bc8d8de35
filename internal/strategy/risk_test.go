package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/state"

	"go.uber.org/zap"
)

type balanceStub struct {
	balance float64
	calls   int
}

func (b *balanceStub) Balance(ctx context.Context, currency string) float64 {
	_ = ctx
	_ = currency
	b.calls++
	return b.balance
}

var riskT0 = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestGovernor(balance float64, ledger *state.BotState) (*Governor, *balanceStub) {
	cfg := config.RiskConfig{MaxOpenPositions: 3, MaxDailyTrades: 10, MaxDrawdown: 0.05}
	src := &balanceStub{balance: balance}
	g := NewGovernor(cfg, src, "USDT", 1000, ledger, zap.NewNop())
	g.SetClock(func() time.Time { return riskT0 })
	return g, src
}

func withPositions(n int) *state.BotState {
	st := state.NewBotState(riskT0)
	for i := 0; i < n; i++ {
		_ = st.Open(state.Position{Symbol: fmt.Sprintf("SYM%dUSDT", i)})
	}
	return st
}

func TestGovernorOpenPositionBoundary(t *testing.T) {
	g, _ := newTestGovernor(1000, withPositions(3))
	if err := g.Evaluate(context.Background()); !errors.Is(err, ErrMaxOpenPositions) {
		t.Fatalf("expected open position cap at max, got %v", err)
	}
	g, _ = newTestGovernor(1000, withPositions(2))
	if !g.Check(context.Background()) {
		t.Fatalf("expected one below max to pass")
	}
}

func TestGovernorDailyTradeBoundary(t *testing.T) {
	st := withPositions(0)
	st.DailyTrades = 10
	g, _ := newTestGovernor(1000, st)
	if err := g.Evaluate(context.Background()); !errors.Is(err, ErrMaxDailyTrades) {
		t.Fatalf("expected daily trade cap at max, got %v", err)
	}
	st.DailyTrades = 9
	if !g.Check(context.Background()) {
		t.Fatalf("expected one below max to pass")
	}
}

func TestGovernorDrawdownBoundary(t *testing.T) {
	g, src := newTestGovernor(950, withPositions(0))
	if err := g.Evaluate(context.Background()); !errors.Is(err, ErrMaxDrawdown) {
		t.Fatalf("expected drawdown at max to fail, got %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected a fresh balance read, got %d", src.calls)
	}
	src.balance = 951
	if !g.Check(context.Background()) {
		t.Fatalf("expected drawdown below max to pass")
	}
}

func TestGovernorResetsDailyCounterAfterWindow(t *testing.T) {
	st := state.NewBotState(riskT0.Add(-24*time.Hour - time.Minute))
	st.DailyTrades = 10
	g, _ := newTestGovernor(1000, st)
	if !g.Check(context.Background()) {
		t.Fatalf("expected counter reset to allow trading")
	}
	if st.DailyTrades != 0 || !st.DailyTradesReset.Equal(riskT0) {
		t.Fatalf("expected reset to now, got %d %v", st.DailyTrades, st.DailyTradesReset)
	}
}

func TestGovernorNoResetBeforeWindow(t *testing.T) {
	st := state.NewBotState(riskT0.Add(-23 * time.Hour))
	st.DailyTrades = 10
	g, _ := newTestGovernor(1000, st)
	if g.Check(context.Background()) {
		t.Fatalf("expected daily cap to still apply")
	}
	if st.DailyTrades != 10 {
		t.Fatalf("expected counter unchanged, got %d", st.DailyTrades)
	}
}

func TestGovernorShortCircuitsBeforeBalanceRead(t *testing.T) {
	g, src := newTestGovernor(0, withPositions(3))
	_ = g.Check(context.Background())
	if src.calls != 0 {
		t.Fatalf("expected no balance read after position cap failure, got %d", src.calls)
	}
}

func TestGovernorRequiresInitialBalance(t *testing.T) {
	g := NewGovernor(config.RiskConfig{MaxOpenPositions: 1, MaxDailyTrades: 1, MaxDrawdown: 0.1}, &balanceStub{}, "USDT", 0, withPositions(0), nil)
	if err := g.Evaluate(context.Background()); !errors.Is(err, ErrNoInitialBalance) {
		t.Fatalf("expected initial balance error, got %v", err)
	}
}
