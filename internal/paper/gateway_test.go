package paper

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/gateway"

	"go.uber.org/zap"
)

var testFees = config.FeeConfig{SpotMaker: 0.00075, FuturesTaker: 0.0004}

func newTestGateway(balance float64) (*Gateway, *SyntheticMarket) {
	market := NewSyntheticMarket(7)
	g := New(market, balance, testFees, zap.NewNop())
	g.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	return g, market
}

func TestSpotBuyDebitsBalanceWithFee(t *testing.T) {
	g, _ := newTestGateway(1000)
	ctx := context.Background()
	fill, err := g.CreateSpotOrder(ctx, gateway.OrderRequest{Symbol: "BTCUSDT", Side: gateway.Buy, Amount: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantPrice := 100.05 * 0.999
	if math.Abs(fill.Price-wantPrice) > 1e-9 {
		t.Fatalf("expected maker buy price %v, got %v", wantPrice, fill.Price)
	}
	cost := 2 * wantPrice
	if math.Abs(g.Balance(ctx, "USDT")-(1000-cost-cost*0.00075)) > 1e-9 {
		t.Fatalf("unexpected balance %v", g.Balance(ctx, "USDT"))
	}
	pos, ok := g.Position(ctx, "BTCUSDT")
	if !ok || pos.SpotSize != 2 || pos.FuturesSize != 0 {
		t.Fatalf("unexpected position %+v %v", pos, ok)
	}
	if fill.OrderID != "paper-spot-0" {
		t.Fatalf("unexpected order id %s", fill.OrderID)
	}
}

func TestSpotBuyInsufficientFunds(t *testing.T) {
	g, _ := newTestGateway(100)
	_, err := g.CreateSpotOrder(context.Background(), gateway.OrderRequest{Symbol: "BTCUSDT", Side: gateway.Buy, Amount: 1})
	if !errors.Is(err, gateway.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if g.Balance(context.Background(), "USDT") != 100 {
		t.Fatalf("balance must be unchanged after rejection")
	}
	if len(g.Orders()) != 0 {
		t.Fatalf("rejected order must not be recorded")
	}
}

func TestSpotSellWithoutHoldingFails(t *testing.T) {
	g, _ := newTestGateway(1000)
	_, err := g.CreateSpotOrder(context.Background(), gateway.OrderRequest{Symbol: "ETHUSDT", Side: gateway.Sell, Amount: 1})
	if !errors.Is(err, gateway.ErrInsufficientPosition) {
		t.Fatalf("expected insufficient position, got %v", err)
	}
}

func TestFuturesShortLifecycle(t *testing.T) {
	g, _ := newTestGateway(1000)
	ctx := context.Background()
	if _, err := g.CreateFuturesOrder(ctx, gateway.OrderRequest{Symbol: "SOLUSDT", Side: gateway.Sell, Amount: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.CreateFuturesOrder(ctx, gateway.OrderRequest{Symbol: "SOLUSDT", Side: gateway.Buy, Amount: 4, ReduceOnly: true}); !errors.Is(err, gateway.ErrInsufficientPosition) {
		t.Fatalf("expected insufficient position when buying more than the short, got %v", err)
	}
	pos, ok := g.Position(ctx, "SOLUSDT")
	if !ok || pos.FuturesSize != 3 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if _, err := g.CreateFuturesOrder(ctx, gateway.OrderRequest{Symbol: "SOLUSDT", Side: gateway.Buy, Amount: 3, ReduceOnly: true}); err != nil {
		t.Fatalf("unexpected error closing short: %v", err)
	}
	if pos, ok := g.Position(ctx, "SOLUSDT"); !ok || !pos.Flat(0) {
		t.Fatalf("expected empty position to be removed, got %+v", pos)
	}
	if g.Balance(ctx, "USDT") >= 1000 {
		t.Fatalf("expected futures fees to be charged")
	}
}

func TestFullHedgeRoundTripRemovesPosition(t *testing.T) {
	g, _ := newTestGateway(1000)
	ctx := context.Background()
	steps := []struct {
		spot bool
		side gateway.Side
	}{
		{true, gateway.Buy},
		{false, gateway.Sell},
		{true, gateway.Sell},
		{false, gateway.Buy},
	}
	for _, s := range steps {
		req := gateway.OrderRequest{Symbol: "BTCUSDT", Side: s.side, Amount: 1.5}
		var err error
		if s.spot {
			_, err = g.CreateSpotOrder(ctx, req)
		} else {
			_, err = g.CreateFuturesOrder(ctx, req)
		}
		if err != nil {
			t.Fatalf("step %+v: %v", s, err)
		}
	}
	if pos, ok := g.Position(ctx, "BTCUSDT"); !ok || !pos.Flat(0) {
		t.Fatalf("expected flat book, got %+v", pos)
	}
	orders := g.Orders()
	if len(orders) != 4 || orders[1].OrderID != "paper-futures-1" {
		t.Fatalf("unexpected order history %+v", orders)
	}
}

func TestRejectsNonPositiveAmount(t *testing.T) {
	g, _ := newTestGateway(1000)
	if _, err := g.CreateSpotOrder(context.Background(), gateway.OrderRequest{Symbol: "BTCUSDT", Side: gateway.Buy}); !errors.Is(err, gateway.ErrInvalidOrder) {
		t.Fatalf("expected invalid order, got %v", err)
	}
}

func TestSetLeverageAlwaysSucceeds(t *testing.T) {
	g, _ := newTestGateway(1000)
	if !g.SetLeverage(context.Background(), "BTCUSDT", 5) {
		t.Fatalf("expected paper leverage to succeed")
	}
}
