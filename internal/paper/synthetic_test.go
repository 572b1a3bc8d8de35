package paper

import (
	"context"
	"math"
	"testing"
	"time"

	"funding-carry-bot/internal/gateway"
)

func TestSyntheticRateStableAndInRange(t *testing.T) {
	m := NewSyntheticMarket(42)
	ctx := context.Background()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"} {
		r := m.FundingRate(ctx, sym)
		if r < -0.005 || r >= -0.001 {
			t.Fatalf("%s: rate %v outside [-0.005, -0.001)", sym, r)
		}
		if again := m.FundingRate(ctx, sym); again != r {
			t.Fatalf("%s: rate changed from %v to %v", sym, r, again)
		}
	}
}

func TestSyntheticSeedIsDeterministic(t *testing.T) {
	a := NewSyntheticMarket(99).FundingRate(context.Background(), "BTCUSDT")
	b := NewSyntheticMarket(99).FundingRate(context.Background(), "BTCUSDT")
	if a != b {
		t.Fatalf("expected same rate for same seed, got %v and %v", a, b)
	}
}

func TestSyntheticOrderBook(t *testing.T) {
	m := NewSyntheticMarket(1)
	book := m.OrderBook(context.Background(), "BTCUSDT", 20)
	if len(book.Bids) != 10 || len(book.Asks) != 10 {
		t.Fatalf("expected 10 levels per side, got %d/%d", len(book.Bids), len(book.Asks))
	}
	if math.Abs(book.Bids[0].Price-99.95) > 1e-9 || math.Abs(book.Asks[0].Price-100.05) > 1e-9 {
		t.Fatalf("unexpected touch %v/%v", book.Bids[0].Price, book.Asks[0].Price)
	}
	if math.Abs(book.Mid()-100) > 1e-9 {
		t.Fatalf("expected mid 100, got %v", book.Mid())
	}
	if !m.CheckLiquidity(context.Background(), "BTCUSDT", 10) || m.CheckLiquidity(context.Background(), "BTCUSDT", 10.5) {
		t.Fatalf("expected 10 units of liquidity per side")
	}
	sell, ok := m.BestMakerPrice(context.Background(), "BTCUSDT", gateway.Sell)
	if !ok || math.Abs(sell-99.95*1.001) > 1e-9 {
		t.Fatalf("unexpected maker sell %v", sell)
	}
}

func TestSyntheticHistory(t *testing.T) {
	m := NewSyntheticMarket(3)
	now := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	m.SetRate("ETHUSDT", -0.004)
	history := m.FundingRateHistory(context.Background(), "ETHUSDT", 30)
	if len(history) != 30 {
		t.Fatalf("expected 30 observations, got %d", len(history))
	}
	for i, obs := range history {
		if obs.Rate < -0.0044-1e-12 || obs.Rate > -0.0036+1e-12 {
			t.Fatalf("observation %d rate %v outside 10%% jitter", i, obs.Rate)
		}
		if i > 0 && obs.Time.Sub(history[i-1].Time) != 8*time.Hour {
			t.Fatalf("expected 8h spacing at %d", i)
		}
	}
	if !history[29].Time.Equal(now) {
		t.Fatalf("expected newest observation last, got %v", history[29].Time)
	}
	if len(m.FundingRateHistory(context.Background(), "ETHUSDT", 0)) != 0 {
		t.Fatalf("expected empty history for zero limit")
	}
}
