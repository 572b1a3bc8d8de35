package binance

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/gateway"

	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestGateway(t *testing.T, handler http.Handler) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(ClientConfig{
		SpotURL:    server.URL,
		FuturesURL: server.URL,
		APIKey:     "key",
		APISecret:  "secret",
		RecvWindow: 5 * time.Second,
		Timeout:    time.Second,
	}, zap.NewNop())
	client.now = func() time.Time { return fixedNow }
	fees := config.FeeConfig{SpotMaker: 0.00075, FuturesTaker: 0.0004}
	return NewWithClient(client, "USDT", fees, zap.NewNop()), server
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestSignedRequestCarriesSignature(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Errorf("missing signature in %q", raw)
			writeJSON(w, http.StatusBadRequest, `{"code":-1022,"msg":"bad signature"}`)
			return
		}
		payload, sig := raw[:idx], raw[idx+len("&signature="):]
		if sig != sign("secret", payload) {
			t.Errorf("signature mismatch for %q", payload)
		}
		q := r.URL.Query()
		if q.Get("timestamp") != "1709251200000" || q.Get("recvWindow") != "5000" {
			t.Errorf("unexpected timestamp/recvWindow: %v", q)
		}
		writeJSON(w, http.StatusOK, `{"balances":[{"asset":"USDT","free":"1234.5","locked":"10"}]}`)
	})
	g, _ := newTestGateway(t, mux)
	if got := g.Balance(context.Background(), "USDT"); got != 1234.5 {
		t.Fatalf("expected free balance 1234.5, got %v", got)
	}
}

func TestClassifyVenueErrors(t *testing.T) {
	cases := []struct {
		code int
		msg  string
		want error
	}{
		{-2010, "Account has insufficient balance for requested action.", gateway.ErrInsufficientFunds},
		{-2019, "Margin is insufficient.", gateway.ErrInsufficientFunds},
		{-1013, "Filter failure: LOT_SIZE", gateway.ErrInvalidOrder},
		{-1111, "Precision is over the maximum defined for this asset.", gateway.ErrInvalidOrder},
		{-1100, "Illegal characters found in parameter", gateway.ErrInvalidOrder},
		{-4164, "Order's notional must be no smaller than 5", gateway.ErrInvalidOrder},
		{-2022, "ReduceOnly Order is rejected.", gateway.ErrInsufficientPosition},
		{-9999, "Insufficient position to close", gateway.ErrInsufficientPosition},
		{-1003, "Too many requests", nil},
	}
	for _, c := range cases {
		err := &APIError{Status: 400, Code: c.code, Msg: c.msg}
		if c.want == nil {
			if gateway.IsOrderRejection(err) {
				t.Fatalf("code %d should stay unclassified", c.code)
			}
			continue
		}
		if !errors.Is(err, c.want) {
			t.Fatalf("code %d: expected %v", c.code, c.want)
		}
	}
}

func TestSpotOrderRejectionIsClassified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.00001000"}]}]}`)
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	})
	g, _ := newTestGateway(t, mux)
	_, err := g.CreateSpotOrder(context.Background(), gateway.OrderRequest{Symbol: "BTCUSDT", Side: gateway.Buy, Amount: 0.01})
	if !errors.Is(err, gateway.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2010 {
		t.Fatalf("expected api error with code, got %v", err)
	}
}

func TestSpotOrderFillParsing(t *testing.T) {
	var gotQty, gotClientID string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"symbols":[{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER"},{"filterType":"LOT_SIZE","stepSize":"0.00100000"}]}]}`)
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotQty = r.URL.Query().Get("quantity")
		gotClientID = r.URL.Query().Get("newClientOrderId")
		writeJSON(w, http.StatusOK, `{
			"symbol":"ETHUSDT","orderId":42,"clientOrderId":"cid-1","transactTime":1709251200000,
			"executedQty":"0.123","cummulativeQuoteQty":"246.1","side":"BUY",
			"fills":[
				{"price":"2000","qty":"0.1","commission":"0.15","commissionAsset":"USDT"},
				{"price":"2010","qty":"0.023","commission":"0.00001","commissionAsset":"ETH"}
			]}`)
	})
	g, _ := newTestGateway(t, mux)
	fill, err := g.CreateSpotOrder(context.Background(), gateway.OrderRequest{Symbol: "ETHUSDT", Side: gateway.Buy, Amount: 0.12345, ClientOrderID: "cid-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQty != "0.123" || gotClientID != "cid-1" {
		t.Fatalf("unexpected order params quantity=%q client=%q", gotQty, gotClientID)
	}
	wantPrice := (2000*0.1 + 2010*0.023) / 0.123
	if math.Abs(fill.Price-wantPrice) > 1e-9 {
		t.Fatalf("expected weighted price %v, got %v", wantPrice, fill.Price)
	}
	if math.Abs(fill.Fee-(0.15+0.00001*2010)) > 1e-9 {
		t.Fatalf("unexpected fee %v", fill.Fee)
	}
	if fill.OrderID != "42" || fill.Amount != 0.123 || !fill.Time.Equal(fixedNow) {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestFuturesOrderEstimatesFee(t *testing.T) {
	var reduceOnly string
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`)
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		reduceOnly = r.URL.Query().Get("reduceOnly")
		writeJSON(w, http.StatusOK, `{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"c","avgPrice":"50000","executedQty":"0.002","cumQuote":"100","updateTime":1709251200000}`)
	})
	g, _ := newTestGateway(t, mux)
	fill, err := g.CreateFuturesOrder(context.Background(), gateway.OrderRequest{Symbol: "BTCUSDT", Side: gateway.Buy, Amount: 0.002, ReduceOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reduceOnly != "true" {
		t.Fatalf("expected reduceOnly flag, got %q", reduceOnly)
	}
	if fill.Price != 50000 || math.Abs(fill.Fee-0.002*50000*0.0004) > 1e-12 {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestOrderBelowLotStepRejectedLocally(t *testing.T) {
	var orders int32
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`)
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&orders, 1)
		writeJSON(w, http.StatusOK, `{}`)
	})
	g, _ := newTestGateway(t, mux)
	_, err := g.CreateFuturesOrder(context.Background(), gateway.OrderRequest{Symbol: "BTCUSDT", Side: gateway.Sell, Amount: 0.0004})
	if !errors.Is(err, gateway.ErrInvalidOrder) {
		t.Fatalf("expected invalid order, got %v", err)
	}
	if atomic.LoadInt32(&orders) != 0 {
		t.Fatalf("expected no order request")
	}
}

func TestPositionReadsBothLegs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"balances":[{"asset":"USDT","free":"100","locked":"0"},{"asset":"BTC","free":"0.5","locked":"0.1"}]}`)
	})
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"symbol":"BTCUSDT","positionAmt":"-0.6","entryPrice":"50000"}]`)
	})
	g, _ := newTestGateway(t, mux)
	pos, ok := g.Position(context.Background(), "BTCUSDT")
	if !ok {
		t.Fatalf("expected position")
	}
	if math.Abs(pos.SpotSize-0.6) > 1e-12 || math.Abs(pos.FuturesSize-0.6) > 1e-12 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestReadsDegradeOnFailure(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"code":-1000,"msg":"unknown"}`)
	}))
	ctx := context.Background()
	if g.FundingRate(ctx, "BTCUSDT") != 0 {
		t.Fatalf("expected zero funding rate")
	}
	if !g.OrderBook(ctx, "BTCUSDT", 10).Empty() {
		t.Fatalf("expected empty book")
	}
	if _, ok := g.BestMakerPrice(ctx, "BTCUSDT", gateway.Buy); ok {
		t.Fatalf("expected no maker price")
	}
	if g.CheckLiquidity(ctx, "BTCUSDT", 0.01) {
		t.Fatalf("expected no liquidity")
	}
	if g.Balance(ctx, "USDT") != 0 {
		t.Fatalf("expected zero balance")
	}
	if g.SetLeverage(ctx, "BTCUSDT", 5) {
		t.Fatalf("expected leverage failure")
	}
	if _, ok := g.Position(ctx, "BTCUSDT"); ok {
		t.Fatalf("expected no position")
	}
	if len(g.FundingRateHistory(ctx, "BTCUSDT", 30)) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestMarketDataParsing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"symbol":"BTCUSDT","markPrice":"50000","lastFundingRate":"-0.00250000","nextFundingTime":1709280000000}`)
	})
	mux.HandleFunc("/fapi/v1/fundingRate", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "30" {
			t.Errorf("expected limit 30, got %q", r.URL.Query().Get("limit"))
		}
		writeJSON(w, http.StatusOK, `[{"symbol":"BTCUSDT","fundingRate":"-0.002","fundingTime":1709222400000},{"symbol":"BTCUSDT","fundingRate":"-0.001","fundingTime":1709251200000}]`)
	})
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"lastUpdateId":1,"bids":[["99.9","0.005"],["99.8","0.01"]],"asks":[["100.1","0.02"]]}`)
	})
	g, _ := newTestGateway(t, mux)
	ctx := context.Background()
	if got := g.FundingRate(ctx, "BTCUSDT"); got != -0.0025 {
		t.Fatalf("expected -0.0025, got %v", got)
	}
	history := g.FundingRateHistory(ctx, "BTCUSDT", 30)
	if len(history) != 2 || history[0].Rate != -0.002 || !history[1].Time.Equal(fixedNow) {
		t.Fatalf("unexpected history %+v", history)
	}
	price, ok := g.BestMakerPrice(ctx, "BTCUSDT", gateway.Sell)
	if !ok || math.Abs(price-99.9*1.001) > 1e-9 {
		t.Fatalf("unexpected maker sell price %v", price)
	}
	if !g.CheckLiquidity(ctx, "BTCUSDT", 0.014) || g.CheckLiquidity(ctx, "BTCUSDT", 0.016) {
		t.Fatalf("liquidity should use the thinner side sum")
	}
}

func TestFundingRatePrefersFreshStreamValue(t *testing.T) {
	var calls int32
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{"symbol":"BTCUSDT","lastFundingRate":"-0.001"}`)
	}))
	stream := NewFundingStream("ws://unused", time.Second, zap.NewNop())
	now := fixedNow
	stream.now = func() time.Time { return now }
	stream.handle([]byte(`[{"e":"markPriceUpdate","s":"BTCUSDT","r":"-0.00300000","E":1}]`))
	g.AttachStream(stream, 10*time.Second)

	if got := g.FundingRate(context.Background(), "BTCUSDT"); got != -0.003 {
		t.Fatalf("expected stream rate, got %v", got)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no REST call while stream is fresh")
	}
	now = fixedNow.Add(11 * time.Second)
	if got := g.FundingRate(context.Background(), "BTCUSDT"); got != -0.001 {
		t.Fatalf("expected REST fallback for stale stream, got %v", got)
	}
}

func TestRoundToStep(t *testing.T) {
	cases := []struct {
		amount, step, want float64
	}{
		{0.12345, 0.001, 0.123},
		{0.3, 0.1, 0.3},
		{5.7, 1, 5},
		{0.0004, 0.001, 0},
		{1.5, 0, 1.5},
	}
	for _, c := range cases {
		if got := roundToStep(c.amount, c.step); got != c.want {
			t.Fatalf("roundToStep(%v, %v) = %v, want %v", c.amount, c.step, got, c.want)
		}
	}
	if got := formatQuantity(0.3, 0.1); got != "0.3" {
		t.Fatalf("unexpected formatted quantity %q", got)
	}
}

func TestBaseAsset(t *testing.T) {
	if BaseAsset("BTCUSDT", "USDT") != "BTC" || BaseAsset("USDT", "USDT") != "USDT" || BaseAsset("ETHBTC", "USDT") != "ETHBTC" {
		t.Fatalf("unexpected base asset split")
	}
}
