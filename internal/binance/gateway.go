package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/gateway"

	"go.uber.org/zap"
)

const (
	spotMarket    = "spot"
	futuresMarket = "futures"
)

// Gateway implements gateway.Gateway against the live venue. Read methods log
// and degrade to zero values; order methods return errors that wrap the
// gateway sentinels when the venue rejects the request.
type Gateway struct {
	client       *Client
	stream       *FundingStream
	streamMaxAge time.Duration
	quote        string
	spotFee      float64
	futuresFee   float64
	log          *zap.Logger

	mu    sync.Mutex
	steps map[string]float64
}

func New(cfg config.ExchangeConfig, fees config.FeeConfig, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	client := NewClient(ClientConfig{
		SpotURL:        cfg.SpotBaseURL,
		FuturesURL:     cfg.FuturesBaseURL,
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		RecvWindow:     cfg.RecvWindow,
		Timeout:        cfg.Timeout,
		RequestsPerSec: cfg.RequestsPerSec,
	}, log)
	return NewWithClient(client, cfg.QuoteAsset, fees, log)
}

func NewWithClient(client *Client, quote string, fees config.FeeConfig, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if quote == "" {
		quote = "USDT"
	}
	return &Gateway{
		client:     client,
		quote:      quote,
		spotFee:    fees.SpotMaker,
		futuresFee: fees.FuturesTaker,
		log:        log,
		steps:      make(map[string]float64),
	}
}

// AttachStream makes FundingRate prefer stream values younger than maxAge.
func (g *Gateway) AttachStream(stream *FundingStream, maxAge time.Duration) {
	g.stream = stream
	g.streamMaxAge = maxAge
}

func (g *Gateway) FundingRate(ctx context.Context, symbol string) float64 {
	if g.stream != nil {
		if r, ok := g.stream.Rate(symbol, g.streamMaxAge); ok {
			return r
		}
	}
	var resp premiumIndexResponse
	params := url.Values{"symbol": {symbol}}
	if err := g.client.futures(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false, &resp); err != nil {
		g.log.Warn("funding rate fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return 0
	}
	return float64(resp.LastFundingRate)
}

func (g *Gateway) OrderBook(ctx context.Context, symbol string, depth int) gateway.OrderBook {
	if depth <= 0 {
		depth = gateway.LiquidityDepth
	}
	var resp depthResponse
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := g.client.spot(ctx, http.MethodGet, "/api/v3/depth", params, false, &resp); err != nil {
		g.log.Warn("order book fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return gateway.OrderBook{}
	}
	return resp.book()
}

func (g *Gateway) BestMakerPrice(ctx context.Context, symbol string, side gateway.Side) (float64, bool) {
	return gateway.MakerPrice(g.OrderBook(ctx, symbol, 5), side)
}

func (g *Gateway) CheckLiquidity(ctx context.Context, symbol string, min float64) bool {
	return gateway.HasLiquidity(g.OrderBook(ctx, symbol, gateway.LiquidityDepth), min)
}

func (g *Gateway) FundingRateHistory(ctx context.Context, symbol string, limit int) []gateway.FundingObservation {
	params := url.Values{"symbol": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp []fundingRateEntry
	if err := g.client.futures(ctx, http.MethodGet, "/fapi/v1/fundingRate", params, false, &resp); err != nil {
		g.log.Warn("funding history fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	return observations(resp)
}

func (g *Gateway) CreateSpotOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error) {
	qty, step, err := g.quantity(ctx, spotMarket, req)
	if err != nil {
		return gateway.Fill{}, err
	}
	params := url.Values{
		"symbol":           {req.Symbol},
		"side":             {string(req.Side)},
		"type":             {"MARKET"},
		"quantity":         {formatQuantity(qty, step)},
		"newOrderRespType": {"FULL"},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	var resp spotOrderResponse
	if err := g.client.spot(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return gateway.Fill{}, fmt.Errorf("spot %s %s: %w", req.Side, req.Symbol, err)
	}
	fill := resp.fill(req, g.quote, g.spotFee)
	g.log.Info("spot order filled",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("amount", fill.Amount),
		zap.Float64("price", fill.Price),
	)
	return fill, nil
}

func (g *Gateway) CreateFuturesOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error) {
	qty, step, err := g.quantity(ctx, futuresMarket, req)
	if err != nil {
		return gateway.Fill{}, err
	}
	params := url.Values{
		"symbol":           {req.Symbol},
		"side":             {string(req.Side)},
		"type":             {"MARKET"},
		"quantity":         {formatQuantity(qty, step)},
		"newOrderRespType": {"RESULT"},
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	var resp futuresOrderResponse
	if err := g.client.futures(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return gateway.Fill{}, fmt.Errorf("futures %s %s: %w", req.Side, req.Symbol, err)
	}
	fill := resp.fill(req, g.futuresFee)
	g.log.Info("futures order filled",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("amount", fill.Amount),
		zap.Float64("price", fill.Price),
	)
	return fill, nil
}

func (g *Gateway) Balance(ctx context.Context, currency string) float64 {
	account, err := g.account(ctx)
	if err != nil {
		g.log.Warn("balance fetch failed", zap.String("currency", currency), zap.Error(err))
		return 0
	}
	free, _, _ := account.asset(currency)
	return free
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) bool {
	params := url.Values{"symbol": {symbol}, "leverage": {strconv.Itoa(leverage)}}
	if err := g.client.futures(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil); err != nil {
		g.log.Warn("set leverage failed", zap.String("symbol", symbol), zap.Int("leverage", leverage), zap.Error(err))
		return false
	}
	return true
}

// Position reports the base asset held on spot (free plus locked) and the
// absolute futures position for symbol.
func (g *Gateway) Position(ctx context.Context, symbol string) (gateway.Position, bool) {
	account, err := g.account(ctx)
	if err != nil {
		g.log.Warn("spot position fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return gateway.Position{}, false
	}
	var risks []positionRiskEntry
	params := url.Values{"symbol": {symbol}}
	if err := g.client.futures(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &risks); err != nil {
		g.log.Warn("futures position fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return gateway.Position{}, false
	}
	pos := gateway.Position{Symbol: symbol}
	free, locked, _ := account.asset(BaseAsset(symbol, g.quote))
	pos.SpotSize = free + locked
	for _, r := range risks {
		if r.Symbol == symbol {
			pos.FuturesSize += math.Abs(float64(r.PositionAmt))
		}
	}
	return pos, true
}

func (g *Gateway) account(ctx context.Context) (accountResponse, error) {
	var resp accountResponse
	err := g.client.spot(ctx, http.MethodGet, "/api/v3/account", nil, true, &resp)
	return resp, err
}

// quantity floors the requested amount to the venue lot step. Orders that
// round to zero are rejected locally.
func (g *Gateway) quantity(ctx context.Context, market string, req gateway.OrderRequest) (float64, float64, error) {
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return 0, 0, fmt.Errorf("amount %v: %w", req.Amount, gateway.ErrInvalidOrder)
	}
	step := g.stepSize(ctx, market, req.Symbol)
	qty := roundToStep(req.Amount, step)
	if qty <= 0 {
		return 0, 0, fmt.Errorf("amount %v below lot step %v: %w", req.Amount, step, gateway.ErrInvalidOrder)
	}
	return qty, step, nil
}

func (g *Gateway) stepSize(ctx context.Context, market, symbol string) float64 {
	key := market + ":" + symbol
	g.mu.Lock()
	step, ok := g.steps[key]
	g.mu.Unlock()
	if ok {
		return step
	}

	var resp exchangeInfoResponse
	var err error
	if market == spotMarket {
		err = g.client.spot(ctx, http.MethodGet, "/api/v3/exchangeInfo", url.Values{"symbol": {symbol}}, false, &resp)
	} else {
		err = g.client.futures(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &resp)
	}
	if err != nil {
		g.log.Warn("exchange info fetch failed", zap.String("market", market), zap.String("symbol", symbol), zap.Error(err))
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for sym, s := range resp.stepSizes() {
		g.steps[market+":"+sym] = s
	}
	if _, ok := g.steps[key]; !ok {
		g.steps[key] = 0
	}
	return g.steps[key]
}

// BaseAsset strips the quote suffix from a symbol, e.g. BTCUSDT -> BTC.
func BaseAsset(symbol, quote string) string {
	if quote != "" && strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
		return strings.TrimSuffix(symbol, quote)
	}
	return symbol
}

var _ gateway.Gateway = (*Gateway)(nil)
