// Package paper simulates order execution, balances and positions in memory
// on top of a real or synthetic market data source.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/gateway"

	"go.uber.org/zap"
)

const dust = 1e-12

type holding struct {
	spot    float64
	futures float64
}

// Gateway fills every order immediately at the maker price of the wrapped
// market. Spot legs move the quote balance; futures legs track the short size
// and charge the taker fee.
type Gateway struct {
	market     gateway.MarketData
	spotFee    float64
	futuresFee float64
	log        *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	balance   float64
	positions map[string]*holding
	leverage  map[string]int
	orders    []gateway.Fill
}

func New(market gateway.MarketData, initialBalance float64, fees config.FeeConfig, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		market:     market,
		spotFee:    fees.SpotMaker,
		futuresFee: fees.FuturesTaker,
		log:        log,
		now:        time.Now,
		balance:    initialBalance,
		positions:  make(map[string]*holding),
		leverage:   make(map[string]int),
	}
}

func (g *Gateway) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

func (g *Gateway) FundingRate(ctx context.Context, symbol string) float64 {
	return g.market.FundingRate(ctx, symbol)
}

func (g *Gateway) OrderBook(ctx context.Context, symbol string, depth int) gateway.OrderBook {
	return g.market.OrderBook(ctx, symbol, depth)
}

func (g *Gateway) BestMakerPrice(ctx context.Context, symbol string, side gateway.Side) (float64, bool) {
	return g.market.BestMakerPrice(ctx, symbol, side)
}

func (g *Gateway) CheckLiquidity(ctx context.Context, symbol string, min float64) bool {
	return g.market.CheckLiquidity(ctx, symbol, min)
}

func (g *Gateway) FundingRateHistory(ctx context.Context, symbol string, limit int) []gateway.FundingObservation {
	return g.market.FundingRateHistory(ctx, symbol, limit)
}

func (g *Gateway) CreateSpotOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error) {
	price, err := g.price(ctx, req)
	if err != nil {
		return gateway.Fill{}, err
	}
	notional := req.Amount * price
	fee := notional * g.spotFee

	g.mu.Lock()
	defer g.mu.Unlock()
	pos := g.positions[req.Symbol]
	switch req.Side {
	case gateway.Buy:
		if notional+fee > g.balance {
			return gateway.Fill{}, fmt.Errorf("balance %.4f, needed %.4f: %w", g.balance, notional+fee, gateway.ErrInsufficientFunds)
		}
		g.balance -= notional + fee
		if pos == nil {
			pos = &holding{}
			g.positions[req.Symbol] = pos
		}
		pos.spot += req.Amount
	case gateway.Sell:
		if pos == nil || pos.spot+dust < req.Amount {
			return gateway.Fill{}, fmt.Errorf("spot %s %v: %w", req.Symbol, req.Amount, gateway.ErrInsufficientPosition)
		}
		g.balance += notional - fee
		pos.spot -= req.Amount
	default:
		return gateway.Fill{}, fmt.Errorf("side %q: %w", req.Side, gateway.ErrInvalidOrder)
	}
	g.prune(req.Symbol)
	fill := g.record("spot", req, price, fee)
	g.log.Info("paper spot order",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("amount", req.Amount),
		zap.Float64("price", price),
		zap.Float64("fee", fee),
	)
	return fill, nil
}

func (g *Gateway) CreateFuturesOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error) {
	price, err := g.price(ctx, req)
	if err != nil {
		return gateway.Fill{}, err
	}
	fee := req.Amount * price * g.futuresFee

	g.mu.Lock()
	defer g.mu.Unlock()
	pos := g.positions[req.Symbol]
	switch req.Side {
	case gateway.Sell:
		if pos == nil {
			pos = &holding{}
			g.positions[req.Symbol] = pos
		}
		pos.futures += req.Amount
	case gateway.Buy:
		if pos == nil || pos.futures+dust < req.Amount {
			return gateway.Fill{}, fmt.Errorf("futures %s %v: %w", req.Symbol, req.Amount, gateway.ErrInsufficientPosition)
		}
		pos.futures -= req.Amount
	default:
		return gateway.Fill{}, fmt.Errorf("side %q: %w", req.Side, gateway.ErrInvalidOrder)
	}
	g.balance -= fee
	g.prune(req.Symbol)
	fill := g.record("futures", req, price, fee)
	g.log.Info("paper futures order",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("amount", req.Amount),
		zap.Float64("price", price),
		zap.Float64("fee", fee),
	)
	return fill, nil
}

func (g *Gateway) Balance(ctx context.Context, currency string) float64 {
	_ = ctx
	_ = currency
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) bool {
	_ = ctx
	g.mu.Lock()
	g.leverage[symbol] = leverage
	g.mu.Unlock()
	g.log.Info("paper leverage set", zap.String("symbol", symbol), zap.Int("leverage", leverage))
	return true
}

// Position never fails; a symbol with nothing held reports a flat position.
func (g *Gateway) Position(ctx context.Context, symbol string) (gateway.Position, bool) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[symbol]
	if !ok {
		return gateway.Position{Symbol: symbol}, true
	}
	return gateway.Position{Symbol: symbol, SpotSize: pos.spot, FuturesSize: pos.futures}, true
}

// Orders returns a copy of every simulated fill in placement order.
func (g *Gateway) Orders() []gateway.Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Fill(nil), g.orders...)
}

func (g *Gateway) price(ctx context.Context, req gateway.OrderRequest) (float64, error) {
	if req.Amount <= 0 {
		return 0, fmt.Errorf("amount %v: %w", req.Amount, gateway.ErrInvalidOrder)
	}
	price, ok := g.market.BestMakerPrice(ctx, req.Symbol, req.Side)
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no %s price for %s: %w", req.Side, req.Symbol, gateway.ErrInvalidOrder)
	}
	return price, nil
}

func (g *Gateway) prune(symbol string) {
	pos, ok := g.positions[symbol]
	if !ok {
		return
	}
	if pos.spot <= dust && pos.futures <= dust {
		delete(g.positions, symbol)
	}
}

func (g *Gateway) record(market string, req gateway.OrderRequest, price, fee float64) gateway.Fill {
	fill := gateway.Fill{
		OrderID:       fmt.Sprintf("paper-%s-%d", market, len(g.orders)),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Amount:        req.Amount,
		Price:         price,
		Fee:           fee,
		Time:          g.now().UTC(),
	}
	g.orders = append(g.orders, fill)
	return fill
}

var _ gateway.Gateway = (*Gateway)(nil)
