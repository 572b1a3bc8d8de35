// Package gateway defines the venue capability contract consumed by the
// position lifecycle engine. Read operations degrade to safe defaults and never
// return errors; order placement returns classified errors so callers can
// compensate or reconcile.
package gateway

import (
	"context"
	"errors"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientPosition = errors.New("insufficient position")
)

// IsOrderRejection reports whether err is a classified venue rejection rather
// than a transport or unknown failure.
func IsOrderRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrInsufficientPosition)
}

type Level struct {
	Price    float64
	Quantity float64
}

type OrderBook struct {
	Bids []Level
	Asks []Level
}

func (b OrderBook) Empty() bool {
	return len(b.Bids) == 0 || len(b.Asks) == 0
}

func (b OrderBook) Mid() float64 {
	if b.Empty() {
		return 0
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2
}

type FundingObservation struct {
	Rate float64
	Time time.Time
}

type OrderRequest struct {
	Symbol        string
	Side          Side
	Amount        float64
	ClientOrderID string
	ReduceOnly    bool
}

type Fill struct {
	OrderID       string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Amount        float64   `json:"amount"`
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	Time          time.Time `json:"timestamp"`
}

// Position reports both legs held on the venue for one symbol, in base units.
type Position struct {
	Symbol      string
	SpotSize    float64
	FuturesSize float64
}

func (p Position) Flat(epsilon float64) bool {
	return abs(p.SpotSize) <= epsilon && abs(p.FuturesSize) <= epsilon
}

type MarketData interface {
	FundingRate(ctx context.Context, symbol string) float64
	OrderBook(ctx context.Context, symbol string, depth int) OrderBook
	BestMakerPrice(ctx context.Context, symbol string, side Side) (float64, bool)
	CheckLiquidity(ctx context.Context, symbol string, min float64) bool
	FundingRateHistory(ctx context.Context, symbol string, limit int) []FundingObservation
}

type Trading interface {
	CreateSpotOrder(ctx context.Context, req OrderRequest) (Fill, error)
	CreateFuturesOrder(ctx context.Context, req OrderRequest) (Fill, error)
	Balance(ctx context.Context, currency string) float64
	SetLeverage(ctx context.Context, symbol string, leverage int) bool
	// Position reports false only when the venue could not be queried; a
	// symbol with nothing held is a flat Position and true.
	Position(ctx context.Context, symbol string) (Position, bool)
}

type Gateway interface {
	MarketData
	Trading
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
