package paper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"funding-carry-bot/internal/gateway"
)

const (
	syntheticMid    = 100.0
	syntheticSpread = 0.001
	syntheticLevels = 10
	syntheticSize   = 1.0
	minSynthRate    = -0.005
	maxSynthRate    = -0.001
	historyJitter   = 0.1
	historySpacing  = 8 * time.Hour
)

// SyntheticMarket is an offline market data source. Each symbol gets a random
// negative funding rate on first use which then stays fixed.
type SyntheticMarket struct {
	now func() time.Time

	mu    sync.Mutex
	rng   *rand.Rand
	rates map[string]float64
}

func NewSyntheticMarket(seed int64) *SyntheticMarket {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticMarket{
		now:   time.Now,
		rng:   rand.New(rand.NewSource(seed)),
		rates: make(map[string]float64),
	}
}

func (m *SyntheticMarket) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetRate pins the funding rate for symbol.
func (m *SyntheticMarket) SetRate(symbol string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[symbol] = rate
}

func (m *SyntheticMarket) FundingRate(ctx context.Context, symbol string) float64 {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLocked(symbol)
}

func (m *SyntheticMarket) rateLocked(symbol string) float64 {
	if r, ok := m.rates[symbol]; ok {
		return r
	}
	r := minSynthRate + m.rng.Float64()*(maxSynthRate-minSynthRate)
	m.rates[symbol] = r
	return r
}

func (m *SyntheticMarket) OrderBook(ctx context.Context, symbol string, depth int) gateway.OrderBook {
	_ = ctx
	_ = symbol
	if depth <= 0 || depth > syntheticLevels {
		depth = syntheticLevels
	}
	book := gateway.OrderBook{
		Bids: make([]gateway.Level, 0, depth),
		Asks: make([]gateway.Level, 0, depth),
	}
	bid := syntheticMid * (1 - syntheticSpread/2)
	ask := syntheticMid * (1 + syntheticSpread/2)
	tick := syntheticMid * syntheticSpread / 10
	for i := 0; i < depth; i++ {
		book.Bids = append(book.Bids, gateway.Level{Price: bid - float64(i)*tick, Quantity: syntheticSize})
		book.Asks = append(book.Asks, gateway.Level{Price: ask + float64(i)*tick, Quantity: syntheticSize})
	}
	return book
}

func (m *SyntheticMarket) BestMakerPrice(ctx context.Context, symbol string, side gateway.Side) (float64, bool) {
	return gateway.MakerPrice(m.OrderBook(ctx, symbol, 1), side)
}

func (m *SyntheticMarket) CheckLiquidity(ctx context.Context, symbol string, min float64) bool {
	return gateway.HasLiquidity(m.OrderBook(ctx, symbol, gateway.LiquidityDepth), min)
}

// FundingRateHistory jitters the current rate by up to 10% per settlement,
// oldest first.
func (m *SyntheticMarket) FundingRateHistory(ctx context.Context, symbol string, limit int) []gateway.FundingObservation {
	_ = ctx
	if limit <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.rateLocked(symbol)
	now := m.now().UTC()
	out := make([]gateway.FundingObservation, limit)
	for i := 0; i < limit; i++ {
		jitter := 1 + (m.rng.Float64()*2-1)*historyJitter
		out[limit-1-i] = gateway.FundingObservation{
			Rate: current * jitter,
			Time: now.Add(-time.Duration(i) * historySpacing),
		}
	}
	return out
}

var _ gateway.MarketData = (*SyntheticMarket)(nil)
