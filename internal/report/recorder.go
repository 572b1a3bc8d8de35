// Package report keeps the trade journal and running performance figures and
// renders point-in-time reports from them.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"funding-carry-bot/internal/gateway"
	"funding-carry-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	tradesFile      = "trades.json"
	performanceFile = "performance.json"
)

type TradeType string

const (
	TradeOpen  TradeType = "OPEN"
	TradeClose TradeType = "CLOSE"
)

type Leg string

const (
	LegSpot    Leg = "spot"
	LegFutures Leg = "futures"
)

type TradeRecord struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Symbol      string       `json:"symbol"`
	Type        TradeType    `json:"type"`
	Side        gateway.Side `json:"side"`
	Leg         Leg          `json:"leg"`
	Amount      float64      `json:"amount"`
	Price       float64      `json:"price"`
	Fees        float64      `json:"fees"`
	FundingRate float64      `json:"funding_rate"`
	Profit      float64      `json:"profit"`
}

type Performance struct {
	InitialBalance float64            `json:"initial_balance"`
	CurrentBalance float64            `json:"current_balance"`
	TotalProfit    float64            `json:"total_profit"`
	TotalTrades    int                `json:"total_trades"`
	WinningTrades  int                `json:"winning_trades"`
	LosingTrades   int                `json:"losing_trades"`
	TotalFees      float64            `json:"total_fees"`
	MaxDrawdown    float64            `json:"max_drawdown"`
	DailyProfits   map[string]float64 `json:"daily_profits"`
}

// Sink receives every trade after it has been journaled.
type Sink interface {
	RecordTrade(trade TradeRecord)
}

type Recorder struct {
	dir  string
	log  *zap.Logger
	now  func() time.Time
	sink Sink

	mu     sync.Mutex
	trades []TradeRecord
	perf   Performance
}

func NewRecorder(dir string, log *zap.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("report dir is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	r := &Recorder{
		dir:  dir,
		log:  log,
		now:  time.Now,
		perf: Performance{DailyProfits: make(map[string]float64)},
	}
	r.load()
	return r, nil
}

func (r *Recorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Recorder) SetSink(sink Sink) {
	r.sink = sink
}

// load restores journal and performance files. Missing files start empty;
// unreadable ones are discarded with a warning.
func (r *Recorder) load() {
	if data, err := os.ReadFile(filepath.Join(r.dir, tradesFile)); err == nil {
		var trades []TradeRecord
		if err := json.Unmarshal(data, &trades); err != nil {
			r.log.Warn("discarding corrupt trade journal", zap.Error(err))
		} else {
			r.trades = trades
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("trade journal unreadable", zap.Error(err))
	}
	if data, err := os.ReadFile(filepath.Join(r.dir, performanceFile)); err == nil {
		var perf Performance
		if err := json.Unmarshal(data, &perf); err != nil {
			r.log.Warn("discarding corrupt performance file", zap.Error(err))
		} else {
			r.perf = perf
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("performance file unreadable", zap.Error(err))
	}
	if r.perf.DailyProfits == nil {
		r.perf.DailyProfits = make(map[string]float64)
	}
}

// HasInitialBalance reports whether a previous run already set the baseline.
func (r *Recorder) HasInitialBalance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perf.InitialBalance > 0
}

func (r *Recorder) SetInitialBalance(balance float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perf.InitialBalance = balance
	r.perf.CurrentBalance = balance
	return r.saveLocked()
}

// Record journals trade and folds it into the running performance. OPEN legs
// count as trades and accumulate fees; CLOSE legs realize profit.
func (r *Recorder) Record(trade TradeRecord) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = r.now()
	}
	trade.Timestamp = trade.Timestamp.UTC()

	r.mu.Lock()
	r.apply(trade)
	r.trades = append(r.trades, trade)
	err := r.saveLocked()
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.RecordTrade(trade)
	}
	if err != nil {
		return fmt.Errorf("persist trade %s: %w", trade.ID, err)
	}
	return nil
}

func (r *Recorder) apply(trade TradeRecord) {
	p := &r.perf
	switch trade.Type {
	case TradeOpen:
		p.TotalTrades++
		p.TotalFees += trade.Fees
	case TradeClose:
		p.TotalFees += trade.Fees
		p.TotalProfit += trade.Profit
		p.CurrentBalance += trade.Profit
		if trade.Profit > 0 {
			p.WinningTrades++
		} else {
			p.LosingTrades++
		}
		p.DailyProfits[trade.Timestamp.Format("2006-01-02")] += trade.Profit
		if p.InitialBalance > 0 && p.CurrentBalance < p.InitialBalance {
			drawdown := (p.InitialBalance - p.CurrentBalance) / p.InitialBalance
			p.MaxDrawdown = math.Max(p.MaxDrawdown, drawdown)
		}
	}
}

func (r *Recorder) saveLocked() error {
	trades, err := json.MarshalIndent(r.trades, "", "  ")
	if err != nil {
		return err
	}
	perf, err := json.MarshalIndent(r.perf, "", "  ")
	if err != nil {
		return err
	}
	if err := state.WriteFileAtomic(filepath.Join(r.dir, tradesFile), trades); err != nil {
		return err
	}
	return state.WriteFileAtomic(filepath.Join(r.dir, performanceFile), perf)
}

func (r *Recorder) Trades() []TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TradeRecord(nil), r.trades...)
}

func (r *Recorder) Performance() Performance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.perf
	out.DailyProfits = make(map[string]float64, len(r.perf.DailyProfits))
	for k, v := range r.perf.DailyProfits {
		out.DailyProfits[k] = v
	}
	return out
}

type Summary struct {
	InitialBalance float64
	CurrentBalance float64
	TotalProfit    float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	TotalFees      float64
	MaxDrawdown    float64
	ProfitFactor   float64
}

// Summary derives win rate (percent of OPEN legs) and profit factor
// (|profit / fees|) from the running totals.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.perf
	s := Summary{
		InitialBalance: p.InitialBalance,
		CurrentBalance: p.CurrentBalance,
		TotalProfit:    p.TotalProfit,
		TotalTrades:    p.TotalTrades,
		WinningTrades:  p.WinningTrades,
		LosingTrades:   p.LosingTrades,
		TotalFees:      p.TotalFees,
		MaxDrawdown:    p.MaxDrawdown,
	}
	if p.TotalTrades > 0 {
		s.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades) * 100
	}
	if p.TotalFees > 0 {
		s.ProfitFactor = math.Abs(p.TotalProfit / p.TotalFees)
	}
	return s
}

func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Float64("initial_balance", s.InitialBalance),
		zap.Float64("current_balance", s.CurrentBalance),
		zap.Float64("total_profit", s.TotalProfit),
		zap.Int("total_trades", s.TotalTrades),
		zap.Float64("win_rate_pct", s.WinRate),
		zap.Float64("total_fees", s.TotalFees),
		zap.Float64("max_drawdown", s.MaxDrawdown),
		zap.Float64("profit_factor", s.ProfitFactor),
	}
}
