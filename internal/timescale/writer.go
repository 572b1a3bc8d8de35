package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"funding-carry-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Trade struct {
	ID          string
	Time        time.Time
	Symbol      string
	Type        string
	Side        string
	Leg         string
	Amount      float64
	Price       float64
	Fees        float64
	FundingRate float64
	Profit      float64
}

type FundingObservation struct {
	Time   time.Time
	Symbol string
	Rate   float64
	Source string
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	trades      chan Trade
	funding     chan FundingObservation
	dropTrade   atomic.Uint64
	dropFunding atomic.Uint64
}

// New opens the pgx-backed connection and ensures the schema. It returns a nil
// writer when disabled; every method is safe on a nil writer.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer, err := NewWithDB(ctx, db, cfg.Schema, cfg.QueueSize, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func NewWithDB(ctx context.Context, db *sql.DB, schema string, queueSize int, log *zap.Logger) (*Writer, error) {
	if db == nil {
		return nil, errors.New("timescale db not initialized")
	}
	if log == nil {
		log = zap.NewNop()
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		trades:  make(chan Trade, queueSize),
		funding: make(chan FundingObservation, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Run writes queued rows until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	if w == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		case obs := <-w.funding:
			w.writeFunding(ctx, obs)
		}
	}
}

// Drain writes whatever is still queued, e.g. trades recorded during shutdown.
func (w *Writer) Drain(ctx context.Context) {
	if w == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		case obs := <-w.funding:
			w.writeFunding(ctx, obs)
		default:
			return
		}
	}
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTrade(trade Trade) {
	if w == nil {
		return
	}
	select {
	case w.trades <- trade:
	default:
		if w.dropTrade.Add(1) == 1 {
			w.log.Warn("timescale trade queue full")
		}
	}
}

func (w *Writer) EnqueueFunding(obs FundingObservation) {
	if w == nil {
		return
	}
	select {
	case w.funding <- obs:
	default:
		if w.dropFunding.Add(1) == 1 {
			w.log.Warn("timescale funding queue full")
		}
	}
}

// Dropped reports how many trade and funding rows were discarded on a full
// queue.
func (w *Writer) Dropped() (trades, funding uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropTrade.Load(), w.dropFunding.Load()
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		trade_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		trade_type TEXT NOT NULL,
		side TEXT NOT NULL,
		leg TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		fees DOUBLE PRECISION NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		profit DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, trade_id)
	)`, w.table("trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		rate DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		PRIMARY KEY (ts, symbol)
	)`, w.table("funding_observations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"trades", "funding_observations"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeTrade(ctx context.Context, trade Trade) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, trade_id, symbol, trade_type, side, leg, amount, price, fees, funding_rate, profit
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	)
	ON CONFLICT (ts, trade_id) DO NOTHING`, w.table("trades"))
	if _, err := w.db.ExecContext(ctx, query,
		trade.Time,
		trade.ID,
		trade.Symbol,
		trade.Type,
		trade.Side,
		trade.Leg,
		trade.Amount,
		trade.Price,
		trade.Fees,
		trade.FundingRate,
		trade.Profit,
	); err != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFunding(ctx context.Context, obs FundingObservation) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, rate, source
	) VALUES (
		$1,$2,$3,$4
	)
	ON CONFLICT (ts, symbol) DO UPDATE SET
		rate = EXCLUDED.rate,
		source = EXCLUDED.source`, w.table("funding_observations"))
	if _, err := w.db.ExecContext(ctx, query,
		obs.Time,
		obs.Symbol,
		obs.Rate,
		obs.Source,
	); err != nil {
		w.log.Warn("timescale funding upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
