package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"funding-carry-bot/internal/alerts"
	"funding-carry-bot/internal/binance"
	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/gateway"
	"funding-carry-bot/internal/metrics"
	"funding-carry-bot/internal/paper"
	"funding-carry-bot/internal/report"
	"funding-carry-bot/internal/state"
	"funding-carry-bot/internal/state/sqlite"
	"funding-carry-bot/internal/timescale"

	"go.uber.org/zap"
)

// New assembles the engine from configuration.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := OpenStore(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	recorder, err := report.NewRecorder(cfg.Report.Dir, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}
	gw, stream := NewGateway(cfg, log)
	deps := Deps{
		Gateway:   gw,
		Store:     store,
		Recorder:  recorder,
		Alerts:    alerts.NewTelegram(cfg.Telegram, log),
		Timescale: writer,
	}
	if stream != nil {
		deps.Runners = append(deps.Runners, stream)
	}
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		deps.Metrics = prom.Metrics
		deps.MetricsHandler = prom.Handler()
	}
	a, err := NewWithDeps(ctx, cfg, deps, log)
	if err != nil {
		_ = store.Close()
		_ = writer.Close()
		return nil, err
	}
	return a, nil
}

// NewGateway picks the venue: the synthetic paper market, paper trading over
// live Binance market data, or live Binance. The funding stream is returned
// when one was attached so the caller can run it.
func NewGateway(cfg *config.Config, log *zap.Logger) (gateway.Gateway, *binance.FundingStream) {
	if cfg.Paper.Enabled && cfg.Paper.Synthetic {
		log.Info("using synthetic paper market", zap.Int64("seed", cfg.Paper.Seed))
		return paper.New(paper.NewSyntheticMarket(cfg.Paper.Seed), cfg.Paper.InitialBalance, cfg.Fees, log), nil
	}
	live := binance.New(cfg.Exchange, cfg.Fees, log)
	var stream *binance.FundingStream
	if cfg.Exchange.StreamEnabled {
		stream = binance.NewFundingStream(cfg.Exchange.StreamURL, cfg.Exchange.ReconnectDelay, log)
		live.AttachStream(stream, cfg.Exchange.StreamMaxAge)
	}
	if cfg.Paper.Enabled {
		log.Info("paper trading over live market data", zap.Float64("initial_balance", cfg.Paper.InitialBalance))
		return paper.New(live, cfg.Paper.InitialBalance, cfg.Fees, log), stream
	}
	return live, stream
}

func OpenStore(cfg config.StateConfig) (state.Store, error) {
	if cfg.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return sqlite.New(cfg.SQLitePath)
	}
	return state.NewFileStore(cfg.Path)
}
