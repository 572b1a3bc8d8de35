package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"funding-carry-bot/internal/alerts"
	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/exec"
	"funding-carry-bot/internal/gateway"
	"funding-carry-bot/internal/metrics"
	"funding-carry-bot/internal/report"
	"funding-carry-bot/internal/state"
	"funding-carry-bot/internal/strategy"
	"funding-carry-bot/internal/timescale"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	flatEpsilon = 1e-9
	bookDepth   = 5
)

var ErrBalanceTooLow = errors.New("initial balance below minimum position size")

// Runner is a background component supervised alongside the control loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps carries the collaborators the engine is built from. Gateway, Store and
// Recorder are required.
type Deps struct {
	Gateway        gateway.Gateway
	Store          state.Store
	Recorder       *report.Recorder
	Alerts         alerts.Notifier
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Timescale      *timescale.Writer
	Runners        []Runner
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	gw        gateway.Gateway
	store     state.Store
	executor  *exec.Executor
	recorder  *report.Recorder
	risk      *strategy.Governor
	lifecycle *strategy.Lifecycle
	metrics   *metrics.Metrics
	handler   http.Handler
	alerts    alerts.Notifier
	timescale *timescale.Writer
	runners   []Runner

	analysis strategy.Params
	exits    strategy.ExitParams
	quote    string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// mu guards ledger and serializes check-then-act on it.
	mu       sync.Mutex
	ledger   *state.BotState
	lastScan time.Time
}

// NewWithDeps reads the starting balance and refuses to build an engine that
// could never open a position.
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Gateway == nil || deps.Store == nil || deps.Recorder == nil {
		return nil, errors.New("gateway, store and recorder are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewTelegram(config.TelegramConfig{}, log)
	}
	quote := cfg.Exchange.QuoteAsset
	initial := deps.Gateway.Balance(ctx, quote)
	if initial < cfg.Strategy.MinPositionSize {
		return nil, fmt.Errorf("%s balance %.4f < %.4f: %w", quote, initial, cfg.Strategy.MinPositionSize, ErrBalanceTooLow)
	}
	if !deps.Recorder.HasInitialBalance() {
		if err := deps.Recorder.SetInitialBalance(initial); err != nil {
			log.Warn("initial balance not persisted", zap.Error(err))
		}
	}
	if deps.Timescale != nil {
		deps.Recorder.SetSink(timescaleSink{writer: deps.Timescale})
	}

	ledger := state.NewBotState(time.Now())
	a := &App{
		cfg:       cfg,
		log:       log,
		gw:        deps.Gateway,
		store:     deps.Store,
		executor:  exec.New(deps.Gateway, deps.Store, log),
		recorder:  deps.Recorder,
		risk:      strategy.NewGovernor(cfg.Risk, deps.Gateway, quote, initial, ledger, log),
		lifecycle: strategy.NewLifecycle(),
		metrics:   deps.Metrics,
		handler:   deps.MetricsHandler,
		alerts:    deps.Alerts,
		timescale: deps.Timescale,
		runners:   deps.Runners,
		analysis:  strategy.ParamsFromConfig(cfg.Strategy, cfg.Fees),
		exits:     strategy.ExitParamsFromConfig(cfg.Strategy),
		quote:     quote,
		now:       time.Now,
		sleep:     sleepContext,
		ledger:    ledger,
	}
	log.Info("engine initialized",
		zap.String("quote", quote),
		zap.Float64("initial_balance", initial),
		zap.Strings("pairs", cfg.Strategy.TradingPairs),
	)
	return a, nil
}

// Run restores the ledger and drives the control loop until ctx is cancelled,
// then closes every open position and writes the performance report. It
// returns context.Canceled on a clean stop.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if err := a.restore(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.runners {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	if a.timescale != nil {
		g.Go(func() error { return a.timescale.Run(gctx) })
	}
	if a.handler != nil && a.cfg.Metrics.EnabledValue() {
		a.serveMetrics(gctx, g)
	}
	g.Go(func() error { return a.loop(gctx) })
	err := g.Wait()

	a.Shutdown()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (a *App) loop(ctx context.Context) error {
	for {
		delay := a.cfg.Strategy.MonitorInterval
		if err := a.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.metrics.CycleErrors.Inc()
			a.log.Error("cycle failed", zap.Error(err), zap.Duration("cooldown", a.cfg.Strategy.ErrorCooldown))
			delay = a.cfg.Strategy.ErrorCooldown
		}
		if err := a.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (a *App) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			a.log.Error("cycle panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	return a.cycle(ctx)
}

func (a *App) cycle(ctx context.Context) error {
	if err := a.scan(ctx); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := a.monitor(ctx); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Shutdown closes every ledger position on a fresh context, since the run
// context is already cancelled, then reports.
func (a *App) Shutdown() {
	timeout := a.cfg.Strategy.ShutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var closed, failed []string
	a.mu.Lock()
	for _, symbol := range a.ledger.Symbols() {
		if err := a.closePosition(ctx, symbol, strategy.ExitShutdown); err != nil {
			a.log.Error("shutdown close failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if a.ledger.Has(symbol) {
			failed = append(failed, symbol)
		} else {
			closed = append(closed, symbol)
		}
	}
	a.mu.Unlock()

	summary := a.recorder.Summary()
	a.log.Info("performance summary", summary.Fields()...)
	if dir, err := a.recorder.WriteReport(a.now()); err != nil {
		a.log.Error("report write failed", zap.Error(err))
	} else if dir != "" {
		a.log.Info("report written", zap.String("dir", dir))
	}
	a.alerts.Notify(ctx, alerts.ShutdownMessage(closed, failed, summary.TotalProfit))
	a.timescale.Drain(ctx)
}

func (a *App) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
}

// save persists the ledger. Caller holds a.mu.
func (a *App) save(ctx context.Context) error {
	a.metrics.OpenPositions.Set(float64(a.ledger.Len()))
	if err := state.SaveBotState(ctx, a.store, a.ledger); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (a *App) record(trade report.TradeRecord) {
	if err := a.recorder.Record(trade); err != nil {
		a.log.Warn("trade record failed", zap.String("symbol", trade.Symbol), zap.Error(err))
	}
}

func (a *App) countOrder(err error) {
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		return
	}
	a.metrics.OrdersPlaced.Inc()
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.handler)
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Info("metrics server listening", zap.String("addr", srv.Addr), zap.String("path", a.cfg.Metrics.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The bot keeps trading without its metrics endpoint.
			a.log.Error("metrics server failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type timescaleSink struct {
	writer *timescale.Writer
}

func (s timescaleSink) RecordTrade(t report.TradeRecord) {
	s.writer.EnqueueTrade(timescale.Trade{
		ID:          t.ID,
		Time:        t.Timestamp,
		Symbol:      t.Symbol,
		Type:        string(t.Type),
		Side:        string(t.Side),
		Leg:         string(t.Leg),
		Amount:      t.Amount,
		Price:       t.Price,
		Fees:        t.Fees,
		FundingRate: t.FundingRate,
		Profit:      t.Profit,
	})
}
