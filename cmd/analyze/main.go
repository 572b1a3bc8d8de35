package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"funding-carry-bot/internal/app"
	"funding-carry-bot/internal/config"
	"funding-carry-bot/internal/logging"
	"funding-carry-bot/internal/strategy"

	"go.uber.org/zap"
)

const defaultAnalyzeEnvFile = ".env"

// analyze prints the profitability verdict for every configured pair at the
// size the engine would trade for the given balance. It places no orders and
// writes no state.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	balance := flag.Float64("balance", 0, "quote balance to size positions from (default: paper initial balance)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if err := config.LoadEnv(defaultAnalyzeEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	size := *balance
	if size <= 0 {
		size = cfg.Paper.InitialBalance
	}
	size = math.Min(size*cfg.Strategy.MaxPositionPercent, cfg.Strategy.MaxPositionSize)
	if size < cfg.Strategy.MinPositionSize {
		fatal(fmt.Errorf("position size %.2f below minimum %.2f", size, cfg.Strategy.MinPositionSize))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	gw, _ := app.NewGateway(cfg, log)
	params := strategy.ParamsFromConfig(cfg.Strategy, cfg.Fees)
	log.Info("analyzing pairs", zap.Int("pairs", len(cfg.Strategy.TradingPairs)), zap.Float64("size", size))

	fmt.Printf("%-10s %10s %10s %10s %10s %10s %10s  %s\n",
		"symbol", "rate", "min_rate", "fees", "breakeven", "payments", "worst_net", "verdict")
	for _, symbol := range cfg.Strategy.TradingPairs {
		rate := gw.FundingRate(ctx, symbol)
		v := strategy.Analyze(ctx, gw, symbol, size, params)
		verdict := "skip"
		switch {
		case v.Err != nil:
			verdict = v.Err.Error()
		case v.Profitable && rate <= cfg.Strategy.MinFundingRate:
			verdict = "enter"
		case v.Profitable:
			verdict = "profitable, rate above threshold"
		}
		fmt.Printf("%-10s %10.6f %10.6f %10.4f %10.6f %10.2f %10.4f  %s\n",
			symbol, rate, v.MinRate, v.TotalFees, v.BreakEvenRate, v.PaymentsToBreakeven, v.WorstCaseNet, verdict)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		fatal(ctx.Err())
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
