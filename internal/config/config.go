package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Paper     PaperConfig     `yaml:"paper"`
	State     StateConfig     `yaml:"state"`
	Report    ReportConfig    `yaml:"report"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Fees      FeeConfig       `yaml:"fees"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ExchangeConfig struct {
	SpotBaseURL    string        `yaml:"spot_base_url"`
	FuturesBaseURL string        `yaml:"futures_base_url"`
	StreamURL      string        `yaml:"stream_url"`
	StreamEnabled  bool          `yaml:"stream_enabled"`
	StreamMaxAge   time.Duration `yaml:"stream_max_age"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	RecvWindow     time.Duration `yaml:"recv_window"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	QuoteAsset     string        `yaml:"quote_asset"`
	APIKey         string        `yaml:"-"`
	APISecret      string        `yaml:"-"`
}

type PaperConfig struct {
	Enabled        bool    `yaml:"enabled"`
	InitialBalance float64 `yaml:"initial_balance"`
	Synthetic      bool    `yaml:"synthetic"`
	Seed           int64   `yaml:"seed"`
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	SQLitePath string `yaml:"sqlite_path"`
}

type ReportConfig struct {
	Dir string `yaml:"dir"`
}

type StrategyConfig struct {
	TradingPairs            []string      `yaml:"trading_pairs"`
	MinFundingRate          float64       `yaml:"min_funding_rate"`
	ExitFundingRate         float64       `yaml:"exit_funding_rate"`
	MaxLeverage             int           `yaml:"max_leverage"`
	MaxPositionPercent      float64       `yaml:"max_position_percent"`
	MaxPositionSize         float64       `yaml:"max_position_size"`
	MinPositionSize         float64       `yaml:"min_position_size"`
	MinLiquidity            float64       `yaml:"min_liquidity"`
	MaxPositionDuration     time.Duration `yaml:"max_position_duration"`
	FundingImprovementRatio float64       `yaml:"funding_improvement_ratio"`
	SettlementInterval      time.Duration `yaml:"settlement_interval"`
	HistoryLimit            int           `yaml:"history_limit"`
	ScanInterval            time.Duration `yaml:"scan_interval"`
	MonitorInterval         time.Duration `yaml:"monitor_interval"`
	ErrorCooldown           time.Duration `yaml:"error_cooldown"`
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout"`
}

type RiskConfig struct {
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxDailyTrades   int     `yaml:"max_daily_trades"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
}

type FeeConfig struct {
	SpotMaker    float64 `yaml:"spot_maker"`
	FuturesTaker float64 `yaml:"futures_taker"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Exchange.SpotBaseURL == "" {
		cfg.Exchange.SpotBaseURL = "https://api.binance.com"
	}
	if cfg.Exchange.FuturesBaseURL == "" {
		cfg.Exchange.FuturesBaseURL = "https://fapi.binance.com"
	}
	if cfg.Exchange.StreamURL == "" {
		cfg.Exchange.StreamURL = deriveStreamURL(cfg.Exchange.FuturesBaseURL)
	}
	if cfg.Exchange.StreamMaxAge == 0 {
		cfg.Exchange.StreamMaxAge = 10 * time.Second
	}
	if cfg.Exchange.ReconnectDelay == 0 {
		cfg.Exchange.ReconnectDelay = 3 * time.Second
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.Exchange.RecvWindow == 0 {
		cfg.Exchange.RecvWindow = 5 * time.Second
	}
	if cfg.Exchange.RequestsPerSec == 0 {
		cfg.Exchange.RequestsPerSec = 10
	}
	if cfg.Exchange.QuoteAsset == "" {
		cfg.Exchange.QuoteAsset = "USDT"
	}
	if cfg.Paper.InitialBalance == 0 {
		cfg.Paper.InitialBalance = 1000
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "data/bot_state.json"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/funding-carry-bot.db"
	}
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "reports"
	}
	applyStrategyDefaults(&cfg.Strategy)
	if cfg.Risk.MaxOpenPositions == 0 {
		cfg.Risk.MaxOpenPositions = 3
	}
	if cfg.Risk.MaxDailyTrades == 0 {
		cfg.Risk.MaxDailyTrades = 10
	}
	if cfg.Risk.MaxDrawdown == 0 {
		cfg.Risk.MaxDrawdown = 0.05
	}
	if cfg.Fees.SpotMaker == 0 {
		cfg.Fees.SpotMaker = 0.00075
	}
	if cfg.Fees.FuturesTaker == 0 {
		cfg.Fees.FuturesTaker = 0.0004
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func applyStrategyDefaults(s *StrategyConfig) {
	if len(s.TradingPairs) == 0 {
		s.TradingPairs = []string{
			"BTCUSDT", "ETHUSDT", "SOLUSDT", "AVAXUSDT", "MATICUSDT",
			"DOGEUSDT", "SHIBUSDT", "LINKUSDT", "UNIUSDT", "AAVEUSDT",
		}
	}
	if s.MinFundingRate == 0 {
		s.MinFundingRate = -0.001
	}
	if s.ExitFundingRate == 0 {
		s.ExitFundingRate = -0.00005
	}
	if s.MaxLeverage == 0 {
		s.MaxLeverage = 5
	}
	if s.MaxPositionPercent == 0 {
		s.MaxPositionPercent = 0.2
	}
	if s.MaxPositionSize == 0 {
		s.MaxPositionSize = 1000
	}
	if s.MinPositionSize == 0 {
		s.MinPositionSize = 4
	}
	if s.MinLiquidity == 0 {
		s.MinLiquidity = 0.01
	}
	if s.MaxPositionDuration == 0 {
		s.MaxPositionDuration = 72 * time.Hour
	}
	if s.FundingImprovementRatio == 0 {
		s.FundingImprovementRatio = 0.5
	}
	if s.SettlementInterval == 0 {
		s.SettlementInterval = 8 * time.Hour
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = 30
	}
	if s.ScanInterval == 0 {
		s.ScanInterval = 60 * time.Second
	}
	if s.MonitorInterval == 0 {
		s.MonitorInterval = 10 * time.Second
	}
	if s.ErrorCooldown == 0 {
		s.ErrorCooldown = 60 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 2 * time.Minute
	}
}

func applyEnvOverrides(cfg *Config) {
	if key := strings.TrimSpace(os.Getenv("BINANCE_API_KEY")); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET")); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if raw := strings.TrimSpace(os.Getenv("FCB_PAPER_TRADING")); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			cfg.Paper.Enabled = enabled
		}
	}
	if raw := strings.TrimSpace(os.Getenv("FCB_PAPER_BALANCE")); raw != "" {
		if balance, err := strconv.ParseFloat(raw, 64); err == nil && balance > 0 {
			cfg.Paper.InitialBalance = balance
		}
	}
	if token := strings.TrimSpace(os.Getenv("FCB_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("FCB_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("FCB_TIMESCALE_DSN")); dsn != "" {
		cfg.Timescale.DSN = dsn
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if len(s.TradingPairs) == 0 {
		return errors.New("strategy.trading_pairs is required")
	}
	for _, pair := range s.TradingPairs {
		if strings.TrimSpace(pair) == "" {
			return errors.New("strategy.trading_pairs contains an empty symbol")
		}
	}
	if s.MinFundingRate >= 0 {
		return errors.New("strategy.min_funding_rate must be < 0")
	}
	if s.ExitFundingRate < s.MinFundingRate {
		return errors.New("strategy.exit_funding_rate must be >= strategy.min_funding_rate")
	}
	if s.MaxLeverage < 1 {
		return errors.New("strategy.max_leverage must be >= 1")
	}
	if s.MaxPositionPercent <= 0 || s.MaxPositionPercent > 1 {
		return errors.New("strategy.max_position_percent must be in (0, 1]")
	}
	if s.MinPositionSize <= 0 || s.MaxPositionSize <= 0 {
		return errors.New("strategy position sizes must be > 0")
	}
	if s.MinPositionSize > s.MaxPositionSize {
		return errors.New("strategy.min_position_size exceeds strategy.max_position_size")
	}
	if s.MinLiquidity < 0 {
		return errors.New("strategy.min_liquidity must be >= 0")
	}
	if s.FundingImprovementRatio <= 0 || s.FundingImprovementRatio > 1 {
		return errors.New("strategy.funding_improvement_ratio must be in (0, 1]")
	}
	if s.HistoryLimit < 1 {
		return errors.New("strategy.history_limit must be >= 1")
	}
	for name, d := range map[string]time.Duration{
		"max_position_duration": s.MaxPositionDuration,
		"settlement_interval":   s.SettlementInterval,
		"scan_interval":         s.ScanInterval,
		"monitor_interval":      s.MonitorInterval,
		"error_cooldown":        s.ErrorCooldown,
		"shutdown_timeout":      s.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("strategy.%s must be > 0", name)
		}
	}
	if s.MaxPositionDuration < s.SettlementInterval {
		return errors.New("strategy.max_position_duration must cover at least one settlement interval")
	}
	if cfg.Risk.MaxOpenPositions < 1 || cfg.Risk.MaxDailyTrades < 1 {
		return errors.New("risk position and trade caps must be >= 1")
	}
	if cfg.Risk.MaxDrawdown <= 0 || cfg.Risk.MaxDrawdown > 1 {
		return errors.New("risk.max_drawdown must be in (0, 1]")
	}
	if cfg.Fees.SpotMaker < 0 || cfg.Fees.FuturesTaker < 0 {
		return errors.New("fee rates must be >= 0")
	}
	switch cfg.State.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("state.backend %q is not supported", cfg.State.Backend)
	}
	if cfg.Exchange.RequestsPerSec < 0 {
		return errors.New("exchange.requests_per_sec must be >= 0")
	}
	if !cfg.Paper.Enabled && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
		return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required when paper trading is disabled")
	}
	if cfg.Paper.Enabled && cfg.Paper.InitialBalance <= 0 {
		return errors.New("paper.initial_balance must be > 0")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func deriveStreamURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://fapi."):
		return "wss://fstream." + strings.TrimPrefix(base, "https://fapi.")
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
