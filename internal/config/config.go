// Package config defines all configuration for the trading engine. Config
// is loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via TC_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure; every nested struct corresponds to one component in the
// trading engine.
type Config struct {
	Location   string           `mapstructure:"location"` // IANA zone, e.g. America/New_York
	Bus        BusConfig        `mapstructure:"bus"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Backfill   BackfillConfig   `mapstructure:"backfill"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Converter  ConverterConfig  `mapstructure:"converter"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// BusConfig tunes the event bus's per-subscriber buffer.
type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// ScannerConfig controls the optional symbol scanner that ranks a symbol
// universe. Its results are not fed into any strategy's symbol list.
type ScannerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Universe     []string      `mapstructure:"universe"`
	TopN         int           `mapstructure:"top_n"`
	LookbackDays int           `mapstructure:"lookback_days"`
	Interval     time.Duration `mapstructure:"interval"`
}

// MarketDataConfig selects and configures the market data provider.
//
//   - Vendor: "stream" (generic websocket provider, default) or "alpaca"
//     (historical bars only, via the Alpaca SDK).
type MarketDataConfig struct {
	Vendor               string        `mapstructure:"vendor"`
	StreamURL            string        `mapstructure:"stream_url"`
	HistoricalURL        string        `mapstructure:"historical_url"`
	APIKeyID             string        `mapstructure:"api_key_id"`
	APISecretKey         string        `mapstructure:"api_secret_key"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HistoricalTimeout    time.Duration `mapstructure:"historical_timeout"`
	Symbols              []string      `mapstructure:"symbols"`
	Scanner              ScannerConfig `mapstructure:"scanner"`
}

// BackfillConfig tunes the historical-bar replay that warms strategies
// before live data arrives.
type BackfillConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LookbackDays int    `mapstructure:"lookback_days"`
	Timeframe    string `mapstructure:"timeframe"`
	BatchSize    int    `mapstructure:"batch_size"`
}

// StrategyConfig instantiates one registered strategy by name.
type StrategyConfig struct {
	ID      string         `mapstructure:"id"`
	Name    string         `mapstructure:"name"` // registry key: "vwap_bounce" | "orb"
	Symbols []string       `mapstructure:"symbols"`
	Params  map[string]any `mapstructure:"params"`
}

// ConverterConfig tunes the signal-to-order converter's confidence gate.
// ManualMode starts the converter disabled: every signal is dropped until
// toggled on, for manual trading.
type ConverterConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	ManualMode    bool    `mapstructure:"manual_mode"`
}

// RiskConfig sets the five pre-trade validation thresholds plus the portfolio
// equity used for concentration checks. The day-boundary zone comes from
// the top-level Config.Location.
type RiskConfig struct {
	MaxPositionNotional    float64 `mapstructure:"max_position_notional"`
	MaxOrdersPerDay        int     `mapstructure:"max_orders_per_day"`
	MaxDailyDollarVolume   float64 `mapstructure:"max_daily_dollar_volume"`
	MaxSymbolConcentration float64 `mapstructure:"max_symbol_concentration"`
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
	PortfolioEquity        float64 `mapstructure:"portfolio_equity"`
}

// BrokerConfig authenticates and addresses the live broker REST client.
type BrokerConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// ExecutionConfig selects simulated vs. live order submission.
type ExecutionConfig struct {
	Mode   string       `mapstructure:"mode"` // "simulated" | "live"
	Broker BrokerConfig `mapstructure:"broker"`
}

// StoreConfig sets where orders, trades, positions, audit events, and the
// risk ledger are persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with TC_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Sensitive fields take their environment value when it is set; otherwise
	// the value from the file is kept.
	if key := os.Getenv("TC_MARKET_DATA_API_KEY_ID"); key != "" {
		cfg.MarketData.APIKeyID = key
	}
	if secret := os.Getenv("TC_MARKET_DATA_API_SECRET_KEY"); secret != "" {
		cfg.MarketData.APISecretKey = secret
	}
	if key := os.Getenv("TC_EXECUTION_BROKER_API_KEY"); key != "" {
		cfg.Execution.Broker.APIKey = key
	}
	if secret := os.Getenv("TC_EXECUTION_BROKER_API_SECRET"); secret != "" {
		cfg.Execution.Broker.APISecret = secret
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Location == "" {
		c.Location = "America/New_York"
	}
	if c.Bus.BufferSize <= 0 {
		c.Bus.BufferSize = 256
	}
	if c.MarketData.Vendor == "" {
		c.MarketData.Vendor = "stream"
	}
	if c.MarketData.HistoricalTimeout <= 0 {
		c.MarketData.HistoricalTimeout = 30 * time.Second
	}
	if c.Backfill.Timeframe == "" {
		c.Backfill.Timeframe = "1Min"
	}
	if c.Execution.Mode == "" {
		c.Execution.Mode = "simulated"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("strategies: at least one strategy must be configured")
	}
	for _, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategies: id is required")
		}
		if s.Name == "" {
			return fmt.Errorf("strategies: name is required for strategy %q", s.ID)
		}
		if len(s.Symbols) == 0 {
			return fmt.Errorf("strategies: symbols is required for strategy %q", s.ID)
		}
	}
	if c.Risk.MaxPositionNotional <= 0 {
		return fmt.Errorf("risk.max_position_notional must be > 0")
	}
	if c.Risk.MaxOrdersPerDay <= 0 {
		return fmt.Errorf("risk.max_orders_per_day must be > 0")
	}
	if c.Risk.MaxDailyDollarVolume <= 0 {
		return fmt.Errorf("risk.max_daily_dollar_volume must be > 0")
	}
	switch c.Execution.Mode {
	case "simulated", "live":
	default:
		return fmt.Errorf("execution.mode must be one of: simulated, live")
	}
	if c.Execution.Mode == "live" && c.Execution.Broker.BaseURL == "" {
		return fmt.Errorf("execution.broker.base_url is required when execution.mode is live")
	}
	switch c.MarketData.Vendor {
	case "stream", "alpaca":
	default:
		return fmt.Errorf("market_data.vendor must be one of: stream, alpaca")
	}
	if c.MarketData.StreamURL == "" {
		return fmt.Errorf("market_data.stream_url is required: live bars always flow through the streaming provider")
	}
	if c.MarketData.Vendor == "alpaca" && (c.MarketData.APIKeyID == "" || c.MarketData.APISecretKey == "") {
		return fmt.Errorf("market_data.api_key_id and api_secret_key are required when market_data.vendor is alpaca")
	}
	return nil
}
