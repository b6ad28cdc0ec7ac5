package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"a2e/internal/broker"
	"a2e/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the a2e platform.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Risk      RiskConfig      `yaml:"risk"`
	Sizing    SizingConfig    `yaml:"sizing"`
	Execution ExecutionConfig `yaml:"execution"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Live      LiveConfig      `yaml:"live"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Feed      string `yaml:"feed"` // "iex" or "sip"
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RiskConfig defines the risk limits enforced on every order. Limits are
// fixed for the lifetime of a run.
type RiskConfig struct {
	MaxPositionSize float64 `yaml:"max_position_size"` // notional per symbol
	MaxLeverage     float64 `yaml:"max_leverage"`      // gross exposure / equity
	MaxDrawdown     float64 `yaml:"max_drawdown"`      // fraction of peak equity
	MaxDailyLoss    float64 `yaml:"max_daily_loss"`    // fraction of session-start equity
}

// SizingConfig controls position sizing.
type SizingConfig struct {
	// Fraction of equity targeted per full-strength signal.
	EquityFraction float64 `yaml:"equity_fraction"`
}

// ExecutionConfig defines execution-simulation and live-order parameters.
type ExecutionConfig struct {
	Slippage       float64       `yaml:"slippage"`        // fraction of close
	CommissionRate float64       `yaml:"commission_rate"` // fraction of notional
	MinVolume      int64         `yaml:"min_volume"`      // bar volume floor
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	OrderDeadline  time.Duration `yaml:"order_deadline"`
}

// BacktestConfig holds replay-run parameters.
type BacktestConfig struct {
	InitialCapital float64  `yaml:"initial_capital"`
	Symbols        []string `yaml:"symbols"`
	Start          string   `yaml:"start"` // YYYY-MM-DD
	End            string   `yaml:"end"`   // YYYY-MM-DD
	Strategy       string   `yaml:"strategy"`
	RunID          string   `yaml:"run_id"`
}

// LiveConfig holds live-run parameters.
type LiveConfig struct {
	Symbols  []string `yaml:"symbols"`
	Strategy string   `yaml:"strategy"`
	RunID    string   `yaml:"run_id"`

	// InitialCash seeds the local ledger that mirrors venue fills.
	InitialCash float64 `yaml:"initial_cash"`
}

// Default returns a Config with working defaults for a paper backtest.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "a2e.db",
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			Feed:    "iex",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Risk: RiskConfig{
			MaxPositionSize: 100_000,
			MaxLeverage:     2.0,
			MaxDrawdown:     0.15,
			MaxDailyLoss:    0.05,
		},
		Sizing: SizingConfig{EquityFraction: 0.1},
		Execution: ExecutionConfig{
			Slippage:       0.0001,
			CommissionRate: 0.001,
			MinVolume:      100,
			SubmitTimeout:  5 * time.Second,
			OrderDeadline:  30 * time.Second,
		},
		Backtest: BacktestConfig{InitialCapital: 1_000_000},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by
	// the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate rejects configurations that cannot produce a correct run.
func (c *Config) Validate() error {
	if err := c.RiskLimits().Validate(); err != nil {
		return err
	}
	if c.Sizing.EquityFraction <= 0 || c.Sizing.EquityFraction > 1 {
		return fmt.Errorf("sizing: equity_fraction %v must be in (0, 1]", c.Sizing.EquityFraction)
	}
	if c.Execution.Slippage < 0 {
		return fmt.Errorf("execution: slippage %v must not be negative", c.Execution.Slippage)
	}
	if c.Execution.CommissionRate < 0 {
		return fmt.Errorf("execution: commission_rate %v must not be negative", c.Execution.CommissionRate)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest: initial_capital %v must be positive", c.Backtest.InitialCapital)
	}
	for _, d := range []string{c.Backtest.Start, c.Backtest.End} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("backtest: invalid date %q: %w", d, err)
		}
	}
	return nil
}

// RiskLimits converts the risk section into the domain limits.
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize: c.Risk.MaxPositionSize,
		MaxLeverage:     c.Risk.MaxLeverage,
		MaxDrawdown:     c.Risk.MaxDrawdown,
		MaxDailyLoss:    c.Risk.MaxDailyLoss,
	}
}

// SimulatorConfig converts the execution section into fill-model parameters.
func (c *Config) SimulatorConfig() broker.SimulatorConfig {
	return broker.SimulatorConfig{
		Slippage:       c.Execution.Slippage,
		CommissionRate: c.Execution.CommissionRate,
		MinVolume:      c.Execution.MinVolume,
	}
}

// BacktestRange parses the configured backtest window. A missing start or
// end falls back to a wide default.
func (c *Config) BacktestRange() (start, end time.Time, err error) {
	start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Now().UTC()
	if c.Backtest.Start != "" {
		if start, err = time.Parse("2006-01-02", c.Backtest.Start); err != nil {
			return start, end, fmt.Errorf("backtest start: %w", err)
		}
	}
	if c.Backtest.End != "" {
		if end, err = time.Parse("2006-01-02", c.Backtest.End); err != nil {
			return start, end, fmt.Errorf("backtest end: %w", err)
		}
		// Include the whole end day.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}
