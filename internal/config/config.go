// Package config provides configuration management for the order gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"order-gateway/internal/errors"
	"order-gateway/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig     `mapstructure:"trading"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Log         logging.LogConfig `mapstructure:"log"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Credentials Credentials       `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds backend selection and paper account settings.
type TradingConfig struct {
	Broker            string  `mapstructure:"broker"` // paper, zerodha, angel
	StartingCapital   float64 `mapstructure:"starting_capital"`
	BypassMarketHours bool    `mapstructure:"bypass_market_hours"` // paper only
	OrdersPerSecond   float64 `mapstructure:"orders_per_second"`   // live adapters
}

// RiskConfig holds pre-trade risk limits.
type RiskConfig struct {
	MaxOrderValue      float64 `mapstructure:"max_order_value"`
	MaxDailyLoss       float64 `mapstructure:"max_daily_loss"`
	MaxPositions       int     `mapstructure:"max_positions"`
	MaxPositionPercent float64 `mapstructure:"max_position_percent"`
	MarketOpen         string  `mapstructure:"market_open"`  // HH:MM IST
	MarketClose        string  `mapstructure:"market_close"` // HH:MM IST
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// JournalConfig holds the SQLite trade journal configuration.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// Credentials holds broker credentials. They are handed to Connect once and
// never stored by a gateway.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	RequestToken string `mapstructure:"request_token"`
}

// AsMap returns the credential payload passed to a gateway's Connect.
func (z ZerodhaCredentials) AsMap() map[string]string {
	return map[string]string{
		"api_key":       z.APIKey,
		"api_secret":    z.APISecret,
		"request_token": z.RequestToken,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/order-gateway"
	}
	return filepath.Join(home, ".config", "order-gateway")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.broker", "paper")
	v.SetDefault("trading.starting_capital", 100000.0)
	v.SetDefault("trading.bypass_market_hours", true)
	v.SetDefault("trading.orders_per_second", 10.0)

	v.SetDefault("risk.max_order_value", 100000.0)
	v.SetDefault("risk.max_daily_loss", 5000.0)
	v.SetDefault("risk.max_positions", 10)
	v.SetDefault("risk.max_position_percent", 20.0)
	v.SetDefault("risk.market_open", "09:15")
	v.SetDefault("risk.market_close", "15:30")

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.console", logDefaults.Console)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.file_path", logDefaults.FilePath)
	v.SetDefault("log.max_size", logDefaults.MaxSize)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age", logDefaults.MaxAge)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.dir", filepath.Join(DefaultConfigDir(), "audit"))
	v.SetDefault("audit.max_size", 50)
	v.SetDefault("audit.max_backups", 30)
	v.SetDefault("audit.max_age", 365)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", filepath.Join(DefaultConfigDir(), "journal.db"))

	v.SetDefault("metrics.namespace", "order_gateway")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("gateway")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading gateway config: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating gateway config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding gateway config: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadCredentials reads an optional credentials file next to the main config.
func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_REQUEST_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.RequestToken = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Broker = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Trading.Broker {
	case "paper", "zerodha", "angel":
	default:
		return errors.Wrapf(errors.ErrConfigInvalid, "unknown broker %q (must be paper, zerodha or angel)", c.Trading.Broker)
	}
	if c.Trading.StartingCapital <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "starting_capital must be positive")
	}
	return c.Risk.Validate()
}

// Validate checks risk limits against the bounds the gateway accepts.
func (r RiskConfig) Validate() error {
	if r.MaxOrderValue < 1000 {
		return errors.Wrap(errors.ErrConfigInvalid, "max_order_value must be at least 1000")
	}
	if r.MaxDailyLoss < 100 {
		return errors.Wrap(errors.ErrConfigInvalid, "max_daily_loss must be at least 100")
	}
	if r.MaxPositions < 1 || r.MaxPositions > 50 {
		return errors.Wrap(errors.ErrConfigInvalid, "max_positions must be between 1 and 50")
	}
	if r.MaxPositionPercent < 1 || r.MaxPositionPercent > 100 {
		return errors.Wrap(errors.ErrConfigInvalid, "max_position_percent must be between 1 and 100")
	}
	open, close, err := r.SessionWindow()
	if err != nil {
		return err
	}
	if open >= close {
		return errors.Wrap(errors.ErrConfigInvalid, "market_open must be before market_close")
	}
	return nil
}

// SessionWindow parses the market window into offsets from midnight.
func (r RiskConfig) SessionWindow() (open, close time.Duration, err error) {
	if open, err = parseClock(r.MarketOpen); err != nil {
		return 0, 0, errors.Wrapf(errors.ErrConfigInvalid, "market_open %q", r.MarketOpen)
	}
	if close, err = parseClock(r.MarketClose); err != nil {
		return 0, 0, errors.Wrapf(errors.ErrConfigInvalid, "market_close %q", r.MarketClose)
	}
	return open, close, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsPaperMode returns true if the simulated backend is selected.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Broker == "paper"
}
