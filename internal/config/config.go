package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Kalshi   KalshiConfig   `mapstructure:"kalshi"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Report   ReportConfig   `mapstructure:"report"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// KalshiConfig holds Kalshi API configuration
type KalshiConfig struct {
	Env               string        `mapstructure:"env"` // prod or demo
	BaseURL           string        `mapstructure:"base_url"`
	APIKeyID          string        `mapstructure:"api_key_id"`
	APIKeyRSA         string        `mapstructure:"api_key_rsa"` // PEM text or path to a PEM file
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	PageLimit         int           `mapstructure:"page_limit"`
	CandlePeriod      int           `mapstructure:"candle_period"` // minutes
}

// ScanConfig holds anomaly scan configuration
type ScanConfig struct {
	MinScore        float64 `mapstructure:"min_score"`
	VolumeThreshold int64   `mapstructure:"volume_threshold"`
	SpreadThreshold float64 `mapstructure:"spread_threshold"`
	MinVolume       int64   `mapstructure:"min_volume"`
	MaxMarkets      int     `mapstructure:"max_markets"`
	ResolveDays     int     `mapstructure:"resolve_days"`
	Workers         int     `mapstructure:"workers"`
}

// MonitorConfig holds movement monitor configuration
type MonitorConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	PollOnce           bool          `mapstructure:"poll_once"`
	Series             []string      `mapstructure:"series"`
	MaxMarkets         int           `mapstructure:"max_markets"`
	ShortMinutes       int           `mapstructure:"short_minutes"`
	ShortCents         float64       `mapstructure:"short_cents"`
	LongHours          int           `mapstructure:"long_hours"`
	LongCents          float64       `mapstructure:"long_cents"`
	VolumeMultiplier   float64       `mapstructure:"volume_multiplier"`
	MaxSpreadCents     float64       `mapstructure:"max_spread_cents"`
	Concurrency        int           `mapstructure:"concurrency"`
	CooldownMultiplier int           `mapstructure:"cooldown_multiplier"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	TopK           int           `mapstructure:"top_k"`
}

// StorageConfig holds result history persistence configuration
type StorageConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"`
}

// ReportConfig holds console and file report configuration
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	Format    string `mapstructure:"format"` // auto, table, plain
	TopN      int    `mapstructure:"top_n"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, a .env file, and environment variables.
// A missing config file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KALSHI_ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Kalshi's own variable names are honored when the prefixed ones are unset.
	if cfg.Kalshi.APIKeyID == "" {
		cfg.Kalshi.APIKeyID = os.Getenv("KALSHI_API_KEY_ID")
	}
	if cfg.Kalshi.APIKeyRSA == "" {
		cfg.Kalshi.APIKeyRSA = os.Getenv("KALSHI_API_KEY_RSA")
	}
	if cfg.Kalshi.BaseURL == "" {
		cfg.Kalshi.BaseURL = BaseURLForEnv(cfg.Kalshi.Env)
	}

	return &cfg, nil
}

const (
	ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"
)

// BaseURLForEnv maps a Kalshi environment name to its REST base URL.
func BaseURLForEnv(env string) string {
	if strings.ToLower(env) == "demo" {
		return DemoBaseURL
	}
	return ProdBaseURL
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Kalshi defaults
	v.SetDefault("kalshi.env", "prod")
	v.SetDefault("kalshi.base_url", "")
	v.SetDefault("kalshi.api_key_id", "")
	v.SetDefault("kalshi.api_key_rsa", "")
	v.SetDefault("kalshi.timeout", "30s")
	v.SetDefault("kalshi.max_retries", 3)
	v.SetDefault("kalshi.requests_per_second", 2.0)
	v.SetDefault("kalshi.page_limit", 1000)
	v.SetDefault("kalshi.candle_period", 1)

	// Scan defaults
	v.SetDefault("scan.min_score", 0.5)
	v.SetDefault("scan.volume_threshold", 500)
	v.SetDefault("scan.spread_threshold", 10.0)
	v.SetDefault("scan.min_volume", 1)
	v.SetDefault("scan.max_markets", 10000)
	v.SetDefault("scan.resolve_days", 7)
	v.SetDefault("scan.workers", 4)

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "15m")
	v.SetDefault("monitor.poll_once", false)
	v.SetDefault("monitor.series", []string{"KXEPLGAME", "KXEPLBTTS", "KXEPLTOTAL", "KXEPLSPREAD"})
	v.SetDefault("monitor.max_markets", 500)
	v.SetDefault("monitor.short_minutes", 30)
	v.SetDefault("monitor.short_cents", 5.0)
	v.SetDefault("monitor.long_hours", 2)
	v.SetDefault("monitor.long_cents", 10.0)
	v.SetDefault("monitor.volume_multiplier", 2.0)
	v.SetDefault("monitor.max_spread_cents", 20.0)
	v.SetDefault("monitor.concurrency", 8)
	v.SetDefault("monitor.cooldown_multiplier", 4)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.top_k", 10)

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/kalshioracle.db")
	v.SetDefault("storage.retention", "720h")

	// Report defaults
	v.SetDefault("report.output_dir", "./output")
	v.SetDefault("report.format", "auto")
	v.SetDefault("report.top_n", 20)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9108")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Kalshi config
	validEnvs := map[string]bool{"prod": true, "demo": true}
	if !validEnvs[c.Kalshi.Env] {
		return fmt.Errorf("kalshi.env must be one of: prod, demo")
	}
	if c.Kalshi.BaseURL == "" {
		return fmt.Errorf("kalshi.base_url is required")
	}
	if c.Kalshi.Timeout < 1*time.Second {
		return fmt.Errorf("kalshi.timeout must be at least 1 second")
	}
	if c.Kalshi.MaxRetries < 1 {
		return fmt.Errorf("kalshi.max_retries must be at least 1")
	}
	if c.Kalshi.RequestsPerSecond <= 0 {
		return fmt.Errorf("kalshi.requests_per_second must be positive")
	}
	if c.Kalshi.PageLimit < 1 || c.Kalshi.PageLimit > 1000 {
		return fmt.Errorf("kalshi.page_limit must be between 1 and 1000")
	}
	if c.Kalshi.CandlePeriod != 1 && c.Kalshi.CandlePeriod != 60 && c.Kalshi.CandlePeriod != 1440 {
		return fmt.Errorf("kalshi.candle_period must be one of: 1, 60, 1440")
	}

	// Validate Scan config
	if c.Scan.MinScore < 0.0 || c.Scan.MinScore > 1.0 {
		return fmt.Errorf("scan.min_score must be between 0.0 and 1.0")
	}
	if c.Scan.VolumeThreshold < 0 {
		return fmt.Errorf("scan.volume_threshold must not be negative")
	}
	if c.Scan.SpreadThreshold < 0 {
		return fmt.Errorf("scan.spread_threshold must not be negative")
	}
	if c.Scan.MinVolume < 0 {
		return fmt.Errorf("scan.min_volume must not be negative")
	}
	if c.Scan.MaxMarkets < 1 {
		return fmt.Errorf("scan.max_markets must be at least 1")
	}
	if c.Scan.ResolveDays < 0 {
		return fmt.Errorf("scan.resolve_days must not be negative")
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 1*time.Minute {
		return fmt.Errorf("monitor.poll_interval must be at least 1 minute")
	}
	if len(c.Monitor.Series) == 0 {
		return fmt.Errorf("monitor.series must contain at least one series ticker")
	}
	if c.Monitor.MaxMarkets < 1 {
		return fmt.Errorf("monitor.max_markets must be at least 1")
	}
	if c.Monitor.ShortMinutes < 1 {
		return fmt.Errorf("monitor.short_minutes must be at least 1")
	}
	if c.Monitor.LongHours < 1 {
		return fmt.Errorf("monitor.long_hours must be at least 1")
	}
	if c.Monitor.ShortCents <= 0 || c.Monitor.LongCents <= 0 {
		return fmt.Errorf("monitor.short_cents and monitor.long_cents must be positive")
	}
	if c.Monitor.VolumeMultiplier <= 1.0 {
		return fmt.Errorf("monitor.volume_multiplier must be greater than 1.0")
	}
	if c.Monitor.MaxSpreadCents <= 0 || c.Monitor.MaxSpreadCents > 100 {
		return fmt.Errorf("monitor.max_spread_cents must be between 0 and 100")
	}
	if c.Monitor.Concurrency < 1 {
		return fmt.Errorf("monitor.concurrency must be at least 1")
	}
	if c.Monitor.CooldownMultiplier < 0 {
		return fmt.Errorf("monitor.cooldown_multiplier must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.TopK < 1 {
			return fmt.Errorf("telegram.top_k must be at least 1")
		}
	}

	// Validate Storage config
	if c.Storage.Enabled {
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required when storage is enabled")
		}
		if c.Storage.Retention < 1*time.Hour {
			return fmt.Errorf("storage.retention must be at least 1 hour")
		}
	}

	// Validate Report config
	if c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required")
	}
	validFormats := map[string]bool{"auto": true, "table": true, "plain": true}
	if !validFormats[c.Report.Format] {
		return fmt.Errorf("report.format must be one of: auto, table, plain")
	}
	if c.Report.TopN < 1 {
		return fmt.Errorf("report.top_n must be at least 1")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
