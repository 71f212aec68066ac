// Package config provides configuration management for the breakout scanner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Accounting  AccountingConfig  `mapstructure:"accounting"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Server      ServerConfig      `mapstructure:"server"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Log         logging.LogConfig `mapstructure:"log"`
	Credentials Credentials       `mapstructure:"-" json:"-"` // Loaded separately
}

// ScannerConfig holds breakout-evaluation settings.
type ScannerConfig struct {
	IndexName               string  `mapstructure:"index_name"`
	HistoryDepth            int     `mapstructure:"history_depth"`
	BaselineDepth           int     `mapstructure:"baseline_depth"`
	BaselineBatchSize       int     `mapstructure:"baseline_batch_size"`
	VolumeRule              string  `mapstructure:"volume_rule"` // max, mean_multiple
	VolumeMultiple          float64 `mapstructure:"volume_multiple"`
	DiscoveryVolumeMultiple float64 `mapstructure:"discovery_volume_multiple"`
}

// FeedConfig holds upstream market-data settings.
type FeedConfig struct {
	Provider        string        `mapstructure:"provider"` // yahoo, kite
	YahooBaseURL    string        `mapstructure:"yahoo_base_url"`
	NSEBaseURL      string        `mapstructure:"nse_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // sqlite, file, redis
	SQLitePath string `mapstructure:"sqlite_path"`
	FilePath   string `mapstructure:"file_path"`
	RedisURL   string `mapstructure:"redis_url"`
}

// AccountingConfig holds call-accounting settings.
type AccountingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity"`
}

// SchedulerConfig holds cron expressions (with seconds field) for periodic jobs.
type SchedulerConfig struct {
	FlushCron         string `mapstructure:"flush_cron"`
	IndexRefreshCron  string `mapstructure:"index_refresh_cron"`
	WatchlistScanCron string `mapstructure:"watchlist_scan_cron"` // empty disables
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotifyConfig selects the channels new alerts are delivered to.
type NotifyConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" json:"-"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite KiteCredentials `mapstructure:"kite"`
}

// KiteCredentials holds Kite Connect credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nifty-breakout"
	}
	return filepath.Join(home, ".config", "nifty-breakout")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env files are optional
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("scanner.index_name", "NIFTY 50")
	v.SetDefault("scanner.history_depth", 15)
	v.SetDefault("scanner.baseline_depth", 25)
	v.SetDefault("scanner.baseline_batch_size", 5)
	v.SetDefault("scanner.volume_rule", "max")
	v.SetDefault("scanner.volume_multiple", 3.0)
	v.SetDefault("scanner.discovery_volume_multiple", 1.0)

	v.SetDefault("feed.provider", "yahoo")
	v.SetDefault("feed.yahoo_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("feed.nse_base_url", "https://www.nseindia.com")
	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.rate_per_second", 3.0)
	v.SetDefault("feed.burst", 5)
	v.SetDefault("feed.breaker_failures", 5)
	v.SetDefault("feed.breaker_cooldown", "30s")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlite_path", filepath.Join(configDir, "scanner.db"))
	v.SetDefault("storage.file_path", filepath.Join(configDir, "state.json"))
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")

	v.SetDefault("accounting.ring_capacity", 500)

	v.SetDefault("scheduler.flush_cron", "0 * * * * *")
	v.SetDefault("scheduler.index_refresh_cron", "0 */3 9-15 * * 1-5")
	v.SetDefault("scheduler.watchlist_scan_cron", "")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.telegram.enabled", false)

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.console", logDefaults.Console)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.path", filepath.Join(configDir, "logs", "scanner.log"))
	v.SetDefault("log.max_size", logDefaults.MaxSize)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age", logDefaults.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// First run: write a template and continue on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("SCANNER_FEED_PROVIDER"); v != "" {
		cfg.Feed.Provider = v
	}
	if v := os.Getenv("SCANNER_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SCANNER_REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("SCANNER_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("SCANNER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Scanner.VolumeRule {
	case "max", "mean_multiple":
	default:
		return apperrors.NewValidationError("scanner.volume_rule", c.Scanner.VolumeRule, "must be 'max' or 'mean_multiple'")
	}
	if c.Scanner.VolumeMultiple <= 0 {
		return apperrors.NewValidationError("scanner.volume_multiple", c.Scanner.VolumeMultiple, "must be positive")
	}
	if c.Scanner.DiscoveryVolumeMultiple <= 0 {
		return apperrors.NewValidationError("scanner.discovery_volume_multiple", c.Scanner.DiscoveryVolumeMultiple, "must be positive")
	}
	// 5 reference sessions plus one candidate
	if c.Scanner.HistoryDepth < 6 {
		return apperrors.NewValidationError("scanner.history_depth", c.Scanner.HistoryDepth, "must be at least 6")
	}
	if c.Scanner.BaselineDepth < 6 {
		return apperrors.NewValidationError("scanner.baseline_depth", c.Scanner.BaselineDepth, "must be at least 6")
	}
	if c.Scanner.BaselineBatchSize < 1 {
		return apperrors.NewValidationError("scanner.baseline_batch_size", c.Scanner.BaselineBatchSize, "must be at least 1")
	}
	if c.Scanner.IndexName == "" {
		return apperrors.NewValidationError("scanner.index_name", c.Scanner.IndexName, "must not be empty")
	}

	switch c.Feed.Provider {
	case "yahoo", "kite":
	default:
		return apperrors.NewValidationError("feed.provider", c.Feed.Provider, "must be 'yahoo' or 'kite'")
	}
	if c.Feed.RatePerSecond <= 0 {
		return apperrors.NewValidationError("feed.rate_per_second", c.Feed.RatePerSecond, "must be positive")
	}

	switch c.Storage.Backend {
	case "sqlite", "file", "redis":
	default:
		return apperrors.NewValidationError("storage.backend", c.Storage.Backend, "must be 'sqlite', 'file' or 'redis'")
	}

	if c.Accounting.RingCapacity < 1 {
		return apperrors.NewValidationError("accounting.ring_capacity", c.Accounting.RingCapacity, "must be at least 1")
	}

	if c.Notify.Enabled && c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return apperrors.NewValidationError("notify.webhook.url", "", "required when the webhook is enabled")
	}

	return nil
}

// IsKite returns true if Kite Connect serves historical and live data.
func (c *Config) IsKite() bool {
	return c.Feed.Provider == "kite"
}
