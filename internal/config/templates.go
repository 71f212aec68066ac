package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# NIFTY Breakout Scanner Configuration

[scanner]
# Index whose constituents are discovered via the bulk snapshot
index_name = "NIFTY 50"
# Completed sessions fetched for watchlist evaluation
history_depth = 15
# Completed sessions fetched for index baselines
baseline_depth = 25
# Baselines computed concurrently per batch
baseline_batch_size = 5
# Volume rule: "max" (beat every reference day) or "mean_multiple"
volume_rule = "max"
# Multiple of the 5-day mean used by "mean_multiple"
volume_multiple = 3.0
# Volume surge threshold for index discoveries, as a multiple of avg volume
discovery_volume_multiple = 1.0

[feed]
# Provider for historical and live data: "yahoo" or "kite"
provider = "yahoo"
yahoo_base_url = "https://query1.finance.yahoo.com"
nse_base_url = "https://www.nseindia.com"
timeout = "10s"
# Upstream rate limit shared by all feed calls
rate_per_second = 3.0
burst = 5
# Consecutive failures before the feed circuit opens
breaker_failures = 5
breaker_cooldown = "30s"

[storage]
# Backend: "sqlite", "file" or "redis"
backend = "sqlite"
# sqlite_path = "~/.config/nifty-breakout/scanner.db"
# file_path = "~/.config/nifty-breakout/state.json"
redis_url = "redis://localhost:6379/0"

[accounting]
# Recent call records kept in memory
ring_capacity = 500

[scheduler]
# Cron expressions with a leading seconds field
flush_cron = "0 * * * * *"
index_refresh_cron = "0 */3 9-15 * * 1-5"
# Leave empty to disable periodic watchlist scans
watchlist_scan_cron = ""

[server]
addr = ":8080"

[notify]
# Deliver each new alert to the enabled channels
enabled = false

[notify.webhook]
enabled = false
url = ""

[notify.telegram]
enabled = false
# Or set SCANNER_TELEGRAM_BOT_TOKEN
bot_token = ""
chat_id = ""

[log]
level = "info"
console = true
file = true
max_size = 50
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# NIFTY Breakout Scanner Credentials
# WARNING: Keep this file secure! Do not commit to version control.

# Only needed when feed.provider = "kite"
[kite]
api_key = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}
