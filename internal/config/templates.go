package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Zerodha Strategy Engine Configuration

[strategy]
# Candle width in minutes; boundaries align to IST midnight
candle_interval_minutes = 5
# Rolling candle history kept per instrument
max_candles_to_keep = 200

[strategy.bollinger]
period = 20
width = 2.0

[strategy.rsi]
period = 14
# CE entries need RSI above bull_threshold, PE entries below bear_threshold
bull_threshold = 60.0
bear_threshold = 40.0

[strategy.atr]
period = 14
# Stop loss and take profit distances in ATR multiples
sl_multiplier = 1.5
tp_multiplier = 2.0

[strategy.level_detection]
enabled = true
# Absolute price band for grouping pivots; 0 uses sensitivity_percent
sensitivity = 0.0
sensitivity_percent = 0.5
# Minimum pivots in a group to form a level
strength_threshold = 2
# Closes beyond a level required to confirm a breakout
breakout_confirmation_candles = 2
pivot_window = 2

[risk]
# Daily realized loss (INR) that halts new entries
max_daily_loss = 5000.0
# Minutes an instrument is blocked after a losing exit
cooldown_minutes = 15
# Order quantity when an instrument does not set one
default_quantity = 50

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
exchange = "NFO"
product = "MIS"
# Delay between forced exits on shutdown
exit_delay = "500ms"
# Only open positions during NSE session hours
market_hours_only = true
# Days of history fetched at startup
history_days = 5

# Instruments to trade. option_type is CE, PE or empty for a watched underlying.
# [[trading.instruments]]
# token = 12345678
# symbol = "NIFTY24MAR22000CE"
# option_type = "CE"
# quantity = 50

[storage]
# Position persistence backend: "sqlite" or "json"
positions = "sqlite"
db_path = "strategy.db"
positions_file = "positions.json"
# Cached historical candles older than this are refetched
candle_cache_max_age = "10m"

[notifications]
enabled = false
# all, trades_only, errors_only
level = "all"
queue_size = 256

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[api]
enabled = true
addr = "127.0.0.1:8787"

[metrics]
enabled = true
namespace = "strategy"

[cache]
# Publishes engine status snapshots to Redis
enabled = false
redis_addr = "localhost:6379"
db = 0
key = "zerodha-strategy:status"
ttl = "1m"
interval = "5s"

[logging]
level = "info"
console = true
file = true
file_path = "logs/strategy.log"
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Zerodha API Credentials
# Keep this file private (chmod 600)

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
# Base32 TOTP secret used by 'auth totp'
totp_secret = ""
`

// WriteTemplates writes config.toml and credentials.toml into configDir.
// Existing files are kept unless force is set. It returns the paths written.
func WriteTemplates(configDir string, force bool) ([]string, error) {
	var written []string
	for _, f := range []struct {
		name    string
		content string
		perm    os.FileMode
	}{
		{"config.toml", configTemplate, 0644},
		{"credentials.toml", credentialsTemplate, 0600},
	} {
		path, err := writeTemplate(configDir, f.name, f.content, f.perm, force)
		if err != nil {
			return written, err
		}
		if path != "" {
			written = append(written, path)
		}
	}
	return written, nil
}

// writeTemplate returns the written path, or "" when the file existed.
func writeTemplate(configDir, name, content string, perm os.FileMode, force bool) (string, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", nil
		}
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return "", fmt.Errorf("writing %s template: %w", name, err)
	}
	return path, nil
}
