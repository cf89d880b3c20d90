package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "zerodha-strategy/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ZERODHA_API_KEY", "ZERODHA_API_SECRET", "ZERODHA_USER_ID",
		"ZERODHA_TOTP_SECRET", "TRADING_MODE", "STRATEGY_REDIS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_CreatesTemplatesAndUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	assert.True(t, cfg.IsPaperMode())
	assert.Equal(t, 5, cfg.Strategy.CandleIntervalMinutes)
	assert.Equal(t, 5*time.Minute, cfg.CandleInterval())
	assert.Equal(t, 20, cfg.Strategy.Bollinger.Period)
	assert.InDelta(t, 60.0, cfg.Strategy.RSI.BullThreshold, 1e-9)
	assert.InDelta(t, 40.0, cfg.Strategy.RSI.BearThreshold, 1e-9)
	assert.InDelta(t, 1.5, cfg.Strategy.ATR.SLMultiplier, 1e-9)
	assert.InDelta(t, 2.0, cfg.Strategy.ATR.TPMultiplier, 1e-9)
	assert.True(t, cfg.Strategy.LevelDetection.Enabled)
	assert.Equal(t, 2, cfg.Strategy.LevelDetection.BreakoutConfirmationCandles)
	assert.Equal(t, 50, cfg.Risk.DefaultQuantity)
	assert.Equal(t, 15*time.Minute, cfg.Cooldown())
	assert.Equal(t, 500*time.Millisecond, cfg.Trading.ExitDelay)
	assert.Equal(t, "NFO", cfg.Trading.Exchange)
	assert.Empty(t, cfg.Trading.Instruments)

	assert.Equal(t, filepath.Join(dir, "strategy.db"), cfg.Storage.DBPath)
	assert.Equal(t, filepath.Join(dir, "logs", "strategy.log"), cfg.Logging.FilePath)
	assert.Equal(t, 10*time.Minute, cfg.Storage.CandleCacheMaxAge)
}

func TestLoad_ReadsInstrumentsAndOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	config := `
[strategy]
candle_interval_minutes = 3

[strategy.rsi]
bull_threshold = 65.0

[risk]
max_daily_loss = 2500.0

[trading]
exit_delay = "1s"

[[trading.instruments]]
token = 256265
symbol = "NIFTY 50"

[[trading.instruments]]
token = 12345678
symbol = "NIFTY24MAR22000CE"
option_type = "CE"
quantity = 75

[storage]
db_path = "/var/lib/strategy/engine.db"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0644))
	creds := `
[zerodha]
api_key = "file-key"
api_secret = "file-secret"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(creds), 0600))

	t.Setenv("ZERODHA_API_KEY", "env-key")
	t.Setenv("STRATEGY_REDIS_ADDR", "redis:6379")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Strategy.CandleIntervalMinutes)
	assert.InDelta(t, 65.0, cfg.Strategy.RSI.BullThreshold, 1e-9)
	assert.InDelta(t, 40.0, cfg.Strategy.RSI.BearThreshold, 1e-9)
	assert.InDelta(t, 2500.0, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Equal(t, time.Second, cfg.Trading.ExitDelay)

	require.Len(t, cfg.Trading.Instruments, 2)
	assert.Equal(t, uint32(256265), cfg.Trading.Instruments[0].Token)
	assert.Empty(t, cfg.Trading.Instruments[0].OptionType)
	assert.Equal(t, "CE", cfg.Trading.Instruments[1].OptionType)
	assert.Equal(t, 75, cfg.Trading.Instruments[1].Quantity)

	assert.Equal(t, "/var/lib/strategy/engine.db", cfg.Storage.DBPath)

	assert.Equal(t, "env-key", cfg.Credentials.Zerodha.APIKey)
	assert.Equal(t, "file-secret", cfg.Credentials.Zerodha.APISecret)
	assert.NoError(t, cfg.RequireCredentials())

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[trading]\nmode = \"yolo\"\n"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero interval", func(c *Config) { c.Strategy.CandleIntervalMinutes = 0 }, "strategy.candle_interval_minutes"},
		{"inverted rsi", func(c *Config) { c.Strategy.RSI.BearThreshold = 70 }, "strategy.rsi"},
		{"zero atr multiplier", func(c *Config) { c.Strategy.ATR.SLMultiplier = 0 }, "strategy.atr"},
		{"zero pivot window", func(c *Config) { c.Strategy.LevelDetection.PivotWindow = 0 }, "strategy.level_detection.pivot_window"},
		{"negative loss limit", func(c *Config) { c.Risk.MaxDailyLoss = -1 }, "risk.max_daily_loss"},
		{"zero default quantity", func(c *Config) { c.Risk.DefaultQuantity = 0 }, "risk.default_quantity"},
		{"bad positions backend", func(c *Config) { c.Storage.Positions = "csv" }, "storage.positions"},
		{"bad notification level", func(c *Config) { c.Notifications.Level = "loud" }, "notifications.level"},
		{"missing token", func(c *Config) {
			c.Trading.Instruments = []InstrumentConfig{{Symbol: "X"}}
		}, "trading.instruments[0].token"},
		{"duplicate token", func(c *Config) {
			c.Trading.Instruments = []InstrumentConfig{{Token: 1}, {Token: 1}}
		}, "trading.instruments[1].token"},
		{"bad option type", func(c *Config) {
			c.Trading.Instruments = []InstrumentConfig{{Token: 1, OptionType: "FUT"}}
		}, "trading.instruments[0].option_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			cfg.Trading.Instruments = nil
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}

	t.Run("level detection disabled skips its checks", func(t *testing.T) {
		cfg := *base
		cfg.Strategy.LevelDetection.Enabled = false
		cfg.Strategy.LevelDetection.PivotWindow = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{Dir: "/tmp/x"}
	err := cfg.RequireCredentials()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)

	cfg.Credentials.Zerodha = ZerodhaCredentials{APIKey: "k", APISecret: "s"}
	assert.NoError(t, cfg.RequireCredentials())
}

func TestWriteTemplates_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(existing, []byte("# mine\n"), 0644))

	written, err := WriteTemplates(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "credentials.toml")}, written)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "# mine\n", string(data))

	written, err = WriteTemplates(dir, true)
	require.NoError(t, err)
	assert.Len(t, written, 2)

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
