// Package config provides configuration management for the strategy engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "zerodha-strategy/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Trading       TradingConfig      `mapstructure:"trading"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	API           APIConfig          `mapstructure:"api"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-" json:"-"` // Loaded separately

	Dir string `mapstructure:"-" json:"-"`
}

// StrategyConfig holds candle, indicator and level detection settings.
type StrategyConfig struct {
	CandleIntervalMinutes int                  `mapstructure:"candle_interval_minutes"`
	MaxCandlesToKeep      int                  `mapstructure:"max_candles_to_keep"`
	Bollinger             BollingerConfig      `mapstructure:"bollinger"`
	RSI                   RSIConfig            `mapstructure:"rsi"`
	ATR                   ATRConfig            `mapstructure:"atr"`
	LevelDetection        LevelDetectionConfig `mapstructure:"level_detection"`
}

// BollingerConfig holds Bollinger band settings.
type BollingerConfig struct {
	Period int     `mapstructure:"period"`
	Width  float64 `mapstructure:"width"`
}

// RSIConfig holds RSI settings.
type RSIConfig struct {
	Period        int     `mapstructure:"period"`
	BullThreshold float64 `mapstructure:"bull_threshold"`
	BearThreshold float64 `mapstructure:"bear_threshold"`
}

// ATRConfig holds ATR and stop distance settings.
type ATRConfig struct {
	Period       int     `mapstructure:"period"`
	SLMultiplier float64 `mapstructure:"sl_multiplier"`
	TPMultiplier float64 `mapstructure:"tp_multiplier"`
}

// LevelDetectionConfig holds support/resistance settings.
type LevelDetectionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Sensitivity is an absolute price band; when zero SensitivityPercent
	// of the group reference is used instead.
	Sensitivity                 float64 `mapstructure:"sensitivity"`
	SensitivityPercent          float64 `mapstructure:"sensitivity_percent"`
	StrengthThreshold           int     `mapstructure:"strength_threshold"`
	BreakoutConfirmationCandles int     `mapstructure:"breakout_confirmation_candles"`
	PivotWindow                 int     `mapstructure:"pivot_window"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss"`
	CooldownMinutes int     `mapstructure:"cooldown_minutes"`
	DefaultQuantity int     `mapstructure:"default_quantity"`
}

// TradingConfig holds execution settings.
type TradingConfig struct {
	Mode            string             `mapstructure:"mode"` // "live", "paper"
	Exchange        string             `mapstructure:"exchange"`
	Product         string             `mapstructure:"product"`
	Instruments     []InstrumentConfig `mapstructure:"instruments"`
	ExitDelay       time.Duration      `mapstructure:"exit_delay"`
	MarketHoursOnly bool               `mapstructure:"market_hours_only"`
	HistoryDays     int                `mapstructure:"history_days"`
}

// InstrumentConfig is one traded or watched instrument.
type InstrumentConfig struct {
	Token      uint32 `mapstructure:"token"`
	Symbol     string `mapstructure:"symbol"`
	OptionType string `mapstructure:"option_type"` // CE, PE, or empty for underlying
	Quantity   int    `mapstructure:"quantity"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Positions selects the position persister: "sqlite" or "json".
	Positions         string        `mapstructure:"positions"`
	DBPath            string        `mapstructure:"db_path"`
	PositionsFile     string        `mapstructure:"positions_file"`
	CandleCacheMaxAge time.Duration `mapstructure:"candle_cache_max_age"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Level     string         `mapstructure:"level"` // all, trades_only, errors_only
	QueueSize int            `mapstructure:"queue_size"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
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

// APIConfig holds the operator HTTP API settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// CacheConfig holds the Redis status snapshot settings.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password" json:"-"`
	DB        int           `mapstructure:"db"`
	Key       string        `mapstructure:"key"`
	TTL       time.Duration `mapstructure:"ttl"`
	Interval  time.Duration `mapstructure:"interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UserID     string `mapstructure:"user_id"`
	TOTPSecret string `mapstructure:"totp_secret"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/zerodha-strategy"
	}
	return filepath.Join(home, ".config", "zerodha-strategy")
}

// Load loads configuration from configDir. Missing files are created from
// templates and their defaults used. A .env file in the working directory
// or configDir is applied before environment overrides.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	loadDotEnv(configDir)

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(configDir string) {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// SetDefaults registers a default for every recognized key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("strategy.candle_interval_minutes", 5)
	v.SetDefault("strategy.max_candles_to_keep", 200)
	v.SetDefault("strategy.bollinger.period", 20)
	v.SetDefault("strategy.bollinger.width", 2.0)
	v.SetDefault("strategy.rsi.period", 14)
	v.SetDefault("strategy.rsi.bull_threshold", 60.0)
	v.SetDefault("strategy.rsi.bear_threshold", 40.0)
	v.SetDefault("strategy.atr.period", 14)
	v.SetDefault("strategy.atr.sl_multiplier", 1.5)
	v.SetDefault("strategy.atr.tp_multiplier", 2.0)
	v.SetDefault("strategy.level_detection.enabled", true)
	v.SetDefault("strategy.level_detection.sensitivity", 0.0)
	v.SetDefault("strategy.level_detection.sensitivity_percent", 0.5)
	v.SetDefault("strategy.level_detection.strength_threshold", 2)
	v.SetDefault("strategy.level_detection.breakout_confirmation_candles", 2)
	v.SetDefault("strategy.level_detection.pivot_window", 2)

	v.SetDefault("risk.max_daily_loss", 5000.0)
	v.SetDefault("risk.cooldown_minutes", 15)
	v.SetDefault("risk.default_quantity", 50)

	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.exchange", "NFO")
	v.SetDefault("trading.product", "MIS")
	v.SetDefault("trading.exit_delay", "500ms")
	v.SetDefault("trading.market_hours_only", true)
	v.SetDefault("trading.history_days", 5)

	v.SetDefault("storage.positions", "sqlite")
	v.SetDefault("storage.db_path", "strategy.db")
	v.SetDefault("storage.positions_file", "positions.json")
	v.SetDefault("storage.candle_cache_max_age", "10m")

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.queue_size", 256)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", "127.0.0.1:8787")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "strategy")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.key", "zerodha-strategy:status")
	v.SetDefault("cache.ttl", "1m")
	v.SetDefault("cache.interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", "logs/strategy.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if _, err := writeTemplate(configDir, "config.toml", configTemplate, 0644, false); err != nil {
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
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if _, err := writeTemplate(configDir, "credentials.toml", credentialsTemplate, 0600, false); err != nil {
			return err
		}
		return nil
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
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("ZERODHA_TOTP_SECRET"); v != "" {
		cfg.Credentials.Zerodha.TOTPSecret = v
	}

	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	if v := os.Getenv("STRATEGY_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
		cfg.Cache.Enabled = true
	}
}

// resolvePaths anchors relative storage and log paths in the config dir.
func (c *Config) resolvePaths() {
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Dir, p)
	}
	c.Storage.DBPath = anchor(c.Storage.DBPath)
	c.Storage.PositionsFile = anchor(c.Storage.PositionsFile)
	c.Logging.FilePath = anchor(c.Logging.FilePath)
}

func invalid(field string, value interface{}, msg string) error {
	return apperrors.NewValidationError(field, value, msg, apperrors.ErrConfigInvalid)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return invalid("trading.mode", c.Trading.Mode, "must be 'live' or 'paper'")
	}
	if c.Trading.Exchange == "" {
		return invalid("trading.exchange", c.Trading.Exchange, "must be set")
	}
	if c.Trading.HistoryDays < 0 {
		return invalid("trading.history_days", c.Trading.HistoryDays, "must be non-negative")
	}
	if c.Trading.ExitDelay < 0 {
		return invalid("trading.exit_delay", c.Trading.ExitDelay, "must be non-negative")
	}
	seen := make(map[uint32]bool, len(c.Trading.Instruments))
	for i, inst := range c.Trading.Instruments {
		field := fmt.Sprintf("trading.instruments[%d]", i)
		if inst.Token == 0 {
			return invalid(field+".token", inst.Token, "must be set")
		}
		if seen[inst.Token] {
			return invalid(field+".token", inst.Token, "duplicate instrument")
		}
		seen[inst.Token] = true
		switch strings.ToUpper(inst.OptionType) {
		case "", "CE", "PE":
		default:
			return invalid(field+".option_type", inst.OptionType, "must be CE, PE or empty")
		}
		if inst.Quantity < 0 {
			return invalid(field+".quantity", inst.Quantity, "must be non-negative")
		}
	}

	s := c.Strategy
	if s.CandleIntervalMinutes <= 0 {
		return invalid("strategy.candle_interval_minutes", s.CandleIntervalMinutes, "must be positive")
	}
	if s.MaxCandlesToKeep <= 0 {
		return invalid("strategy.max_candles_to_keep", s.MaxCandlesToKeep, "must be positive")
	}
	if s.Bollinger.Period <= 0 || s.Bollinger.Width <= 0 {
		return invalid("strategy.bollinger", s.Bollinger, "period and width must be positive")
	}
	if s.RSI.Period <= 0 {
		return invalid("strategy.rsi.period", s.RSI.Period, "must be positive")
	}
	if s.RSI.BearThreshold < 0 || s.RSI.BullThreshold > 100 || s.RSI.BearThreshold >= s.RSI.BullThreshold {
		return invalid("strategy.rsi", s.RSI, "thresholds must satisfy 0 <= bear < bull <= 100")
	}
	if s.ATR.Period <= 0 || s.ATR.SLMultiplier <= 0 || s.ATR.TPMultiplier <= 0 {
		return invalid("strategy.atr", s.ATR, "period and multipliers must be positive")
	}
	ld := s.LevelDetection
	if ld.Enabled {
		if ld.PivotWindow <= 0 {
			return invalid("strategy.level_detection.pivot_window", ld.PivotWindow, "must be positive")
		}
		if ld.StrengthThreshold <= 0 {
			return invalid("strategy.level_detection.strength_threshold", ld.StrengthThreshold, "must be positive")
		}
		if ld.Sensitivity < 0 || ld.SensitivityPercent < 0 {
			return invalid("strategy.level_detection.sensitivity", ld.Sensitivity, "must be non-negative")
		}
		if ld.BreakoutConfirmationCandles <= 0 {
			return invalid("strategy.level_detection.breakout_confirmation_candles", ld.BreakoutConfirmationCandles, "must be positive")
		}
	}

	if c.Risk.MaxDailyLoss < 0 {
		return invalid("risk.max_daily_loss", c.Risk.MaxDailyLoss, "must be non-negative")
	}
	if c.Risk.CooldownMinutes < 0 {
		return invalid("risk.cooldown_minutes", c.Risk.CooldownMinutes, "must be non-negative")
	}
	if c.Risk.DefaultQuantity <= 0 {
		return invalid("risk.default_quantity", c.Risk.DefaultQuantity, "must be positive")
	}

	switch c.Storage.Positions {
	case "sqlite", "json":
	default:
		return invalid("storage.positions", c.Storage.Positions, "must be 'sqlite' or 'json'")
	}

	switch c.Notifications.Level {
	case "", "all", "trades_only", "errors_only":
	default:
		return invalid("notifications.level", c.Notifications.Level, "must be all, trades_only or errors_only")
	}

	return nil
}

// RequireCredentials reports missing Zerodha API credentials.
func (c *Config) RequireCredentials() error {
	if c.Credentials.Zerodha.APIKey == "" || c.Credentials.Zerodha.APISecret == "" {
		return invalid("credentials.zerodha", "", fmt.Sprintf("api_key and api_secret must be set in %s or the environment",
			filepath.Join(c.Dir, "credentials.toml")))
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// CandleInterval returns the candle width.
func (c *Config) CandleInterval() time.Duration {
	return time.Duration(c.Strategy.CandleIntervalMinutes) * time.Minute
}

// Cooldown returns the post-loss entry suppression window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownMinutes) * time.Minute
}
