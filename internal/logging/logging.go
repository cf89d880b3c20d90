// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"zerodha-strategy/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "zerodha-strategy", "logs", "strategy.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a logger writing to a coloured console and,
// optionally, a rotating file.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg LogConfig, console io.Writer) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:         console,
			TimeFormat:  time.RFC3339,
			FormatLevel: formatLevel,
		})
	}

	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = console
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func formatLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	switch ll {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	case "fatal":
		return "\033[35mFTL\033[0m"
	default:
		return ll
	}
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithToken adds an instrument token to the logger context.
func WithToken(logger zerolog.Logger, token uint32) zerolog.Logger {
	return logger.With().Uint32("token", token).Logger()
}

// WithComponent names the subsystem emitting the log line.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogTrade logs a BUY or SELL decision.
func LogTrade(logger zerolog.Logger, ev models.TradeEvent) {
	e := logger.Info().
		Str("event", "trade").
		Str("id", ev.ID).
		Uint32("token", ev.Token).
		Str("symbol", ev.Symbol).
		Str("option_type", string(ev.OptionType)).
		Str("action", string(ev.Action)).
		Float64("price", ev.Price).
		Int("quantity", ev.Quantity).
		Float64("stop_loss", ev.StopLoss).
		Float64("take_profit", ev.TakeProfit).
		Float64("daily_pnl", ev.DailyPnL).
		Str("reason", ev.Reason)
	if ev.RealizedPnL != nil {
		e = e.Float64("realized_pnl", *ev.RealizedPnL)
	}
	e.Msg("Trade decision")
}

// LogAnomaly logs a non-fatal anomaly.
func LogAnomaly(logger zerolog.Logger, a models.Anomaly) {
	logger.Warn().
		Str("event", "anomaly").
		Uint32("token", a.Token).
		Str("symbol", a.Symbol).
		Msg(a.Message)
}

// LogOrder logs a broker order acknowledgement.
func LogOrder(logger zerolog.Logger, req models.OrderRequest, res models.OrderResult, err error) {
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "order").
			Str("symbol", req.Symbol).
			Str("side", string(req.Side)).
			Int("quantity", req.Quantity).
			Msg("Order failed")
		return
	}
	logger.Info().
		Str("event", "order").
		Str("order_id", res.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Str("status", res.Status).
		Msg("Order placed")
}
