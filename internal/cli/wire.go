package cli

import (
	"strings"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/analysis/levels"
	"zerodha-strategy/internal/config"
	"zerodha-strategy/internal/logging"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/positions"
	"zerodha-strategy/internal/risk"
	"zerodha-strategy/internal/signals"
	"zerodha-strategy/internal/store"
	"zerodha-strategy/internal/trading"
)

// LogConfig maps the [logging] section onto the logger settings.
func LogConfig(cfg config.LoggingConfig) logging.LogConfig {
	return logging.LogConfig{
		Level:      cfg.Level,
		Console:    cfg.Console,
		File:       cfg.File,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
}

func indicatorParams(cfg *config.Config) indicators.Params {
	s := cfg.Strategy
	return indicators.Params{
		BollingerPeriod: s.Bollinger.Period,
		BollingerWidth:  s.Bollinger.Width,
		RSIPeriod:       s.RSI.Period,
		ATRPeriod:       s.ATR.Period,
	}
}

// levelConfig returns nil when level detection is disabled.
func levelConfig(cfg *config.Config) *levels.Config {
	ld := cfg.Strategy.LevelDetection
	if !ld.Enabled {
		return nil
	}
	return &levels.Config{
		Window: ld.PivotWindow,
		Sensitivity: levels.Sensitivity{
			Absolute: ld.Sensitivity,
			Percent:  ld.SensitivityPercent,
		},
		StrengthThreshold: ld.StrengthThreshold,
	}
}

func signalConfig(cfg *config.Config) signals.Config {
	s := cfg.Strategy
	return signals.Config{
		RSIBullThreshold:     s.RSI.BullThreshold,
		RSIBearThreshold:     s.RSI.BearThreshold,
		SLMultiplier:         s.ATR.SLMultiplier,
		TPMultiplier:         s.ATR.TPMultiplier,
		LevelsEnabled:        s.LevelDetection.Enabled,
		BreakoutConfirmation: s.LevelDetection.BreakoutConfirmationCandles,
		DefaultQuantity:      cfg.Risk.DefaultQuantity,
	}
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		MaxDailyLoss: cfg.Risk.MaxDailyLoss,
		Cooldown:     cfg.Cooldown(),
	}
}

func tradingConfig(cfg *config.Config) trading.Config {
	tc := trading.DefaultConfig()
	tc.Exchange = models.Exchange(strings.ToUpper(cfg.Trading.Exchange))
	if cfg.Trading.Product != "" {
		tc.Product = models.ProductType(strings.ToUpper(cfg.Trading.Product))
	}
	tc.ExitDelay = cfg.Trading.ExitDelay
	tc.MarketHoursOnly = cfg.Trading.MarketHoursOnly
	if cfg.Trading.HistoryDays > 0 {
		tc.HistoryDays = cfg.Trading.HistoryDays
	}
	return tc
}

// registration is one configured instrument resolved for the executor.
type registration struct {
	Instrument models.Instrument
	OptionType models.OptionType
	Quantity   int
}

// registrations resolves configured instruments against the catalog. A
// token missing from the catalog keeps the configured symbol; an explicit
// option type always wins over the catalog's.
func registrations(cfg *config.Config, catalog positions.InstrumentLookup) []registration {
	exchange := models.Exchange(strings.ToUpper(cfg.Trading.Exchange))
	out := make([]registration, 0, len(cfg.Trading.Instruments))
	for _, ic := range cfg.Trading.Instruments {
		inst := models.Instrument{Token: ic.Token, Symbol: ic.Symbol, Exchange: exchange}
		if catalog != nil {
			if row, ok := catalog.Lookup(ic.Token); ok {
				inst = row
				if ic.Symbol != "" {
					inst.Symbol = ic.Symbol
				}
			}
		}
		out = append(out, registration{
			Instrument: inst,
			OptionType: models.OptionType(strings.ToUpper(ic.OptionType)),
			Quantity:   ic.Quantity,
		})
	}
	return out
}

// positionPersister picks the configured durable position storage.
func positionPersister(cfg *config.Config, db *store.SQLiteStore) positions.Persister {
	if cfg.Storage.Positions == "json" {
		return positions.NewJSONFile(cfg.Storage.PositionsFile)
	}
	return db
}
