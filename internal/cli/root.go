// Package cli provides the command-line interface for the strategy runner.
package cli

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zerodha-strategy/internal/broker"
	"zerodha-strategy/internal/config"
	"zerodha-strategy/internal/store"
	"zerodha-strategy/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-03-01"
)

// App holds the application dependencies. The store and broker are opened
// on first use so commands that need neither stay cheap.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	storeOnce sync.Once
	store     *store.SQLiteStore
	storeErr  error

	brokerOnce sync.Once
	broker     *broker.ZerodhaBroker
}

// Store opens the SQLite database at storage.db_path.
func (a *App) Store() (*store.SQLiteStore, error) {
	a.storeOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(a.Config.Storage.DBPath), 0755); err != nil {
			a.storeErr = err
			return
		}
		a.store, a.storeErr = store.NewSQLiteStore(a.Config.Storage.DBPath)
		if a.storeErr == nil {
			a.Logger.Debug().Str("path", a.Config.Storage.DBPath).Msg("SQLite store opened")
		}
	})
	return a.store, a.storeErr
}

// Broker returns the Kite client, loading any saved session. It fails when
// API credentials are missing.
func (a *App) Broker() (*broker.ZerodhaBroker, error) {
	if err := a.Config.RequireCredentials(); err != nil {
		return nil, err
	}
	a.brokerOnce.Do(func() {
		creds := a.Config.Credentials.Zerodha
		a.broker = broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			UserID:    creds.UserID,
			TokenPath: filepath.Join(a.Config.Dir, "session.json"),
			Logger:    a.Logger.With().Str("component", "broker").Logger(),
		})
	})
	return a.broker, nil
}

// Close releases anything the commands opened.
func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "strategyd",
		Short: "Intraday options strategy runner for Zerodha Kite",
		Long: `strategyd runs a Bollinger/RSI and support-resistance breakout strategy
on NFO option contracts using live Kite ticks.

It builds candles from the tick stream, enters on indicator or breakout
signals, exits on ATR-derived stop loss and target, and halts for the day
when the loss limit is reached.

Use 'strategyd run' to start trading and 'strategyd status' to inspect a
running instance.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// --config is consumed before the config is loaded; it is declared here
	// so cobra accepts it.
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/zerodha-strategy)")
	rootCmd.PersistentFlags().StringP("output", "o", FormatText, "output format: text, json or yaml")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	addControlCommands(rootCmd, app)
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newJournalCmd(app))
	rootCmd.AddCommand(newBackfillCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Render(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("strategyd v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write config.toml and credentials.toml templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")
			written, err := config.WriteTemplates(app.Config.Dir, force)
			if err != nil {
				return err
			}
			if output.IsStructured() {
				return output.Render(map[string]any{"dir": app.Config.Dir, "written": written})
			}
			if len(written) == 0 {
				output.Warning("Configuration files already exist in %s (use --force to overwrite)", app.Config.Dir)
				return nil
			}
			for _, path := range written {
				output.Success("✓ Wrote %s", path)
			}
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite existing files")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Render(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Render(map[string]string{"path": app.Config.Dir})
			}
			output.Println(app.Config.Dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Render(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	s := cfg.Strategy
	output.Bold("Strategy")
	output.Printf("  Candle interval:   %d min (keep %d)\n", s.CandleIntervalMinutes, s.MaxCandlesToKeep)
	output.Printf("  Bollinger:         %d / %.1f\n", s.Bollinger.Period, s.Bollinger.Width)
	output.Printf("  RSI:               %d (bull %.0f, bear %.0f)\n", s.RSI.Period, s.RSI.BullThreshold, s.RSI.BearThreshold)
	output.Printf("  ATR:               %d (SL x%.2f, TP x%.2f)\n", s.ATR.Period, s.ATR.SLMultiplier, s.ATR.TPMultiplier)
	if s.LevelDetection.Enabled {
		output.Printf("  Levels:            window %d, strength %d, confirm %d\n",
			s.LevelDetection.PivotWindow, s.LevelDetection.StrengthThreshold, s.LevelDetection.BreakoutConfirmationCandles)
	} else {
		output.Printf("  Levels:            disabled\n")
	}
	output.Println()

	output.Bold("Risk")
	output.Printf("  Max daily loss:    %s\n", utils.FormatIndianCurrency(cfg.Risk.MaxDailyLoss))
	output.Printf("  Cooldown:          %d min\n", cfg.Risk.CooldownMinutes)
	output.Printf("  Default quantity:  %d\n", cfg.Risk.DefaultQuantity)
	output.Println()

	output.Bold("Trading")
	output.Printf("  Mode:              %s\n", cfg.Trading.Mode)
	output.Printf("  Exchange/Product:  %s / %s\n", cfg.Trading.Exchange, cfg.Trading.Product)
	output.Printf("  Instruments:       %d\n", len(cfg.Trading.Instruments))
	for _, inst := range cfg.Trading.Instruments {
		output.Printf("    %-10d %-24s %-2s qty %d\n", inst.Token, inst.Symbol, inst.OptionType, inst.Quantity)
	}
	output.Println()

	output.Bold("Services")
	output.Printf("  Positions store:   %s\n", cfg.Storage.Positions)
	output.Printf("  Database:          %s\n", cfg.Storage.DBPath)
	output.Printf("  API:               %v (%s)\n", cfg.API.Enabled, cfg.API.Addr)
	output.Printf("  Metrics:           %v\n", cfg.Metrics.Enabled)
	output.Printf("  Redis status:      %v (%s)\n", cfg.Cache.Enabled, cfg.Cache.RedisAddr)
	output.Printf("  Notifications:     %v (%s)\n", cfg.Notifications.Enabled, cfg.Notifications.Level)
}
