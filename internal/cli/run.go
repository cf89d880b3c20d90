package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/analysis/levels"
	"zerodha-strategy/internal/api"
	"zerodha-strategy/internal/broker"
	"zerodha-strategy/internal/cache"
	"zerodha-strategy/internal/candles"
	"zerodha-strategy/internal/clock"
	"zerodha-strategy/internal/config"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/logging"
	"zerodha-strategy/internal/metrics"
	"zerodha-strategy/internal/notify"
	"zerodha-strategy/internal/positions"
	"zerodha-strategy/internal/resilience"
	"zerodha-strategy/internal/risk"
	"zerodha-strategy/internal/signals"
	"zerodha-strategy/internal/store"
	"zerodha-strategy/internal/stream"
	"zerodha-strategy/internal/trading"
	"zerodha-strategy/pkg/utils"
)

const tickBuffer = 1024

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the strategy on live ticks",
		Long: `Run connects to the Kite ticker, seeds candle history for every configured
instrument and trades until interrupted. On SIGINT or SIGTERM every open
position is closed before exit.

In paper mode orders are simulated at the last traded price; market data
still comes from Kite, so a valid session is required either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if paper, _ := cmd.Flags().GetBool("paper"); paper {
				app.Config.Trading.Mode = "paper"
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.run(ctx, NewOutput(cmd))
		},
	}
	cmd.Flags().Bool("paper", false, "simulate orders regardless of trading.mode")
	return cmd
}

// runtime is the assembled strategy and the consumers hanging off its
// event hub.
type runtime struct {
	exec     *trading.Executor
	hub      *stream.Hub
	metrics  *metrics.Metrics
	notifier *notify.MultiNotifier
	store    *store.SQLiteStore
	logger   zerolog.Logger
}

// buildRuntime assembles the executor from cfg. Open positions are loaded
// from the configured persister and reconciled against the instrument
// catalog in db; a corrupt position store fails startup.
func buildRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger, db *store.SQLiteStore, orders broker.OrderPlacer, clk clock.Clock, sched candles.Scheduler) (*runtime, error) {
	rt := &runtime{
		hub:    stream.NewHub(),
		store:  db,
		logger: logger,
	}

	// Consumers run in registration order on every event: the journal
	// commits first so a crash never leaves a notified but unrecorded trade.
	rt.hub.RegisterConsumer(store.NewJournal(db, logger))
	if cfg.Metrics.Enabled {
		rt.metrics = metrics.New(cfg.Metrics.Namespace)
		rt.hub.RegisterConsumer(rt.metrics)
	}
	if cfg.Notifications.Enabled {
		rt.notifier = notify.NewMultiNotifier(cfg.Notifications, logger)
		rt.hub.RegisterConsumer(rt.notifier)
	}

	pos := positions.NewStore(positionPersister(cfg, db))
	if err := pos.Load(ctx, db); err != nil {
		return nil, apperrors.Wrap(err, "loading open positions")
	}

	var lvl *levels.Detector
	if lc := levelConfig(cfg); lc != nil {
		lvl = levels.NewDetector(*lc)
	}

	deps := trading.Deps{
		Config:     tradingConfig(cfg),
		Logger:     logger,
		Clock:      clk,
		Scheduler:  sched,
		Aggregator: candles.New(cfg.CandleInterval(), cfg.Strategy.MaxCandlesToKeep),
		Indicators: indicators.NewEngine(indicatorParams(cfg)),
		Levels:     lvl,
		Signals:    signals.NewEngine(signalConfig(cfg)),
		Risk:       risk.NewManager(riskConfig(cfg), clk),
		Positions:  pos,
		Sink:       rt.hub,
		Orders:     orders,
	}
	if rt.metrics != nil {
		deps.Metrics = rt.metrics
	}

	exec, err := trading.New(deps)
	if err != nil {
		return nil, err
	}
	for _, r := range registrations(cfg, db) {
		exec.Register(r.Instrument, r.OptionType, r.Quantity)
	}
	// Positions on instruments dropped from the config still need their
	// stops watched, so they are subscribed too.
	exec.AdoptOpenPositions()
	rt.exec = exec

	if n := pos.Len(); n > 0 {
		logger.Warn().Int("positions", n).Msg("Resuming with open positions from previous session")
	}
	return rt, nil
}

func (a *App) run(ctx context.Context, output *Output) error {
	cfg := a.Config
	logger := a.Logger

	if len(cfg.Trading.Instruments) == 0 {
		return apperrors.NewValidationError("trading.instruments", 0, "no instruments configured", apperrors.ErrConfigInvalid)
	}

	zb, err := a.Broker()
	if err != nil {
		return err
	}
	if !zb.IsAuthenticated() {
		return apperrors.Wrap(apperrors.ErrNotAuthenticated, "no valid Kite session, run 'strategyd auth login-url' first")
	}

	db, err := a.Store()
	if err != nil {
		return err
	}

	var orders broker.OrderPlacer = resilience.NewGuardedPlacer(zb,
		resilience.NewBreaker("kite-orders", resilience.DefaultConfig(), clock.System{}),
		logging.WithComponent(logger, "orders"))
	if cfg.IsPaperMode() {
		orders = broker.NewPaperPlacer(logging.WithComponent(logger, "paper"))
		output.Warning("PAPER MODE: orders are simulated")
	}

	rt, err := buildRuntime(ctx, cfg, logger, db, orders, clock.System{}, candles.NewAlignedScheduler(utils.IndiaLocation))
	if err != nil {
		return err
	}

	// Services outlive the trading loop so the shutdown sweep's exits are
	// still journaled, notified and published.
	svcCtx, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	var services sync.WaitGroup
	defer func() {
		stopServices()
		services.Wait()
	}()

	rt.hub.Start(svcCtx)
	defer rt.hub.Stop()

	if rt.notifier != nil {
		services.Add(1)
		go func() {
			defer services.Done()
			rt.notifier.Run(svcCtx)
		}()
	}

	checks := []api.HealthCheck{{
		Name:  "broker",
		Check: func(context.Context) error { return sessionCheck(zb) },
	}}

	if cfg.Cache.Enabled {
		pub := cache.NewStatusPublisher(cache.NewClient(cfg.Cache), cfg.Cache, logger)
		if err := pub.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unreachable, status snapshots will retry")
		}
		checks = append(checks, api.HealthCheck{Name: "redis", Check: pub.Ping})
		services.Add(1)
		go func() {
			defer services.Done()
			defer pub.Close()
			pub.Run(svcCtx, rt.exec.Status)
		}()
	}

	if cfg.API.Enabled {
		srv := api.NewServer(rt.exec, rt.hub, rt.metrics, api.Meta{
			Mode:      cfg.Trading.Mode,
			Version:   Version,
			StartedAt: time.Now(),
		}, logger, checks...)
		srv.Start(cfg.API.Addr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn().Err(err).Msg("API shutdown error")
			}
		}()
		output.Info("API listening on http://%s", cfg.API.Addr)
	}

	cached := store.NewCachedHistory(db, cfg.Storage.CandleCacheMaxAge, logger)
	refresher := broker.NewRefresher(cached.Source(zb.GetHistorical), broker.DefaultRefreshConfig(), logging.WithComponent(logger, "refresh"))
	if err := rt.exec.Refresh(ctx, refresher); err != nil {
		logger.Warn().Err(err).Msg("Starting without candle history")
	}

	ticker := broker.NewZerodhaTicker(broker.ZerodhaTickerConfig{
		APIKey:      cfg.Credentials.Zerodha.APIKey,
		AccessToken: zb.AccessToken(),
		Logger:      logging.WithComponent(logger, "ticker"),
	})
	return runTrading(ctx, rt, ticker, output)
}

// runTrading streams ticks into the executor until ctx ends or the ticker
// fails, then lets the executor close out open positions.
func runTrading(ctx context.Context, rt *runtime, ticker broker.Ticker, output *Output) error {
	tokens := rt.exec.Tokens()
	for _, v := range rt.exec.Instruments() {
		ticker.RegisterSymbol(v.Symbol, v.Token)
	}
	ticker.OnConnect(func() {
		if err := ticker.Subscribe(tokens, broker.TickModeFull); err != nil {
			rt.logger.Error().Err(err).Msg("Tick subscription failed")
			return
		}
		rt.logger.Info().Int("instruments", len(tokens)).Msg("Subscribed to ticks")
	})
	ticker.OnError(func(err error) {
		rt.logger.Warn().Err(err).Msg("Ticker error")
	})
	ticker.OnDisconnect(func() {
		rt.logger.Warn().Msg("Ticker disconnected")
	})

	g, gctx := errgroup.WithContext(ctx)
	ticks := broker.TickStream(gctx, ticker, tickBuffer)

	g.Go(func() error {
		if err := ticker.Connect(gctx); err != nil && !apperrors.Is(err, context.Canceled) {
			return apperrors.NewBrokerError("TICKER_CONNECT", "ticker connection failed", err)
		}
		return nil
	})
	g.Go(func() error {
		return rt.exec.Run(gctx, ticks)
	})

	output.Success("Strategy running on %d instruments, Ctrl+C to stop", len(tokens))
	err := g.Wait()
	_ = ticker.Disconnect()

	st := rt.exec.Status()
	output.Info("Stopped. Day P&L %s, %d open positions", output.FormatPnL(st.DailyPnL), len(st.Positions))
	return err
}

func sessionCheck(s broker.Session) error {
	if !s.IsAuthenticated() {
		return apperrors.ErrSessionExpired
	}
	return nil
}
