package trading

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/analysis/levels"
	"zerodha-strategy/internal/broker"
	"zerodha-strategy/internal/candles"
	"zerodha-strategy/internal/clock"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/logging"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/positions"
	"zerodha-strategy/internal/risk"
	"zerodha-strategy/internal/signals"
	"zerodha-strategy/pkg/utils"
)

// HistoryRefresher loads candle history for many instruments.
type HistoryRefresher interface {
	Refresh(ctx context.Context, tokens []uint32, interval time.Duration, from, to time.Time) []broker.RefreshResult
}

// Deps wires the executor's collaborators. Aggregator, Indicators,
// Signals, Risk and Positions are required.
type Deps struct {
	Config     Config
	Logger     zerolog.Logger
	Clock      clock.Clock
	Scheduler  candles.Scheduler
	Aggregator *candles.Aggregator
	Indicators *indicators.Engine
	Levels     *levels.Detector // nil disables level detection
	Signals    *signals.Engine
	Risk       *risk.Manager
	Positions  *positions.Store
	Sink       Sink
	Orders     broker.OrderPlacer // nil runs signal-only
	Metrics    Recorder
}

// Executor is the single serialization point for ticks, candle
// boundaries and operator commands. Every call runs to completion under
// one mutex, so a tick is never split across buckets and position state
// never races with risk state.
type Executor struct {
	cfg       Config
	logger    zerolog.Logger
	clock     clock.Clock
	scheduler candles.Scheduler
	agg       *candles.Aggregator
	ind       *indicators.Engine
	lvl       *levels.Detector
	sig       *signals.Engine
	risk      *risk.Manager
	pos       *positions.Store
	sink      Sink
	orders    broker.OrderPlacer
	metrics   Recorder

	series  seriesTable
	lastDay string
	// bucket is the start of the candle bucket currently open.
	bucket time.Time

	// orderTail chains placements per instrument so an exit order never
	// overtakes its entry.
	orderTail map[uint32]chan struct{}
	inflight  sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// New creates an executor.
func New(d Deps) (*Executor, error) {
	switch {
	case d.Aggregator == nil:
		return nil, apperrors.NewValidationError("aggregator", nil, "required", apperrors.ErrConfigInvalid)
	case d.Indicators == nil:
		return nil, apperrors.NewValidationError("indicators", nil, "required", apperrors.ErrConfigInvalid)
	case d.Signals == nil:
		return nil, apperrors.NewValidationError("signals", nil, "required", apperrors.ErrConfigInvalid)
	case d.Risk == nil:
		return nil, apperrors.NewValidationError("risk", nil, "required", apperrors.ErrConfigInvalid)
	case d.Positions == nil:
		return nil, apperrors.NewValidationError("positions", nil, "required", apperrors.ErrConfigInvalid)
	}

	e := &Executor{
		cfg:       d.Config,
		logger:    logging.WithComponent(d.Logger, "executor"),
		clock:     d.Clock,
		scheduler: d.Scheduler,
		agg:       d.Aggregator,
		ind:       d.Indicators,
		lvl:       d.Levels,
		sig:       d.Signals,
		risk:      d.Risk,
		pos:       d.Positions,
		sink:      d.Sink,
		orders:    d.Orders,
		metrics:   d.Metrics,
		series:    newSeriesTable(),
		orderTail: make(map[uint32]chan struct{}),
		sleep:     sleepCtx,
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.scheduler == nil {
		e.scheduler = &candles.AlignedScheduler{Clock: e.clock, Location: utils.IndiaLocation}
	}
	if e.sink == nil {
		e.sink = NopSink{}
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.cfg.OrderTimeout <= 0 {
		e.cfg.OrderTimeout = DefaultConfig().OrderTimeout
	}
	if e.cfg.ShutdownTimeout <= 0 {
		e.cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if e.cfg.Product == "" {
		e.cfg.Product = models.ProductMIS
	}
	return e, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register adds an instrument. An empty opt derives the option leg from
// the catalog row; underlying series are tracked for candles only.
func (e *Executor) Register(inst models.Instrument, opt models.OptionType, quantity int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if opt == models.OptionNone {
		opt = inst.OptionType()
	}
	if inst.Exchange == "" {
		inst.Exchange = e.cfg.Exchange
	}
	e.series.put(&InstrumentSeries{Instrument: inst, OptionType: opt, Quantity: quantity})
	e.agg.Track(inst.Token)

	e.logger.Info().
		Uint32("token", inst.Token).
		Str("symbol", inst.Symbol).
		Str("option_type", string(opt)).
		Msg("instrument registered")
}

// AdoptOpenPositions registers an exit-only series for every open
// position whose instrument is not registered, so positions carried over
// from a previous session keep their stop loss and target managed. It
// returns the adopted tokens.
func (e *Executor) AdoptOpenPositions() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var adopted []uint32
	for _, p := range e.pos.All() {
		if _, ok := e.series.get(p.Token); ok {
			continue
		}
		inst := models.Instrument{
			Token:     p.Token,
			Symbol:    p.Symbol,
			Exchange:  p.Exchange,
			Segment:   p.Segment,
			InstrType: string(p.OptionType),
		}
		if inst.Exchange == "" {
			inst.Exchange = e.cfg.Exchange
		}
		if p.Expiry != nil {
			inst.Expiry = *p.Expiry
		}
		e.series.put(&InstrumentSeries{Instrument: inst, OptionType: p.OptionType, ExitOnly: true})
		e.agg.Track(p.Token)
		adopted = append(adopted, p.Token)

		e.logger.Warn().
			Uint32("token", p.Token).
			Str("symbol", p.Symbol).
			Msg("open position on unconfigured instrument, managing exits only")
	}
	return adopted
}

// Tokens returns registered tokens in registration order.
func (e *Executor) Tokens() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.series.tokens()
}

// OnTick applies one market tick: candle update, then an exit check when
// the instrument has a position, otherwise an entry check.
func (e *Executor) OnTick(ctx context.Context, tick models.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series.get(tick.Token)
	if !ok {
		return
	}
	if tick.LTP <= 0 || math.IsNaN(tick.LTP) || math.IsInf(tick.LTP, 0) {
		e.anomaly(s, fmt.Sprintf("ignored tick with invalid price %v", tick.LTP))
		return
	}

	ts := tick.Timestamp
	if ts.IsZero() {
		ts = e.clock.Now()
	}
	e.rollover(ts)

	interval := e.agg.Interval()
	bucket := candles.Align(ts, interval, utils.IndiaLocation)
	switch {
	case e.bucket.IsZero():
		e.bucket = bucket
	case bucket.Equal(e.bucket.Add(interval)):
		// The tick belongs to the next bucket and its boundary has not
		// been processed yet.
		e.closeBoundary(bucket)
	case bucket.Before(e.bucket):
		// The boundary closed before this tick was applied. Fold it into
		// its own bucket and only manage exits on it.
		if e.agg.Amend(tick.Token, bucket, tick.LTP) {
			e.recompute(s, e.clock.Now())
		}
		e.metrics.TickProcessed(tick.Token)
		if pos, ok := e.pos.Get(tick.Token); ok {
			if reason, exit := signals.EvaluateExit(pos, tick.LTP); exit {
				e.closePosition(ctx, s, pos, tick.LTP, reason)
			}
		}
		return
	}

	e.agg.Update(tick.Token, tick.LTP, ts)
	e.metrics.TickProcessed(tick.Token)

	if pos, ok := e.pos.Get(tick.Token); ok {
		if reason, exit := signals.EvaluateExit(pos, tick.LTP); exit {
			e.closePosition(ctx, s, pos, tick.LTP, reason)
		}
		return
	}
	e.tryEntry(ctx, s, tick.LTP, ts)
}

// rollover resets daily risk on the first tick of a new IST trading day.
func (e *Executor) rollover(ts time.Time) {
	day := utils.TradingDay(ts)
	if e.lastDay != "" && day > e.lastDay {
		e.risk.ResetDay()
		e.logger.Info().Str("previous", e.lastDay).Str("day", day).Msg("trading day rolled over, daily risk reset")
	}
	if day > e.lastDay {
		e.lastDay = day
	}
}

func (e *Executor) tryEntry(ctx context.Context, s *InstrumentSeries, price float64, ts time.Time) {
	if s.ExitOnly || !s.OptionType.IsOption() {
		return
	}
	if e.cfg.MarketHoursOnly && !utils.IsMarketOpenAt(ts) {
		return
	}
	token := s.Instrument.Token
	if err := e.risk.CheckEntry(token); err != nil {
		return
	}

	d, ok := e.sig.EvaluateEntry(signals.EntryInput{
		Price:      price,
		OptionType: s.OptionType,
		Snapshot:   s.Snapshot,
		Levels:     s.Levels,
		Closes:     s.Closes,
		Quantity:   s.Quantity,
	})
	if !ok {
		return
	}

	now := e.clock.Now()
	pos := models.Position{
		Token:      token,
		Symbol:     s.Instrument.Symbol,
		OptionType: d.OptionType,
		Quantity:   d.Quantity,
		EntryPrice: d.Price,
		EntryTime:  now,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		Exchange:   s.Instrument.Exchange,
		Segment:    s.Instrument.Segment,
		Reason:     d.Reason,
	}
	if !s.Instrument.Expiry.IsZero() {
		expiry := s.Instrument.Expiry
		pos.Expiry = &expiry
	}

	if err := e.pos.Add(ctx, pos); err != nil {
		if !e.pos.Has(token) || apperrors.Is(err, apperrors.ErrPositionExists) {
			e.logger.Warn().Err(err).Uint32("token", token).Msg("entry rejected")
			e.anomaly(s, "entry rejected: "+err.Error())
			return
		}
		e.logger.Error().Err(err).Uint32("token", token).Msg("position opened but not persisted")
		e.anomaly(s, "position not persisted: "+err.Error())
	}

	e.emit(models.TradeEvent{
		ID:         uuid.NewString(),
		Token:      token,
		Symbol:     pos.Symbol,
		OptionType: pos.OptionType,
		Action:     models.ActionBuy,
		Price:      pos.EntryPrice,
		Quantity:   pos.Quantity,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		Reason:     fmt.Sprintf("%s: %s", d.Rule, d.Reason),
		DailyPnL:   e.risk.DailyPnL(),
		Timestamp:  now,
	})
	e.placeOrder(ctx, s, models.OrderSideBuy, pos.Quantity)
}

// closePosition commits an exit: the position is removed, P&L booked,
// the SELL emitted and the order dispatched. Caller holds e.mu.
func (e *Executor) closePosition(ctx context.Context, s *InstrumentSeries, pos models.Position, price float64, reason string) {
	removed, err := e.pos.Remove(ctx, pos.Token)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrPositionNotFound) {
			e.anomaly(s, "exit for missing position: "+err.Error())
			return
		}
		e.logger.Error().Err(err).Uint32("token", pos.Token).Msg("position closed but not persisted")
		e.anomaly(s, "position removal not persisted: "+err.Error())
	}

	pnl := signals.RealizedPnL(removed, price)
	e.risk.OnExit(removed.Token, pnl)

	e.emit(models.TradeEvent{
		ID:          uuid.NewString(),
		Token:       removed.Token,
		Symbol:      removed.Symbol,
		OptionType:  removed.OptionType,
		Action:      models.ActionSell,
		Price:       price,
		Quantity:    removed.Quantity,
		StopLoss:    removed.StopLoss,
		TakeProfit:  removed.TakeProfit,
		RealizedPnL: &pnl,
		Reason:      reason,
		DailyPnL:    e.risk.DailyPnL(),
		Timestamp:   e.clock.Now(),
	})
	e.placeOrder(ctx, s, models.OrderSideSell, removed.Quantity)
}

func (e *Executor) emit(ev models.TradeEvent) {
	logging.LogTrade(e.logger, ev)
	e.sink.OnTrade(ev)
	e.metrics.RiskState(e.risk.DailyPnL(), e.pos.Len(), e.risk.IsTradingHalted())
}

func (e *Executor) anomaly(s *InstrumentSeries, msg string) {
	a := models.Anomaly{
		Token:     s.Instrument.Token,
		Symbol:    s.Instrument.Symbol,
		Message:   msg,
		Timestamp: e.clock.Now(),
	}
	logging.LogAnomaly(e.logger, a)
	e.sink.OnAnomaly(a)
}

// placeOrder dispatches a market order without blocking the caller.
// Placements for one instrument run in commit order. Caller holds e.mu.
func (e *Executor) placeOrder(ctx context.Context, s *InstrumentSeries, side models.OrderSide, qty int) {
	if e.orders == nil {
		return
	}

	req := models.OrderRequest{
		Token:    s.Instrument.Token,
		Symbol:   s.Instrument.Symbol,
		Exchange: s.Instrument.Exchange,
		Side:     side,
		Product:  e.cfg.Product,
		Quantity: qty,
		Tag:      "strategy",
	}

	prev := e.orderTail[req.Token]
	done := make(chan struct{})
	e.orderTail[req.Token] = done

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}

		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
		defer cancel()

		res, err := e.orders.PlaceMarket(octx, req)
		logging.LogOrder(e.logger, req, res, err)
		e.metrics.OrderPlaced(side, err)
		if err != nil {
			a := models.Anomaly{
				Token:     req.Token,
				Symbol:    req.Symbol,
				Message:   fmt.Sprintf("%s order failed: %v", side, err),
				Timestamp: e.clock.Now(),
			}
			e.sink.OnAnomaly(a)
		}
	}()
}

// OnBoundary closes candles at boundary and recomputes indicators and
// levels for every instrument. A repeated boundary is ignored.
func (e *Executor) OnBoundary(boundary time.Time) []candles.Finalized {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeBoundary(boundary)
}

// closeBoundary is OnBoundary with e.mu held.
func (e *Executor) closeBoundary(boundary time.Time) []candles.Finalized {
	if boundary.After(e.bucket) {
		e.bucket = boundary
	}

	start := time.Now()
	closed := e.agg.Finalize(boundary)
	if closed == nil {
		return nil
	}
	for _, s := range e.series.list {
		e.recompute(s, boundary)
	}
	e.metrics.BoundaryProcessed(len(e.series.list), time.Since(start))

	e.logger.Debug().
		Time("boundary", boundary).
		Int("closed", len(closed)).
		Msg("candle boundary processed")
	return closed
}

// recompute rebuilds the indicator snapshot and levels from history.
// Caller holds e.mu.
func (e *Executor) recompute(s *InstrumentSeries, at time.Time) {
	hist := e.agg.History(s.Instrument.Token)
	s.Snapshot = e.ind.Compute(hist)
	s.Closes = indicators.ClosePrices(hist)
	if e.lvl != nil {
		s.Levels = e.lvl.Detect(hist)
	} else {
		s.Levels = models.Levels{}
	}
	s.ComputedAt = at
}

// Refresh seeds candle history from src and recomputes. An instrument
// whose fetch fails keeps its current series.
func (e *Executor) Refresh(ctx context.Context, src HistoryRefresher) error {
	tokens := e.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	// History stops at the open bucket; the live candle covers it.
	to := candles.Align(e.clock.Now(), e.agg.Interval(), utils.IndiaLocation)
	days := e.cfg.HistoryDays
	if days <= 0 {
		days = DefaultConfig().HistoryDays
	}
	from := to.AddDate(0, 0, -days)

	results := src.Refresh(ctx, tokens, e.agg.Interval(), from, to)

	e.mu.Lock()
	defer e.mu.Unlock()

	var failed int
	for _, r := range results {
		s, ok := e.series.get(r.Token)
		if !ok {
			continue
		}
		if r.Err != nil {
			failed++
			e.anomaly(s, "history refresh failed: "+r.Err.Error())
			continue
		}
		e.agg.Seed(r.Token, closedBefore(r.Candles, to))
		e.recompute(s, to)
	}

	e.logger.Info().
		Int("instruments", len(results)).
		Int("failed", failed).
		Msg("history refreshed")

	if failed == len(results) {
		return apperrors.NewDataError("candles", "", "history refresh failed for every instrument", apperrors.ErrUpstreamData)
	}
	return nil
}

// closedBefore drops candles whose bucket starts at or after end. Kite
// returns the forming bucket as a partial candle.
func closedBefore(cs []models.Candle, end time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(cs))
	for _, c := range cs {
		if c.Timestamp.Before(end) {
			out = append(out, c)
		}
	}
	return out
}

// Run drives the executor from ticks and scheduler boundaries until ctx
// ends or ticks is closed, then shuts down.
func (e *Executor) Run(ctx context.Context, ticks <-chan models.Tick) error {
	boundaries, stop := e.scheduler.Every(e.agg.Interval())
	defer stop()

	e.logger.Info().
		Dur("interval", e.agg.Interval()).
		Int("instruments", len(e.Tokens())).
		Msg("executor started")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case tick, ok := <-ticks:
			if !ok {
				break loop
			}
			e.OnTick(ctx, tick)
		case b, ok := <-boundaries:
			if !ok {
				break loop
			}
			e.OnBoundary(b)
		}
	}
	stop()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

// Shutdown halts trading, force-exits every open position at its last
// known price with ExitDelay between exits, and waits for pending orders.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.risk.Halt()
	e.logger.Info().Int("positions", e.pos.Len()).Msg("shutting down, closing open positions")

	open := e.pos.All()
	for i, p := range open {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.ExitDelay); err != nil {
				return apperrors.Wrapf(err, "shutdown interrupted with %d positions open", e.pos.Len())
			}
		}
		e.forceExit(ctx, p.Token)
	}

	waited := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), "waiting for in-flight orders")
	}
}

func (e *Executor) forceExit(ctx context.Context, token uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.pos.Get(token)
	if !ok {
		return
	}
	price, ok := e.agg.LastPrice(token)
	if !ok {
		price = pos.EntryPrice
	}
	s, ok := e.series.get(token)
	if !ok {
		s = &InstrumentSeries{Instrument: models.Instrument{
			Token: pos.Token, Symbol: pos.Symbol, Exchange: pos.Exchange, Segment: pos.Segment,
		}}
	}
	e.closePosition(ctx, s, pos, price, signals.ForcedExitShutdown)
}

// Halt blocks new entries until Resume.
func (e *Executor) Halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk.Halt()
	e.logger.Warn().Msg("trading halted by operator")
	e.metrics.RiskState(e.risk.DailyPnL(), e.pos.Len(), true)
}

// Resume clears the manual halt. A breached loss limit keeps blocking.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk.Resume()
	e.logger.Info().Str("halt_reason", e.risk.HaltReason()).Msg("trading resumed by operator")
	e.metrics.RiskState(e.risk.DailyPnL(), e.pos.Len(), e.risk.IsTradingHalted())
}

// Status returns the halt state, daily P&L and open positions marked to
// their last traded price.
func (e *Executor) Status() models.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := e.pos.All()
	ps := make([]models.PositionStatus, 0, len(open))
	for _, p := range open {
		ltp, ok := e.agg.LastPrice(p.Token)
		if !ok {
			ltp = p.EntryPrice
		}
		ps = append(ps, models.PositionStatus{
			Position:      p,
			LTP:           ltp,
			UnrealizedPnL: p.UnrealizedPnL(ltp),
		})
	}

	return models.Status{
		Halted:     e.risk.IsTradingHalted(),
		HaltReason: e.risk.HaltReason(),
		DailyPnL:   e.risk.DailyPnL(),
		Positions:  ps,
		AsOf:       e.clock.Now(),
	}
}

// Instruments returns a view of every registered series.
func (e *Executor) Instruments() []SeriesView {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SeriesView, 0, len(e.series.list))
	for _, s := range e.series.list {
		ltp, _ := e.agg.LastPrice(s.Instrument.Token)
		out = append(out, SeriesView{
			Token:      s.Instrument.Token,
			Symbol:     s.Instrument.Symbol,
			OptionType: s.OptionType,
			ExitOnly:   s.ExitOnly,
			Candles:    len(s.Closes),
			LTP:        ltp,
			Snapshot:   s.Snapshot,
			Levels:     s.Levels,
			ComputedAt: s.ComputedAt,
		})
	}
	return out
}
