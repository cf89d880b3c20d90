package trading

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"zerodha-strategy/internal/candles"
	"zerodha-strategy/internal/clock"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/positions"
	"zerodha-strategy/internal/risk"
	"zerodha-strategy/pkg/utils"
)

// EquityPoint is the marked-to-market equity after a candle boundary.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// BacktestResult summarizes a replay. Percentages are 0-100.
type BacktestResult struct {
	Candles      int                 `json:"candles"`
	Trades       int                 `json:"trades"`
	Wins         int                 `json:"wins"`
	Losses       int                 `json:"losses"`
	WinRate      float64             `json:"win_rate"`
	NetPnL       float64             `json:"net_pnl"`
	TotalReturn  float64             `json:"total_return"`
	MaxDrawdown  float64             `json:"max_drawdown"`
	SharpeRatio  float64             `json:"sharpe_ratio"`
	ProfitFactor float64             `json:"profit_factor"`
	AvgWin       float64             `json:"avg_win"`
	AvgLoss      float64             `json:"avg_loss"`
	LargestWin   float64             `json:"largest_win"`
	LargestLoss  float64             `json:"largest_loss"`
	Anomalies    int                 `json:"anomalies"`
	EquityCurve  []EquityPoint       `json:"equity_curve"`
	Events       []models.TradeEvent `json:"events"`
}

// Backtest replays stored candles through a private Executor on a manual
// clock. Each candle becomes four ticks along its open, extreme, extreme,
// close path, followed by the candle boundary, so entries, exits, risk
// and cooldowns behave as they would live. Orders are not placed.
type Backtest struct {
	exec    *Executor
	clock   *clock.Manual
	capital float64

	mu        sync.Mutex
	events    []models.TradeEvent
	anomalies int
	realized  float64
	ran       bool
}

// discardPersister keeps replayed positions in memory only.
type discardPersister struct{}

func (discardPersister) LoadPositions(context.Context) ([]models.Position, error) { return nil, nil }
func (discardPersister) SavePositions(context.Context, []models.Position) error   { return nil }

// NewBacktest builds a replay engine from d. The clock, scheduler, risk
// manager, position store, sink and order placer in d are replaced; the
// aggregator must be fresh.
func NewBacktest(d Deps, riskCfg risk.Config, capital float64) (*Backtest, error) {
	if capital <= 0 {
		return nil, apperrors.NewValidationError("capital", capital, "must be positive", apperrors.ErrConfigInvalid)
	}

	bt := &Backtest{clock: clock.NewManual(time.Time{}), capital: capital}

	d.Clock = bt.clock
	d.Scheduler = candles.NewManualScheduler()
	d.Risk = risk.NewManager(riskCfg, bt.clock)
	d.Positions = positions.NewStore(discardPersister{})
	d.Sink = bt
	d.Orders = nil
	d.Metrics = nil
	d.Config.ExitDelay = 0

	exec, err := New(d)
	if err != nil {
		return nil, err
	}
	bt.exec = exec
	return bt, nil
}

// Register adds an instrument to the replay.
func (bt *Backtest) Register(inst models.Instrument, opt models.OptionType, quantity int) {
	bt.exec.Register(inst, opt, quantity)
}

// OnTrade implements Sink.
func (bt *Backtest) OnTrade(ev models.TradeEvent) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.events = append(bt.events, ev)
	if ev.RealizedPnL != nil {
		bt.realized += *ev.RealizedPnL
	}
}

// OnAnomaly implements Sink.
func (bt *Backtest) OnAnomaly(models.Anomaly) {
	bt.mu.Lock()
	bt.anomalies++
	bt.mu.Unlock()
}

// Run replays data, keyed by instrument token, in timestamp order and
// force-exits whatever is open at the end. Candles for unregistered tokens
// are ignored. A Backtest runs once.
func (bt *Backtest) Run(ctx context.Context, data map[uint32][]models.Candle) (*BacktestResult, error) {
	bt.mu.Lock()
	if bt.ran {
		bt.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "backtest already ran")
	}
	bt.ran = true
	bt.mu.Unlock()

	buckets, count := bt.buckets(data)
	if len(buckets) == 0 {
		return nil, apperrors.NewDataError("candles", "", "no candles to replay", apperrors.ErrUpstreamData)
	}

	interval := bt.exec.agg.Interval()
	var curve []EquityPoint
	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for step := 0; step < 4; step++ {
			ts := b.start.Add(interval * time.Duration(step) / 4)
			bt.clock.Set(ts)
			for _, c := range b.candles {
				bt.exec.OnTick(ctx, models.Tick{Token: c.token, LTP: pathPrice(c.candle, step), Timestamp: ts})
			}
		}
		boundary := b.start.Add(interval)
		bt.clock.Set(boundary)
		bt.exec.OnBoundary(boundary)
		curve = append(curve, EquityPoint{Timestamp: boundary, Equity: bt.equity()})
	}

	if err := bt.exec.Shutdown(ctx); err != nil {
		return nil, err
	}
	curve = append(curve, EquityPoint{Timestamp: bt.clock.Now(), Equity: bt.equity()})

	bt.mu.Lock()
	defer bt.mu.Unlock()
	res := &BacktestResult{
		Candles:     count,
		Anomalies:   bt.anomalies,
		EquityCurve: curve,
		Events:      append([]models.TradeEvent(nil), bt.events...),
	}
	summarize(res, bt.capital)
	return res, nil
}

func (bt *Backtest) equity() float64 {
	var unrealized float64
	for _, p := range bt.exec.Status().Positions {
		unrealized += p.UnrealizedPnL
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.capital + bt.realized + unrealized
}

type replayCandle struct {
	token  uint32
	candle models.Candle
}

type replayBucket struct {
	start   time.Time
	candles []replayCandle
}

// buckets groups candles of registered tokens by bucket start, oldest
// first, with tokens in ascending order inside a bucket.
func (bt *Backtest) buckets(data map[uint32][]models.Candle) ([]replayBucket, int) {
	registered := make(map[uint32]bool)
	for _, t := range bt.exec.Tokens() {
		registered[t] = true
	}

	byStart := make(map[int64]*replayBucket)
	var count int
	for token, cs := range data {
		if !registered[token] {
			continue
		}
		for _, c := range cs {
			key := c.Timestamp.UnixNano()
			b, ok := byStart[key]
			if !ok {
				b = &replayBucket{start: c.Timestamp}
				byStart[key] = b
			}
			b.candles = append(b.candles, replayCandle{token: token, candle: c})
			count++
		}
	}

	out := make([]replayBucket, 0, len(byStart))
	for _, b := range byStart {
		sort.Slice(b.candles, func(i, j int) bool { return b.candles[i].token < b.candles[j].token })
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out, count
}

// pathPrice walks open, low, high, close for a rising candle and open,
// high, low, close for a falling one.
func pathPrice(c models.Candle, step int) float64 {
	switch step {
	case 0:
		return c.Open
	case 1:
		if c.Close >= c.Open {
			return c.Low
		}
		return c.High
	case 2:
		if c.Close >= c.Open {
			return c.High
		}
		return c.Low
	default:
		return c.Close
	}
}

func summarize(res *BacktestResult, capital float64) {
	var grossWin, grossLoss float64
	for _, ev := range res.Events {
		if ev.RealizedPnL == nil {
			continue
		}
		pnl := *ev.RealizedPnL
		res.Trades++
		res.NetPnL += pnl
		if pnl > 0 {
			res.Wins++
			grossWin += pnl
			res.LargestWin = math.Max(res.LargestWin, pnl)
		} else {
			res.Losses++
			grossLoss += pnl
			res.LargestLoss = math.Min(res.LargestLoss, pnl)
		}
	}

	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades) * 100
	}
	if res.Wins > 0 {
		res.AvgWin = grossWin / float64(res.Wins)
	}
	if res.Losses > 0 {
		res.AvgLoss = grossLoss / float64(res.Losses)
	}
	if grossLoss < 0 {
		res.ProfitFactor = grossWin / -grossLoss
	}
	res.TotalReturn = res.NetPnL / capital * 100

	peak := capital
	for _, p := range res.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := (peak - p.Equity) / peak * 100; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}
	}
	res.SharpeRatio = dailySharpe(res.EquityCurve, capital)
}

// dailySharpe annualizes the Sharpe ratio of day-over-day equity returns,
// taking each IST trading day's last equity point, against a 5% risk-free
// rate.
func dailySharpe(curve []EquityPoint, capital float64) float64 {
	closes := []float64{capital}
	lastDay := ""
	for _, p := range curve {
		day := utils.TradingDay(p.Timestamp)
		if day != lastDay {
			closes = append(closes, p.Equity)
			lastDay = day
			continue
		}
		closes[len(closes)-1] = p.Equity
	}
	if len(closes) < 3 {
		return 0
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = (closes[i] - closes[i-1]) / closes[i-1]
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	const riskFree = 0.05 / 252
	return (mean - riskFree) / std * math.Sqrt(252)
}
