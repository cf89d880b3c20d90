// Package trading runs the per-tick strategy loop: candle aggregation,
// indicator recomputation, entry and exit rules, and order dispatch.
package trading

import (
	"time"

	"zerodha-strategy/internal/models"
)

// Sink receives trade decisions and anomalies as they are committed.
// Implementations must be safe for concurrent use; order failures are
// reported from placement goroutines.
type Sink interface {
	OnTrade(ev models.TradeEvent)
	OnAnomaly(a models.Anomaly)
}

// NopSink discards everything.
type NopSink struct{}

// OnTrade implements Sink.
func (NopSink) OnTrade(models.TradeEvent) {}

// OnAnomaly implements Sink.
func (NopSink) OnAnomaly(models.Anomaly) {}

// Recorder receives engine measurements.
type Recorder interface {
	TickProcessed(token uint32)
	BoundaryProcessed(instruments int, elapsed time.Duration)
	OrderPlaced(side models.OrderSide, err error)
	RiskState(dailyPnL float64, openPositions int, halted bool)
}

type nopRecorder struct{}

func (nopRecorder) TickProcessed(uint32)                 {}
func (nopRecorder) BoundaryProcessed(int, time.Duration) {}
func (nopRecorder) OrderPlaced(models.OrderSide, error)  {}
func (nopRecorder) RiskState(float64, int, bool)         {}

// Config holds executor settings that are not owned by a component.
type Config struct {
	Exchange models.Exchange
	Product  models.ProductType
	// ExitDelay spaces forced exits during shutdown.
	ExitDelay time.Duration
	// MarketHoursOnly restricts entries to NSE session hours. Exits are
	// always evaluated.
	MarketHoursOnly bool
	// HistoryDays is how far back Refresh seeds candle history.
	HistoryDays     int
	OrderTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Exchange:        models.NFO,
		Product:         models.ProductMIS,
		ExitDelay:       500 * time.Millisecond,
		MarketHoursOnly: true,
		HistoryDays:     5,
		OrderTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
