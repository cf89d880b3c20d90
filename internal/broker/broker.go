// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"zerodha-strategy/internal/models"
)

// Broker defines the broker operations the strategy uses.
type Broker interface {
	Session
	HistoricalSource
	InstrumentSource
	OrderPlacer
}

// Session covers the Kite login flow.
type Session interface {
	IsAuthenticated() bool
	GetLoginURL() string
	CompleteLogin(ctx context.Context, requestToken string) error
	Logout(ctx context.Context) error
}

// HistoricalSource fetches closed candles for an instrument.
type HistoricalSource interface {
	GetHistorical(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error)
}

// InstrumentSource lists the instrument catalog for an exchange.
type InstrumentSource interface {
	GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)
}

// OrderPlacer places market orders.
type OrderPlacer interface {
	PlaceMarket(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
}

// Ticker defines the interface for real-time market data streaming.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(tokens []uint32, mode TickMode) error
	RegisterSymbol(symbol string, token uint32)
	OnTick(handler func(models.Tick))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}

// TickMode represents the subscription mode for ticks.
type TickMode string

const (
	TickModeLTP   TickMode = "ltp"
	TickModeQuote TickMode = "quote"
	TickModeFull  TickMode = "full"
)

// TickStream forwards ticker callbacks into a channel in arrival order.
// Sends block until the consumer catches up or ctx ends, so ticks are
// never reordered. After ctx is done further ticks are dropped; the
// channel itself is never closed.
func TickStream(ctx context.Context, t Ticker, buffer int) <-chan models.Tick {
	ch := make(chan models.Tick, buffer)
	done := make(chan struct{})
	t.OnTick(func(tick models.Tick) {
		select {
		case ch <- tick:
		case <-done:
		}
	})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return ch
}
