// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"zerodha-strategy/internal/models"
)

// DataStore defines the interface for strategy persistence.
type DataStore interface {
	// Positions
	LoadPositions(ctx context.Context) ([]models.Position, error)
	SavePositions(ctx context.Context, positions []models.Position) error

	// Trade journal
	AppendTrade(ctx context.Context, event models.TradeEvent) (string, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.JournalEntry, error)

	// Candle cache
	SaveCandles(ctx context.Context, token uint32, interval time.Duration, candles []models.Candle) error
	GetCandles(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, token uint32, interval time.Duration) (time.Time, error)

	// Instrument catalog
	SaveInstruments(ctx context.Context, instruments []models.Instrument) error
	Lookup(token uint32) (models.Instrument, bool)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying the trade journal.
type TradeFilter struct {
	Token     uint32
	Action    models.TradeAction
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
