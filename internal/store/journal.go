package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"zerodha-strategy/internal/models"
)

// TradeAppender persists trade events.
type TradeAppender interface {
	AppendTrade(ctx context.Context, event models.TradeEvent) (string, error)
}

// Journal records every trade event as it is emitted. It is meant to be
// registered as a synchronous hub consumer so the journal order matches
// the decision order.
type Journal struct {
	store   TradeAppender
	timeout time.Duration
	logger  zerolog.Logger
}

// NewJournal creates a journal over store.
func NewJournal(store TradeAppender, logger zerolog.Logger) *Journal {
	return &Journal{
		store:   store,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "journal").Logger(),
	}
}

// OnTrade appends ev. A write failure is logged; the trade itself has
// already been committed in memory.
func (j *Journal) OnTrade(ev models.TradeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	id, err := j.store.AppendTrade(ctx, ev)
	if err != nil {
		j.logger.Error().Err(err).
			Str("event_id", ev.ID).
			Str("symbol", ev.Symbol).
			Str("action", string(ev.Action)).
			Msg("Failed to journal trade")
		return
	}
	j.logger.Debug().Str("journal_id", id).Str("event_id", ev.ID).Msg("Trade journaled")
}

// OnAnomaly is a no-op; anomalies are logged, not journaled.
func (j *Journal) OnAnomaly(models.Anomaly) {}
