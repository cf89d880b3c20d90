package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
)

func TestJournal_AppendsTradesInOrder(t *testing.T) {
	s := newTestStore(t)
	j := NewJournal(s, zerolog.Nop())

	base := time.Date(2024, 3, 13, 4, 30, 0, 0, time.UTC)
	pnl := 125.0
	j.OnTrade(models.TradeEvent{ID: "buy-1", Token: 7, Symbol: "OPT", OptionType: models.OptionCE,
		Action: models.ActionBuy, Price: 100, Quantity: 50, Timestamp: base})
	j.OnTrade(models.TradeEvent{ID: "sell-1", Token: 7, Symbol: "OPT", OptionType: models.OptionCE,
		Action: models.ActionSell, Price: 102.5, Quantity: 50, RealizedPnL: &pnl, Timestamp: base.Add(time.Minute)})
	j.OnAnomaly(models.Anomaly{Message: "ignored"})

	entries, err := s.GetTrades(context.Background(), TradeFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sell-1", entries[0].Event.ID)
	require.NotNil(t, entries[0].Event.RealizedPnL)
	assert.InDelta(t, 125.0, *entries[0].Event.RealizedPnL, 1e-9)
	assert.Equal(t, "buy-1", entries[1].Event.ID)
	assert.Nil(t, entries[1].Event.RealizedPnL)
}

type failingAppender struct{ calls int }

func (f *failingAppender) AppendTrade(context.Context, models.TradeEvent) (string, error) {
	f.calls++
	return "", errors.New("disk full")
}

func TestJournal_FailureDoesNotPanic(t *testing.T) {
	f := &failingAppender{}
	j := NewJournal(f, zerolog.Nop())

	assert.NotPanics(t, func() { j.OnTrade(models.TradeEvent{ID: "x"}) })
	assert.Equal(t, 1, f.calls)
}
