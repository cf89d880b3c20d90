package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/positions"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "strategy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_PositionsBackPositionStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC)

	ps := positions.NewStore(s)
	require.NoError(t, ps.Load(ctx, s))
	assert.Zero(t, ps.Len())

	require.NoError(t, ps.Add(ctx, models.Position{
		Token: 256265, Symbol: "NIFTY24JUN22500CE", OptionType: models.OptionCE,
		Quantity: 50, EntryPrice: 101.25, EntryTime: time.Date(2024, 6, 3, 4, 45, 0, 0, time.UTC),
		StopLoss: 98, TakeProfit: 106.5, Exchange: models.NFO, Segment: "NFO-OPT",
		Expiry: &expiry, Reason: "Bollinger+RSI",
	}))

	reloaded := positions.NewStore(s)
	require.NoError(t, reloaded.Load(ctx, s))
	p, ok := reloaded.Get(256265)
	require.True(t, ok)
	assert.Equal(t, 101.25, p.EntryPrice)
	assert.Equal(t, 50, p.Quantity)
	assert.Equal(t, models.OptionCE, p.OptionType)
	require.NotNil(t, p.Expiry)
	assert.True(t, expiry.Equal(*p.Expiry))

	_, err := reloaded.Remove(ctx, 256265)
	require.NoError(t, err)
	loaded, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSQLiteStore_JournalNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 4, 0, 0, 0, time.UTC)
	pnl := -155.0

	_, err := s.AppendTrade(ctx, models.TradeEvent{
		ID: "a", Token: 7, Symbol: "X", OptionType: models.OptionCE, Action: models.ActionBuy,
		Price: 100, Quantity: 50, StopLoss: 97, TakeProfit: 104, Reason: "Bollinger+RSI", Timestamp: base,
	})
	require.NoError(t, err)
	sellID, err := s.AppendTrade(ctx, models.TradeEvent{
		ID: "b", Token: 7, Symbol: "X", OptionType: models.OptionCE, Action: models.ActionSell,
		Price: 96.9, Quantity: 50, RealizedPnL: &pnl, Reason: "StopLoss Hit (CE)", DailyPnL: pnl,
		Timestamp: base.Add(3 * time.Minute),
	})
	require.NoError(t, err)

	entries, err := s.GetTrades(ctx, TradeFilter{Token: 7})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, sellID, entries[0].ID)
	assert.Equal(t, models.ActionSell, entries[0].Event.Action)
	require.NotNil(t, entries[0].Event.RealizedPnL)
	assert.Equal(t, -155.0, *entries[0].Event.RealizedPnL)
	assert.Nil(t, entries[1].Event.RealizedPnL)

	buys, err := s.GetTrades(ctx, TradeFilter{Action: models.ActionBuy, Limit: 10})
	require.NoError(t, err)
	require.Len(t, buys, 1)
	assert.Equal(t, "a", buys[0].Event.ID)
}

func TestSQLiteStore_CatalogLookup(t *testing.T) {
	s := newTestStore(t)
	expiry := time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveInstruments(context.Background(), []models.Instrument{{
		Token: 99, Symbol: "BANKNIFTY24JUN49000PE", Name: "BANKNIFTY", Exchange: models.NFO,
		Segment: "NFO-OPT", LotSize: 15, TickSize: 0.05, Expiry: expiry, Strike: 49000, InstrType: "PE",
	}}))

	inst, ok := s.Lookup(99)
	require.True(t, ok)
	assert.Equal(t, "BANKNIFTY24JUN49000PE", inst.Symbol)
	assert.Equal(t, models.OptionPE, inst.OptionType())
	assert.Equal(t, 15, inst.LotSize)
	assert.True(t, expiry.Equal(inst.Expiry))

	_, ok = s.Lookup(100)
	assert.False(t, ok)
}

func TestSQLiteStore_LastSync(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.GetLastSync("instruments").IsZero())

	at := time.Date(2024, 6, 3, 2, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSync("instruments", at))
	assert.True(t, at.Equal(s.GetLastSync("instruments")))
}
