package candles

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestAggregator_UpdateAndFinalize(t *testing.T) {
	a := New(15*time.Minute, 10)
	t0 := time.Date(2024, 5, 6, 9, 15, 0, 0, ist)

	a.Update(1, 100, t0.Add(time.Minute))
	a.Update(1, 103, t0.Add(2*time.Minute))
	a.Update(1, 98, t0.Add(3*time.Minute))
	a.Update(1, 101, t0.Add(4*time.Minute))

	cur, ok := a.Current(1)
	require.True(t, ok)
	assert.Equal(t, 100.0, cur.Open)
	assert.Equal(t, 103.0, cur.High)
	assert.Equal(t, 98.0, cur.Low)
	assert.Equal(t, 101.0, cur.Close)

	out := a.Finalize(t0.Add(15 * time.Minute))
	require.Len(t, out, 1)
	assert.Equal(t, t0, out[0].Candle.Timestamp)

	hist := a.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, 101.0, hist[0].Close)

	// Reopened flat at the last price.
	cur, ok = a.Current(1)
	require.True(t, ok)
	assert.Equal(t, 101.0, cur.Open)
	assert.Equal(t, 101.0, cur.High)
	assert.Equal(t, 101.0, cur.Low)
	assert.Equal(t, 101.0, cur.Close)
}

func TestAggregator_QuietInstrumentGetsFlatCandles(t *testing.T) {
	a := New(time.Minute, 10)
	t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)
	a.Update(7, 55.5, t0)

	a.Finalize(t0.Add(time.Minute))
	a.Finalize(t0.Add(2 * time.Minute))

	hist := a.History(7)
	require.Len(t, hist, 2)
	assert.Equal(t, 55.5, hist[1].Open)
	assert.Equal(t, 55.5, hist[1].Low)
	assert.Equal(t, t0.Add(time.Minute), hist[1].Timestamp)
}

func TestAggregator_NeverPricedIsNotFinalized(t *testing.T) {
	a := New(time.Minute, 10)
	a.Track(9)

	out := a.Finalize(time.Date(2024, 5, 6, 10, 0, 0, 0, ist))
	assert.Empty(t, out)
	assert.Empty(t, a.History(9))
}

func TestAggregator_EvictsOldest(t *testing.T) {
	a := New(time.Minute, 3)
	t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)
	for i := 1; i <= 5; i++ {
		a.Update(1, float64(i), t0)
		a.Finalize(t0.Add(time.Duration(i) * time.Minute))
	}

	hist := a.History(1)
	require.Len(t, hist, 3)
	assert.Equal(t, 3.0, hist[0].Close)
	assert.Equal(t, 5.0, hist[2].Close)
}

func TestAggregator_SeedKeepsCap(t *testing.T) {
	a := New(time.Minute, 2)
	t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)
	a.Update(3, 10, t0)

	a.Seed(3, seedCandles(t0))

	hist := a.History(3)
	require.Len(t, hist, 2)
	assert.Equal(t, 2.0, hist[0].Close)
	p, ok := a.LastPrice(3)
	require.True(t, ok)
	assert.Equal(t, 10.0, p, "live price wins over seeded close")
}

func TestAggregator_FinalizeOwnsSeededBucket(t *testing.T) {
	a := New(time.Minute, 10)
	t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)

	// The last seeded candle is the 10:02 bucket, still forming at fetch time.
	a.Seed(3, seedCandles(t0))
	a.Update(3, 4, t0.Add(2*time.Minute+40*time.Second))
	a.Finalize(t0.Add(3 * time.Minute))

	hist := a.History(3)
	require.Len(t, hist, 3)
	assert.Equal(t, t0.Add(time.Minute), hist[1].Timestamp)
	assert.Equal(t, t0.Add(2*time.Minute), hist[2].Timestamp)
	assert.Equal(t, 4.0, hist[2].Close)
}

func TestAggregator_AmendLateTick(t *testing.T) {
	a := New(time.Minute, 10)
	t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)
	a.Update(3, 100, t0.Add(10*time.Second))
	a.Finalize(t0.Add(time.Minute))

	assert.False(t, a.Amend(3, t0.Add(-time.Minute), 90), "only the latest bucket is amended")
	assert.False(t, a.Amend(9, t0, 90))
	require.True(t, a.Amend(3, t0, 104))

	hist := a.History(3)
	require.Len(t, hist, 1)
	assert.Equal(t, 104.0, hist[0].High)
	assert.Equal(t, 104.0, hist[0].Close)
	assert.Equal(t, int64(2), hist[0].Volume)

	cur, _ := a.Current(3)
	assert.Equal(t, 100.0, cur.Close, "open candle untouched")
	p, _ := a.LastPrice(3)
	assert.Equal(t, 100.0, p)
}

func seedCandles(t0 time.Time) []models.Candle {
	return []models.Candle{
		{Timestamp: t0, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: t0.Add(time.Minute), Open: 2, High: 2, Low: 2, Close: 2},
		{Timestamp: t0.Add(2 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3},
	}
}

func TestAlign(t *testing.T) {
	ts := time.Date(2024, 5, 6, 9, 29, 59, 0, ist)
	assert.Equal(t, time.Date(2024, 5, 6, 9, 15, 0, 0, ist), Align(ts, 15*time.Minute, ist))
	assert.Equal(t, time.Date(2024, 5, 6, 9, 30, 0, 0, ist), NextBoundary(ts, 15*time.Minute, ist))
	assert.Equal(t, time.Date(2024, 5, 6, 9, 0, 0, 0, ist), Align(ts, time.Hour, ist),
		"hourly buckets align to local hour, not UTC")
}

// Feature: candle-aggregation, Property 1: Finalization is idempotent per boundary
//
// Property: Finalizing the same boundary twice without an intervening tick
// does not duplicate history entries.
func TestProperty_FinalizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("repeat finalize adds nothing", prop.ForAll(
		func(prices []float64, repeats int) bool {
			a := New(time.Minute, 50)
			t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)
			for _, p := range prices {
				a.Update(1, p, t0)
			}
			boundary := t0.Add(time.Minute)
			a.Finalize(boundary)
			before := len(a.History(1))
			for i := 0; i < repeats; i++ {
				if out := a.Finalize(boundary); out != nil {
					return false
				}
			}
			return len(a.History(1)) == before
		},
		gen.SliceOf(gen.Float64Range(1, 1000)),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// Feature: candle-aggregation, Property 2: Closed candles are well-formed
//
// Property: Every finalized candle satisfies High >= max(Open, Close) and
// Low <= min(Open, Close).
func TestProperty_ClosedCandleOHLC(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("OHLC invariant holds", prop.ForAll(
		func(prices []float64) bool {
			a := New(time.Minute, 50)
			t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, ist)
			for i, p := range prices {
				a.Update(1, p, t0)
				if i%3 == 2 {
					a.Finalize(t0.Add(time.Duration(i+1) * time.Minute))
				}
			}
			for _, c := range a.History(1) {
				if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(1, 1000)),
	))

	properties.TestingRun(t)
}
