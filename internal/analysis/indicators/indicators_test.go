package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
)

func TestRSI_InsufficientCloses(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 12, 13, 14, 15, 16, 17, 18}

	_, err := RSI(closes, 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRSI_KnownValue(t *testing.T) {
	// Deltas over the last 4: +2, -1, +1, -2 => gains 3, losses 3 => RSI 50.
	closes := []float64{100, 102, 101, 102, 100}

	v, err := RSI(closes, 4)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-9)
}

func TestRSI_NoLossesSaturates(t *testing.T) {
	v, err := RSI([]float64{1, 1, 1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestSMAAndStdDev(t *testing.T) {
	closes := []float64{99, 2, 4, 4, 4, 5, 5, 7, 9}

	sma, err := SMA(closes, 8)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, sma, 1e-12)

	sd, err := StdDev(closes, 8)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sd, 1e-12)

	bb, err := Bollinger(closes, 8, 2)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, bb.Upper, 1e-12)
	assert.InDelta(t, 1.0, bb.Lower, 1e-12)

	_, err = SMA(closes, 10)
	assert.ErrorIs(t, err, ErrInsufficientData)
	_, err = SMA(closes, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestATR(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	candles := []models.Candle{
		{Timestamp: base, Open: 10, High: 11, Low: 9, Close: 10},
		{Timestamp: base.Add(time.Minute), Open: 10, High: 12, Low: 10, Close: 11},   // TR 2
		{Timestamp: base.Add(2 * time.Minute), Open: 11, High: 11, Low: 8, Close: 9}, // TR 3
		{Timestamp: base.Add(3 * time.Minute), Open: 9, High: 13, Low: 9, Close: 12}, // TR 4
	}

	v, err := ATR(candles, 3)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v, 1e-12)

	_, err = ATR(candles, 4)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestATR_NonFiniteBarContributesZero(t *testing.T) {
	candles := []models.Candle{
		{Open: 10, High: 11, Low: 9, Close: 10},
		{Open: 10, High: math.NaN(), Low: 10, Close: 11},
		{Open: 11, High: 13, Low: 11, Close: 12},
	}

	v, err := ATR(candles, 2)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))
	// TR bar1 = 0, TR bar2 = max(2, 2, 0) = 2
	assert.InDelta(t, 1.0, v, 1e-12)
}

func TestEngineCompute_Availability(t *testing.T) {
	e := NewEngine(DefaultParams())
	candles := make([]models.Candle, 15)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = models.Candle{Open: p, High: p + 1, Low: p - 1, Close: p}
	}

	snap := e.Compute(candles)
	assert.False(t, snap.SMA.OK, "bollinger period 20 needs 20 closes")
	assert.False(t, snap.Bollinger.OK)
	assert.True(t, snap.RSI.OK)
	assert.Equal(t, 100.0, snap.RSI.V)
	assert.True(t, snap.ATR.OK)
	assert.InDelta(t, 2.0, snap.ATR.V, 1e-12)
}
