// Package indicators provides technical indicator calculations.
package indicators

import (
	"zerodha-strategy/internal/models"
)

// Params configures the indicators recomputed each candle cycle.
type Params struct {
	BollingerPeriod int
	BollingerWidth  float64
	RSIPeriod       int
	ATRPeriod       int
}

// DefaultParams returns the stock 20/2, 14, 14 setup.
func DefaultParams() Params {
	return Params{
		BollingerPeriod: 20,
		BollingerWidth:  2,
		RSIPeriod:       14,
		ATRPeriod:       14,
	}
}

// Value is an indicator reading that may be unavailable.
type Value struct {
	V  float64 `json:"value"`
	OK bool    `json:"ok"`
}

func valueOf(v float64, err error) Value {
	if err != nil {
		return Value{}
	}
	return Value{V: v, OK: true}
}

// Bands is a Bollinger reading that may be unavailable.
type Bands struct {
	BollingerBands
	OK bool `json:"ok"`
}

// Snapshot is the full set of derived indicator values for one instrument.
type Snapshot struct {
	SMA       Value `json:"sma"`
	StdDev    Value `json:"std_dev"`
	Bollinger Bands `json:"bollinger"`
	RSI       Value `json:"rsi"`
	ATR       Value `json:"atr"`
}

// Engine recomputes snapshots from a candle history.
type Engine struct {
	params Params
}

// NewEngine creates a new indicator engine.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// Params returns the engine configuration.
func (e *Engine) Params() Params {
	return e.params
}

// Compute derives a snapshot from candles. Each field is independently
// available or not; nothing here fails.
func (e *Engine) Compute(candles []models.Candle) Snapshot {
	closes := ClosePrices(candles)
	p := e.params

	var snap Snapshot
	snap.SMA = valueOf(SMA(closes, p.BollingerPeriod))
	snap.StdDev = valueOf(StdDev(closes, p.BollingerPeriod))
	if bb, err := Bollinger(closes, p.BollingerPeriod, p.BollingerWidth); err == nil {
		snap.Bollinger = Bands{BollingerBands: bb, OK: true}
	}
	snap.RSI = valueOf(RSI(closes, p.RSIPeriod))
	snap.ATR = valueOf(ATR(candles, p.ATRPeriod))
	return snap
}
