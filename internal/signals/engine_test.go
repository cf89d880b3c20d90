package signals

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/models"
)

func snapshot(upper, lower, rsi, atr float64) indicators.Snapshot {
	return indicators.Snapshot{
		Bollinger: indicators.Bands{
			BollingerBands: indicators.BollingerBands{Upper: upper, Middle: (upper + lower) / 2, Lower: lower},
			OK:             true,
		},
		RSI: indicators.Value{V: rsi, OK: true},
		ATR: indicators.Value{V: atr, OK: true},
	}
}

func TestStops_ScenarioB(t *testing.T) {
	sl, tp := Stops(100, 2, models.OptionCE, 1.5, 2)
	assert.InDelta(t, 97.0, sl, 1e-9)
	assert.InDelta(t, 104.0, tp, 1e-9)

	pos := models.Position{OptionType: models.OptionCE, Quantity: 50, EntryPrice: 100, StopLoss: sl, TakeProfit: tp}
	reason, ok := EvaluateExit(pos, 96.9)
	require.True(t, ok)
	assert.Equal(t, "StopLoss Hit (CE)", reason)
	assert.InDelta(t, (96.9-100)*50, RealizedPnL(pos, 96.9), 1e-9)
}

func TestStops_PEMirrored(t *testing.T) {
	sl, tp := Stops(100, 2, models.OptionPE, 1.5, 2)
	assert.InDelta(t, 103.0, sl, 1e-9)
	assert.InDelta(t, 96.0, tp, 1e-9)

	pos := models.Position{OptionType: models.OptionPE, Quantity: 10, EntryPrice: 100, StopLoss: sl, TakeProfit: tp}

	reason, ok := EvaluateExit(pos, 103)
	require.True(t, ok)
	assert.Equal(t, "StopLoss Hit (PE)", reason)

	reason, ok = EvaluateExit(pos, 95.5)
	require.True(t, ok)
	assert.Equal(t, "Target Hit (PE)", reason)
	assert.InDelta(t, 45.0, RealizedPnL(pos, 95.5), 1e-9)

	_, ok = EvaluateExit(pos, 100)
	assert.False(t, ok)
}

func TestEvaluateExit_CETarget(t *testing.T) {
	pos := models.Position{OptionType: models.OptionCE, Quantity: 1, EntryPrice: 100, StopLoss: 97, TakeProfit: 104}
	reason, ok := EvaluateExit(pos, 104)
	require.True(t, ok)
	assert.Equal(t, "Target Hit (CE)", reason)
}

func TestEvaluateEntry_BollingerRSI(t *testing.T) {
	e := NewEngine(Config{RSIBullThreshold: 60, RSIBearThreshold: 40, SLMultiplier: 1.5, TPMultiplier: 2, DefaultQuantity: 50})

	d, ok := e.EvaluateEntry(EntryInput{Price: 111, OptionType: models.OptionCE, Snapshot: snapshot(110, 90, 65, 2)})
	require.True(t, ok)
	assert.Equal(t, RuleBollingerRSI, d.Rule)
	assert.Equal(t, 50, d.Quantity)
	assert.InDelta(t, 108.0, d.StopLoss, 1e-9)
	assert.InDelta(t, 115.0, d.TakeProfit, 1e-9)

	_, ok = e.EvaluateEntry(EntryInput{Price: 111, OptionType: models.OptionCE, Snapshot: snapshot(110, 90, 55, 2)})
	assert.False(t, ok, "RSI below bull threshold")

	d, ok = e.EvaluateEntry(EntryInput{Price: 89, OptionType: models.OptionPE, Snapshot: snapshot(110, 90, 35, 2)})
	require.True(t, ok)
	assert.Equal(t, models.OptionPE, d.OptionType)
	assert.InDelta(t, 92.0, d.StopLoss, 1e-9)
	assert.InDelta(t, 85.0, d.TakeProfit, 1e-9)
}

func TestEvaluateEntry_SkipsWithoutATR(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snap := snapshot(110, 90, 65, 2)
	snap.ATR = indicators.Value{}

	_, ok := e.EvaluateEntry(EntryInput{Price: 111, OptionType: models.OptionCE, Snapshot: snap})
	assert.False(t, ok)
}

func TestEvaluateEntry_UnderlyingNeverFires(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_, ok := e.EvaluateEntry(EntryInput{Price: 111, OptionType: models.OptionNone, Snapshot: snapshot(110, 90, 65, 2)})
	assert.False(t, ok)
}

func TestEvaluateEntry_ZeroQuantityIsSilentNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultQuantity = 0
	e := NewEngine(cfg)

	_, ok := e.EvaluateEntry(EntryInput{Price: 111, OptionType: models.OptionCE, Snapshot: snapshot(110, 90, 65, 2)})
	assert.False(t, ok)

	_, ok = NewEngine(DefaultConfig()).EvaluateEntry(EntryInput{
		Price: 111, OptionType: models.OptionCE, Snapshot: snapshot(110, 90, 65, 2), Quantity: -5,
	})
	assert.False(t, ok)
}

func TestEvaluateEntry_Breakout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakoutConfirmation = 3
	e := NewEngine(cfg)

	lv := models.Levels{
		Supports: []models.Level{{Price: 95, Kind: models.LevelSupport, Strength: 2}},
		Resistances: []models.Level{
			{Price: 100, Kind: models.LevelResistance, Strength: 3},
			{Price: 108, Kind: models.LevelResistance, Strength: 2},
		},
	}
	// Bollinger does not fire: price inside the bands.
	snap := snapshot(120, 80, 50, 2)

	d, ok := e.EvaluateEntry(EntryInput{
		Price: 102, OptionType: models.OptionCE, Snapshot: snap, Levels: lv,
		Closes: []float64{97, 101, 100.5, 101.5},
	})
	require.True(t, ok)
	assert.Equal(t, RuleBreakout, d.Rule)
	assert.InDelta(t, 99.0, d.StopLoss, 1e-9)
	assert.Equal(t, 108.0, d.TakeProfit, "target overridden by nearest resistance above entry")

	_, ok = e.EvaluateEntry(EntryInput{
		Price: 102, OptionType: models.OptionCE, Snapshot: snap, Levels: lv,
		Closes: []float64{98, 101, 99.5, 101.5},
	})
	assert.False(t, ok, "one close back under the level")

	_, ok = e.EvaluateEntry(EntryInput{
		Price: 102, OptionType: models.OptionCE, Snapshot: snap, Levels: lv,
		Closes: []float64{100.8, 101, 100.5, 101.5},
	})
	assert.False(t, ok, "already above the level before the confirming closes")

	_, ok = e.EvaluateEntry(EntryInput{
		Price: 102, OptionType: models.OptionCE, Snapshot: snap, Levels: lv,
		Closes: []float64{99, 101, 101.5},
	})
	assert.False(t, ok, "fewer closes than confirmations plus the crossing close")

	d, ok = e.EvaluateEntry(EntryInput{
		Price: 94, OptionType: models.OptionPE, Snapshot: snap, Levels: lv,
		Closes: []float64{96, 94.5, 94, 93.8},
	})
	require.True(t, ok)
	assert.Equal(t, RuleBreakout, d.Rule)
	assert.InDelta(t, 90.0, d.TakeProfit, 1e-9, "no support below entry keeps the ATR target")
}

func TestEvaluateEntry_BreakoutDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LevelsEnabled = false
	cfg.BreakoutConfirmation = 1
	e := NewEngine(cfg)

	lv := models.Levels{Resistances: []models.Level{{Price: 100, Kind: models.LevelResistance, Strength: 3}}}
	_, ok := e.EvaluateEntry(EntryInput{
		Price: 102, OptionType: models.OptionCE, Snapshot: snapshot(120, 80, 50, 2), Levels: lv,
		Closes: []float64{101},
	})
	assert.False(t, ok)
}

func TestEvaluateEntry_BollingerWinsOverBreakout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakoutConfirmation = 1
	e := NewEngine(cfg)

	lv := models.Levels{Resistances: []models.Level{{Price: 100, Kind: models.LevelResistance, Strength: 3}}}
	d, ok := e.EvaluateEntry(EntryInput{
		Price: 111, OptionType: models.OptionCE, Snapshot: snapshot(110, 90, 70, 2), Levels: lv,
		Closes: []float64{105},
	})
	require.True(t, ok)
	assert.Equal(t, RuleBollingerRSI, d.Rule)
}

// Feature: signal-engine, Property 1: Stops bracket the entry
//
// Property: For positive ATR and multipliers, the CE stop is below entry
// and the target above; PE is mirrored. A fresh position never exits at
// its own entry price.
func TestProperty_StopsBracketEntry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("stops bracket entry by direction", prop.ForAll(
		func(entry, atr, sl, tp float64, pe bool) bool {
			opt := models.OptionCE
			if pe {
				opt = models.OptionPE
			}
			stop, target := Stops(entry, atr, opt, sl, tp)
			pos := models.Position{OptionType: opt, Quantity: 1, EntryPrice: entry, StopLoss: stop, TakeProfit: target}
			if _, exit := EvaluateExit(pos, entry); exit {
				return false
			}
			if pe {
				return stop > entry && target < entry
			}
			return stop < entry && target > entry
		},
		gen.Float64Range(10, 1000),
		gen.Float64Range(0.1, 20),
		gen.Float64Range(0.5, 3),
		gen.Float64Range(0.5, 4),
		gen.Bool(),
	))

	properties.Property("realized pnl sign follows direction", prop.ForAll(
		func(entry, move float64, qty int, pe bool) bool {
			opt := models.OptionCE
			if pe {
				opt = models.OptionPE
			}
			pos := models.Position{OptionType: opt, Quantity: qty, EntryPrice: entry}
			pnl := RealizedPnL(pos, entry+move)
			if pe {
				return pnl*move <= 0
			}
			return pnl*move >= 0
		},
		gen.Float64Range(10, 1000),
		gen.Float64Range(-50, 50),
		gen.IntRange(1, 500),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
