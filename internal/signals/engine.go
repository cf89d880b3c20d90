// Package signals evaluates entry and exit rules for option positions.
package signals

import (
	"fmt"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/analysis/levels"
	"zerodha-strategy/internal/models"
)

// Rule names an entry rule.
type Rule string

const (
	RuleBollingerRSI Rule = "Bollinger+RSI"
	RuleBreakout     Rule = "S/R Breakout"
)

// ForcedExitShutdown is the exit reason used by the shutdown sweep.
const ForcedExitShutdown = "Forced Exit (Shutdown)"

// Config holds signal thresholds.
type Config struct {
	RSIBullThreshold float64
	RSIBearThreshold float64
	SLMultiplier     float64
	TPMultiplier     float64

	LevelsEnabled        bool
	BreakoutConfirmation int // trailing closes that must confirm a breakout

	DefaultQuantity int
}

// DefaultConfig returns the default signal configuration.
func DefaultConfig() Config {
	return Config{
		RSIBullThreshold:     60,
		RSIBearThreshold:     40,
		SLMultiplier:         1.5,
		TPMultiplier:         2.0,
		LevelsEnabled:        true,
		BreakoutConfirmation: 2,
		DefaultQuantity:      50,
	}
}

// EntryInput is everything an entry decision reads.
type EntryInput struct {
	Price      float64
	OptionType models.OptionType
	Snapshot   indicators.Snapshot
	Levels     models.Levels
	Closes     []float64 // closed candle closes, oldest first
	Quantity   int       // 0 uses the configured default
}

// Decision is a fired entry.
type Decision struct {
	Rule       Rule
	Reason     string
	OptionType models.OptionType
	Price      float64
	Quantity   int
	StopLoss   float64
	TakeProfit float64
}

// Engine evaluates entry and exit rules. It holds no per-instrument state.
type Engine struct {
	cfg Config
}

// NewEngine creates a signal engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// EvaluateEntry runs the entry rules in priority order and returns the first
// that fires. Nothing fires for an underlying, for a non-positive quantity,
// or when ATR is unavailable.
func (e *Engine) EvaluateEntry(in EntryInput) (*Decision, bool) {
	if !in.OptionType.IsOption() {
		return nil, false
	}
	qty := in.Quantity
	if qty == 0 {
		qty = e.cfg.DefaultQuantity
	}
	if qty <= 0 {
		return nil, false
	}
	if !in.Snapshot.ATR.OK {
		return nil, false
	}

	rule, reason, ok := e.bollingerRSI(in)
	if !ok && e.cfg.LevelsEnabled {
		rule, reason, ok = e.breakout(in)
	}
	if !ok {
		return nil, false
	}

	sl, tp := Stops(in.Price, in.Snapshot.ATR.V, in.OptionType, e.cfg.SLMultiplier, e.cfg.TPMultiplier)
	if e.cfg.LevelsEnabled {
		tp = OverrideTarget(in.Price, tp, in.OptionType, in.Levels)
	}

	return &Decision{
		Rule:       rule,
		Reason:     reason,
		OptionType: in.OptionType,
		Price:      in.Price,
		Quantity:   qty,
		StopLoss:   sl,
		TakeProfit: tp,
	}, true
}

func (e *Engine) bollingerRSI(in EntryInput) (Rule, string, bool) {
	bb, rsi := in.Snapshot.Bollinger, in.Snapshot.RSI
	if !bb.OK || !rsi.OK {
		return "", "", false
	}
	switch in.OptionType {
	case models.OptionCE:
		if in.Price > bb.Upper && rsi.V > e.cfg.RSIBullThreshold {
			return RuleBollingerRSI, fmt.Sprintf("Bollinger+RSI (price %.2f > upper %.2f, RSI %.1f)", in.Price, bb.Upper, rsi.V), true
		}
	case models.OptionPE:
		if in.Price < bb.Lower && rsi.V < e.cfg.RSIBearThreshold {
			return RuleBollingerRSI, fmt.Sprintf("Bollinger+RSI (price %.2f < lower %.2f, RSI %.1f)", in.Price, bb.Lower, rsi.V), true
		}
	}
	return "", "", false
}

// breakout fires when price has crossed the nearest relevant level: the
// last N closes all sit on the breakout side of it and the close before
// them did not. A trend that was already through the level does not fire.
func (e *Engine) breakout(in EntryInput) (Rule, string, bool) {
	n := e.cfg.BreakoutConfirmation
	if n < 1 {
		n = 1
	}
	if len(in.Closes) < n+1 {
		return "", "", false
	}
	recent := in.Closes[len(in.Closes)-n:]
	prior := in.Closes[len(in.Closes)-n-1]

	switch in.OptionType {
	case models.OptionCE:
		lvl, ok := levels.NearestAtOrBelow(in.Levels.Resistances, in.Price)
		if !ok || prior > lvl.Price || !allAbove(recent, lvl.Price) {
			return "", "", false
		}
		return RuleBreakout, fmt.Sprintf("Resistance Breakout @ %.2f (strength %d)", lvl.Price, lvl.Strength), true
	case models.OptionPE:
		lvl, ok := levels.NearestAtOrAbove(in.Levels.Supports, in.Price)
		if !ok || prior < lvl.Price || !allBelow(recent, lvl.Price) {
			return "", "", false
		}
		return RuleBreakout, fmt.Sprintf("Support Breakdown @ %.2f (strength %d)", lvl.Price, lvl.Strength), true
	}
	return "", "", false
}

func allAbove(closes []float64, level float64) bool {
	for _, c := range closes {
		if c <= level {
			return false
		}
	}
	return true
}

func allBelow(closes []float64, level float64) bool {
	for _, c := range closes {
		if c >= level {
			return false
		}
	}
	return true
}

// Stops returns the ATR stop-loss and take-profit for an entry. CE stops sit
// below entry with the target above; PE is mirrored.
func Stops(entry, atr float64, opt models.OptionType, slMult, tpMult float64) (stopLoss, takeProfit float64) {
	sign := opt.Sign()
	return entry - sign*slMult*atr, entry + sign*tpMult*atr
}

// OverrideTarget replaces tp with the nearest opposing level beyond entry in
// the favourable direction, when one exists.
func OverrideTarget(entry, tp float64, opt models.OptionType, lv models.Levels) float64 {
	switch opt {
	case models.OptionCE:
		if l, ok := levels.NearestAbove(lv.Resistances, entry); ok {
			return l.Price
		}
	case models.OptionPE:
		if l, ok := levels.NearestBelow(lv.Supports, entry); ok {
			return l.Price
		}
	}
	return tp
}

// EvaluateExit checks the position's stop and target at price.
func EvaluateExit(pos models.Position, price float64) (string, bool) {
	switch pos.OptionType {
	case models.OptionPE:
		if price >= pos.StopLoss {
			return "StopLoss Hit (PE)", true
		}
		if price <= pos.TakeProfit {
			return "Target Hit (PE)", true
		}
	default:
		label := string(pos.OptionType)
		if label == "" {
			label = "CE"
		}
		if price <= pos.StopLoss {
			return fmt.Sprintf("StopLoss Hit (%s)", label), true
		}
		if price >= pos.TakeProfit {
			return fmt.Sprintf("Target Hit (%s)", label), true
		}
	}
	return "", false
}

// RealizedPnL returns the P&L of closing pos at exit.
func RealizedPnL(pos models.Position, exit float64) float64 {
	return (exit - pos.EntryPrice) * float64(pos.Quantity) * pos.OptionType.Sign()
}
