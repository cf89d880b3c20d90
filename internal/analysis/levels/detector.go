// Package levels extracts pivot-based support and resistance levels.
package levels

import (
	"math"
	"sort"
	"time"

	"zerodha-strategy/internal/models"
)

// Sensitivity is the grouping band. Absolute wins when positive, otherwise
// the band is the group's reference price times Percent/100.
type Sensitivity struct {
	Absolute float64
	Percent  float64
}

func (s Sensitivity) tolerance(reference float64) float64 {
	if s.Absolute > 0 {
		return s.Absolute
	}
	return math.Abs(reference) * s.Percent / 100
}

// Config controls pivot detection and grouping.
type Config struct {
	Window            int // bars on each side for pivot confirmation
	Sensitivity       Sensitivity
	StrengthThreshold int
}

// DefaultConfig returns a two-bar window with a 0.5% band and two touches.
func DefaultConfig() Config {
	return Config{
		Window:            2,
		Sensitivity:       Sensitivity{Percent: 0.5},
		StrengthThreshold: 2,
	}
}

// Pivot is a local extremum candle.
type Pivot struct {
	Index int
	Price float64
	Kind  models.LevelKind
	Time  time.Time
}

// Detector recomputes levels wholesale from a candle history.
type Detector struct {
	cfg Config
}

// NewDetector creates a level detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	if cfg.StrengthThreshold <= 0 {
		cfg.StrengthThreshold = 1
	}
	return &Detector{cfg: cfg}
}

// Detect returns supports and resistances, each sorted by ascending price.
// Kind is assigned from pivot shape only; callers filter by current price.
func (d *Detector) Detect(candles []models.Candle) models.Levels {
	pivots := FindPivots(candles, d.cfg.Window)
	grouped := Group(pivots, d.cfg.Sensitivity, d.cfg.StrengthThreshold)

	var out models.Levels
	for _, l := range grouped {
		if l.Kind == models.LevelSupport {
			out.Supports = append(out.Supports, l)
		} else {
			out.Resistances = append(out.Resistances, l)
		}
	}
	return out
}

// FindPivots returns pivot lows and highs using a strict comparison against
// window neighbours on each side. Fewer than 2*window+1 candles yields none.
func FindPivots(candles []models.Candle, window int) []Pivot {
	n := len(candles)
	if window <= 0 || n < 2*window+1 {
		return nil
	}

	var pivots []Pivot
	for i := window; i < n-window; i++ {
		isPivotHigh := true
		for j := 1; j <= window; j++ {
			if candles[i].High <= candles[i-j].High || candles[i].High <= candles[i+j].High {
				isPivotHigh = false
				break
			}
		}
		if isPivotHigh {
			pivots = append(pivots, Pivot{Index: i, Price: candles[i].High, Kind: models.LevelResistance, Time: candles[i].Timestamp})
		}

		isPivotLow := true
		for j := 1; j <= window; j++ {
			if candles[i].Low >= candles[i-j].Low || candles[i].Low >= candles[i+j].Low {
				isPivotLow = false
				break
			}
		}
		if isPivotLow {
			pivots = append(pivots, Pivot{Index: i, Price: candles[i].Low, Kind: models.LevelSupport, Time: candles[i].Timestamp})
		}
	}
	return pivots
}

type group struct {
	kind      models.LevelKind
	reference float64
	total     float64
	members   int
	lastTouch time.Time
}

func (g *group) level() models.Level {
	return models.Level{
		Price:     g.total / float64(g.members),
		Kind:      g.kind,
		Strength:  g.members,
		LastTouch: g.lastTouch,
	}
}

// Group merges pivots of the same kind whose price is within the
// sensitivity band of the group's first (lowest) member. Levels below
// threshold strength are dropped. Input order does not affect the result:
// pivots are sorted by kind, price, time and index before grouping.
func Group(pivots []Pivot, sens Sensitivity, threshold int) []models.Level {
	if len(pivots) == 0 {
		return nil
	}

	sorted := make([]Pivot, len(pivots))
	copy(sorted, pivots)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Kind != b.Kind {
			return a.Kind == models.LevelSupport
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Index < b.Index
	})

	var levels []models.Level
	flush := func(g *group) {
		if g != nil && g.members >= threshold {
			levels = append(levels, g.level())
		}
	}

	var cur *group
	for _, p := range sorted {
		if cur != nil && cur.kind == p.Kind && math.Abs(p.Price-cur.reference) <= sens.tolerance(cur.reference) {
			cur.total += p.Price
			cur.members++
			if p.Time.After(cur.lastTouch) {
				cur.lastTouch = p.Time
			}
			continue
		}
		flush(cur)
		cur = &group{kind: p.Kind, reference: p.Price, total: p.Price, members: 1, lastTouch: p.Time}
	}
	flush(cur)

	return levels
}

// NearestAtOrBelow returns the level closest to price with Price <= price.
// Equal distances keep price-sorted order.
func NearestAtOrBelow(levels []models.Level, price float64) (models.Level, bool) {
	return nearest(levels, price, func(l models.Level) bool { return l.Price <= price })
}

// NearestAtOrAbove returns the level closest to price with Price >= price.
func NearestAtOrAbove(levels []models.Level, price float64) (models.Level, bool) {
	return nearest(levels, price, func(l models.Level) bool { return l.Price >= price })
}

// NearestBelow returns the level closest to price with Price < price.
func NearestBelow(levels []models.Level, price float64) (models.Level, bool) {
	return nearest(levels, price, func(l models.Level) bool { return l.Price < price })
}

// NearestAbove returns the level closest to price with Price > price.
func NearestAbove(levels []models.Level, price float64) (models.Level, bool) {
	return nearest(levels, price, func(l models.Level) bool { return l.Price > price })
}

func nearest(levels []models.Level, price float64, keep func(models.Level) bool) (models.Level, bool) {
	var best models.Level
	found := false
	bestDist := math.MaxFloat64
	for _, l := range levels {
		if !keep(l) {
			continue
		}
		if dist := math.Abs(l.Price - price); dist < bestDist {
			best, bestDist, found = l, dist, true
		}
	}
	return best, found
}
