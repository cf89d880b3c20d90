// Package candles rolls ticks into fixed-interval candles per instrument.
package candles

import (
	"sort"
	"time"

	"zerodha-strategy/internal/models"
)

// series holds one instrument's closed history and in-progress candle.
type series struct {
	history   []models.Candle
	open      models.Candle
	isOpen    bool // open has received a price (tick or reseed)
	lastPrice float64
	hasPrice  bool
	lastTick  time.Time
}

// Finalized is a candle closed at a boundary.
type Finalized struct {
	Token  uint32
	Candle models.Candle
}

// Aggregator owns the live candle for every tracked instrument.
// It is not safe for concurrent use; the owner serializes calls so a
// boundary never interleaves with a partially applied tick.
type Aggregator struct {
	interval     time.Duration
	maxCandles   int
	series       map[uint32]*series
	lastBoundary time.Time
}

// New creates an aggregator with the given bucket interval and history cap.
func New(interval time.Duration, maxCandles int) *Aggregator {
	return &Aggregator{
		interval:   interval,
		maxCandles: maxCandles,
		series:     make(map[uint32]*series),
	}
}

// Interval returns the bucket width.
func (a *Aggregator) Interval() time.Duration {
	return a.interval
}

// Tokens returns the tracked instrument tokens in ascending order.
func (a *Aggregator) Tokens() []uint32 {
	tokens := make([]uint32, 0, len(a.series))
	for t := range a.series {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}

// Track registers an instrument with an empty history.
func (a *Aggregator) Track(token uint32) {
	a.get(token)
}

func (a *Aggregator) get(token uint32) *series {
	s, ok := a.series[token]
	if !ok {
		s = &series{}
		a.series[token] = s
	}
	return s
}

// Update applies a traded price to the instrument's open candle.
func (a *Aggregator) Update(token uint32, price float64, ts time.Time) {
	s := a.get(token)
	if !s.isOpen {
		s.open = models.Candle{Open: price, High: price, Low: price, Close: price}
		s.isOpen = true
	} else {
		if price > s.open.High {
			s.open.High = price
		}
		if price < s.open.Low {
			s.open.Low = price
		}
		s.open.Close = price
	}
	s.open.Volume++
	s.lastPrice = price
	s.hasPrice = true
	s.lastTick = ts
}

// Finalize closes every open candle at boundary, stamping it with the
// start of the bucket that just elapsed, and reopens a flat candle at the
// last price. Calling it again for the same or an earlier boundary is a
// no-op and returns nil.
func (a *Aggregator) Finalize(boundary time.Time) []Finalized {
	if !a.lastBoundary.IsZero() && !boundary.After(a.lastBoundary) {
		return nil
	}
	a.lastBoundary = boundary
	start := boundary.Add(-a.interval)

	var out []Finalized
	for _, token := range a.Tokens() {
		s := a.series[token]
		if !s.isOpen {
			continue
		}
		closed := s.open
		closed.Timestamp = start
		// The live candle owns its bucket over any seeded candle for it.
		for n := len(s.history); n > 0 && !s.history[n-1].Timestamp.Before(start); n-- {
			s.history = s.history[:n-1]
		}
		s.history = append(s.history, closed)
		a.evict(s)
		out = append(out, Finalized{Token: token, Candle: closed})

		p := s.lastPrice
		s.open = models.Candle{Open: p, High: p, Low: p, Close: p}
	}
	return out
}

func (a *Aggregator) evict(s *series) {
	if a.maxCandles > 0 && len(s.history) > a.maxCandles {
		s.history = append(s.history[:0], s.history[len(s.history)-a.maxCandles:]...)
	}
}

// Amend folds a late price into the most recent closed candle when that
// candle is the bucket starting at bucket. The open candle and last price
// are left alone. It reports whether history changed.
func (a *Aggregator) Amend(token uint32, bucket time.Time, price float64) bool {
	s, ok := a.series[token]
	if !ok || len(s.history) == 0 {
		return false
	}
	c := &s.history[len(s.history)-1]
	if !c.Timestamp.Equal(bucket) {
		return false
	}
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume++
	return true
}

// Seed replaces an instrument's history, typically from a historical
// fetch. The live candle is left alone.
func (a *Aggregator) Seed(token uint32, candles []models.Candle) {
	s := a.get(token)
	s.history = append(s.history[:0], candles...)
	a.evict(s)
	if !s.hasPrice && len(candles) > 0 {
		s.lastPrice = candles[len(candles)-1].Close
	}
}

// History returns a copy of the closed candles, oldest first.
func (a *Aggregator) History(token uint32) []models.Candle {
	s, ok := a.series[token]
	if !ok {
		return nil
	}
	out := make([]models.Candle, len(s.history))
	copy(out, s.history)
	return out
}

// Current returns the in-progress candle, if any price has been seen.
func (a *Aggregator) Current(token uint32) (models.Candle, bool) {
	s, ok := a.series[token]
	if !ok || !s.isOpen {
		return models.Candle{}, false
	}
	return s.open, true
}

// LastPrice returns the most recent traded price.
func (a *Aggregator) LastPrice(token uint32) (float64, bool) {
	s, ok := a.series[token]
	if !ok || !s.hasPrice {
		return 0, false
	}
	return s.lastPrice, true
}
