package candles

import (
	"sync"
	"time"

	"zerodha-strategy/internal/clock"
)

// Scheduler delivers candle boundaries. The returned stop func releases the
// schedule; after it returns no further boundaries are delivered.
type Scheduler interface {
	Every(interval time.Duration) (<-chan time.Time, func())
}

// Align floors t to the start of its interval bucket, measured from local
// midnight in loc rather than from process start.
func Align(t time.Time, interval time.Duration, loc *time.Location) time.Time {
	if interval <= 0 {
		return t
	}
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	elapsed := lt.Sub(midnight)
	return midnight.Add(elapsed - elapsed%interval)
}

// NextBoundary returns the first aligned boundary strictly after t.
func NextBoundary(t time.Time, interval time.Duration, loc *time.Location) time.Time {
	return Align(t, interval, loc).Add(interval)
}

// AlignedScheduler fires at every wall-clock aligned boundary.
type AlignedScheduler struct {
	Clock    clock.Clock
	Location *time.Location
}

// NewAlignedScheduler creates a scheduler aligned in loc.
func NewAlignedScheduler(loc *time.Location) *AlignedScheduler {
	return &AlignedScheduler{Clock: clock.System{}, Location: loc}
}

// Every starts a goroutine that sleeps until each next boundary and sends
// the boundary time. Slow receivers miss boundaries rather than queue them.
func (s *AlignedScheduler) Every(interval time.Duration) (<-chan time.Time, func()) {
	ch := make(chan time.Time, 1)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			next := NextBoundary(s.Clock.Now(), interval, s.Location)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-done:
				timer.Stop()
				return
			case <-timer.C:
				select {
				case ch <- next:
				default:
				}
			}
		}
	}()

	return ch, func() { once.Do(func() { close(done) }) }
}

// ManualScheduler delivers boundaries only when Fire is called.
type ManualScheduler struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

// NewManualScheduler creates a scheduler driven by Fire.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

// Every returns the fire channel. interval is ignored.
func (s *ManualScheduler) Every(time.Duration) (<-chan time.Time, func()) {
	return s.ch, func() { s.once.Do(func() { close(s.stopped) }) }
}

// Fire delivers a boundary and blocks until it is received or the schedule
// is stopped. It reports whether the boundary was delivered.
func (s *ManualScheduler) Fire(boundary time.Time) bool {
	select {
	case s.ch <- boundary:
		return true
	case <-s.stopped:
		return false
	}
}
