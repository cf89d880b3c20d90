package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatIndianCurrency(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, "₹0.00"},
		{999.5, "₹999.50"},
		{1234567.891, "₹12,34,567.89"},
		{-25000, "-₹25,000.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatIndianCurrency(tt.amount))
	}

	assert.Equal(t, "+₹150.00", FormatPnL(150))
	assert.Equal(t, "-₹150.00", FormatPnL(-150))
	assert.Equal(t, "1,00,000", FormatQuantity(100000))
	assert.Equal(t, "+1.50%", FormatPercent(1.5))
}

func TestMarketStatusAt(t *testing.T) {
	// 2024-03-13 is a Wednesday.
	day := func(h, m int) time.Time {
		return time.Date(2024, 3, 13, h, m, 0, 0, IndiaLocation)
	}

	assert.Equal(t, MarketClosed, MarketStatusAt(day(8, 59)))
	assert.Equal(t, MarketPreOpen, MarketStatusAt(day(9, 5)))
	assert.Equal(t, MarketOpen, MarketStatusAt(day(9, 15)))
	assert.Equal(t, MarketMISSquareOffWarn, MarketStatusAt(day(15, 5)))
	assert.Equal(t, MarketOpen, MarketStatusAt(day(15, 20)))
	assert.Equal(t, MarketClosed, MarketStatusAt(day(15, 30)))
	assert.Equal(t, MarketClosed, MarketStatusAt(time.Date(2024, 3, 16, 11, 0, 0, 0, IndiaLocation)))

	assert.True(t, IsMarketOpenAt(day(10, 0)))
	assert.False(t, IsMarketOpenAt(day(16, 0)))
}

func TestTradingDayUsesIST(t *testing.T) {
	// 19:00 UTC is 00:30 IST the next day.
	ts := time.Date(2024, 3, 13, 19, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-14", TradingDay(ts))
}

func TestNextMarketOpenAfterSkipsWeekend(t *testing.T) {
	friday := time.Date(2024, 3, 15, 16, 0, 0, 0, IndiaLocation)
	next := NextMarketOpenAfter(friday)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 15, next.Minute())
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, BackoffFactor: 1}, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetryHonoursShouldRetry(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		ShouldRetry:  func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}, func() error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffCapped(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}
