package indicators

import (
	"errors"
	"math"

	"zerodha-strategy/internal/models"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	// Callers treat it as "unavailable" and skip signal evaluation for the cycle.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
)

// sum calculates the sum of a slice of float64.
func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean calculates the arithmetic mean of a slice of float64.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// stdDev calculates the population standard deviation of a slice of float64.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// tail returns the last n values, or ErrInsufficientData.
func tail(values []float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(values) < n {
		return nil, ErrInsufficientData
	}
	return values[len(values)-n:], nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// trueRange calculates the true range for a candle. A bar with any
// non-finite input contributes zero.
func trueRange(current, previous models.Candle) float64 {
	if !finite(current.High, current.Low, previous.Close) {
		return 0
	}
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

// ClosePrices extracts close prices from candles.
func ClosePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}
