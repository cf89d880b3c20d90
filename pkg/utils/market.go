package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatus is the NSE session state.
type MarketStatus string

const (
	MarketPreOpen          MarketStatus = "PRE_OPEN"
	MarketOpen             MarketStatus = "OPEN"
	MarketMISSquareOffWarn MarketStatus = "MIS_SQUARE_OFF_WARN"
	MarketClosed           MarketStatus = "CLOSED"
)

// MarketStatusAt returns the market status at t.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return MarketPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		// MIS square-off warning: 15:00 - 15:15
		if timeMinutes >= 900 && timeMinutes < 915 {
			return MarketMISSquareOffWarn
		}
		return MarketOpen
	}

	return MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpenAt reports whether the market is open at t.
func IsMarketOpenAt(t time.Time) bool {
	status := MarketStatusAt(t)
	return status == MarketOpen || status == MarketMISSquareOffWarn
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return IsMarketOpenAt(time.Now())
}

// TradingDay returns the IST calendar date of t as YYYY-MM-DD.
func TradingDay(t time.Time) string {
	return t.In(IndiaLocation).Format("2006-01-02")
}

// NextMarketOpenAfter returns the first 9:15 IST weekday open after t.
func NextMarketOpenAfter(t time.Time) time.Time {
	now := t.In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketCloseOn returns the 15:30 IST close on t's trading day.
func MarketCloseOn(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, IndiaLocation)
}

// MISSquareOffOn returns the 15:15 IST MIS square-off on t's trading day.
func MISSquareOffOn(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 15, 15, 0, 0, IndiaLocation)
}
