package indicators

import (
	"zerodha-strategy/internal/models"
)

// StdDev returns the population standard deviation of the last period closes.
func StdDev(closes []float64, period int) (float64, error) {
	window, err := tail(closes, period)
	if err != nil {
		return 0, err
	}
	return stdDev(window), nil
}

// BollingerBands holds the three bands for the latest bar.
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger calculates Bollinger Bands as SMA ± width·StdDev.
func Bollinger(closes []float64, period int, width float64) (BollingerBands, error) {
	mid, err := SMA(closes, period)
	if err != nil {
		return BollingerBands{}, err
	}
	sd, err := StdDev(closes, period)
	if err != nil {
		return BollingerBands{}, err
	}
	return BollingerBands{
		Upper:  mid + width*sd,
		Middle: mid,
		Lower:  mid - width*sd,
	}, nil
}

// ATR calculates the Average True Range as the plain mean of the last
// period true ranges. It needs period+1 candles so the first bar has a
// previous close.
func ATR(candles []models.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	n := len(candles)
	var total float64
	for i := n - period; i < n; i++ {
		total += trueRange(candles[i], candles[i-1])
	}
	return total / float64(period), nil
}
