package indicators

// SMA returns the arithmetic mean of the last period closes.
func SMA(closes []float64, period int) (float64, error) {
	window, err := tail(closes, period)
	if err != nil {
		return 0, err
	}
	return mean(window), nil
}
