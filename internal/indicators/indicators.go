// Package indicators provides the rolling statistics used by the pipeline
// phases. All functions operate on chronologically ordered series (oldest
// first) and return 0 when the series is too short.
package indicators

import "math"

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// StdDev returns the population standard deviation of the last period values.
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	mean := SMA(values, period)
	sumSq := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(period))
}

// PercentChange returns the percent change from the value lookback entries
// ago to the last value.
func PercentChange(values []float64, lookback int) float64 {
	n := len(values)
	if lookback <= 0 || n < lookback+1 {
		return 0
	}
	prev := values[n-1-lookback]
	if prev == 0 {
		return 0
	}
	return (values[n-1] - prev) / prev * 100
}

// ATR returns the average true range over the last period bars.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}
