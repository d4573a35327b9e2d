package indicator

import "math"

// SMA returns the simple moving average of the last period values.
// Returns 0 when the series is shorter than period or period <= 0.
func SMA(series []float64, period int) float64 {
	if period <= 0 || len(series) < period {
		return 0
	}
	sum := 0.0
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// RSI returns the relative strength index over the last period deltas,
// in [0, 100]. A series without losses yields 100.
func RSI(series []float64, period int) float64 {
	if period <= 0 || len(series) < period+1 {
		return 50
	}
	window := series[len(series)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// Bollinger returns the upper, middle and lower Bollinger Bands for the
// last period values with k standard deviations. All zero when the series
// is too short.
func Bollinger(series []float64, period int, k float64) (upper, middle, lower float64) {
	if period <= 0 || len(series) < period {
		return 0, 0, 0
	}
	middle = SMA(series, period)
	var sumSq float64
	for _, v := range series[len(series)-period:] {
		d := v - middle
		sumSq += d * d
	}
	sigma := math.Sqrt(sumSq / float64(period))
	return middle + k*sigma, middle, middle - k*sigma
}
