// Package technical computes per-timeframe technical scores and combines
// them across timeframes into one directional score.
package technical

import (
	"math"
)

const (
	// rsiPeriod is the relative strength index lookback.
	rsiPeriod = 14
	// macdFastSpan, macdSlowSpan and macdSignalSpan are the MACD ema spans.
	macdFastSpan   = 12
	macdSlowSpan   = 26
	macdSignalSpan = 9
	// bollingerPeriod and bollingerWidth parameterize the bollinger bands.
	bollingerPeriod = 20
	bollingerWidth  = 2.0
	// fastTrendSpan and slowTrendSpan are the trend ema spans.
	fastTrendSpan = 20
	slowTrendSpan = 50
	// pivotWindow is the half-width used to confirm a pivot high or low.
	pivotWindow = 2
	// pivotLookback is the number of trailing candles scanned for pivots.
	pivotLookback = 50
	// proximityThreshold is the relative distance under which price is
	// considered at a support or resistance level.
	proximityThreshold = 0.001
)

// clamp bounds the provided value to [min, max].
func clamp(value float64, min float64, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}

// ema computes an exponential moving average series with alpha 2/(span+1),
// seeded from the first value.
func ema(values []float64, span int) []float64 {
	if len(values) == 0 {
		return nil
	}

	alpha := 2.0 / (float64(span) + 1)
	series := make([]float64, len(values))
	series[0] = values[0]
	for idx := 1; idx < len(values); idx++ {
		series[idx] = alpha*values[idx] + (1-alpha)*series[idx-1]
	}

	return series
}

// sma computes the simple moving average of the trailing period.
func sma(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}

	var sum float64
	for idx := len(values) - period; idx < len(values); idx++ {
		sum += values[idx]
	}

	return sum / float64(period)
}

// stddev computes the sample standard deviation of the trailing period.
func stddev(values []float64, period int) float64 {
	if len(values) < period || period <= 1 {
		return 0
	}

	mean := sma(values, period)
	var sum float64
	for idx := len(values) - period; idx < len(values); idx++ {
		diff := values[idx] - mean
		sum += diff * diff
	}

	return math.Sqrt(sum / float64(period-1))
}

// rsi computes the relative strength index over the trailing period using a
// simple mean of gains and losses.
func rsi(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50
	}

	var gains, losses float64
	for idx := len(values) - period; idx < len(values); idx++ {
		delta := values[idx] - values[idx-1]
		switch {
		case delta > 0:
			gains += delta
		default:
			losses -= delta
		}
	}

	if losses == 0 {
		return 100
	}

	rs := gains / losses
	return 100 - (100 / (1 + rs))
}

// macd computes the MACD line, signal line and histogram for the latest value.
func macd(values []float64) (float64, float64, float64) {
	fast := ema(values, macdFastSpan)
	slow := ema(values, macdSlowSpan)

	line := make([]float64, len(values))
	for idx := range values {
		line[idx] = fast[idx] - slow[idx]
	}

	signal := ema(line, macdSignalSpan)
	last := len(values) - 1

	return line[last], signal[last], line[last] - signal[last]
}

// bollinger computes the upper, middle and lower bollinger bands for the
// latest value.
func bollinger(values []float64) (float64, float64, float64) {
	middle := sma(values, bollingerPeriod)
	dev := stddev(values, bollingerPeriod)

	return middle + dev*bollingerWidth, middle, middle - dev*bollingerWidth
}
