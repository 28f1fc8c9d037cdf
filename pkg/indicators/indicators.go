// Package indicators provides moving-average indicators over outcome series.
package indicators

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// DefaultTrendPeriod number of most recent outcomes smoothed by Trend.
const DefaultTrendPeriod = 20

// CalculateEMA calculates the Exponential Moving Average for the given period.
// The result is shorter than the input by the indicator warmup; it is empty when
// the input has fewer than period values.
func CalculateEMA(values []float64, period int) []float64 {
	if period < 1 || len(values) < period {
		return nil
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	inputChan := helper.SliceToChan(values)
	outputChan := ema.Compute(inputChan)

	return helper.ChanToSlice(outputChan)
}

// Trend returns the latest EMA value of the series. Series shorter than the period
// fall back to the plain mean so a sparse agent still reports a trend.
func Trend(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}

	ema := CalculateEMA(values, period)
	if len(ema) > 0 {
		return ema[len(ema)-1]
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}
