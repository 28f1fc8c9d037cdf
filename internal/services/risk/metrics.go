// Package risk computes tail and path risk statistics over realized PnL series in bps.
// Every function tolerates empty or short input and returns zero instead of failing.
package risk

import (
	"math"
	"sort"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/pkg/indicators"
)

const (
	// DefaultAlpha confidence level of VaR/CVaR.
	DefaultAlpha = 0.95
	// MinTailSample smallest sample for which VaR/CVaR are defined.
	MinTailSample = 3
	// TradingDays annualization base of the Sortino ratio.
	TradingDays = 252
)

// VaRCVaR returns value-at-risk and conditional value-at-risk of the left tail.
// Values are sorted ascending, VaR is the value at floor((1-alpha)*n) and CVaR is the
// mean of every value up to and including that index.
func VaRCVaR(values []float64, alpha float64) (valueAtRisk, conditional float64) {
	n := len(values)
	if n < MinTailSample {
		return 0, 0
	}

	sorted := sortedCopy(values)
	idx := int(math.Floor((1 - alpha) * float64(n)))
	idx = clampIndex(idx, n)

	var sum float64
	for _, v := range sorted[:idx+1] {
		sum += v
	}

	return sorted[idx], sum / float64(idx+1)
}

// CVaR shortcut for the conditional part of VaRCVaR.
func CVaR(values []float64, alpha float64) float64 {
	_, c := VaRCVaR(values, alpha)
	return c
}

// UpperTailMean mean of the values at or above the alpha quantile, used for error
// distributions where the right tail is the bad one. Empty input returns zero.
func UpperTailMean(values []float64, alpha float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := sortedCopy(values)
	cutoff := clampIndex(int(math.Floor(float64(n)*alpha)), n)

	return mean(sorted[cutoff:])
}

// MaxDrawdown largest peak-to-trough decline of the cumulative sum, as a positive magnitude.
// The peak starts at zero so an initial loss counts as drawdown.
func MaxDrawdown(values []float64) float64 {
	var cumulative, peak, maxDD float64
	for _, v := range values {
		cumulative += v
		peak = math.Max(peak, cumulative)
		maxDD = math.Max(maxDD, peak-cumulative)
	}
	return maxDD
}

// CurrentDrawdown distance of the final cumulative sum below its running peak.
func CurrentDrawdown(values []float64) float64 {
	var cumulative, peak float64
	for _, v := range values {
		cumulative += v
		peak = math.Max(peak, cumulative)
	}
	return peak - cumulative
}

// Volatility population standard deviation of the per-outcome values.
func Volatility(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stddev(values)
}

// DownsideDeviation standard deviation of the negative values only.
func DownsideDeviation(values []float64) float64 {
	neg := make([]float64, 0, len(values))
	for _, v := range values {
		if v < 0 {
			neg = append(neg, v)
		}
	}
	if len(neg) == 0 {
		return 0
	}
	return stddev(neg)
}

// SortinoRatio annualized mean return over downside deviation.
func SortinoRatio(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	dd := DownsideDeviation(values)
	if dd == 0 {
		return 0
	}
	return mean(values) / dd * math.Sqrt(TradingDays)
}

// CalmarRatio cumulative return over max drawdown.
func CalmarRatio(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	dd := MaxDrawdown(values)
	if dd == 0 {
		return 0
	}
	return sum(values) / dd
}

// SharpeApprox annualized mean over volatility of per-outcome values.
func SharpeApprox(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	std := stddev(values)
	if std == 0 {
		return 0
	}
	return mean(values) / std * math.Sqrt(TradingDays)
}

// Snapshot computes every metric of a series.
func Snapshot(values []float64) domain.RiskSnapshot {
	valueAtRisk, conditional := VaRCVaR(values, DefaultAlpha)

	return domain.RiskSnapshot{
		VaR95:             valueAtRisk,
		CVaR95:            conditional,
		MaxDrawdown:       MaxDrawdown(values),
		Volatility:        Volatility(values),
		DownsideDeviation: DownsideDeviation(values),
		Sortino:           SortinoRatio(values),
		Calmar:            CalmarRatio(values),
		PnLTrend:          indicators.Trend(values, indicators.DefaultTrendPeriod),
	}
}

// Mean arithmetic mean, zero for empty input.
func Mean(values []float64) float64 {
	return mean(values)
}

// Sum plain sum of the values.
func Sum(values []float64) float64 {
	return sum(values)
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

func stddev(values []float64) float64 {
	avg := mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	return math.Sqrt(variance / float64(len(values)))
}
