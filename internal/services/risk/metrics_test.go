package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaRCVaR(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		alpha    float64
		wantVaR  float64
		wantCVaR float64
	}{
		{name: "empty", values: nil, alpha: 0.95},
		{name: "two values are not enough", values: []float64{-100, 50}, alpha: 0.95},
		{
			name:     "three values use the worst one",
			values:   []float64{10, -30, 20},
			alpha:    0.95,
			wantVaR:  -30,
			wantCVaR: -30,
		},
		{
			// floor(0.05*40) = 2 -> indices 0..2 of the sorted series
			name:     "tail mean includes the var index",
			values:   append([]float64{-90, -60, -30}, repeat(10, 37)...),
			alpha:    0.95,
			wantVaR:  -30,
			wantCVaR: -60,
		},
		{
			name:     "alpha of zero clamps to the last index",
			values:   []float64{1, 2, 3, 4},
			alpha:    0,
			wantVaR:  4,
			wantCVaR: 2.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, c := VaRCVaR(tt.values, tt.alpha)
			assert.InDelta(t, tt.wantVaR, v, 1e-9)
			assert.InDelta(t, tt.wantCVaR, c, 1e-9)
		})
	}
}

func TestVaRCVaR_DoesNotMutateInput(t *testing.T) {
	values := []float64{5, -1, 3}
	VaRCVaR(values, DefaultAlpha)
	assert.Equal(t, []float64{5, -1, 3}, values)
}

func TestCVaR_Monotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := 3 + rng.Intn(60)
		a := make([]float64, n)
		b := make([]float64, n)
		for j := range a {
			a[j] = rng.NormFloat64() * 80
			b[j] = a[j] - rng.Float64()*50
		}
		require.LessOrEqual(t, CVaR(b, DefaultAlpha), CVaR(a, DefaultAlpha)+1e-9, "dominated series must not have a better tail")
	}
}

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{10}))
	assert.Equal(t, 25.0, MaxDrawdown([]float64{-25}), "loss from the zero peak is drawdown")
	assert.Equal(t, 80.0, MaxDrawdown([]float64{50, -30, -50, 40, -10}))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3}))
}

func TestCurrentDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, CurrentDrawdown(nil))
	assert.Equal(t, 40.0, CurrentDrawdown([]float64{50, -30, -50, 40}))
	assert.Equal(t, 0.0, CurrentDrawdown([]float64{50, -30, 40}))
}

func TestVolatilityAndDownside(t *testing.T) {
	assert.Equal(t, 0.0, Volatility([]float64{42}))
	assert.InDelta(t, 1.0, Volatility([]float64{1, 3, 1, 3}), 1e-9)

	assert.Equal(t, 0.0, DownsideDeviation([]float64{1, 2, 3}))
	assert.InDelta(t, 5.0, DownsideDeviation([]float64{-10, 4, -20}), 1e-9)
}

func TestRatios(t *testing.T) {
	assert.Equal(t, 0.0, SortinoRatio(nil))
	assert.Equal(t, 0.0, SortinoRatio([]float64{1, 2}), "no downside means no ratio")

	values := []float64{-10, 4, -20, 30}
	assert.InDelta(t, (1.0/5.0)*math.Sqrt(252), SortinoRatio(values), 1e-9)

	assert.Equal(t, 0.0, CalmarRatio(nil))
	assert.InDelta(t, 4.0/26.0, CalmarRatio(values), 1e-9)
}

func TestUpperTailMean(t *testing.T) {
	assert.Equal(t, 0.0, UpperTailMean(nil, DefaultAlpha))
	values := make([]float64, 0, 20)
	for i := 1; i <= 20; i++ {
		values = append(values, float64(i))
	}
	// floor(20*0.95) = 19 -> only the largest value
	assert.InDelta(t, 20.0, UpperTailMean(values, DefaultAlpha), 1e-9)
	assert.InDelta(t, 15.5, UpperTailMean(values, 0.5), 1e-9)
}

func TestSnapshot_ShortSeries(t *testing.T) {
	snap := Snapshot([]float64{12})
	assert.Equal(t, 0.0, snap.VaR95)
	assert.Equal(t, 0.0, snap.CVaR95)
	assert.Equal(t, 0.0, snap.Volatility)
	assert.InDelta(t, 12.0, snap.PnLTrend, 1e-9)
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
