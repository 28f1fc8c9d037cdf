package allocator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

func sum(weights map[string]float64) float64 {
	var s float64
	for _, w := range weights {
		s += w
	}
	return s
}

func TestNew(t *testing.T) {
	a, err := New(DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationCVaR, a.Method())

	a, err = New(Params{Method: domain.AllocationLegacy})
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationLegacy, a.Method())

	_, err = New(Params{Method: "kelly"})
	require.Error(t, err)
}

func TestCVaRAllocate(t *testing.T) {
	a := NewCVaR(0.5, 5)

	in := Input{
		Stats: map[string]domain.AgentStats{
			// mean 20, cvar95 -> worst value 10: 20 - 5 = 15
			"steady": {PnLSeries: []float64{10, 20, 30, 20, 20}},
			// mean 30, worst -10: 30 - 5 = 25
			"spiky": {PnLSeries: []float64{-10, 40, 50, 30, 40}},
			"short": {PnLSeries: []float64{100, 100, 100, 100}},
			"bleed": {PnLSeries: []float64{-50, 10, 10, 10, 10}},
			"killed": {PnLSeries: []float64{100, 100, 100, 100, 100}},
		},
		Excluded: map[string]string{"killed": "decision KILL"},
	}

	w := a.Allocate(in)
	require.Len(t, w, 2)
	assert.InDelta(t, 15.0/40.0, w["steady"], 1e-9)
	assert.InDelta(t, 25.0/40.0, w["spiky"], 1e-9)
	assert.InDelta(t, 1.0, sum(w), 1e-9)
}

func TestCVaRAllocate_NobodyQualifies(t *testing.T) {
	a := NewCVaR(0.5, 5)
	w := a.Allocate(Input{Stats: map[string]domain.AgentStats{"a": {PnLSeries: []float64{-1, -2, -3, -4, -5}}}})
	assert.NotNil(t, w)
	assert.Empty(t, w)
}

func TestLegacyAllocate(t *testing.T) {
	a := NewLegacy(0.15)

	in := Input{
		Stats: map[string]domain.AgentStats{
			"good":    {StrategyClass: "momentum", PnLSumBps: 100, HitRate: 0.4},
			"errors":  {StrategyClass: "momentum", PnLSumBps: 400, HitRate: 0.9, ErrorRate: 0.2},
			"loser":   {StrategyClass: "momentum", PnLSumBps: -10, HitRate: 0.9},
			"penalty": {StrategyClass: "carry", PnLSumBps: 100, HitRate: 0.4},
		},
		Confidence:      domain.ConfidenceTable{"good": {Multiplier: 1.0}},
		StrategyGapCVaR: map[string]float64{"carry": -20},
	}

	w := a.Allocate(in)
	require.Len(t, w, 2)
	// carry penalty 1 - 20*0.015 = 0.7
	assert.InDelta(t, 1.0/1.7, w["good"], 1e-9)
	assert.InDelta(t, 0.7/1.7, w["penalty"], 1e-9)
}

func TestLegacyQuality(t *testing.T) {
	a := NewLegacy(0.15)
	base := domain.AgentStats{PnLSumBps: 100, HitRate: 0.4}

	assert.InDelta(t, 10.0, a.Quality(base, 1, 0), 1e-9)
	assert.InDelta(t, 5.0, a.Quality(base, 0.5, 0), 1e-9)

	withErr := base
	withErr.AvgAbsErrorBps = 75
	assert.InDelta(t, 5.0, a.Quality(withErr, 1, 0), 1e-9)

	assert.InDelta(t, 2.5, a.Quality(base, 1, -1000), 1e-9, "strategy penalty is floored")

	withDD := base
	withDD.Risk.MaxDrawdown = 30
	assert.InDelta(t, 7.0, a.Quality(withDD, 1, 0), 1e-9)
	withDD.Risk.MaxDrawdown = 500
	assert.InDelta(t, 4.0, a.Quality(withDD, 1, 0), 1e-9, "drawdown penalty is floored")
}

func TestNormalize(t *testing.T) {
	assert.Empty(t, Normalize(nil))
	assert.Empty(t, Normalize(map[string]float64{"a": 0, "b": -1}))

	w := Normalize(map[string]float64{"a": 3, "b": 1, "c": 0})
	assert.Equal(t, map[string]float64{"a": 0.75, "b": 0.25}, w)
}

func TestCapFeasible(t *testing.T) {
	assert.True(t, CapFeasible(map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2, "d": 0}, 0.34))
	assert.False(t, CapFeasible(map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2, "d": 0}, 0.3))
	assert.True(t, CapFeasible(map[string]float64{"a": 1}, 1))
	assert.True(t, CapFeasible(map[string]float64{}, 0.25))
}

func TestCapAndRedistribute(t *testing.T) {
	t.Run("two agents single pass", func(t *testing.T) {
		w := CapAndRedistribute(map[string]float64{"a": 0.9, "b": 0.1}, 0.25)
		assert.InDelta(t, 0.25, w["a"], 1e-9)
		assert.InDelta(t, 0.75, w["b"], 1e-9)
	})

	t.Run("all agents at the cap drop the excess", func(t *testing.T) {
		w := CapAndRedistribute(map[string]float64{"a": 0.5, "b": 0.5}, 0.25)
		assert.Equal(t, map[string]float64{"a": 0.25, "b": 0.25}, w)
		assert.InDelta(t, 0.5, sum(w), 1e-9)
	})

	t.Run("water filling", func(t *testing.T) {
		w := CapAndRedistribute(map[string]float64{"a": 0.6, "b": 0.2, "c": 0.1, "d": 0.05, "e": 0.05}, 0.25)
		for agent, v := range w {
			assert.LessOrEqual(t, v, 0.25+1e-9, agent)
		}
		assert.InDelta(t, 1.0, sum(w), 1e-9)
		assert.InDelta(t, 0.25, w["a"], 1e-9)
		assert.InDelta(t, 0.25, w["b"], 1e-9)
	})

	t.Run("does not modify input", func(t *testing.T) {
		in := map[string]float64{"a": 0.9, "b": 0.1}
		CapAndRedistribute(in, 0.25)
		assert.Equal(t, 0.9, in["a"])
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, CapAndRedistribute(map[string]float64{}, 0.25))
	})
}

func TestPostProcess_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	for i := 0; i < 500; i++ {
		n := 4 + rng.Intn(len(names)-3)
		raw := make(map[string]float64, n)
		mult := make(map[string]float64, n)
		for _, name := range names[:n] {
			raw[name] = rng.ExpFloat64()
			mult[name] = 0.1 + rng.Float64()
		}

		w := PostProcess(Normalize(raw), 0.25, 0.1+rng.Float64())
		w = Reweight(w, mult, 0.25)

		require.InDelta(t, 1.0, sum(w), 1e-9)
		for agent, v := range w {
			require.LessOrEqual(t, v, 0.25+1e-9, agent)
			require.Greater(t, v, 0.0, agent)
		}
	}
}

func TestApplyRegimeCap(t *testing.T) {
	w := ApplyRegimeCap(map[string]float64{"a": 0.25, "b": 0.75}, 0.35)
	assert.InDelta(t, 0.25, w["a"], 1e-9)
	assert.InDelta(t, 0.75, w["b"], 1e-9)

	assert.Empty(t, ApplyRegimeCap(map[string]float64{"a": 1}, 0))
}

func TestReweight(t *testing.T) {
	w := Reweight(map[string]float64{"a": 0.5, "b": 0.5}, map[string]float64{"a": 0.5}, 1)
	assert.InDelta(t, 1.0/3.0, w["a"], 1e-9)
	assert.InDelta(t, 2.0/3.0, w["b"], 1e-9)
}
