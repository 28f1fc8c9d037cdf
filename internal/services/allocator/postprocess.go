package allocator

import (
	"github.com/vadiminshakov/marti-governor/internal/domain"
)

const epsilon = 1e-12

// Normalize drops non-positive weights and scales the rest to sum to 1.0.
func Normalize(weights map[string]float64) map[string]float64 {
	agents := domain.SortedKeys(weights)

	var total float64
	for _, agent := range agents {
		if w := weights[agent]; w > 0 {
			total += w
		}
	}

	out := make(map[string]float64, len(weights))
	if total <= 0 {
		return out
	}
	for _, agent := range agents {
		if w := weights[agent]; w > 0 {
			out[agent] = w / total
		}
	}
	return out
}

// CapAndRedistribute clamps weights to maxWeight and hands the excess to agents below
// the cap in proportion to their weight. When the set can hold the cap (n*maxWeight >= 1)
// passes repeat until nothing exceeds it, otherwise a single pass is made. Excess that
// no agent can absorb is dropped.
func CapAndRedistribute(weights map[string]float64, maxWeight float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}
	if len(out) == 0 || maxWeight <= 0 || maxWeight >= 1 {
		return out
	}

	agents := domain.SortedKeys(out)
	repeat := CapFeasible(out, maxWeight)

	for pass := 0; pass <= len(agents); pass++ {
		var excess float64
		for _, agent := range agents {
			if out[agent] > maxWeight+epsilon {
				excess += out[agent] - maxWeight
				out[agent] = maxWeight
			}
		}
		if excess <= epsilon {
			break
		}

		var free float64
		for _, agent := range agents {
			if out[agent] < maxWeight-epsilon {
				free += out[agent]
			}
		}
		if free <= 0 {
			break
		}

		for _, agent := range agents {
			if w := out[agent]; w < maxWeight-epsilon {
				out[agent] = w + excess*(w/free)
			}
		}

		if !repeat {
			break
		}
	}

	return out
}

// CapFeasible reports whether the agents with positive weight can hold the whole
// allocation under maxWeight, that is n*maxWeight >= 1. Otherwise the cap is not enforced.
func CapFeasible(weights map[string]float64, maxWeight float64) bool {
	if maxWeight <= 0 || maxWeight >= 1 {
		return true
	}
	n := 0
	for _, w := range weights {
		if w > 0 {
			n++
		}
	}
	return n == 0 || float64(n)*maxWeight >= 1
}

// ApplyRegimeCap scales every weight by the regime cap and renormalizes. A zero cap
// allocates nothing.
func ApplyRegimeCap(weights map[string]float64, regimeCap float64) map[string]float64 {
	if regimeCap <= 0 {
		return map[string]float64{}
	}

	scaled := make(map[string]float64, len(weights))
	for k, v := range weights {
		scaled[k] = v * regimeCap
	}
	return Normalize(scaled)
}

// Reweight multiplies each weight by the agent multiplier, renormalizes and re-applies the cap.
// Agents without a multiplier keep their weight.
func Reweight(weights, multipliers map[string]float64, maxWeight float64) map[string]float64 {
	scaled := make(map[string]float64, len(weights))
	for k, v := range weights {
		m, ok := multipliers[k]
		if !ok {
			m = 1
		}
		scaled[k] = v * m
	}
	return Normalize(CapAndRedistribute(Normalize(scaled), maxWeight))
}

// PostProcess cap-and-redistribute followed by regime scaling.
func PostProcess(raw map[string]float64, maxWeight, regimeCap float64) map[string]float64 {
	return ApplyRegimeCap(CapAndRedistribute(raw, maxWeight), regimeCap)
}
