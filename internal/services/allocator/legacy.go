package allocator

import (
	"math"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

const (
	hitRateOffset    = 0.6
	simErrorScaleBps = 75.0
	cvarPenaltyK     = 0.015
	cvarPenaltyFloor = 0.25
	ddPenaltyK       = 0.01
	ddPenaltyFloor   = 0.4
)

// Legacy scores agents by PnL, hit rate, confidence and a set of accuracy and risk penalties.
type Legacy struct {
	maxErrorRate float64
}

// NewLegacy creates the score-weighted allocator.
func NewLegacy(maxErrorRate float64) *Legacy {
	if maxErrorRate <= 0 {
		maxErrorRate = DefaultParams().MaxErrorRate
	}
	return &Legacy{maxErrorRate: maxErrorRate}
}

func (a *Legacy) Method() domain.AllocationMethod {
	return domain.AllocationLegacy
}

func (a *Legacy) Allocate(in Input) map[string]float64 {
	raw := make(map[string]float64)
	for _, agent := range in.eligible() {
		st := in.Stats[agent]
		if st.ErrorRate > a.maxErrorRate || st.PnLSumBps <= 0 {
			continue
		}

		q := a.Quality(st, in.Confidence.Multiplier(agent), in.StrategyGapCVaR[st.StrategyClass])
		if q > 0 {
			raw[agent] = q
		}
	}

	return Normalize(raw)
}

// Quality returns the unnormalized score of one agent.
func (a *Legacy) Quality(st domain.AgentStats, confidence, strategyGapCVaR float64) float64 {
	q := math.Sqrt(math.Max(st.PnLSumBps, 0)) * (hitRateOffset + st.HitRate)
	q *= confidence
	q *= 1 / (1 + st.AvgAbsErrorBps/simErrorScaleBps)

	if strategyGapCVaR < 0 {
		q *= math.Max(cvarPenaltyFloor, 1+strategyGapCVaR*cvarPenaltyK)
	}
	if st.Risk.MaxDrawdown > 0 {
		q *= math.Max(ddPenaltyFloor, 1-st.Risk.MaxDrawdown*ddPenaltyK)
	}

	return q
}
