package allocator

import (
	"math"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/services/risk"
)

// CVaR weights agents by mean return minus a penalty on their left-tail CVaR.
type CVaR struct {
	lambda    float64
	minPoints int
}

// NewCVaR creates the tail-risk allocator.
func NewCVaR(lambda float64, minPoints int) *CVaR {
	if lambda <= 0 {
		lambda = DefaultParams().LambdaRisk
	}
	if minPoints <= 0 {
		minPoints = DefaultParams().MinPoints
	}
	return &CVaR{lambda: lambda, minPoints: minPoints}
}

func (c *CVaR) Method() domain.AllocationMethod {
	return domain.AllocationCVaR
}

func (c *CVaR) Allocate(in Input) map[string]float64 {
	raw := make(map[string]float64)
	for _, agent := range in.eligible() {
		pnls := in.Stats[agent].PnLSeries
		if len(pnls) < c.minPoints {
			continue
		}

		score := c.RiskAdjusted(pnls)
		if score <= 0 {
			continue
		}
		raw[agent] = score
	}

	return Normalize(raw)
}

// RiskAdjusted mean(pnls) - lambda * |CVaR95(pnls)|.
func (c *CVaR) RiskAdjusted(pnls []float64) float64 {
	return risk.Mean(pnls) - c.lambda*math.Abs(risk.CVaR(pnls, risk.DefaultAlpha))
}
