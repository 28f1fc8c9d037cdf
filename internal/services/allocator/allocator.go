// Package allocator converts per-agent statistics into normalized capital weights.
package allocator

import (
	"github.com/pkg/errors"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// Params configures both allocator variants and the post-processing.
type Params struct {
	Method     domain.AllocationMethod `yaml:"method"`
	MaxWeight  float64                 `yaml:"max_weight"`
	LambdaRisk float64                 `yaml:"lambda_risk"`
	// MinPoints smallest PnL series the CVaR allocator accepts.
	MinPoints int `yaml:"min_points"`
	// MaxErrorRate legacy allocator excludes agents above it.
	MaxErrorRate float64 `yaml:"max_error_rate"`
}

// DefaultParams returns the production settings.
func DefaultParams() Params {
	return Params{
		Method:       domain.AllocationCVaR,
		MaxWeight:    0.25,
		LambdaRisk:   0.5,
		MinPoints:    5,
		MaxErrorRate: 0.15,
	}
}

// Input everything an allocator may score. Agents listed in Excluded are never weighted.
type Input struct {
	Stats      map[string]domain.AgentStats
	Confidence domain.ConfidenceTable
	// StrategyGapCVaR lower-tail CVaR of realized minus expected PnL per strategy class.
	StrategyGapCVaR map[string]float64
	Excluded        map[string]string
}

func (in Input) eligible() []string {
	agents := make([]string, 0, len(in.Stats))
	for _, agent := range domain.SortedKeys(in.Stats) {
		if _, skip := in.Excluded[agent]; skip {
			continue
		}
		agents = append(agents, agent)
	}
	return agents
}

// Allocator produces raw weights normalized to 1.0, or an empty map when no agent qualifies.
type Allocator interface {
	Method() domain.AllocationMethod
	Allocate(in Input) map[string]float64
}

// New returns the allocator selected by p.Method.
func New(p Params) (Allocator, error) {
	switch p.Method {
	case domain.AllocationCVaR, "":
		return NewCVaR(p.LambdaRisk, p.MinPoints), nil
	case domain.AllocationLegacy:
		return NewLegacy(p.MaxErrorRate), nil
	default:
		return nil, errors.Errorf("unknown allocation method %q", p.Method)
	}
}
