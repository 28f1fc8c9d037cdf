// Package drawdown maps the current portfolio drawdown into an exposure band.
package drawdown

import (
	"sort"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// BandNormal band name when no constraint applies.
const BandNormal = "normal"

// Band applies Multiplier once the current drawdown reaches MinDrawdownBps.
type Band struct {
	Name           string  `yaml:"name"`
	MinDrawdownBps float64 `yaml:"min_drawdown_bps"`
	Multiplier     float64 `yaml:"multiplier"`
	Reason         string  `yaml:"reason"`
}

// DefaultBands returns the production bands: 5%, 10% and 20% drawdown.
func DefaultBands() []Band {
	return []Band{
		{Name: "warn", MinDrawdownBps: 500, Multiplier: 0.70, Reason: "warning drawdown band"},
		{Name: "risk_off", MinDrawdownBps: 1000, Multiplier: 0.35, Reason: "correction drawdown band"},
		{Name: "max_risk_off", MinDrawdownBps: 2000, Multiplier: 0.15, Reason: "deep drawdown band"},
	}
}

// Governor final exposure gate.
type Governor struct {
	bands []Band
}

// NewGovernor creates a governor, deepest band first. Empty bands fall back to defaults.
func NewGovernor(bands []Band) *Governor {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinDrawdownBps > sorted[j].MinDrawdownBps })

	return &Governor{bands: sorted}
}

// Compute returns the band of a drawdown given as a positive magnitude in bps.
func (g *Governor) Compute(currentDrawdownBps float64) domain.DrawdownState {
	for _, b := range g.bands {
		if currentDrawdownBps >= b.MinDrawdownBps {
			return domain.DrawdownState{
				DrawdownBps: currentDrawdownBps,
				Band:        b.Name,
				Multiplier:  b.Multiplier,
				Reason:      b.Reason,
			}
		}
	}

	return domain.DrawdownState{
		DrawdownBps: currentDrawdownBps,
		Band:        BandNormal,
		Multiplier:  1.0,
		Reason:      "no drawdown constraint",
	}
}
