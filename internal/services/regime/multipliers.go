// Package regime turns regime-labelled outcomes into allocation multipliers and
// resolves the prevailing regime into a global capital cap.
package regime

import (
	"math"
	"sort"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

const (
	// DefaultBase base multiplier of a regime missing from the base table.
	DefaultBase   = 0.5
	minMultiplier = 0.1
	maxMultiplier = 1.2
)

// Band maps cumulative regime PnL at or below Threshold to Multiplier.
type Band struct {
	Threshold  float64 `yaml:"threshold_bps"`
	Multiplier float64 `yaml:"multiplier"`
}

// DefaultBases static regime base table.
func DefaultBases() map[domain.Regime]float64 {
	return map[domain.Regime]float64{
		domain.RegimeTrending: 1.0,
		domain.RegimeRanging:  0.8,
		domain.RegimeVolatile: 0.6,
		domain.RegimeMixed:    0.7,
		domain.RegimeUnknown:  0.5,
	}
}

// DefaultBands drawdown bands, most negative first.
func DefaultBands() []Band {
	return []Band{
		{Threshold: -500, Multiplier: 0.3},
		{Threshold: -300, Multiplier: 0.5},
		{Threshold: -150, Multiplier: 0.7},
		{Threshold: -50, Multiplier: 0.9},
		{Threshold: 0, Multiplier: 1.0},
	}
}

// Calculator computes the regime multiplier table.
type Calculator struct {
	bases map[domain.Regime]float64
	bands []Band
}

// NewCalculator creates a calculator. Empty tables fall back to the defaults.
func NewCalculator(bases map[domain.Regime]float64, bands []Band) *Calculator {
	if len(bases) == 0 {
		bases = DefaultBases()
	}
	if len(bands) == 0 {
		bands = DefaultBands()
	}

	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	return &Calculator{bases: bases, bands: sorted}
}

// Compute builds a fresh table from the window. Only regimes present in records get a row.
func (c *Calculator) Compute(records []domain.OutcomeRecord) domain.RegimeMultiplierTable {
	byRegime := make(map[domain.Regime][]float64)
	for _, r := range records {
		regime := r.Regime
		if regime == "" {
			regime = domain.RegimeUnknown
		}
		byRegime[regime] = append(byRegime[regime], r.RealizedPnLBps)
	}

	table := make(domain.RegimeMultiplierTable, len(byRegime))
	for regime, pnls := range byRegime {
		table[regime] = c.row(regime, pnls)
	}

	return table
}

func (c *Calculator) row(regime domain.Regime, pnls []float64) domain.RegimeStats {
	var cumulative float64
	var hits int
	for _, p := range pnls {
		cumulative += p
		if p > 0 {
			hits++
		}
	}
	hitRate := float64(hits) / float64(len(pnls))

	base := c.Base(regime)
	ddAdj := c.DrawdownAdjustment(cumulative)
	hitAdj := 0.8 + 0.4*hitRate

	final := round(base*ddAdj*hitAdj, 4)
	final = math.Max(minMultiplier, math.Min(maxMultiplier, final))

	return domain.RegimeStats{
		Multiplier:       final,
		Base:             base,
		DrawdownAdj:      ddAdj,
		HitRateAdj:       round(hitAdj, 4),
		CumulativePnLBps: round(cumulative, 2),
		Trades:           len(pnls),
		HitRate:          round(hitRate, 3),
	}
}

// Base returns the static base of a regime.
func (c *Calculator) Base(regime domain.Regime) float64 {
	if b, ok := c.bases[regime]; ok {
		return b
	}
	return DefaultBase
}

// DrawdownAdjustment returns the multiplier of the first band whose threshold is at or above cumulative.
func (c *Calculator) DrawdownAdjustment(cumulative float64) float64 {
	for _, b := range c.bands {
		if cumulative <= b.Threshold {
			return b.Multiplier
		}
	}
	return 1.0
}

// Multiplier looks up a regime in a computed table. Regimes without data get their base.
func (c *Calculator) Multiplier(table domain.RegimeMultiplierTable, regime domain.Regime) float64 {
	if regime == "" {
		regime = domain.RegimeUnknown
	}
	if row, ok := table[regime]; ok {
		return row.Multiplier
	}
	return c.Base(regime)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
