package domain

import (
	"sort"
	"time"
)

// AllocationMethod tags the allocator variant that produced the raw weights.
type AllocationMethod string

const (
	AllocationCVaR   AllocationMethod = "cvar_95"
	AllocationLegacy AllocationMethod = "legacy"
)

// AllocationSnapshot normalized weight map of one cycle.
// Weights sum to 1.0 or are empty when no agent qualifies.
type AllocationSnapshot struct {
	CycleID   string             `json:"cycle_id"`
	Timestamp time.Time          `json:"ts"`
	Method    AllocationMethod   `json:"method"`
	Weights   map[string]float64 `json:"weights"`
	// RegimeCap fraction of capital allowed by the prevailing regime.
	RegimeCap float64 `json:"regime_cap"`
	// DrawdownMultiplier exposure multiplier of the drawdown band.
	DrawdownMultiplier float64 `json:"drawdown_multiplier"`
	// GrossExposure RegimeCap * DrawdownMultiplier, the fraction of capital deployed in total.
	GrossExposure           float64 `json:"gross_exposure"`
	PortfolioPnLBps         float64 `json:"portfolio_pnl_bps"`
	PortfolioMaxDrawdownBps float64 `json:"portfolio_max_dd_bps"`
}

// Empty reports whether no capital is allocated this cycle.
func (s AllocationSnapshot) Empty() bool {
	return len(s.Weights) == 0
}

// Weight returns the agent weight, zero when not allocated.
func (s AllocationSnapshot) Weight(agent string) float64 {
	return s.Weights[agent]
}

// Agents returns allocated agents in lexical order.
func (s AllocationSnapshot) Agents() []string {
	return SortedKeys(s.Weights)
}

// AllocationRecord bundles a snapshot with its history index.
type AllocationRecord struct {
	Index    uint64
	Snapshot AllocationSnapshot
}

// SortedKeys returns map keys in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
