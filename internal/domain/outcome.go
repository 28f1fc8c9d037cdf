// Package domain defines core data structures used throughout the governance engine.
package domain

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// UnclassifiedStrategy is used for records without a strategy class.
const UnclassifiedStrategy = "unclassified"

// Regime externally classified market condition label.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
	RegimeVolatile Regime = "VOLATILE"
	RegimeMixed    Regime = "MIXED"
	RegimeUnknown  Regime = "UNKNOWN"
)

// NormalizeRegime upper-cases a label. Domain specific tags are kept as is, empty maps to UNKNOWN.
func NormalizeRegime(label string) Regime {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return RegimeUnknown
	}
	return Regime(label)
}

// OutcomeRecord realized outcome of one agent signal over one evaluation horizon.
// Records are produced by the reconciliation pipeline and are never mutated.
type OutcomeRecord struct {
	Agent          string    `json:"agent"`
	StrategyClass  string    `json:"strategy_class,omitempty"`
	Regime         Regime    `json:"regime,omitempty"`
	HorizonHours   int       `json:"horizon_hours"`
	RealizedPnLBps float64   `json:"realized_pnl_bps"`
	ExpectedPnLBps float64   `json:"expected_pnl_bps"`
	AbsErrorBps    float64   `json:"abs_error_bps"`
	Timestamp      time.Time `json:"ts"`
}

// Normalize fills defaults for optional labels.
func (r OutcomeRecord) Normalize() OutcomeRecord {
	r.Agent = strings.TrimSpace(r.Agent)
	r.StrategyClass = strings.TrimSpace(r.StrategyClass)
	if r.StrategyClass == "" {
		r.StrategyClass = UnclassifiedStrategy
	}
	r.Regime = NormalizeRegime(string(r.Regime))
	return r
}

// Validate checks the fields every component relies on.
func (r OutcomeRecord) Validate() error {
	if strings.TrimSpace(r.Agent) == "" {
		return errors.Wrap(ErrMalformedRecord, "agent is required")
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"realized_pnl_bps", r.RealizedPnLBps},
		{"expected_pnl_bps", r.ExpectedPnLBps},
		{"abs_error_bps", r.AbsErrorBps},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return errors.Wrapf(ErrMalformedRecord, "%s is not finite", f.name)
		}
	}
	if r.AbsErrorBps < 0 {
		return errors.Wrap(ErrMalformedRecord, "abs_error_bps must be non-negative")
	}
	return nil
}

// ForecastGapBps signed gap between realized and expected outcome.
func (r OutcomeRecord) ForecastGapBps() float64 {
	return r.RealizedPnLBps - r.ExpectedPnLBps
}

// IsLoss reports whether the realized outcome was negative.
func (r OutcomeRecord) IsLoss() bool {
	return r.RealizedPnLBps < 0
}

// IsHit reports whether the realized outcome was positive.
func (r OutcomeRecord) IsHit() bool {
	return r.RealizedPnLBps > 0
}

// RunEvent telemetry of a single agent run.
type RunEvent struct {
	Agent     string    `json:"agent"`
	RunID     string    `json:"run_id,omitempty"`
	LatencyMs float64   `json:"latency_ms"`
	Errors    int       `json:"errors"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"ts"`
}

// Validate checks the fields used for agent stats.
func (e RunEvent) Validate() error {
	if strings.TrimSpace(e.Agent) == "" {
		return errors.Wrap(ErrMalformedRecord, "agent is required")
	}
	if math.IsNaN(e.LatencyMs) || math.IsInf(e.LatencyMs, 0) || e.LatencyMs < 0 {
		return errors.Wrap(ErrMalformedRecord, "latency_ms must be a non-negative number")
	}
	if e.Errors < 0 {
		return errors.Wrap(ErrMalformedRecord, "errors must be non-negative")
	}
	return nil
}

// ReadStats counts what a reader consumed and skipped.
type ReadStats struct {
	Read    int `json:"read"`
	Skipped int `json:"skipped"`
	// Filtered records had a different evaluation horizon.
	Filtered int `json:"filtered"`
}
