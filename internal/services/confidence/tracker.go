// Package confidence maintains per-agent confidence multipliers that decay with
// recent forecast error and recover slowly under sustained accurate signals.
package confidence

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// Params tunes the decay function. Zero values are replaced by DefaultParams.
type Params struct {
	// HalfLifeSignals number of signals after which a record weighs half as much.
	HalfLifeSignals float64 `yaml:"half_life_signals"`
	// PenaltyK abs error in bps at which the penalty reaches half of PenaltyCap.
	PenaltyK       float64 `yaml:"penalty_k_bps"`
	PenaltyCap     float64 `yaml:"penalty_cap"`
	LossAmplifier  float64 `yaml:"loss_amplifier"`
	StabilityBoost float64 `yaml:"stability_boost"`
	// GoodErrorBps max abs error of a "good" record. "Bad" records have at least twice that.
	GoodErrorBps float64 `yaml:"good_error_bps"`
	MinGood      int     `yaml:"min_good"`
	TailWindow   int     `yaml:"tail_window"`
	Floor        float64 `yaml:"floor"`
	Ceiling      float64 `yaml:"ceiling"`
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		HalfLifeSignals: 80,
		PenaltyK:        50,
		PenaltyCap:      0.08,
		LossAmplifier:   1.3,
		StabilityBoost:  0.02,
		GoodErrorBps:    30,
		MinGood:         10,
		TailWindow:      250,
		Floor:           0.5,
		Ceiling:         1.1,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.HalfLifeSignals <= 0 {
		p.HalfLifeSignals = d.HalfLifeSignals
	}
	if p.PenaltyK <= 0 {
		p.PenaltyK = d.PenaltyK
	}
	if p.PenaltyCap <= 0 {
		p.PenaltyCap = d.PenaltyCap
	}
	if p.LossAmplifier <= 0 {
		p.LossAmplifier = d.LossAmplifier
	}
	if p.StabilityBoost <= 0 {
		p.StabilityBoost = d.StabilityBoost
	}
	if p.GoodErrorBps <= 0 {
		p.GoodErrorBps = d.GoodErrorBps
	}
	if p.MinGood <= 0 {
		p.MinGood = d.MinGood
	}
	if p.TailWindow <= 0 {
		p.TailWindow = d.TailWindow
	}
	if p.Floor <= 0 {
		p.Floor = d.Floor
	}
	if p.Ceiling <= 0 {
		p.Ceiling = d.Ceiling
	}
	return p
}

// Tracker applies the decay function once per cycle.
type Tracker struct {
	l          *zap.Logger
	params     Params
	minRecords int
}

// NewTracker creates a tracker. Agents with fewer than minRecords records keep their previous multiplier.
func NewTracker(l *zap.Logger, params Params, minRecords int) *Tracker {
	return &Tracker{
		l:          l,
		params:     params.withDefaults(),
		minRecords: minRecords,
	}
}

// Params returns the effective tuning.
func (t *Tracker) Params() Params {
	return t.params
}

// Update returns a new table with every observed agent stepped forward.
// Records of each agent must be in chronological order. Agents missing from byAgent
// keep their previous state, prev itself is not modified.
func (t *Tracker) Update(prev domain.ConfidenceTable, byAgent map[string][]domain.OutcomeRecord, now time.Time) domain.ConfidenceTable {
	next := prev.Clone()

	for _, agent := range domain.SortedKeys(byAgent) {
		records := byAgent[agent]
		if len(records) < t.minRecords {
			t.l.Debug("confidence unchanged, not enough records",
				zap.String("agent", agent),
				zap.Int("records", len(records)),
			)
			continue
		}

		before := prev.Multiplier(agent)
		after := t.Step(before, records)
		next[agent] = domain.ConfidenceState{Multiplier: after, UpdatedAt: now}

		t.l.Debug("confidence updated",
			zap.String("agent", agent),
			zap.Float64("from", before),
			zap.Float64("to", after),
		)
	}

	return next
}

// Step applies one decay pass over the most recent records to multiplier m.
func (t *Tracker) Step(m float64, records []domain.OutcomeRecord) float64 {
	p := t.params
	lambda := math.Ln2 / p.HalfLifeSignals

	tail := records
	if len(tail) > p.TailWindow {
		tail = tail[len(tail)-p.TailWindow:]
	}

	var good, bad int
	for i, r := range tail {
		age := float64(len(tail) - 1 - i)
		weight := math.Exp(-lambda * age)

		penalty := t.penalty(r.AbsErrorBps) * weight
		if r.IsLoss() {
			penalty *= p.LossAmplifier
		}
		m *= 1 - penalty

		if r.IsHit() && r.AbsErrorBps <= p.GoodErrorBps {
			good++
		}
		if r.IsLoss() && r.AbsErrorBps >= 2*p.GoodErrorBps {
			bad++
		}
	}

	if good >= p.MinGood && bad == 0 {
		m *= 1 + p.StabilityBoost
	}

	return round4(clamp(m, p.Floor, p.Ceiling))
}

// penalty saturating error penalty bounded by PenaltyCap.
func (t *Tracker) penalty(absErrorBps float64) float64 {
	x := math.Max(0, absErrorBps)
	return x / (x + t.params.PenaltyK) * t.params.PenaltyCap
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
