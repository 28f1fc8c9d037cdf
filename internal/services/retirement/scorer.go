// Package retirement scores agents for retirement and applies the absolute
// kill and promotion gates.
package retirement

import (
	"fmt"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// Thresholds absolute gates of the coarse decision.
type Thresholds struct {
	KillPnLBps        float64 `yaml:"kill_pnl_bps"`
	KillErrorRate     float64 `yaml:"kill_error_rate"`
	KillMaxDrawdown   float64 `yaml:"kill_max_drawdown_bps"`
	KillCVaRBps       float64 `yaml:"kill_cvar_bps"`
	PromotePnLBps     float64 `yaml:"promote_pnl_bps"`
	PromoteHitRate    float64 `yaml:"promote_hit_rate"`
	PromoteLatencyMs  float64 `yaml:"promote_latency_ms"`
	SlowLatencyMs     float64 `yaml:"slow_latency_ms"`
	ElevatedErrorRate float64 `yaml:"elevated_error_rate"`
}

// DefaultThresholds returns the production gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		KillPnLBps:        -150,
		KillErrorRate:     0.2,
		KillMaxDrawdown:   350,
		KillCVaRBps:       -120,
		PromotePnLBps:     150,
		PromoteHitRate:    0.55,
		PromoteLatencyMs:  900,
		SlowLatencyMs:     5000,
		ElevatedErrorRate: 0.05,
	}
}

const (
	retireScore    = 80
	deprecateScore = 50
	watchScore     = 30
	maxScore       = 100
)

// Scorer evaluates agent stats into decisions.
type Scorer struct {
	t          Thresholds
	minRecords int
}

// NewScorer creates a scorer. A zero Thresholds value means defaults.
func NewScorer(t Thresholds, minRecords int) *Scorer {
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	return &Scorer{t: t, minRecords: minRecords}
}

// Score returns the additive 0-100 retirement score.
func (s *Scorer) Score(st domain.AgentStats) int {
	score := 0
	if st.Signals == 0 && st.Runs > 10 {
		score += 25
	}
	if st.AvgLatencyMs > s.t.SlowLatencyMs {
		score += 20
	}
	if st.Runs > 50 && st.Signals < 3 {
		score += 40
	}
	if st.ErrorRate > s.t.ElevatedErrorRate {
		score += 15
	}
	if st.PnLSumBps < 0 {
		score += 20
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// Label maps a score to its retirement label.
func Label(score int) domain.RetirementLabel {
	switch {
	case score >= retireScore:
		return domain.LabelRetire
	case score >= deprecateScore:
		return domain.LabelDeprecate
	case score >= watchScore:
		return domain.LabelWatch
	default:
		return domain.LabelHealthy
	}
}

// Decide evaluates the gates in precedence order: absolute kill, promotion, score kill, hold.
// Agents with fewer than the minimum records skip the outcome gates. They are
// killed only when run telemetry alone drives the score to RETIRE, otherwise
// held with INSUFFICIENT_DATA.
func (s *Scorer) Decide(st domain.AgentStats) domain.Decision {
	score := s.Score(st)
	d := domain.Decision{Score: score, Label: Label(score)}

	if st.Signals < s.minRecords {
		if score >= retireScore {
			d.Verdict = domain.VerdictKill
			d.Reasons = []string{fmt.Sprintf("retirement score %d >= %d on %d runs with %d records", score, retireScore, st.Runs, st.Signals)}
			return d
		}
		d.Label = domain.LabelInsufficientData
		d.Verdict = domain.VerdictHold
		d.Reasons = []string{fmt.Sprintf("insufficient data: %d records < %d", st.Signals, s.minRecords)}
		return d
	}

	if reasons := s.killReasons(st); len(reasons) > 0 {
		d.Verdict = domain.VerdictKill
		d.Reasons = reasons
		return d
	}

	if s.promotable(st) {
		d.Verdict = domain.VerdictPromote
		d.Reasons = []string{fmt.Sprintf("promotion gates passed: pnl %.2f bps, hit rate %.2f", st.PnLSumBps, st.HitRate)}
		return d
	}

	if score >= retireScore {
		d.Verdict = domain.VerdictKill
		d.Reasons = []string{fmt.Sprintf("retirement score %d >= %d", score, retireScore)}
		return d
	}

	d.Verdict = domain.VerdictHold
	d.Reasons = []string{}
	return d
}

func (s *Scorer) killReasons(st domain.AgentStats) []string {
	var reasons []string
	if st.PnLSumBps < s.t.KillPnLBps {
		reasons = append(reasons, fmt.Sprintf("pnl %.2f bps < %.0f", st.PnLSumBps, s.t.KillPnLBps))
	}
	if st.ErrorRate > s.t.KillErrorRate {
		reasons = append(reasons, fmt.Sprintf("error rate %.3f > %.2f", st.ErrorRate, s.t.KillErrorRate))
	}
	if st.Risk.MaxDrawdown > s.t.KillMaxDrawdown {
		reasons = append(reasons, fmt.Sprintf("max drawdown %.2f bps > %.0f", st.Risk.MaxDrawdown, s.t.KillMaxDrawdown))
	}
	if st.Risk.CVaR95 < s.t.KillCVaRBps {
		reasons = append(reasons, fmt.Sprintf("cvar95 %.2f bps < %.0f", st.Risk.CVaR95, s.t.KillCVaRBps))
	}
	return reasons
}

func (s *Scorer) promotable(st domain.AgentStats) bool {
	return st.PnLSumBps > s.t.PromotePnLBps &&
		st.HitRate >= s.t.PromoteHitRate &&
		st.ErrorRate == 0 &&
		st.AvgLatencyMs < s.t.PromoteLatencyMs
}
