// Package strategy aggregates outcomes by strategy class and maintains the
// class kill list through breach and revert transitions.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/services/risk"
)

// Thresholds breach limits of a strategy class.
type Thresholds struct {
	MaxDrawdownBps  float64 `yaml:"max_drawdown_bps"`
	MinHitRate      float64 `yaml:"min_hit_rate"`
	MaxCVaRErrorBps float64 `yaml:"max_cvar_error_bps"`
	MinTrades       int     `yaml:"min_trades"`
}

// RevertThresholds recovery limits of a disabled class, evaluated on its most recent records.
type RevertThresholds struct {
	Window             int     `yaml:"window"`
	MinTrades          int     `yaml:"min_trades"`
	MaxMeanAbsErrorBps float64 `yaml:"max_mean_abs_error_bps"`
	MaxCVaRErrorBps    float64 `yaml:"max_cvar_error_bps"`
}

// Params governor configuration. Overrides replace Breach for the named class.
type Params struct {
	Breach    Thresholds            `yaml:"breach"`
	Overrides map[string]Thresholds `yaml:"overrides"`
	Revert    RevertThresholds      `yaml:"revert"`
}

// DefaultParams returns the production limits.
func DefaultParams() Params {
	return Params{
		Breach: Thresholds{
			MaxDrawdownBps:  -500,
			MinHitRate:      0.30,
			MaxCVaRErrorBps: 120,
			MinTrades:       10,
		},
		Revert: RevertThresholds{
			Window:             120,
			MinTrades:          40,
			MaxMeanAbsErrorBps: 70,
			MaxCVaRErrorBps:    120,
		},
	}
}

// Result output of one governor pass.
type Result struct {
	KillList   domain.KillList
	Strategies map[string]domain.StrategyReport
	Breaches   []domain.StrategyTransition
	Reverts    []domain.StrategyTransition
}

// Governor evaluates strategy classes.
type Governor struct {
	l      *zap.Logger
	params Params
}

// NewGovernor creates a governor.
func NewGovernor(l *zap.Logger, params Params) *Governor {
	d := DefaultParams()
	if params.Breach == (Thresholds{}) {
		params.Breach = d.Breach
	}
	if params.Revert == (RevertThresholds{}) {
		params.Revert = d.Revert
	}
	return &Governor{l: l, params: params}
}

// ThresholdsFor returns the breach limits of a class.
func (g *Governor) ThresholdsFor(class string) Thresholds {
	if t, ok := g.params.Overrides[class]; ok {
		return t
	}
	return g.params.Breach
}

// Evaluate runs the revert pass over classes disabled in prev and the breach pass over
// classes active in prev, so a class moves at most once per call. Records of agents in
// excludedAgents do not count. prev is not modified.
func (g *Governor) Evaluate(
	prev domain.KillList,
	records []domain.OutcomeRecord,
	excludedAgents map[string]bool,
	now time.Time,
) Result {
	byClass := make(map[string][]domain.OutcomeRecord)
	classes := make(map[string]struct{})
	for _, r := range records {
		classes[r.StrategyClass] = struct{}{}
		if excludedAgents[r.Agent] {
			continue
		}
		byClass[r.StrategyClass] = append(byClass[r.StrategyClass], r)
	}
	for class := range prev {
		classes[class] = struct{}{}
	}

	next := prev.Clone()
	res := Result{
		KillList:   next,
		Strategies: make(map[string]domain.StrategyReport, len(classes)),
		Breaches:   []domain.StrategyTransition{},
		Reverts:    []domain.StrategyTransition{},
	}

	for _, class := range domain.SortedKeys(classes) {
		classRecords := byClass[class]

		if prev.Disabled(class) {
			if reasons, ok := g.recovered(classRecords); ok {
				at := now
				entry := next.Entry(class)
				entry.Status = domain.StrategyActive
				entry.ReEnabledAt = &at
				entry.ReEnableReason = strings.Join(reasons, "; ")
				next[class] = entry

				res.Reverts = append(res.Reverts, domain.StrategyTransition{
					Class: class, From: domain.StrategyDisabled, To: domain.StrategyActive, Reasons: reasons,
				})
				g.l.Info("strategy class re-enabled", zap.String("strategy", class), zap.Strings("reasons", reasons))
			}
		} else if reasons := g.breached(class, classRecords); len(reasons) > 0 {
			at := now
			entry := next.Entry(class)
			entry.Status = domain.StrategyDisabled
			entry.Reason = strings.Join(reasons, "; ")
			entry.DisabledAt = &at
			next[class] = entry

			res.Breaches = append(res.Breaches, domain.StrategyTransition{
				Class: class, From: domain.StrategyActive, To: domain.StrategyDisabled, Reasons: reasons,
			})
			g.l.Warn("strategy class disabled", zap.String("strategy", class), zap.Strings("reasons", reasons))
		}

		report := Attribute(classRecords)
		report.Entry = next.Entry(class)
		res.Strategies[class] = report
	}

	return res
}

func (g *Governor) breached(class string, records []domain.OutcomeRecord) []string {
	t := g.ThresholdsFor(class)
	if len(records) < t.MinTrades || len(records) == 0 {
		return nil
	}

	a := Attribute(records)
	var reasons []string
	if a.PnLSumBps < t.MaxDrawdownBps {
		reasons = append(reasons, fmt.Sprintf("pnl %.2f bps < %.0f", a.PnLSumBps, t.MaxDrawdownBps))
	}
	if a.HitRate < t.MinHitRate {
		reasons = append(reasons, fmt.Sprintf("hit rate %.3f < %.2f", a.HitRate, t.MinHitRate))
	}
	if a.CVaRErrorBps > t.MaxCVaRErrorBps {
		reasons = append(reasons, fmt.Sprintf("cvar error %.2f bps > %.0f", a.CVaRErrorBps, t.MaxCVaRErrorBps))
	}
	return reasons
}

func (g *Governor) recovered(records []domain.OutcomeRecord) ([]string, bool) {
	t := g.params.Revert
	window := records
	if t.Window > 0 && len(window) > t.Window {
		window = window[len(window)-t.Window:]
	}
	if len(window) < t.MinTrades || len(window) == 0 {
		return nil, false
	}

	absErrs := absErrors(window)
	meanAbs := risk.Mean(absErrs)
	cvarErr := risk.UpperTailMean(absErrs, risk.DefaultAlpha)
	if meanAbs > t.MaxMeanAbsErrorBps || cvarErr > t.MaxCVaRErrorBps {
		return nil, false
	}

	return []string{
		fmt.Sprintf("recovered: mean abs error %.2f bps <= %.0f", meanAbs, t.MaxMeanAbsErrorBps),
		fmt.Sprintf("cvar95 error %.2f bps <= %.0f", cvarErr, t.MaxCVaRErrorBps),
	}, true
}

// Attribute aggregates records of one class. Entry is left empty.
func Attribute(records []domain.OutcomeRecord) domain.StrategyReport {
	agents := make(map[string]struct{})
	gaps := make([]float64, 0, len(records))
	var pnl float64
	var hits int
	for _, r := range records {
		agents[r.Agent] = struct{}{}
		pnl += r.RealizedPnLBps
		if r.IsHit() {
			hits++
		}
		gaps = append(gaps, r.ForecastGapBps())
	}

	report := domain.StrategyReport{
		Agents:    domain.SortedKeys(agents),
		Trades:    len(records),
		PnLSumBps: pnl,
	}
	if len(records) == 0 {
		return report
	}

	absErrs := absErrors(records)
	report.HitRate = float64(hits) / float64(len(records))
	report.CVaRErrorBps = risk.UpperTailMean(absErrs, risk.DefaultAlpha)
	report.MeanAbsErrorBps = risk.Mean(absErrs)
	report.GapCVaR95Bps = GapCVaR(gaps)

	return report
}

// GapCVaR mean of the worst 5% forecast gaps (at least one), zero below three gaps.
func GapCVaR(gaps []float64) float64 {
	n := len(gaps)
	if n < risk.MinTailSample {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, gaps)
	sort.Float64s(sorted)

	k := int(math.Max(1, math.Floor(float64(n)*0.05)))
	return risk.Mean(sorted[:k])
}

func absErrors(records []domain.OutcomeRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.AbsErrorBps
	}
	return out
}
