package retirement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

func TestScore(t *testing.T) {
	s := NewScorer(Thresholds{}, 5)

	tests := []struct {
		name  string
		stats domain.AgentStats
		want  int
	}{
		{name: "healthy", stats: domain.AgentStats{Signals: 40, Runs: 40, AvgLatencyMs: 300, PnLSumBps: 50}, want: 0},
		{name: "silent agent", stats: domain.AgentStats{Signals: 0, Runs: 11}, want: 25},
		{name: "slow", stats: domain.AgentStats{Signals: 10, AvgLatencyMs: 5001}, want: 20},
		{name: "low yield", stats: domain.AgentStats{Signals: 2, Runs: 51}, want: 40},
		{name: "errors", stats: domain.AgentStats{Signals: 10, ErrorRate: 0.06}, want: 15},
		{name: "losing", stats: domain.AgentStats{Signals: 10, PnLSumBps: -1}, want: 20},
		{
			name:  "everything is capped",
			stats: domain.AgentStats{Signals: 0, Runs: 60, AvgLatencyMs: 9000, ErrorRate: 0.5, PnLSumBps: -10},
			want:  100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.stats))
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, domain.LabelHealthy, Label(0))
	assert.Equal(t, domain.LabelHealthy, Label(29))
	assert.Equal(t, domain.LabelWatch, Label(30))
	assert.Equal(t, domain.LabelDeprecate, Label(50))
	assert.Equal(t, domain.LabelRetire, Label(80))
	assert.Equal(t, domain.LabelRetire, Label(100))
}

func TestDecide(t *testing.T) {
	s := NewScorer(Thresholds{}, 5)

	t.Run("pnl and error rate both kill", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 50, Runs: 50, PnLSumBps: -200, ErrorRate: 0.25, HitRate: 0.4})
		assert.Equal(t, domain.VerdictKill, d.Verdict)
		require.Len(t, d.Reasons, 2)
		assert.Contains(t, d.Reasons[0], "pnl")
		assert.Contains(t, d.Reasons[1], "error rate")
		assert.Equal(t, 35, d.Score)
		assert.Equal(t, domain.LabelWatch, d.Label, "label still follows the score")
	})

	t.Run("tail risk kills a profitable agent", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{
			Signals: 20, PnLSumBps: 400, HitRate: 0.7,
			Risk: domain.RiskSnapshot{CVaR95: -150, MaxDrawdown: 400},
		})
		assert.Equal(t, domain.VerdictKill, d.Verdict)
		assert.Len(t, d.Reasons, 2)
	})

	t.Run("promotion", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 30, Runs: 30, PnLSumBps: 151, HitRate: 0.55, AvgLatencyMs: 899})
		assert.Equal(t, domain.VerdictPromote, d.Verdict)
		assert.Equal(t, domain.LabelHealthy, d.Label)
	})

	t.Run("any error blocks promotion", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 30, Runs: 30, PnLSumBps: 300, HitRate: 0.8, ErrorRate: 0.01, AvgLatencyMs: 100})
		assert.Equal(t, domain.VerdictHold, d.Verdict)
	})

	t.Run("deprecate label alone holds", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 5, Runs: 60, AvgLatencyMs: 6000, ErrorRate: 0.1, PnLSumBps: -20})
		// low yield only counts below 3 signals
		assert.Equal(t, 55, d.Score)
		assert.Equal(t, domain.LabelDeprecate, d.Label)
		assert.Equal(t, domain.VerdictHold, d.Verdict)
	})

	t.Run("retire label turns into kill", func(t *testing.T) {
		slow := NewScorer(Thresholds{
			KillPnLBps: -1000, KillErrorRate: 1, KillMaxDrawdown: 1000, KillCVaRBps: -1000,
			PromotePnLBps: 150, PromoteHitRate: 0.55, PromoteLatencyMs: 900,
			SlowLatencyMs: 5000, ElevatedErrorRate: 0.05,
		}, 1)
		d := slow.Decide(domain.AgentStats{Signals: 2, Runs: 60, AvgLatencyMs: 6000, PnLSumBps: -20})
		assert.Equal(t, 80, d.Score)
		assert.Equal(t, domain.LabelRetire, d.Label)
		assert.Equal(t, domain.VerdictKill, d.Verdict)
		assert.Contains(t, d.Reasons[0], "retirement score")
	})

	t.Run("insufficient data holds", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 3, PnLSumBps: -900, ErrorRate: 0.9})
		assert.Equal(t, domain.VerdictHold, d.Verdict)
		assert.Equal(t, domain.LabelInsufficientData, d.Label)
		require.Len(t, d.Reasons, 1)
		assert.Contains(t, d.Reasons[0], "insufficient data")
	})

	t.Run("telemetry alone retires a silent agent", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 0, Runs: 60, AvgLatencyMs: 6000})
		assert.Equal(t, 85, d.Score)
		assert.Equal(t, domain.LabelRetire, d.Label)
		assert.Equal(t, domain.VerdictKill, d.Verdict)
		require.Len(t, d.Reasons, 1)
		assert.Contains(t, d.Reasons[0], "retirement score 85")
	})

	t.Run("few records with mild telemetry still holds", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 0, Runs: 12, AvgLatencyMs: 6000})
		assert.Equal(t, 45, d.Score)
		assert.Equal(t, domain.LabelInsufficientData, d.Label)
		assert.Equal(t, domain.VerdictHold, d.Verdict)
	})

	t.Run("hold has empty reasons", func(t *testing.T) {
		d := s.Decide(domain.AgentStats{Signals: 10, Runs: 10, PnLSumBps: 20, HitRate: 0.5, AvgLatencyMs: 100})
		assert.Equal(t, domain.VerdictHold, d.Verdict)
		assert.NotNil(t, d.Reasons)
		assert.Empty(t, d.Reasons)
	})
}
