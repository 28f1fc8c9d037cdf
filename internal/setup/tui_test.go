package setup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marti-governor/config"
	"github.com/vadiminshakov/marti-governor/internal/domain"
)

func TestDefaultAnswersApplyRoundTrip(t *testing.T) {
	base := config.Default()

	cfg, err := DefaultAnswers(base).Apply(base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
}

func TestAnswersApply(t *testing.T) {
	base := config.Default()
	a := DefaultAnswers(base)
	a.Source = "sqlite"
	a.SQLite = " data/outcomes.db "
	a.Telemetry = "data/runs.jsonl"
	a.Regime = "risk_off"
	a.Method = string(domain.AllocationLegacy)
	a.MaxWeight = "0.3"
	a.NAVUSD = "250000.50"
	a.Interval = "15m"

	cfg, err := a.Apply(base)
	require.NoError(t, err)

	assert.Equal(t, "data/outcomes.db", cfg.Paths.SQLite)
	assert.Equal(t, "data/runs.jsonl", cfg.Paths.Telemetry)
	assert.Equal(t, "RISK_OFF", cfg.PrevailingRegime)
	assert.Equal(t, domain.AllocationLegacy, cfg.Allocator.Method)
	assert.InDelta(t, 0.3, cfg.Allocator.MaxWeight, 1e-12)
	assert.InDelta(t, 250000.5, cfg.Capital.NAVUSD, 1e-9)
	assert.Equal(t, 15*time.Minute, cfg.Interval)
	assert.Contains(t, Summary(cfg), "SQLite: data/outcomes.db")
	assert.Contains(t, Summary(cfg), "NAV: 250000.50 USD")
}

func TestAnswersApplyRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Answers)
	}{
		{"empty sqlite path", func(a *Answers) { a.Source = "sqlite"; a.SQLite = " " }},
		{"weight above one", func(a *Answers) { a.MaxWeight = "1.5" }},
		{"zero weight", func(a *Answers) { a.MaxWeight = "0" }},
		{"weight not a number", func(a *Answers) { a.MaxWeight = "abc" }},
		{"negative nav", func(a *Answers) { a.NAVUSD = "-1" }},
		{"bad interval", func(a *Answers) { a.Interval = "soon" }},
		{"unknown method", func(a *Answers) { a.Method = "equal" }},
		{"empty state dir", func(a *Answers) { a.StateDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := config.Default()
			a := DefaultAnswers(base)
			tt.mutate(&a)

			_, err := a.Apply(base)
			assert.Error(t, err)
		})
	}
}
