package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKillListEntry(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	k := KillList{
		"momentum": {Status: StrategyDisabled, Reason: "hit rate", DisabledAt: &at},
		"carry":    {Reason: "legacy entry"},
	}

	assert.True(t, k.Disabled("momentum"))
	assert.False(t, k.Disabled("carry"))
	assert.Equal(t, StrategyActive, k.Entry("carry").Status)
	assert.Equal(t, KillListEntry{Status: StrategyActive}, k.Entry("unseen"))
	assert.False(t, KillList(nil).Disabled("momentum"))
}

func TestKillListClone(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	k := KillList{"momentum": {Status: StrategyDisabled, DisabledAt: &at}}

	c := k.Clone()
	*c["momentum"].DisabledAt = at.Add(time.Hour)
	c["breakout"] = KillListEntry{Status: StrategyDisabled}

	assert.Equal(t, at, *k["momentum"].DisabledAt)
	assert.NotContains(t, k, "breakout")
}

func TestSortedKeysAndSnapshot(t *testing.T) {
	s := AllocationSnapshot{Weights: map[string]float64{"zeta": 0.2, "alpha": 0.5, "mid": 0.3}}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, s.Agents())
	assert.Equal(t, 0.5, s.Weight("alpha"))
	assert.Zero(t, s.Weight("missing"))
	assert.False(t, s.Empty())
	assert.True(t, AllocationSnapshot{}.Empty())
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestConfidenceTableMultiplier(t *testing.T) {
	tbl := ConfidenceTable{"alpha": {Multiplier: 0.7}, "broken": {}}

	assert.Equal(t, 0.7, tbl.Multiplier("alpha"))
	assert.Equal(t, DefaultConfidence, tbl.Multiplier("broken"))
	assert.Equal(t, DefaultConfidence, tbl.Multiplier("unseen"))

	c := tbl.Clone()
	c["alpha"] = ConfidenceState{Multiplier: 0.1}
	assert.Equal(t, 0.7, tbl.Multiplier("alpha"))
}
