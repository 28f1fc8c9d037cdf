package domain

import "time"

// StrategyStatus kill-list status of a strategy class.
type StrategyStatus string

const (
	StrategyActive   StrategyStatus = "ACTIVE"
	StrategyDisabled StrategyStatus = "DISABLED"
)

// KillListEntry persisted state of one strategy class. Entries are never deleted.
type KillListEntry struct {
	Status         StrategyStatus `json:"status" yaml:"status"`
	Reason         string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	DisabledAt     *time.Time     `json:"disabled_at,omitempty" yaml:"disabled_at,omitempty"`
	ReEnabledAt    *time.Time     `json:"re_enabled_at,omitempty" yaml:"re_enabled_at,omitempty"`
	ReEnableReason string         `json:"re_enable_reason,omitempty" yaml:"re_enable_reason,omitempty"`
}

// KillList entries keyed by strategy class.
type KillList map[string]KillListEntry

// Entry returns the class entry, ACTIVE when the class was never breached.
func (k KillList) Entry(class string) KillListEntry {
	if e, ok := k[class]; ok {
		if e.Status == "" {
			e.Status = StrategyActive
		}
		return e
	}
	return KillListEntry{Status: StrategyActive}
}

// Disabled reports whether the class is currently disabled.
func (k KillList) Disabled(class string) bool {
	return k.Entry(class).Status == StrategyDisabled
}

// Clone returns a deep copy safe to mutate.
func (k KillList) Clone() KillList {
	out := make(KillList, len(k))
	for class, e := range k {
		if e.DisabledAt != nil {
			t := *e.DisabledAt
			e.DisabledAt = &t
		}
		if e.ReEnabledAt != nil {
			t := *e.ReEnabledAt
			e.ReEnabledAt = &t
		}
		out[class] = e
	}
	return out
}
