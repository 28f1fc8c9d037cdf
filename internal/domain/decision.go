package domain

// RetirementLabel score-derived retirement label.
type RetirementLabel string

const (
	LabelHealthy          RetirementLabel = "HEALTHY"
	LabelWatch            RetirementLabel = "WATCH"
	LabelDeprecate        RetirementLabel = "DEPRECATE"
	LabelRetire           RetirementLabel = "RETIRE"
	LabelInsufficientData RetirementLabel = "INSUFFICIENT_DATA"
)

// Verdict coarse per-agent action consumed by the worker scheduler.
type Verdict string

const (
	VerdictKill    Verdict = "KILL"
	VerdictHold    Verdict = "HOLD"
	VerdictPromote Verdict = "PROMOTE"
)

// Decision per-agent governance decision of one cycle.
type Decision struct {
	Score   int             `json:"retirement_score"`
	Label   RetirementLabel `json:"retirement_label"`
	Verdict Verdict         `json:"decision"`
	// Reasons lists the triggered conditions in evaluation order.
	Reasons []string `json:"reasons"`
}

// Killed reports whether the agent must be disabled.
func (d Decision) Killed() bool {
	return d.Verdict == VerdictKill
}
