package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentReport per-agent section of the governance report.
type AgentReport struct {
	Stats      AgentStats      `json:"stats"`
	Confidence ConfidenceState `json:"confidence"`
	Decision   Decision        `json:"decision"`
	Weight     float64         `json:"weight"`
	// Excluded explains why the agent received no allocation.
	Excluded string `json:"excluded,omitempty"`
}

// StrategyReport per-class section of the governance report.
type StrategyReport struct {
	Agents          []string      `json:"agents"`
	Trades          int           `json:"trades"`
	PnLSumBps       float64       `json:"pnl_sum_bps"`
	HitRate         float64       `json:"hit_rate"`
	CVaRErrorBps    float64       `json:"cvar_error_bps"`
	MeanAbsErrorBps float64       `json:"mean_abs_error_bps"`
	GapCVaR95Bps    float64       `json:"gap_cvar95_bps"`
	Entry           KillListEntry `json:"kill_list"`
}

// StrategyTransition breach or revert applied to a class in this cycle.
type StrategyTransition struct {
	Class   string         `json:"strategy"`
	From    StrategyStatus `json:"from"`
	To      StrategyStatus `json:"to"`
	Reasons []string       `json:"reasons"`
}

// CapitalAtRisk capital budget implied by an agent weight.
type CapitalAtRisk struct {
	Agent            string          `json:"agent"`
	Weight           float64         `json:"weight"`
	RiskBudgetUSD    decimal.Decimal `json:"risk_budget_usd"`
	PortfolioCVaRUSD decimal.Decimal `json:"portfolio_cvar_usd"`
}

// CapitalMove change of an agent weight between two allocation snapshots.
type CapitalMove struct {
	Agent    string          `json:"agent"`
	From     float64         `json:"w_from"`
	To       float64         `json:"w_to"`
	Delta    float64         `json:"delta"`
	DeltaUSD decimal.Decimal `json:"delta_capital_usd"`
}

// CapitalMovement top weight moves across recent history.
type CapitalMovement struct {
	OK     bool          `json:"ok"`
	Reason string        `json:"reason,omitempty"`
	FromTS time.Time     `json:"from_ts,omitempty"`
	ToTS   time.Time     `json:"to_ts,omitempty"`
	Moves  []CapitalMove `json:"top_moves,omitempty"`
}

// Report canonical per-cycle governance snapshot.
// Every known agent and strategy class has an entry.
type Report struct {
	CycleID           string                    `json:"cycle_id"`
	GeneratedAt       time.Time                 `json:"generated_at"`
	HorizonHours      int                       `json:"horizon_hours"`
	PrevailingRegime  Regime                    `json:"prevailing_regime"`
	Input             ReadStats                 `json:"input"`
	Agents            map[string]AgentReport    `json:"agents"`
	Strategies        map[string]StrategyReport `json:"strategies"`
	Fleet             FleetStats                `json:"fleet"`
	RegimeMultipliers RegimeMultiplierTable     `json:"regime_multipliers"`
	Drawdown          DrawdownState             `json:"drawdown"`
	Allocation        AllocationSnapshot        `json:"allocation"`
	Breaches          []StrategyTransition      `json:"breaches"`
	Reverts           []StrategyTransition      `json:"reverts"`
	CapitalAtRisk     []CapitalAtRisk           `json:"capital_at_risk"`
	CapitalMovement   CapitalMovement           `json:"capital_movement"`
	// CycleMoves weight changes against the previous allocation snapshot.
	CycleMoves []CapitalMove `json:"cycle_moves"`
}

// Decisions returns per-agent verdicts.
func (r *Report) Decisions() map[string]Decision {
	out := make(map[string]Decision, len(r.Agents))
	for agent, a := range r.Agents {
		out[agent] = a.Decision
	}
	return out
}
