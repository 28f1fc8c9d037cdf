package domain

import "time"

// RiskSnapshot tail and path statistics of a realized PnL series, in bps.
type RiskSnapshot struct {
	VaR95             float64 `json:"var_95_bps"`
	CVaR95            float64 `json:"cvar_95_bps"`
	MaxDrawdown       float64 `json:"max_dd_bps"`
	Volatility        float64 `json:"volatility_bps"`
	DownsideDeviation float64 `json:"downside_deviation_bps"`
	Sortino           float64 `json:"sortino"`
	Calmar            float64 `json:"calmar"`
	// PnLTrend exponential moving average of the most recent outcomes.
	PnLTrend float64 `json:"pnl_trend_bps"`
}

// AgentStats joined per-agent statistics of the current window.
type AgentStats struct {
	Agent          string  `json:"agent"`
	StrategyClass  string  `json:"strategy_class"`
	Signals        int     `json:"signals"`
	Runs           int     `json:"runs"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	ErrorRate      float64 `json:"error_rate"`
	CostUSD        float64 `json:"cost_usd"`
	PnLSumBps      float64 `json:"pnl_sum_bps"`
	HitRate        float64 `json:"hit_rate"`
	AvgAbsErrorBps float64 `json:"avg_abs_error_bps"`
	LastRegime     Regime  `json:"last_regime,omitempty"`
	// RegimeMultiplier multiplier of LastRegime from the current regime table.
	RegimeMultiplier float64      `json:"regime_multiplier"`
	Risk             RiskSnapshot `json:"risk"`
	// PnLSeries realized outcomes in chronological order.
	PnLSeries []float64 `json:"-"`
}

// FleetStats portfolio-level aggregate over every record of the window.
type FleetStats struct {
	PortfolioPnLBps         float64 `json:"portfolio_pnl_bps"`
	PortfolioHitRate        float64 `json:"portfolio_hit_rate"`
	PortfolioMaxDrawdownBps float64 `json:"portfolio_max_drawdown_bps"`
	CurrentDrawdownBps      float64 `json:"current_drawdown_bps"`
	PortfolioCVaR95Bps      float64 `json:"portfolio_cvar95_bps"`
	SharpeApprox            float64 `json:"sharpe_approx"`
	TotalSignals            int     `json:"total_signals"`
	Agents                  int     `json:"agents"`
}

// ConfidenceState per-agent confidence multiplier carried between cycles.
type ConfidenceState struct {
	Multiplier float64   `json:"multiplier"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConfidenceTable confidence states keyed by agent.
type ConfidenceTable map[string]ConfidenceState

// DefaultConfidence multiplier of an agent without history.
const DefaultConfidence = 1.0

// Multiplier returns the agent multiplier or DefaultConfidence.
func (t ConfidenceTable) Multiplier(agent string) float64 {
	if s, ok := t[agent]; ok && s.Multiplier > 0 {
		return s.Multiplier
	}
	return DefaultConfidence
}

// Clone returns a copy safe to mutate.
func (t ConfidenceTable) Clone() ConfidenceTable {
	out := make(ConfidenceTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// RegimeStats one row of the regime multiplier table.
type RegimeStats struct {
	Multiplier       float64 `json:"multiplier"`
	Base             float64 `json:"base"`
	DrawdownAdj      float64 `json:"drawdown_adj"`
	HitRateAdj       float64 `json:"hit_adj"`
	CumulativePnLBps float64 `json:"cumulative_pnl_bps"`
	Trades           int     `json:"trades"`
	HitRate          float64 `json:"hit_rate"`
}

// RegimeMultiplierTable multipliers keyed by regime, recomputed every cycle.
type RegimeMultiplierTable map[Regime]RegimeStats

// DrawdownState exposure band chosen by the drawdown governor.
type DrawdownState struct {
	DrawdownBps float64 `json:"drawdown_bps"`
	Band        string  `json:"band"`
	Multiplier  float64 `json:"multiplier"`
	Reason      string  `json:"reason"`
}
