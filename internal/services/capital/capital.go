// Package capital translates allocation weights into USD risk budgets and
// tracks how capital moved across recent allocation history.
package capital

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// Params capital settings.
type Params struct {
	NAVUSD        float64 `yaml:"nav_usd"`
	RiskBudgetPct float64 `yaml:"risk_budget_pct"`
	// AgentRiskCaps scales the budget of individual agents, 1.0 when absent.
	AgentRiskCaps map[string]float64 `yaml:"agent_risk_caps"`
	// MovementSnapshots number of most recent history entries compared by Movement.
	MovementSnapshots int `yaml:"movement_snapshots"`
	TopMoves          int `yaml:"top_moves"`
}

// DefaultParams returns the production settings.
func DefaultParams() Params {
	return Params{
		NAVUSD:            1_000_000,
		RiskBudgetPct:     0.02,
		MovementSnapshots: 14,
		TopMoves:          12,
	}
}

// fallbackCVaRPct portfolio CVaR assumed when the window has no tail estimate.
var fallbackCVaRPct = decimal.NewFromFloat(0.01)

var bps = decimal.NewFromInt(10_000)

// Calculator computes capital figures.
type Calculator struct {
	p   Params
	nav decimal.Decimal
}

// NewCalculator creates a calculator, zero fields fall back to defaults.
func NewCalculator(p Params) *Calculator {
	d := DefaultParams()
	if p.NAVUSD <= 0 {
		p.NAVUSD = d.NAVUSD
	}
	if p.RiskBudgetPct <= 0 {
		p.RiskBudgetPct = d.RiskBudgetPct
	}
	if p.MovementSnapshots < 2 {
		p.MovementSnapshots = d.MovementSnapshots
	}
	if p.TopMoves <= 0 {
		p.TopMoves = d.TopMoves
	}
	return &Calculator{p: p, nav: decimal.NewFromFloat(p.NAVUSD)}
}

// Window number of history snapshots Movement compares.
func (c *Calculator) Window() int {
	return c.p.MovementSnapshots
}

// AtRisk returns the risk budget of every allocated agent, in lexical agent order.
func (c *Calculator) AtRisk(snap domain.AllocationSnapshot, portfolioCVaRBps float64) []domain.CapitalAtRisk {
	budget := c.nav.Mul(decimal.NewFromFloat(c.p.RiskBudgetPct)).Mul(decimal.NewFromFloat(snap.GrossExposure))

	var cvarUSD decimal.Decimal
	if portfolioCVaRBps == 0 {
		cvarUSD = c.nav.Mul(fallbackCVaRPct)
	} else {
		cvarUSD = decimal.NewFromFloat(math.Abs(portfolioCVaRBps)).Div(bps).Mul(c.nav)
	}
	cvarUSD = cvarUSD.Round(2)

	out := make([]domain.CapitalAtRisk, 0, len(snap.Weights))
	for _, agent := range snap.Agents() {
		w := snap.Weights[agent]
		agentCap, ok := c.p.AgentRiskCaps[agent]
		if !ok {
			agentCap = 1.0
		}

		out = append(out, domain.CapitalAtRisk{
			Agent:            agent,
			Weight:           w,
			RiskBudgetUSD:    budget.Mul(decimal.NewFromFloat(w)).Mul(decimal.NewFromFloat(agentCap)).Round(2),
			PortfolioCVaRUSD: cvarUSD,
		})
	}

	return out
}

// Movement compares the first and the last of the most recent history snapshots.
// history must be ordered oldest first.
func (c *Calculator) Movement(history []domain.AllocationSnapshot) domain.CapitalMovement {
	if len(history) < 2 {
		return domain.CapitalMovement{OK: false, Reason: "insufficient history"}
	}

	window := history
	if len(window) > c.p.MovementSnapshots {
		window = window[len(window)-c.p.MovementSnapshots:]
	}
	from, to := window[0], window[len(window)-1]

	moves := c.Deltas(from, to)
	if len(moves) > c.p.TopMoves {
		moves = moves[:c.p.TopMoves]
	}

	return domain.CapitalMovement{
		OK:     true,
		FromTS: from.Timestamp,
		ToTS:   to.Timestamp,
		Moves:  moves,
	}
}

// Deltas returns per-agent weight changes between two snapshots, largest move first.
func (c *Calculator) Deltas(from, to domain.AllocationSnapshot) []domain.CapitalMove {
	agents := make(map[string]struct{}, len(from.Weights)+len(to.Weights))
	for a := range from.Weights {
		agents[a] = struct{}{}
	}
	for a := range to.Weights {
		agents[a] = struct{}{}
	}

	moves := make([]domain.CapitalMove, 0, len(agents))
	for _, agent := range domain.SortedKeys(agents) {
		w0, w1 := from.Weight(agent), to.Weight(agent)
		delta := w1 - w0
		moves = append(moves, domain.CapitalMove{
			Agent:    agent,
			From:     round4(w0),
			To:       round4(w1),
			Delta:    round4(delta),
			DeltaUSD: decimal.NewFromFloat(delta).Mul(c.nav).Round(2),
		})
	}

	sort.SliceStable(moves, func(i, j int) bool {
		return math.Abs(moves[i].Delta) > math.Abs(moves[j].Delta)
	})

	return moves
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
