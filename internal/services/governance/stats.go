package governance

import (
	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/services/risk"
)

// GroupByAgent splits chronological records per agent, keeping their order.
func GroupByAgent(records []domain.OutcomeRecord) map[string][]domain.OutcomeRecord {
	out := make(map[string][]domain.OutcomeRecord)
	for _, r := range records {
		out[r.Agent] = append(out[r.Agent], r)
	}
	return out
}

// BuildStats joins outcome records and run telemetry into per-agent statistics.
// Agents seen only in telemetry get an entry with zero signals.
func BuildStats(byAgent map[string][]domain.OutcomeRecord, runs []domain.RunEvent) map[string]domain.AgentStats {
	stats := make(map[string]domain.AgentStats, len(byAgent))

	for agent, records := range byAgent {
		st := domain.AgentStats{
			Agent:         agent,
			StrategyClass: domain.UnclassifiedStrategy,
			Signals:       len(records),
			PnLSeries:     make([]float64, 0, len(records)),
		}

		var hits int
		var absErr float64
		for _, r := range records {
			st.PnLSeries = append(st.PnLSeries, r.RealizedPnLBps)
			st.PnLSumBps += r.RealizedPnLBps
			absErr += r.AbsErrorBps
			if r.IsHit() {
				hits++
			}
		}
		if n := len(records); n > 0 {
			last := records[n-1]
			st.StrategyClass = last.StrategyClass
			st.LastRegime = last.Regime
			st.HitRate = float64(hits) / float64(n)
			st.AvgAbsErrorBps = absErr / float64(n)
		}
		st.Risk = risk.Snapshot(st.PnLSeries)

		stats[agent] = st
	}

	type telemetry struct {
		runs, failed int
		latency, cost float64
	}
	byRun := make(map[string]*telemetry)
	for _, ev := range runs {
		t, ok := byRun[ev.Agent]
		if !ok {
			t = &telemetry{}
			byRun[ev.Agent] = t
		}
		t.runs++
		t.latency += ev.LatencyMs
		t.cost += ev.CostUSD
		if ev.Errors > 0 {
			t.failed++
		}
	}

	for agent, t := range byRun {
		st, ok := stats[agent]
		if !ok {
			st = domain.AgentStats{
				Agent:         agent,
				StrategyClass: domain.UnclassifiedStrategy,
				LastRegime:    domain.RegimeUnknown,
				PnLSeries:     []float64{},
			}
		}
		st.Runs = t.runs
		st.AvgLatencyMs = t.latency / float64(t.runs)
		st.ErrorRate = float64(t.failed) / float64(t.runs)
		st.CostUSD = t.cost
		stats[agent] = st
	}

	return stats
}

// BuildFleet aggregates every record of the window into portfolio figures.
func BuildFleet(records []domain.OutcomeRecord, agents int) domain.FleetStats {
	pnls := make([]float64, 0, len(records))
	var hits int
	for _, r := range records {
		pnls = append(pnls, r.RealizedPnLBps)
		if r.IsHit() {
			hits++
		}
	}

	fleet := domain.FleetStats{
		PortfolioPnLBps:         risk.Sum(pnls),
		PortfolioMaxDrawdownBps: risk.MaxDrawdown(pnls),
		CurrentDrawdownBps:      risk.CurrentDrawdown(pnls),
		PortfolioCVaR95Bps:      risk.CVaR(pnls, risk.DefaultAlpha),
		SharpeApprox:            risk.SharpeApprox(pnls),
		TotalSignals:            len(pnls),
		Agents:                  agents,
	}
	if len(pnls) > 0 {
		fleet.PortfolioHitRate = float64(hits) / float64(len(pnls))
	}

	return fleet
}
