package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	killStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderSummary formats the cycle outcome for a terminal.
func renderSummary(r *domain.Report) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("cycle " + r.CycleID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "regime %s  records %d  skipped %d  filtered %d\n",
		r.PrevailingRegime, r.Input.Read, r.Input.Skipped, r.Input.Filtered)
	fmt.Fprintf(&b, "drawdown %s (%.1f bps, x%.2f)  gross exposure %.4f\n\n",
		r.Drawdown.Band, r.Drawdown.DrawdownBps, r.Drawdown.Multiplier, r.Allocation.GrossExposure)

	fmt.Fprintf(&b, "%-20s %-8s %8s %10s  %s\n", "agent", "decision", "weight", "pnl bps", "note")
	for _, agent := range domain.SortedKeys(r.Agents) {
		a := r.Agents[agent]
		verdict := string(a.Decision.Verdict)
		if a.Decision.Killed() {
			verdict = killStyle.Render(verdict)
		}
		fmt.Fprintf(&b, "%-20s %-8s %8.4f %10.1f  %s\n",
			agent, verdict, a.Weight, a.Stats.PnLSumBps, a.Excluded)
	}

	for _, t := range r.Breaches {
		fmt.Fprintf(&b, "\n%s %s: %s", killStyle.Render("DISABLED"), t.Class, strings.Join(t.Reasons, "; "))
	}
	for _, t := range r.Reverts {
		fmt.Fprintf(&b, "\nRE-ENABLED %s: %s", t.Class, strings.Join(t.Reasons, "; "))
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
