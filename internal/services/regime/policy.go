package regime

import (
	"strings"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// DefaultUnknownCap cap of a regime the policy does not list.
const DefaultUnknownCap = 0.5

// Policy maps the prevailing regime label to the fraction of capital allowed.
type Policy struct {
	Caps       map[string]float64 `yaml:"caps"`
	UnknownCap float64            `yaml:"unknown_cap"`
}

// DefaultPolicy returns the built-in cap policy.
func DefaultPolicy() Policy {
	return Policy{
		Caps: map[string]float64{
			"RISK_OFF": 0.20,
			"HIGH_VOL": 0.35,
			"MIXED":    0.60,
			"RISK_ON":  1.00,
		},
		UnknownCap: DefaultUnknownCap,
	}
}

// Missing reports whether the policy has to be replaced by defaults.
func (p Policy) Missing() bool {
	return len(p.Caps) == 0
}

// Cap returns the cap of a label, UnknownCap for empty or unlisted labels.
func (p Policy) Cap(regime domain.Regime) float64 {
	unknown := p.UnknownCap
	if unknown <= 0 {
		unknown = DefaultUnknownCap
	}

	label := strings.ToUpper(strings.TrimSpace(string(regime)))
	if label == "" {
		return unknown
	}
	for k, v := range p.Caps {
		if strings.ToUpper(k) == label {
			return v
		}
	}
	return unknown
}
