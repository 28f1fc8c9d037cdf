// Package config loads the governor configuration from a YAML file with
// GOVERNOR_* environment overrides on top.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/services/allocator"
	"github.com/vadiminshakov/marti-governor/internal/services/capital"
	"github.com/vadiminshakov/marti-governor/internal/services/confidence"
	"github.com/vadiminshakov/marti-governor/internal/services/drawdown"
	"github.com/vadiminshakov/marti-governor/internal/services/governance"
	"github.com/vadiminshakov/marti-governor/internal/services/regime"
	"github.com/vadiminshakov/marti-governor/internal/services/retirement"
	"github.com/vadiminshakov/marti-governor/internal/services/strategy"
	"github.com/vadiminshakov/marti-governor/internal/storage/events"
)

// Paths input logs and the state directory.
type Paths struct {
	// Events JSON lines outcome log. Ignored when SQLite is set.
	Events string `yaml:"events"`
	// Telemetry JSON lines run log, optional.
	Telemetry string `yaml:"telemetry"`
	// SQLite outcome database, optional.
	SQLite   string `yaml:"sqlite"`
	StateDir string `yaml:"state_dir"`
}

// Config governor configuration.
type Config struct {
	Paths            Paths         `yaml:"paths"`
	HorizonHours     int           `yaml:"horizon_hours"`
	WindowLimit      int           `yaml:"window_limit"`
	MinRecords       int           `yaml:"min_records"`
	PrevailingRegime string        `yaml:"prevailing_regime"`
	Interval         time.Duration `yaml:"interval"`
	ListenAddr       string        `yaml:"listen_addr"`
	OtelEndpoint     string        `yaml:"otel_endpoint"`

	Confidence    confidence.Params     `yaml:"confidence"`
	Allocator     allocator.Params      `yaml:"allocator"`
	RegimePolicy  regime.Policy         `yaml:"regime_policy"`
	RegimeBases   map[string]float64    `yaml:"regime_bases"`
	RegimeBands   []regime.Band         `yaml:"regime_bands"`
	Strategy      strategy.Params       `yaml:"strategy"`
	DrawdownBands []drawdown.Band       `yaml:"drawdown_bands"`
	Retirement    retirement.Thresholds `yaml:"retirement"`
	Capital       capital.Params        `yaml:"capital"`
}

type envOverrides struct {
	StateDir         string        `env:"GOVERNOR_STATE_DIR"`
	Events           string        `env:"GOVERNOR_EVENTS_PATH"`
	Telemetry        string        `env:"GOVERNOR_TELEMETRY_PATH"`
	SQLite           string        `env:"GOVERNOR_SQLITE_PATH"`
	PrevailingRegime string        `env:"GOVERNOR_REGIME"`
	Method           string        `env:"GOVERNOR_ALLOCATION_METHOD"`
	NAVUSD           float64       `env:"GOVERNOR_NAV_USD"`
	Interval         time.Duration `env:"GOVERNOR_INTERVAL"`
	ListenAddr       string        `env:"GOVERNOR_LISTEN_ADDR"`
	OtelEndpoint     string        `env:"GOVERNOR_OTEL_ENDPOINT"`
}

// Default returns the built-in configuration.
func Default() Config {
	bases := make(map[string]float64)
	for r, v := range regime.DefaultBases() {
		bases[string(r)] = v
	}

	return Config{
		Paths: Paths{
			Events:   filepath.Join("data", "outcomes.jsonl"),
			StateDir: "state",
		},
		HorizonHours:  events.DefaultHorizonHours,
		WindowLimit:   events.DefaultWindowLimit,
		MinRecords:    governance.DefaultMinRecords,
		Interval:      time.Hour,
		ListenAddr:    ":8090",
		Confidence:    confidence.DefaultParams(),
		Allocator:     allocator.DefaultParams(),
		RegimePolicy:  regime.DefaultPolicy(),
		RegimeBases:   bases,
		RegimeBands:   regime.DefaultBands(),
		Strategy:      strategy.DefaultParams(),
		DrawdownBands: drawdown.DefaultBands(),
		Retirement:    retirement.DefaultThresholds(),
		Capital:       capital.DefaultParams(),
	}
}

// Load reads path on top of the defaults, applies environment overrides and validates
// the result. An empty path means defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(payload, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "decode config %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return errors.Wrap(err, "parse env")
	}

	if raw.StateDir != "" {
		c.Paths.StateDir = raw.StateDir
	}
	if raw.Events != "" {
		c.Paths.Events = raw.Events
	}
	if raw.Telemetry != "" {
		c.Paths.Telemetry = raw.Telemetry
	}
	if raw.SQLite != "" {
		c.Paths.SQLite = raw.SQLite
	}
	if raw.PrevailingRegime != "" {
		c.PrevailingRegime = raw.PrevailingRegime
	}
	if raw.Method != "" {
		c.Allocator.Method = domain.AllocationMethod(raw.Method)
	}
	if raw.NAVUSD > 0 {
		c.Capital.NAVUSD = raw.NAVUSD
	}
	if raw.Interval > 0 {
		c.Interval = raw.Interval
	}
	if raw.ListenAddr != "" {
		c.ListenAddr = raw.ListenAddr
	}
	if raw.OtelEndpoint != "" {
		c.OtelEndpoint = raw.OtelEndpoint
	}

	return nil
}

// Validate rejects settings no cycle can run with.
func (c Config) Validate() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir is required")
	}
	if c.Paths.Events == "" && c.Paths.SQLite == "" {
		return errors.New("either paths.events or paths.sqlite is required")
	}
	if c.HorizonHours <= 0 {
		return errors.Errorf("horizon_hours must be positive, got %d", c.HorizonHours)
	}
	if c.WindowLimit <= 0 {
		return errors.Errorf("window_limit must be positive, got %d", c.WindowLimit)
	}
	if c.MinRecords <= 0 {
		return errors.Errorf("min_records must be positive, got %d", c.MinRecords)
	}
	if c.Interval <= 0 {
		return errors.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.Allocator.MaxWeight <= 0 || c.Allocator.MaxWeight > 1 {
		return errors.Errorf("allocator.max_weight must be in (0, 1], got %v", c.Allocator.MaxWeight)
	}
	if c.Allocator.LambdaRisk < 0 {
		return errors.Errorf("allocator.lambda_risk must be non-negative, got %v", c.Allocator.LambdaRisk)
	}
	switch c.Allocator.Method {
	case domain.AllocationCVaR, domain.AllocationLegacy:
	default:
		return errors.Errorf("allocator.method must be %s or %s, got %q",
			domain.AllocationCVaR, domain.AllocationLegacy, c.Allocator.Method)
	}
	if c.Confidence.Floor > 0 && c.Confidence.Ceiling > 0 && c.Confidence.Floor > c.Confidence.Ceiling {
		return errors.Errorf("confidence.floor %v is above confidence.ceiling %v", c.Confidence.Floor, c.Confidence.Ceiling)
	}
	for label, v := range c.RegimePolicy.Caps {
		if v < 0 || v > 1 {
			return errors.Errorf("regime_policy.caps.%s must be in [0, 1], got %v", label, v)
		}
	}
	for _, b := range c.DrawdownBands {
		if b.Multiplier < 0 || b.Multiplier > 1 {
			return errors.Errorf("drawdown band %s multiplier must be in [0, 1], got %v", b.Name, b.Multiplier)
		}
	}
	if c.Capital.RiskBudgetPct < 0 || c.Capital.RiskBudgetPct > 1 {
		return errors.Errorf("capital.risk_budget_pct must be in [0, 1], got %v", c.Capital.RiskBudgetPct)
	}

	return nil
}

// Engine returns the cycle settings.
func (c Config) Engine() governance.Settings {
	bases := make(map[domain.Regime]float64, len(c.RegimeBases))
	for label, v := range c.RegimeBases {
		bases[domain.NormalizeRegime(label)] = v
	}

	return governance.Settings{
		HorizonHours:     c.HorizonHours,
		MinRecords:       c.MinRecords,
		PrevailingRegime: domain.Regime(strings.ToUpper(strings.TrimSpace(c.PrevailingRegime))),
		Confidence:       c.Confidence,
		Allocator:        c.Allocator,
		RegimePolicy:     c.RegimePolicy,
		RegimeBases:      bases,
		RegimeBands:      c.RegimeBands,
		Strategy:         c.Strategy,
		DrawdownBands:    c.DrawdownBands,
		Retirement:       c.Retirement,
		Capital:          c.Capital,
	}
}

// ReaderOptions window selection for the outcome readers.
func (c Config) ReaderOptions() events.Options {
	return events.Options{HorizonHours: c.HorizonHours, Limit: c.WindowLimit}
}

// AllocationsDir directory of the allocation history WAL.
func (c Config) AllocationsDir() string {
	return filepath.Join(c.Paths.StateDir, "allocations")
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	payload, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create dir for %s", path)
		}
	}
	return errors.Wrapf(os.WriteFile(path, payload, 0o644), "write config %s", path)
}
