package setup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/marti-governor/config"
	"github.com/vadiminshakov/marti-governor/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const title = "GOVERNOR CONFIG WIZARD"

// Answers raw wizard input, kept as strings the way the form fields hold them.
type Answers struct {
	Source    string
	Events    string
	SQLite    string
	Telemetry string
	StateDir  string
	Regime    string
	Method    string
	MaxWeight string
	NAVUSD    string
	Interval  string
}

// DefaultAnswers prefills the form from cfg.
func DefaultAnswers(cfg config.Config) Answers {
	source := "jsonl"
	if cfg.Paths.SQLite != "" {
		source = "sqlite"
	}

	return Answers{
		Source:    source,
		Events:    cfg.Paths.Events,
		SQLite:    cfg.Paths.SQLite,
		Telemetry: cfg.Paths.Telemetry,
		StateDir:  cfg.Paths.StateDir,
		Regime:    cfg.PrevailingRegime,
		Method:    string(cfg.Allocator.Method),
		MaxWeight: strconv.FormatFloat(cfg.Allocator.MaxWeight, 'f', -1, 64),
		NAVUSD:    strconv.FormatFloat(cfg.Capital.NAVUSD, 'f', -1, 64),
		Interval:  cfg.Interval.String(),
	}
}

// Apply writes the answers over cfg and validates the result.
func (a Answers) Apply(cfg config.Config) (config.Config, error) {
	switch a.Source {
	case "sqlite":
		if strings.TrimSpace(a.SQLite) == "" {
			return config.Config{}, errors.New("sqlite path cannot be empty")
		}
		cfg.Paths.SQLite = strings.TrimSpace(a.SQLite)
	default:
		cfg.Paths.SQLite = ""
		cfg.Paths.Events = strings.TrimSpace(a.Events)
	}
	cfg.Paths.Telemetry = strings.TrimSpace(a.Telemetry)
	cfg.Paths.StateDir = strings.TrimSpace(a.StateDir)
	cfg.PrevailingRegime = strings.ToUpper(strings.TrimSpace(a.Regime))
	cfg.Allocator.Method = domain.AllocationMethod(a.Method)

	if err := validateWeight(a.MaxWeight); err != nil {
		return config.Config{}, errors.Wrap(err, "max weight")
	}
	cfg.Allocator.MaxWeight = decimal.RequireFromString(strings.TrimSpace(a.MaxWeight)).InexactFloat64()

	if err := validateNAV(a.NAVUSD); err != nil {
		return config.Config{}, errors.Wrap(err, "nav")
	}
	cfg.Capital.NAVUSD = decimal.RequireFromString(strings.TrimSpace(a.NAVUSD)).InexactFloat64()

	interval, err := time.ParseDuration(a.Interval)
	if err != nil {
		return config.Config{}, errors.Wrap(err, "interval")
	}
	cfg.Interval = interval

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// RunTUI launches the terminal configuration wizard and saves the result to path.
func RunTUI(path string) error {
	base := config.Default()
	a := DefaultAnswers(base)
	if a.Regime == "" {
		a.Regime = "RISK_ON"
	}
	var confirm bool

	step := func(name string) {
		fmt.Print("\033[H\033[2J") // Clear screen
		fmt.Println(headerStyle.Render(title))
		fmt.Println(stepStyle.Render(name))
	}

	// step 1: welcome + source
	step("STEP 1: OUTCOME SOURCE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point the governor at your reconciled outcomes.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where are reconciled outcomes stored?").
				Options(
					huh.NewOption("JSON lines log", "jsonl"),
					huh.NewOption("SQLite database", "sqlite"),
				).
				Value(&a.Source),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: PATHS")
	pathFields := []huh.Field{}
	if a.Source == "sqlite" {
		pathFields = append(pathFields, huh.NewInput().
			Title("SQLite database").
			Value(&a.SQLite).
			Validate(notEmpty("database path")))
	} else {
		pathFields = append(pathFields, huh.NewInput().
			Title("Outcome log").
			Description("JSON lines, one reconciled outcome per line").
			Value(&a.Events).
			Validate(notEmpty("outcome log")))
	}
	pathFields = append(pathFields,
		huh.NewInput().
			Title("Run telemetry log").
			Description("Optional, leave empty to skip").
			Value(&a.Telemetry),
		huh.NewInput().
			Title("State directory").
			Description("Confidence, kill-list, reports and allocation history").
			Value(&a.StateDir).
			Validate(notEmpty("state directory")),
	)
	if err = huh.NewForm(huh.NewGroup(pathFields...)).Run(); err != nil {
		return err
	}

	step("STEP 3: ALLOCATION")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Prevailing regime").
				Options(
					huh.NewOption("Risk on", "RISK_ON"),
					huh.NewOption("Mixed", "MIXED"),
					huh.NewOption("High volatility", "HIGH_VOL"),
					huh.NewOption("Risk off", "RISK_OFF"),
				).
				Value(&a.Regime),
			huh.NewSelect[string]().
				Title("Allocation method").
				Options(
					huh.NewOption("Tail-risk adjusted (CVaR 95)", string(domain.AllocationCVaR)),
					huh.NewOption("Legacy score", string(domain.AllocationLegacy)),
				).
				Value(&a.Method),
			huh.NewInput().
				Title("Max weight per agent").
				Description("Fraction of capital (0-1], e.g. 0.25").
				Value(&a.MaxWeight).
				Validate(validateWeight),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: CAPITAL & TIMING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Fleet NAV, USD").
				Value(&a.NAVUSD).
				Validate(validateNAV),
			huh.NewInput().
				Title("Cycle interval").
				Description("Duration string (e.g. 15m, 1h)").
				Value(&a.Interval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg, err := a.Apply(base)
	if err != nil {
		return err
	}

	// confirmation
	step("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(Summary(cfg)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

// Summary renders the settings the wizard asked for.
func Summary(cfg config.Config) string {
	source := "Events: " + cfg.Paths.Events
	if cfg.Paths.SQLite != "" {
		source = "SQLite: " + cfg.Paths.SQLite
	}
	telemetry := cfg.Paths.Telemetry
	if telemetry == "" {
		telemetry = "-"
	}

	return fmt.Sprintf(
		"%s\nTelemetry: %s\nState: %s\nRegime: %s\nMethod: %s\nMax weight: %v\nNAV: %s USD\nInterval: %s\n",
		source, telemetry, cfg.Paths.StateDir, cfg.PrevailingRegime, cfg.Allocator.Method,
		cfg.Allocator.MaxWeight, decimal.NewFromFloat(cfg.Capital.NAVUSD).StringFixed(2), cfg.Interval,
	)
}

func validateWeight(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("must be in (0, 1]")
	}
	return nil
}

func validateNAV(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if d.IsNegative() {
		return errors.New("cannot be negative")
	}
	return nil
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}
