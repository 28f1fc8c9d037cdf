// Package governance runs one governance cycle: it reads the outcome window, evaluates
// every agent and strategy class, allocates capital and commits the cycle state.
package governance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/internal/services/allocator"
	"github.com/vadiminshakov/marti-governor/internal/services/capital"
	"github.com/vadiminshakov/marti-governor/internal/services/confidence"
	"github.com/vadiminshakov/marti-governor/internal/services/drawdown"
	"github.com/vadiminshakov/marti-governor/internal/services/regime"
	"github.com/vadiminshakov/marti-governor/internal/services/retirement"
	"github.com/vadiminshakov/marti-governor/internal/services/strategy"
	"github.com/vadiminshakov/marti-governor/internal/storage/atomicfile"
	"github.com/vadiminshakov/marti-governor/pkg/retrier"
)

const tracerName = "github.com/vadiminshakov/marti-governor/governance"

// DefaultMinRecords smallest window an agent needs to be scored and allocated.
const DefaultMinRecords = 5

// OutcomeSource provides the reconciled outcome window in chronological order.
type OutcomeSource interface {
	ReadOutcomes(ctx context.Context) ([]domain.OutcomeRecord, domain.ReadStats, error)
}

// RunSource provides agent run telemetry.
type RunSource interface {
	ReadRuns(ctx context.Context) ([]domain.RunEvent, domain.ReadStats, error)
}

// ConfidenceStore persists the confidence table.
type ConfidenceStore interface {
	Load() (domain.ConfidenceTable, error)
	Stage(b *atomicfile.Batch, table domain.ConfidenceTable, now time.Time) error
}

// KillListStore persists the strategy kill list.
type KillListStore interface {
	Load() (domain.KillList, error)
	Stage(b *atomicfile.Batch, list domain.KillList) error
}

// ReportStore persists per-cycle reports.
type ReportStore interface {
	Stage(b *atomicfile.Batch, report *domain.Report) error
}

// AllocationHistory append-only log of allocation snapshots.
type AllocationHistory interface {
	Append(snapshot domain.AllocationSnapshot) (uint64, error)
	History(limit int) ([]domain.AllocationRecord, error)
}

// Settings tunes every stage of the cycle. Zero sections fall back to defaults.
type Settings struct {
	HorizonHours     int
	MinRecords       int
	PrevailingRegime domain.Regime
	Confidence       confidence.Params
	Allocator        allocator.Params
	RegimePolicy     regime.Policy
	RegimeBases      map[domain.Regime]float64
	RegimeBands      []regime.Band
	Strategy         strategy.Params
	DrawdownBands    []drawdown.Band
	Retirement       retirement.Thresholds
	Capital          capital.Params
}

// Stores sources and persisted state the engine works with. Runs is optional.
type Stores struct {
	Outcomes   OutcomeSource
	Runs       RunSource
	Confidence ConfidenceStore
	KillList   KillListStore
	Reports    ReportStore
	History    AllocationHistory
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithRetrier replaces the policy used by Run to retry failed cycles.
func WithRetrier(r *retrier.Retrier) Option {
	return func(e *Engine) { e.retry = r }
}

// Engine governance report builder. It is the sole writer of the cycle state and
// serializes commits of concurrent cycles.
type Engine struct {
	l        *zap.Logger
	settings Settings
	stores   Stores

	tracker    *confidence.Tracker
	regimes    *regime.Calculator
	policy     regime.Policy
	scorer     *retirement.Scorer
	allocator  allocator.Allocator
	strategies *strategy.Governor
	drawdown   *drawdown.Governor
	capital    *capital.Calculator

	now    func() time.Time
	tracer trace.Tracer
	retry  *retrier.Retrier
	mu     sync.Mutex
}

// NewEngine wires the cycle components.
func NewEngine(l *zap.Logger, settings Settings, stores Stores, opts ...Option) (*Engine, error) {
	if stores.Outcomes == nil || stores.Confidence == nil || stores.KillList == nil ||
		stores.Reports == nil || stores.History == nil {
		return nil, errors.New("outcome source and every state store are required")
	}

	if settings.HorizonHours <= 0 {
		settings.HorizonHours = 24
	}
	if settings.MinRecords <= 0 {
		settings.MinRecords = DefaultMinRecords
	}
	if settings.Allocator.MaxWeight <= 0 {
		settings.Allocator = allocator.DefaultParams()
	}
	if settings.RegimePolicy.Missing() {
		l.Warn("regime cap policy missing, using defaults", zap.Error(domain.ErrPolicyMissing))
		settings.RegimePolicy = regime.DefaultPolicy()
	}
	if len(settings.RegimeBases) == 0 {
		settings.RegimeBases = regime.DefaultBases()
	}
	if len(settings.RegimeBands) == 0 {
		settings.RegimeBands = regime.DefaultBands()
	}
	if len(settings.DrawdownBands) == 0 {
		settings.DrawdownBands = drawdown.DefaultBands()
	}

	alloc, err := allocator.New(settings.Allocator)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create allocator")
	}

	e := &Engine{
		l:          l,
		settings:   settings,
		stores:     stores,
		tracker:    confidence.NewTracker(l, settings.Confidence, settings.MinRecords),
		regimes:    regime.NewCalculator(settings.RegimeBases, settings.RegimeBands),
		policy:     settings.RegimePolicy,
		scorer:     retirement.NewScorer(settings.Retirement, settings.MinRecords),
		allocator:  alloc,
		strategies: strategy.NewGovernor(l, settings.Strategy),
		drawdown:   drawdown.NewGovernor(settings.DrawdownBands),
		capital:    capital.NewCalculator(settings.Capital),
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
	}
	e.retry = retrier.New(
		retrier.WithMaxRetries(2),
		retrier.WithRetryIf(func(err error) bool { return errors.Is(err, domain.ErrPersistence) }),
		retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			l.Warn("retrying governance cycle", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// RunCycle evaluates the current window and commits confidence, kill list, report and
// allocation snapshot together. On a persistence failure nothing of the cycle is kept
// and the previous state stays authoritative.
func (e *Engine) RunCycle(ctx context.Context) (*domain.Report, error) {
	ctx, span := e.tracer.Start(ctx, "governance.cycle")
	defer span.End()

	cycleID := uuid.NewString()
	now := e.now().UTC()
	l := e.l.With(zap.String("cycle", cycleID))
	span.SetAttributes(attribute.String("cycle.id", cycleID))

	l.Info("governance cycle started",
		zap.String("regime", string(e.settings.PrevailingRegime)),
		zap.Int("horizon_hours", e.settings.HorizonHours),
	)

	report, state, err := e.evaluate(ctx, cycleID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluate")
		l.Error("governance cycle aborted", zap.Error(err))
		return nil, err
	}

	if err := e.commit(ctx, report, state, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		l.Error("governance cycle commit aborted", zap.Error(err))
		return nil, err
	}

	l.Info("governance cycle committed",
		zap.Int("agents", len(report.Agents)),
		zap.Int("allocated", len(report.Allocation.Weights)),
		zap.Int("breaches", len(report.Breaches)),
		zap.Int("reverts", len(report.Reverts)),
		zap.Float64("gross_exposure", report.Allocation.GrossExposure),
	)

	return report, nil
}

// Run executes cycles on a fixed interval until ctx is done. A cycle that failed on
// persisted state is retried with backoff, any other failure waits for the next tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.l.Info("starting governance loop", zap.Duration("interval", interval))

	for {
		err := e.retry.Do(ctx, func(ctx context.Context) error {
			_, err := e.RunCycle(ctx)
			return err
		})
		if err != nil && ctx.Err() == nil {
			e.l.Error("governance cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			e.l.Info("context done, stopping governance loop")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycleState persisted artifacts produced by one cycle.
type cycleState struct {
	confidence domain.ConfidenceTable
	killList   domain.KillList
}

func (e *Engine) evaluate(ctx context.Context, cycleID string, now time.Time) (*domain.Report, cycleState, error) {
	ctx, span := e.tracer.Start(ctx, "governance.read")
	prevConfidence, prevKillList, records, runs, input, err := e.read(ctx)
	span.End()
	if err != nil {
		return nil, cycleState{}, err
	}

	_, span = e.tracer.Start(ctx, "governance.evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)), attribute.Int("runs", len(runs)))

	byAgent := GroupByAgent(records)
	stats := BuildStats(byAgent, runs)

	regimeTable := e.regimes.Compute(records)
	for agent, st := range stats {
		st.RegimeMultiplier = e.regimes.Multiplier(regimeTable, st.LastRegime)
		stats[agent] = st
	}

	nextConfidence := e.tracker.Update(prevConfidence, byAgent, now)

	decisions := make(map[string]domain.Decision, len(stats))
	killed := make(map[string]bool)
	for _, agent := range domain.SortedKeys(stats) {
		d := e.scorer.Decide(stats[agent])
		decisions[agent] = d
		if d.Killed() {
			killed[agent] = true
		}
	}

	classes := e.strategies.Evaluate(prevKillList, records, killed, now)

	excluded := e.exclusions(stats, decisions, classes.KillList)
	gapCVaR := make(map[string]float64, len(classes.Strategies))
	for class, sr := range classes.Strategies {
		gapCVaR[class] = sr.GapCVaR95Bps
	}

	regimeCap := e.policy.Cap(e.settings.PrevailingRegime)
	raw := e.allocator.Allocate(allocator.Input{
		Stats:           stats,
		Confidence:      nextConfidence,
		StrategyGapCVaR: gapCVaR,
		Excluded:        excluded,
	})
	if !allocator.CapFeasible(raw, e.settings.Allocator.MaxWeight) {
		e.l.Warn("too few eligible agents to enforce the weight cap",
			zap.Int("agents", len(raw)),
			zap.Float64("max_weight", e.settings.Allocator.MaxWeight),
		)
	}
	weights := allocator.PostProcess(raw, e.settings.Allocator.MaxWeight, regimeCap)

	multipliers := make(map[string]float64, len(weights))
	for agent := range weights {
		multipliers[agent] = stats[agent].RegimeMultiplier
	}
	weights = allocator.Reweight(weights, multipliers, e.settings.Allocator.MaxWeight)

	fleet := BuildFleet(records, len(stats))
	dd := e.drawdown.Compute(fleet.CurrentDrawdownBps)

	snapshot := domain.AllocationSnapshot{
		CycleID:                 cycleID,
		Timestamp:               now,
		Method:                  e.allocator.Method(),
		Weights:                 weights,
		RegimeCap:               regimeCap,
		DrawdownMultiplier:      dd.Multiplier,
		GrossExposure:           round4(regimeCap * dd.Multiplier),
		PortfolioPnLBps:         fleet.PortfolioPnLBps,
		PortfolioMaxDrawdownBps: fleet.PortfolioMaxDrawdownBps,
	}

	history, err := e.stores.History.History(e.capital.Window() - 1)
	if err != nil {
		return nil, cycleState{}, persistenceError("allocation history", err)
	}
	snapshots := make([]domain.AllocationSnapshot, 0, len(history)+1)
	for _, rec := range history {
		snapshots = append(snapshots, rec.Snapshot)
	}
	cycleMoves := []domain.CapitalMove{}
	if len(snapshots) > 0 {
		cycleMoves = e.capital.Deltas(snapshots[len(snapshots)-1], snapshot)
	}
	snapshots = append(snapshots, snapshot)

	report := &domain.Report{
		CycleID:           cycleID,
		GeneratedAt:       now,
		HorizonHours:      e.settings.HorizonHours,
		PrevailingRegime:  e.settings.PrevailingRegime,
		Input:             input,
		Agents:            make(map[string]domain.AgentReport, len(nextConfidence)+len(stats)),
		Strategies:        classes.Strategies,
		Fleet:             fleet,
		RegimeMultipliers: regimeTable,
		Drawdown:          dd,
		Allocation:        snapshot,
		Breaches:          classes.Breaches,
		Reverts:           classes.Reverts,
		CapitalAtRisk:     e.capital.AtRisk(snapshot, fleet.PortfolioCVaR95Bps),
		CapitalMovement:   e.capital.Movement(snapshots),
		CycleMoves:        cycleMoves,
	}

	for agent, st := range stats {
		state, ok := nextConfidence[agent]
		if !ok {
			state = domain.ConfidenceState{Multiplier: domain.DefaultConfidence}
		}
		report.Agents[agent] = domain.AgentReport{
			Stats:      st,
			Confidence: state,
			Decision:   decisions[agent],
			Weight:     weights[agent],
			Excluded:   excluded[agent],
		}
	}

	// agents known only from the persisted confidence table
	for agent, state := range nextConfidence {
		if _, ok := stats[agent]; ok {
			continue
		}
		st := domain.AgentStats{
			Agent:         agent,
			StrategyClass: domain.UnclassifiedStrategy,
			LastRegime:    domain.RegimeUnknown,
			PnLSeries:     []float64{},
		}
		st.RegimeMultiplier = e.regimes.Multiplier(regimeTable, st.LastRegime)
		report.Agents[agent] = domain.AgentReport{
			Stats:      st,
			Confidence: state,
			Decision:   e.scorer.Decide(st),
			Excluded:   fmt.Sprintf("insufficient data: %d records", st.Signals),
		}
	}

	// telemetry-only and idle agents still need their class in the report
	for _, ar := range report.Agents {
		st := ar.Stats
		if _, ok := report.Strategies[st.StrategyClass]; !ok {
			sr := strategy.Attribute(nil)
			sr.Entry = classes.KillList.Entry(st.StrategyClass)
			report.Strategies[st.StrategyClass] = sr
		}
	}

	return report, cycleState{confidence: nextConfidence, killList: classes.KillList}, nil
}

func (e *Engine) read(ctx context.Context) (
	domain.ConfidenceTable, domain.KillList, []domain.OutcomeRecord, []domain.RunEvent, domain.ReadStats, error,
) {
	prevConfidence, err := e.stores.Confidence.Load()
	if err != nil {
		return nil, nil, nil, nil, domain.ReadStats{}, persistenceError("confidence", err)
	}
	prevKillList, err := e.stores.KillList.Load()
	if err != nil {
		return nil, nil, nil, nil, domain.ReadStats{}, persistenceError("kill list", err)
	}

	records, input, err := e.stores.Outcomes.ReadOutcomes(ctx)
	if err != nil {
		return nil, nil, nil, nil, input, persistenceError("outcome log", err)
	}
	if input.Skipped > 0 || input.Filtered > 0 {
		e.l.Info("outcome window read",
			zap.Int("read", input.Read),
			zap.Int("skipped", input.Skipped),
			zap.Int("filtered", input.Filtered),
		)
	}

	var runs []domain.RunEvent
	if e.stores.Runs != nil {
		var runStats domain.ReadStats
		runs, runStats, err = e.stores.Runs.ReadRuns(ctx)
		if err != nil {
			return nil, nil, nil, nil, input, persistenceError("run telemetry", err)
		}
		if runStats.Skipped > 0 {
			e.l.Info("run telemetry read", zap.Int("read", runStats.Read), zap.Int("skipped", runStats.Skipped))
		}
	}

	return prevConfidence, prevKillList, records, runs, input, nil
}

// exclusions lists agents that receive no allocation this cycle with the reason.
func (e *Engine) exclusions(
	stats map[string]domain.AgentStats,
	decisions map[string]domain.Decision,
	killList domain.KillList,
) map[string]string {
	excluded := make(map[string]string)
	for agent, st := range stats {
		switch {
		case st.Signals < e.settings.MinRecords:
			excluded[agent] = fmt.Sprintf("insufficient data: %d records", st.Signals)
		case decisions[agent].Killed():
			excluded[agent] = "decision KILL"
		case killList.Disabled(st.StrategyClass):
			excluded[agent] = fmt.Sprintf("strategy class %s disabled", st.StrategyClass)
		}
	}
	return excluded
}

func (e *Engine) commit(ctx context.Context, report *domain.Report, state cycleState, now time.Time) error {
	_, span := e.tracer.Start(ctx, "governance.commit")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	batch := atomicfile.NewBatch()

	if err := e.stores.Confidence.Stage(batch, state.confidence, now); err != nil {
		batch.Discard()
		return persistenceError("confidence", err)
	}
	if err := e.stores.KillList.Stage(batch, state.killList); err != nil {
		batch.Discard()
		return persistenceError("kill list", err)
	}
	if err := e.stores.Reports.Stage(batch, report); err != nil {
		batch.Discard()
		return persistenceError("report", err)
	}

	if err := batch.Publish(); err != nil {
		return persistenceError("state files", err)
	}

	// the history append is the commit point
	index, err := e.stores.History.Append(report.Allocation)
	if err != nil {
		if rerr := batch.Rollback(); rerr != nil {
			e.l.Error("allocation append failed and state files were not restored", zap.Error(rerr))
		}
		return persistenceError("allocation history", err)
	}
	batch.Release()

	span.SetAttributes(attribute.Int64("allocation.index", int64(index)))
	return nil
}

func persistenceError(artifact string, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return domain.NewPersistenceError(artifact, err)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
