// Command governor evaluates the agent fleet on reconciled outcomes and publishes
// allocation weights, kill decisions and the governance report.
//
// Usage:
//
//	governor --config governor.yaml            (cycle loop)
//	governor --config governor.yaml --once     (single cycle, prints a summary)
//	governor --config governor.yaml --serve    (cycle loop plus read API)
//	governor --setup --config governor.yaml    (configuration wizard)
//
// Every config field can be overridden with GOVERNOR_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/marti-governor/config"
	"github.com/vadiminshakov/marti-governor/internal/services/governance"
	"github.com/vadiminshakov/marti-governor/internal/setup"
	"github.com/vadiminshakov/marti-governor/internal/storage/allocations"
	"github.com/vadiminshakov/marti-governor/internal/storage/confidence"
	"github.com/vadiminshakov/marti-governor/internal/storage/events"
	"github.com/vadiminshakov/marti-governor/internal/storage/killlist"
	"github.com/vadiminshakov/marti-governor/internal/storage/reports"
	"github.com/vadiminshakov/marti-governor/internal/tracing"
	"github.com/vadiminshakov/marti-governor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	regimeFlag := flag.String("regime", "", "prevailing regime label, overrides config")
	intervalFlag := flag.Duration("interval", 0, "cycle interval, overrides config")
	once := flag.Bool("once", false, "run a single cycle and exit")
	serve := flag.Bool("serve", false, "expose the governance read API")
	runSetup := flag.Bool("setup", false, "run the configuration wizard")
	flag.Parse()

	if *runSetup {
		path := *configPath
		if path == "" {
			path = "governor.yaml"
		}
		if err := setup.RunTUI(path); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if *regimeFlag != "" {
		cfg.PrevailingRegime = strings.ToUpper(strings.TrimSpace(*regimeFlag))
	}
	if *intervalFlag > 0 {
		cfg.Interval = *intervalFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *once, *serve); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("governor stopped", zap.Error(err))
	}
}

func run(ctx context.Context, l *zap.Logger, cfg config.Config, once, serve bool) error {
	shutdown, err := tracing.Setup(ctx, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			l.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	outcomes, closeOutcomes, err := openOutcomes(l, cfg)
	if err != nil {
		return err
	}
	defer closeOutcomes()

	runs, err := events.NewRunReader(l, cfg.Paths.Telemetry, cfg.WindowLimit)
	if err != nil {
		return err
	}

	history, err := allocations.NewWALStore(cfg.AllocationsDir())
	if err != nil {
		return errors.Wrap(err, "open allocation history")
	}
	defer history.Close()

	reportStore := reports.NewStore(cfg.Paths.StateDir)
	killListStore := killlist.NewStore(cfg.Paths.StateDir)

	engine, err := governance.NewEngine(l, cfg.Engine(), governance.Stores{
		Outcomes:   outcomes,
		Runs:       runs,
		Confidence: confidence.NewStore(cfg.Paths.StateDir),
		KillList:   killListStore,
		Reports:    reportStore,
		History:    history,
	})
	if err != nil {
		return err
	}

	if once {
		report, err := engine.RunCycle(ctx)
		if err != nil {
			return err
		}
		fmt.Println(renderSummary(report))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx, cfg.Interval)
	})
	if serve {
		srv := web.NewServer(l, cfg.ListenAddr, history, reportStore, killListStore)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	l.Info("governor started",
		zap.String("state_dir", cfg.Paths.StateDir),
		zap.String("regime", cfg.PrevailingRegime),
		zap.Duration("interval", cfg.Interval),
		zap.Bool("serve", serve))

	return g.Wait()
}

// openOutcomes prefers the SQLite database when one is configured.
func openOutcomes(l *zap.Logger, cfg config.Config) (governance.OutcomeSource, func(), error) {
	if cfg.Paths.SQLite != "" {
		r, err := events.NewSQLiteReader(l, cfg.Paths.SQLite, cfg.ReaderOptions())
		if err != nil {
			return nil, nil, err
		}
		return r, func() {
			if err := r.Close(); err != nil {
				l.Warn("failed to close outcome db", zap.Error(err))
			}
		}, nil
	}

	r, err := events.NewJSONLReader(l, cfg.Paths.Events, cfg.ReaderOptions())
	if err != nil {
		return nil, nil, err
	}
	return r, func() {}, nil
}
