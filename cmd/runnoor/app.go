package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/e2elab/runnoor/pkg/artifacts"
	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/metrics"
	"github.com/e2elab/runnoor/pkg/process"
	"github.com/e2elab/runnoor/pkg/recorder"
	"github.com/e2elab/runnoor/pkg/report"
	"github.com/e2elab/runnoor/pkg/runner"
	"github.com/e2elab/runnoor/pkg/script"
	"github.com/e2elab/runnoor/pkg/storage"
	"github.com/e2elab/runnoor/pkg/store"
	"github.com/e2elab/runnoor/pkg/sysinfo"
)

// app holds the wired execution pipeline shared by the run and serve
// commands.
type app struct {
	cfg      *config.Config
	store    store.Store
	orch     runner.Orchestrator
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// buildApp loads the config, connects the store, and wires the pipeline.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	var videoStore storage.Storage

	switch cfg.Storage.Backend {
	case "s3":
		videoStore = storage.NewS3Storage(cfg.Storage.S3)
	default:
		videoStore = storage.NewLocalStorage(cfg.Storage.Local)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := metrics.New(registry)

	orch := runner.NewOrchestrator(
		log,
		cfg,
		st,
		script.NewMaterializer(log, cfg.TestDirPath()),
		process.NewRunner(log, &process.Config{
			Command:     cfg.Runner.Command,
			ProjectRoot: cfg.Project.Root,
			OutputDir:   cfg.Project.OutputDir,
		}),
		report.NewNormalizer(log),
		artifacts.NewHarvester(log, videoStore),
		recorder.NewRecorder(log, st),
		sysinfo.NewCollector(log),
		m,
	)

	return &app{
		cfg:      cfg,
		store:    st,
		orch:     orch,
		registry: registry,
		metrics:  m,
	}, nil
}

// stop releases the app's resources.
func (a *app) stop() {
	if err := a.store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop store")
	}
}

// sweepAll runs a whole project sweep for every known project. Used by
// the scheduler; per-project failures are logged and the sweep moves on.
func (a *app) sweepAll(ctx context.Context, browser string) {
	a.metrics.ScheduledSweeps.Inc()

	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list projects for sweep")

		return
	}

	for _, p := range projects {
		if _, err := a.orch.RunProject(ctx, p.ID, &runner.RunOptions{
			Browser:     browser,
			InitiatorID: "scheduler",
		}); err != nil {
			log.WithError(err).WithField("project", p.Name).
				Error("Scheduled sweep failed")
		}
	}
}
