package sched

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/config"
)

// SweepFunc runs one whole project sweep. The scheduler does not care
// about the outcome; failures are recorded by the runner itself.
type SweepFunc func(ctx context.Context, browser string)

// Scheduler triggers periodic whole project sweeps from a cron spec.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}

// Compile-time interface check.
var _ Scheduler = (*scheduler)(nil)

type scheduler struct {
	log   logrus.FieldLogger
	cfg   *config.ScheduleConfig
	sweep SweepFunc
	cron  *cron.Cron
}

// NewScheduler creates a scheduler invoking sweep per the configured spec.
func NewScheduler(
	log logrus.FieldLogger,
	cfg *config.ScheduleConfig,
	sweep SweepFunc,
) Scheduler {
	return &scheduler{
		log:   log.WithField("component", "scheduler"),
		cfg:   cfg,
		sweep: sweep,
		cron:  cron.New(),
	}
}

// Start registers the sweep job and starts the cron loop. Sweeps run one
// at a time; a tick that fires while a sweep is still in flight is
// skipped rather than queued.
func (s *scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("Scheduler disabled")

		return nil
	}

	running := make(chan struct{}, 1)

	_, err := s.cron.AddFunc(s.cfg.Cron, func() {
		select {
		case running <- struct{}{}:
		default:
			s.log.Warn("Previous sweep still running, skipping tick")

			return
		}

		defer func() { <-running }()

		s.log.WithField("browser", s.cfg.Browser).Info("Starting scheduled sweep")
		s.sweep(ctx, s.cfg.Browser)
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.cfg.Cron, err)
	}

	s.cron.Start()
	s.log.WithField("cron", s.cfg.Cron).Info("Scheduler started")

	return nil
}

// Stop halts the cron loop and waits for an in-flight sweep to finish.
func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
}
