package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e2elab/runnoor/pkg/api"
	"github.com/e2elab/runnoor/pkg/sched"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Serve starts the HTTP API for triggering runs, browsing execution
history, and fetching harvested artifacts. When scheduling is enabled it
also runs periodic whole project sweeps.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	defer a.stop()

	srv := api.NewServer(log, a.cfg, a.store, a.orch, a.registry)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	var scheduler sched.Scheduler

	if a.cfg.Schedule.Enabled {
		scheduler = sched.NewScheduler(log, &a.cfg.Schedule,
			func(ctx context.Context, browser string) {
				a.sweepAll(ctx, browser)
			})

		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.WithField("signal", sig).Info("Received shutdown signal")

	if scheduler != nil {
		scheduler.Stop()
	}

	return srv.Stop()
}
