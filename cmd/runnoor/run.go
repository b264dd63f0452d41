package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e2elab/runnoor/pkg/runner"
)

var (
	runTestCaseID uint
	runProjectID  uint
	runBrowser    string
	runHeaded     bool
	runInitiator  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a test case or a whole project sweep",
	Long: `Run executes a single test case (--test-case) or every spec file in
a project (--project), prints the outcome, and records it in the
execution history.`,
	RunE: runExecution,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().UintVar(&runTestCaseID, "test-case", 0, "test case ID to run")
	runCmd.Flags().UintVar(&runProjectID, "project", 0, "project ID to sweep")
	runCmd.Flags().StringVar(&runBrowser, "browser", "",
		"browser project (chromium, firefox, webkit)")
	runCmd.Flags().BoolVar(&runHeaded, "headed", false, "run with a visible browser")
	runCmd.Flags().StringVar(&runInitiator, "initiator", "cli", "initiator identifier")
}

func runExecution(cmd *cobra.Command, args []string) error {
	if (runTestCaseID == 0) == (runProjectID == 0) {
		return fmt.Errorf("exactly one of --test-case and --project is required")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	defer a.stop()

	opts := &runner.RunOptions{
		Browser:     runBrowser,
		Headed:      runHeaded,
		InitiatorID: runInitiator,
	}

	var outcome *runner.RunOutcome

	if runTestCaseID != 0 {
		outcome, err = a.orch.RunTestCase(ctx, runTestCaseID, opts)
	} else {
		outcome, err = a.orch.RunProject(ctx, runProjectID, opts)
	}

	if err != nil {
		return fmt.Errorf("running: %w", err)
	}

	fmt.Println(outcome.Output)

	if !outcome.Success {
		log.WithField("status", outcome.Status).Error("Run failed")
		os.Exit(1)
	}

	log.WithField("status", outcome.Status).Info("Run passed")

	return nil
}
