package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/fsutil"
)

// Invocation describes one runner launch. It is an ephemeral value object
// constructed per call, never persisted.
type Invocation struct {
	// Target is the spec file relative to the project root; empty runs
	// the whole project.
	Target  string
	Browser string
	Headed  bool
}

// Result is the outcome of one runner launch. A failing test suite is a
// normal Result with ExitOK false, not an error.
type Result struct {
	ExitOK   bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Manifest lists the files the runner wrote under the output
	// directory, relative to it, in traversal order. Harvesting consumes
	// this instead of re-scanning the directory.
	Manifest []string
}

// Runner spawns the external test runner as a child process.
type Runner interface {
	// Execute clears the output directory, launches the runner, and
	// returns the captured outcome. Only process-launch failure returns
	// an error, and even then the partial Result is returned alongside it.
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// Config for the process runner.
type Config struct {
	// Command is the argument vector prefix, e.g. ["npx", "playwright"].
	Command     []string
	ProjectRoot string
	OutputDir   string // relative to ProjectRoot
}

// NewRunner creates a new process runner.
func NewRunner(log logrus.FieldLogger, cfg *Config) Runner {
	return &runner{
		log: log.WithField("component", "process-runner"),
		cfg: cfg,
	}
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log logrus.FieldLogger
	cfg *Config
}

func (r *runner) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	outputDir := filepath.Join(r.cfg.ProjectRoot, r.cfg.OutputDir)

	// Clean before run so harvesting never sees stale artifacts from a
	// prior run. The ordering clean -> run -> harvest is a strict
	// invariant.
	if err := fsutil.RecreateDir(outputDir); err != nil {
		return &Result{}, fmt.Errorf("preparing output directory: %w", err)
	}

	name, args := r.buildCommand(inv)

	log := r.log.WithFields(logrus.Fields{
		"target":  inv.Target,
		"browser": inv.Browser,
	})
	log.Info("Launching runner")

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.cfg.ProjectRoot
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		ExitOK:   err == nil,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		Manifest: collectManifest(outputDir),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is the normal shape of a failing test suite.
			result.ExitCode = exitErr.ExitCode()

			log.WithFields(logrus.Fields{
				"exit_code": result.ExitCode,
				"duration":  duration,
			}).Info("Runner exited non-zero")

			return result, nil
		}

		// Spawn-level failure: missing binary, bad working directory.
		return result, fmt.Errorf("launching runner: %w", err)
	}

	log.WithField("duration", duration).Info("Runner completed")

	return result, nil
}

// buildCommand assembles the argument vector. Arguments are passed as
// discrete values so user-controlled names never reach a shell.
func (r *runner) buildCommand(inv *Invocation) (string, []string) {
	args := make([]string, 0, len(r.cfg.Command)+5)
	args = append(args, r.cfg.Command[1:]...)
	args = append(args, "test")

	if inv.Target != "" {
		args = append(args, inv.Target)
	}

	args = append(args, "--project="+inv.Browser)

	if inv.Headed {
		args = append(args, "--headed")
	}

	args = append(args, "--reporter=json")

	return r.cfg.Command[0], args
}

// collectManifest walks the output directory and returns every file path
// relative to it. Walk errors degrade to a shorter manifest; harvesting
// falls back to its own scan when the manifest is empty.
func collectManifest(outputDir string) []string {
	var files []string

	_ = filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // skip unreadable entries
		}

		rel, relErr := filepath.Rel(outputDir, path)
		if relErr != nil {
			return nil
		}

		files = append(files, rel)

		return nil
	})

	return files
}
