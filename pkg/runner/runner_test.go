package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2elab/runnoor/pkg/artifacts"
	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/process"
	"github.com/e2elab/runnoor/pkg/recorder"
	"github.com/e2elab/runnoor/pkg/report"
	"github.com/e2elab/runnoor/pkg/script"
	"github.com/e2elab/runnoor/pkg/storage"
	"github.com/e2elab/runnoor/pkg/store"
	"github.com/e2elab/runnoor/pkg/sysinfo"
)

// fakeProc returns a canned result instead of spawning anything.
type fakeProc struct {
	result *process.Result
	err    error
	last   *process.Invocation
}

func (f *fakeProc) Execute(_ context.Context, inv *process.Invocation) (*process.Result, error) {
	f.last = inv

	if f.result == nil {
		f.result = &process.Result{}
	}

	return f.result, f.err
}

type harness struct {
	orch       Orchestrator
	store      store.Store
	proc       *fakeProc
	cfg        *config.Config
	projectID  uint
	testCaseID uint
}

func newHarness(t *testing.T, proc *fakeProc) *harness {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		Project: config.ProjectConfig{
			Root:      root,
			TestDir:   "tests",
			OutputDir: "test-results",
			BaseURL:   "http://localhost:3000",
		},
		Runner: config.RunnerConfig{
			Command:        []string{"npx", "playwright"},
			DefaultBrowser: "chromium",
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(root, "test.db")},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	ctx := context.Background()

	p := &store.Project{Name: "shop"}
	require.NoError(t, st.CreateProject(ctx, p))

	tc := &store.TestCase{ProjectID: p.ID, Name: "checkout flow"}
	require.NoError(t, st.CreateTestCase(ctx, tc))

	require.NoError(t, st.ReplaceSteps(ctx, tc.ID, []store.Step{
		{Order: 1, Action: "click", Selector: "#buy"},
		{Order: 2, Action: "assert", Expected: "order confirmed"},
	}))

	videoStore := storage.NewLocalStorage(&config.LocalStorageConfig{
		Dir: filepath.Join(root, "videos"),
	})

	orch := NewOrchestrator(
		log,
		cfg,
		st,
		script.NewMaterializer(log, cfg.TestDirPath()),
		proc,
		report.NewNormalizer(log),
		artifacts.NewHarvester(log, videoStore),
		recorder.NewRecorder(log, st),
		sysinfo.NewCollector(log),
		nil,
	)

	return &harness{
		orch:       orch,
		store:      st,
		proc:       proc,
		cfg:        cfg,
		projectID:  p.ID,
		testCaseID: tc.ID,
	}
}

const passingReport = `{
  "stats": { "expected": 1, "unexpected": 0, "duration": 1234.5 },
  "suites": [{
    "title": "checkout-flow.spec.ts",
    "specs": [{
      "title": "checkout flow",
      "ok": true,
      "tests": [{
        "title": "checkout flow",
        "status": "passed",
        "ok": true,
        "duration": 1200,
        "steps": [
          { "title": "click #buy", "duration": 400 },
          { "title": "assert", "duration": 800 }
        ]
      }]
    }]
  }]
}`

const failingReport = `{
  "stats": { "expected": 0, "unexpected": 1, "duration": 900 },
  "suites": [{
    "title": "checkout-flow.spec.ts",
    "specs": [{
      "title": "checkout flow",
      "ok": false,
      "tests": [{
        "title": "checkout flow",
        "status": "failed",
        "duration": 850,
        "error": { "message": "expect failed" }
      }]
    }]
  }]
}`

func TestRunTestCase_Success(t *testing.T) {
	proc := &fakeProc{result: &process.Result{
		ExitOK:   true,
		Stdout:   passingReport,
		Duration: 2 * time.Second,
	}}

	h := newHarness(t, proc)

	outcome, err := h.orch.RunTestCase(context.Background(), h.testCaseID,
		&RunOptions{InitiatorID: "user-1"})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, store.StatusPassed, outcome.Status)
	require.NotNil(t, outcome.DurationMS)
	assert.Equal(t, int64(2000), *outcome.DurationMS)

	// Step results are zipped positionally against the domain steps.
	require.NotNil(t, outcome.Result)
	require.Len(t, outcome.Result.StepResults, 2)
	assert.Equal(t, "click", outcome.Result.StepResults[0].Action)
	assert.Equal(t, "assert", outcome.Result.StepResults[1].Action)

	// The spec file was materialized and targeted.
	assert.Equal(t, "tests/checkout-flow.spec.ts", proc.last.Target)
	assert.Equal(t, "chromium", proc.last.Browser)

	_, err = os.Stat(filepath.Join(h.cfg.TestDirPath(), "checkout-flow.spec.ts"))
	require.NoError(t, err)

	// Exactly one history row, linked to the test case.
	execs, err := h.store.ListExecutions(context.Background(), h.testCaseID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Success)
	assert.NotNil(t, execs[0].ResultData)
	assert.NotNil(t, execs[0].SystemInfo)

	tc, err := h.store.GetTestCase(context.Background(), h.testCaseID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPassed, tc.Status)
	assert.Equal(t, "user-1", tc.LastRunBy)
}

func TestRunTestCase_FailureAppendsStderr(t *testing.T) {
	proc := &fakeProc{result: &process.Result{
		ExitOK:   false,
		ExitCode: 1,
		Stdout:   failingReport,
		Stderr:   "1 failed",
		Duration: time.Second,
	}}

	h := newHarness(t, proc)

	outcome, err := h.orch.RunTestCase(context.Background(), h.testCaseID, &RunOptions{})
	require.NoError(t, err, "a failing suite is not an error")

	assert.False(t, outcome.Success)
	assert.Equal(t, store.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Output, failingReport)
	assert.Contains(t, outcome.Output, "\n\nErrors:\n1 failed")

	execs, err := h.store.ListExecutions(context.Background(), h.testCaseID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.False(t, execs[0].Success)
}

func TestRunTestCase_ReportParseFallsBackToExitCode(t *testing.T) {
	proc := &fakeProc{result: &process.Result{
		ExitOK:   true,
		Stdout:   "not json at all",
		Duration: time.Second,
	}}

	h := newHarness(t, proc)

	outcome, err := h.orch.RunTestCase(context.Background(), h.testCaseID, &RunOptions{})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Nil(t, outcome.Result)

	execs, err := h.store.ListExecutions(context.Background(), h.testCaseID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Nil(t, execs[0].ResultData)
}

func TestRunTestCase_LaunchFailure(t *testing.T) {
	proc := &fakeProc{
		result: &process.Result{Stderr: "npx: command not found"},
		err:    os.ErrNotExist,
	}

	h := newHarness(t, proc)

	outcome, err := h.orch.RunTestCase(context.Background(), h.testCaseID, &RunOptions{})
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, store.StatusFailed, outcome.Status)
	assert.Nil(t, outcome.DurationMS)

	// The history row exists even for launch failures, with no duration.
	execs, listErr := h.store.ListExecutions(context.Background(), h.testCaseID, 0)
	require.NoError(t, listErr)
	require.Len(t, execs, 1)
	assert.Nil(t, execs[0].ExecutionTimeMS)
	require.NotNil(t, execs[0].ErrorMessage)
}

func TestRunTestCase_UnknownBrowser(t *testing.T) {
	h := newHarness(t, &fakeProc{})

	_, err := h.orch.RunTestCase(context.Background(), h.testCaseID,
		&RunOptions{Browser: "msedge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown browser")

	execs, listErr := h.store.ListExecutions(context.Background(), h.testCaseID, 0)
	require.NoError(t, listErr)
	assert.Empty(t, execs, "precondition failures never write history")
}

func TestRunProject_Sweep(t *testing.T) {
	proc := &fakeProc{result: &process.Result{
		ExitOK:   true,
		Stdout:   passingReport,
		Duration: 3 * time.Second,
	}}

	h := newHarness(t, proc)

	outcome, err := h.orch.RunProject(context.Background(), h.projectID,
		&RunOptions{Browser: "firefox", InitiatorID: "scheduler"})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Empty(t, proc.last.Target, "sweeps run the whole project")
	assert.Equal(t, "firefox", proc.last.Browser)

	execs, err := h.store.ListProjectExecutions(context.Background(), h.projectID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Nil(t, execs[0].TestCaseID)
	assert.Equal(t, "scheduler", execs[0].InitiatorID)
}

func TestRunTestCase_HarvestsArtifacts(t *testing.T) {
	proc := &fakeProc{}
	h := newHarness(t, proc)

	// Simulate the runner leaving artifacts in the output directory.
	outputDir := h.cfg.OutputDirPath()
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(outputDir, "video.webm"), []byte("v"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(outputDir, "failure.png"), []byte("p"), 0o644))

	proc.result = &process.Result{
		ExitOK:   true,
		Stdout:   passingReport,
		Duration: time.Second,
		Manifest: []string{"video.webm", "failure.png"},
	}

	outcome, err := h.orch.RunTestCase(context.Background(), h.testCaseID, &RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, outcome.VideoURL)
	require.Len(t, outcome.Screenshots, 1)
	assert.Equal(t, "failure.png", outcome.Screenshots[0].Name)

	execs, err := h.store.ListExecutions(context.Background(), h.testCaseID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.NotNil(t, execs[0].VideoRef)
}
