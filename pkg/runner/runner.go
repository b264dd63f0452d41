package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/e2elab/runnoor/pkg/artifacts"
	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/metrics"
	"github.com/e2elab/runnoor/pkg/process"
	"github.com/e2elab/runnoor/pkg/recorder"
	"github.com/e2elab/runnoor/pkg/report"
	"github.com/e2elab/runnoor/pkg/script"
	"github.com/e2elab/runnoor/pkg/store"
	"github.com/e2elab/runnoor/pkg/sysinfo"
)

// RunOptions carries per-run request parameters.
type RunOptions struct {
	Browser     string
	Headed      bool
	InitiatorID string
}

// RunOutcome is the response shape for a finished run. A failing test
// suite is a normal outcome, never an error.
type RunOutcome struct {
	Success     bool                     `json:"success"`
	Status      string                   `json:"status"`
	Output      string                   `json:"output"`
	DurationMS  *int64                   `json:"duration_ms,omitempty"`
	Result      *report.NormalizedResult `json:"result,omitempty"`
	Screenshots []artifacts.Screenshot   `json:"screenshots,omitempty"`
	VideoURL    string                   `json:"video_url,omitempty"`
}

// Orchestrator drives the full execution pipeline: materialize, run,
// normalize, harvest, record.
type Orchestrator interface {
	// RunTestCase executes a single test case and returns its outcome.
	RunTestCase(ctx context.Context, testCaseID uint, opts *RunOptions) (*RunOutcome, error)

	// RunProject executes every spec file in the project in one sweep.
	RunProject(ctx context.Context, projectID uint, opts *RunOptions) (*RunOutcome, error)
}

// Compile-time interface check.
var _ Orchestrator = (*orchestrator)(nil)

type orchestrator struct {
	log logrus.FieldLogger
	cfg *config.Config

	store        store.Store
	materializer script.Materializer
	proc         process.Runner
	normalizer   report.Normalizer
	harvester    artifacts.Harvester
	recorder     recorder.Recorder
	sysinfo      sysinfo.Collector
	metrics      *metrics.Metrics
}

// NewOrchestrator wires the execution pipeline. metrics may be nil.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	mat script.Materializer,
	proc process.Runner,
	norm report.Normalizer,
	harv artifacts.Harvester,
	rec recorder.Recorder,
	sys sysinfo.Collector,
	m *metrics.Metrics,
) Orchestrator {
	return &orchestrator{
		log:          log.WithField("component", "orchestrator"),
		cfg:          cfg,
		store:        st,
		materializer: mat,
		proc:         proc,
		normalizer:   norm,
		harvester:    harv,
		recorder:     rec,
		sysinfo:      sys,
		metrics:      m,
	}
}

func (o *orchestrator) RunTestCase(
	ctx context.Context, testCaseID uint, opts *RunOptions,
) (*RunOutcome, error) {
	tc, err := o.store.GetTestCase(ctx, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("loading test case: %w", err)
	}

	project, err := o.store.GetProject(ctx, tc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	steps, err := o.resolveSteps(ctx, tc.ID)
	if err != nil {
		return nil, err
	}

	fileName, err := o.materializer.Materialize(tc, steps, baseURL(o.cfg, project))
	if err != nil {
		return nil, fmt.Errorf("materializing spec: %w", err)
	}

	browser, err := o.pickBrowser(opts)
	if err != nil {
		return nil, err
	}

	run := &runContext{
		runID:       uuid.NewString(),
		projectID:   project.ID,
		testCaseID:  &tc.ID,
		ownerKey:    fmt.Sprintf("test-%d", tc.ID),
		target:      filepath.ToSlash(filepath.Join(o.cfg.Project.TestDir, fileName)),
		browser:     browser,
		headed:      opts.Headed,
		initiatorID: opts.InitiatorID,
		steps:       steps,
	}

	return o.run(ctx, run)
}

func (o *orchestrator) RunProject(
	ctx context.Context, projectID uint, opts *RunOptions,
) (*RunOutcome, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	// Refresh every spec file so the sweep runs current step definitions.
	testCases, err := o.store.ListTestCases(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	for i := range testCases {
		steps, stepErr := o.resolveSteps(ctx, testCases[i].ID)
		if stepErr != nil {
			return nil, stepErr
		}

		if _, matErr := o.materializer.Materialize(
			&testCases[i], steps, baseURL(o.cfg, project)); matErr != nil {
			return nil, fmt.Errorf("materializing spec: %w", matErr)
		}
	}

	browser, err := o.pickBrowser(opts)
	if err != nil {
		return nil, err
	}

	run := &runContext{
		runID:       uuid.NewString(),
		projectID:   project.ID,
		ownerKey:    "all-tests",
		browser:     browser,
		headed:      opts.Headed,
		initiatorID: opts.InitiatorID,
	}

	return o.run(ctx, run)
}

// runContext is the resolved parameter set for one pipeline pass.
type runContext struct {
	runID       string
	projectID   uint
	testCaseID  *uint
	ownerKey    string
	target      string // empty for whole-project sweeps
	browser     string
	headed      bool
	initiatorID string
	steps       []store.Step
}

// run executes the pipeline: launch, then normalize and harvest in
// parallel, then record. Recording happens on every branch.
func (o *orchestrator) run(ctx context.Context, rc *runContext) (*RunOutcome, error) {
	log := o.log.WithFields(logrus.Fields{
		"run_id":  rc.runID,
		"browser": rc.browser,
		"target":  rc.target,
	})

	snap := o.sysinfo.Collect(ctx)
	sysJSON := snap.JSON()

	res, launchErr := o.proc.Execute(ctx, &process.Invocation{
		Target:  rc.target,
		Browser: rc.browser,
		Headed:  rc.headed,
	})

	outputDir := o.cfg.OutputDirPath()

	if launchErr != nil {
		log.WithError(launchErr).Error("Runner failed to launch")

		// Launch failures still harvest: a crashed launch can leave
		// partial artifacts behind, and history rows are written on
		// every branch.
		harvest := o.harvester.Collect(ctx, outputDir, rc.ownerKey, res.Manifest)

		msg := launchErr.Error()
		o.recorder.RecordFailure(ctx, &recorder.Record{
			ProjectID:    rc.projectID,
			TestCaseID:   rc.testCaseID,
			Browser:      rc.browser,
			InitiatorID:  rc.initiatorID,
			Output:       combinedOutput(res, false),
			ErrorMessage: &msg,
			VideoRef:     optional(harvest.VideoRef),
			SystemInfo:   optional(sysJSON),
		})

		o.observe(store.StatusFailed, rc.browser, 0)

		return &RunOutcome{
			Status:      store.StatusFailed,
			Output:      combinedOutput(res, false),
			Screenshots: harvest.Screenshots,
			VideoURL:    harvest.VideoURL,
		}, launchErr
	}

	var (
		normalized *report.NormalizedResult
		harvest    *artifacts.Harvest
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		normalized = o.normalizer.Normalize([]byte(res.Stdout), rc.steps)

		return nil
	})

	g.Go(func() error {
		harvest = o.harvester.Collect(gctx, outputDir, rc.ownerKey, res.Manifest)

		return nil
	})

	_ = g.Wait()

	// The normalized report is authoritative when it parsed; the exit
	// code is the fallback when it did not.
	success := res.ExitOK
	if normalized != nil {
		success = normalized.Success
	}

	status := store.StatusFailed
	if success {
		status = store.StatusPassed
	}

	durationMS := res.Duration.Milliseconds()
	output := combinedOutput(res, success)

	rec := &recorder.Record{
		ProjectID:   rc.projectID,
		TestCaseID:  rc.testCaseID,
		Browser:     rc.browser,
		InitiatorID: rc.initiatorID,
		Output:      output,
		DurationMS:  &durationMS,
		VideoRef:    optional(harvest.VideoRef),
		SystemInfo:  optional(sysJSON),
	}

	if normalized != nil {
		if data, err := json.Marshal(normalized); err == nil {
			rec.ResultData = optional(string(data))
		}
	}

	if success {
		o.recorder.RecordSuccess(ctx, rec)
	} else {
		o.recorder.RecordFailure(ctx, rec)
	}

	o.observe(status, rc.browser, res.Duration.Seconds())

	if harvest.VideoRef != "" && o.metrics != nil {
		o.metrics.VideosStored.Inc()
	}

	log.WithFields(logrus.Fields{
		"status":   status,
		"duration": res.Duration,
	}).Info("Run finished")

	return &RunOutcome{
		Success:     success,
		Status:      status,
		Output:      output,
		DurationMS:  &durationMS,
		Result:      normalized,
		Screenshots: harvest.Screenshots,
		VideoURL:    harvest.VideoURL,
	}, nil
}

// resolveSteps loads the ordered steps of a test case with fixture
// references expanded in place.
func (o *orchestrator) resolveSteps(ctx context.Context, testCaseID uint) ([]store.Step, error) {
	steps, err := o.store.ListResolvedSteps(ctx, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("loading steps: %w", err)
	}

	return steps, nil
}

func (o *orchestrator) pickBrowser(opts *RunOptions) (string, error) {
	browser := opts.Browser
	if browser == "" {
		browser = o.cfg.Runner.DefaultBrowser
	}

	if !config.IsValidBrowser(browser) {
		return "", fmt.Errorf("unknown browser %q", browser)
	}

	return browser, nil
}

func (o *orchestrator) observe(status, browser string, seconds float64) {
	if o.metrics == nil {
		return
	}

	o.metrics.ObserveExecution(status, browser, seconds)
}

// combinedOutput renders the user-facing output. Successful runs show
// stdout alone; failures append stderr under an Errors heading.
func combinedOutput(res *process.Result, success bool) string {
	if success || res.Stderr == "" {
		return res.Stdout
	}

	return res.Stdout + "\n\nErrors:\n" + res.Stderr
}

func baseURL(cfg *config.Config, project *store.Project) string {
	if project.BaseURL != "" {
		return project.BaseURL
	}

	return cfg.Project.BaseURL
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
