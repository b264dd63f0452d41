package recorder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/store"
)

// Record is everything known about a finished execution. Pointer fields
// are optional: a launch failure has no duration and no result data.
type Record struct {
	ProjectID    uint
	TestCaseID   *uint
	Browser      string
	InitiatorID  string
	Output       string
	DurationMS   *int64
	ErrorMessage *string
	ResultData   *string
	VideoRef     *string
	SystemInfo   *string
}

// Recorder persists execution outcomes. Every run produces exactly one
// execution row regardless of how it ended, and the cached status on the
// run's owner (test case, or project for sweeps) is refreshed alongside
// it. Persistence failures are logged and swallowed: history must never
// mask the run outcome.
type Recorder interface {
	RecordSuccess(ctx context.Context, rec *Record)
	RecordFailure(ctx context.Context, rec *Record)
}

// Compile-time interface check.
var _ Recorder = (*recorder)(nil)

type recorder struct {
	log   logrus.FieldLogger
	store store.Store
	now   func() time.Time
}

// NewRecorder creates a recorder writing to st.
func NewRecorder(log logrus.FieldLogger, st store.Store) Recorder {
	return &recorder{
		log:   log.WithField("component", "recorder"),
		store: st,
		now:   time.Now,
	}
}

func (r *recorder) RecordSuccess(ctx context.Context, rec *Record) {
	r.record(ctx, rec, true)
}

func (r *recorder) RecordFailure(ctx context.Context, rec *Record) {
	r.record(ctx, rec, false)
}

func (r *recorder) record(ctx context.Context, rec *Record, success bool) {
	status := store.StatusFailed
	if success {
		status = store.StatusPassed
	}

	at := r.now()

	exec := &store.Execution{
		ProjectID:       rec.ProjectID,
		TestCaseID:      rec.TestCaseID,
		Success:         success,
		Status:          status,
		ExecutionTimeMS: rec.DurationMS,
		Output:          rec.Output,
		ErrorMessage:    rec.ErrorMessage,
		ResultData:      rec.ResultData,
		Browser:         rec.Browser,
		InitiatorID:     rec.InitiatorID,
		VideoRef:        rec.VideoRef,
		SystemInfo:      rec.SystemInfo,
		CreatedAt:       at,
	}

	if err := r.store.CreateExecution(ctx, exec); err != nil {
		r.log.WithError(err).Error("Failed to persist execution")
	}

	// The cached status follows the run's scope: a single test case run
	// refreshes its own cache, a whole project sweep refreshes the
	// project's. A passing test must not flip a project a sweep marked
	// failed.
	if rec.TestCaseID != nil {
		err := r.store.UpdateTestCaseStatus(ctx, *rec.TestCaseID, status, at, rec.InitiatorID)
		if err != nil {
			r.log.WithError(err).Error("Failed to update test case status")
		}
	} else {
		err := r.store.UpdateProjectStatus(ctx, rec.ProjectID, status, at, rec.InitiatorID)
		if err != nil {
			r.log.WithError(err).Error("Failed to update project status")
		}
	}

	r.log.WithFields(logrus.Fields{
		"project": rec.ProjectID,
		"status":  status,
	}).Debug("Execution recorded")
}
