package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st := store.NewStore(logrus.New(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: t.TempDir() + "/recorder.db"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	return st
}

func seed(t *testing.T, st store.Store) (uint, uint) {
	t.Helper()

	ctx := context.Background()

	p := &store.Project{Name: "shop", Status: "unknown"}
	require.NoError(t, st.CreateProject(ctx, p))

	tc := &store.TestCase{ProjectID: p.ID, Name: "checkout", Status: "unknown"}
	require.NoError(t, st.CreateTestCase(ctx, tc))

	return p.ID, tc.ID
}

func TestRecordSuccess(t *testing.T) {
	st := newTestStore(t)
	projectID, testCaseID := seed(t, st)

	r := NewRecorder(logrus.New(), st).(*recorder)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	duration := int64(4200)
	r.RecordSuccess(context.Background(), &Record{
		ProjectID:   projectID,
		TestCaseID:  &testCaseID,
		Browser:     "chromium",
		InitiatorID: "user-1",
		Output:      "all good",
		DurationMS:  &duration,
	})

	execs, err := st.ListExecutions(context.Background(), testCaseID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	assert.True(t, execs[0].Success)
	assert.Equal(t, store.StatusPassed, execs[0].Status)
	require.NotNil(t, execs[0].ExecutionTimeMS)
	assert.Equal(t, int64(4200), *execs[0].ExecutionTimeMS)

	tc, err := st.GetTestCase(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPassed, tc.Status)
	assert.Equal(t, "user-1", tc.LastRunBy)

	// The project cache belongs to sweeps; a single test case run leaves it.
	p, err := st.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, "unknown", p.Status)
}

func TestRecord_TestCaseRunLeavesProjectStatus(t *testing.T) {
	st := newTestStore(t)
	projectID, testCaseID := seed(t, st)

	r := NewRecorder(logrus.New(), st)

	// A sweep marks the project failed.
	r.RecordFailure(context.Background(), &Record{
		ProjectID:   projectID,
		Browser:     "chromium",
		InitiatorID: "scheduler",
	})

	// One passing test afterwards must not flip the project back.
	r.RecordSuccess(context.Background(), &Record{
		ProjectID:   projectID,
		TestCaseID:  &testCaseID,
		Browser:     "chromium",
		InitiatorID: "user-1",
	})

	p, err := st.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, p.Status)
	assert.Equal(t, "scheduler", p.LastRunBy)

	tc, err := st.GetTestCase(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPassed, tc.Status)
}

func TestRecordFailure_LaunchFailureHasNoDuration(t *testing.T) {
	st := newTestStore(t)
	projectID, testCaseID := seed(t, st)

	r := NewRecorder(logrus.New(), st)

	msg := "npx: command not found"
	r.RecordFailure(context.Background(), &Record{
		ProjectID:    projectID,
		TestCaseID:   &testCaseID,
		Browser:      "chromium",
		InitiatorID:  "user-1",
		ErrorMessage: &msg,
	})

	execs, err := st.ListExecutions(context.Background(), testCaseID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	assert.False(t, execs[0].Success)
	assert.Nil(t, execs[0].ExecutionTimeMS)
	assert.Nil(t, execs[0].ResultData)
	require.NotNil(t, execs[0].ErrorMessage)
	assert.Equal(t, msg, *execs[0].ErrorMessage)
}

func TestRecord_ProjectWideRunSkipsTestCaseUpdate(t *testing.T) {
	st := newTestStore(t)
	projectID, testCaseID := seed(t, st)

	r := NewRecorder(logrus.New(), st)

	r.RecordFailure(context.Background(), &Record{
		ProjectID:   projectID,
		Browser:     "firefox",
		InitiatorID: "scheduler",
	})

	tc, err := st.GetTestCase(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Equal(t, "unknown", tc.Status)

	p, err := st.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, p.Status)

	execs, err := st.ListProjectExecutions(context.Background(), projectID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Nil(t, execs[0].TestCaseID)
}

func TestRecord_StoreErrorsAreSwallowed(t *testing.T) {
	st := newTestStore(t)

	r := NewRecorder(logrus.New(), st)

	// Project 999 does not exist; gorm updates simply match zero rows and
	// the recorder must not panic or surface anything.
	r.RecordSuccess(context.Background(), &Record{ProjectID: 999})
}
