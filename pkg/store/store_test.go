package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/store"
)

func setupStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func seedProject(t *testing.T, s store.Store) *store.Project {
	t.Helper()

	p := &store.Project{Name: "demo", BaseURL: "http://localhost:3000"}
	require.NoError(t, s.CreateProject(context.Background(), p))

	return p
}

func TestStore_TestCaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	p := seedProject(t, s)

	tc := &store.TestCase{ProjectID: p.ID, Name: "Login Flow", Tags: "smoke, auth"}
	require.NoError(t, s.CreateTestCase(ctx, tc))
	require.NotZero(t, tc.ID)

	got, err := s.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login Flow", got.Name)
	assert.Equal(t, []string{"smoke", "auth"}, got.TagList())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateTestCaseStatus(ctx, tc.ID, store.StatusPassed, now, "user-1"))

	got, err = s.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPassed, got.Status)
	assert.Equal(t, "user-1", got.LastRunBy)
	require.NotNil(t, got.LastRun)
}

func TestStore_StepsOrderedAndReplaced(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	p := seedProject(t, s)

	tc := &store.TestCase{ProjectID: p.ID, Name: "Checkout"}
	require.NoError(t, s.CreateTestCase(ctx, tc))

	// Insert out of order with a gap; listing must come back ascending.
	steps := []store.Step{
		{Order: 5, Action: "fill", Data: "user@example.com"},
		{Order: 1, Action: "click", Selector: "#buy"},
		{Order: 3, Action: "assert", Expected: "Cart updated", Disabled: true},
	}
	require.NoError(t, s.ReplaceSteps(ctx, tc.ID, steps))

	got, err := s.ListSteps(ctx, tc.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "click", got[0].Action)
	assert.Equal(t, "assert", got[1].Action)
	assert.Equal(t, "fill", got[2].Action)

	// Replace drops the old list entirely.
	require.NoError(t, s.ReplaceSteps(ctx, tc.ID, []store.Step{
		{Order: 1, Action: "goto"},
	}))

	got, err = s.ListSteps(ctx, tc.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "goto", got[0].Action)
}

func TestStore_ResolvedStepsExpandFixtures(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	p := seedProject(t, s)

	fixture := &store.Fixture{ProjectID: p.ID, Name: "login"}
	require.NoError(t, s.CreateFixture(ctx, fixture))
	require.NoError(t, s.ReplaceFixtureSteps(ctx, fixture.ID, []store.Step{
		{Order: 1, Action: "fill", Selector: "#user", Data: "admin"},
		{Order: 2, Action: "click", Selector: "#submit"},
	}))

	got, err := s.GetFixtureByName(ctx, p.ID, "login")
	require.NoError(t, err)
	assert.Equal(t, fixture.ID, got.ID)

	tc := &store.TestCase{ProjectID: p.ID, Name: "Dashboard"}
	require.NoError(t, s.CreateTestCase(ctx, tc))
	require.NoError(t, s.ReplaceSteps(ctx, tc.ID, []store.Step{
		{Order: 1, RefFixtureID: &fixture.ID},
		{Order: 2, Action: "assert", Expected: "Welcome"},
	}))

	resolved, err := s.ListResolvedSteps(ctx, tc.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	assert.Equal(t, "fill", resolved[0].Action)
	assert.Equal(t, "click", resolved[1].Action)
	assert.Equal(t, "assert", resolved[2].Action)

	// Expansion renumbers the order contiguously.
	for i, step := range resolved {
		assert.Equal(t, i+1, step.Order)
	}
}

func TestStore_ExecutionsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	p := seedProject(t, s)

	tc := &store.TestCase{ProjectID: p.ID, Name: "Search"}
	require.NoError(t, s.CreateTestCase(ctx, tc))

	ms := int64(1234)
	video := "test-1-1700000000000.webm"

	for i := 0; i < 3; i++ {
		e := &store.Execution{
			ProjectID:       p.ID,
			TestCaseID:      &tc.ID,
			Success:         i%2 == 0,
			Status:          store.StatusPassed,
			ExecutionTimeMS: &ms,
			Output:          "ok",
			Browser:         "chromium",
			InitiatorID:     "user-1",
			VideoRef:        &video,
		}
		require.NoError(t, s.CreateExecution(ctx, e))
	}

	execs, err := s.ListExecutions(ctx, tc.ID, 2)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	// Most recent first.
	assert.Greater(t, execs[0].ID, execs[1].ID)

	all, err := s.ListProjectExecutions(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_LaunchFailureRowHasNoDuration(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	p := seedProject(t, s)

	msg := "spawn npx ENOENT"
	e := &store.Execution{
		ProjectID:    p.ID,
		Success:      false,
		Status:       store.StatusFailed,
		Output:       "",
		ErrorMessage: &msg,
		Browser:      "firefox",
		InitiatorID:  "scheduler",
	}
	require.NoError(t, s.CreateExecution(ctx, e))

	execs, err := s.ListProjectExecutions(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Nil(t, execs[0].ExecutionTimeMS)
	assert.Nil(t, execs[0].ResultData)
	require.NotNil(t, execs[0].ErrorMessage)
	assert.Equal(t, msg, *execs[0].ErrorMessage)
}
