package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2elab/runnoor/pkg/config"
)

func TestScheduler_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	s := NewScheduler(logrus.New(), &config.ScheduleConfig{Enabled: false},
		func(context.Context, string) { calls.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	assert.Zero(t, calls.Load())
}

func TestScheduler_InvalidCronSpec(t *testing.T) {
	t.Parallel()

	s := NewScheduler(logrus.New(), &config.ScheduleConfig{
		Enabled: true,
		Cron:    "not a cron spec",
	}, func(context.Context, string) {})

	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_RunsSweep(t *testing.T) {
	t.Parallel()

	fired := make(chan string, 1)

	s := NewScheduler(logrus.New(), &config.ScheduleConfig{
		Enabled: true,
		Cron:    "@every 100ms",
		Browser: "firefox",
	}, func(_ context.Context, browser string) {
		select {
		case fired <- browser:
		default:
		}
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case browser := <-fired:
		assert.Equal(t, "firefox", browser)
	case <-time.After(3 * time.Second):
		t.Fatal("sweep never fired")
	}
}
