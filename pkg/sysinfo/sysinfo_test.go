package sysinfo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	t.Parallel()

	c := NewCollector(logrus.New())

	snap := c.Collect(context.Background())
	require.NotNil(t, snap)

	assert.NotEmpty(t, snap.OS)
	assert.NotEmpty(t, snap.Arch)
	assert.Positive(t, snap.CPUCores)
}

func TestSnapshotJSON(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{
		Hostname:      "ci-runner-1",
		OS:            "linux",
		Arch:          "amd64",
		CPUCores:      8,
		MemoryTotalMB: 16384,
	}

	var decoded Snapshot

	require.NoError(t, json.Unmarshal([]byte(snap.JSON()), &decoded))
	assert.Equal(t, *snap, decoded)
}
