package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/storage"
)

func TestLocalStorage_SaveAndURL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := storage.NewLocalStorage(&config.LocalStorageConfig{
		Dir:        dir,
		PublicPath: "/api/v1/files/videos",
	})

	err := s.Save(context.Background(),
		"test-7-1700000000000.webm", strings.NewReader("video-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "test-7-1700000000000.webm"))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	assert.Equal(t,
		"/api/v1/files/videos/test-7-1700000000000.webm",
		s.URL("test-7-1700000000000.webm"))
}

func TestLocalStorage_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "public", "videos")
	s := storage.NewLocalStorage(&config.LocalStorageConfig{Dir: dir})

	err := s.Save(context.Background(), "a.webm", strings.NewReader("x"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "a.webm"))
	require.NoError(t, err)
}

func TestLocalStorage_DefaultPublicPath(t *testing.T) {
	t.Parallel()

	s := storage.NewLocalStorage(&config.LocalStorageConfig{Dir: t.TempDir()})

	assert.Equal(t, "/api/v1/files/a.webm", s.URL("a.webm"))
}

func TestLocalStorage_URLNeverExposesRawPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := storage.NewLocalStorage(&config.LocalStorageConfig{
		Dir:        dir,
		PublicPath: "/files",
	})

	url := s.URL("nested/../b.webm")
	assert.Equal(t, "/files/b.webm", url)
	assert.NotContains(t, url, dir)
}
