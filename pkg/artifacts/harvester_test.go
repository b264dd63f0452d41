package artifacts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage records saved artifacts in memory.
type memStorage struct {
	saved map[string]string
	fail  bool
}

func (m *memStorage) Save(_ context.Context, name string, r io.Reader) error {
	if m.fail {
		return fmt.Errorf("storage unavailable")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	if m.saved == nil {
		m.saved = make(map[string]string)
	}

	m.saved[name] = string(data)

	return nil
}

func (m *memStorage) URL(name string) string {
	return "/api/v1/files/videos/" + name
}

func newTestHarvester(store *memStorage) *harvester {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	h := NewHarvester(log, store).(*harvester)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }

	return h
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestCollect_FirstVideoWins(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		filepath.Join("a", "video.webm"): "video-a",
		filepath.Join("b", "video.webm"): "video-b",
		filepath.Join("c", "video.webm"): "video-c",
	})

	store := &memStorage{}
	h := newTestHarvester(store)

	manifest := []string{
		filepath.Join("a", "video.webm"),
		filepath.Join("b", "video.webm"),
		filepath.Join("c", "video.webm"),
	}

	harvest := h.Collect(context.Background(), dir, "test-7", manifest)

	assert.Equal(t, "test-7-1700000000000.webm", harvest.VideoRef)
	assert.Equal(t, "/api/v1/files/videos/test-7-1700000000000.webm", harvest.VideoURL)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "video-a", store.saved["test-7-1700000000000.webm"])
}

func TestCollect_ScreenshotsTopLevelOnly(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"shot1.png":                       "img-1",
		"shot2.png":                       "img-2",
		filepath.Join("nested", "no.png"): "img-3",
	})

	h := newTestHarvester(&memStorage{})

	harvest := h.Collect(context.Background(), dir, "test-1", nil)

	require.Len(t, harvest.Screenshots, 2)

	decoded, err := base64.StdEncoding.DecodeString(harvest.Screenshots[0].Data)
	require.NoError(t, err)
	assert.Contains(t, []string{"img-1", "img-2"}, string(decoded))

	assert.Empty(t, harvest.VideoRef)
}

func TestCollect_NoManifestFallsBackToScan(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		filepath.Join("results", "video.webm"): "scanned",
	})

	store := &memStorage{}
	h := newTestHarvester(store)

	harvest := h.Collect(context.Background(), dir, "all-tests", nil)

	assert.Equal(t, "all-tests-1700000000000.webm", harvest.VideoRef)
	assert.Equal(t, "scanned", store.saved["all-tests-1700000000000.webm"])
}

func TestCollect_StorageFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"video.webm": "v",
		"shot.png":   "p",
	})

	h := newTestHarvester(&memStorage{fail: true})

	harvest := h.Collect(context.Background(), dir, "test-9", nil)

	// Video copy failed, but the harvest still completed and the
	// screenshot survived.
	assert.Empty(t, harvest.VideoRef)
	require.Len(t, harvest.Screenshots, 1)
}

func TestCollect_MissingOutputDir(t *testing.T) {
	h := newTestHarvester(&memStorage{})

	harvest := h.Collect(context.Background(),
		filepath.Join(t.TempDir(), "missing"), "test-1", nil)

	require.NotNil(t, harvest)
	assert.Empty(t, harvest.VideoRef)
	assert.Empty(t, harvest.Screenshots)
}

func TestIsVideo(t *testing.T) {
	assert.True(t, isVideo("a/b/clip.webm"))
	assert.True(t, isVideo("clip.MP4"))
	assert.False(t, isVideo("shot.png"))
	assert.False(t, isVideo("report.json"))
}
