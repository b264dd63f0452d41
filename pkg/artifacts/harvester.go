package artifacts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/storage"
)

// videoExtensions are the file extensions the runner records video under.
var videoExtensions = map[string]struct{}{
	".webm": {},
	".mp4":  {},
}

// Screenshot is a harvested image, inlined as base64 for display.
type Screenshot struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Harvest is the outcome of scanning an output directory. VideoRef is the
// generated durable name (empty when no video was produced); VideoURL is
// its public reference. Screenshots are inline: they are assumed small and
// display-only, while video is large and streamed by reference.
type Harvest struct {
	VideoRef    string
	VideoURL    string
	Screenshots []Screenshot
}

// Harvester recovers artifacts from the runner's output directory.
type Harvester interface {
	// Collect scans outputDir for video and screenshot files. The first
	// video encountered is copied into durable storage under a unique
	// name embedding ownerKey; top-level PNGs are inlined. Per-file
	// failures are logged and skipped; Collect never fails as a whole.
	Collect(ctx context.Context, outputDir, ownerKey string, manifest []string) *Harvest
}

// Compile-time interface check.
var _ Harvester = (*harvester)(nil)

type harvester struct {
	log   logrus.FieldLogger
	store storage.Storage
	now   func() time.Time
}

// NewHarvester creates a harvester copying videos into store.
func NewHarvester(log logrus.FieldLogger, store storage.Storage) Harvester {
	return &harvester{
		log:   log.WithField("component", "artifact-harvester"),
		store: store,
		now:   time.Now,
	}
}

func (h *harvester) Collect(
	ctx context.Context, outputDir, ownerKey string, manifest []string,
) *Harvest {
	harvest := &Harvest{}

	files := manifest
	if len(files) == 0 {
		files = h.scan(outputDir)
	}

	for _, rel := range files {
		if !isVideo(rel) {
			continue
		}

		// First video found wins; the runner may record one per retry.
		if h.saveVideo(ctx, outputDir, rel, ownerKey, harvest) {
			break
		}
	}

	harvest.Screenshots = h.collectScreenshots(outputDir)

	return harvest
}

// saveVideo copies one video into durable storage. Returns false when the
// copy failed so the caller can try the next candidate.
func (h *harvester) saveVideo(
	ctx context.Context, outputDir, rel, ownerKey string, harvest *Harvest,
) bool {
	src := filepath.Join(outputDir, rel)

	f, err := os.Open(src)
	if err != nil {
		h.log.WithError(err).WithField("file", rel).Warn("Failed to open video")

		return false
	}

	defer func() { _ = f.Close() }()

	name := fmt.Sprintf("%s-%d%s", ownerKey, h.now().UnixMilli(), filepath.Ext(rel))

	if err := h.store.Save(ctx, name, f); err != nil {
		h.log.WithError(err).WithField("file", rel).Warn("Failed to store video")

		return false
	}

	harvest.VideoRef = name
	harvest.VideoURL = h.store.URL(name)

	size := "unknown"
	if info, statErr := os.Stat(src); statErr == nil {
		size = units.HumanSize(float64(info.Size()))
	}

	h.log.WithFields(logrus.Fields{
		"video": name,
		"size":  size,
	}).Info("Video stored")

	return true
}

// collectScreenshots inlines top-level PNGs only. Nested directories hold
// per-test traces and retry copies that the UI does not display.
func (h *harvester) collectScreenshots(outputDir string) []Screenshot {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		h.log.WithError(err).Debug("Failed to read output directory")

		return nil
	}

	var shots []Screenshot

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(outputDir, e.Name()))
		if err != nil {
			h.log.WithError(err).WithField("file", e.Name()).
				Warn("Failed to read screenshot")

			continue
		}

		shots = append(shots, Screenshot{
			Name: e.Name(),
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}

	return shots
}

// scan is the fallback when no manifest was provided: walk the output
// directory in traversal order.
func (h *harvester) scan(outputDir string) []string {
	var files []string

	_ = filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // skip unreadable entries
		}

		if rel, relErr := filepath.Rel(outputDir, path); relErr == nil {
			files = append(files, rel)
		}

		return nil
	})

	return files
}

func isVideo(name string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]

	return ok
}
