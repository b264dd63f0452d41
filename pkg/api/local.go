package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/config"
)

// localFileServer serves harvested artifacts directly from the local
// storage directory. Incoming request paths are resolved relative to it.
type localFileServer struct {
	log  logrus.FieldLogger
	root string
}

// newLocalFileServer creates a new local file server from the given config.
func newLocalFileServer(
	log logrus.FieldLogger,
	cfg *config.LocalStorageConfig,
) *localFileServer {
	return &localFileServer{
		log:  log.WithField("component", "local-file-server"),
		root: filepath.Clean(cfg.Dir),
	}
}

// ServeFile locates filePath under the storage root and serves it via
// http.ServeFile. Returns an error when the path is disallowed or not
// found.
func (l *localFileServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	full := filepath.Join(l.root, filePath)

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) &&
		full != l.root {
		return fmt.Errorf("path %q escapes the storage root", filePath)
	}

	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("file %q not found", filePath)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func (l *localFileServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	// Reject paths that start with a slash (absolute paths).
	if filepath.IsAbs(filePath) {
		return false
	}

	// Ensure the path is clean (no double slashes, trailing slashes, etc.).
	return path.Clean(filePath) == filePath
}
