package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/e2elab/runnoor/pkg/config"
)

// Compile-time interface check.
var _ Storage = (*localStorage)(nil)

type localStorage struct {
	dir        string
	publicPath string
}

// NewLocalStorage creates Storage backed by a local public directory.
func NewLocalStorage(cfg *config.LocalStorageConfig) Storage {
	publicPath := cfg.PublicPath
	if publicPath == "" {
		publicPath = "/api/v1/files"
	}

	return &localStorage{
		dir:        filepath.Clean(cfg.Dir),
		publicPath: publicPath,
	}
}

// Save writes the content to {dir}/{name}.
func (l *localStorage) Save(_ context.Context, name string, r io.Reader) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	dst := filepath.Join(l.dir, filepath.Base(name))

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", dst, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing file %s: %w", dst, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing file %s: %w", dst, err)
	}

	return nil
}

// URL returns the public path the API serves the file under.
func (l *localStorage) URL(name string) string {
	return path.Join(l.publicPath, path.Base(name))
}
