package storage

import (
	"context"
	"io"
)

// Storage is durable, publicly served artifact storage. Harvested videos
// are written here under generated unique names; they are never deleted
// by this subsystem.
type Storage interface {
	// Save writes the content under name. Names are flat; callers are
	// responsible for generating collision-free names.
	Save(ctx context.Context, name string, r io.Reader) error

	// URL returns the public reference for a saved name. It is a relative
	// or absolute URL, never a working-directory path.
	URL(name string) string
}
