// Package iface exists to prevent circular dependencies when
// implementing the database interface.
package iface

import (
	"context"
	"io"

	"github.com/permagate/permagate/gateway/arweave"
)

// ReadOnlyDatabase represents a read only database with functions that
// do not modify the DB.
type ReadOnlyDatabase interface {
	DataAttributes(ctx context.Context, id arweave.ID) (*arweave.DataAttributes, error)
	ManifestPath(ctx context.Context, manifestID arweave.ID, path string) (*arweave.ID, error)
}

// WriteAccessDatabase represents a write access database with only
// functions that can modify the DB.
type WriteAccessDatabase interface {
	SaveDataAttributes(ctx context.Context, id arweave.ID, attrs *arweave.DataAttributes) error
	SaveManifestPaths(ctx context.Context, manifestID arweave.ID, paths map[string]arweave.ID) error
}

// Database represents a full access database with the proper DB helper
// functions.
type Database interface {
	io.Closer
	ReadOnlyDatabase
	WriteAccessDatabase
	DatabasePath() string
	ClearDB() error
	Backup(ctx context.Context, outputDir string) error
}
