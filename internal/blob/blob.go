// Package blob is the stored-file collaborator: an opaque store keyed by
// server-generated names. The ingestion core only needs two things from
// it — write a blob at accept time, and hand back a rewindable stream at
// job time for the two linear passes over the file.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when the named blob does not exist,
// either because the reference is stale or the blob was removed.
var ErrNotFound = errors.New("stored file not found")

// File is a readable stored blob. Rewind returns the read position to the
// start of the blob so the caller can make a second sequential pass
// without buffering the whole file.
type File interface {
	io.ReadCloser
	Rewind() error
}

// Store saves and retrieves blobs by name. Names are generated by the
// caller and treated as opaque locators.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) error
	Open(ctx context.Context, name string) (File, error)
}
