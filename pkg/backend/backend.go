package backend

import (
	"context"
	"io"
	"time"
)

// SidecarSuffix is appended to an object path to form its attribute
// sidecar path.
const SidecarSuffix = ".attr.json"

// ObjectInfo describes one stored object or sidecar
type ObjectInfo struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// WriteResult reports the outcome of a committed object write
type WriteResult struct {
	SizeBytes int64
	SHA256    string
	MD5       string
}

// Capacity is a point-in-time capacity measurement of the backend
type Capacity struct {
	TotalBytes int64
	UsedBytes  int64
	FreeBytes  int64
}

// Driver is the capability set every storage backend must provide.
// Object writes are atomic: bytes land under a temporary name and are
// promoted in one rename-equivalent step, so a reader never observes a
// partial object. Sidecar writes follow the same contract.
type Driver interface {
	// WriteObject streams r into the object at path, hashing as it goes.
	// If the stream exceeds maxBytes the write is aborted, any partial
	// state is removed and the error carries no committed object.
	WriteObject(ctx context.Context, path string, r io.Reader, maxBytes int64) (*WriteResult, error)

	// ReadObject opens the object for reading at offset; length < 0
	// means to the end of the object.
	ReadObject(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error)

	// StatObject returns object metadata or a not_found kind error
	StatObject(ctx context.Context, path string) (*ObjectInfo, error)

	// DeleteObject removes the object; deleting a missing object is not
	// an error.
	DeleteObject(ctx context.Context, path string) error

	// WriteSidecar atomically replaces the sidecar at path
	WriteSidecar(ctx context.Context, path string, data []byte) error

	// ReadSidecar returns the sidecar bytes or a not_found kind error
	ReadSidecar(ctx context.Context, path string) ([]byte, error)

	// Walk visits every object and sidecar under prefix ("" = all)
	Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error

	// Capacity measures total, used and free bytes
	Capacity(ctx context.Context) (*Capacity, error)

	// FileCount returns the number of sidecars, which equals the number
	// of logical files.
	FileCount(ctx context.Context) (int64, error)
}
