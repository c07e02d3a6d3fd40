package vpath

import (
	"context"
	"os"
	"time"
)

// Stat is the backend-agnostic status record returned by Path.Stat.
type Stat struct {
	Mode    os.FileMode
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// MetadataField is one (label, value) row of an ExtendedMetadata record.
type MetadataField struct {
	Label string
	Value string
}

// ExtendedMetadata is the tagged record returned by GetExtendedMetadata
//: a type tag, an ordered list of label/value rows, and a display
// format hint for the consuming UI.
type ExtendedMetadata struct {
	Type       string
	Details    []MetadataField
	FormatHint string
}

// ByteProgressFunc reports cumulative bytes transferred during a streaming
// read or write, used by cross-backend transfers and the
// FileOperationExecutor to forward byte-level progress.
type ByteProgressFunc func(copied, total int64)

// DirIterator is the lazy child sequence returned by Iterdir. It is
// not safe for concurrent use.
type DirIterator interface {
	// Next advances to the next child, returning false when exhausted.
	// The returned Backend is only valid until the next call to Next.
	Next(ctx context.Context) (Backend, bool, error)
	Close() error
}

// Backend is the per-scheme implementation contract every storage backend
// (local, ssh, s3, archive) satisfies. A Path (see path.go) is a thin
// facade wrapping exactly one Backend value. Unsupported operations return
// a *Error with KindReadOnlyStorage or a scheme-appropriate kind rather
// than panicking.
type Backend interface {
	// Identity & structure.
	URI() string
	Scheme() string
	Name() string
	Stem() string
	Suffix() string
	Parts() []string
	Anchor() string
	// Parent returns the logical parent, or ok=false if this path is
	// already the scheme's root sentinel.
	Parent() (Backend, bool)
	// Join returns a new Backend for a child path component.
	Join(name string) Backend

	// Queries.
	Exists(ctx context.Context) (bool, error)
	IsDir(ctx context.Context) (bool, error)
	IsFile(ctx context.Context) (bool, error)
	IsSymlink(ctx context.Context) (bool, error)
	Stat(ctx context.Context) (Stat, error)

	// I/O.
	ReadBytes(ctx context.Context) ([]byte, error)
	ReadBytesWithProgress(ctx context.Context, cb ByteProgressFunc) ([]byte, error)
	WriteBytes(ctx context.Context, data []byte) error
	WriteBytesWithProgress(ctx context.Context, data []byte, cb ByteProgressFunc) error
	Iterdir(ctx context.Context) (DirIterator, error)

	// Mutation.
	Mkdir(ctx context.Context, parents bool) error
	Rmdir(ctx context.Context) error
	Unlink(ctx context.Context) error
	Rename(ctx context.Context, newName string) (Backend, error)
	Touch(ctx context.Context) error
	Chmod(ctx context.Context, mode os.FileMode) error

	// Capability & display.
	Capabilities() Capabilities
	GetDisplayPrefix() string
	GetExtendedMetadata(ctx context.Context) (ExtendedMetadata, error)
}

// readOnlyMutation builds the KindReadOnlyStorage error for a mutation on
// read-only storage. It is unexported; the archive backend builds its own
// equivalent error in its package.
func readOnlyMutation(uri, op string) error {
	return NewErrorf(KindReadOnlyStorage, nil, "%s: cannot %s: read-only storage", uri, op)
}
