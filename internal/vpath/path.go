package vpath

import (
	"context"
	"os"
	"strings"
)

// Factory constructs a Backend for a URI already known to belong to the
// scheme it was registered under.
type Factory func(uri string) (Backend, error)

// Registry dispatches Path construction to a Factory by URI scheme prefix.
// ArchiveCache and S3Cache, the process-wide singletons, are threaded
// into the factories that need them at registry-construction time rather
// than looked up from package globals, so tests can build an isolated
// Registry with fresh caches.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry. Call Register for each scheme
// before using New.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory as the handler for the given scheme ("file",
// "ssh", "s3", "archive"). The local/"file" scheme also serves as the
// fallback for any URI with no recognized scheme prefix.
func (r *Registry) Register(scheme string, factory Factory) {
	r.factories[scheme] = factory
}

// New dispatches uri to the registered backend based on its scheme prefix,
// defaulting to "file" for anything without a recognized remote prefix.
func (r *Registry) New(uri string) (Path, error) {
	scheme := schemeOf(uri)
	factory, ok := r.factories[scheme]
	if !ok {
		return Path{}, NewErrorf(KindInvalidURI, nil, "no backend registered for scheme %q in %q", scheme, uri)
	}
	impl, err := factory(uri)
	if err != nil {
		return Path{}, err
	}
	return Path{impl: impl}, nil
}

// schemeOf extracts the scheme prefix, defaulting to
// "file" for anything that isn't a recognized remote URI.
func schemeOf(uri string) string {
	for _, s := range []string{"archive://", "s3://", "ssh://"} {
		if strings.HasPrefix(uri, s) {
			return strings.TrimSuffix(s, "://")
		}
	}
	return "file"
}

// Path is a polymorphic, immutable value identifying a resource on any
// backend. Equality and hashing are defined purely in terms of the
// underlying URI.
type Path struct {
	impl Backend
}

// FromBackend wraps an already-constructed Backend as a Path. Used by
// backends that synthesize child/parent paths internally.
func FromBackend(b Backend) Path { return Path{impl: b} }

// Backend exposes the underlying backend implementation, for callers (such
// as the operation executors) that need scheme-specific fast paths (e.g.
// same-filesystem rename detection).
func (p Path) Backend() Backend { return p.impl }

// Valid reports whether p wraps a backend (the zero Path does not).
func (p Path) Valid() bool { return p.impl != nil }

func (p Path) URI() string    { return p.impl.URI() }
func (p Path) Scheme() string { return p.impl.Scheme() }
func (p Path) Name() string   { return p.impl.Name() }
func (p Path) Stem() string   { return p.impl.Stem() }
func (p Path) Suffix() string { return p.impl.Suffix() }
func (p Path) Parts() []string { return p.impl.Parts() }
func (p Path) Anchor() string  { return p.impl.Anchor() }

// Parent returns the logical parent path and true, or the zero Path and
// false if p is already a root sentinel for its scheme.
func (p Path) Parent() (Path, bool) {
	parent, ok := p.impl.Parent()
	if !ok {
		return Path{}, false
	}
	return Path{impl: parent}, true
}

// Join returns the child path p/name.
func (p Path) Join(name string) Path {
	return Path{impl: p.impl.Join(name)}
}

// Equal compares two paths by URI.
func (p Path) Equal(other Path) bool {
	if !p.Valid() || !other.Valid() {
		return p.Valid() == other.Valid()
	}
	return p.URI() == other.URI()
}

// HashKey returns the string to use as a map/hash key for p, satisfying the
// "equal URIs hash equal" invariant.
func (p Path) HashKey() string { return p.URI() }

func (p Path) Exists(ctx context.Context) (bool, error)    { return p.impl.Exists(ctx) }
func (p Path) IsDir(ctx context.Context) (bool, error)     { return p.impl.IsDir(ctx) }
func (p Path) IsFile(ctx context.Context) (bool, error)    { return p.impl.IsFile(ctx) }
func (p Path) IsSymlink(ctx context.Context) (bool, error) { return p.impl.IsSymlink(ctx) }
func (p Path) Stat(ctx context.Context) (Stat, error)      { return p.impl.Stat(ctx) }

func (p Path) ReadBytes(ctx context.Context) ([]byte, error) { return p.impl.ReadBytes(ctx) }

func (p Path) ReadText(ctx context.Context) (string, error) {
	b, err := p.impl.ReadBytes(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p Path) WriteBytes(ctx context.Context, data []byte) error {
	return p.impl.WriteBytes(ctx, data)
}

func (p Path) WriteText(ctx context.Context, text string) error {
	return p.impl.WriteBytes(ctx, []byte(text))
}

// Iterdir returns a lazy iterator over direct children. It raises
// KindNotADirectory if p is not a directory and KindNotFound if p does not
// exist; a missing member inside an archive is reported as
// KindArchiveNavigation.
func (p Path) Iterdir(ctx context.Context) (DirIterator, error) { return p.impl.Iterdir(ctx) }

func (p Path) Mkdir(ctx context.Context, parents bool) error { return p.impl.Mkdir(ctx, parents) }
func (p Path) Rmdir(ctx context.Context) error                { return p.impl.Rmdir(ctx) }
func (p Path) Unlink(ctx context.Context) error                { return p.impl.Unlink(ctx) }
func (p Path) Touch(ctx context.Context) error                 { return p.impl.Touch(ctx) }

// Rename renames p in place (same parent, new leaf name) and returns the
// new Path.
func (p Path) Rename(ctx context.Context, newName string) (Path, error) {
	impl, err := p.impl.Rename(ctx, newName)
	if err != nil {
		return Path{}, err
	}
	return Path{impl: impl}, nil
}

func (p Path) Chmod(ctx context.Context, mode os.FileMode) error { return p.impl.Chmod(ctx, mode) }

func (p Path) Capabilities() Capabilities                 { return p.impl.Capabilities() }
func (p Path) SupportsWriteOperations() bool               { return p.impl.Capabilities().SupportsWriteOperations }
func (p Path) SupportsDirectoryRename() bool                { return p.impl.Capabilities().SupportsDirectoryRename }
func (p Path) SupportsFileEditing() bool                    { return p.impl.Capabilities().SupportsFileEditing }
func (p Path) RequiresExtractionForReading() bool            { return p.impl.Capabilities().RequiresExtractionForReading }
func (p Path) SupportsStreamingRead() bool                   { return p.impl.Capabilities().SupportsStreamingRead }
func (p Path) ShouldCacheForSearch() bool                    { return p.impl.Capabilities().ShouldCacheForSearch }
func (p Path) GetSearchStrategy() SearchStrategy              { return p.impl.Capabilities().SearchStrategy }
func (p Path) GetDisplayPrefix() string                       { return p.impl.GetDisplayPrefix() }
func (p Path) GetExtendedMetadata(ctx context.Context) (ExtendedMetadata, error) {
	return p.impl.GetExtendedMetadata(ctx)
}

// CopyTo copies p to dest, recursing for directories. If the two paths
// share a scheme, the backend may take a fast native path; otherwise the
// facade reads the full source into memory (or streams with progress for
// backends implementing that) and writes to the destination.
func (p Path) CopyTo(ctx context.Context, dest Path, overwrite bool, progress ByteProgressFunc) error {
	return copyPath(ctx, p, dest, overwrite, progress)
}

// MoveTo moves p to dest. Same-scheme backends with native rename support
// use it directly; otherwise this is copy + recursive delete of the source.
func (p Path) MoveTo(ctx context.Context, dest Path, overwrite bool, progress ByteProgressFunc) error {
	return movePath(ctx, p, dest, overwrite, progress)
}
