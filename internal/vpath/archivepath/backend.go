// Package archivepath adapts archivefs's ArchiveHandler/ArchiveCache into a
// read-only vpath.Backend for URIs of the form
// archive://absolute/host/path.zip#internal/path.
package archivepath

import (
	"context"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/vpath"
)

const scheme = "archive"

// Register installs the archive backend. underlyingIsRemote reports whether
// archive files themselves typically live on remote storage, which feeds
// the inherited IsRemote capability.
func Register(r *vpath.Registry, cache *archivefs.Cache, underlyingIsRemote bool) {
	r.Register(scheme, func(uri string) (vpath.Backend, error) {
		archivePath, internalPath, err := parseURI(uri)
		if err != nil {
			return nil, err
		}
		return &Backend{cache: cache, archivePath: archivePath, internalPath: internalPath, isRemote: underlyingIsRemote}, nil
	})
}

func parseURI(uri string) (archivePath, internalPath string, err error) {
	rest := strings.TrimPrefix(uri, "archive://")
	if rest == uri {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "not an archive:// uri: %s", uri)
	}
	parts := strings.SplitN(rest, "#", 2)
	archivePath = parts[0]
	if len(parts) == 2 {
		internalPath = parts[1]
	}
	internalPath = strings.Trim(strings.ReplaceAll(internalPath, "\\", "/"), "/")
	return archivePath, internalPath, nil
}

// Backend implements vpath.Backend for one location inside one archive.
type Backend struct {
	cache        *archivefs.Cache
	archivePath  string
	internalPath string
	isRemote     bool
}

func (b *Backend) uri() string {
	return "archive://" + b.archivePath + "#" + b.internalPath
}

func (b *Backend) URI() string    { return b.uri() }
func (b *Backend) Scheme() string { return scheme }

func (b *Backend) Name() string {
	if b.internalPath == "" {
		return path.Base(b.archivePath)
	}
	return path.Base(b.internalPath)
}

func (b *Backend) Stem() string {
	name := b.Name()
	if ext := path.Ext(name); ext != "" && ext != name {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func (b *Backend) Suffix() string { return path.Ext(b.Name()) }

func (b *Backend) Parts() []string {
	if b.internalPath == "" {
		return []string{b.archivePath}
	}
	return append([]string{b.archivePath}, strings.Split(b.internalPath, "/")...)
}

func (b *Backend) Anchor() string { return b.archivePath + "#" }

func (b *Backend) Parent() (vpath.Backend, bool) {
	if b.internalPath == "" {
		return nil, false
	}
	parent := path.Dir(b.internalPath)
	if parent == "." {
		parent = ""
	}
	return &Backend{cache: b.cache, archivePath: b.archivePath, internalPath: parent, isRemote: b.isRemote}, true
}

func (b *Backend) Join(name string) vpath.Backend {
	child := name
	if b.internalPath != "" {
		child = b.internalPath + "/" + name
	}
	return &Backend{cache: b.cache, archivePath: b.archivePath, internalPath: child, isRemote: b.isRemote}
}

func (b *Backend) handler() (*archivefs.Handler, error) {
	return b.cache.GetHandler(b.archivePath)
}

func (b *Backend) entry() (*archivefs.Entry, error) {
	h, err := b.handler()
	if err != nil {
		return nil, err
	}
	return h.GetEntryInfo(b.internalPath)
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	_, err := b.entry()
	if err != nil {
		if vpath.Kind(err) == vpath.KindArchiveNavigation {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) IsDir(ctx context.Context) (bool, error) {
	e, err := b.entry()
	if err != nil {
		if vpath.Kind(err) == vpath.KindArchiveNavigation {
			return false, nil
		}
		return false, err
	}
	return e.IsDir, nil
}

func (b *Backend) IsFile(ctx context.Context) (bool, error) {
	e, err := b.entry()
	if err != nil {
		if vpath.Kind(err) == vpath.KindArchiveNavigation {
			return false, nil
		}
		return false, err
	}
	return !e.IsDir, nil
}

func (b *Backend) IsSymlink(ctx context.Context) (bool, error) { return false, nil }

func (b *Backend) Stat(ctx context.Context) (vpath.Stat, error) {
	e, err := b.entry()
	if err != nil {
		return vpath.Stat{}, err
	}
	mode := e.Mode
	if mode == 0 {
		if e.IsDir {
			mode = 0o755 | os.ModeDir
		} else {
			mode = 0o644
		}
	}
	return vpath.Stat{Mode: mode, Size: e.Size, ModTime: e.MTime, IsDir: e.IsDir}, nil
}

func (b *Backend) ReadBytes(ctx context.Context) ([]byte, error) {
	h, err := b.handler()
	if err != nil {
		return nil, err
	}
	return h.ExtractToBytes(b.internalPath)
}

func (b *Backend) ReadBytesWithProgress(ctx context.Context, cb vpath.ByteProgressFunc) ([]byte, error) {
	data, err := b.ReadBytes(ctx)
	if err == nil && cb != nil {
		cb(int64(len(data)), int64(len(data)))
	}
	return data, err
}

func (b *Backend) WriteBytes(ctx context.Context, data []byte) error {
	return vpath.NewErrorf(vpath.KindReadOnlyStorage, nil, "%s: cannot write: read-only storage", b.uri())
}

func (b *Backend) WriteBytesWithProgress(ctx context.Context, data []byte, cb vpath.ByteProgressFunc) error {
	return b.WriteBytes(ctx, data)
}

type dirIterator struct {
	children []string
	idx      int
	b        *Backend
}

func (it *dirIterator) Next(ctx context.Context) (vpath.Backend, bool, error) {
	if it.idx >= len(it.children) {
		return nil, false, nil
	}
	child := it.children[it.idx]
	it.idx++
	return &Backend{cache: it.b.cache, archivePath: it.b.archivePath, internalPath: child, isRemote: it.b.isRemote}, true, nil
}

func (it *dirIterator) Close() error { return nil }

func (b *Backend) Iterdir(ctx context.Context) (vpath.DirIterator, error) {
	e, err := b.entry()
	if err != nil {
		return nil, err
	}
	if !e.IsDir {
		return nil, vpath.NewErrorf(vpath.KindNotADirectory, nil, "%s is not a directory", b.uri())
	}
	h, err := b.handler()
	if err != nil {
		return nil, err
	}
	children, _ := h.ListChildren(b.internalPath)
	return &dirIterator{children: children, b: b}, nil
}

func (b *Backend) Mkdir(ctx context.Context, parents bool) error { return b.WriteBytes(ctx, nil) }
func (b *Backend) Rmdir(ctx context.Context) error                { return b.WriteBytes(ctx, nil) }
func (b *Backend) Unlink(ctx context.Context) error                { return b.WriteBytes(ctx, nil) }
func (b *Backend) Touch(ctx context.Context) error                 { return b.WriteBytes(ctx, nil) }
func (b *Backend) Chmod(ctx context.Context, mode os.FileMode) error {
	return b.WriteBytes(ctx, nil)
}

func (b *Backend) Rename(ctx context.Context, newName string) (vpath.Backend, error) {
	return nil, vpath.NewErrorf(vpath.KindReadOnlyStorage, nil, "%s: cannot rename: read-only storage", b.uri())
}

func (b *Backend) Capabilities() vpath.Capabilities {
	return vpath.ArchiveCapabilities(b.isRemote)
}

func (b *Backend) GetDisplayPrefix() string {
	return "[" + path.Base(b.archivePath) + "] "
}

func (b *Backend) GetExtendedMetadata(ctx context.Context) (vpath.ExtendedMetadata, error) {
	e, err := b.entry()
	if err != nil {
		return vpath.ExtendedMetadata{}, err
	}
	typ := "Archive File"
	if e.IsDir {
		typ = "Archive Directory"
	}
	details := []vpath.MetadataField{
		{Label: "Archive", Value: b.archivePath},
		{Label: "Archive Type", Value: string(e.ArchiveType)},
		{Label: "Size", Value: strconv.FormatInt(e.Size, 10)},
	}
	if e.CompressedSize > 0 {
		details = append(details, vpath.MetadataField{Label: "Compressed Size", Value: strconv.FormatInt(e.CompressedSize, 10)})
	}
	if !e.MTime.IsZero() {
		details = append(details, vpath.MetadataField{Label: "Modified", Value: e.MTime.Format(time.RFC3339)})
	}
	return vpath.ExtendedMetadata{Type: typ, Details: details, FormatHint: "archive"}, nil
}
