// Package localfs is the local POSIX filesystem Path backend, the thinnest
// wrapper over OS primitives in the vpath family (grounded on
// backend/local/local.go's approach of delegating directly to os.*).
package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shimomut/tfm/internal/vpath"
)

// Register installs the local backend as the "file" scheme handler, used
// for any URI with no recognized remote prefix.
func Register(r *vpath.Registry) {
	r.Register("file", func(uri string) (vpath.Backend, error) {
		return New(uri), nil
	})
}

// Backend implements vpath.Backend over the local filesystem.
type Backend struct {
	abs string // cleaned, absolute OS path
}

// New builds a local Backend from an OS path (absolute or relative).
func New(osPath string) *Backend {
	abs, err := filepath.Abs(osPath)
	if err != nil {
		abs = filepath.Clean(osPath)
	}
	return &Backend{abs: abs}
}

func (b *Backend) URI() string    { return b.abs }
func (b *Backend) Scheme() string { return "file" }
func (b *Backend) Name() string   { return filepath.Base(b.abs) }

func (b *Backend) Stem() string {
	name := b.Name()
	if ext := filepath.Ext(name); ext != "" && ext != name {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func (b *Backend) Suffix() string { return filepath.Ext(b.Name()) }

func (b *Backend) Parts() []string {
	rel := strings.TrimPrefix(b.abs, string(filepath.Separator))
	if rel == "" {
		return []string{string(filepath.Separator)}
	}
	parts := []string{string(filepath.Separator)}
	return append(parts, strings.Split(rel, string(filepath.Separator))...)
}

func (b *Backend) Anchor() string { return string(filepath.Separator) }

func (b *Backend) Parent() (vpath.Backend, bool) {
	parent := filepath.Dir(b.abs)
	if parent == b.abs {
		return nil, false
	}
	return &Backend{abs: parent}, true
}

func (b *Backend) Join(name string) vpath.Backend {
	return &Backend{abs: filepath.Join(b.abs, name)}
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	_, err := os.Lstat(b.abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, wrapOSError(b.abs, "stat", err)
}

func (b *Backend) IsDir(ctx context.Context) (bool, error) {
	info, err := os.Stat(b.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapOSError(b.abs, "stat", err)
	}
	return info.IsDir(), nil
}

func (b *Backend) IsFile(ctx context.Context) (bool, error) {
	info, err := os.Stat(b.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapOSError(b.abs, "stat", err)
	}
	return info.Mode().IsRegular(), nil
}

func (b *Backend) IsSymlink(ctx context.Context) (bool, error) {
	info, err := os.Lstat(b.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapOSError(b.abs, "lstat", err)
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

func (b *Backend) Stat(ctx context.Context) (vpath.Stat, error) {
	info, err := os.Stat(b.abs)
	if err != nil {
		return vpath.Stat{}, wrapOSError(b.abs, "stat", err)
	}
	return vpath.Stat{Mode: info.Mode(), Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

func (b *Backend) ReadBytes(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.abs)
	if err != nil {
		return nil, wrapOSError(b.abs, "read", err)
	}
	return data, nil
}

func (b *Backend) ReadBytesWithProgress(ctx context.Context, cb vpath.ByteProgressFunc) ([]byte, error) {
	f, err := os.Open(b.abs)
	if err != nil {
		return nil, wrapOSError(b.abs, "open", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, wrapOSError(b.abs, "stat", err)
	}
	var buf []byte
	total := info.Size()
	chunk := make([]byte, 1<<20)
	var copied int64
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			copied += int64(n)
			if cb != nil {
				cb(copied, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, wrapOSError(b.abs, "read", rerr)
		}
	}
	return buf, nil
}

func (b *Backend) WriteBytes(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.abs), 0o755); err != nil {
		return wrapOSError(b.abs, "mkdir", err)
	}
	if err := os.WriteFile(b.abs, data, 0o644); err != nil {
		return wrapOSError(b.abs, "write", err)
	}
	return nil
}

func (b *Backend) WriteBytesWithProgress(ctx context.Context, data []byte, cb vpath.ByteProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(b.abs), 0o755); err != nil {
		return wrapOSError(b.abs, "mkdir", err)
	}
	f, err := os.Create(b.abs)
	if err != nil {
		return wrapOSError(b.abs, "create", err)
	}
	defer f.Close()
	total := int64(len(data))
	const chunkSize = 1 << 20
	var copied int64
	for copied < total {
		end := copied + chunkSize
		if end > total {
			end = total
		}
		n, werr := f.Write(data[copied:end])
		copied += int64(n)
		if cb != nil {
			cb(copied, total)
		}
		if werr != nil {
			return wrapOSError(b.abs, "write", werr)
		}
	}
	if total == 0 && cb != nil {
		cb(0, 0)
	}
	return nil
}

type dirIterator struct {
	entries []os.DirEntry
	idx     int
	abs     string
}

func (it *dirIterator) Next(ctx context.Context) (vpath.Backend, bool, error) {
	if it.idx >= len(it.entries) {
		return nil, false, nil
	}
	e := it.entries[it.idx]
	it.idx++
	return &Backend{abs: filepath.Join(it.abs, e.Name())}, true, nil
}

func (it *dirIterator) Close() error { return nil }

func (b *Backend) Iterdir(ctx context.Context) (vpath.DirIterator, error) {
	info, err := os.Stat(b.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vpath.NewErrorf(vpath.KindNotFound, err, "iterdir: %s not found", b.abs)
		}
		return nil, wrapOSError(b.abs, "stat", err)
	}
	if !info.IsDir() {
		return nil, vpath.NewErrorf(vpath.KindNotADirectory, nil, "iterdir: %s is not a directory", b.abs)
	}
	entries, err := os.ReadDir(b.abs)
	if err != nil {
		return nil, wrapOSError(b.abs, "readdir", err)
	}
	return &dirIterator{entries: entries, abs: b.abs}, nil
}

func (b *Backend) Mkdir(ctx context.Context, parents bool) error {
	var err error
	if parents {
		err = os.MkdirAll(b.abs, 0o755)
	} else {
		err = os.Mkdir(b.abs, 0o755)
	}
	if err != nil {
		return wrapOSError(b.abs, "mkdir", err)
	}
	return nil
}

func (b *Backend) Rmdir(ctx context.Context) error {
	if err := os.Remove(b.abs); err != nil {
		return wrapOSError(b.abs, "rmdir", err)
	}
	return nil
}

func (b *Backend) Unlink(ctx context.Context) error {
	if err := os.Remove(b.abs); err != nil {
		return wrapOSError(b.abs, "unlink", err)
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, newTarget string) (vpath.Backend, error) {
	target := newTarget
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(b.abs), newTarget)
	}
	if err := os.Rename(b.abs, target); err != nil {
		return nil, wrapOSError(b.abs, "rename", err)
	}
	return &Backend{abs: target}, nil
}

func (b *Backend) Touch(ctx context.Context) error {
	now := time.Now()
	if err := os.Chtimes(b.abs, now, now); err != nil {
		if os.IsNotExist(err) {
			f, cerr := os.OpenFile(b.abs, os.O_CREATE|os.O_WRONLY, 0o644)
			if cerr != nil {
				return wrapOSError(b.abs, "touch", cerr)
			}
			return f.Close()
		}
		return wrapOSError(b.abs, "touch", err)
	}
	return nil
}

func (b *Backend) Chmod(ctx context.Context, mode fs.FileMode) error {
	if err := os.Chmod(b.abs, mode); err != nil {
		return wrapOSError(b.abs, "chmod", err)
	}
	return nil
}

func (b *Backend) Capabilities() vpath.Capabilities { return vpath.LocalCapabilities }

func (b *Backend) GetDisplayPrefix() string { return "" }

func (b *Backend) GetExtendedMetadata(ctx context.Context) (vpath.ExtendedMetadata, error) {
	info, err := os.Stat(b.abs)
	if err != nil {
		return vpath.ExtendedMetadata{}, wrapOSError(b.abs, "stat", err)
	}
	typ := "File"
	if info.IsDir() {
		typ = "Directory"
	}
	return vpath.ExtendedMetadata{
		Type: typ,
		Details: []vpath.MetadataField{
			{Label: "Size", Value: sizeString(info.Size())},
			{Label: "Modified", Value: info.ModTime().Format(time.RFC3339)},
			{Label: "Permissions", Value: info.Mode().String()},
		},
		FormatHint: "local",
	}, nil
}

func sizeString(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n2 := n / unit; n2 >= unit; n2 /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), units[exp])
}

// wrapOSError maps a raw os error onto the vpath.ErrorKind taxonomy.
func wrapOSError(uri, op string, err error) error {
	switch {
	case os.IsNotExist(err):
		return vpath.NewErrorf(vpath.KindNotFound, err, "%s: %s: not found", op, uri)
	case os.IsPermission(err):
		return vpath.NewErrorf(vpath.KindPermissionDenied, err, "%s: %s: permission denied", op, uri)
	case isDiskFull(err):
		return vpath.NewErrorf(vpath.KindDiskSpaceExhausted, err, "%s: %s: no space left on device", op, uri)
	default:
		return vpath.NewErrorf(vpath.KindIoError, err, "%s: %s: %v", op, uri, err)
	}
}

func isDiskFull(err error) bool {
	return strings.Contains(err.Error(), "no space left") || strings.Contains(err.Error(), "quota exceeded") || strings.Contains(err.Error(), "disk full")
}
