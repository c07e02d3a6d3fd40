package sshfs

import (
	"context"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/shimomut/tfm/internal/vpath"
)

const scheme = "ssh"

// HostResolver maps a bare hostname (as it appears in an ssh:// URI) to its
// connection configuration, normally backed by a parsed ~/.ssh/config.
type HostResolver func(host string) HostConfig

// Register installs the SSH backend as the "ssh" scheme handler.
func Register(r *vpath.Registry, mgr *Manager, resolve HostResolver) {
	if resolve == nil {
		resolve = func(host string) HostConfig { return HostConfig{HostName: host} }
	}
	r.Register(scheme, func(uri string) (vpath.Backend, error) {
		host, remotePath, err := parseURI(uri)
		if err != nil {
			return nil, err
		}
		return &Backend{mgr: mgr, host: host, cfg: resolve(host), remotePath: remotePath}, nil
	})
}

func parseURI(uri string) (host, remotePath string, err error) {
	rest := strings.TrimPrefix(uri, "ssh://")
	if rest == uri {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "not an ssh:// uri: %s", uri)
	}
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return rest, "/", nil
	}
	host = rest[:idx]
	remotePath = rest[idx:]
	if remotePath == "" {
		remotePath = "/"
	}
	if host == "" {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "ssh uri missing host: %s", uri)
	}
	return host, remotePath, nil
}

// Backend implements vpath.Backend over one path on one SSH host, reusing
// the shared Manager's single connection per host.
type Backend struct {
	mgr        *Manager
	host       string
	cfg        HostConfig
	remotePath string
}

func (b *Backend) uri() string { return "ssh://" + b.host + b.remotePath }

func (b *Backend) URI() string    { return b.uri() }
func (b *Backend) Scheme() string { return scheme }

func (b *Backend) Name() string {
	if b.remotePath == "/" {
		return ""
	}
	return path.Base(strings.TrimSuffix(b.remotePath, "/"))
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
	anchor := "ssh://" + b.host
	if b.remotePath == "/" {
		return []string{anchor, "/"}
	}
	segs := strings.Split(strings.Trim(b.remotePath, "/"), "/")
	return append([]string{anchor, "/"}, segs...)
}

func (b *Backend) Anchor() string { return "ssh://" + b.host + "/" }

func (b *Backend) Parent() (vpath.Backend, bool) {
	if b.remotePath == "/" {
		return nil, false
	}
	trimmed := strings.TrimSuffix(b.remotePath, "/")
	idx := strings.LastIndex(trimmed, "/")
	parent := trimmed[:idx]
	if parent == "" {
		parent = "/"
	}
	return &Backend{mgr: b.mgr, host: b.host, cfg: b.cfg, remotePath: parent}, true
}

func (b *Backend) Join(name string) vpath.Backend {
	base := strings.TrimSuffix(b.remotePath, "/")
	return &Backend{mgr: b.mgr, host: b.host, cfg: b.cfg, remotePath: base + "/" + name}
}

func (b *Backend) client() (*sftp.Client, error) {
	c, err := b.mgr.Get(b.host, b.cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	c, err := b.client()
	if err != nil {
		return false, err
	}
	_, err = c.Stat(b.remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapSFTPError(b.uri(), "stat", err)
	}
	return true, nil
}

func (b *Backend) IsDir(ctx context.Context) (bool, error) {
	c, err := b.client()
	if err != nil {
		return false, err
	}
	info, err := c.Stat(b.remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapSFTPError(b.uri(), "stat", err)
	}
	return info.IsDir(), nil
}

func (b *Backend) IsFile(ctx context.Context) (bool, error) {
	c, err := b.client()
	if err != nil {
		return false, err
	}
	info, err := c.Stat(b.remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapSFTPError(b.uri(), "stat", err)
	}
	return info.Mode().IsRegular(), nil
}

func (b *Backend) IsSymlink(ctx context.Context) (bool, error) {
	c, err := b.client()
	if err != nil {
		return false, err
	}
	info, err := c.Lstat(b.remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapSFTPError(b.uri(), "lstat", err)
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

func (b *Backend) Stat(ctx context.Context) (vpath.Stat, error) {
	c, err := b.client()
	if err != nil {
		return vpath.Stat{}, err
	}
	info, err := c.Stat(b.remotePath)
	if err != nil {
		return vpath.Stat{}, wrapSFTPError(b.uri(), "stat", err)
	}
	return vpath.Stat{Mode: info.Mode(), Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

// ReadBytes downloads the entire remote file into memory; SSH paths
// require extraction for reading and never stream.
func (b *Backend) ReadBytes(ctx context.Context) ([]byte, error) {
	return b.ReadBytesWithProgress(ctx, nil)
}

func (b *Backend) ReadBytesWithProgress(ctx context.Context, cb vpath.ByteProgressFunc) ([]byte, error) {
	c, err := b.client()
	if err != nil {
		return nil, err
	}
	f, err := c.Open(b.remotePath)
	if err != nil {
		return nil, wrapSFTPError(b.uri(), "open", err)
	}
	defer f.Close()
	var total int64
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}
	var out []byte
	chunk := make([]byte, 1<<20)
	var copied int64
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			out = append(out, chunk[:n]...)
			copied += int64(n)
			if cb != nil {
				cb(copied, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, wrapSFTPError(b.uri(), "read", rerr)
		}
	}
	return out, nil
}

func (b *Backend) WriteBytes(ctx context.Context, data []byte) error {
	return b.WriteBytesWithProgress(ctx, data, nil)
}

func (b *Backend) WriteBytesWithProgress(ctx context.Context, data []byte, cb vpath.ByteProgressFunc) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	if parent := path.Dir(b.remotePath); parent != "." && parent != "/" {
		_ = c.MkdirAll(parent)
	}
	f, err := c.Create(b.remotePath)
	if err != nil {
		return wrapSFTPError(b.uri(), "create", err)
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
			return wrapSFTPError(b.uri(), "write", werr)
		}
	}
	if total == 0 && cb != nil {
		cb(0, 0)
	}
	return nil
}

type dirIterator struct {
	entries []os.FileInfo
	idx     int
	b       *Backend
}

func (it *dirIterator) Next(ctx context.Context) (vpath.Backend, bool, error) {
	if it.idx >= len(it.entries) {
		return nil, false, nil
	}
	e := it.entries[it.idx]
	it.idx++
	return it.b.Join(e.Name()), true, nil
}

func (it *dirIterator) Close() error { return nil }

func (b *Backend) Iterdir(ctx context.Context) (vpath.DirIterator, error) {
	c, err := b.client()
	if err != nil {
		return nil, err
	}
	entries, err := c.ReadDir(b.remotePath)
	if err != nil {
		if info, serr := c.Stat(b.remotePath); serr == nil && !info.IsDir() {
			return nil, vpath.NewErrorf(vpath.KindNotADirectory, err, "iterdir: %s is not a directory", b.uri())
		}
		return nil, wrapSFTPError(b.uri(), "readdir", err)
	}
	return &dirIterator{entries: entries, b: b}, nil
}

func (b *Backend) Mkdir(ctx context.Context, parents bool) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	if parents {
		err = c.MkdirAll(b.remotePath)
	} else {
		err = c.Mkdir(b.remotePath)
	}
	if err != nil {
		return wrapSFTPError(b.uri(), "mkdir", err)
	}
	return nil
}

func (b *Backend) Rmdir(ctx context.Context) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	if err := c.RemoveDirectory(b.remotePath); err != nil {
		return wrapSFTPError(b.uri(), "rmdir", err)
	}
	return nil
}

func (b *Backend) Unlink(ctx context.Context) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	if err := c.Remove(b.remotePath); err != nil {
		return wrapSFTPError(b.uri(), "unlink", err)
	}
	return nil
}

// Rename uses SFTP's native rename when the target is the same host; a
// cross-host rename is rejected rather than silently falling back to a
// copy+delete.
func (b *Backend) Rename(ctx context.Context, newTarget string) (vpath.Backend, error) {
	target := newTarget
	prefix := "ssh://" + b.host
	if strings.HasPrefix(target, prefix+"/") {
		target = strings.TrimPrefix(target, prefix)
	} else if strings.Contains(target, "://") {
		return nil, vpath.NewErrorf(vpath.KindInvalidURI, nil, "cross-storage rename not supported via Rename(): %s", newTarget)
	} else if !strings.HasPrefix(target, "/") {
		target = path.Dir(b.remotePath) + "/" + target
	}
	c, err := b.client()
	if err != nil {
		return nil, err
	}
	if err := c.Rename(b.remotePath, target); err != nil {
		return nil, wrapSFTPError(b.uri(), "rename", err)
	}
	return &Backend{mgr: b.mgr, host: b.host, cfg: b.cfg, remotePath: target}, nil
}

func (b *Backend) Touch(ctx context.Context) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		c, err := b.client()
		if err != nil {
			return err
		}
		now := time.Now()
		if err := c.Chtimes(b.remotePath, now, now); err != nil {
			return wrapSFTPError(b.uri(), "touch", err)
		}
		return nil
	}
	return b.WriteBytes(ctx, nil)
}

// Chmod changes the remote file's permission bits via the SFTP subsystem.
func (b *Backend) Chmod(ctx context.Context, mode os.FileMode) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	if err := c.Chmod(b.remotePath, mode); err != nil {
		return wrapSFTPError(b.uri(), "chmod", err)
	}
	return nil
}

func (b *Backend) Capabilities() vpath.Capabilities { return vpath.SSHCapabilities }

func (b *Backend) GetDisplayPrefix() string { return "SSH: " }

func (b *Backend) GetExtendedMetadata(ctx context.Context) (vpath.ExtendedMetadata, error) {
	st, err := b.Stat(ctx)
	if err != nil {
		return vpath.ExtendedMetadata{}, err
	}
	isSymlink, _ := b.IsSymlink(ctx)
	typ := "File"
	if st.IsDir {
		typ = "Directory"
	} else if isSymlink {
		typ = "Symbolic Link"
	}
	hostDisplay := b.host
	if b.cfg.User != "" {
		hostDisplay = b.cfg.User + "@" + b.host
	}
	return vpath.ExtendedMetadata{
		Type: typ,
		Details: []vpath.MetadataField{
			{Label: "Host", Value: hostDisplay},
			{Label: "Remote Path", Value: b.remotePath},
			{Label: "Size", Value: strconv.FormatInt(st.Size, 10)},
			{Label: "Modified", Value: st.ModTime.Format(time.RFC3339)},
		},
		FormatHint: "remote",
	}, nil
}

func wrapSFTPError(uri, op string, err error) error {
	switch {
	case os.IsNotExist(err):
		return vpath.NewErrorf(vpath.KindNotFound, err, "%s: %s: not found", op, uri)
	case os.IsPermission(err):
		return vpath.NewErrorf(vpath.KindPermissionDenied, err, "%s: %s: permission denied", op, uri)
	default:
		if se, ok := err.(*sftp.StatusError); ok && se.Code == 3 {
			return vpath.NewErrorf(vpath.KindPermissionDenied, err, "%s: %s: permission denied", op, uri)
		}
		return vpath.NewErrorf(vpath.KindIoError, err, "%s: %s: %v", op, uri, err)
	}
}
