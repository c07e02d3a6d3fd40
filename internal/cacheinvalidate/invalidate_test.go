package cacheinvalidate

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/s3cache"
	"github.com/shimomut/tfm/internal/vpath"
)

// fakeS3Backend implements just enough of vpath.Backend to exercise
// Invalidator's scheme/URI/Parent-based logic against an s3:// path, without
// needing a real S3 client.
type fakeS3Backend struct {
	uri string
}

func s3Path(uri string) vpath.Path { return vpath.FromBackend(fakeS3Backend{uri: uri}) }

func (b fakeS3Backend) URI() string    { return b.uri }
func (b fakeS3Backend) Scheme() string { return "s3" }
func (b fakeS3Backend) Name() string {
	parts := strings.Split(strings.TrimSuffix(b.uri, "/"), "/")
	return parts[len(parts)-1]
}
func (b fakeS3Backend) Stem() string   { return b.Name() }
func (b fakeS3Backend) Suffix() string { return "" }
func (b fakeS3Backend) Parts() []string {
	return strings.Split(strings.TrimPrefix(b.uri, "s3://"), "/")
}
func (b fakeS3Backend) Anchor() string { return "s3://" }
func (b fakeS3Backend) Parent() (vpath.Backend, bool) {
	trimmed := strings.TrimSuffix(b.uri, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= len("s3:/") {
		return nil, false
	}
	return fakeS3Backend{uri: trimmed[:idx]}, true
}
func (b fakeS3Backend) Join(name string) vpath.Backend {
	return fakeS3Backend{uri: strings.TrimSuffix(b.uri, "/") + "/" + name}
}
func (b fakeS3Backend) Exists(ctx context.Context) (bool, error)    { return true, nil }
func (b fakeS3Backend) IsDir(ctx context.Context) (bool, error)     { return false, nil }
func (b fakeS3Backend) IsFile(ctx context.Context) (bool, error)    { return true, nil }
func (b fakeS3Backend) IsSymlink(ctx context.Context) (bool, error) { return false, nil }
func (b fakeS3Backend) Stat(ctx context.Context) (vpath.Stat, error) {
	return vpath.Stat{}, nil
}
func (b fakeS3Backend) ReadBytes(ctx context.Context) ([]byte, error) { return nil, nil }
func (b fakeS3Backend) ReadBytesWithProgress(ctx context.Context, cb vpath.ByteProgressFunc) ([]byte, error) {
	return nil, nil
}
func (b fakeS3Backend) WriteBytes(ctx context.Context, data []byte) error { return nil }
func (b fakeS3Backend) WriteBytesWithProgress(ctx context.Context, data []byte, cb vpath.ByteProgressFunc) error {
	return nil
}
func (b fakeS3Backend) Iterdir(ctx context.Context) (vpath.DirIterator, error) { return nil, nil }
func (b fakeS3Backend) Mkdir(ctx context.Context, parents bool) error          { return nil }
func (b fakeS3Backend) Rmdir(ctx context.Context) error                       { return nil }
func (b fakeS3Backend) Unlink(ctx context.Context) error                      { return nil }
func (b fakeS3Backend) Rename(ctx context.Context, newName string) (vpath.Backend, error) {
	return b, nil
}
func (b fakeS3Backend) Touch(ctx context.Context) error          { return nil }
func (b fakeS3Backend) Chmod(ctx context.Context, mode os.FileMode) error { return nil }
func (b fakeS3Backend) Capabilities() vpath.Capabilities          { return vpath.S3Capabilities }
func (b fakeS3Backend) GetDisplayPrefix() string                  { return "" }
func (b fakeS3Backend) GetExtendedMetadata(ctx context.Context) (vpath.ExtendedMetadata, error) {
	return vpath.ExtendedMetadata{}, nil
}

func TestAfterFileOperationCopyOnlyInvalidatesDest(t *testing.T) {
	s3c := s3cache.New(0, 0)
	s3c.Put("list_objects_v2", "bucket", "dest", "", "listing", 0)
	s3c.Put("list_objects_v2", "bucket", "srcparent", "", "listing", 0)

	inv := New(s3c, nil)
	src := s3Path("s3://bucket/srcparent/a.txt")
	dest := s3Path("s3://bucket/dest")
	inv.AfterFileOperation(progress.OpCopy, []vpath.Path{src}, dest)

	_, ok := s3c.Get("list_objects_v2", "bucket", "dest", "")
	assert.False(t, ok, "copy must invalidate the destination listing")
	_, ok = s3c.Get("list_objects_v2", "bucket", "srcparent", "")
	assert.True(t, ok, "copy must not touch the source's listing")
}

func TestAfterFileOperationMoveInvalidatesSourceAndDest(t *testing.T) {
	s3c := s3cache.New(0, 0)
	s3c.Put("list_objects_v2", "bucket", "dest", "", "listing", 0)
	s3c.Put("list_objects_v2", "bucket", "srcparent", "", "listing", 0)

	inv := New(s3c, nil)
	src := s3Path("s3://bucket/srcparent/a.txt")
	dest := s3Path("s3://bucket/dest")
	inv.AfterFileOperation(progress.OpMove, []vpath.Path{src}, dest)

	_, ok := s3c.Get("list_objects_v2", "bucket", "dest", "")
	assert.False(t, ok)
	_, ok = s3c.Get("list_objects_v2", "bucket", "srcparent", "")
	assert.False(t, ok, "move must invalidate the source parent's listing too")
}

func TestAfterDeleteInvalidatesEachSourceParent(t *testing.T) {
	s3c := s3cache.New(0, 0)
	s3c.Put("list_objects_v2", "bucket", "dir", "", "listing", 0)

	inv := New(s3c, nil)
	src := s3Path("s3://bucket/dir/a.txt")
	inv.AfterDelete([]vpath.Path{src})

	_, ok := s3c.Get("list_objects_v2", "bucket", "dir", "")
	assert.False(t, ok)
}

func TestAfterArchiveCreateInvalidatesParentAndArchiveCache(t *testing.T) {
	s3c := s3cache.New(0, 0)
	s3c.Put("list_objects_v2", "bucket", "dir", "", "listing", 0)

	archiveCache := archivefs.NewCache(0, 0, nil)

	inv := New(s3c, archiveCache)
	dest := s3Path("s3://bucket/dir/out.zip")
	inv.AfterArchiveCreate(dest) // must not panic even though no handler is open

	_, ok := s3c.Get("list_objects_v2", "bucket", "dir", "")
	assert.False(t, ok)
}

func TestAfterArchiveExtractInvalidatesDestDirListing(t *testing.T) {
	s3c := s3cache.New(0, 0)
	s3c.Put("list_objects_v2", "bucket", "dir", "", "listing", 0)

	inv := New(s3c, nil)
	inv.AfterArchiveExtract(s3Path("s3://bucket/dir"))

	_, ok := s3c.Get("list_objects_v2", "bucket", "dir", "")
	assert.False(t, ok)
}

func TestNilCachesAreNoOps(t *testing.T) {
	inv := New(nil, nil)
	require.NotPanics(t, func() {
		inv.AfterFileOperation(progress.OpCopy, []vpath.Path{s3Path("s3://bucket/a.txt")}, s3Path("s3://bucket/dest"))
		inv.AfterDelete([]vpath.Path{s3Path("s3://bucket/a.txt")})
		inv.AfterArchiveCreate(s3Path("s3://bucket/out.zip"))
		inv.AfterArchiveExtract(s3Path("s3://bucket/dir"))
	})
}

func TestNonS3PathsAreIgnored(t *testing.T) {
	s3c := s3cache.New(0, 0)
	inv := New(s3c, nil)
	localLike := vpath.FromBackend(fakeLocalLikeBackend{})
	require.NotPanics(t, func() {
		inv.AfterArchiveExtract(localLike)
	})
}

// fakeLocalLikeBackend reports a non-s3 scheme so Invalidator's scheme
// guard short-circuits before touching the s3 cache.
type fakeLocalLikeBackend struct{ fakeS3Backend }

func (fakeLocalLikeBackend) Scheme() string { return "file" }
func (fakeLocalLikeBackend) URI() string    { return "/tmp/dir" }
func (fakeLocalLikeBackend) Parent() (vpath.Backend, bool) {
	return nil, false
}
