package archivepath

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/vpath"
)

func buildTestZip(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "data.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("top.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("top-level"))
	require.NoError(t, err)
	w, err = zw.Create("sub/nested.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nested-content"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return archivePath
}

func newRegistry(cache *archivefs.Cache) *vpath.Registry {
	r := vpath.NewRegistry()
	Register(r, cache, false)
	return r
}

func TestParseURISplitsArchiveAndInternalPath(t *testing.T) {
	archivePath, internalPath, err := parseURI("archive:///tmp/data.zip#sub/nested.txt")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data.zip", archivePath)
	assert.Equal(t, "sub/nested.txt", internalPath)
}

func TestParseURIRejectsNonArchiveScheme(t *testing.T) {
	_, _, err := parseURI("file:///tmp/data.zip")
	require.Error(t, err)
	assert.Equal(t, vpath.KindInvalidURI, vpath.Kind(err))
}

func TestParseURIWithNoFragmentIsArchiveRoot(t *testing.T) {
	archivePath, internalPath, err := parseURI("archive:///tmp/data.zip")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data.zip", archivePath)
	assert.Equal(t, "", internalPath)
}

func TestRegistryBuildsArchivePath(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)
	reg := newRegistry(cache)

	p, err := reg.New("archive://" + archivePath + "#top.txt")
	require.NoError(t, err)

	data, err := p.ReadBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "top-level", string(data))
}

func TestBackendIsDirAndIterdir(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)
	reg := newRegistry(cache)

	root, err := reg.New("archive://" + archivePath)
	require.NoError(t, err)

	isDir, err := root.IsDir(context.Background())
	require.NoError(t, err)
	assert.True(t, isDir)

	it, err := root.Iterdir(context.Background())
	require.NoError(t, err)
	defer it.Close()

	var names []string
	for {
		child, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, vpath.FromBackend(child).Name())
	}
	assert.ElementsMatch(t, []string{"top.txt", "sub"}, names)
}

func TestBackendJoinDescendsIntoSubdirectory(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)
	reg := newRegistry(cache)

	root, err := reg.New("archive://" + archivePath)
	require.NoError(t, err)

	nested := root.Join("sub").Join("nested.txt")
	data, err := nested.ReadBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nested-content", string(data))
}

func TestBackendWritesAreRejected(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)
	reg := newRegistry(cache)

	p, err := reg.New("archive://" + archivePath + "#top.txt")
	require.NoError(t, err)

	err = p.WriteBytes(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Equal(t, vpath.KindReadOnlyStorage, vpath.Kind(err))

	err = p.Unlink(context.Background())
	require.Error(t, err)
	assert.Equal(t, vpath.KindReadOnlyStorage, vpath.Kind(err))
}

func TestBackendExistsFalseForUnknownMember(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)
	reg := newRegistry(cache)

	p, err := reg.New("archive://" + archivePath + "#missing.txt")
	require.NoError(t, err)

	exists, err := p.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBackendCapabilitiesAreReadOnlyAndInheritRemoteness(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)

	r := vpath.NewRegistry()
	Register(r, cache, true)
	p, err := r.New("archive://" + archivePath + "#top.txt")
	require.NoError(t, err)

	caps := p.Capabilities()
	assert.False(t, caps.SupportsWriteOperations)
	assert.True(t, caps.IsRemote)
}

func TestBackendDisplayPrefixNamesTheArchive(t *testing.T) {
	archivePath := buildTestZip(t)
	cache := archivefs.NewCache(0, 0, nil)
	reg := newRegistry(cache)

	p, err := reg.New("archive://" + archivePath + "#top.txt")
	require.NoError(t, err)

	prefix := p.GetDisplayPrefix()
	assert.Contains(t, prefix, "data.zip")
}
