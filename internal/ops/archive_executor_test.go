package ops_test

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/ops"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/vpath"
)

func waitArchiveResult(t *testing.T, ch chan ops.Result) ops.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for archive operation completion")
		return ops.Result{}
	}
}

func TestArchiveExecutorCreateZip(t *testing.T) {
	reg := newRegistry()
	srcDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("nested"), 0o644))

	exec := ops.NewArchiveExecutor(progress.NewManager(), archivefs.NewCache(0, 0, nil), nil)
	src := mustPath(t, reg, srcDir)
	dest := mustPath(t, reg, filepath.Join(outDir, "out.zip"))

	done := make(chan ops.Result, 1)
	exec.Create(context.Background(), []vpath.Path{src}, dest, "zip", nil, func(r ops.Result) { done <- r })
	result := waitArchiveResult(t, done)

	require.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 2, result.SuccessCount)

	zr, err := zip.OpenReader(filepath.Join(outDir, "out.zip"))
	require.NoError(t, err)
	defer zr.Close()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	baseName := filepath.Base(srcDir)
	assert.Contains(t, names, baseName+"/a.txt")
	assert.Contains(t, names, baseName+"/sub/b.txt")
}

func TestArchiveExecutorCreateTarBz2RoundTrips(t *testing.T) {
	reg := newRegistry()
	srcDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))

	exec := ops.NewArchiveExecutor(progress.NewManager(), archivefs.NewCache(0, 0, nil), nil)
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	archivePath := filepath.Join(outDir, "out.tar.bz2")
	dest := mustPath(t, reg, archivePath)

	done := make(chan ops.Result, 1)
	exec.Create(context.Background(), []vpath.Path{src}, dest, "tar.bz2", nil, func(r ops.Result) { done <- r })
	result := waitArchiveResult(t, done)

	require.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 1, result.SuccessCount)

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	bzr, err := bzip2.NewReader(f, nil)
	require.NoError(t, err)
	tr := tar.NewReader(bzr)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", hdr.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestArchiveExecutorExtract(t *testing.T) {
	reg := newRegistry()
	archiveDir := t.TempDir()
	archivePath := filepath.Join(archiveDir, "in.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("a.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	w, err = zw.Create("sub/b.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nested"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	cache := archivefs.NewCache(0, 0, nil)
	exec := ops.NewArchiveExecutor(progress.NewManager(), cache, nil)
	archive := mustPath(t, reg, archivePath)
	dest := mustPath(t, reg, destDir)

	done := make(chan ops.Result, 1)
	exec.Extract(context.Background(), archive, dest, false, nil, nil, nil, func(r ops.Result) { done <- r })
	result := waitArchiveResult(t, done)

	require.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 2, result.SuccessCount)

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	got, err = os.ReadFile(filepath.Join(destDir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))
}

func TestArchiveExecutorExtractSkipsNamedFiles(t *testing.T) {
	reg := newRegistry()
	archiveDir := t.TempDir()
	archivePath := filepath.Join(archiveDir, "in.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("a.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	cache := archivefs.NewCache(0, 0, nil)
	exec := ops.NewArchiveExecutor(progress.NewManager(), cache, nil)
	archive := mustPath(t, reg, archivePath)
	dest := mustPath(t, reg, destDir)

	done := make(chan ops.Result, 1)
	skip := map[string]bool{"a.txt": true}
	exec.Extract(context.Background(), archive, dest, false, skip, nil, nil, func(r ops.Result) { done <- r })
	result := waitArchiveResult(t, done)

	assert.Equal(t, 1, result.SkippedCount)
	_, statErr := os.Stat(filepath.Join(destDir, "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
