package archivefs

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZip writes a ZIP archive containing the given internal-path -> content
// entries and returns the path to the archive file on disk. Implicit parent
// directories are not written as explicit members, so ListChildren's
// synthesizeVirtualDirs step is exercised.
func buildZip(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return archivePath
}

func buildTarGz(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.tar.gz")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return archivePath
}

func TestOpenZipSynthesizesVirtualDirectories(t *testing.T) {
	archivePath := buildZip(t, map[string]string{
		"top.txt":           "top",
		"sub/dir/nested.txt": "nested",
	})

	h, err := Open(archivePath, archivePath, TypeZip, "")
	require.NoError(t, err)
	defer h.Close()

	children, ok := h.ListChildren("")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"top.txt", "sub"}, children)

	subChildren, ok := h.ListChildren("sub")
	require.True(t, ok)
	assert.Equal(t, []string{"sub/dir"}, subChildren)

	entry, err := h.GetEntryInfo("sub")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)
	assert.True(t, entry.Synthetic)
}

func TestZipGetEntryInfoAndExtract(t *testing.T) {
	archivePath := buildZip(t, map[string]string{
		"readme.txt": "hello world",
	})

	h, err := Open(archivePath, archivePath, TypeZip, "")
	require.NoError(t, err)
	defer h.Close()

	entry, err := h.GetEntryInfo("readme.txt")
	require.NoError(t, err)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(len("hello world")), entry.Size)

	data, err := h.ExtractToBytes("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	assert.True(t, h.Exists("readme.txt"))
	assert.False(t, h.Exists("missing.txt"))
}

func TestZipExtractToFileWritesContentAndMTime(t *testing.T) {
	archivePath := buildZip(t, map[string]string{
		"data/file.bin": "binary-content",
	})
	h, err := Open(archivePath, archivePath, TypeZip, "")
	require.NoError(t, err)
	defer h.Close()

	target := filepath.Join(t.TempDir(), "extracted.bin")
	require.NoError(t, h.ExtractToFile("data/file.bin", target))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "binary-content", string(got))
}

func TestZipExtractToBytesRejectsDirectory(t *testing.T) {
	archivePath := buildZip(t, map[string]string{
		"dir/file.txt": "x",
	})
	h, err := Open(archivePath, archivePath, TypeZip, "")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.ExtractToBytes("dir")
	require.Error(t, err)
}

func TestGetEntryInfoUnknownPathIsNavigationError(t *testing.T) {
	archivePath := buildZip(t, map[string]string{"a.txt": "a"})
	h, err := Open(archivePath, archivePath, TypeZip, "")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.GetEntryInfo("does/not/exist")
	require.Error(t, err)
}

func TestTarGzOpenAndExtract(t *testing.T) {
	archivePath := buildTarGz(t, map[string]string{
		"bin/tool":   "#!/bin/sh\necho hi\n",
		"docs/a.txt": "docs",
	})

	h, err := Open(archivePath, archivePath, TypeTarGz, "")
	require.NoError(t, err)
	defer h.Close()

	root, ok := h.ListChildren("")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"bin", "docs"}, root)

	data, err := h.ExtractToBytes("bin/tool")
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo hi")

	assert.True(t, h.Exists("docs/a.txt"))
	assert.True(t, h.Exists("docs"))
}

func TestTarGzExtractToFile(t *testing.T) {
	archivePath := buildTarGz(t, map[string]string{
		"file.txt": "payload",
	})
	h, err := Open(archivePath, archivePath, TypeTarGz, "")
	require.NoError(t, err)
	defer h.Close()

	target := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, h.ExtractToFile("file.txt", target))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestOpenRejectsCorruptZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("not a zip file"), 0o644))

	_, err := Open(archivePath, archivePath, TypeZip, "")
	require.Error(t, err)
}

func TestCloseRemovesTempFile(t *testing.T) {
	archivePath := buildZip(t, map[string]string{"a.txt": "a"})
	tmpDir := t.TempDir()
	tempFile := filepath.Join(tmpDir, "staged.zip")
	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tempFile, data, 0o644))

	h, err := Open(archivePath, tempFile, TypeZip, tempFile)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, statErr := os.Stat(tempFile)
	assert.True(t, os.IsNotExist(statErr))
}
