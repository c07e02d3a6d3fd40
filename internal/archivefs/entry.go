// Package archivefs implements the archive virtual filesystem: reading
// ZIP/TAR(.gz/.bz2/.xz) containers, synthesizing virtual directories for
// implicit parents, and an LRU+TTL cache of opened handlers. Grounded on
// rclone's backend/zip/zip.go (archive reading shape) and
// backend/archive/archive.go (handler-cache wiring), generalized to the
// full TAR family and a bounded-open LRU+TTL cache.
package archivefs

import (
	"os"
	"path"
	"strings"
	"time"
)

// ArchiveType identifies the container format of an entry's owning archive.
type ArchiveType string

const (
	TypeZip    ArchiveType = "zip"
	TypeTar    ArchiveType = "tar"
	TypeTarGz  ArchiveType = "tar.gz"
	TypeTarBz2 ArchiveType = "tar.bz2"
	TypeTarXz  ArchiveType = "tar.xz"
)

// Entry describes one member of an archive, explicit or synthesized.
// InternalPath is always POSIX-normalized: no leading/trailing slashes,
// backslashes mapped to forward slashes.
type Entry struct {
	Name           string
	InternalPath   string
	IsDir          bool
	Size           int64
	CompressedSize int64
	MTime          time.Time
	Mode           os.FileMode
	ArchiveType    ArchiveType
	// Synthetic is true for virtual directory entries created because an
	// archive member exists below them but no explicit entry marks them.
	Synthetic bool
}

// normalizeInternalPath strips leading/trailing slashes and maps '\' to
// '/'.
func normalizeInternalPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	return path.Clean(p)
	// path.Clean("") returns "." — callers treat "." as archive root.
}

// ancestorsOf returns the internal paths of every ancestor directory of p,
// root-most first, excluding p itself and excluding the archive root ("").
func ancestorsOf(internalPath string) []string {
	if internalPath == "" || internalPath == "." {
		return nil
	}
	dir := path.Dir(internalPath)
	if dir == "." {
		return nil
	}
	var out []string
	cur := dir
	for cur != "." && cur != "/" && cur != "" {
		out = append([]string{cur}, out...)
		cur = path.Dir(cur)
	}
	return out
}
