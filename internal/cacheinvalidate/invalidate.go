// Package cacheinvalidate drops stale cache entries after a file or archive
// operation mutates storage. Invalidation is best-effort: a cache miss just
// costs an extra round trip, while a stale hit can show deleted files or
// hide new ones, so every failure path here is silently swallowed rather
// than surfaced to the caller.
package cacheinvalidate

import (
	"strings"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/s3cache"
	"github.com/shimomut/tfm/internal/vpath"
)

// Invalidator drops S3Cache and ArchiveCache entries affected by a
// completed operation. Either cache may be nil, in which case the
// corresponding invalidation is skipped.
type Invalidator struct {
	s3Cache      *s3cache.Cache
	archiveCache *archivefs.Cache
}

// New builds an Invalidator over the given process-wide caches.
func New(s3Cache *s3cache.Cache, archiveCache *archivefs.Cache) *Invalidator {
	return &Invalidator{s3Cache: s3Cache, archiveCache: archiveCache}
}

// AfterFileOperation invalidates caches following a copy/move/delete:
// the destination's listing always, and each source's parent listing for
// delete and move (copy leaves the source tree untouched).
func (inv *Invalidator) AfterFileOperation(kind progress.OperationType, sources []vpath.Path, dest vpath.Path) {
	inv.invalidateListing(dest)
	if kind == progress.OpDelete || kind == progress.OpMove {
		for _, src := range sources {
			if parent, ok := src.Parent(); ok {
				inv.invalidateListing(parent)
			}
		}
	}
}

// AfterDelete invalidates the parent listing of every deleted source.
func (inv *Invalidator) AfterDelete(sources []vpath.Path) {
	for _, src := range sources {
		if parent, ok := src.Parent(); ok {
			inv.invalidateListing(parent)
		}
	}
}

// AfterArchiveCreate invalidates the destination directory's listing and,
// since the archive file itself is new content at that path, any cached
// Handler that might already be open for it.
func (inv *Invalidator) AfterArchiveCreate(dest vpath.Path) {
	if parent, ok := dest.Parent(); ok {
		inv.invalidateListing(parent)
	}
	inv.invalidateArchiveFile(dest)
}

// AfterArchiveExtract invalidates the listing of every directory that
// received extracted members. TFM never extracts into another archive's
// interior, so ArchiveCache is never a target here.
func (inv *Invalidator) AfterArchiveExtract(destDir vpath.Path) {
	inv.invalidateListing(destDir)
}

func (inv *Invalidator) invalidateListing(p vpath.Path) {
	if p.Scheme() != "s3" || inv.s3Cache == nil {
		return
	}
	bucket, key, err := parseS3URI(p.URI())
	if err != nil {
		return
	}
	inv.s3Cache.InvalidatePrefix(bucket, key)
}

func (inv *Invalidator) invalidateArchiveFile(p vpath.Path) {
	if inv.archiveCache != nil {
		inv.archiveCache.Invalidate(p.URI())
	}
	if p.Scheme() == "s3" && inv.s3Cache != nil {
		if bucket, key, err := parseS3URI(p.URI()); err == nil {
			inv.s3Cache.InvalidateKey(bucket, key)
		}
	}
}

// parseS3URI extracts bucket and key from an "s3://bucket/key" URI,
// mirroring s3path's own URI grammar.
func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "not an s3:// uri: %s", uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "s3 uri missing bucket: %s", uri)
	}
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
