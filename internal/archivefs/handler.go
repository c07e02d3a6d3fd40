package archivefs

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/shimomut/tfm/internal/vpath"
	"github.com/ulikunitz/xz"
)

// lazyThreshold is the member count above which a Handler switches to lazy
// entry caching.
const lazyThreshold = 1000

// shallowDepth bounds the eagerly-cached depth in lazy mode: directories and
// entries at depth < shallowDepth are cached during the initial walk.
const shallowDepth = 2

// Handler owns one opened archive: its member index, synthesized virtual
// directories, and (for ZIP) the random-access reader needed to satisfy
// on-demand lookups in lazy mode.
type Handler struct {
	archivePath string // absolute path to the archive file
	archiveType ArchiveType
	tempFile    string // non-empty if archivePath was downloaded to a temp file

	mu            sync.Mutex // serializes reads through the underlying format reader
	entryCache    map[string]*Entry
	directoryCache map[string][]string // internal path -> ordered child internal paths
	lazy          bool

	zipReader *zip.ReadCloser // kept open for ZIP random access; nil for TAR family
	localFile string          // local path used to re-scan TAR family archives on demand
}

// Open reads archivePath (which must already be a local file; remote
// archives are downloaded to a temp file by the caller, see
// Cache.GetHandler) and builds the member index.
func Open(archivePath, localFile string, archiveType ArchiveType, tempFile string) (*Handler, error) {
	h := &Handler{
		archivePath:    archivePath,
		archiveType:    archiveType,
		tempFile:       tempFile,
		localFile:      localFile,
		entryCache:     make(map[string]*Entry),
		directoryCache: make(map[string][]string),
	}
	if err := h.walk(); err != nil {
		h.Close()
		return nil, err
	}
	h.synthesizeVirtualDirs()
	return h, nil
}

// Close releases the underlying reader and deletes the temp file, if any.
// Idempotent.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.zipReader != nil {
		_ = h.zipReader.Close()
		h.zipReader = nil
	}
	if h.tempFile != "" {
		_ = os.Remove(h.tempFile)
		h.tempFile = ""
	}
	return nil
}

// walk performs the one-time member scan building entryCache/directoryCache.
func (h *Handler) walk() error {
	switch h.archiveType {
	case TypeZip:
		return h.walkZip()
	default:
		return h.walkTar()
	}
}

func (h *Handler) walkZip() error {
	zr, err := zip.OpenReader(h.localFile)
	if err != nil {
		return vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "opening zip %s", h.archivePath)
	}
	h.zipReader = zr
	h.lazy = len(zr.File) > lazyThreshold
	for i, f := range zr.File {
		internalPath := normalizeInternalPath(f.Name)
		if internalPath == "" || internalPath == "." {
			continue
		}
		depth := len(ancestorsOf(internalPath))
		isDir := f.FileInfo().IsDir()
		entry := &Entry{
			Name:           path.Base(internalPath),
			InternalPath:   internalPath,
			IsDir:          isDir,
			Size:           int64(f.UncompressedSize64),
			CompressedSize: int64(f.CompressedSize64),
			MTime:          f.Modified,
			Mode:           f.Mode(),
			ArchiveType:    TypeZip,
		}
		if !h.lazy || isDir || depth < shallowDepth {
			h.registerEntry(entry)
		} else {
			// Register only the directory membership; full entry is
			// fetched lazily in GetEntryInfo by indexing zr.File.
			h.registerDirectoryMembershipOnly(internalPath)
		}
		_ = i
	}
	return nil
}

func (h *Handler) walkTar() error {
	f, err := os.Open(h.localFile)
	if err != nil {
		return vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "opening archive %s", h.archivePath)
	}
	defer f.Close()

	tr, cleanup, err := h.tarReaderFor(f)
	if err != nil {
		return err
	}
	defer cleanup()

	var count int
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "reading tar %s", h.archivePath)
		}
		count++
	}
	h.lazy = count > lazyThreshold

	// Second pass to actually register entries (tar streams are forward
	// only, so counting and registering require two passes over
	// compressed formats; cheap relative to member content reads since we
	// never read file bodies here).
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "rewinding archive %s", h.archivePath)
	}
	tr, cleanup2, err := h.tarReaderFor(f)
	if err != nil {
		return err
	}
	defer cleanup2()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "reading tar %s", h.archivePath)
		}
		internalPath := normalizeInternalPath(hdr.Name)
		if internalPath == "" || internalPath == "." {
			continue
		}
		isDir := hdr.Typeflag == tar.TypeDir
		depth := len(ancestorsOf(internalPath))
		entry := &Entry{
			Name:         path.Base(internalPath),
			InternalPath: internalPath,
			IsDir:        isDir,
			Size:         hdr.Size,
			MTime:        hdr.ModTime,
			Mode:         hdr.FileInfo().Mode(),
			ArchiveType:  h.archiveType,
		}
		if !h.lazy || isDir || depth < shallowDepth {
			h.registerEntry(entry)
		} else {
			h.registerDirectoryMembershipOnly(internalPath)
		}
	}
	return nil
}

// tarReaderFor wraps f with the decompressor appropriate to h.archiveType
// and returns a *tar.Reader plus a cleanup func for any decompressor that
// itself needs closing.
func (h *Handler) tarReaderFor(f *os.File) (*tar.Reader, func(), error) {
	switch h.archiveType {
	case TypeTar:
		return tar.NewReader(f), func() {}, nil
	case TypeTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "opening gzip stream")
		}
		return tar.NewReader(gz), func() { gz.Close() }, nil
	case TypeTarBz2:
		return tar.NewReader(bzip2.NewReader(f)), func() {}, nil
	case TypeTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "opening xz stream")
		}
		return tar.NewReader(xr), func() {}, nil
	default:
		return nil, nil, vpath.NewErrorf(vpath.KindArchiveFormat, nil, "unsupported tar compression")
	}
}

// registerEntry inserts entry into entryCache and links it into its
// parent's directoryCache, preserving member order.
func (h *Handler) registerEntry(entry *Entry) {
	h.entryCache[entry.InternalPath] = entry
	parent := path.Dir(entry.InternalPath)
	if parent == "." {
		parent = ""
	}
	h.directoryCache[parent] = append(h.directoryCache[parent], entry.InternalPath)
}

// registerDirectoryMembershipOnly links internalPath into its parent's
// directory listing without caching the full Entry (lazy mode for deep
// entries); GetEntryInfo fetches the entry on demand.
func (h *Handler) registerDirectoryMembershipOnly(internalPath string) {
	parent := path.Dir(internalPath)
	if parent == "." {
		parent = ""
	}
	h.directoryCache[parent] = append(h.directoryCache[parent], internalPath)
}

// synthesizeVirtualDirs ensures every ancestor of every registered member
// has a (possibly synthetic) directory Entry and a directoryCache slot, so
// directories with no explicit archive entry still list and stat normally.
func (h *Handler) synthesizeVirtualDirs() {
	// Collect the full set of internal paths we know about (explicit
	// entries plus lazily-membership-only ones) so we can compute
	// ancestors even for paths never given a full Entry.
	seen := make(map[string]bool)
	for p := range h.entryCache {
		seen[p] = true
	}
	for _, children := range h.directoryCache {
		for _, c := range children {
			seen[c] = true
		}
	}

	var allPaths []string
	for p := range seen {
		allPaths = append(allPaths, p)
	}

	for _, p := range allPaths {
		for _, ancestor := range ancestorsOf(p) {
			if _, ok := h.entryCache[ancestor]; ok {
				continue
			}
			if _, ok := h.directoryCache[ancestor]; ok {
				// already a directory via membership, but may lack
				// a synthesized Entry record if it was never an
				// explicit member.
			}
			h.entryCache[ancestor] = &Entry{
				Name:         path.Base(ancestor),
				InternalPath: ancestor,
				IsDir:        true,
				Size:         0,
				Mode:         0o755 | os.ModeDir,
				MTime:        time.Time{},
				ArchiveType:  h.archiveType,
				Synthetic:    true,
			}
			parent := path.Dir(ancestor)
			if parent == "." {
				parent = ""
			}
			if !containsStr(h.directoryCache[parent], ancestor) {
				h.directoryCache[parent] = append(h.directoryCache[parent], ancestor)
			}
		}
	}

	// Root ("") is always a directory, explicit or not.
	if _, ok := h.entryCache[""]; !ok {
		h.entryCache[""] = &Entry{Name: "", InternalPath: "", IsDir: true, Mode: 0o755 | os.ModeDir, ArchiveType: h.archiveType, Synthetic: true}
	}
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// GetEntryInfo returns the Entry for internalPath, fetching it on demand
// from the underlying reader if it wasn't eagerly cached (lazy mode).
// A path known only as a directory listing key gets a synthetic directory
// Entry; a path that is wholly unknown yields a KindArchiveNavigation error.
func (h *Handler) GetEntryInfo(internalPath string) (*Entry, error) {
	internalPath = normalizeInternalPath(internalPath)
	if internalPath == "." {
		internalPath = ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.entryCache[internalPath]; ok {
		return e, nil
	}
	if _, isDir := h.directoryCache[internalPath]; isDir {
		// Directory we know about via membership only (shouldn't happen
		// post-synthesis, but handle defensively).
		e := &Entry{InternalPath: internalPath, Name: path.Base(internalPath), IsDir: true, ArchiveType: h.archiveType, Synthetic: true}
		h.entryCache[internalPath] = e
		return e, nil
	}
	if !h.lazy {
		return nil, vpath.NewErrorf(vpath.KindArchiveNavigation, nil, "%s not found in archive", internalPath)
	}

	// Lazy on-demand lookup.
	switch h.archiveType {
	case TypeZip:
		for _, f := range h.zipReader.File {
			if normalizeInternalPath(f.Name) == internalPath {
				e := &Entry{
					Name:           path.Base(internalPath),
					InternalPath:   internalPath,
					IsDir:          f.FileInfo().IsDir(),
					Size:           int64(f.UncompressedSize64),
					CompressedSize: int64(f.CompressedSize64),
					MTime:          f.Modified,
					Mode:           f.Mode(),
					ArchiveType:    TypeZip,
				}
				h.entryCache[internalPath] = e
				return e, nil
			}
		}
	default:
		e, err := h.scanTarForEntry(internalPath)
		if err != nil {
			return nil, err
		}
		if e != nil {
			h.entryCache[internalPath] = e
			return e, nil
		}
	}
	return nil, vpath.NewErrorf(vpath.KindArchiveNavigation, nil, "%s not found in archive", internalPath)
}

func (h *Handler) scanTarForEntry(internalPath string) (*Entry, error) {
	f, err := os.Open(h.localFile)
	if err != nil {
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "reopening archive %s", h.archivePath)
	}
	defer f.Close()
	tr, cleanup, err := h.tarReaderFor(f)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "scanning tar %s", h.archivePath)
		}
		if normalizeInternalPath(hdr.Name) == internalPath {
			return &Entry{
				Name:         path.Base(internalPath),
				InternalPath: internalPath,
				IsDir:        hdr.Typeflag == tar.TypeDir,
				Size:         hdr.Size,
				MTime:        hdr.ModTime,
				Mode:         hdr.FileInfo().Mode(),
				ArchiveType:  h.archiveType,
			}, nil
		}
	}
}

// ListChildren returns the direct child internal paths of dir. Explicit
// members appear in archive member order; synthesized virtual directories
// follow them, in no defined order.
func (h *Handler) ListChildren(dir string) ([]string, bool) {
	dir = normalizeInternalPath(dir)
	if dir == "." {
		dir = ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	children, ok := h.directoryCache[dir]
	if !ok {
		return nil, false
	}
	out := make([]string, len(children))
	copy(out, children)
	return out, true
}

// SortedChildren is ListChildren with a stable copy the caller may sort
// without mutating the handler's cache; unused by default (archive order
// is preserved) but kept for callers that want deterministic test output.
func (h *Handler) SortedChildren(dir string) []string {
	children, _ := h.ListChildren(dir)
	out := append([]string(nil), children...)
	sort.Strings(out)
	return out
}

// ExtractToBytes returns the full contents of internalPath. Fails with
// KindArchiveExtraction on directories.
func (h *Handler) ExtractToBytes(internalPath string) ([]byte, error) {
	entry, err := h.GetEntryInfo(internalPath)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return nil, vpath.NewErrorf(vpath.KindArchiveExtraction, nil, "%s is a directory", internalPath)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.archiveType {
	case TypeZip:
		for _, f := range h.zipReader.File {
			if normalizeInternalPath(f.Name) == entry.InternalPath {
				rc, err := f.Open()
				if err != nil {
					return nil, vpath.NewErrorf(vpath.KindArchiveExtraction, err, "opening %s", internalPath)
				}
				defer rc.Close()
				data, err := io.ReadAll(rc)
				if err != nil {
					return nil, vpath.NewErrorf(vpath.KindArchiveExtraction, err, "reading %s", internalPath)
				}
				return data, nil
			}
		}
		return nil, vpath.NewErrorf(vpath.KindArchiveNavigation, nil, "%s not found", internalPath)
	default:
		return h.extractTarToBytes(entry.InternalPath)
	}
}

func (h *Handler) extractTarToBytes(internalPath string) ([]byte, error) {
	f, err := os.Open(h.localFile)
	if err != nil {
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "reopening archive %s", h.archivePath)
	}
	defer f.Close()
	tr, cleanup, err := h.tarReaderFor(f)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, vpath.NewErrorf(vpath.KindArchiveNavigation, nil, "%s not found", internalPath)
		}
		if err != nil {
			return nil, vpath.NewErrorf(vpath.KindArchiveCorrupted, err, "reading tar %s", h.archivePath)
		}
		if normalizeInternalPath(hdr.Name) == internalPath {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, vpath.NewErrorf(vpath.KindArchiveExtraction, err, "reading %s", internalPath)
			}
			return data, nil
		}
	}
}

// ExtractToFile writes internalPath's contents to targetPath, then
// best-effort sets mtime (and mode for TAR).
func (h *Handler) ExtractToFile(internalPath, targetPath string) error {
	entry, err := h.GetEntryInfo(internalPath)
	if err != nil {
		return err
	}
	if entry.IsDir {
		return vpath.NewErrorf(vpath.KindArchiveExtraction, nil, "%s is a directory", internalPath)
	}
	data, err := h.ExtractToBytes(internalPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path.Dir(targetPath), 0o755); err != nil {
		return vpath.NewErrorf(vpath.KindIoError, err, "creating parent dirs for %s", targetPath)
	}
	if err := os.WriteFile(targetPath, data, 0o644); err != nil {
		return vpath.NewErrorf(vpath.KindIoError, err, "writing %s", targetPath)
	}
	if !entry.MTime.IsZero() {
		_ = os.Chtimes(targetPath, entry.MTime, entry.MTime)
	}
	if entry.ArchiveType != TypeZip && entry.Mode != 0 {
		_ = os.Chmod(targetPath, entry.Mode)
	}
	return nil
}

// Exists reports whether internalPath names a known member or synthesized
// directory.
func (h *Handler) Exists(internalPath string) bool {
	_, err := h.GetEntryInfo(internalPath)
	return err == nil
}
