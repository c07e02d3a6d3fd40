package ops

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/vpath"
)

// ArchiveExecutor runs archive create/extract operations.
type ArchiveExecutor struct {
	pm    *progress.Manager
	cache *archivefs.Cache
	log   *slog.Logger
}

// NewArchiveExecutor builds an ArchiveExecutor reporting through pm, reading
// archives through cache, and logging through log (nil falls back to
// slog.Default()).
func NewArchiveExecutor(pm *progress.Manager, cache *archivefs.Cache, log *slog.Logger) *ArchiveExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &ArchiveExecutor{pm: pm, cache: cache, log: log}
}

// archiveTypeFromFormat maps the explicit format_type strings a Create
// caller supplies onto an archivefs.ArchiveType. This is distinct from
// archivefs.DetectFormat, which infers type from a filename suffix for
// Extract.
func archiveTypeFromFormat(formatType string) (archivefs.ArchiveType, error) {
	switch formatType {
	case "zip":
		return archivefs.TypeZip, nil
	case "tar":
		return archivefs.TypeTar, nil
	case "tar.gz":
		return archivefs.TypeTarGz, nil
	case "tar.bz2":
		return archivefs.TypeTarBz2, nil
	case "tar.xz":
		return archivefs.TypeTarXz, nil
	default:
		return "", vpath.NewErrorf(vpath.KindArchiveFormat, nil, "unrecognized archive format type: %s", formatType)
	}
}

// memberAdder abstracts over zip.Writer and tar.Writer so archive creation
// walks sources once regardless of container format.
type memberAdder interface {
	addDir(name string, mode os.FileMode, mtime time.Time) error
	addFile(name string, mode os.FileMode, mtime time.Time, size int64, r io.Reader) error
	Close() error
}

type zipAdder struct {
	w *zip.Writer
}

func (z *zipAdder) addDir(name string, mode os.FileMode, mtime time.Time) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	hdr := &zip.FileHeader{Name: name, Modified: mtime}
	hdr.SetMode(mode | os.ModeDir)
	_, err := z.w.CreateHeader(hdr)
	return err
}

func (z *zipAdder) addFile(name string, mode os.FileMode, mtime time.Time, size int64, r io.Reader) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mtime}
	hdr.SetMode(mode)
	w, err := z.w.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

func (z *zipAdder) Close() error { return z.w.Close() }

// tarAdder writes a TAR stream, optionally through a compressing writer
// (pgzip for .tar.gz, ulikunitz/xz for .tar.xz) layered underneath.
type tarAdder struct {
	tw     *tar.Writer
	closer io.Closer
}

func (t *tarAdder) addDir(name string, mode os.FileMode, mtime time.Time) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	return t.tw.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeDir,
		Mode:     int64(mode.Perm()),
		ModTime:  mtime,
	})
}

func (t *tarAdder) addFile(name string, mode os.FileMode, mtime time.Time, size int64, r io.Reader) error {
	if err := t.tw.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     int64(mode.Perm()),
		Size:     size,
		ModTime:  mtime,
	}); err != nil {
		return err
	}
	_, err := io.Copy(t.tw, r)
	return err
}

func (t *tarAdder) Close() error {
	if err := t.tw.Close(); err != nil {
		return err
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func newMemberAdder(f *os.File, atype archivefs.ArchiveType) (memberAdder, error) {
	switch atype {
	case archivefs.TypeZip:
		return &zipAdder{w: zip.NewWriter(f)}, nil
	case archivefs.TypeTar:
		return &tarAdder{tw: tar.NewWriter(f)}, nil
	case archivefs.TypeTarGz:
		gz := pgzip.NewWriter(f)
		return &tarAdder{tw: tar.NewWriter(gz), closer: gz}, nil
	case archivefs.TypeTarXz:
		xw, err := xz.NewWriter(f)
		if err != nil {
			return nil, vpath.NewErrorf(vpath.KindArchiveFormat, err, "opening xz writer")
		}
		return &tarAdder{tw: tar.NewWriter(xw), closer: xw}, nil
	case archivefs.TypeTarBz2:
		bw, err := bzip2.NewWriter(f, nil)
		if err != nil {
			return nil, vpath.NewErrorf(vpath.KindArchiveFormat, err, "opening bzip2 writer")
		}
		return &tarAdder{tw: tar.NewWriter(bw), closer: bw}, nil
	default:
		return nil, vpath.NewErrorf(vpath.KindArchiveFormat, nil, "archive format %s cannot be created", atype)
	}
}

// Create builds an archive at dest from sources, in the format named by
// formatType. It spawns its own goroutine and returns immediately.
func (e *ArchiveExecutor) Create(ctx context.Context, sources []vpath.Path, dest vpath.Path, formatType string, onProgress progress.Callback, onComplete CompletionCallback) {
	go e.runCreate(ctx, sources, dest, formatType, onProgress, onComplete)
}

func (e *ArchiveExecutor) runCreate(ctx context.Context, sources []vpath.Path, dest vpath.Path, formatType string, onProgress progress.Callback, onComplete CompletionCallback) {
	result := Result{}
	defer func() {
		e.pm.FinishOperation()
		if onComplete != nil {
			onComplete(result)
		}
	}()

	e.pm.StartOperation(progress.OpArchiveCreate, 0, "", onProgress)

	atype, err := archiveTypeFromFormat(formatType)
	if err != nil {
		e.log.Warn("archive create: bad format", "format", formatType, "error", err)
		result.ErrorCount++
		e.pm.IncrementErrors()
		return
	}
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	destLocal := dest.Scheme() == "file"
	writePath := dest.URI()
	if !destLocal {
		tmp, err := os.CreateTemp("", "tfm-archive-*")
		if err != nil {
			result.ErrorCount++
			e.log.Warn("archive create: could not create staging file", "error", err)
			return
		}
		writePath = tmp.Name()
		tmp.Close()
		defer os.Remove(writePath)
	}

	f, err := os.Create(writePath)
	if err != nil {
		result.ErrorCount++
		e.log.Warn("archive create: could not open destination", "path", writePath, "error", err)
		return
	}

	adder, err := newMemberAdder(f, atype)
	if err != nil {
		f.Close()
		if destLocal {
			os.Remove(writePath)
		}
		result.ErrorCount++
		e.log.Warn("archive create: could not start writer", "error", err)
		return
	}

	processed := 0
	var addErr error
	for _, src := range sources {
		if runCtx.Err() != nil {
			addErr = runCtx.Err()
			break
		}
		if err := e.addSourceTree(runCtx, adder, src, src.Name(), &processed); err != nil {
			addErr = err
			break
		}
	}

	closeErr := adder.Close()
	f.Close()

	if addErr != nil || closeErr != nil {
		result.ErrorCount++
		e.pm.IncrementErrors()
		if destLocal {
			// Cancellation or a mid-write failure must not leave a
			// corrupted archive at the destination path.
			os.Remove(writePath)
		}
		if addErr != nil {
			e.log.Warn("archive create: aborted", "error", addErr)
		} else {
			e.log.Warn("archive create: failed to finalize archive", "error", closeErr)
		}
		return
	}

	if !destLocal {
		data, err := os.ReadFile(writePath)
		if err != nil {
			result.ErrorCount++
			e.log.Warn("archive create: could not read staged archive", "error", err)
			return
		}
		if err := dest.WriteBytesWithProgress(runCtx, data, func(copied, total int64) {
			e.pm.UpdateByteProgress(copied, total)
		}); err != nil {
			result.ErrorCount++
			e.log.Warn("archive create: upload failed", "dest", dest.URI(), "error", err)
			return
		}
	}

	result.SuccessCount = processed
}

// addSourceTree recursively adds src (a file or directory) to adder under
// archiveRelPath, reading file content through the Path abstraction so
// remote sources (SSH, S3) are handled the same as local ones.
func (e *ArchiveExecutor) addSourceTree(ctx context.Context, adder memberAdder, src vpath.Path, archiveRelPath string, processed *int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	isDir, err := src.IsDir(ctx)
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	mtime := time.Now()
	if st, err := src.Stat(ctx); err == nil {
		mode = st.Mode
		mtime = st.ModTime
	}

	if isDir {
		if err := adder.addDir(archiveRelPath, mode, mtime); err != nil {
			return err
		}
		it, err := src.Iterdir(ctx)
		if err != nil {
			return err
		}
		defer it.Close()
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			child, ok, err := it.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			childPath := vpath.FromBackend(child)
			if err := e.addSourceTree(ctx, adder, childPath, archiveRelPath+"/"+childPath.Name(), processed); err != nil {
				return err
			}
		}
		return nil
	}

	e.pm.UpdateProgress(archiveRelPath, processed)
	data, err := src.ReadBytesWithProgress(ctx, func(copied, total int64) {
		e.pm.UpdateByteProgress(copied, total)
	})
	if err != nil {
		return err
	}
	if err := adder.addFile(archiveRelPath, mode, mtime, int64(len(data)), bytes.NewReader(data)); err != nil {
		return err
	}
	*processed++
	return nil
}

// Extract unpacks archive's members into destDir, skipping relative paths
// named in skipFiles and silently overwriting those named in
// overwriteFiles; overwrite governs every other pre-existing destination
// path. It spawns its own goroutine and returns immediately.
func (e *ArchiveExecutor) Extract(ctx context.Context, archive vpath.Path, destDir vpath.Path, overwrite bool, skipFiles, overwriteFiles map[string]bool, onProgress progress.Callback, onComplete CompletionCallback) {
	go e.runExtract(ctx, archive, destDir, overwrite, skipFiles, overwriteFiles, onProgress, onComplete)
}

func (e *ArchiveExecutor) runExtract(ctx context.Context, archive vpath.Path, destDir vpath.Path, overwrite bool, skipFiles, overwriteFiles map[string]bool, onProgress progress.Callback, onComplete CompletionCallback) {
	result := Result{}
	defer func() {
		e.pm.FinishOperation()
		if onComplete != nil {
			onComplete(result)
		}
	}()

	e.pm.StartOperation(progress.OpArchiveExtract, 0, "", onProgress)

	handler, err := e.cache.GetHandler(archive.URI())
	if err != nil {
		result.ErrorCount++
		e.log.Warn("archive extract: could not open archive", "archive", archive.URI(), "error", err)
		return
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	processed := 0
	e.extractDir(runCtx, handler, "", destDir, overwrite, skipFiles, overwriteFiles, &processed, &result)
}

// extractDir recursively extracts dir's children into destDir, which tracks
// the same relative position inside the destination tree.
func (e *ArchiveExecutor) extractDir(ctx context.Context, handler *archivefs.Handler, dir string, destDir vpath.Path, overwrite bool, skipFiles, overwriteFiles map[string]bool, processed *int, result *Result) {
	if ctx.Err() != nil {
		return
	}
	children, _ := handler.ListChildren(dir)
	for _, child := range children {
		if ctx.Err() != nil {
			return
		}
		entry, err := handler.GetEntryInfo(child)
		if err != nil {
			result.ErrorCount++
			e.pm.IncrementErrors()
			continue
		}

		target := destDir.Join(entry.Name)

		if entry.IsDir {
			// Directory entries never count toward the conflict or
			// processed-item tallies.
			if err := target.Mkdir(ctx, true); err != nil && vpath.Kind(err) != vpath.KindFileExists {
				result.ErrorCount++
				e.pm.IncrementErrors()
				continue
			}
			e.extractDir(ctx, handler, child, target, overwrite, skipFiles, overwriteFiles, processed, result)
			continue
		}

		if skipFiles[child] {
			result.SkippedCount++
			continue
		}

		exists, err := target.Exists(ctx)
		if err != nil {
			result.ErrorCount++
			e.pm.IncrementErrors()
			continue
		}
		if exists && !overwriteFiles[child] && !overwrite {
			result.SkippedCount++
			continue
		}

		*processed++
		e.pm.UpdateProgress(entry.Name, processed)

		data, err := handler.ExtractToBytes(child)
		if err != nil {
			result.ErrorCount++
			e.pm.IncrementErrors()
			e.log.Warn("archive extract: member failed", "member", child, "error", err)
			continue
		}
		if err := target.WriteBytesWithProgress(ctx, data, func(copied, total int64) {
			e.pm.UpdateByteProgress(copied, total)
		}); err != nil {
			result.ErrorCount++
			e.pm.IncrementErrors()
			e.log.Warn("archive extract: write failed", "dest", target.URI(), "error", err)
			continue
		}
		result.SuccessCount++
	}
}
