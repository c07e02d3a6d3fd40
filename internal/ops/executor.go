// Package ops implements the background file and archive operation
// executors: each operation method runs on its own goroutine, reports
// progress through a progress.Manager, and polls ctx for cooperative
// cancellation at well-defined checkpoints.
package ops

import (
	"context"
	"log/slog"

	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/vpath"
)

// Result is the (success, skipped, error) triple an executor reports
// exactly once on completion.
type Result struct {
	SuccessCount int
	SkippedCount int
	ErrorCount   int
}

// CompletionCallback receives the final Result. An executor invokes it
// exactly once, whether the operation ran to completion, was cancelled, or
// hit a fatal error.
type CompletionCallback func(Result)

// FileExecutor runs copy/move/delete operations.
type FileExecutor struct {
	pm  *progress.Manager
	log *slog.Logger
}

// NewFileExecutor builds a FileExecutor reporting through pm and logging
// through log (a nil logger falls back to slog.Default()).
func NewFileExecutor(pm *progress.Manager, log *slog.Logger) *FileExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &FileExecutor{pm: pm, log: log}
}

// Copy recursively copies sources into dest. It spawns its own goroutine
// and returns immediately; onComplete fires from that goroutine. onProgress
// may be nil.
func (e *FileExecutor) Copy(ctx context.Context, sources []vpath.Path, dest vpath.Path, overwrite bool, onProgress progress.Callback, onComplete CompletionCallback) {
	go e.runCopy(ctx, sources, dest, overwrite, onProgress, onComplete)
}

func (e *FileExecutor) runCopy(ctx context.Context, sources []vpath.Path, dest vpath.Path, overwrite bool, onProgress progress.Callback, onComplete CompletionCallback) {
	result := Result{}
	defer func() {
		e.pm.FinishOperation()
		if onComplete != nil {
			onComplete(result)
		}
	}()

	total, err := e.countFiles(ctx, sources)
	if err != nil {
		e.log.Warn("copy: counting phase failed", "error", err)
		result.ErrorCount++
		return
	}

	e.pm.StartOperation(progress.OpCopy, 0, "", onProgress)
	e.pm.UpdateTotal(total, "")

	// runCtx is cancelled internally on a fatal error (disk space
	// exhaustion), which stops the remaining recursion via the same
	// ctx.Err() checkpoints used for user cancellation.
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	for _, src := range sources {
		if runCtx.Err() != nil {
			return
		}
		e.copyOne(runCtx, abort, src, dest.Join(src.Name()), overwrite, &result)
	}
}

func (e *FileExecutor) copyOne(ctx context.Context, abort context.CancelFunc, src, dest vpath.Path, overwrite bool, result *Result) {
	if ctx.Err() != nil {
		return
	}
	isDir, err := src.IsDir(ctx)
	if err != nil {
		e.log.Warn("copy: stat failed", "path", src.URI(), "error", err)
		result.ErrorCount++
		e.pm.IncrementErrors()
		return
	}

	if isDir {
		if err := dest.Mkdir(ctx, true); err != nil && vpath.Kind(err) != vpath.KindFileExists {
			e.log.Warn("copy: mkdir failed", "path", dest.URI(), "error", err)
			result.ErrorCount++
			e.pm.IncrementErrors()
			return
		}
		it, err := src.Iterdir(ctx)
		if err != nil {
			e.log.Warn("copy: iterdir failed", "path", src.URI(), "error", err)
			result.ErrorCount++
			e.pm.IncrementErrors()
			return
		}
		defer it.Close()
		for {
			if ctx.Err() != nil {
				return
			}
			child, ok, err := it.Next(ctx)
			if err != nil {
				result.ErrorCount++
				e.pm.IncrementErrors()
				return
			}
			if !ok {
				break
			}
			childPath := vpath.FromBackend(child)
			e.copyOne(ctx, abort, childPath, dest.Join(childPath.Name()), overwrite, result)
			if ctx.Err() != nil {
				return
			}
		}
		return
	}

	e.pm.UpdateProgress(src.Name(), nil)

	destExists, err := dest.Exists(ctx)
	if err != nil {
		result.ErrorCount++
		e.pm.IncrementErrors()
		return
	}
	if destExists {
		if !overwrite {
			result.SkippedCount++
			return
		}
		if err := dest.Unlink(ctx); err != nil {
			e.log.Warn("copy: could not remove existing destination", "path", dest.URI(), "error", err)
			result.ErrorCount++
			e.pm.IncrementErrors()
			return
		}
	}

	err = src.CopyTo(ctx, dest, true, func(copied, totalBytes int64) {
		e.pm.UpdateByteProgress(copied, totalBytes)
	})
	if err != nil {
		result.ErrorCount++
		e.pm.IncrementErrors()
		if vpath.Kind(err) == vpath.KindDiskSpaceExhausted {
			e.log.Warn("copy: disk space exhausted, aborting operation", "src", src.URI(), "dest", dest.URI())
			// Fatal: stop the whole operation rather than continuing to the
			// next file.
			abort()
			return
		}
		e.log.Warn("copy: failed", "src", src.URI(), "dest", dest.URI(), "error", err)
		return
	}
	result.SuccessCount++
}

func (e *FileExecutor) countFiles(ctx context.Context, sources []vpath.Path) (int, error) {
	total := 0
	for _, src := range sources {
		n, err := e.countOne(ctx, src, 0)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (e *FileExecutor) countOne(ctx context.Context, p vpath.Path, depth int) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	isDir, err := p.IsDir(ctx)
	if err != nil {
		return 0, err
	}
	if !isDir {
		return 1, nil
	}
	it, err := p.Iterdir(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	total := 0
	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		child, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n, err := e.countOne(ctx, vpath.FromBackend(child), depth+1)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Move moves sources into dest: a same-scheme rename-capable pair takes the
// O(1) native path; otherwise each source is copied and then deleted, but
// only when every file under it was copied: a source whose copy skipped or
// failed any file is left intact.
func (e *FileExecutor) Move(ctx context.Context, sources []vpath.Path, dest vpath.Path, overwrite bool, onProgress progress.Callback, onComplete CompletionCallback) {
	go e.runMove(ctx, sources, dest, overwrite, onProgress, onComplete)
}

func (e *FileExecutor) runMove(ctx context.Context, sources []vpath.Path, dest vpath.Path, overwrite bool, onProgress progress.Callback, onComplete CompletionCallback) {
	result := Result{}
	defer func() {
		e.pm.FinishOperation()
		if onComplete != nil {
			onComplete(result)
		}
	}()

	e.pm.StartOperation(progress.OpMove, len(sources), "", onProgress)
	e.pm.UpdateTotal(len(sources), "")

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	for i, src := range sources {
		if runCtx.Err() != nil {
			return
		}
		processed := i + 1
		e.pm.UpdateProgress(src.Name(), &processed)

		target := dest.Join(src.Name())
		if src.Scheme() == target.Scheme() && src.SupportsDirectoryRename() {
			if err := src.MoveTo(runCtx, target, overwrite, func(copied, total int64) {
				e.pm.UpdateByteProgress(copied, total)
			}); err == nil {
				result.SuccessCount++
				continue
			} else if vpath.Kind(err) == vpath.KindFileExists {
				result.SkippedCount++
				continue
			}
			// Fall through to generic copy+delete on native-rename failure.
		}

		copyResult := Result{}
		e.copyOne(runCtx, abort, src, target, overwrite, &copyResult)
		if copyResult.ErrorCount > 0 {
			result.ErrorCount += copyResult.ErrorCount
			continue
		}
		if copyResult.SkippedCount > 0 {
			result.SkippedCount++
			continue
		}
		if err := deleteSourceRecursive(runCtx, src); err != nil {
			e.log.Warn("move: copied but could not delete source", "path", src.URI(), "error", err)
			result.ErrorCount++
			continue
		}
		result.SuccessCount++
	}
}

func deleteSourceRecursive(ctx context.Context, p vpath.Path) error {
	isDir, err := p.IsDir(ctx)
	if err != nil {
		return err
	}
	if !isDir {
		return p.Unlink(ctx)
	}
	it, err := p.Iterdir(ctx)
	if err != nil {
		return err
	}
	var children []vpath.Path
	for {
		child, ok, err := it.Next(ctx)
		if err != nil {
			it.Close()
			return err
		}
		if !ok {
			break
		}
		children = append(children, vpath.FromBackend(child))
	}
	it.Close()
	for _, c := range children {
		if err := deleteSourceRecursive(ctx, c); err != nil {
			return err
		}
	}
	return p.Rmdir(ctx)
}

// Delete recursively deletes sources.
func (e *FileExecutor) Delete(ctx context.Context, sources []vpath.Path, onProgress progress.Callback, onComplete CompletionCallback) {
	go e.runDelete(ctx, sources, onProgress, onComplete)
}

func (e *FileExecutor) runDelete(ctx context.Context, sources []vpath.Path, onProgress progress.Callback, onComplete CompletionCallback) {
	result := Result{}
	defer func() {
		e.pm.FinishOperation()
		if onComplete != nil {
			onComplete(result)
		}
	}()

	total, err := e.countFiles(ctx, sources)
	if err != nil {
		result.ErrorCount++
		return
	}

	e.pm.StartOperation(progress.OpDelete, 0, "", onProgress)
	e.pm.UpdateTotal(total, "")

	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		e.deleteOne(ctx, src, &result)
	}
}

func (e *FileExecutor) deleteOne(ctx context.Context, p vpath.Path, result *Result) {
	if ctx.Err() != nil {
		return
	}
	isDir, err := p.IsDir(ctx)
	if err != nil {
		result.ErrorCount++
		e.pm.IncrementErrors()
		return
	}
	if isDir {
		it, err := p.Iterdir(ctx)
		if err != nil {
			result.ErrorCount++
			e.pm.IncrementErrors()
			return
		}
		var children []vpath.Path
		for {
			if ctx.Err() != nil {
				it.Close()
				return
			}
			child, ok, err := it.Next(ctx)
			if err != nil {
				break
			}
			if !ok {
				break
			}
			children = append(children, vpath.FromBackend(child))
		}
		it.Close()
		for _, c := range children {
			e.deleteOne(ctx, c, result)
			if ctx.Err() != nil {
				return
			}
		}
		if err := p.Rmdir(ctx); err != nil {
			if vpath.Kind(err) == vpath.KindPermissionDenied {
				e.log.Warn("delete: permission denied", "path", p.URI())
				result.ErrorCount++
				e.pm.IncrementErrors()
				return
			}
			result.ErrorCount++
			e.pm.IncrementErrors()
			return
		}
		result.SuccessCount++
		return
	}

	e.pm.UpdateProgress(p.Name(), nil)
	if err := p.Unlink(ctx); err != nil {
		if vpath.Kind(err) == vpath.KindPermissionDenied {
			e.log.Warn("delete: permission denied", "path", p.URI())
		} else {
			e.log.Warn("delete: failed", "path", p.URI(), "error", err)
		}
		result.ErrorCount++
		e.pm.IncrementErrors()
		return
	}
	result.SuccessCount++
}
