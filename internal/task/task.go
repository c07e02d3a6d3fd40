package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/cacheinvalidate"
	"github.com/shimomut/tfm/internal/ops"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/vpath"
)

var opDisplayName = map[progress.OperationType]string{
	progress.OpCopy:           "Copy",
	progress.OpMove:           "Move",
	progress.OpDelete:         "Delete",
	progress.OpArchiveCreate:  "Archive create",
	progress.OpArchiveExtract: "Archive extract",
}

// conflict is one pre-existing destination path discovered during
// StateCheckingConflicts. For file operations source/dest are real paths;
// for archive extraction there is no vpath.Path for an archive member, so
// relPath carries the member's internal path instead and source is the
// zero Path.
type conflict struct {
	source     vpath.Path
	dest       vpath.Path
	relPath    string
	sourceInfo PathInfo
	destInfo   PathInfo
}

type renamedItem struct {
	source vpath.Path
	dest   vpath.Path
}

// OperationTask drives a single copy/move/delete/archive-create/
// archive-extract through confirmation, conflict resolution, execution and
// completion, calling back into a Container for every dialog and lifecycle
// notification. It owns the context.CancelFunc used to cancel the
// underlying executor call.
type OperationTask struct {
	kind      progress.OperationType
	container Container
	log       *slog.Logger

	fileExec    *ops.FileExecutor
	archiveExec *ops.ArchiveExecutor
	cache       *archivefs.Cache
	invalidator *cacheinvalidate.Invalidator

	sources    []vpath.Path
	dest       vpath.Path
	formatType string
	onProgress progress.Callback
	handler    *archivefs.Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State

	conflicts         []conflict
	conflictIndex     int
	applyAllOverwrite bool
	applyAllSkip      bool
	anyOverwriteSet   bool

	skipped        map[string]bool // key: source.URI() for file ops, relPath for archive extract
	overwriteFiles map[string]bool // relPath, archive extract only
	renamed        []renamedItem
}

func newTask(ctx context.Context, kind progress.OperationType, container Container, log *slog.Logger) *OperationTask {
	if log == nil {
		log = slog.Default()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &OperationTask{
		kind:           kind,
		container:      container,
		log:            log,
		ctx:            cctx,
		cancel:         cancel,
		state:          StateIdle,
		skipped:        make(map[string]bool),
		overwriteFiles: make(map[string]bool),
	}
}

// NewCopyTask builds a copy OperationTask. Call Start to begin it.
func NewCopyTask(ctx context.Context, container Container, fileExec *ops.FileExecutor, invalidator *cacheinvalidate.Invalidator, log *slog.Logger, sources []vpath.Path, dest vpath.Path, onProgress progress.Callback) *OperationTask {
	t := newTask(ctx, progress.OpCopy, container, log)
	t.fileExec = fileExec
	t.invalidator = invalidator
	t.sources = sources
	t.dest = dest
	t.onProgress = onProgress
	return t
}

// NewMoveTask builds a move OperationTask.
func NewMoveTask(ctx context.Context, container Container, fileExec *ops.FileExecutor, invalidator *cacheinvalidate.Invalidator, log *slog.Logger, sources []vpath.Path, dest vpath.Path, onProgress progress.Callback) *OperationTask {
	t := newTask(ctx, progress.OpMove, container, log)
	t.fileExec = fileExec
	t.invalidator = invalidator
	t.sources = sources
	t.dest = dest
	t.onProgress = onProgress
	return t
}

// NewDeleteTask builds a delete OperationTask. Delete never has conflicts
// (there is no destination to collide with), so it skips straight from
// confirmation to execution.
func NewDeleteTask(ctx context.Context, container Container, fileExec *ops.FileExecutor, invalidator *cacheinvalidate.Invalidator, log *slog.Logger, sources []vpath.Path, onProgress progress.Callback) *OperationTask {
	t := newTask(ctx, progress.OpDelete, container, log)
	t.fileExec = fileExec
	t.invalidator = invalidator
	t.sources = sources
	t.onProgress = onProgress
	return t
}

// NewArchiveCreateTask builds an archive-create OperationTask.
func NewArchiveCreateTask(ctx context.Context, container Container, archiveExec *ops.ArchiveExecutor, invalidator *cacheinvalidate.Invalidator, log *slog.Logger, sources []vpath.Path, dest vpath.Path, formatType string, onProgress progress.Callback) *OperationTask {
	t := newTask(ctx, progress.OpArchiveCreate, container, log)
	t.archiveExec = archiveExec
	t.invalidator = invalidator
	t.sources = sources
	t.dest = dest
	t.formatType = formatType
	t.onProgress = onProgress
	return t
}

// NewArchiveExtractTask builds an archive-extract OperationTask. cache is
// used only during conflict detection, to open the archive and walk its
// members ahead of execution.
func NewArchiveExtractTask(ctx context.Context, container Container, archiveExec *ops.ArchiveExecutor, cache *archivefs.Cache, invalidator *cacheinvalidate.Invalidator, log *slog.Logger, archive vpath.Path, destDir vpath.Path, onProgress progress.Callback) *OperationTask {
	t := newTask(ctx, progress.OpArchiveExtract, container, log)
	t.archiveExec = archiveExec
	t.cache = cache
	t.invalidator = invalidator
	t.sources = []vpath.Path{archive}
	t.dest = destDir
	t.onProgress = onProgress
	return t
}

// State returns the task's current lifecycle position.
func (t *OperationTask) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *OperationTask) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Cancel requests cancellation. During EXECUTING this only cancels the
// context; the executor observes it at its next checkpoint and the
// completion callback still fires and drives the IDLE transition. During
// CONFIRMING/CHECKING_CONFLICTS/RESOLVING_CONFLICT, no executor is running
// yet, so cancellation transitions straight to IDLE.
func (t *OperationTask) Cancel() {
	state := t.State()
	t.cancel()
	switch state {
	case StateConfirming, StateCheckingConflicts, StateResolvingConflict:
		t.toIdle()
	}
}

// Start validates preconditions and, if they pass, shows the confirmation
// dialog. Preconditions that fail abort before StateConfirming is ever
// entered: the task stays idle and logs why.
func (t *OperationTask) Start() {
	if err := t.validate(); err != nil {
		t.log.Error("operation rejected", "operation", t.kind, "error", err)
		return
	}
	t.setState(StateConfirming)
	t.container.ShowConfirmationDialog(string(t.kind), t.sources, t.dest, func(confirmed bool) {
		if !confirmed {
			t.toIdle()
			return
		}
		t.checkConflicts()
	})
}

// validate enforces the writability preconditions: delete requires every
// source be on writable storage; move requires both sources and the
// destination be writable; copy and archive operations require only the
// destination be writable (sources may be read-only, e.g. inside an
// archive or on an S3 bucket without write access).
func (t *OperationTask) validate() error {
	switch t.kind {
	case progress.OpDelete:
		for _, s := range t.sources {
			if !s.Capabilities().SupportsWriteOperations {
				return fmt.Errorf("source %s is not writable", s.URI())
			}
		}
	case progress.OpMove:
		for _, s := range t.sources {
			if !s.Capabilities().SupportsWriteOperations {
				return fmt.Errorf("source %s is not writable", s.URI())
			}
		}
		if !t.dest.Capabilities().SupportsWriteOperations {
			return fmt.Errorf("destination %s is not writable", t.dest.URI())
		}
	case progress.OpCopy, progress.OpArchiveCreate, progress.OpArchiveExtract:
		if !t.dest.Capabilities().SupportsWriteOperations {
			return fmt.Errorf("destination %s is not writable", t.dest.URI())
		}
	}
	return nil
}

func (t *OperationTask) checkConflicts() {
	t.setState(StateCheckingConflicts)
	t.conflicts = t.detectConflicts()
	if len(t.conflicts) == 0 {
		t.execute()
		return
	}
	t.conflictIndex = 0
	t.setState(StateResolvingConflict)
	t.resolveNext()
}

func (t *OperationTask) detectConflicts() []conflict {
	switch t.kind {
	case progress.OpCopy, progress.OpMove:
		var out []conflict
		for _, s := range t.sources {
			d := t.dest.Join(s.Name())
			if exists, err := d.Exists(t.ctx); err == nil && exists {
				out = append(out, conflict{
					source:     s,
					dest:       d,
					sourceInfo: describePath(t.ctx, s),
					destInfo:   describePath(t.ctx, d),
				})
			}
		}
		return out
	case progress.OpArchiveCreate:
		if exists, err := t.dest.Exists(t.ctx); err == nil && exists {
			return []conflict{{dest: t.dest, destInfo: describePath(t.ctx, t.dest)}}
		}
		return nil
	case progress.OpArchiveExtract:
		handler, err := t.cache.GetHandler(t.sources[0].URI())
		if err != nil {
			t.log.Error("opening archive for conflict check", "archive", t.sources[0].URI(), "error", err)
			return nil
		}
		t.handler = handler
		var out []conflict
		var walk func(dir string, destDir vpath.Path)
		walk = func(dir string, destDir vpath.Path) {
			children, _ := handler.ListChildren(dir)
			for _, child := range children {
				entry, err := handler.GetEntryInfo(child)
				if err != nil {
					continue
				}
				target := destDir.Join(entry.Name)
				if entry.IsDir {
					walk(child, target)
					continue
				}
				if exists, err := target.Exists(t.ctx); err == nil && exists {
					out = append(out, conflict{
						relPath: child,
						dest:    target,
						sourceInfo: PathInfo{
							Name:    entry.Name,
							Size:    entry.Size,
							ModTime: entry.MTime,
						},
						destInfo: describePath(t.ctx, target),
					})
				}
			}
		}
		walk("", t.dest)
		return out
	default: // OpDelete never conflicts
		return nil
	}
}

func (t *OperationTask) resolveNext() {
	if t.conflictIndex >= len(t.conflicts) {
		t.execute()
		return
	}
	c := t.conflicts[t.conflictIndex]

	if t.applyAllOverwrite {
		t.applyConflict(c, ChoiceOverwrite, vpath.Path{})
		t.conflictIndex++
		t.resolveNext()
		return
	}
	if t.applyAllSkip {
		t.applyConflict(c, ChoiceSkip, vpath.Path{})
		t.conflictIndex++
		t.resolveNext()
		return
	}

	t.container.ShowConflictDialog(c.sourceInfo, c.destInfo, t.conflictIndex+1, len(t.conflicts), func(choice ConflictChoice, applyToAll bool) {
		switch choice {
		case ChoiceCancel:
			t.toIdle()
		case ChoiceOverwrite:
			if applyToAll {
				t.applyAllOverwrite = true
			}
			t.applyConflict(c, ChoiceOverwrite, vpath.Path{})
			t.conflictIndex++
			t.resolveNext()
		case ChoiceSkip:
			if applyToAll {
				t.applyAllSkip = true
			}
			t.applyConflict(c, ChoiceSkip, vpath.Path{})
			t.conflictIndex++
			t.resolveNext()
		case ChoiceRename:
			t.offerRename(c)
		}
	})
}

// offerRename is only reachable for file operations (copy/move); archive
// operations never send ChoiceRename since ShowConflictDialog there is
// driven from per-member, not per-source, conflicts.
func (t *OperationTask) offerRename(c conflict) {
	t.container.ShowRenameDialog(c.source, t.dest, func(newName string) {
		newDest := t.dest.Join(newName)
		t.tryRename(c, newDest)
	}, func() {
		// Cancelling the rename dialog abandons the whole operation, same
		// as a null choice at the conflict dialog itself.
		t.toIdle()
	})
}

func (t *OperationTask) tryRename(c conflict, newDest vpath.Path) {
	exists, err := newDest.Exists(t.ctx)
	if err != nil {
		t.log.Error("checking renamed destination", "dest", newDest.URI(), "error", err)
		t.applyConflict(c, ChoiceSkip, vpath.Path{})
		t.conflictIndex++
		t.resolveNext()
		return
	}
	if !exists {
		t.applyConflict(c, ChoiceRename, newDest)
		t.conflictIndex++
		t.resolveNext()
		return
	}
	t.container.ShowDialog(
		fmt.Sprintf("%s already exists", newDest.URI()),
		[]string{"overwrite", "try again", "skip"},
		func(choice string) {
			switch choice {
			case "overwrite":
				t.applyConflict(c, ChoiceRename, newDest)
				t.conflictIndex++
				t.resolveNext()
			case "try again":
				t.offerRename(c)
			default: // "skip"
				t.applyConflict(c, ChoiceSkip, vpath.Path{})
				t.conflictIndex++
				t.resolveNext()
			}
		},
	)
}

func (t *OperationTask) applyConflict(c conflict, choice ConflictChoice, renamedDest vpath.Path) {
	key := c.relPath
	if key == "" && c.source.Valid() {
		key = c.source.URI()
	}
	switch choice {
	case ChoiceSkip:
		if key != "" {
			t.skipped[key] = true
		}
	case ChoiceOverwrite:
		t.anyOverwriteSet = true
		if c.relPath != "" {
			t.overwriteFiles[c.relPath] = true
		}
	case ChoiceRename:
		if key != "" {
			t.skipped[key] = true // excluded from the batch call; executed individually below
		}
		t.renamed = append(t.renamed, renamedItem{source: c.source, dest: renamedDest})
	}
}

func (t *OperationTask) execute() {
	t.setState(StateExecuting)
	switch t.kind {
	case progress.OpCopy:
		t.executeFileOp(false)
	case progress.OpMove:
		t.executeFileOp(true)
	case progress.OpDelete:
		t.fileExec.Delete(t.ctx, t.sources, t.onProgress, t.onExecutionComplete)
	case progress.OpArchiveCreate:
		if len(t.conflicts) == 1 && !t.anyOverwriteSet {
			// The single possible conflict (dest already exists) was
			// resolved as skip: there is nothing left to do.
			t.onExecutionComplete(ops.Result{SkippedCount: 1})
			return
		}
		t.archiveExec.Create(t.ctx, t.sources, t.dest, t.formatType, t.onProgress, t.onExecutionComplete)
	case progress.OpArchiveExtract:
		t.archiveExec.Extract(t.ctx, t.sources[0], t.dest, false, t.skipped, t.overwriteFiles, t.onProgress, t.onExecutionComplete)
	}
}

// executeFileOp runs the renamed-conflict items individually first (they
// need a distinct destination name CopyTo/MoveTo's dest-is-a-directory
// convention can't express), then hands the remaining, non-skipped sources
// to the batch executor. A source with no conflict at all is unaffected
// by the overwrite flag, so folding every resolved-overwrite source into
// one batch call alongside the conflict-free ones is safe.
func (t *OperationTask) executeFileOp(move bool) {
	renamedResult := ops.Result{}
	for _, r := range t.renamed {
		var err error
		if move {
			err = r.source.MoveTo(t.ctx, r.dest, true, nil)
		} else {
			err = r.source.CopyTo(t.ctx, r.dest, true, nil)
		}
		if err != nil {
			t.log.Error("renamed copy/move failed", "source", r.source.URI(), "dest", r.dest.URI(), "error", err)
			renamedResult.ErrorCount++
			continue
		}
		renamedResult.SuccessCount++
	}

	var remaining []vpath.Path
	for _, s := range t.sources {
		if t.skipped[s.URI()] {
			continue
		}
		remaining = append(remaining, s)
	}
	skippedCount := len(t.sources) - len(remaining) - len(t.renamed)
	overwrite := t.anyOverwriteSet || t.applyAllOverwrite

	complete := func(r ops.Result) {
		r.SuccessCount += renamedResult.SuccessCount
		r.ErrorCount += renamedResult.ErrorCount
		r.SkippedCount += renamedResult.SkippedCount + skippedCount
		t.onExecutionComplete(r)
	}

	if len(remaining) == 0 {
		complete(ops.Result{})
		return
	}
	if move {
		t.fileExec.Move(t.ctx, remaining, t.dest, overwrite, t.onProgress, complete)
	} else {
		t.fileExec.Copy(t.ctx, remaining, t.dest, overwrite, t.onProgress, complete)
	}
}

func (t *OperationTask) onExecutionComplete(result ops.Result) {
	t.setState(StateCompleted)
	cancelled := t.ctx.Err() != nil

	status := "completed"
	if cancelled {
		status = "cancelled"
	}
	msg := fmt.Sprintf("%s operation %s: %d successful", opDisplayName[t.kind], status, result.SuccessCount)
	if result.SkippedCount > 0 {
		msg += fmt.Sprintf(", %d skipped", result.SkippedCount)
	}
	if result.ErrorCount > 0 {
		msg += fmt.Sprintf(", %d errors", result.ErrorCount)
	}
	if cancelled || result.ErrorCount > 0 {
		t.log.Warn(msg)
	} else {
		t.log.Info(msg)
	}

	t.invalidate()

	if result.SuccessCount > 0 && !cancelled {
		switch t.kind {
		case progress.OpCopy, progress.OpMove, progress.OpDelete:
			t.container.RefreshFiles("")
		case progress.OpArchiveCreate, progress.OpArchiveExtract:
			t.container.RefreshFiles(t.dest.URI())
		}
	}
	t.toIdle()
}

func (t *OperationTask) invalidate() {
	if t.invalidator == nil {
		return
	}
	switch t.kind {
	case progress.OpCopy:
		t.invalidator.AfterFileOperation(progress.OpCopy, t.sources, t.dest)
	case progress.OpMove:
		t.invalidator.AfterFileOperation(progress.OpMove, t.sources, t.dest)
	case progress.OpDelete:
		t.invalidator.AfterDelete(t.sources)
	case progress.OpArchiveCreate:
		t.invalidator.AfterArchiveCreate(t.dest)
	case progress.OpArchiveExtract:
		t.invalidator.AfterArchiveExtract(t.dest)
	}
}

func (t *OperationTask) toIdle() {
	t.setState(StateIdle)
	t.container.ClearTask()
}
