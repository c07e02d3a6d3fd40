// Package task implements the OperationTask state machine shared by file
// and archive operations: confirmation, conflict resolution, execution,
// and completion reporting, driven through a small UI-facing Container
// interface so the state machine itself stays independent of any
// particular front end.
package task

import (
	"context"
	"time"

	"github.com/shimomut/tfm/internal/vpath"
)

// State names the OperationTask's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateConfirming
	StateCheckingConflicts
	StateResolvingConflict
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirming:
		return "confirming"
	case StateCheckingConflicts:
		return "checking_conflicts"
	case StateResolvingConflict:
		return "resolving_conflict"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ConflictChoice is the user's answer to one conflict dialog.
type ConflictChoice int

const (
	// ChoiceCancel represents a null choice (ESC): abandon the whole
	// operation and return to idle.
	ChoiceCancel ConflictChoice = iota
	ChoiceOverwrite
	ChoiceSkip
	ChoiceRename
)

// PathInfo is the display-oriented snapshot of a path passed to dialogs, in
// place of exposing the full vpath.Path/Stat API to the UI layer.
type PathInfo struct {
	URI     string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

func describePath(ctx context.Context, p vpath.Path) PathInfo {
	info := PathInfo{URI: p.URI(), Name: p.Name()}
	if st, err := p.Stat(ctx); err == nil {
		info.IsDir = st.IsDir
		info.Size = st.Size
		info.ModTime = st.ModTime
	}
	return info
}

// Container is what a UI front end implements to drive an OperationTask
// through its dialogs and to receive lifecycle notifications.
type Container interface {
	// ShowConfirmationDialog asks whether to proceed with opType against
	// files into destination. callback must be invoked exactly once.
	ShowConfirmationDialog(opType string, files []vpath.Path, destination vpath.Path, callback func(confirmed bool))

	// ShowConflictDialog presents one conflict (of total, at index) between
	// sourceInfo and destInfo. callback must be invoked exactly once with
	// the user's choice and whether it should apply to all remaining
	// conflicts.
	ShowConflictDialog(sourceInfo, destInfo PathInfo, index, total int, callback func(choice ConflictChoice, applyToAll bool))

	// ShowRenameDialog asks for a new name for source conflicting with
	// destination. Exactly one of onRename/onCancel is invoked.
	ShowRenameDialog(source, destination vpath.Path, onRename func(newName string), onCancel func())

	// ShowDialog presents a generic message with choices and reports which
	// one was picked.
	ShowDialog(message string, choices []string, callback func(choice string))

	// ClearTask is called once the task returns to StateIdle.
	ClearTask()

	// MarkDirty requests a redraw.
	MarkDirty()

	// RefreshFiles rescans directories; pane is "" for both panes/the
	// destination, or a specific pane identifier.
	RefreshFiles(pane string)
}
