package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shimomut/tfm/internal/cacheinvalidate"
	"github.com/shimomut/tfm/internal/ops"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/vpath"
	"github.com/shimomut/tfm/internal/vpath/localfs"
)

func newTestRegistry() *vpath.Registry {
	reg := vpath.NewRegistry()
	localfs.Register(reg)
	return reg
}

func mustPath(t *testing.T, reg *vpath.Registry, osPath string) vpath.Path {
	t.Helper()
	p, err := reg.New(osPath)
	require.NoError(t, err)
	return p
}

func newExecutor() *ops.FileExecutor {
	return ops.NewFileExecutor(progress.NewManager(), nil)
}

// fakeContainer drives an OperationTask synchronously, recording every
// lifecycle call it received so a test can assert on the sequence.
type fakeContainer struct {
	confirm bool

	// conflictChoice/conflictApplyAll are consumed in order, one per
	// ShowConflictDialog call; if exhausted, the last entry repeats.
	conflictChoice   []ConflictChoice
	conflictApplyAll []bool
	conflictCalls    int

	renameName string // "" cancels the rename dialog

	dialogChoice string // answer for ShowDialog (the rename-collision dialog)

	cleared        bool
	done           chan struct{}
	refreshedPanes []string

	// deferConfirm, if set, makes ShowConfirmationDialog hold the dialog
	// open (never invoking callback) so a test can observe/cancel the task
	// while it sits in StateConfirming, the way a pending UI dialog would.
	deferConfirm bool
}

func newFakeContainer() *fakeContainer {
	return &fakeContainer{confirm: true, done: make(chan struct{})}
}

func (c *fakeContainer) ShowConfirmationDialog(opType string, files []vpath.Path, destination vpath.Path, callback func(confirmed bool)) {
	if c.deferConfirm {
		return
	}
	callback(c.confirm)
}

func (c *fakeContainer) ShowConflictDialog(sourceInfo, destInfo PathInfo, index, total int, callback func(choice ConflictChoice, applyToAll bool)) {
	i := c.conflictCalls
	if i >= len(c.conflictChoice) {
		i = len(c.conflictChoice) - 1
	}
	c.conflictCalls++
	choice := ChoiceCancel
	applyAll := false
	if i >= 0 {
		choice = c.conflictChoice[i]
		applyAll = c.conflictApplyAll[i]
	}
	callback(choice, applyAll)
}

func (c *fakeContainer) ShowRenameDialog(source, destination vpath.Path, onRename func(newName string), onCancel func()) {
	if c.renameName == "" {
		onCancel()
		return
	}
	onRename(c.renameName)
}

func (c *fakeContainer) ShowDialog(message string, choices []string, callback func(choice string)) {
	callback(c.dialogChoice)
}

func (c *fakeContainer) ClearTask() {
	c.cleared = true
	close(c.done)
}

func (c *fakeContainer) MarkDirty() {}

func (c *fakeContainer) RefreshFiles(pane string) {
	c.refreshedPanes = append(c.refreshedPanes, pane)
}

func (c *fakeContainer) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never reached idle")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCopyNoConflict(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), "hello")

	reg := newTestRegistry()
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	dest := mustPath(t, reg, destDir)

	c := newFakeContainer()
	tk := NewCopyTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, dest, nil)
	require.Equal(t, StateIdle, tk.State())

	tk.Start()
	c.waitDone(t)

	assert.True(t, c.cleared)
	assert.Equal(t, StateIdle, tk.State())
	assert.Equal(t, []string{""}, c.refreshedPanes)

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestCopyConflictSkip(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), "new content")
	writeFile(t, filepath.Join(destDir, "a.txt"), "original content")

	reg := newTestRegistry()
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	dest := mustPath(t, reg, destDir)

	c := newFakeContainer()
	c.conflictChoice = []ConflictChoice{ChoiceSkip}
	c.conflictApplyAll = []bool{false}

	tk := NewCopyTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, dest, nil)
	tk.Start()
	c.waitDone(t)

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original content", string(got), "skipped source must not overwrite the destination")
	// A skip-only batch never reaches a successful file, so no refresh.
	assert.Empty(t, c.refreshedPanes)
}

func TestCopyConflictOverwrite(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), "new content")
	writeFile(t, filepath.Join(destDir, "a.txt"), "original content")

	reg := newTestRegistry()
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	dest := mustPath(t, reg, destDir)

	c := newFakeContainer()
	c.conflictChoice = []ConflictChoice{ChoiceOverwrite}
	c.conflictApplyAll = []bool{false}

	tk := NewCopyTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, dest, nil)
	tk.Start()
	c.waitDone(t)

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))
	assert.Equal(t, []string{""}, c.refreshedPanes)
}

func TestCopyConflictRename(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), "new content")
	writeFile(t, filepath.Join(destDir, "a.txt"), "original content")

	reg := newTestRegistry()
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	dest := mustPath(t, reg, destDir)

	c := newFakeContainer()
	c.conflictChoice = []ConflictChoice{ChoiceRename}
	c.conflictApplyAll = []bool{false}
	c.renameName = "a (2).txt"

	tk := NewCopyTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, dest, nil)
	tk.Start()
	c.waitDone(t)

	original, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original content", string(original))

	renamed, err := os.ReadFile(filepath.Join(destDir, "a (2).txt"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(renamed))
}

func TestDeleteRemovesSources(t *testing.T) {
	srcDir := t.TempDir()
	filePath := filepath.Join(srcDir, "a.txt")
	writeFile(t, filePath, "hello")

	reg := newTestRegistry()
	src := mustPath(t, reg, filePath)

	c := newFakeContainer()
	tk := NewDeleteTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, nil)
	tk.Start()
	c.waitDone(t)

	_, err := os.Stat(filePath)
	assert.True(t, os.IsNotExist(err))
}

func TestConfirmationDeclinedStaysIdle(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), "hello")

	reg := newTestRegistry()
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	dest := mustPath(t, reg, destDir)

	c := newFakeContainer()
	c.confirm = false
	tk := NewCopyTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, dest, nil)
	tk.Start()
	c.waitDone(t)

	assert.Equal(t, StateIdle, tk.State())
	_, err := os.Stat(filepath.Join(destDir, "a.txt"))
	assert.True(t, os.IsNotExist(err), "declined confirmation must not perform the copy")
}

func TestCancelDuringConfirmingGoesIdleImmediately(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), "hello")

	reg := newTestRegistry()
	src := mustPath(t, reg, filepath.Join(srcDir, "a.txt"))
	dest := mustPath(t, reg, destDir)

	c := newFakeContainer()
	c.deferConfirm = true
	tk := NewCopyTask(context.Background(), c, newExecutor(), nil, nil, []vpath.Path{src}, dest, nil)
	tk.Start()
	require.Equal(t, StateConfirming, tk.State())

	tk.Cancel()

	assert.Equal(t, StateIdle, tk.State())
	assert.True(t, c.cleared)
	_, err := os.Stat(filepath.Join(destDir, "a.txt"))
	assert.True(t, os.IsNotExist(err), "a dialog abandoned by cancellation must never run the copy")
}

func TestDeleteWithInvalidatorReturnsToIdle(t *testing.T) {
	srcDir := t.TempDir()
	filePath := filepath.Join(srcDir, "a.txt")
	writeFile(t, filePath, "hello")

	reg := newTestRegistry()
	src := mustPath(t, reg, filePath)

	inv := cacheinvalidate.New(nil, nil)
	c := newFakeContainer()
	tk := NewDeleteTask(context.Background(), c, newExecutor(), inv, nil, []vpath.Path{src}, nil)
	tk.Start()
	c.waitDone(t)

	assert.Equal(t, StateIdle, tk.State())
}
