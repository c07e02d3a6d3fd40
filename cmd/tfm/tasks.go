package main

import (
	"context"
	"fmt"

	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/task"
	"github.com/shimomut/tfm/internal/vpath"
)

func (a *app) progressCallback() progress.Callback {
	return func(op *progress.Operation) {
		fmt.Printf("\r%-80s", a.pm.ProgressText(78))
		if op == nil {
			fmt.Println()
		}
	}
}

func newcopy(a *app, c *blockingContainer, srcs []vpath.Path, dest vpath.Path) *task.OperationTask {
	return task.NewCopyTask(context.Background(), c, a.fileExec, a.invalidator, a.log, srcs, dest, a.progressCallback())
}

func newmove(a *app, c *blockingContainer, srcs []vpath.Path, dest vpath.Path) *task.OperationTask {
	return task.NewMoveTask(context.Background(), c, a.fileExec, a.invalidator, a.log, srcs, dest, a.progressCallback())
}

func newdelete(a *app, c *blockingContainer, srcs []vpath.Path) *task.OperationTask {
	return task.NewDeleteTask(context.Background(), c, a.fileExec, a.invalidator, a.log, srcs, a.progressCallback())
}

func newarchivecreate(a *app, c *blockingContainer, srcs []vpath.Path, dest vpath.Path, format string) *task.OperationTask {
	return task.NewArchiveCreateTask(context.Background(), c, a.archiveExec, a.invalidator, a.log, srcs, dest, format, a.progressCallback())
}

func newarchiveextract(a *app, c *blockingContainer, archive, destDir vpath.Path) *task.OperationTask {
	return task.NewArchiveExtractTask(context.Background(), c, a.archiveExec, a.archiveCache, a.invalidator, a.log, archive, destDir, a.progressCallback())
}
