package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/shimomut/tfm/internal/task"
	"github.com/shimomut/tfm/internal/vpath"
)

// terminalContainer implements task.Container with blocking terminal
// prompts instead of graphical dialogs, per SPEC_FULL.md's CLI surface:
// the state machine and executors run end-to-end without a UI dependency.
// Every ShowXxx callback here is invoked synchronously, before the method
// itself returns, since there is no separate UI event loop to defer to.
type terminalContainer struct {
	in  *bufio.Reader
	out *os.File
}

func newTerminalContainer() *terminalContainer {
	return &terminalContainer{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func (c *terminalContainer) prompt(msg string) string {
	fmt.Fprint(c.out, msg)
	line, _ := c.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *terminalContainer) ShowConfirmationDialog(opType string, files []vpath.Path, destination vpath.Path, callback func(confirmed bool)) {
	fmt.Fprintf(c.out, "%s %d item(s) into %s? [y/N] ", opType, len(files), destination.URI())
	ans := c.prompt("")
	callback(strings.EqualFold(ans, "y") || strings.EqualFold(ans, "yes"))
}

func (c *terminalContainer) ShowConflictDialog(sourceInfo, destInfo task.PathInfo, index, total int, callback func(choice task.ConflictChoice, applyToAll bool)) {
	fmt.Fprintf(c.out, "[%d/%d] %s already exists at destination.\n", index, total, sourceInfo.Name)
	ans := c.prompt("(o)verwrite, (s)kip, (r)ename, (w)overwrite-all, (k)skip-all, (c)ancel? ")
	switch strings.ToLower(ans) {
	case "o":
		callback(task.ChoiceOverwrite, false)
	case "w":
		callback(task.ChoiceOverwrite, true)
	case "s":
		callback(task.ChoiceSkip, false)
	case "k":
		callback(task.ChoiceSkip, true)
	case "r":
		callback(task.ChoiceRename, false)
	default:
		callback(task.ChoiceCancel, false)
	}
}

func (c *terminalContainer) ShowRenameDialog(source, destination vpath.Path, onRename func(newName string), onCancel func()) {
	name := c.prompt(fmt.Sprintf("new name for %s (blank to cancel): ", source.Name()))
	if name == "" {
		onCancel()
		return
	}
	onRename(name)
}

func (c *terminalContainer) ShowDialog(message string, choices []string, callback func(choice string)) {
	fmt.Fprintf(c.out, "%s [%s] ", message, strings.Join(choices, "/"))
	ans := strings.ToLower(c.prompt(""))
	for _, choice := range choices {
		if strings.ToLower(choice) == ans || strings.HasPrefix(strings.ToLower(choice), ans) {
			callback(choice)
			return
		}
	}
	callback(choices[len(choices)-1]) // default to the most conservative (last) choice
}

func (c *terminalContainer) ClearTask() {}
func (c *terminalContainer) MarkDirty() {}
func (c *terminalContainer) RefreshFiles(pane string) {
	if pane != "" {
		fmt.Fprintf(c.out, "(refreshed %s)\n", pane)
	}
}
