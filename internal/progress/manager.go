// Package progress implements the throttled progress-reporting model shared
// by every long-running file/archive operation: a current-operation
// snapshot, a throttled callback, and the text rendering used for a
// single-line status display.
package progress

import (
	"strconv"
	"sync"
	"time"
)

// OperationType identifies the kind of long-running operation being
// tracked, driving the verb used in ProgressText.
type OperationType string

const (
	OpCopy           OperationType = "copy"
	OpMove           OperationType = "move"
	OpDelete         OperationType = "delete"
	OpArchiveCreate  OperationType = "archive_create"
	OpArchiveExtract OperationType = "archive_extract"
)

var operationVerbs = map[OperationType]string{
	OpCopy:           "Copying",
	OpMove:           "Moving",
	OpDelete:         "Deleting",
	OpArchiveCreate:  "Creating archive",
	OpArchiveExtract: "Extracting archive",
}

// Operation is a snapshot of one in-flight operation's progress state, the
// state a UI polls or receives via callback.
type Operation struct {
	Type            OperationType
	TotalItems      int
	ProcessedItems  int
	CurrentItem     string
	Description     string
	Errors          int
	FileBytesCopied int64
	FileBytesTotal  int64
	Counting        bool
}

// Callback receives progress snapshots; it is called with nil exactly once,
// when the operation finishes, so a UI can clear its progress line.
type Callback func(*Operation)

// Manager tracks progress for exactly one active operation at a time and
// throttles callback invocations to at most once per throttle interval,
// except for forced refreshes and the first/last update of an operation.
type Manager struct {
	mu       sync.Mutex
	throttle time.Duration
	animator *Animator

	current  *Operation
	callback Callback
	lastCall time.Time
}

// NewManager builds a Manager with the default 50ms throttle and an 80ms
// spinner.
func NewManager() *Manager {
	return &Manager{
		throttle: 50 * time.Millisecond,
		animator: NewAnimator(80 * time.Millisecond),
	}
}

// StartOperation begins tracking a new operation, replacing any previous
// one. The callback fires immediately with the initial state.
func (m *Manager) StartOperation(opType OperationType, totalItems int, description string, cb Callback) {
	m.mu.Lock()
	m.current = &Operation{
		Type:        opType,
		TotalItems:  totalItems,
		Description: description,
		Counting:    true,
	}
	m.callback = cb
	m.lastCall = time.Time{}
	m.animator.Reset()
	snapshot := *m.current
	callback := m.callback
	m.mu.Unlock()

	if callback != nil {
		callback(&snapshot)
	}
}

// UpdateTotal sets the final item count once counting finishes, forcing an
// immediate callback.
func (m *Manager) UpdateTotal(totalItems int, description string) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	m.current.TotalItems = totalItems
	if description != "" {
		m.current.Description = description
	}
	m.current.Counting = false
	m.mu.Unlock()

	m.triggerIfNeeded(true)
}

// UpdateProgress records the item currently being processed, auto
// incrementing ProcessedItems unless processedItems is non-nil.
func (m *Manager) UpdateProgress(currentItem string, processedItems *int) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	m.current.CurrentItem = currentItem
	m.current.FileBytesCopied = 0
	m.current.FileBytesTotal = 0
	m.current.Counting = false
	if processedItems != nil {
		m.current.ProcessedItems = *processedItems
	} else {
		m.current.ProcessedItems++
	}
	m.mu.Unlock()

	m.triggerIfNeeded(false)
}

// UpdateByteProgress reports sub-progress within the current item, used for
// large files.
func (m *Manager) UpdateByteProgress(copied, total int64) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	m.current.FileBytesCopied = copied
	m.current.FileBytesTotal = total
	m.mu.Unlock()

	m.triggerIfNeeded(false)
}

// RefreshAnimation forces a callback to keep the spinner moving during long
// gaps with no progress update.
func (m *Manager) RefreshAnimation() {
	m.mu.Lock()
	active := m.current != nil && m.callback != nil
	m.mu.Unlock()
	if active {
		m.triggerIfNeeded(true)
	}
}

// IncrementErrors bumps the current operation's error counter.
func (m *Manager) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Errors++
	}
}

// FinishOperation clears tracking state and invokes the callback one final
// time with nil, signalling the UI to clear its progress line.
func (m *Manager) FinishOperation() {
	m.mu.Lock()
	cb := m.callback
	m.current = nil
	m.callback = nil
	m.lastCall = time.Time{}
	m.animator.Reset()
	m.mu.Unlock()

	if cb != nil {
		cb(nil)
	}
}

// IsActive reports whether an operation is currently being tracked.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns a snapshot of the tracked operation, or nil if none.
func (m *Manager) Current() *Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	snap := *m.current
	return &snap
}

// PercentComplete returns 0-100, or 0 if no operation is active or its
// total is zero.
func (m *Manager) PercentComplete() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.TotalItems == 0 {
		return 0
	}
	return (m.current.ProcessedItems * 100) / m.current.TotalItems
}

// triggerIfNeeded calls back if force is set, this is the first call, the
// throttle interval has elapsed, or the operation just completed.
func (m *Manager) triggerIfNeeded(force bool) {
	m.mu.Lock()
	if m.current == nil || m.callback == nil {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	done := m.current.ProcessedItems >= m.current.TotalItems
	if !force && !m.lastCall.IsZero() && now.Sub(m.lastCall) < m.throttle && !done {
		m.mu.Unlock()
		return
	}
	snapshot := *m.current
	cb := m.callback
	m.lastCall = now
	m.mu.Unlock()

	cb(&snapshot)
}

// ProgressText renders the operation's progress line, truncating the
// current item name to fit maxWidth, including the >1MB threshold for
// showing inline byte sub-progress.
func (m *Manager) ProgressText(maxWidth int) string {
	m.mu.Lock()
	op := m.current
	var frame rune
	if op != nil {
		frame = m.animator.CurrentFrame()
	}
	m.mu.Unlock()
	if op == nil {
		return ""
	}

	verb := operationVerbs[op.Type]
	if verb == "" {
		verb = "Processing"
	}

	var text string
	if op.Counting {
		if op.Description != "" {
			text = string(frame) + " " + verb + " (" + op.Description + ")... Preparing"
		} else {
			text = string(frame) + " " + verb + "... Preparing"
		}
	} else {
		countStr := strconv.Itoa(op.ProcessedItems) + "/" + strconv.Itoa(op.TotalItems)
		if op.Description != "" {
			text = string(frame) + " " + verb + " (" + op.Description + ")... " + countStr
		} else {
			text = string(frame) + " " + verb + "... " + countStr
		}
	}

	currentItem := op.CurrentItem
	if currentItem == "" {
		return text
	}

	const separator = " - "
	availableSpace := maxWidth - len(text) - len(separator)

	byteProgressText := ""
	if op.FileBytesTotal > 1024*1024 && op.FileBytesCopied > 0 {
		byteProgressText = " [" + FormatSize(op.FileBytesCopied, true) + "/" + FormatSize(op.FileBytesTotal, true) + "]"
		availableSpace -= len(byteProgressText)
	}

	if availableSpace <= 10 {
		return text
	}

	if len([]rune(currentItem)) > availableSpace {
		truncateAt := availableSpace - 1
		if truncateAt < 1 {
			truncateAt = 1
		}
		runes := []rune(currentItem)
		if truncateAt > len(runes) {
			truncateAt = len(runes)
		}
		currentItem = "…" + string(runes[len(runes)-truncateAt:])
	}

	return text + separator + currentItem + byteProgressText
}

