package report

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
)

// debounce is how long progress updates wait before being written.
const debounce = 100 * time.Millisecond

// NewIndex returns an empty index for a new session on device.
func NewIndex(device core.DeviceInfo, info RunnerInfo) *Index {
	return &Index{
		Version:   Version,
		SessionID: uuid.NewString(),
		Status:    StatusPending,
		Device:    DeviceOf(device),
		Simlens:   info,
		Captures:  []CaptureEntry{},
	}
}

// IndexWriter provides thread-safe updates to the report index.
// Capture goroutines of a parallel run update the index concurrently.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index
	html      bool

	// Debouncing for progress updates
	pending map[string]*CaptureUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates an IndexWriter writing to outputDir/report.json.
// When html is set, report.html is regenerated on every flush.
func NewIndexWriter(outputDir string, index *Index, html bool) *IndexWriter {
	return &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, "report.json"),
		index:     index,
		html:      html,
		pending:   make(map[string]*CaptureUpdate),
	}
}

// Dir returns the report directory.
func (w *IndexWriter) Dir() string {
	return w.outputDir
}

// Start marks the session as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now
	w.index.LastUpdated = now

	w.flushLocked()
}

// AddCapture appends a pending entry for a new capture and returns it.
func (w *IndexWriter) AddCapture(source string) CaptureEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.index.Captures)
	id := fmt.Sprintf("capture-%03d", n+1)
	entry := CaptureEntry{
		Index:     n,
		ID:        id,
		Source:    source,
		DataFile:  filepath.Join("captures", id+".json"),
		AssetsDir: filepath.Join("assets", id),
		Status:    StatusPending,
	}
	w.index.Captures = append(w.index.Captures, entry)
	return entry
}

// UpdateCapture updates a capture entry in the index.
// Terminal states flush immediately; progress updates are debounced.
func (w *IndexWriter) UpdateCapture(id string, update *CaptureUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[id] = update

	if update.Status.IsTerminal() {
		w.flushLocked()
		return
	}
	if w.timer == nil && !w.closed {
		w.timer = time.AfterFunc(debounce, w.flush)
	}
}

// End marks the session as complete with status.
func (w *IndexWriter) End(status Status) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = status

	w.flushLocked()
}

// Close stops the debounce timer and flushes pending updates.
func (w *IndexWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.flushLocked()
}

// GetIndex returns a copy of the current index.
func (w *IndexWriter) GetIndex() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := *w.index
	idx.Captures = append([]CaptureEntry(nil), w.index.Captures...)
	return idx
}

// flush applies pending updates and writes to disk.
func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

// flushLocked flushes while holding the lock.
func (w *IndexWriter) flushLocked() {
	for id, update := range w.pending {
		w.applyUpdate(id, update)
	}
	w.pending = make(map[string]*CaptureUpdate)

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = computeSummary(w.index.Captures)

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	if err := core.WriteJSONAtomic(w.path, w.index); err != nil {
		logger.Warn("report: write index: %v", err)
		return
	}
	if w.html {
		// Regenerated for live file:// viewing
		if err := GenerateHTML(w.outputDir, HTMLConfig{}); err != nil {
			logger.Warn("report: write html: %v", err)
		}
	}
}

// applyUpdate applies a CaptureUpdate to the index.
func (w *IndexWriter) applyUpdate(id string, update *CaptureUpdate) {
	for i := range w.index.Captures {
		if w.index.Captures[i].ID != id {
			continue
		}
		c := &w.index.Captures[i]
		c.Status = update.Status
		if update.Screen != "" {
			c.Screen = update.Screen
		}
		if update.StartTime != nil {
			c.StartTime = update.StartTime
		}
		if update.EndTime != nil {
			c.EndTime = update.EndTime
		}
		if update.Duration != nil {
			c.Duration = update.Duration
		}
		c.Issues = update.Issues
		c.Fixes = update.Fixes
		if update.Error != nil {
			c.Error = update.Error
		}
		c.UpdateSeq++
		now := time.Now()
		c.LastUpdated = &now
		return
	}
}

// computeSummary calculates the summary from capture entries.
func computeSummary(captures []CaptureEntry) Summary {
	var s Summary
	for _, c := range captures {
		s.Captures++
		switch c.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusErrored:
			s.Errored++
		case StatusRunning, StatusPending:
			s.Running++
		}
		s.Counts.Add(c.Issues)
		s.Issues += c.Issues.Total()
		s.Fixes += c.Fixes
	}
	return s
}

// SessionStatus derives the final session status from its captures: failed
// if any capture failed, errored if every capture errored, passed otherwise.
func SessionStatus(captures []CaptureEntry) Status {
	if len(captures) == 0 {
		return StatusPassed
	}
	errored := 0
	for _, c := range captures {
		switch c.Status {
		case StatusFailed:
			return StatusFailed
		case StatusErrored:
			errored++
		}
	}
	if errored == len(captures) {
		return StatusErrored
	}
	return StatusPassed
}
