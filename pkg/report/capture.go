package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/patch"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// CaptureWriter writes updates for a single capture.
// Each capture is owned by one goroutine, so no locking is needed.
type CaptureWriter struct {
	detail    *CaptureDetail
	dir       string
	path      string
	assetsDir string
	index     *IndexWriter
}

// NewCaptureWriter registers a new capture from source in the index and
// returns its writer.
func NewCaptureWriter(index *IndexWriter, source string, device *Device) (*CaptureWriter, error) {
	entry := index.AddCapture(source)
	w := &CaptureWriter{
		detail: &CaptureDetail{
			ID:     entry.ID,
			Index:  entry.Index,
			Source: source,
			Device: device,
			Issues: []rules.Issue{},
		},
		dir:       index.Dir(),
		path:      filepath.Join(index.Dir(), entry.DataFile),
		assetsDir: filepath.Join(index.Dir(), entry.AssetsDir),
		index:     index,
	}
	if err := os.MkdirAll(w.assetsDir, 0o755); err != nil {
		return nil, core.ErrStorage.Messagef("create %s", w.assetsDir).WithCause(err)
	}
	return w, nil
}

// ID returns the capture ID, e.g. "capture-001".
func (w *CaptureWriter) ID() string {
	return w.detail.ID
}

// Start marks the capture as started.
func (w *CaptureWriter) Start() error {
	now := time.Now()
	w.detail.StartTime = now

	w.index.UpdateCapture(w.detail.ID, &CaptureUpdate{Status: StatusRunning, StartTime: &now})
	return w.flush()
}

// SaveScreenshot saves a PNG under the capture's assets directory and
// returns its path relative to the report directory.
func (w *CaptureWriter) SaveScreenshot(name string, data []byte) (string, error) {
	filename := name + ".png"
	if err := core.WriteFileAtomic(filepath.Join(w.assetsDir, filename), data, 0o644); err != nil {
		return "", err
	}
	rel := filepath.Join("assets", w.detail.ID, filename)
	switch name {
	case core.AttachmentScreenshot:
		w.detail.Artifacts.Screenshot = rel
	case core.AttachmentHighlight:
		w.detail.Artifacts.Highlight = rel
	}
	return rel, nil
}

// SetAnalysis records the detector output, issues and recommendations.
func (w *CaptureWriter) SetAnalysis(a *vision.Analysis, issues []rules.Issue, recs []rules.Recommendation) error {
	w.detail.Analysis = a
	if issues == nil {
		issues = []rules.Issue{}
	}
	w.detail.Issues = issues
	w.detail.Recommendations = recs
	sum := rules.Summarize(issues, recs)
	w.detail.Summary = &sum

	screen := ""
	if a != nil {
		screen = string(a.Screen)
	}
	w.index.UpdateCapture(w.detail.ID, &CaptureUpdate{
		Status: StatusRunning,
		Screen: screen,
		Issues: rules.Count(issues),
	})
	return w.flush()
}

// SetDescription records a plain-language description of the screen.
func (w *CaptureWriter) SetDescription(text string) error {
	w.detail.Description = text
	return w.flush()
}

// SetPatches records a patch result and the commit that holds it. The
// combined diff is saved as an asset.
func (w *CaptureWriter) SetPatches(res *patch.Result, commit string) error {
	w.detail.Patches = res
	w.detail.Commit = commit
	if res != nil {
		if diff := res.Diff(); diff != "" {
			path := filepath.Join(w.assetsDir, "patch.diff")
			if err := core.WriteFileAtomic(path, []byte(diff), 0o644); err != nil {
				return err
			}
			w.detail.Artifacts.Patch = filepath.Join("assets", w.detail.ID, "patch.diff")
		}
	}
	return w.flush()
}

// End marks the capture as complete. A non-nil cause is recorded as the
// capture error.
func (w *CaptureWriter) End(status Status, cause error) error {
	now := time.Now()
	w.detail.EndTime = &now

	var duration int64
	if !w.detail.StartTime.IsZero() {
		duration = now.Sub(w.detail.StartTime).Milliseconds()
		w.detail.Duration = &duration
	}
	w.detail.Error = ErrorOf(cause)

	flushErr := w.flush()

	update := &CaptureUpdate{
		Status:   status,
		EndTime:  &now,
		Duration: &duration,
		Issues:   rules.Count(w.detail.Issues),
		Fixes:    w.fixes(),
	}
	if w.detail.Analysis != nil {
		update.Screen = string(w.detail.Analysis.Screen)
	}
	if cause != nil {
		msg := cause.Error()
		update.Error = &msg
	}
	w.index.UpdateCapture(w.detail.ID, update)
	return flushErr
}

// Detail returns the current capture detail (for reading).
func (w *CaptureWriter) Detail() *CaptureDetail {
	return w.detail
}

func (w *CaptureWriter) fixes() int {
	if w.detail.Patches == nil {
		return 0
	}
	return w.detail.Patches.Applied()
}

// flush writes the capture detail to disk.
func (w *CaptureWriter) flush() error {
	return core.WriteJSONAtomic(w.path, w.detail)
}
