package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

// Consumer polls a report directory and tracks which captures changed
// since the last poll.
type Consumer struct {
	reportDir      string
	lastGlobalSeq  uint64
	lastCaptureSeq map[string]uint64
}

// NewConsumer creates a Consumer for reportDir.
func NewConsumer(reportDir string) *Consumer {
	return &Consumer{
		reportDir:      reportDir,
		lastCaptureSeq: make(map[string]uint64),
	}
}

// Poll reads the index and returns the IDs of captures whose UpdateSeq
// moved since the previous poll.
func (c *Consumer) Poll() ([]string, *Index, error) {
	idx, err := ReadIndex(c.reportDir)
	if err != nil {
		return nil, nil, err
	}
	if idx.UpdateSeq == c.lastGlobalSeq {
		return nil, idx, nil
	}
	c.lastGlobalSeq = idx.UpdateSeq

	var changed []string
	for _, entry := range idx.Captures {
		if seq, ok := c.lastCaptureSeq[entry.ID]; ok && seq == entry.UpdateSeq {
			continue
		}
		c.lastCaptureSeq[entry.ID] = entry.UpdateSeq
		changed = append(changed, entry.ID)
	}
	return changed, idx, nil
}

// ReadIndex reads the current index.
func (c *Consumer) ReadIndex() (*Index, error) {
	return ReadIndex(c.reportDir)
}

// ReadCapture reads the detail of capture id.
func (c *Consumer) ReadCapture(id string) (*CaptureDetail, error) {
	return ReadCapture(c.reportDir, CaptureEntry{ID: id, DataFile: filepath.Join("captures", id+".json")})
}

// Reset forgets all seen sequence numbers.
func (c *Consumer) Reset() {
	c.lastGlobalSeq = 0
	c.lastCaptureSeq = make(map[string]uint64)
}

// Recover repairs a report left behind by a session that did not shut
// down cleanly. Captures still marked pending or running get their status
// from their detail file, and the session status and summary are
// recomputed. A report with nothing to repair is left untouched.
func Recover(dir string) error {
	idx, err := ReadIndex(dir)
	if err != nil {
		return err
	}

	changed := false
	for i := range idx.Captures {
		entry := &idx.Captures[i]
		if entry.Status.IsTerminal() {
			continue
		}
		changed = true

		d, err := readDetailFile(dir, entry.DataFile)
		if err != nil {
			entry.Status = StatusErrored
			msg := "capture detail missing"
			entry.Error = &msg
			continue
		}
		entry.Status = inferStatus(d, idx.Simlens.FailOn)
		entry.Issues = rules.Count(d.Issues)
		if d.Analysis != nil {
			entry.Screen = string(d.Analysis.Screen)
		}
		if entry.Status == StatusErrored {
			msg := "capture interrupted"
			if d.Error != nil {
				msg = d.Error.Message
			}
			entry.Error = &msg
		}
		entry.UpdateSeq++
	}
	if !changed && idx.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	idx.Summary = computeSummary(idx.Captures)
	idx.Status = SessionStatus(idx.Captures)
	idx.UpdateSeq++
	idx.LastUpdated = now
	if idx.EndTime == nil {
		idx.EndTime = &now
	}
	return core.WriteJSONAtomic(filepath.Join(dir, "report.json"), idx)
}

func readDetailFile(dir, rel string) (*CaptureDetail, error) {
	d, err := ReadCapture(dir, CaptureEntry{DataFile: rel})
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		return nil, os.ErrNotExist
	}
	return d, nil
}

// inferStatus derives a capture's status from its detail. A capture that
// never finished analysis counts as errored.
func inferStatus(d *CaptureDetail, failOn core.Severity) Status {
	switch {
	case d.Error != nil, d.Analysis == nil:
		return StatusErrored
	case rules.Failed(d.Issues, failOn):
		return StatusFailed
	}
	return StatusPassed
}
