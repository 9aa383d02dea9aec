// Package report provides JSON-based session reporting with live updates.
//
// Layout of a report directory:
//   - report.json: session index (small, frequently updated, mutex-protected)
//   - captures/capture-XXX.json: per-capture detail (no lock needed)
//   - assets/capture-XXX/: screenshots and highlighted screenshots
//
// The index is the single source of truth for status and change tracking.
// Consumers poll report.json and fetch capture details whose UpdateSeq moved.
package report

import (
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/patch"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the state of a session or capture in the report.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
	StatusStopped Status = "stopped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusStopped:
		return true
	}
	return false
}

// StatusOf converts a session status to its report form.
func StatusOf(s core.SessionStatus) Status {
	return Status(s.String())
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
type Index struct {
	Version     string         `json:"version"`
	SessionID   string         `json:"sessionId"`
	UpdateSeq   uint64         `json:"updateSeq"`
	Status      Status         `json:"status"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Device      Device         `json:"device"`
	Simlens     RunnerInfo     `json:"simlens"`
	Summary     Summary        `json:"summary"`
	Captures    []CaptureEntry `json:"captures"`
}

// Device contains device information.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Platform    string `json:"platform"` // ios, android, synthetic, replay
	OSVersion   string `json:"osVersion,omitempty"`
	IsSimulator bool   `json:"isSimulator"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// DeviceOf converts device details to their report form.
func DeviceOf(info core.DeviceInfo) Device {
	return Device{
		ID:          info.DeviceID,
		Name:        info.DeviceName,
		Platform:    info.Platform,
		OSVersion:   info.OSVersion,
		IsSimulator: info.IsSimulator,
		Width:       info.ScreenWidth,
		Height:      info.ScreenHeight,
	}
}

// RunnerInfo describes the simlens build and detector that produced the report.
type RunnerInfo struct {
	Version string        `json:"version"`
	Profile string        `json:"profile"` // Detector profile name and source
	OpenCV  bool          `json:"opencv"`
	FailOn  core.Severity `json:"failOn"` // Lowest severity that fails a capture
}

// Summary contains aggregated counts.
type Summary struct {
	Captures int `json:"captures"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errored  int `json:"errored"`
	Running  int `json:"running"`
	Issues   int `json:"issues"`
	rules.Counts
	Fixes int `json:"fixes"` // Patch edits written to disk
}

// CaptureEntry is the index entry for one capture (minimal info).
type CaptureEntry struct {
	Index       int          `json:"index"`
	ID          string       `json:"id"`
	Source      string       `json:"source"`    // Device name or replayed file
	DataFile    string       `json:"dataFile"`  // Path to capture detail JSON
	AssetsDir   string       `json:"assetsDir"` // Path to assets directory
	Status      Status       `json:"status"`
	UpdateSeq   uint64       `json:"updateSeq"`
	Screen      string       `json:"screen,omitempty"`
	StartTime   *time.Time   `json:"startTime,omitempty"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Duration    *int64       `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time   `json:"lastUpdated,omitempty"`
	Issues      rules.Counts `json:"issues"`
	Fixes       int          `json:"fixes"`
	Error       *string      `json:"error,omitempty"`
}

// ============================================================================
// CAPTURE DETAIL (captures/capture-XXX.json)
// ============================================================================

// CaptureDetail contains everything known about one capture.
type CaptureDetail struct {
	ID              string                 `json:"id"`
	Index           int                    `json:"index"`
	Source          string                 `json:"source"`
	Device          *Device                `json:"device,omitempty"`
	StartTime       time.Time              `json:"startTime"`
	EndTime         *time.Time             `json:"endTime,omitempty"`
	Duration        *int64                 `json:"duration,omitempty"` // milliseconds
	Analysis        *vision.Analysis       `json:"analysis,omitempty"`
	Issues          []rules.Issue          `json:"issues"`
	Recommendations []rules.Recommendation `json:"recommendations,omitempty"`
	Summary         *rules.Summary         `json:"summary,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Patches         *patch.Result          `json:"patches,omitempty"`
	Commit          string                 `json:"commit,omitempty"`
	Artifacts       CaptureArtifacts       `json:"artifacts"`
	Error           *Error                 `json:"error,omitempty"`
}

// Error contains error details.
type Error struct {
	Category string `json:"category"` // capture, device, detection, rule, patch, ...
	Message  string `json:"message"`
}

// ErrorOf converts err to its report form.
func ErrorOf(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: core.CategoryOf(err).String(), Message: err.Error()}
}

// ============================================================================
// ARTIFACTS (paths only, never inline data)
// ============================================================================

// CaptureArtifacts contains artifact paths relative to the report directory.
type CaptureArtifacts struct {
	Screenshot string `json:"screenshot,omitempty"`
	Highlight  string `json:"highlight,omitempty"`
	Patch      string `json:"patch,omitempty"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// CaptureUpdate contains the fields to update in the index for a capture.
type CaptureUpdate struct {
	Status    Status
	Screen    string
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Issues    rules.Counts
	Fixes     int
	Error     *string
}
