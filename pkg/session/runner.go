// Package session runs the capture pipeline: screenshot, detection,
// baseline diff, rules, report, history, notification and patching. A
// Runner does one capture at a time; Watch repeats it on an interval and
// ParallelRunner spreads captures over several devices.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/describe"
	"github.com/devicelab-dev/simlens/pkg/device"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/notify"
	"github.com/devicelab-dev/simlens/pkg/patch"
	"github.com/devicelab-dev/simlens/pkg/report"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/store"
	"github.com/devicelab-dev/simlens/pkg/vcs"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// History records sessions and captures. *store.Store implements it.
type History interface {
	BeginSession(ctx context.Context, id string, device core.DeviceInfo, started time.Time) error
	EndSession(ctx context.Context, id, status string, ended time.Time) error
	RecordCapture(ctx context.Context, sessionID string, c store.Capture) error
}

// Committer commits patched files. *vcs.Git implements it.
type Committer interface {
	Commit(ctx context.Context, message string, files []string) (string, error)
}

// Runner performs captures on one device. Only Device, Detector and Rules
// are required; every other stage is skipped when its field is nil.
type Runner struct {
	Device    device.Device
	Detector  vision.Detector
	Rules     *rules.Engine
	Baselines *Baselines
	Patcher   *patch.Patcher
	Git       Committer
	Report    *report.IndexWriter
	Store     History
	Notifier  notify.Notifier
	Describer describe.Describer
	Events    *Bus

	SessionID              string
	Retry                  core.RetryPolicy
	FailOn                 core.Severity
	MaxConsecutiveFailures int
	ChangeMinPixels        int // Watch skips frames changing this many pixels or fewer

	// Serializes patching when several runners share one source tree
	patchMu *sync.Mutex
	closers []func() error
}

// Result is the outcome of one capture.
type Result struct {
	CaptureID       string                 `json:"captureId"`
	Status          core.SessionStatus     `json:"-"`
	Analysis        *vision.Analysis       `json:"analysis,omitempty"`
	Issues          []rules.Issue          `json:"issues"`
	Recommendations []rules.Recommendation `json:"recommendations,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Plan            *patch.Plan            `json:"-"`
	Patches         *patch.Result          `json:"patches,omitempty"`
	Commit          string                 `json:"commit,omitempty"`
	Duration        time.Duration          `json:"duration"`
	Err             error                  `json:"-"`
}

// RunOnce takes one screenshot and runs it through the pipeline.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	png, res, err := r.screenshot(ctx)
	if err != nil {
		return res, err
	}
	return r.Analyze(ctx, png)
}

// screenshot captures a PNG with retries. A capture that still fails is
// recorded as an errored result.
func (r *Runner) screenshot(ctx context.Context) ([]byte, *Result, error) {
	var png []byte
	capture := func() error {
		data, err := r.Device.Screenshot(ctx)
		if err != nil {
			return err
		}
		if !core.IsPNG(data) {
			return core.ErrEmptyCapture.Messagef("%s returned %d bytes that are not a PNG", r.source(), len(data))
		}
		png = data
		return nil
	}
	onRetry := func(err error, wait time.Duration) {
		logger.Warn("capture on %s failed, retrying in %s: %v", r.source(), wait, err)
	}
	if err := core.Retry(ctx, r.Retry, capture, onRetry); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		res, err := r.fail(ctx, nil, &Result{}, core.ErrCaptureFailed.WithMessage("screenshot").WithCause(err))
		return nil, res, err
	}
	return png, nil, nil
}

// unchanged reports whether png differs from prev in ChangeMinPixels
// pixels or fewer. A frame that cannot be compared counts as changed.
func (r *Runner) unchanged(ctx context.Context, prev, png []byte) bool {
	if r.ChangeMinPixels <= 0 || prev == nil {
		return false
	}
	d, err := r.Detector.Diff(ctx, prev, png)
	if err != nil {
		logger.Debug("change check: %v", err)
		return false
	}
	return d.ChangedPixels <= r.ChangeMinPixels
}

// Analyze runs an existing screenshot through the pipeline.
func (r *Runner) Analyze(ctx context.Context, png []byte) (*Result, error) {
	start := time.Now()
	res := &Result{}

	cw, err := r.captureWriter()
	if err != nil {
		return nil, err
	}
	if cw != nil {
		res.CaptureID = cw.ID()
		if _, err := cw.SaveScreenshot(core.AttachmentScreenshot, png); err != nil {
			logger.Warn("report: save screenshot: %v", err)
		}
	}
	r.publish(Event{Type: EventCaptured, CaptureID: res.CaptureID})

	a, err := r.Detector.Analyze(ctx, png)
	if err != nil {
		return r.fail(ctx, cw, res, err)
	}
	res.Analysis = a
	r.diffBaseline(ctx, png, a)

	issues, err := r.Rules.Evaluate(ctx, a)
	if err != nil {
		// A failing script loses its own findings only
		logger.Warn("rules: %v", err)
		r.publish(Event{Type: EventError, CaptureID: res.CaptureID, Message: err.Error()})
	}
	res.Issues = issues
	res.Recommendations = rules.Recommend(issues)

	var highlighted []byte
	if len(issues) > 0 {
		if highlighted, err = r.Detector.Highlight(png, rules.Regions(issues)); err != nil {
			logger.Warn("highlight: %v", err)
		} else if cw != nil {
			if _, err := cw.SaveScreenshot(core.AttachmentHighlight, highlighted); err != nil {
				logger.Warn("report: save highlight: %v", err)
			}
		}
	}

	if r.Describer != nil {
		text, err := r.Describer.Describe(ctx, describe.Input{PNG: png, Analysis: a, Issues: issues})
		if err != nil {
			logger.Warn("describe: %v", err)
		}
		res.Description = text
	}

	if cw != nil {
		if err := cw.SetAnalysis(a, issues, res.Recommendations); err != nil {
			logger.Warn("report: %v", err)
		}
		if res.Description != "" {
			if err := cw.SetDescription(res.Description); err != nil {
				logger.Warn("report: %v", err)
			}
		}
	}

	counts := rules.Count(issues)
	r.publish(Event{Type: EventAnalyzed, CaptureID: res.CaptureID, Screen: string(a.Screen), Counts: counts,
		Recommendations: len(res.Recommendations)})
	for i := range issues {
		r.publish(Event{Type: EventIssueFound, CaptureID: res.CaptureID, Screen: string(a.Screen), Issue: &issues[i]})
	}

	res.Status = core.StatusPassed
	if rules.Failed(issues, r.FailOn) {
		res.Status = core.StatusFailed
	}

	if r.Notifier != nil && len(issues) > 0 {
		alert := notify.Alert{
			SessionID: r.SessionID,
			CaptureID: res.CaptureID,
			Device:    r.source(),
			Screen:    string(a.Screen),
			Issues:    issues,
			Image:     highlighted,
		}
		if err := r.Notifier.Notify(ctx, alert); err != nil {
			logger.Warn("notify: %v", err)
		}
	}

	if r.Patcher != nil && len(issues) > 0 {
		r.applyPatches(ctx, res)
		if cw != nil && res.Patches != nil {
			if err := cw.SetPatches(res.Patches, res.Commit); err != nil {
				logger.Warn("report: %v", err)
			}
		}
	}

	res.Duration = time.Since(start)
	r.record(ctx, res, start)
	if cw != nil {
		if err := cw.End(report.StatusOf(res.Status), nil); err != nil {
			logger.Warn("report: %v", err)
		}
	}
	logger.Info("%s: %s screen, %d issues (%d high) in %s",
		r.label(res), a.Screen, len(issues), counts.High, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) applyPatches(ctx context.Context, res *Result) {
	if r.patchMu != nil {
		r.patchMu.Lock()
		defer r.patchMu.Unlock()
	}

	plan, applied, err := r.Patcher.Fix(ctx, res.Issues)
	if err != nil {
		logger.Warn("patch: %v", err)
		r.publish(Event{Type: EventError, CaptureID: res.CaptureID, Message: err.Error()})
		return
	}
	res.Plan = plan
	res.Patches = applied
	for _, e := range plan.Errors {
		logger.Debug("patch: %v", e)
	}

	edits := applied.Applied()
	if edits == 0 {
		return
	}
	if r.Git != nil && !applied.DryRun {
		var types []string
		for _, rule := range r.Patcher.Planner.RulesFor(res.Issues) {
			types = append(types, rule.IssueType)
		}
		hash, err := r.Git.Commit(ctx, vcs.CommitMessage(types, edits), applied.Written())
		if err != nil {
			logger.Warn("commit: %v", err)
		}
		res.Commit = hash
	}
	r.publish(Event{Type: EventPatched, CaptureID: res.CaptureID, Screen: screenOf(res), Edits: edits, Message: res.Commit})
}

// diffBaseline compares png with the latest baseline of the classified
// screen and stores the result on a.
func (r *Runner) diffBaseline(ctx context.Context, png []byte, a *vision.Analysis) {
	if r.Baselines == nil {
		return
	}
	base, v, err := r.Baselines.Latest(string(a.Screen))
	if err != nil {
		if !errors.Is(err, core.ErrBaselineMissing) {
			logger.Warn("baseline: %v", err)
		}
		return
	}
	diff, err := r.Detector.Diff(ctx, base, png)
	if err != nil {
		logger.Warn("baseline diff: %v", err)
		return
	}
	diff.Baseline = r.Baselines.Path(string(a.Screen), v)
	a.Diff = diff
}

// fail records a capture that could not be analyzed.
func (r *Runner) fail(ctx context.Context, cw *report.CaptureWriter, res *Result, err error) (*Result, error) {
	res.Status = core.StatusErrored
	res.Err = err
	if cw == nil && res.CaptureID == "" {
		if cw, _ = r.captureWriter(); cw != nil {
			res.CaptureID = cw.ID()
		}
	}
	r.publish(Event{Type: EventError, CaptureID: res.CaptureID, Message: err.Error()})
	if cw != nil {
		if werr := cw.End(report.StatusErrored, err); werr != nil {
			logger.Warn("report: %v", werr)
		}
	}
	r.record(ctx, res, time.Now())
	logger.Error("%s: %v", r.label(res), err)
	return res, err
}

func (r *Runner) captureWriter() (*report.CaptureWriter, error) {
	if r.Report == nil {
		return nil, nil
	}
	dev := report.DeviceOf(r.Device.Info())
	cw, err := report.NewCaptureWriter(r.Report, r.source(), &dev)
	if err != nil {
		return nil, err
	}
	if err := cw.Start(); err != nil {
		logger.Warn("report: %v", err)
	}
	return cw, nil
}

func (r *Runner) record(ctx context.Context, res *Result, at time.Time) {
	if r.Store == nil || r.SessionID == "" {
		return
	}
	c := store.Capture{
		ID:         res.CaptureID,
		Status:     res.Status.String(),
		CapturedAt: at,
		Issues:     res.Issues,
	}
	if c.ID == "" {
		c.ID = at.Format("150405.000")
	}
	if res.Analysis != nil {
		c.Screen = string(res.Analysis.Screen)
		c.Brightness = res.Analysis.Metrics.Brightness
		c.Confidence = res.Analysis.Confidence
	}
	if res.Patches != nil {
		c.Fixes = res.Patches.Applied()
	}
	// History must survive a cancelled session
	if err := r.Store.RecordCapture(context.WithoutCancel(ctx), r.SessionID, c); err != nil {
		logger.Warn("history: %v", err)
	}
}

func (r *Runner) publish(e Event) {
	if r.Events == nil {
		return
	}
	e.SessionID = r.SessionID
	if e.Device == "" {
		e.Device = r.source()
	}
	r.Events.Publish(e)
}

func screenOf(res *Result) string {
	if res.Analysis == nil {
		return ""
	}
	return string(res.Analysis.Screen)
}

func (r *Runner) source() string {
	return r.Device.Info().DeviceName
}

func (r *Runner) label(res *Result) string {
	if res.CaptureID != "" {
		return res.CaptureID
	}
	return r.source()
}
