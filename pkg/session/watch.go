package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/report"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

// DefaultMaxConsecutiveFailures is used when the runner does not set a
// failure budget.
const DefaultMaxConsecutiveFailures = 5

// ErrTooManyFailures ends a watch after too many captures failed in a row.
var ErrTooManyFailures = core.NewError(core.ErrCategoryCapture, "too_many_failures", "too many consecutive capture failures")

// Summary aggregates the captures of a session.
type Summary struct {
	SessionID string             `json:"sessionId"`
	Status    core.SessionStatus `json:"-"`
	Captures  int                `json:"captures"`
	Passed    int                `json:"passed"`
	Failed    int                `json:"failed"`
	Errored   int                `json:"errored"`
	Unchanged int                `json:"unchanged"` // Watch frames skipped as unchanged
	Issues    rules.Counts       `json:"issues"`
	Fixes     int                `json:"fixes"`
	Duration  time.Duration      `json:"duration"`
}

// Add counts one capture result.
func (s *Summary) Add(res *Result) {
	if res == nil {
		return
	}
	s.Captures++
	switch res.Status {
	case core.StatusPassed:
		s.Passed++
	case core.StatusFailed:
		s.Failed++
	case core.StatusErrored:
		s.Errored++
	}
	s.Issues.Add(rules.Count(res.Issues))
	if res.Patches != nil {
		s.Fixes += res.Patches.Applied()
	}
}

// status is the session outcome: failed if any capture failed, errored if
// all of them errored, stopped when cancelled, passed otherwise.
func (s *Summary) status(cancelled bool) core.SessionStatus {
	switch {
	case s.Failed > 0:
		return core.StatusFailed
	case s.Captures > 0 && s.Errored == s.Captures:
		return core.StatusErrored
	case cancelled:
		return core.StatusStopped
	}
	return core.StatusPassed
}

// Begin marks the session as started in the report, the history and the
// event stream.
func (r *Runner) Begin(ctx context.Context) {
	info := r.Device.Info()
	if r.Report != nil {
		r.Report.Start()
		if r.SessionID == "" {
			r.SessionID = r.Report.GetIndex().SessionID
		}
	}
	if r.Store != nil && r.SessionID != "" {
		if err := r.Store.BeginSession(ctx, r.SessionID, info, time.Now()); err != nil {
			logger.Warn("history: %v", err)
		}
	}
	r.publish(Event{Type: EventStarted, Message: info.Platform})
}

// Finish records the end of the session.
func (r *Runner) Finish(ctx context.Context, sum *Summary) {
	ctx = context.WithoutCancel(ctx)
	if r.Report != nil {
		r.Report.End(report.StatusOf(sum.Status))
	}
	if r.Store != nil && r.SessionID != "" {
		if err := r.Store.EndSession(ctx, r.SessionID, sum.Status.String(), time.Now()); err != nil {
			logger.Warn("history: %v", err)
		}
	}
	r.publish(Event{Type: EventStopped, Counts: sum.Issues, Message: sum.Status.String()})
}

// Watch captures every interval until ctx is cancelled, limit captures
// were analyzed (0 means no limit), or the failure budget runs out.
// Frames that barely differ from the last analyzed one are skipped and do
// not count toward limit. Failed captures back off exponentially from
// interval; a non-transient device, config or storage error ends the
// watch at once.
func (r *Runner) Watch(ctx context.Context, interval time.Duration, limit int) (*Summary, error) {
	if interval <= 0 {
		interval = time.Second
	}
	budget := r.MaxConsecutiveFailures
	if budget <= 0 {
		budget = DefaultMaxConsecutiveFailures
	}

	start := time.Now()
	sum := &Summary{}
	r.Begin(ctx)
	sum.SessionID = r.SessionID

	failWait := backoff.NewExponentialBackOff()
	failWait.InitialInterval = interval
	failWait.MaxInterval = 8 * interval
	failWait.MaxElapsedTime = 0

	var (
		failures int
		fatal    error
		prev     []byte
	)
	for limit <= 0 || sum.Captures < limit {
		png, res, err := r.screenshot(ctx)
		if err == nil {
			if r.unchanged(ctx, prev, png) {
				sum.Unchanged++
				failures = 0
				failWait.Reset()
				logger.Debug("%s: screen unchanged, skipping analysis", r.source())
				if !sleep(ctx, interval) {
					break
				}
				continue
			}
			if res, err = r.Analyze(ctx, png); err == nil {
				prev = png
			}
		}
		if ctx.Err() != nil {
			break
		}
		sum.Add(res)

		wait := interval
		if err != nil {
			failures++
			if isFatal(err) {
				fatal = err
				break
			}
			if failures >= budget {
				fatal = ErrTooManyFailures.Messagef("%d consecutive capture failures", failures).WithCause(err)
				break
			}
			wait = failWait.NextBackOff()
			logger.Warn("capture failed (%d/%d), next attempt in %s", failures, budget, wait.Round(time.Millisecond))
		} else {
			failures = 0
			failWait.Reset()
		}
		if limit > 0 && sum.Captures >= limit {
			break
		}
		if !sleep(ctx, wait) {
			break
		}
	}

	sum.Duration = time.Since(start)
	sum.Status = sum.status(ctx.Err() != nil)
	if fatal != nil && sum.Status == core.StatusPassed {
		sum.Status = core.StatusErrored
	}
	r.Finish(ctx, sum)
	return sum, fatal
}

// isFatal reports whether err means the device, configuration or report
// storage cannot work at all.
func isFatal(err error) bool {
	var ce *core.Error
	if !errors.As(err, &ce) {
		return false
	}
	// A failed capture is as fatal as the device error behind it
	if ce.Code == core.ErrCaptureFailed.Code && ce.Cause != nil {
		return isFatal(ce.Cause)
	}
	if ce.Transient {
		return false
	}
	if errors.Is(ce, core.ErrDetectorUnavailable) {
		return true
	}
	switch ce.Category {
	case core.ErrCategoryConfig, core.ErrCategoryDevice, core.ErrCategoryStorage:
		return true
	}
	return false
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
