package session

import (
	"context"
	"errors"
	"sync"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/describe"
	"github.com/devicelab-dev/simlens/pkg/device"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/notify"
	"github.com/devicelab-dev/simlens/pkg/patch"
	"github.com/devicelab-dev/simlens/pkg/report"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/shell"
	"github.com/devicelab-dev/simlens/pkg/store"
	"github.com/devicelab-dev/simlens/pkg/vcs"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// Options adjust how New assembles a Runner from configuration.
type Options struct {
	Version  string
	Shell    shell.Runner // for git; nil means os/exec
	Events   *Bus
	Detector vision.Detector // nil means vision.New(cfg.Detector)
	DryRun   bool            // Plan patches without writing them
	NoReport bool
	NoStore  bool
	HTML     bool // Regenerate report.html on every flush
}

// New builds a Runner for dev from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, dev device.Device, opts Options) (*Runner, error) {
	engine, err := rules.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		Device:                 dev,
		Detector:               opts.Detector,
		Rules:                  engine,
		Baselines:              NewBaselines(cfg.Baseline.Dir),
		Events:                 opts.Events,
		Retry:                  cfg.Retry,
		FailOn:                 cfg.Rules.FailOn,
		MaxConsecutiveFailures: cfg.Session.MaxConsecutiveFailures,
		ChangeMinPixels:        cfg.Detector.ChangeMinPixels,
		patchMu:                &sync.Mutex{},
	}
	if r.Detector == nil {
		r.Detector = vision.New(cfg.Detector)
	}

	if cfg.Session.AutoPatch || opts.DryRun {
		p, err := patch.NewPatcher(cfg.Patches, opts.DryRun)
		if err != nil {
			return nil, err
		}
		r.Patcher = p
		if cfg.Session.AutoCommit && !opts.DryRun {
			git := vcs.New(opts.Shell, cfg.Patches.Root)
			if git.IsRepository(ctx) {
				r.Git = git
			} else {
				logger.Warn("autoCommit: %v", vcs.ErrNotRepository.Messagef("%s is not a git work tree", cfg.Patches.Root))
			}
		}
	}

	if !opts.NoReport {
		info := report.RunnerInfo{
			Version: opts.Version,
			Profile: "default",
			OpenCV:  vision.OpenCVAvailable,
			FailOn:  cfg.Rules.FailOn,
		}
		index := report.NewIndex(dev.Info(), info)
		r.SessionID = index.SessionID
		r.Report = report.NewIndexWriter(cfg.Output, index, opts.HTML)
		r.closers = append(r.closers, func() error {
			r.Report.Close()
			return nil
		})
	}

	if !opts.NoStore && !cfg.Store.Disabled {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			logger.Warn("history disabled: %v", err)
		} else {
			r.Store = db
			r.closers = append(r.closers, db.Close)
		}
	}

	if r.Notifier, err = notify.New(cfg.Notify); err != nil {
		r.Close()
		return nil, err
	}
	if r.Describer, err = describe.New(ctx, cfg.Describe); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Close flushes the report and closes the history database.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
