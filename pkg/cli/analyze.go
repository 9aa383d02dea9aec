package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/device"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/session"
)

// sessionFlags are shared by the commands that write a report.
var sessionFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Report directory (default: <output>/<timestamp> from simlens.yaml)",
	},
	&cli.BoolFlag{
		Name:  "flatten",
		Usage: "Don't create a timestamp subfolder",
	},
	&cli.BoolFlag{
		Name:  "no-store",
		Usage: "Don't record the session in the history database",
	},
	&cli.BoolFlag{
		Name:  "patch",
		Usage: "Apply patch rules for issues found (session.autoPatch)",
	},
	&cli.BoolFlag{
		Name:  "commit",
		Usage: "Commit applied patches with git (session.autoCommit)",
	},
	&cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Plan patches and show diffs without writing files",
	},
}

var analyzeCommand = &cli.Command{
	Name:      "analyze",
	Usage:     "Analyze screenshots, or one fresh capture when no files are given",
	ArgsUsage: "[png-or-dir]...",
	Description: `Run detection and rules over PNG files (directories are expanded to the
PNGs they contain), or over one screenshot taken from the device.

Examples:
  simlens analyze screenshots/
  simlens analyze --output ./reports --flatten login.png home.png
  simlens -p ios analyze`,
	Flags:  sessionFlags,
	Action: runAnalyze,
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Capture and analyze continuously",
	Description: `Capture a screenshot every interval and run it through detection, rules,
baselines, notifications and (optionally) patching. Stops on Ctrl+C, after
--limit captures, or when too many captures fail in a row.

Several devices (--device a,b or session.workers) are watched in parallel,
one worker per device pulling from a shared queue of --limit captures.

Examples:
  simlens -p ios watch
  simlens -p android --device emulator-5554,emulator-5556 watch --limit 40
  simlens -p synthetic watch --interval 1s --limit 10 --patch --dry-run`,
	Flags: append([]cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Time between captures (default: session.interval)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Stop after N captures (0 = until interrupted)",
		},
	}, sessionFlags...),
	Action: runWatch,
}

var inboxCommand = &cli.Command{
	Name:      "inbox",
	Usage:     "Analyze screenshots as they are dropped into a directory",
	ArgsUsage: "<dir>",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{
			Name:  "settle",
			Usage: "Wait this long after the last write before reading a file",
			Value: 500 * time.Millisecond,
		},
	}, sessionFlags...),
	Action: runInbox,
}

// applySessionFlags folds the session flags into cfg.
func applySessionFlags(c *cli.Context, cfg *config.Config) {
	if o := c.String("output"); o != "" {
		cfg.Output = o
	}
	cfg.Output = resolveOutputDir(cfg.Output, c.Bool("flatten"))
	if c.Bool("patch") {
		cfg.Session.AutoPatch = true
	}
	if c.Bool("commit") {
		cfg.Session.AutoCommit = true
	}
}

func newRunner(c *cli.Context, cfg *config.Config, dev device.Device, events *session.Bus) (*session.Runner, error) {
	return session.New(c.Context, cfg, dev, session.Options{
		Version:  Version,
		Shell:    shellRunner,
		Events:   events,
		Detector: newDetector(cfg.Detector),
		DryRun:   c.Bool("dry-run"),
		NoStore:  c.Bool("no-store"),
		HTML:     true,
	})
}

func runAnalyze(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applySessionFlags(c, cfg)
	files, err := expandPNGs(c.Args().Slice())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	var dev device.Device
	if len(files) > 0 {
		if dev, err = device.NewReplayFiles(files...); err != nil {
			return err
		}
	} else if dev, err = openDevice(ctx, cfg); err != nil {
		return err
	}

	r, err := newRunner(c, cfg, dev, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	var sum *session.Summary
	if len(files) > 0 {
		sum, err = r.AnalyzeFiles(ctx, files, func(path string, res *session.Result) {
			printResult(out(c), filepath.Base(path), res)
		})
	} else {
		sum, err = r.Watch(ctx, 0, 1)
		if r.Report != nil {
			printCaptures(out(c), r.Report.Dir())
		}
	}
	return finishSession(c, r, sum, err)
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applySessionFlags(c, cfg)

	ctx, cancel := signalContext(c)
	defer cancel()

	interval := cfg.Session.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	return watch(ctx, c, cfg, nil, interval, c.Int("limit"))
}

// watch runs a single-device or parallel watch and prints the summary.
func watch(ctx context.Context, c *cli.Context, cfg *config.Config, events *session.Bus, interval time.Duration, limit int) error {
	ids := parseDevices(c.String("device"))
	if len(ids) > 1 || cfg.Session.Workers > 1 {
		return watchParallel(ctx, c, cfg, events, ids, limit)
	}

	dev, err := openDevice(ctx, cfg)
	if err != nil {
		return err
	}
	r, err := newRunner(c, cfg, dev, events)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Fprintf(out(c), "\n%sWatching%s %s every %s\n", color(colorBold), color(colorReset), dev.Info().DeviceName, interval)
	sum, err := r.Watch(ctx, interval, limit)
	return finishSession(c, r, sum, err)
}

// watchParallel opens one worker per device ID. With a single ID and
// session.workers > 1 the same device is shared by every worker.
func watchParallel(ctx context.Context, c *cli.Context, cfg *config.Config, events *session.Bus, ids []string, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("parallel watch needs --limit")
	}
	if len(ids) == 0 {
		ids = []string{cfg.Device}
	}
	for len(ids) < cfg.Session.Workers {
		ids = append(ids, ids[0])
	}

	workers := make([]session.Worker, 0, len(ids))
	opened := make(map[string]device.Device)
	for i, id := range ids {
		dev, ok := opened[id]
		if !ok {
			wcfg := *cfg
			wcfg.Device = id
			if wcfg.Platform == device.PlatformReplay && id != "" && !filepath.IsAbs(id) {
				if abs, err := filepath.Abs(id); err == nil {
					wcfg.Device = abs
				}
			}
			var err error
			if dev, err = openDevice(ctx, &wcfg); err != nil {
				return fmt.Errorf("device %s: %w", id, err)
			}
			opened[id] = dev
		}
		workers = append(workers, session.Worker{ID: i, Device: dev})
	}

	base, err := newRunner(c, cfg, workers[0].Device, events)
	if err != nil {
		return err
	}
	defer base.Close()

	fmt.Fprintf(out(c), "\n%sWatching%s %d devices, %d captures\n", color(colorBold), color(colorReset), len(opened), limit)
	results, sum, err := session.NewParallelRunner(base, workers).Run(ctx, limit)
	for _, res := range results {
		if res != nil {
			printResult(out(c), res.CaptureID, res)
		}
	}
	return finishSession(c, base, sum, err)
}

func runInbox(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("inbox directory is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applySessionFlags(c, cfg)

	ctx, cancel := signalContext(c)
	defer cancel()

	in, err := device.NewInbox(dir, c.Duration("settle"))
	if err != nil {
		return err
	}
	r, err := newRunner(c, cfg, in, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	inboxErr := make(chan error, 1)
	go func() { inboxErr <- in.Run(ctx) }()

	fmt.Fprintf(out(c), "\n%sWatching%s %s for screenshots (Ctrl+C to stop)\n", color(colorBold), color(colorReset), dir)
	sum, err := r.AnalyzePaths(ctx, in.Paths(), func(path string, res *session.Result) {
		printResult(out(c), filepath.Base(path), res)
	})
	cancel()
	if ierr := <-inboxErr; ierr != nil && !errors.Is(ierr, context.Canceled) {
		logger.Warn("inbox: %v", ierr)
	}
	return finishSession(c, r, sum, err)
}

// finishSession prints the summary and maps the session status to the
// command's error.
func finishSession(c *cli.Context, r *session.Runner, sum *session.Summary, err error) error {
	if sum != nil {
		dir := ""
		if r.Report != nil {
			dir = r.Report.Dir()
		}
		printSummary(out(c), sum, dir)
	}
	if err != nil {
		return err
	}
	if sum != nil && sum.Status == core.StatusFailed {
		return ErrCapturesFailed
	}
	return nil
}

// expandPNGs replaces directories with the PNG files inside them.
func expandPNGs(args []string) ([]string, error) {
	var files []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, core.ErrInvalidConfig.WithMessage("cannot read " + a).WithCause(err)
		}
		if !info.IsDir() {
			if !strings.EqualFold(filepath.Ext(a), ".png") {
				return nil, core.ErrInvalidConfig.Messagef("%s is not a .png file", a)
			}
			files = append(files, a)
			continue
		}
		pngs, err := device.ListPNGs(a)
		if err != nil {
			return nil, err
		}
		files = append(files, pngs...)
	}
	return files, nil
}
