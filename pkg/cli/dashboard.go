package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/dashboard"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/monitor"
	"github.com/devicelab-dev/simlens/pkg/session"
)

var dashboardCommand = &cli.Command{
	Name:  "dashboard",
	Usage: "Serve the live web dashboard",
	Description: `Serves counters, per-screen stats and recent activity at dashboard.addr.
The watch loop is started and stopped from the page (POST /api/start and
/api/stop); updates are pushed to the browser over a WebSocket.

Examples:
  simlens -p ios dashboard
  simlens -p synthetic dashboard --addr 127.0.0.1:9000 --interval 2s`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "Listen address (default: dashboard.addr)"},
		&cli.DurationFlag{Name: "interval", Usage: "Time between captures (default: session.interval)"},
	}, sessionFlags...),
	Action: runDashboard,
}

var monitorCommand = &cli.Command{
	Name:  "monitor",
	Usage: "Watch the device with a live terminal view",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{Name: "interval", Usage: "Time between captures (default: session.interval)"},
		&cli.IntFlag{Name: "limit", Usage: "Stop after N captures (0 = until quit)"},
	}, sessionFlags...),
	Action: runMonitor,
}

func runDashboard(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applySessionFlags(c, cfg)
	if a := c.String("addr"); a != "" {
		cfg.Dashboard.Addr = a
	}
	interval := cfg.Session.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	bus := session.NewBus()
	defer bus.Close()
	srv := dashboard.New(cfg.Dashboard, bus, func(ctx context.Context) error {
		err := watch(ctx, c, cfg, bus, interval, 0)
		if errors.Is(err, ErrCapturesFailed) {
			return nil
		}
		return err
	})
	fmt.Fprintf(out(c), "%sDashboard%s http://%s (Ctrl+C to stop)\n", color(colorBold), color(colorReset), cfg.Dashboard.Addr)
	return srv.Run(ctx)
}

func runMonitor(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applySessionFlags(c, cfg)
	interval := cfg.Session.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	// The terminal belongs to the monitor; log lines and the watch output
	// would tear the view.
	if !c.IsSet("log-file") {
		logDir := config.GetLogDir()
		if err := os.MkdirAll(logDir, 0o755); err != nil || logger.Init(filepath.Join(logDir, "monitor.log")) != nil {
			logger.InitWriter(io.Discard)
		}
	}
	screen := c.App.Writer
	c.App.Writer = io.Discard
	defer func() { c.App.Writer = screen }()

	ctx, cancel := signalContext(c)
	defer cancel()

	bus := session.NewBus()
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()

	watchCtx, stopWatch := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- watch(watchCtx, c, cfg, bus, interval, c.Int("limit"))
		bus.Close()
	}()

	uiErr := monitor.Run(ctx, events, !colorsEnabled)
	stopWatch()
	err = <-done
	if uiErr != nil {
		return uiErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
