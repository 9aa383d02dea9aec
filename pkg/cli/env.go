package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/device"
	"github.com/devicelab-dev/simlens/pkg/shell"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// Replaced by tests so commands run without Xcode, adb or OpenCV.
var (
	shellRunner shell.Runner
	newDetector = vision.New
	openDevice  = func(ctx context.Context, cfg *config.Config) (device.Device, error) {
		return device.Open(ctx, cfg, device.Options{Runner: shellRunner})
	}
)

// ErrCapturesFailed is returned when a command finished but at least one
// capture had issues at or above rules.failOn.
var ErrCapturesFailed = errors.New("captures failed")

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func out(c *cli.Context) io.Writer {
	return c.App.Writer
}

// loadConfig reads --config (or simlens.yaml in the working directory),
// applies the global flags and makes paths absolute.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
		dir string
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
		dir = filepath.Dir(path)
	} else {
		dir, err = os.Getwd()
		if err == nil {
			cfg, err = config.LoadFromDir(dir)
		}
	}
	if err != nil {
		return nil, err
	}

	if p := c.String("platform"); p != "" {
		cfg.Platform = p
	}
	if d := c.String("device"); d != "" {
		cfg.Device = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Resolve(dir)
	return cfg, nil
}

// parseDevices splits the --device value into IDs.
// Returns nil if no devices were specified.
func parseDevices(deviceFlag string) []string {
	if deviceFlag == "" {
		return nil
	}
	var devices []string
	for _, d := range strings.Split(deviceFlag, ",") {
		if d = strings.TrimSpace(d); d != "" {
			devices = append(devices, d)
		}
	}
	return devices
}

// resolveOutputDir returns the report directory for a new session.
// - default: <base>/<timestamp>/
// - --flatten: <base>/ (no timestamp subfolder)
func resolveOutputDir(base string, flatten bool) string {
	if base == "" {
		base = "reports"
	}
	if flatten {
		return filepath.Clean(base)
	}
	return filepath.Join(base, time.Now().Format("2006-01-02_15-04-05"))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
