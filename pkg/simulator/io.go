package simulator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"howett.net/plist"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
)

// Screenshot captures the simulator screen as PNG bytes.
func (c *Client) Screenshot(ctx context.Context, udid string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "simlens-shot-")
	if err != nil {
		return nil, core.ErrCaptureFailed.WithCause(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "screen.png")
	if _, err := c.simctl(ctx, "io", target(udid), "screenshot", "--type=png", path); err != nil {
		return nil, core.ErrCaptureFailed.WithMessage("simctl screenshot failed").WithCause(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrCaptureFailed.WithMessage("screenshot file missing").WithCause(err)
	}
	if len(data) == 0 {
		return nil, core.ErrEmptyCapture
	}
	return data, nil
}

// Tap taps at (x, y) in device points. simctl io tap is tried first, then
// idb when it is installed.
func (c *Client) Tap(ctx context.Context, udid string, x, y int) error {
	xs, ys := strconv.Itoa(x), strconv.Itoa(y)
	_, err := c.simctl(ctx, "io", target(udid), "tap", xs, ys)
	if err == nil {
		logger.Info("Tapped at (%d, %d)", x, y)
		return nil
	}
	logger.Debug("simctl tap failed, trying idb: %v", err)

	args := []string{"ui", "tap", xs, ys}
	if udid != "" {
		args = append(args, "--udid", udid)
	}
	if _, err := c.run.Run(ctx, "idb", args...); err != nil {
		return core.ErrCommandFailed.WithMessage(fmt.Sprintf("tap at (%d, %d) failed", x, y)).WithCause(err)
	}
	logger.Info("Tapped at (%d, %d) using idb", x, y)
	return nil
}

// InputText types text into the focused field.
func (c *Client) InputText(ctx context.Context, udid, text string) error {
	if _, err := c.simctl(ctx, "io", target(udid), "text", text); err == nil {
		return nil
	}
	args := []string{"ui", "text", text}
	if udid != "" {
		args = append(args, "--udid", udid)
	}
	if _, err := c.run.Run(ctx, "idb", args...); err != nil {
		return core.ErrCommandFailed.WithMessage("text input failed").WithCause(err)
	}
	return nil
}

// InstallApp installs a .app bundle and returns its bundle identifier.
func (c *Client) InstallApp(ctx context.Context, udid, appPath string) (string, error) {
	bundleID, err := ReadBundleID(appPath)
	if err != nil {
		return "", err
	}
	if _, err := c.simctl(ctx, "install", target(udid), appPath); err != nil {
		return "", core.ErrCommandFailed.WithMessage("failed to install " + appPath).WithCause(err)
	}
	logger.Info("Installed %s (%s)", bundleID, appPath)
	return bundleID, nil
}

// LaunchApp launches an installed app by bundle identifier.
func (c *Client) LaunchApp(ctx context.Context, udid, bundleID string) error {
	if _, err := c.simctl(ctx, "launch", target(udid), bundleID); err != nil {
		return core.ErrCommandFailed.WithMessage("failed to launch " + bundleID).WithCause(err)
	}
	return nil
}

// infoPlist is the subset of an app's Info.plist simlens reads.
type infoPlist struct {
	BundleIdentifier string `plist:"CFBundleIdentifier"`
	BundleName       string `plist:"CFBundleName"`
	ShortVersion     string `plist:"CFBundleShortVersionString"`
	MinimumOSVersion string `plist:"MinimumOSVersion"`
}

// ReadBundleID reads CFBundleIdentifier from <app>/Info.plist. Both XML and
// binary plists are accepted.
func ReadBundleID(appPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(appPath, "Info.plist")) //#nosec G304 -- user-provided app bundle
	if err != nil {
		return "", core.ErrInvalidConfig.WithMessage("no Info.plist in " + appPath).WithCause(err)
	}
	var info infoPlist
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return "", core.ErrInvalidConfig.WithMessage("unreadable Info.plist in " + appPath).WithCause(err)
	}
	if info.BundleIdentifier == "" {
		return "", core.ErrMissingRequired.WithMessage("CFBundleIdentifier missing in " + appPath)
	}
	return info.BundleIdentifier, nil
}

// target maps an empty UDID to simctl's "booted" alias.
func target(udid string) string {
	if udid == "" {
		return "booted"
	}
	return udid
}
