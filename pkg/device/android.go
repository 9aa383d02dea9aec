package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/shell"
)

// Android is a device or emulator reached over ADB.
type Android struct {
	run    shell.Runner
	serial string
	info   core.DeviceInfo

	pollInterval time.Duration
}

// NewAndroid connects to the device with the given serial. If serial is
// empty, the first connected device is used.
func NewAndroid(ctx context.Context, r shell.Runner, serial string) (*Android, error) {
	if r == nil {
		r = shell.Exec{}
	}
	d := &Android{run: r, serial: serial, pollInterval: 500 * time.Millisecond}

	if d.serial == "" {
		s, err := d.detectSerial(ctx)
		if err != nil {
			return nil, err
		}
		d.serial = s
	}

	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, err
	}
	d.info = d.readInfo(ctx)
	logger.Info("Using Android device %s (%s, SDK %s)", d.serial, d.info.DeviceName, d.info.OSVersion)
	return d, nil
}

// detectSerial finds the first connected device serial.
func (d *Android) detectSerial(ctx context.Context) (string, error) {
	out, err := d.run.Run(ctx, "adb", "devices")
	if err != nil {
		return "", core.ErrCommandFailed.WithMessage("adb devices failed").WithCause(err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			return parts[0], nil
		}
	}
	return "", core.ErrNoBootedDevice.WithMessage("no connected Android devices found")
}

// Serial returns the device serial number.
func (d *Android) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *Android) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := d.adb(ctx, append([]string{"shell"}, args...)...)
	return string(out), err
}

// Install installs an APK on the device.
func (d *Android) Install(ctx context.Context, apkPath string) error {
	if _, err := d.adb(ctx, "install", "-r", "-g", apkPath); err != nil {
		return core.ErrCommandFailed.WithMessage("failed to install " + apkPath).WithCause(err)
	}
	return nil
}

// IsInstalled checks if a package is installed.
func (d *Android) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm", "list", "packages", pkg)
	if err != nil {
		return false
	}
	return strings.Contains(out, "package:"+pkg)
}

// LaunchApp starts the launcher activity of pkg.
func (d *Android) LaunchApp(ctx context.Context, pkg string) error {
	if _, err := d.Shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1"); err != nil {
		return core.ErrCommandFailed.WithMessage("failed to launch " + pkg).WithCause(err)
	}
	d.info.AppID = pkg
	return nil
}

// Info returns device information read when the device was opened.
func (d *Android) Info() core.DeviceInfo {
	return d.info
}

func (d *Android) readInfo(ctx context.Context) core.DeviceInfo {
	info := core.DeviceInfo{Platform: PlatformAndroid, DeviceID: d.serial}
	prop := func(name string) string {
		out, err := d.Shell(ctx, "getprop", name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
	info.DeviceName = prop("ro.product.model")
	info.OSVersion = prop("ro.build.version.sdk")
	info.IsSimulator = prop("ro.kernel.qemu") == "1"

	// "Physical size: 1080x2400"
	if out, err := d.Shell(ctx, "wm", "size"); err == nil {
		if i := strings.LastIndex(out, ":"); i >= 0 {
			var w, h int
			if _, err := fmt.Sscanf(strings.TrimSpace(out[i+1:]), "%dx%d", &w, &h); err == nil {
				info.ScreenWidth, info.ScreenHeight = w, h
			}
		}
	}
	return info
}

// Screenshot captures the screen with screencap, streamed over exec-out so
// the PNG is not mangled by line ending translation.
func (d *Android) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.adb(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, core.ErrCaptureFailed.WithMessage("screencap failed").WithCause(err)
	}
	if len(out) == 0 {
		return nil, core.ErrEmptyCapture
	}
	if !core.IsPNG(out) {
		return nil, core.ErrCaptureFailed.WithMessage("screencap returned non-PNG data")
	}
	return out, nil
}

// Tap taps at (x, y) in screen pixels.
func (d *Android) Tap(ctx context.Context, x, y int) error {
	if _, err := d.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return core.ErrCommandFailed.WithMessage(fmt.Sprintf("tap at (%d, %d) failed", x, y)).WithCause(err)
	}
	logger.Info("Tapped at (%d, %d)", x, y)
	return nil
}

// InputText types text into the focused field.
func (d *Android) InputText(ctx context.Context, text string) error {
	if _, err := d.Shell(ctx, "input", "text", escapeInputText(text)); err != nil {
		return core.ErrCommandFailed.WithMessage("text input failed").WithCause(err)
	}
	return nil
}

// escapeInputText prepares text for "input text": spaces become %s and
// characters the device shell would interpret are backslash-escaped.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\\', '\'', '"', '`', '$', '&', '|', ';', '<', '>', '(', ')', '*', '~', '?', '!', '#':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// adb executes an ADB command against this device.
func (d *Android) adb(ctx context.Context, args ...string) ([]byte, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)
	return d.run.Run(ctx, "adb", cmdArgs...)
}

// waitForDevice waits for the device to be available.
func (d *Android) waitForDevice(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if d.isConnected(ctx) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return core.ErrDeviceNotFound.WithMessage(fmt.Sprintf("timeout waiting for device %s", d.serial))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

// isConnected checks if the device is connected.
func (d *Android) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "device"
}
