package emulator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/shell"
)

// NewClient creates an emulator client. Nil arguments select os/exec.
func NewClient(r shell.Runner, start Starter) *Client {
	if r == nil {
		r = shell.Exec{}
	}
	if start == nil {
		start = execStart
	}
	return &Client{run: r, start: start, pollInterval: time.Second}
}

type execProcess struct{ cmd *exec.Cmd }

func (p execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p execProcess) Kill() error { return p.cmd.Process.Kill() }

func execStart(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = logger.GetWriter()
	cmd.Stderr = logger.GetWriter()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return execProcess{cmd: cmd}, nil
}

// FindEmulatorBinary locates the Android emulator binary
func FindEmulatorBinary() (string, error) {
	if androidHome := getAndroidHome(); androidHome != "" {
		// new layout, then old layout
		for _, p := range []string{
			filepath.Join(androidHome, "emulator", "emulator"),
			filepath.Join(androidHome, "tools", "emulator"),
		} {
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	if path, err := shell.LookPath("emulator"); err == nil {
		return path, nil
	}

	return "", core.ErrDeviceNotFound.WithMessage("emulator binary not found. Set ANDROID_HOME or add emulator to PATH")
}

// getAndroidHome returns the Android SDK root from the environment
func getAndroidHome() string {
	for _, key := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		if home := os.Getenv(key); home != "" {
			return home
		}
	}
	return ""
}

func (c *Client) emulator() (string, error) {
	if c.emulatorPath != "" {
		return c.emulatorPath, nil
	}
	path, err := FindEmulatorBinary()
	if err != nil {
		return "", err
	}
	c.emulatorPath = path
	return path, nil
}

func (c *Client) adb(ctx context.Context, serial string, args ...string) (string, error) {
	if serial != "" {
		args = append([]string{"-s", serial}, args...)
	}
	out, err := c.run.Run(ctx, "adb", args...)
	return string(out), err
}

// ListAVDs returns all available Android Virtual Devices, marking the ones
// that are running.
func (c *Client) ListAVDs(ctx context.Context) ([]AVDInfo, error) {
	emulatorPath, err := c.emulator()
	if err != nil {
		return nil, err
	}

	output, err := c.run.Run(ctx, emulatorPath, "-list-avds")
	if err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to list AVDs").WithCause(err)
	}

	running := c.runningAVDs(ctx)

	var avds []AVDInfo
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "INFO") {
			continue
		}
		serial, ok := running[line]
		avds = append(avds, AVDInfo{Name: line, IsRunning: ok, Serial: serial})
	}

	logger.Debug("Found %d AVDs", len(avds))
	return avds, nil
}

// runningAVDs maps AVD name to serial for attached emulators.
func (c *Client) runningAVDs(ctx context.Context) map[string]string {
	result := make(map[string]string)
	serials, err := c.ConnectedSerials(ctx)
	if err != nil {
		return result
	}
	for _, serial := range serials {
		if !IsEmulator(serial) {
			continue
		}
		out, err := c.adb(ctx, serial, "emu", "avd", "name")
		if err != nil {
			continue
		}
		// First line is the name, followed by "OK"
		if name := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0]); name != "" {
			result[name] = serial
		}
	}
	return result
}

// ConnectedSerials returns serials of devices adb reports in "device" state.
func (c *Client) ConnectedSerials(ctx context.Context) ([]string, error) {
	out, err := c.adb(ctx, "", "devices")
	if err != nil {
		return nil, core.ErrCommandFailed.WithMessage("adb devices failed").WithCause(err)
	}
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			serials = append(serials, parts[0])
		}
	}
	return serials, nil
}

// IsEmulator checks if a device serial is an emulator
func IsEmulator(serial string) bool {
	return strings.HasPrefix(serial, "emulator-")
}

// CheckBootStatus checks all boot conditions for an emulator: device state,
// the boot_completed property, then the settings and package services.
func (c *Client) CheckBootStatus(ctx context.Context, serial string) *BootStatus {
	status := &BootStatus{}

	out, err := c.adb(ctx, serial, "get-state")
	status.StateReady = err == nil && strings.TrimSpace(out) == "device"
	if !status.StateReady {
		return status
	}

	out, err = c.adb(ctx, serial, "shell", "getprop", "sys.boot_completed")
	status.BootCompleted = err == nil && strings.TrimSpace(out) == "1"

	_, err = c.adb(ctx, serial, "shell", "settings", "list", "global")
	status.SettingsReady = err == nil

	_, err = c.adb(ctx, serial, "shell", "pm", "get-max-users")
	status.PackageManager = err == nil

	return status
}

func (c *Client) poll(ctx context.Context, timeout time.Duration, done func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		if done() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// WaitForBootComplete waits for emulator to be fully booted
func (c *Client) WaitForBootComplete(ctx context.Context, serial string, timeout time.Duration) error {
	logger.Info("Waiting for emulator boot complete: %s", serial)
	var last *BootStatus
	ok := c.poll(ctx, timeout, func() bool {
		last = c.CheckBootStatus(ctx, serial)
		logger.Debug("Boot status for %s: state=%v, boot=%v, settings=%v, pm=%v",
			serial, last.StateReady, last.BootCompleted, last.SettingsReady, last.PackageManager)
		return last.IsFullyReady()
	})
	if ok {
		logger.Info("Emulator fully booted: %s", serial)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return core.ErrDeviceTimeout.WithMessage(fmt.Sprintf(
		"emulator boot timeout after %v (state:%v boot:%v settings:%v pm:%v)",
		timeout, last.StateReady, last.BootCompleted, last.SettingsReady, last.PackageManager))
}

// WaitForDeviceState waits for device to appear in adb devices
func (c *Client) WaitForDeviceState(ctx context.Context, serial string, timeout time.Duration) error {
	ok := c.poll(ctx, timeout, func() bool {
		out, err := c.adb(ctx, serial, "get-state")
		return err == nil && strings.TrimSpace(out) == "device"
	})
	if ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return core.ErrDeviceTimeout.WithMessage(fmt.Sprintf("timeout waiting for device state after %v", timeout))
}

// StartEmulator boots an Android emulator on consolePort and returns its
// serial and process.
func (c *Client) StartEmulator(ctx context.Context, avdName string, consolePort int, timeout time.Duration) (string, Process, error) {
	logger.Info("Starting emulator: %s on port %d", avdName, consolePort)
	bootStart := time.Now()

	emulatorPath, err := c.emulator()
	if err != nil {
		return "", nil, err
	}

	serial := fmt.Sprintf("emulator-%d", consolePort)
	proc, err := c.start(emulatorPath,
		"-avd", avdName,
		"-port", strconv.Itoa(consolePort),
		"-netdelay", "none",
		"-netspeed", "full",
		"-no-boot-anim",
		"-no-snapshot-load",
	)
	if err != nil {
		return "", nil, core.ErrCommandFailed.WithMessage("failed to start emulator process").WithCause(err)
	}
	logger.Info("Emulator process started (PID: %d)", proc.Pid())

	stateTimeout := 60 * time.Second
	if timeout < stateTimeout {
		stateTimeout = timeout
	}
	if err := c.WaitForDeviceState(ctx, serial, stateTimeout); err != nil {
		_ = proc.Kill()
		return "", nil, fmt.Errorf("device state check failed: %w", err)
	}

	remaining := timeout - time.Since(bootStart)
	if remaining < 30*time.Second {
		remaining = 30 * time.Second
	}
	if err := c.WaitForBootComplete(ctx, serial, remaining); err != nil {
		_ = proc.Kill()
		return "", nil, err
	}

	logger.Info("Emulator boot completed in %v", time.Since(bootStart))
	return serial, proc, nil
}

// ShutdownEmulator asks the emulator to exit with adb emu kill and, if it
// is still attached after timeout, kills proc when one is given.
func (c *Client) ShutdownEmulator(ctx context.Context, serial string, proc Process, timeout time.Duration) error {
	logger.Info("Shutting down emulator: %s", serial)

	if _, err := c.adb(ctx, serial, "emu", "kill"); err != nil {
		logger.Warn("adb emu kill failed for %s: %v", serial, err)
	}

	gone := c.poll(ctx, timeout, func() bool {
		_, err := c.adb(ctx, serial, "get-state")
		return err != nil
	})
	if gone {
		logger.Info("Emulator shutdown confirmed: %s", serial)
		return nil
	}

	if proc == nil {
		return core.ErrDeviceTimeout.WithMessage(fmt.Sprintf("emulator %s still attached after %v", serial, timeout))
	}
	logger.Warn("Emulator shutdown timeout, killing PID %d: %s", proc.Pid(), serial)
	if err := proc.Kill(); err != nil {
		return core.ErrCommandFailed.WithMessage("failed to kill emulator " + serial).WithCause(err)
	}
	return nil
}
