package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/shell"
)

// NewClient creates a simctl client. A nil runner uses shell.Exec.
func NewClient(r shell.Runner) *Client {
	if r == nil {
		r = shell.Exec{}
	}
	return &Client{run: r, pollInterval: time.Second}
}

// FindSimctlBinary verifies that xcrun/simctl is available.
func FindSimctlBinary() (string, error) {
	path, err := shell.LookPath("xcrun")
	if err != nil {
		return "", core.ErrDeviceNotFound.WithMessage("xcrun not found; install Xcode Command Line Tools: xcode-select --install")
	}
	return path, nil
}

func (c *Client) simctl(ctx context.Context, args ...string) ([]byte, error) {
	return c.run.Run(ctx, "xcrun", append([]string{"simctl"}, args...)...)
}

// simctlDevicesOutput represents the JSON output from xcrun simctl list devices.
type simctlDevicesOutput struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

// ListSimulators returns all available iOS simulators, sorted by name.
func (c *Client) ListSimulators(ctx context.Context) ([]SimulatorDevice, error) {
	output, err := c.simctl(ctx, "list", "devices", "available", "-j")
	if err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to list simulators").WithCause(err)
	}

	var data simctlDevicesOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to parse simctl output").WithCause(err)
	}

	var sims []SimulatorDevice
	for runtime, devices := range data.Devices {
		osVersion := extractOSVersion(runtime)
		for _, dev := range devices {
			if !dev.IsAvailable {
				continue
			}
			sims = append(sims, SimulatorDevice{
				Name:        dev.Name,
				UDID:        dev.UDID,
				Runtime:     runtime,
				OSVersion:   osVersion,
				State:       dev.State,
				IsAvailable: dev.IsAvailable,
			})
		}
	}
	sort.Slice(sims, func(i, j int) bool {
		if sims[i].Name != sims[j].Name {
			return sims[i].Name < sims[j].Name
		}
		return sims[i].OSVersion > sims[j].OSVersion
	})

	logger.Debug("Found %d available simulators", len(sims))
	return sims, nil
}

// FindBooted returns the first booted simulator.
func (c *Client) FindBooted(ctx context.Context) (*SimulatorDevice, error) {
	sims, err := c.ListSimulators(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sims {
		if sims[i].IsBooted() {
			return &sims[i], nil
		}
	}
	return nil, core.ErrNoBootedDevice.WithMessage("no booted simulator; run: simlens devices boot \"iPhone 16 Pro\"")
}

// Find resolves a simulator by UDID or case-insensitive name.
func (c *Client) Find(ctx context.Context, nameOrUDID string) (*SimulatorDevice, error) {
	sims, err := c.ListSimulators(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(nameOrUDID)
	var byName *SimulatorDevice
	for i := range sims {
		if sims[i].UDID == nameOrUDID {
			return &sims[i], nil
		}
		if byName == nil && strings.ToLower(sims[i].Name) == want {
			byName = &sims[i]
		}
	}
	if byName != nil {
		return byName, nil
	}
	return nil, core.ErrDeviceNotFound.WithMessage("simulator not found: " + nameOrUDID)
}

// CheckBootStatus checks if a simulator is booted.
func (c *Client) CheckBootStatus(ctx context.Context, udid string) (*BootStatus, error) {
	sims, err := c.ListSimulators(ctx)
	if err != nil {
		return nil, err
	}
	for _, sim := range sims {
		if sim.UDID == udid {
			return &BootStatus{Booted: sim.IsBooted()}, nil
		}
	}
	return nil, core.ErrDeviceNotFound.WithMessage("simulator not found: " + udid)
}

// WaitForBoot waits for a simulator to reach "Booted" state.
func (c *Client) WaitForBoot(ctx context.Context, udid string, timeout time.Duration) error {
	logger.Info("Waiting for simulator boot: %s", udid)
	return c.poll(ctx, timeout, func() bool {
		status, err := c.CheckBootStatus(ctx, udid)
		if err != nil {
			logger.Debug("Boot check error: %v", err)
			return false
		}
		if status.IsReady() {
			logger.Info("Simulator booted: %s", udid)
			return true
		}
		return false
	}, "simulator boot")
}

func (c *Client) poll(ctx context.Context, timeout time.Duration, done func() bool, what string) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if done() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return core.ErrDeviceTimeout.WithMessage(fmt.Sprintf("%s timeout after %v", what, timeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BootSimulator boots an iOS simulator and waits for it to be ready.
func (c *Client) BootSimulator(ctx context.Context, udid string, timeout time.Duration) error {
	logger.Info("Booting simulator: %s", udid)

	if _, err := c.simctl(ctx, "boot", udid); err != nil {
		// Check if already booted
		if strings.Contains(shell.Output(err), "current state: Booted") {
			logger.Info("Simulator already booted: %s", udid)
			return nil
		}
		return core.ErrCommandFailed.WithMessage("failed to boot simulator " + udid).WithCause(err)
	}

	if err := c.WaitForBoot(ctx, udid, timeout); err != nil {
		return err
	}

	// Open the Simulator UI
	if _, err := c.run.Run(ctx, "open", "-a", "Simulator"); err != nil {
		logger.Debug("Failed to open Simulator app: %v", err)
	}
	return nil
}

// ShutdownSimulator gracefully shuts down a simulator.
func (c *Client) ShutdownSimulator(ctx context.Context, udid string, timeout time.Duration) error {
	logger.Info("Shutting down simulator: %s", udid)

	if _, err := c.simctl(ctx, "shutdown", udid); err != nil {
		if strings.Contains(shell.Output(err), "current state: Shutdown") {
			logger.Info("Simulator already shutdown: %s", udid)
			return nil
		}
		logger.Warn("simctl shutdown failed for %s: %v", udid, err)
	}

	return c.poll(ctx, timeout, func() bool {
		status, err := c.CheckBootStatus(ctx, udid)
		if err != nil || !status.Booted {
			logger.Info("Simulator shutdown confirmed: %s", udid)
			return true
		}
		return false
	}, "simulator shutdown")
}

// DeleteSimulator removes a simulator created by CreateSimulator.
func (c *Client) DeleteSimulator(ctx context.Context, udid string) error {
	if _, err := c.simctl(ctx, "delete", udid); err != nil {
		return core.ErrCommandFailed.WithMessage("failed to delete simulator " + udid).WithCause(err)
	}
	return nil
}

// extractOSVersion extracts version from runtime string.
// e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-2" -> "17.2"
func extractOSVersion(runtime string) string {
	for _, prefix := range []string{"iOS-", "watchOS-", "tvOS-", "xrOS-"} {
		if idx := strings.LastIndex(runtime, prefix); idx != -1 {
			return strings.ReplaceAll(runtime[idx+len(prefix):], "-", ".")
		}
	}
	return ""
}
