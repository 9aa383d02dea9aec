package simulator

import (
	"sync"
	"time"

	"github.com/devicelab-dev/simlens/pkg/shell"
)

// SimulatorDevice represents an available iOS simulator from simctl list.
type SimulatorDevice struct {
	Name        string `json:"name"`      // e.g., "iPhone 15 Pro"
	UDID        string `json:"udid"`      // e.g., "A1B2C3D4-E5F6-..."
	Runtime     string `json:"runtime"`   // e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-2"
	OSVersion   string `json:"osVersion"` // e.g., "17.2" (extracted from Runtime)
	State       string `json:"state"`     // "Shutdown", "Booted", etc.
	IsAvailable bool   `json:"isAvailable"`
}

// IsBooted reports state == "Booted".
func (d SimulatorDevice) IsBooted() bool {
	return d.State == "Booted"
}

// Runtime is an installed simulator runtime.
type Runtime struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	IsAvailable bool   `json:"isAvailable"`
}

// DeviceType is a simulator hardware profile.
type DeviceType struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// SimulatorInstance tracks a simulator booted by simlens.
type SimulatorInstance struct {
	UDID         string        // Simulator UDID
	Name         string        // Simulator name (e.g., "iPhone 15 Pro")
	StartedBy    string        // "simlens"
	BootStart    time.Time     // When boot was initiated
	BootDuration time.Duration // Total boot duration
}

// BootStatus represents simulator boot state.
type BootStatus struct {
	Booted bool // state == "Booted" from simctl list
}

// IsReady returns true if the simulator is fully booted.
func (bs *BootStatus) IsReady() bool {
	return bs.Booted
}

// Client drives xcrun simctl through a shell.Runner.
type Client struct {
	run          shell.Runner
	pollInterval time.Duration
}

// Manager manages iOS simulator lifecycle and tracks started simulators.
type Manager struct {
	client  *Client
	started sync.Map // UDID -> *SimulatorInstance (thread-safe)
}
