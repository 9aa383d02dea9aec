package emulator

import (
	"sync"
	"time"

	"github.com/devicelab-dev/simlens/pkg/shell"
)

// AVDInfo represents an Android Virtual Device
type AVDInfo struct {
	Name      string `json:"name"`      // AVD name (e.g., "Pixel_7_API_33")
	IsRunning bool   `json:"isRunning"` // Whether an emulator for it is attached to adb
	Serial    string `json:"serial,omitempty"`
}

// Process is a started emulator process.
type Process interface {
	Pid() int
	Kill() error
}

// Starter launches a long-running process without waiting for it.
type Starter func(name string, args ...string) (Process, error)

// EmulatorInstance tracks a running emulator started by simlens
type EmulatorInstance struct {
	AVDName     string    // AVD name
	Serial      string    // Device serial (e.g., "emulator-5554")
	ConsolePort int       // Console port (even: 5554, 5556, 5558...)
	ADBPort     int       // ADB port (odd: console + 1)
	Process     Process   // Emulator process
	StartedBy   string    // "simlens"
	BootStart   time.Time // Boot start time
}

// BootStatus represents emulator boot state
type BootStatus struct {
	StateReady     bool // adb get-state == "device"
	BootCompleted  bool // sys.boot_completed == "1"
	SettingsReady  bool // settings list global succeeds
	PackageManager bool // pm get-max-users succeeds
}

// IsFullyReady returns true if all boot checks passed
func (bs *BootStatus) IsFullyReady() bool {
	return bs.StateReady && bs.BootCompleted && bs.SettingsReady && bs.PackageManager
}

// Client drives adb and the emulator binary.
type Client struct {
	run          shell.Runner
	start        Starter
	emulatorPath string
	pollInterval time.Duration
}

// Manager manages emulator lifecycle and tracks started emulators
type Manager struct {
	client  *Client
	started sync.Map       // serial -> *EmulatorInstance (thread-safe)
	portMap map[string]int // AVD name -> console port (session-only)
	mu      sync.Mutex     // Protects portMap
}
