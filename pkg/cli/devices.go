package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Masterminds/semver"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/device"
	"github.com/devicelab-dev/simlens/pkg/emulator"
	"github.com/devicelab-dev/simlens/pkg/simulator"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List, boot, shut down and install apps on simulators and emulators",
	Description: `Manage the devices simlens captures from. The platform comes from the
global --platform flag or simlens.yaml.

Examples:
  simlens devices list
  simlens -p ios devices boot --os-version ">= 17" "iPhone 15"
  simlens -p android devices boot Pixel_7_API_33
  simlens -p ios --device booted devices install --launch build/Runner.app`,
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List simulators, AVDs and attached adb devices",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
			},
			Action: runDevicesList,
		},
		{
			Name:      "boot",
			Usage:     "Boot a simulator (creating one if needed) or start an AVD",
			ArgsUsage: "<name|udid|avd>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "os-version",
					Usage: "iOS version constraint, e.g. \"17\" or \">= 17.2, < 18\"",
				},
				&cli.BoolFlag{
					Name:  "force-create",
					Usage: "Create a new simulator even if a matching one exists",
				},
			},
			Action: runDevicesBoot,
		},
		{
			Name:      "shutdown",
			Usage:     "Shut down a simulator or emulator",
			ArgsUsage: "<udid|serial>",
			Action:    runDevicesShutdown,
		},
		{
			Name:      "install",
			Usage:     "Install a .app bundle or .apk on the selected device",
			ArgsUsage: "<app>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "launch", Usage: "Launch the app after installing"},
			},
			Action: runDevicesInstall,
		},
	},
}

// listedDevice is one row of devices list.
type listedDevice struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	OS       string `json:"os,omitempty"`
	State    string `json:"state"`
}

func runDevicesList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	var rows []listedDevice
	switch cfg.Platform {
	case device.PlatformIOS:
		sims, err := simulator.NewClient(shellRunner).ListSimulators(ctx)
		if err != nil {
			return err
		}
		for _, s := range sims {
			rows = append(rows, listedDevice{Platform: cfg.Platform, Name: s.Name, ID: s.UDID, OS: s.OSVersion, State: s.State})
		}
	case device.PlatformAndroid:
		rows, err = listAndroid(ctx)
		if err != nil {
			return err
		}
	default:
		return core.ErrInvalidConfig.Messagef("devices list needs --platform ios or android, not %q", cfg.Platform)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(out(c))
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out(c), "No devices found")
		return nil
	}
	tw := tabwriter.NewWriter(out(c), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tOS\tSTATE")
	for _, r := range rows {
		state := r.State
		if state == "Booted" || state == "device" {
			state = color(colorGreen) + state + color(colorReset)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.ID, r.OS, state)
	}
	return tw.Flush()
}

// listAndroid merges AVDs with attached adb devices. Attached devices that
// are not a known AVD (real devices, remote emulators) are listed by serial.
func listAndroid(ctx context.Context) ([]listedDevice, error) {
	client := emulator.NewClient(shellRunner, nil)
	serials, err := client.ConnectedSerials(ctx)
	if err != nil {
		return nil, err
	}
	var rows []listedDevice
	seen := make(map[string]bool)
	if avds, err := client.ListAVDs(ctx); err == nil {
		for _, a := range avds {
			state := "stopped"
			if a.IsRunning {
				state = "device"
				seen[a.Serial] = true
			}
			rows = append(rows, listedDevice{Platform: device.PlatformAndroid, Name: a.Name, ID: a.Serial, State: state})
		}
	}
	sort.Strings(serials)
	for _, s := range serials {
		if !seen[s] {
			rows = append(rows, listedDevice{Platform: device.PlatformAndroid, Name: s, ID: s, State: "device"})
		}
	}
	return rows, nil
}

func runDevicesBoot(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("device name, UDID or AVD is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	switch cfg.Platform {
	case device.PlatformIOS:
		udid, err := bootSimulator(ctx, cfg, name, c.String("os-version"), c.Bool("force-create"))
		if err != nil {
			return err
		}
		fmt.Fprintf(out(c), "  %s✓ Simulator booted: %s%s\n", color(colorGreen), udid, color(colorReset))
		return nil
	case device.PlatformAndroid:
		mgr := emulator.NewManager(emulator.NewClient(shellRunner, nil))
		fmt.Fprintf(out(c), "  %s⏳ Starting emulator: %s%s\n", color(colorCyan), name, color(colorReset))
		serial, err := mgr.Start(ctx, name, cfg.BootTimeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(c), "  %s✓ Emulator started: %s%s\n", color(colorGreen), serial, color(colorReset))
		return nil
	default:
		return core.ErrInvalidConfig.Messagef("devices boot needs --platform ios or android, not %q", cfg.Platform)
	}
}

// bootSimulator boots the simulator named name whose OS satisfies
// constraint. When none exists (or forceCreate is set), name is taken as a
// device type and a simulator is created on the newest matching runtime.
func bootSimulator(ctx context.Context, cfg *config.Config, name, constraint string, forceCreate bool) (string, error) {
	client := simulator.NewClient(shellRunner)
	mgr := simulator.NewManager(client)

	if !forceCreate {
		sims, err := client.ListSimulators(ctx)
		if err != nil {
			return "", err
		}
		sim, err := pickSimulator(sims, name, constraint)
		if err != nil {
			return "", err
		}
		if sim != nil {
			if sim.IsBooted() {
				return sim.UDID, nil
			}
			return mgr.Start(ctx, sim.UDID, cfg.BootTimeout)
		}
	}

	simName := "simlens " + name
	if constraint != "" {
		simName += " (" + constraint + ")"
	}
	udid, err := client.CreateSimulator(ctx, simName, name, constraint)
	if err != nil {
		return "", err
	}
	return mgr.Start(ctx, udid, cfg.BootTimeout)
}

// pickSimulator returns the simulator matching name (or UDID) with the
// newest OS satisfying constraint, booted ones first. It returns nil when
// nothing matches.
func pickSimulator(sims []simulator.SimulatorDevice, name, constraint string) (*simulator.SimulatorDevice, error) {
	var cons *semver.Constraints
	if constraint != "" {
		var err error
		if cons, err = simulator.ParseConstraint(constraint); err != nil {
			return nil, core.ErrInvalidConfig.WithMessage("invalid --os-version " + constraint).WithCause(err)
		}
	}

	var best *simulator.SimulatorDevice
	var bestVer *semver.Version
	for i := range sims {
		s := &sims[i]
		if s.UDID != name && !strings.EqualFold(s.Name, name) {
			continue
		}
		v, err := semver.NewVersion(s.OSVersion)
		if err != nil {
			v = nil
		}
		if cons != nil && (v == nil || !cons.Check(v)) {
			continue
		}
		if preferSimulator(s, v, best, bestVer) {
			best, bestVer = s, v
		}
	}
	return best, nil
}

func preferSimulator(s *simulator.SimulatorDevice, v *semver.Version, best *simulator.SimulatorDevice, bestVer *semver.Version) bool {
	if best == nil {
		return true
	}
	if s.IsBooted() != best.IsBooted() {
		return s.IsBooted()
	}
	if v == nil {
		return false
	}
	return bestVer == nil || v.GreaterThan(bestVer)
}

func runDevicesShutdown(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("device UDID or serial is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	switch cfg.Platform {
	case device.PlatformIOS:
		err = simulator.NewClient(shellRunner).ShutdownSimulator(ctx, id, 30*time.Second)
	case device.PlatformAndroid:
		err = emulator.NewClient(shellRunner, nil).ShutdownEmulator(ctx, id, nil, 30*time.Second)
	default:
		err = core.ErrInvalidConfig.Messagef("devices shutdown needs --platform ios or android, not %q", cfg.Platform)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out(c), "  %s✓ Shut down %s%s\n", color(colorGreen), id, color(colorReset))
	return nil
}

func runDevicesInstall(c *cli.Context) error {
	app := c.Args().First()
	if app == "" {
		return fmt.Errorf("app path is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	switch strings.ToLower(filepath.Ext(app)) {
	case ".app":
		client := simulator.NewClient(shellRunner)
		udid := ""
		if cfg.Device != "" && cfg.Device != "booted" {
			sim, err := client.Find(ctx, cfg.Device)
			if err != nil {
				return err
			}
			udid = sim.UDID
		}
		bundleID, err := client.InstallApp(ctx, udid, app)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(c), "  %s✓ Installed %s%s\n", color(colorGreen), bundleID, color(colorReset))
		if c.Bool("launch") {
			return client.LaunchApp(ctx, udid, bundleID)
		}
		return nil
	case ".apk":
		dev, err := device.NewAndroid(ctx, shellRunner, cfg.Device)
		if err != nil {
			return err
		}
		if err := dev.Install(ctx, app); err != nil {
			return err
		}
		fmt.Fprintf(out(c), "  %s✓ Installed %s on %s%s\n", color(colorGreen), filepath.Base(app), dev.Serial(), color(colorReset))
		return nil
	default:
		return core.ErrInvalidConfig.Messagef("cannot install %s: expected a .app bundle or .apk", app)
	}
}
