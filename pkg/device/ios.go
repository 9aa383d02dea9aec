package device

import (
	"context"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/simulator"
)

// IOS is a booted iOS simulator.
type IOS struct {
	client *simulator.Client
	sim    simulator.SimulatorDevice
}

// OpenIOS finds the simulator named by nameOrUDID, or the booted one when
// it is empty. The simulator must already be booted.
func OpenIOS(ctx context.Context, client *simulator.Client, nameOrUDID string) (*IOS, error) {
	var (
		sim *simulator.SimulatorDevice
		err error
	)
	if nameOrUDID == "" {
		sim, err = client.FindBooted(ctx)
	} else {
		sim, err = client.Find(ctx, nameOrUDID)
	}
	if err != nil {
		return nil, err
	}
	if !sim.IsBooted() {
		return nil, core.ErrNoBootedDevice.WithMessage(sim.Name + " is not booted; run simlens devices boot first")
	}
	logger.Info("Using simulator %s (%s, iOS %s)", sim.Name, sim.UDID, sim.OSVersion)
	return &IOS{client: client, sim: *sim}, nil
}

// Info describes the simulator.
func (d *IOS) Info() core.DeviceInfo {
	return core.DeviceInfo{
		Platform:    PlatformIOS,
		OSVersion:   d.sim.OSVersion,
		DeviceName:  d.sim.Name,
		DeviceID:    d.sim.UDID,
		IsSimulator: true,
	}
}

// Screenshot captures the simulator screen.
func (d *IOS) Screenshot(ctx context.Context) ([]byte, error) {
	return d.client.Screenshot(ctx, d.sim.UDID)
}

// Tap taps at (x, y).
func (d *IOS) Tap(ctx context.Context, x, y int) error {
	return d.client.Tap(ctx, d.sim.UDID, x, y)
}

// InputText types into the focused field.
func (d *IOS) InputText(ctx context.Context, text string) error {
	return d.client.InputText(ctx, d.sim.UDID, text)
}
