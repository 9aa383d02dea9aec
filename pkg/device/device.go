// Package device gives every screen source simlens can read one interface:
// iOS simulators, Android devices and emulators, rendered mock screens and
// directories of recorded screenshots.
package device

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/shell"
	"github.com/devicelab-dev/simlens/pkg/simulator"
)

// Device is a screen that can be captured and driven.
type Device interface {
	Info() core.DeviceInfo
	Screenshot(ctx context.Context) ([]byte, error)
	Tap(ctx context.Context, x, y int) error
	InputText(ctx context.Context, text string) error
}

// Platform names accepted by Open.
const (
	PlatformIOS       = "ios"
	PlatformAndroid   = "android"
	PlatformSynthetic = "synthetic"
	PlatformReplay    = "replay"
)

// Options control how Open reaches external tools.
type Options struct {
	Runner shell.Runner // nil means os/exec
}

// Open resolves the device named by cfg.Platform and cfg.Device.
func Open(ctx context.Context, cfg *config.Config, opts Options) (Device, error) {
	switch cfg.Platform {
	case PlatformIOS:
		return OpenIOS(ctx, simulator.NewClient(opts.Runner), cfg.Device)
	case PlatformAndroid:
		return NewAndroid(ctx, opts.Runner, cfg.Device)
	case PlatformSynthetic:
		return NewSynthetic(), nil
	case PlatformReplay:
		return NewReplay(cfg.Device)
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown platform %q", cfg.Platform))
	}
}
