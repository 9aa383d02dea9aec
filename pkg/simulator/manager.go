package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/simlens/pkg/logger"
)

// NewManager creates a new simulator manager.
func NewManager(client *Client) *Manager {
	if client == nil {
		client = NewClient(nil)
	}
	return &Manager{client: client}
}

// Client returns the simctl client the manager uses.
func (m *Manager) Client() *Client {
	return m.client
}

// Start boots a simulator by UDID and tracks it.
func (m *Manager) Start(ctx context.Context, udid string, timeout time.Duration) (string, error) {
	logger.Info("Starting simulator: %s (timeout: %v)", udid, timeout)
	bootStart := time.Now()

	if err := m.client.BootSimulator(ctx, udid, timeout); err != nil {
		return "", fmt.Errorf("failed to boot simulator %s: %w", udid, err)
	}

	bootDuration := time.Since(bootStart)

	name := udid
	if sim, err := m.client.Find(ctx, udid); err == nil {
		name = sim.Name
	}

	m.started.Store(udid, &SimulatorInstance{
		UDID:         udid,
		Name:         name,
		StartedBy:    "simlens",
		BootStart:    bootStart,
		BootDuration: bootDuration,
	})

	logger.Info("Simulator started and tracked: %s (%s, boot time: %v)", name, udid, bootDuration)
	return udid, nil
}

// StartByName finds a simulator by name or UDID and boots it. An already
// booted simulator is returned as-is and not tracked, so ShutdownAll leaves
// it running.
func (m *Manager) StartByName(ctx context.Context, name string, timeout time.Duration) (string, error) {
	sim, err := m.client.Find(ctx, name)
	if err != nil {
		return "", err
	}
	if sim.IsBooted() {
		logger.Info("Simulator already booted: %s (%s)", sim.Name, sim.UDID)
		return sim.UDID, nil
	}
	return m.Start(ctx, sim.UDID, timeout)
}

// Shutdown shuts down a simulator if we started it.
func (m *Manager) Shutdown(ctx context.Context, udid string) error {
	instance, exists := m.started.Load(udid)
	if !exists {
		logger.Debug("Simulator %s not started by us, skipping shutdown", udid)
		return nil
	}

	if err := m.client.ShutdownSimulator(ctx, udid, 30*time.Second); err != nil {
		logger.Error("Failed to shutdown simulator %s: %v", udid, err)
		return err
	}

	m.started.Delete(udid)

	if inst, ok := instance.(*SimulatorInstance); ok {
		logger.Debug("Simulator %s ran for %v", udid, time.Since(inst.BootStart))
	}
	return nil
}

// ShutdownAll shuts down all simulators started by us, in parallel.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	udids := m.GetStartedSimulators()
	if len(udids) == 0 {
		return nil
	}
	logger.Info("Shutting down %d tracked simulators", len(udids))

	errCh := make(chan error, len(udids))
	for _, udid := range udids {
		go func(u string) {
			errCh <- m.Shutdown(ctx, u)
		}(udid)
	}

	var errs []error
	for range udids {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during simulator shutdown: %v", errs)
	}
	return nil
}

// IsStartedByUs checks if we started this simulator.
func (m *Manager) IsStartedByUs(udid string) bool {
	_, exists := m.started.Load(udid)
	return exists
}

// GetStartedSimulators returns list of all simulators we started.
func (m *Manager) GetStartedSimulators() []string {
	var udids []string
	m.started.Range(func(key, _ interface{}) bool {
		udids = append(udids, key.(string))
		return true
	})
	return udids
}
