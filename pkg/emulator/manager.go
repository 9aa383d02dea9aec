package emulator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/simlens/pkg/logger"
)

const (
	startingPort     = 5554 // First emulator port
	maxRetryAttempts = 8    // Max port allocation attempts
)

// NewManager creates a new emulator manager
func NewManager(client *Client) *Manager {
	if client == nil {
		client = NewClient(nil, nil)
	}
	return &Manager{
		client:  client,
		portMap: make(map[string]int),
	}
}

// Client returns the underlying client.
func (m *Manager) Client() *Client {
	return m.client
}

// Start starts an emulator and tracks it
func (m *Manager) Start(ctx context.Context, avdName string, timeout time.Duration) (string, error) {
	return m.StartWithRetry(ctx, avdName, timeout, maxRetryAttempts)
}

// StartWithRetry starts an emulator, moving to the next even port when the
// console port is taken.
func (m *Manager) StartWithRetry(ctx context.Context, avdName string, timeout time.Duration, maxAttempts int) (string, error) {
	port := m.AllocatePort(avdName)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Info("Starting emulator attempt %d/%d: %s (port %d)", attempt, maxAttempts, avdName, port)

		serial, proc, err := m.client.StartEmulator(ctx, avdName, port, timeout)
		if err == nil {
			m.started.Store(serial, &EmulatorInstance{
				AVDName:     avdName,
				Serial:      serial,
				ConsolePort: port,
				ADBPort:     port + 1,
				Process:     proc,
				StartedBy:   "simlens",
				BootStart:   time.Now(),
			})

			m.mu.Lock()
			m.portMap[avdName] = port
			m.mu.Unlock()

			logger.Info("Emulator started and tracked: %s", serial)
			return serial, nil
		}

		lastErr = err
		if shouldRetryOnError(err) {
			logger.Warn("Port conflict detected, trying next port (attempt %d/%d)", attempt, maxAttempts)
			port = getNextPort(port)
			continue
		}

		logger.Error("Emulator start failed (non-retriable): %v", lastErr)
		return "", lastErr
	}

	return "", fmt.Errorf("failed to start emulator after %d attempts: %w", maxAttempts, lastErr)
}

// AllocatePort returns the port for an AVD (from mapping or next available)
func (m *Manager) AllocatePort(avdName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if port, exists := m.portMap[avdName]; exists {
		logger.Debug("Reusing port %d for AVD %s", port, avdName)
		return port
	}

	nextPort := startingPort
	for _, port := range m.portMap {
		if port >= nextPort {
			nextPort = port + 2 // Always increment by 2 (even numbers)
		}
	}

	// Save allocation immediately to prevent race conditions
	m.portMap[avdName] = nextPort
	logger.Debug("Allocated new port %d for AVD %s", nextPort, avdName)
	return nextPort
}

// getNextPort returns the next emulator port (increment by 2)
func getNextPort(currentPort int) int {
	return currentPort + 2
}

// shouldRetryOnError reports whether err looks like a console port conflict.
func shouldRetryOnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "port") && strings.Contains(msg, "in use")
}

// Shutdown shuts down an emulator if we started it
func (m *Manager) Shutdown(ctx context.Context, serial string) error {
	v, exists := m.started.Load(serial)
	if !exists {
		logger.Debug("Emulator %s not started by us, skipping shutdown", serial)
		return nil
	}
	inst := v.(*EmulatorInstance)

	if err := m.client.ShutdownEmulator(ctx, serial, inst.Process, 30*time.Second); err != nil {
		logger.Error("Failed to shutdown emulator %s: %v", serial, err)
		return err
	}

	m.started.Delete(serial)
	logger.Debug("Emulator %s ran for %v", serial, time.Since(inst.BootStart))
	return nil
}

// ShutdownAll shuts down all emulators started by us, in parallel.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	serials := m.GetStartedEmulators()
	if len(serials) == 0 {
		return nil
	}
	logger.Info("Shutting down %d tracked emulators", len(serials))

	errCh := make(chan error, len(serials))
	for _, serial := range serials {
		go func(s string) {
			errCh <- m.Shutdown(ctx, s)
		}(serial)
	}

	var errs []error
	for range serials {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// IsStartedByUs checks if we started this emulator
func (m *Manager) IsStartedByUs(serial string) bool {
	_, exists := m.started.Load(serial)
	return exists
}

// GetStartedEmulators returns list of all emulators we started
func (m *Manager) GetStartedEmulators() []string {
	var serials []string
	m.started.Range(func(key, _ interface{}) bool {
		serials = append(serials, key.(string))
		return true
	})
	return serials
}
