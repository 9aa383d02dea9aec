package dashboard

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrAlreadyRunning is returned by Start while a watch is active.
	ErrAlreadyRunning = errors.New("watch already running")
	// ErrNotRunning is returned by Stop when nothing is running.
	ErrNotRunning = errors.New("watch not running")
)

// WatchFunc runs a watch loop until ctx is cancelled.
type WatchFunc func(ctx context.Context) error

// Supervisor owns at most one running watch loop.
type Supervisor struct {
	run    WatchFunc
	onExit func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor returns a supervisor for run. onExit, when non-nil, is
// called with the loop's error once it returns.
func NewSupervisor(run WatchFunc, onExit func(error)) *Supervisor {
	return &Supervisor{run: run, onExit: onExit}
}

// Start launches the loop under parent.
func (s *Supervisor) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		err := s.run(ctx)
		cancel()

		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()

		if s.onExit != nil {
			s.onExit(err)
		}
	}()
	return nil
}

// Stop cancels the loop and waits for it to return.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	cancel()
	<-done
	return nil
}

// Running reports whether a loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}
