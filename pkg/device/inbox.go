package device

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
)

// Inbox watches a directory for screenshots dropped into it by other tools.
// A path is emitted once no write event has been seen for the settle
// duration, so half-written files are not analyzed.
type Inbox struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	pending map[string]time.Time
	out     chan string
}

// NewInbox creates dir if needed and starts watching it.
func NewInbox(dir string, settle time.Duration) (*Inbox, error) {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, core.ErrStorage.WithMessage("create inbox " + dir).WithCause(err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.ErrStorage.WithMessage("create watcher").WithCause(err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, core.ErrStorage.WithMessage("watch " + dir).WithCause(err)
	}
	logger.Info("Inbox: watching %s", dir)
	return &Inbox{
		dir:     dir,
		settle:  settle,
		watcher: watcher,
		pending: make(map[string]time.Time),
		out:     make(chan string, 16),
	}, nil
}

// Paths delivers settled PNG paths. It is closed when Run returns.
func (in *Inbox) Paths() <-chan string {
	return in.out
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (in *Inbox) Run(ctx context.Context) error {
	defer close(in.out)
	defer in.watcher.Close()

	tick := in.settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-in.watcher.Events:
			if !ok {
				return nil
			}
			in.handleEvent(event)

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Inbox watcher error: %v", err)

		case now := <-ticker.C:
			if !in.flush(ctx, now) {
				return nil
			}
		}
	}
}

func (in *Inbox) handleEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".png") {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		in.pending[event.Name] = time.Now()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(in.pending, event.Name)
	}
}

// flush emits paths that have settled. It returns false if ctx ended while
// a send was blocked.
func (in *Inbox) flush(ctx context.Context, now time.Time) bool {
	for path, last := range in.pending {
		if now.Sub(last) < in.settle {
			continue
		}
		delete(in.pending, path)
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			continue
		}
		logger.Debug("Inbox: %s settled", path)
		select {
		case in.out <- path:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Info describes the inbox as a replay source.
func (in *Inbox) Info() core.DeviceInfo {
	return core.DeviceInfo{
		Platform:   PlatformReplay,
		DeviceName: filepath.Base(in.dir),
		DeviceID:   in.dir,
	}
}

// Screenshot reads the next settled file. It blocks until one arrives, and
// fails once Run has returned.
func (in *Inbox) Screenshot(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case path, ok := <-in.out:
		if !ok {
			return nil, core.ErrDeviceNotFound.WithMessage("inbox " + in.dir + " is closed")
		}
		data, err := os.ReadFile(path) //#nosec G304 -- settled file inside the inbox
		if err != nil {
			return nil, core.ErrCaptureFailed.WithMessage("read " + path).WithCause(err)
		}
		return data, nil
	}
}

// Tap is a no-op.
func (in *Inbox) Tap(context.Context, int, int) error { return nil }

// InputText is a no-op.
func (in *Inbox) InputText(context.Context, string) error { return nil }
