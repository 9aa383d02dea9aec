package device

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// Replay serves recorded screenshots from a directory in name order,
// wrapping around at the end.
type Replay struct {
	dir string

	mu    sync.Mutex
	files []string
	next  int
}

// NewReplay lists the PNG files in dir.
func NewReplay(dir string) (*Replay, error) {
	if dir == "" {
		return nil, core.ErrMissingRequired.WithMessage("replay needs a screenshot directory (--device)")
	}
	files, err := ListPNGs(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, core.ErrDeviceNotFound.WithMessage("no PNG files in " + dir)
	}
	return &Replay{dir: dir, files: files}, nil
}

// NewReplayFiles serves the given files in order.
func NewReplayFiles(files ...string) (*Replay, error) {
	if len(files) == 0 {
		return nil, core.ErrMissingRequired.WithMessage("no screenshot files given")
	}
	return &Replay{dir: filepath.Dir(files[0]), files: files}, nil
}

// ListPNGs returns the .png files directly inside dir, sorted by name.
func ListPNGs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.ErrDeviceNotFound.WithMessage("cannot read " + dir).WithCause(err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Info describes the replay source.
func (r *Replay) Info() core.DeviceInfo {
	return core.DeviceInfo{
		Platform:   PlatformReplay,
		DeviceName: filepath.Base(r.dir),
		DeviceID:   r.dir,
	}
}

// Current returns the file the next Screenshot returns.
func (r *Replay) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[r.next]
}

// Screenshot reads the next recorded file.
func (r *Replay) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	path := r.files[r.next]
	r.next = (r.next + 1) % len(r.files)
	r.mu.Unlock()

	data, err := os.ReadFile(path) //#nosec G304 -- files listed from the replay directory
	if err != nil {
		return nil, core.ErrCaptureFailed.WithMessage("read " + path).WithCause(err)
	}
	if len(data) == 0 {
		return nil, core.ErrEmptyCapture.WithMessage(path + " is empty")
	}
	return data, nil
}

// Tap is a no-op; recorded screens cannot be driven.
func (r *Replay) Tap(context.Context, int, int) error { return nil }

// InputText is a no-op.
func (r *Replay) InputText(context.Context, string) error { return nil }
