package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// ManifestFile is the per-screen version list.
const ManifestFile = "manifest.yaml"

var screenName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Baseline is one approved version of a screen.
type Baseline struct {
	Version  int       `yaml:"version" json:"version"`
	File     string    `yaml:"file" json:"file"`
	Approved time.Time `yaml:"approved" json:"approved"`
	Source   string    `yaml:"source,omitempty" json:"source,omitempty"`
}

// Manifest lists the versions of one screen, oldest first.
type Manifest struct {
	Screen   string     `yaml:"screen"`
	Versions []Baseline `yaml:"versions"`
}

// Baselines stores approved screenshots as <dir>/<screen>/v<N>.png with a
// manifest.yaml per screen.
type Baselines struct {
	dir string
	mu  sync.Mutex
}

// NewBaselines returns a store rooted at dir.
func NewBaselines(dir string) *Baselines {
	return &Baselines{dir: dir}
}

// Dir returns the root directory.
func (b *Baselines) Dir() string {
	return b.dir
}

// Approve stores png as the newest version of screen.
func (b *Baselines) Approve(screen string, png []byte, source string) (Baseline, error) {
	if err := checkScreen(screen); err != nil {
		return Baseline{}, err
	}
	if !core.IsPNG(png) {
		return Baseline{}, core.ErrDecodeFailed.Messagef("baseline for %s is not a PNG", screen)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.manifest(screen)
	if err != nil {
		return Baseline{}, err
	}
	next := 1
	if n := len(m.Versions); n > 0 {
		next = m.Versions[n-1].Version + 1
	}
	v := Baseline{
		Version:  next,
		File:     fmt.Sprintf("v%d.png", next),
		Approved: time.Now().UTC().Truncate(time.Second),
		Source:   source,
	}
	if err := core.WriteFileAtomic(filepath.Join(b.dir, screen, v.File), png, 0o644); err != nil {
		return Baseline{}, err
	}
	m.Versions = append(m.Versions, v)

	data, err := yaml.Marshal(m)
	if err != nil {
		return Baseline{}, core.ErrStorage.Messagef("encode %s manifest", screen).WithCause(err)
	}
	if err := core.WriteFileAtomic(filepath.Join(b.dir, screen, ManifestFile), data, 0o644); err != nil {
		return Baseline{}, err
	}
	return v, nil
}

// Latest returns the newest approved version of screen and its bytes, or
// core.ErrBaselineMissing.
func (b *Baselines) Latest(screen string) ([]byte, Baseline, error) {
	if err := checkScreen(screen); err != nil {
		return nil, Baseline{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.manifest(screen)
	if err != nil {
		return nil, Baseline{}, err
	}
	if len(m.Versions) == 0 {
		return nil, Baseline{}, core.ErrBaselineMissing.Messagef("no baseline for screen %q", screen)
	}
	v := m.Versions[len(m.Versions)-1]
	data, err := os.ReadFile(b.Path(screen, v))
	if err != nil {
		return nil, Baseline{}, core.ErrBaselineMissing.Messagef("read baseline %s/%s", screen, v.File).WithCause(err)
	}
	return data, v, nil
}

// Versions returns every approved version of screen, oldest first.
func (b *Baselines) Versions(screen string) ([]Baseline, error) {
	if err := checkScreen(screen); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.manifest(screen)
	if err != nil {
		return nil, err
	}
	return m.Versions, nil
}

// Screens lists the screens that have a manifest.
func (b *Baselines) Screens() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, core.ErrStorage.Messagef("list %s", b.dir).WithCause(err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(b.dir, e.Name(), ManifestFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Path returns the file of version v of screen.
func (b *Baselines) Path(screen string, v Baseline) string {
	return filepath.Join(b.dir, screen, v.File)
}

func (b *Baselines) manifest(screen string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, screen, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{Screen: screen}, nil
	}
	if err != nil {
		return nil, core.ErrStorage.Messagef("read %s manifest", screen).WithCause(err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, core.ErrStorage.Messagef("parse %s manifest", screen).WithCause(err)
	}
	if m.Screen == "" {
		m.Screen = screen
	}
	return &m, nil
}

func checkScreen(screen string) error {
	if !screenName.MatchString(screen) {
		return core.ErrInvalidConfig.Messagef("invalid screen name %q", screen)
	}
	return nil
}
