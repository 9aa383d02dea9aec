//go:build !gocv
// +build !gocv

package vision

import (
	"context"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
)

// OpenCVAvailable reports whether this binary was built with OpenCV.
const OpenCVAvailable = false

// unavailable is the Detector compiled without the gocv tag.
type unavailable struct {
	profile config.DetectorProfile
}

// New returns a Detector whose image operations fail with
// core.ErrDetectorUnavailable. Build with -tags gocv for the real one.
func New(profile config.DetectorProfile) Detector {
	return &unavailable{profile: profile}
}

var errNoOpenCV = core.ErrDetectorUnavailable.WithMessage("built without OpenCV; rebuild with -tags gocv")

func (d *unavailable) Analyze(context.Context, []byte) (*Analysis, error) {
	return nil, errNoOpenCV
}

func (d *unavailable) Diff(context.Context, []byte, []byte) (*DiffResult, error) {
	return nil, errNoOpenCV
}

func (d *unavailable) FindTemplate(context.Context, []byte, []byte, float64) (*Match, error) {
	return nil, errNoOpenCV
}

// Highlight does not need OpenCV.
func (d *unavailable) Highlight(data []byte, regions []core.Region) ([]byte, error) {
	return Highlight(data, regions)
}
