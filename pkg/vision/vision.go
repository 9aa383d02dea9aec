// Package vision runs the heuristic UI detector over screenshots: edge and
// color-mask contours filtered by the calibrated size bands of a
// config.DetectorProfile, a handful of whole-screen metrics, and a baseline
// pixel diff.
//
// The OpenCV implementation is compiled with the gocv build tag. Without it
// New returns a detector whose image operations fail with
// core.ErrDetectorUnavailable; classification, filtering and highlighting
// are pure Go and always available.
package vision

import (
	"context"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// ElementKind names what a detected rectangle is guessed to be.
type ElementKind string

const (
	KindText   ElementKind = "text"
	KindButton ElementKind = "button"
	KindInput  ElementKind = "input"
)

// Element is one detected rectangle.
type Element struct {
	Kind   ElementKind `json:"kind"`
	Bounds core.Bounds `json:"bounds"`
}

// ScreenType is the coarse screen classification.
type ScreenType string

const (
	ScreenLogin   ScreenType = "login"
	ScreenHome    ScreenType = "home"
	ScreenProfile ScreenType = "profile"
	ScreenUnknown ScreenType = "unknown"
)

// Metrics are whole-screen measurements.
type Metrics struct {
	Brightness        float64 `json:"brightness"`        // Mean gray level, 0-255
	EdgeDensity       float64 `json:"edgeDensity"`       // Edge pixels / all pixels
	HorizontalLines   float64 `json:"horizontalLines"`   // Edge pixels surviving a horizontal open
	VerticalLines     float64 `json:"verticalLines"`     // Edge pixels surviving a vertical open
	AlignmentVariance float64 `json:"alignmentVariance"` // Variance of button-sized contour areas
	AlignmentSamples  int     `json:"alignmentSamples"`
}

// Analysis is the detector's view of one screenshot.
type Analysis struct {
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Texts      []Element   `json:"texts"`
	Buttons    []Element   `json:"buttons"`
	Inputs     []Element   `json:"inputs"`
	Metrics    Metrics     `json:"metrics"`
	Screen     ScreenType  `json:"screen"`
	Confidence float64     `json:"confidence"`
	Profile    string      `json:"profile"`        // Where the detector thresholds came from
	Diff       *DiffResult `json:"diff,omitempty"` // Set when a baseline was compared
}

// Elements returns texts, buttons and inputs in one slice.
func (a *Analysis) Elements() []Element {
	out := make([]Element, 0, len(a.Texts)+len(a.Buttons)+len(a.Inputs))
	out = append(out, a.Texts...)
	out = append(out, a.Buttons...)
	return append(out, a.Inputs...)
}

// DiffResult describes how a screenshot differs from its baseline.
type DiffResult struct {
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Regions       []core.Bounds `json:"regions"`
	ChangedPixels int           `json:"changedPixels"`
	ChangedRatio  float64       `json:"changedRatio"`
	Baseline      string        `json:"baseline,omitempty"` // Baseline file compared against
}

// Match is a template match location.
type Match struct {
	Bounds core.Bounds `json:"bounds"`
	Score  float64     `json:"score"`
}

// Detector analyzes PNG screenshots.
type Detector interface {
	Analyze(ctx context.Context, png []byte) (*Analysis, error)
	Diff(ctx context.Context, base, current []byte) (*DiffResult, error)
	// FindTemplate returns the best match of tmpl in screen, or nil when
	// no location scores at least minScore.
	FindTemplate(ctx context.Context, screen, tmpl []byte, minScore float64) (*Match, error)
	Highlight(png []byte, regions []core.Region) ([]byte, error)
}
