package config

import "fmt"

// Range is an open numeric band.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Within reports Min < v < Max.
func (r Range) Within(v float64) bool {
	return v > r.Min && v < r.Max
}

// HSVRange is a lower and upper HSV bound for a color mask.
type HSVRange struct {
	Lower [3]float64 `yaml:"lower" json:"lower"`
	Upper [3]float64 `yaml:"upper" json:"upper"`
}

// DetectorProfile is the one calibrated set of image heuristics. Every
// number the detector uses lives here.
type DetectorProfile struct {
	CannyLow  float64 `yaml:"cannyLow" json:"cannyLow"`
	CannyHigh float64 `yaml:"cannyHigh" json:"cannyHigh"`

	// Text regions. Width and height maxima are fractions of the screen.
	TextMinWidth   float64 `yaml:"textMinWidth" json:"textMinWidth"`
	TextMinHeight  float64 `yaml:"textMinHeight" json:"textMinHeight"`
	TextMinArea    float64 `yaml:"textMinArea" json:"textMinArea"`
	TextAspect     Range   `yaml:"textAspect" json:"textAspect"`
	TextMaxWidthF  float64 `yaml:"textMaxWidthFraction" json:"textMaxWidthFraction"`
	TextMaxHeightF float64 `yaml:"textMaxHeightFraction" json:"textMaxHeightFraction"`

	// Buttons, found by color mask
	ButtonColors  []HSVRange `yaml:"buttonColors" json:"buttonColors"`
	ButtonWidth   Range      `yaml:"buttonWidth" json:"buttonWidth"`
	ButtonHeight  Range      `yaml:"buttonHeight" json:"buttonHeight"`
	ButtonMinArea float64    `yaml:"buttonMinArea" json:"buttonMinArea"`

	// Input fields, found by edge contours
	InputWidth   Range   `yaml:"inputWidth" json:"inputWidth"`
	InputHeight  Range   `yaml:"inputHeight" json:"inputHeight"`
	InputMinArea float64 `yaml:"inputMinArea" json:"inputMinArea"`
	InputAspect  Range   `yaml:"inputAspect" json:"inputAspect"`

	// Structural line detection, morphological open kernels
	HorizontalKernel [2]int `yaml:"horizontalKernel" json:"horizontalKernel"`
	VerticalKernel   [2]int `yaml:"verticalKernel" json:"verticalKernel"`

	// Contours whose area falls in this band count toward alignment variance
	AlignmentArea Range `yaml:"alignmentArea" json:"alignmentArea"`

	// Screen classification on line pixel counts
	LoginMinHorizontal   float64 `yaml:"loginMinHorizontal" json:"loginMinHorizontal"`
	HomeMinLines         float64 `yaml:"homeMinLines" json:"homeMinLines"`
	ProfileMinHorizontal float64 `yaml:"profileMinHorizontal" json:"profileMinHorizontal"`

	// Baseline diff
	DiffBlur      int     `yaml:"diffBlur" json:"diffBlur"`
	DiffThreshold float64 `yaml:"diffThreshold" json:"diffThreshold"`
	DiffMinArea   float64 `yaml:"diffMinArea" json:"diffMinArea"`

	// Watch skips a frame unless more pixels than this changed since the
	// last analyzed one. 0 analyzes every frame.
	ChangeMinPixels int `yaml:"changeMinPixels" json:"changeMinPixels"`

	Source string `yaml:"-" json:"source"`
}

// DefaultDetectorProfile returns thresholds calibrated against iPhone
// simulator screenshots of a Flutter login flow.
func DefaultDetectorProfile() DetectorProfile {
	return DetectorProfile{
		CannyLow:       50,
		CannyHigh:      150,
		TextMinWidth:   20,
		TextMinHeight:  10,
		TextMinArea:    200,
		TextAspect:     Range{Min: 1, Max: 20},
		TextMaxWidthF:  0.8,
		TextMaxHeightF: 0.1,
		ButtonColors: []HSVRange{
			{Lower: [3]float64{100, 50, 50}, Upper: [3]float64{130, 255, 255}}, // blue
			{Lower: [3]float64{140, 50, 50}, Upper: [3]float64{180, 255, 255}}, // purple
		},
		ButtonWidth:          Range{Min: 50, Max: 300},
		ButtonHeight:         Range{Min: 30, Max: 80},
		ButtonMinArea:        1500,
		InputWidth:           Range{Min: 100, Max: 400},
		InputHeight:          Range{Min: 30, Max: 60},
		InputMinArea:         3000,
		InputAspect:          Range{Min: 2, Max: 8},
		HorizontalKernel:     [2]int{25, 1},
		VerticalKernel:       [2]int{1, 25},
		AlignmentArea:        Range{Min: 1000, Max: 10000},
		LoginMinHorizontal:   50,
		HomeMinLines:         30,
		ProfileMinHorizontal: 20,
		DiffBlur:             5,
		DiffThreshold:        25,
		DiffMinArea:          50,
		ChangeMinPixels:      1000,
		Source:               SourceDefault,
	}
}

func (p DetectorProfile) validate() []string {
	var problems []string
	if p.CannyLow <= 0 || p.CannyHigh <= p.CannyLow {
		problems = append(problems, fmt.Sprintf("detector canny thresholds %v/%v must satisfy 0 < low < high", p.CannyLow, p.CannyHigh))
	}
	if p.DiffBlur%2 == 0 || p.DiffBlur < 1 {
		problems = append(problems, fmt.Sprintf("detector.diffBlur %d must be a positive odd number", p.DiffBlur))
	}
	for _, k := range [][2]int{p.HorizontalKernel, p.VerticalKernel} {
		if k[0] < 1 || k[1] < 1 {
			problems = append(problems, "detector line kernels must be at least 1x1")
		}
	}
	if p.ChangeMinPixels < 0 {
		problems = append(problems, fmt.Sprintf("detector.changeMinPixels %d must not be negative", p.ChangeMinPixels))
	}
	if len(p.ButtonColors) == 0 {
		problems = append(problems, "detector.buttonColors must not be empty")
	}
	return problems
}
