package vision

import (
	"sort"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
)

// IsText reports whether b passes the text region band on a w×h screen.
func IsText(p config.DetectorProfile, b core.Bounds, w, h int) bool {
	bw, bh := float64(b.Width), float64(b.Height)
	return bw > p.TextMinWidth && bw < p.TextMaxWidthF*float64(w) &&
		bh > p.TextMinHeight && bh < p.TextMaxHeightF*float64(h) &&
		float64(b.Area()) > p.TextMinArea &&
		p.TextAspect.Within(b.Aspect())
}

// IsButton reports whether a color-mask contour is button sized.
func IsButton(p config.DetectorProfile, b core.Bounds) bool {
	return p.ButtonWidth.Within(float64(b.Width)) &&
		p.ButtonHeight.Within(float64(b.Height)) &&
		float64(b.Area()) > p.ButtonMinArea
}

// IsInput reports whether an edge contour is input-field shaped.
func IsInput(p config.DetectorProfile, b core.Bounds) bool {
	return p.InputWidth.Within(float64(b.Width)) &&
		p.InputHeight.Within(float64(b.Height)) &&
		float64(b.Area()) > p.InputMinArea &&
		p.InputAspect.Within(b.Aspect())
}

// Variance returns the population variance of xs, or 0 for fewer than two.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// BuildAnalysis turns raw contour rectangles and metrics into an Analysis.
// edgeRects come from the Canny contours and maskRects from the button
// color masks. m.AlignmentVariance is computed here.
func BuildAnalysis(p config.DetectorProfile, w, h int, edgeRects, maskRects []core.Bounds, m Metrics) *Analysis {
	a := &Analysis{Width: w, Height: h, Profile: p.Source}

	var areas []float64
	for _, r := range edgeRects {
		if IsText(p, r, w, h) {
			a.Texts = append(a.Texts, Element{Kind: KindText, Bounds: r})
		}
		if IsInput(p, r) {
			a.Inputs = append(a.Inputs, Element{Kind: KindInput, Bounds: r})
		}
		if p.AlignmentArea.Within(float64(r.Area())) {
			areas = append(areas, float64(r.Area()))
		}
	}
	for _, r := range maskRects {
		if IsButton(p, r) {
			a.Buttons = append(a.Buttons, Element{Kind: KindButton, Bounds: r})
		}
	}
	sortElements(a.Texts)
	sortElements(a.Buttons)
	sortElements(a.Inputs)

	m.AlignmentVariance = Variance(areas)
	m.AlignmentSamples = len(areas)
	a.Metrics = m
	a.Screen, a.Confidence = Classify(p, m)
	return a
}

// sortElements orders top to bottom, then left to right, so output does not
// depend on contour traversal order.
func sortElements(els []Element) {
	sort.Slice(els, func(i, j int) bool {
		a, b := els[i].Bounds, els[j].Bounds
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}

// BuildDiff filters changed-region rectangles and computes the changed
// pixel ratio.
func BuildDiff(p config.DetectorProfile, w, h int, rects []core.Bounds, changed int) *DiffResult {
	d := &DiffResult{Width: w, Height: h, ChangedPixels: changed, Regions: []core.Bounds{}}
	if total := w * h; total > 0 {
		d.ChangedRatio = float64(changed) / float64(total)
	}
	for _, r := range rects {
		if float64(r.Area()) >= p.DiffMinArea {
			d.Regions = append(d.Regions, r)
		}
	}
	sort.Slice(d.Regions, func(i, j int) bool {
		if d.Regions[i].Y != d.Regions[j].Y {
			return d.Regions[i].Y < d.Regions[j].Y
		}
		return d.Regions[i].X < d.Regions[j].X
	})
	return d
}
