//go:build gocv
// +build gocv

package vision

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
)

// OpenCVAvailable reports whether this binary was built with OpenCV.
const OpenCVAvailable = true

// OpenCV is the gocv-backed Detector.
type OpenCV struct {
	profile config.DetectorProfile
}

// New returns a Detector using profile's thresholds.
func New(profile config.DetectorProfile) Detector {
	return &OpenCV{profile: profile}
}

// Analyze detects text regions, buttons and input fields and measures the
// screen.
func (d *OpenCV) Analyze(ctx context.Context, data []byte) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := decodeToMat(data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	p := d.profile

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(p.CannyLow), float32(p.CannyHigh))

	edgeRects := contourRects(edges)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorBGRToHSV)

	var maskRects []core.Bounds
	for _, c := range p.ButtonColors {
		mask := gocv.NewMat()
		lower := gocv.NewScalar(c.Lower[0], c.Lower[1], c.Lower[2], 0)
		upper := gocv.NewScalar(c.Upper[0], c.Upper[1], c.Upper[2], 0)
		gocv.InRangeWithScalar(hsv, lower, upper, &mask)
		maskRects = append(maskRects, contourRects(mask)...)
		mask.Close()
	}

	total := float64(mat.Cols() * mat.Rows())
	m := Metrics{
		Brightness:      gocv.Mean(gray).Val1,
		EdgeDensity:     float64(gocv.CountNonZero(edges)) / total,
		HorizontalLines: float64(openCount(edges, p.HorizontalKernel)),
		VerticalLines:   float64(openCount(edges, p.VerticalKernel)),
	}

	return BuildAnalysis(p, mat.Cols(), mat.Rows(), edgeRects, maskRects, m), nil
}

// Diff compares current against base: grayscale absdiff, blur, binary
// threshold, then external contours.
func (d *OpenCV) Diff(ctx context.Context, base, current []byte) (*DiffResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	baseMat, err := decodeToMat(base)
	if err != nil {
		return nil, err
	}
	defer func() { baseMat.Close() }()

	currentMat, err := decodeToMat(current)
	if err != nil {
		return nil, err
	}
	defer func() { currentMat.Close() }()

	// Compare at the smaller of the two sizes.
	targetW := minInt(baseMat.Cols(), currentMat.Cols())
	targetH := minInt(baseMat.Rows(), currentMat.Rows())
	baseMat = resizeTo(baseMat, targetW, targetH)
	currentMat = resizeTo(currentMat, targetW, targetH)

	baseGray := gocv.NewMat()
	defer baseGray.Close()
	gocv.CvtColor(baseMat, &baseGray, gocv.ColorBGRToGray)

	currentGray := gocv.NewMat()
	defer currentGray.Close()
	gocv.CvtColor(currentMat, &currentGray, gocv.ColorBGRToGray)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(baseGray, currentGray, &diff)

	p := d.profile
	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(diff, &blur, image.Pt(p.DiffBlur, p.DiffBlur), 0, 0, gocv.BorderDefault)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(blur, &thresh, float32(p.DiffThreshold), 255, gocv.ThresholdBinary)

	return BuildDiff(p, targetW, targetH, contourRects(thresh), gocv.CountNonZero(thresh)), nil
}

// FindTemplate locates tmpl in screen with normalized cross-correlation.
func (d *OpenCV) FindTemplate(ctx context.Context, screen, tmpl []byte, minScore float64) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	screenMat, err := decodeToMat(screen)
	if err != nil {
		return nil, err
	}
	defer screenMat.Close()

	tmplMat, err := decodeToMat(tmpl)
	if err != nil {
		return nil, err
	}
	defer tmplMat.Close()

	if tmplMat.Cols() > screenMat.Cols() || tmplMat.Rows() > screenMat.Rows() {
		return nil, core.ErrDecodeFailed.WithMessage("template is larger than the screenshot")
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(screenMat, tmplMat, &result, gocv.TmCcoeffNormed, mask)

	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	if float64(maxVal) < minScore {
		return nil, nil
	}
	return &Match{
		Bounds: core.Bounds{X: maxLoc.X, Y: maxLoc.Y, Width: tmplMat.Cols(), Height: tmplMat.Rows()},
		Score:  float64(maxVal),
	}, nil
}

// Highlight draws regions over the screenshot.
func (d *OpenCV) Highlight(data []byte, regions []core.Region) ([]byte, error) {
	return Highlight(data, regions)
}

// contourRects returns the bounding rectangles of a binary image's external
// contours.
func contourRects(bin gocv.Mat) []core.Bounds {
	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]core.Bounds, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		rects = append(rects, core.Bounds{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()})
	}
	return rects
}

// openCount morph-opens bin with a w×h rectangle and counts what survives.
func openCount(bin gocv.Mat, kernel [2]int) int {
	k := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernel[0], kernel[1]))
	defer k.Close()
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(bin, &opened, gocv.MorphOpen, k)
	return gocv.CountNonZero(opened)
}

func resizeTo(mat gocv.Mat, w, h int) gocv.Mat {
	if mat.Cols() == w && mat.Rows() == h {
		return mat
	}
	resized := gocv.NewMat()
	gocv.Resize(mat, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	mat.Close()
	return resized
}

// decodeToMat turns PNG or JPEG bytes into a BGR gocv.Mat.
func decodeToMat(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if !mat.Empty() {
		mat.Close()
	}
	return gocv.Mat{}, core.ErrDecodeFailed.WithCause(err)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
