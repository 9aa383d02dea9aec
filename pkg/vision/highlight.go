package vision

import (
	"bytes"
	"image"
	_ "image/jpeg" // screenshots from external tools may be JPEG
	_ "image/png"

	"github.com/fogleman/gg"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// severityColors are RGB stroke colors per severity.
var severityColors = map[core.Severity][3]float64{
	core.SeverityLow:    {1.0, 0.84, 0.0},
	core.SeverityMedium: {1.0, 0.55, 0.0},
	core.SeverityHigh:   {0.9, 0.1, 0.1},
}

// Decode decodes PNG or JPEG bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.ErrDecodeFailed.WithCause(err)
	}
	return img, nil
}

// Highlight draws each region's rectangle and label over the screenshot and
// returns a PNG.
func Highlight(data []byte, regions []core.Region) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(3)
	for _, r := range regions {
		c := severityColors[r.Severity]
		dc.SetRGB(c[0], c[1], c[2])
		b := r.Bounds
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()
		if r.Label != "" {
			y := float64(b.Y) - 4
			if y < 12 {
				y = float64(b.Bottom()) + 14
			}
			dc.DrawString(r.Label, float64(b.X), y)
		}
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, core.ErrDecodeFailed.WithMessage("encode highlight").WithCause(err)
	}
	return buf.Bytes(), nil
}
