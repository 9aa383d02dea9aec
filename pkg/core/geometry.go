package core

// Bounds is an axis-aligned rectangle in screenshot pixel coordinates.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Area returns width times height.
func (b Bounds) Area() int {
	return b.Width * b.Height
}

// Aspect returns width/height, or 0 for a degenerate rectangle.
func (b Bounds) Aspect() float64 {
	if b.Height == 0 {
		return 0
	}
	return float64(b.Width) / float64(b.Height)
}

// Right is the exclusive right edge.
func (b Bounds) Right() int { return b.X + b.Width }

// Bottom is the exclusive bottom edge.
func (b Bounds) Bottom() int { return b.Y + b.Height }

// Intersects reports whether the two rectangles overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.X < o.Right() && o.X < b.Right() && b.Y < o.Bottom() && o.Y < b.Bottom()
}

// HorizontalGap returns the horizontal distance between b and o, or 0 when
// they overlap horizontally.
func (b Bounds) HorizontalGap(o Bounds) int {
	switch {
	case o.X >= b.Right():
		return o.X - b.Right()
	case b.X >= o.Right():
		return b.X - o.Right()
	default:
		return 0
	}
}

// Union returns the smallest rectangle containing both.
func (b Bounds) Union(o Bounds) Bounds {
	x0, y0 := minInt(b.X, o.X), minInt(b.Y, o.Y)
	x1, y1 := maxInt(b.Right(), o.Right()), maxInt(b.Bottom(), o.Bottom())
	return Bounds{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DeviceInfo contains device and platform details
type DeviceInfo struct {
	Platform     string `json:"platform"`               // ios, android, synthetic, replay
	OSVersion    string `json:"osVersion,omitempty"`    // e.g., "17.0", "14"
	DeviceName   string `json:"deviceName"`             // e.g., "iPhone 15 Pro", "Pixel 8"
	DeviceID     string `json:"deviceId"`               // Unique device identifier
	IsSimulator  bool   `json:"isSimulator"`            // Simulator/emulator vs real device
	ScreenWidth  int    `json:"screenWidth,omitempty"`  // Screen width in pixels
	ScreenHeight int    `json:"screenHeight,omitempty"` // Screen height in pixels
	AppID        string `json:"appId,omitempty"`        // Bundle ID / Package name
}

// Region is a labelled rectangle, drawn onto highlighted screenshots.
type Region struct {
	Label    string   `json:"label"`
	Bounds   Bounds   `json:"bounds"`
	Severity Severity `json:"severity"`
}
