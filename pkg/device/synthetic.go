package device

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/fogleman/gg"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// Synthetic screen names.
const (
	ScreenLogin    = "login"
	ScreenHome     = "home"
	ScreenProfile  = "profile"
	ScreenDark     = "dark"
	ScreenOverflow = "overflow"
)

// Default synthetic canvas, iPhone 15 logical points.
const (
	SyntheticWidth  = 390
	SyntheticHeight = 844
)

var renderers = map[string]func(dc *gg.Context){
	ScreenLogin:    drawLogin,
	ScreenHome:     drawHome,
	ScreenProfile:  drawProfile,
	ScreenDark:     drawDark,
	ScreenOverflow: drawOverflow,
}

// Synthetic renders deterministic mock screens. Each Screenshot returns the
// next screen in the cycle.
type Synthetic struct {
	mu      sync.Mutex
	screens []string
	next    int
	width   int
	height  int

	Taps  [][2]int
	Typed []string
}

// NewSynthetic cycles through screens, or login, home and profile when none
// are given.
func NewSynthetic(screens ...string) *Synthetic {
	if len(screens) == 0 {
		screens = []string{ScreenLogin, ScreenHome, ScreenProfile}
	}
	return &Synthetic{screens: screens, width: SyntheticWidth, height: SyntheticHeight}
}

// Info describes the synthetic device.
func (s *Synthetic) Info() core.DeviceInfo {
	return core.DeviceInfo{
		Platform:     PlatformSynthetic,
		DeviceName:   "Synthetic",
		DeviceID:     "synthetic",
		IsSimulator:  true,
		ScreenWidth:  s.width,
		ScreenHeight: s.height,
	}
}

// Current returns the name of the screen the next Screenshot renders.
func (s *Synthetic) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screens[s.next]
}

// Screenshot renders the current screen and advances the cycle.
func (s *Synthetic) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	name := s.screens[s.next]
	s.next = (s.next + 1) % len(s.screens)
	s.mu.Unlock()
	return RenderScreen(name, s.width, s.height)
}

// Tap records the tap.
func (s *Synthetic) Tap(_ context.Context, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Taps = append(s.Taps, [2]int{x, y})
	return nil
}

// InputText records the text.
func (s *Synthetic) InputText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Typed = append(s.Typed, text)
	return nil
}

// RenderScreen draws the named mock screen as a w×h PNG.
func RenderScreen(name string, w, h int) ([]byte, error) {
	draw, ok := renderers[name]
	if !ok {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown synthetic screen %q", name))
	}
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	draw(dc)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, core.ErrCaptureFailed.WithMessage("encode synthetic screen").WithCause(err)
	}
	return buf.Bytes(), nil
}

func drawTitle(dc *gg.Context, title string) {
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawStringAnchored(title, float64(dc.Width())/2, 80, 0.5, 0.5)
}

// inputField is 300×44: inside the detector's input band.
func inputField(dc *gg.Context, y float64, placeholder string) {
	x := (float64(dc.Width()) - 300) / 2
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.SetLineWidth(2)
	dc.DrawRoundedRectangle(x, y, 300, 44, 6)
	dc.Stroke()
	dc.SetRGB(0.55, 0.55, 0.55)
	dc.DrawString(placeholder, x+12, y+27)
}

// button is w×50, filled with an HSV hue the button masks pick up.
func button(dc *gg.Context, x, y, w float64, r, g, b float64, label string) {
	dc.SetRGB(r, g, b)
	dc.DrawRoundedRectangle(x, y, w, 50, 10)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(label, x+w/2, y+25, 0.5, 0.5)
}

func hline(dc *gg.Context, y float64) {
	dc.SetRGB(0.8, 0.8, 0.8)
	dc.SetLineWidth(1)
	dc.DrawLine(24, y, float64(dc.Width())-24, y)
	dc.Stroke()
}

func drawLogin(dc *gg.Context) {
	drawTitle(dc, "Welcome back")
	hline(dc, 130)
	inputField(dc, 200, "Email")
	inputField(dc, 270, "Password")
	x := (float64(dc.Width()) - 240) / 2
	button(dc, x, 360, 240, 0.0, 0.48, 1.0, "Sign in")
	hline(dc, 450)
	dc.SetRGB(0.3, 0.3, 0.3)
	dc.DrawStringAnchored("Forgot password?", float64(dc.Width())/2, 480, 0.5, 0.5)
}

func drawHome(dc *gg.Context) {
	drawTitle(dc, "Home")
	hline(dc, 120)
	w := float64(dc.Width())
	cardW := (w - 24*3) / 2
	for row := 0; row < 3; row++ {
		for col := 0; col < 2; col++ {
			x := 24 + float64(col)*(cardW+24)
			y := 150 + float64(row)*170
			dc.SetRGB(0.75, 0.75, 0.75)
			dc.SetLineWidth(2)
			dc.DrawRectangle(x, y, cardW, 140)
			dc.Stroke()
			dc.SetRGB(0.2, 0.2, 0.2)
			dc.DrawString(fmt.Sprintf("Item %d", row*2+col+1), x+12, y+24)
		}
	}
	// tab bar with vertical dividers
	h := float64(dc.Height())
	hline(dc, h-90)
	for i := 1; i < 4; i++ {
		x := w * float64(i) / 4
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.DrawLine(x, h-90, x, h-20)
		dc.Stroke()
	}
}

func drawProfile(dc *gg.Context) {
	drawTitle(dc, "Profile")
	w := float64(dc.Width())
	dc.SetRGB(0.85, 0.85, 0.9)
	dc.DrawCircle(w/2, 180, 56)
	dc.Fill()
	for i, label := range []string{"Name", "Email", "Phone", "Settings"} {
		y := 280 + float64(i)*60
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawString(label, 32, y)
		hline(dc, y+20)
	}
	button(dc, 40, 560, 140, 0.6, 0.2, 0.9, "Edit")
	button(dc, w-180, 560, 140, 0.6, 0.2, 0.9, "Log out")
}

func drawDark(dc *gg.Context) {
	dc.SetRGB(0.05, 0.05, 0.07)
	dc.Clear()
	dc.SetRGB(0.12, 0.12, 0.14)
	dc.DrawStringAnchored("Loading", float64(dc.Width())/2, float64(dc.Height())/2, 0.5, 0.5)
}

func drawOverflow(dc *gg.Context) {
	drawLogin(dc)
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawString("This promotional caption is far too long for the screen it is on", float64(dc.Width())-120, 560)
}
