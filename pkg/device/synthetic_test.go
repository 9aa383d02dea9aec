package device

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/simlens/pkg/core"
)

func TestRenderScreen(t *testing.T) {
	for name := range renderers {
		t.Run(name, func(t *testing.T) {
			data, err := RenderScreen(name, SyntheticWidth, SyntheticHeight)
			require.NoError(t, err)

			img, err := png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			require.Equal(t, SyntheticWidth, img.Bounds().Dx())
			require.Equal(t, SyntheticHeight, img.Bounds().Dy())
		})
	}
}

func TestRenderScreen_Deterministic(t *testing.T) {
	a, err := RenderScreen(ScreenLogin, 200, 400)
	require.NoError(t, err)
	b, err := RenderScreen(ScreenLogin, 200, 400)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRenderScreen_Unknown(t *testing.T) {
	_, err := RenderScreen("settings", 100, 100)
	require.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRenderScreen_DarkIsDark(t *testing.T) {
	data, err := RenderScreen(ScreenDark, 100, 100)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r, g, b, _ := img.At(5, 5).RGBA()
	require.Less(t, (r+g+b)/3>>8, uint32(40))
}

func TestSynthetic_Cycles(t *testing.T) {
	s := NewSynthetic(ScreenLogin, ScreenDark)
	ctx := context.Background()

	require.Equal(t, ScreenLogin, s.Current())
	_, err := s.Screenshot(ctx)
	require.NoError(t, err)
	require.Equal(t, ScreenDark, s.Current())
	_, err = s.Screenshot(ctx)
	require.NoError(t, err)
	require.Equal(t, ScreenLogin, s.Current())
}

func TestSynthetic_RecordsInput(t *testing.T) {
	s := NewSynthetic()
	ctx := context.Background()
	require.NoError(t, s.Tap(ctx, 10, 20))
	require.NoError(t, s.InputText(ctx, "user@example.com"))

	require.Equal(t, [][2]int{{10, 20}}, s.Taps)
	require.Equal(t, []string{"user@example.com"}, s.Typed)
	require.Equal(t, PlatformSynthetic, s.Info().Platform)
}

func TestSynthetic_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSynthetic().Screenshot(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
