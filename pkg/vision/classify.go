package vision

import "github.com/devicelab-dev/simlens/pkg/config"

// Classify guesses the screen type from line pixel counts. The checks run
// in order: many horizontal lines means a form (login), a grid of both
// means home, a few horizontal lines means a profile list.
//
// Confidence grows with how far the deciding count clears its threshold:
// 0.4 up to 1.5x, 0.6 up to 2x, 0.8 beyond.
func Classify(p config.DetectorProfile, m Metrics) (ScreenType, float64) {
	h, v := m.HorizontalLines, m.VerticalLines
	switch {
	case h > p.LoginMinHorizontal:
		return ScreenLogin, confidence(h, p.LoginMinHorizontal)
	case v > p.HomeMinLines && h > p.HomeMinLines:
		return ScreenHome, confidence(minFloat(h, v), p.HomeMinLines)
	case h > p.ProfileMinHorizontal && h < p.LoginMinHorizontal:
		return ScreenProfile, confidence(h, p.ProfileMinHorizontal)
	default:
		return ScreenUnknown, 0
	}
}

func confidence(value, threshold float64) float64 {
	if threshold <= 0 {
		return 0.8
	}
	switch ratio := value / threshold; {
	case ratio > 2:
		return 0.8
	case ratio > 1.5:
		return 0.6
	default:
		return 0.4
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
