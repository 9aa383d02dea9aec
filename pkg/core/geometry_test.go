package core

import "testing"

func TestBounds_Center(t *testing.T) {
	tests := []struct {
		bounds    Bounds
		expectedX int
		expectedY int
	}{
		{Bounds{X: 0, Y: 0, Width: 100, Height: 100}, 50, 50},
		{Bounds{X: 10, Y: 20, Width: 100, Height: 200}, 60, 120},
		{Bounds{X: 0, Y: 0, Width: 0, Height: 0}, 0, 0},
	}

	for _, tt := range tests {
		x, y := tt.bounds.Center()
		if x != tt.expectedX || y != tt.expectedY {
			t.Errorf("Bounds%+v.Center() = (%d, %d), want (%d, %d)",
				tt.bounds, x, y, tt.expectedX, tt.expectedY)
		}
	}
}

func TestBounds_Contains(t *testing.T) {
	bounds := Bounds{X: 10, Y: 10, Width: 100, Height: 100}

	tests := []struct {
		x, y     int
		expected bool
	}{
		{50, 50, true},
		{10, 10, true},
		{109, 109, true},
		{110, 110, false}, // exclusive edge
		{0, 0, false},
	}

	for _, tt := range tests {
		if got := bounds.Contains(tt.x, tt.y); got != tt.expected {
			t.Errorf("Contains(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.expected)
		}
	}
}

func TestBounds_AreaAspect(t *testing.T) {
	b := Bounds{Width: 200, Height: 50}
	if b.Area() != 10000 {
		t.Errorf("Area() = %d, want 10000", b.Area())
	}
	if b.Aspect() != 4 {
		t.Errorf("Aspect() = %v, want 4", b.Aspect())
	}
	if (Bounds{Width: 10}).Aspect() != 0 {
		t.Error("Aspect() of zero-height bounds should be 0")
	}
}

func TestBounds_HorizontalGap(t *testing.T) {
	a := Bounds{X: 0, Y: 0, Width: 100, Height: 40}
	tests := []struct {
		name string
		b    Bounds
		want int
	}{
		{"right", Bounds{X: 105, Width: 50, Height: 40}, 5},
		{"left", Bounds{X: -60, Width: 50, Height: 40}, 10},
		{"touching", Bounds{X: 100, Width: 50, Height: 40}, 0},
		{"overlap", Bounds{X: 50, Width: 100, Height: 40}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.HorizontalGap(tt.b); got != tt.want {
				t.Errorf("HorizontalGap() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBounds_IntersectsUnion(t *testing.T) {
	a := Bounds{X: 0, Y: 0, Width: 10, Height: 10}
	b := Bounds{X: 5, Y: 5, Width: 10, Height: 10}
	c := Bounds{X: 10, Y: 0, Width: 5, Height: 5}

	if !a.Intersects(b) {
		t.Error("a and b should intersect")
	}
	if a.Intersects(c) {
		t.Error("a and c share only an edge")
	}
	if got := a.Union(b); got != (Bounds{X: 0, Y: 0, Width: 15, Height: 15}) {
		t.Errorf("Union() = %+v", got)
	}
}

func TestIsPNG(t *testing.T) {
	if !IsPNG([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0}) {
		t.Error("IsPNG() = false for PNG signature")
	}
	if IsPNG([]byte("GIF89a")) {
		t.Error("IsPNG() = true for GIF")
	}
}
