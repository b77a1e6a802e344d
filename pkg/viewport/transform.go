// Package viewport holds the pan/zoom state of the viewer as a small state
// machine, independent of what is being displayed.
package viewport

import (
	"math"

	"golang.org/x/image/math/f64"
)

const (
	MinScale = 0.5
	MaxScale = 3.0
	ZoomStep = 0.1
)

// Point is a position or offset in screen pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Transform is the zoom and pan applied when displaying a bitmap. Scale is
// applied about the bitmap origin, then Translation in screen space.
type Transform struct {
	Scale       float64 `json:"scale"`
	Translation Point   `json:"translation"`
}

// Reset is the transform every newly selected variant is shown with
var Reset = Transform{Scale: 1.0}

// ScreenToImage maps a screen point to bitmap coordinates
func (t Transform) ScreenToImage(p Point) Point {
	return Point{
		X: (p.X - t.Translation.X) / t.Scale,
		Y: (p.Y - t.Translation.Y) / t.Scale,
	}
}

// ImageToScreen maps a bitmap point to screen coordinates
func (t Transform) ImageToScreen(p Point) Point {
	return Point{
		X: p.X*t.Scale + t.Translation.X,
		Y: p.Y*t.Scale + t.Translation.Y,
	}
}

// Affine returns the bitmap-to-screen matrix used for rendering. It is the
// same mapping as ImageToScreen.
func (t Transform) Affine() f64.Aff3 {
	return f64.Aff3{
		t.Scale, 0, t.Translation.X,
		0, t.Scale, t.Translation.Y,
	}
}

// Zoom returns t with its scale moved by delta, clamped to
// [MinScale, MaxScale] and rounded to one decimal so repeated steps don't
// accumulate float error.
func Zoom(t Transform, delta float64) Transform {
	t.Scale = ClampScale(math.Round((t.Scale+delta)*10) / 10)
	return t
}

// ClampScale limits s to [MinScale, MaxScale]
func ClampScale(s float64) float64 {
	if math.IsNaN(s) {
		return Reset.Scale
	}
	return math.Min(MaxScale, math.Max(MinScale, s))
}

// Drag computes the translation for a pointer at p during a drag that
// started at anchor. Only the anchor and the current point matter.
func Drag(anchor DragSession, p Point) Point {
	return anchor.AnchorTranslation.Add(p.Sub(anchor.AnchorScreenPoint))
}
