package annotate

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidRegion is matched by every InvalidRegionError
var ErrInvalidRegion = errors.New("invalid region")

// Region is one model-flagged area of interest. Bounds holds
// [x1, y1, x2, y2] in normalized canvas pixels.
type Region struct {
	Bounds      []float64 `json:"bounds"`
	Description string    `json:"description"`
}

// InvalidRegionError describes why a region was rejected
type InvalidRegionError struct {
	Index  int
	Bounds []float64
	Reason string
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("region %d %v: %s", e.Index, e.Bounds, e.Reason)
}

func (e *InvalidRegionError) Is(target error) bool { return target == ErrInvalidRegion }

// Validate checks the bounds shape and ordering. The returned error has
// Index -1; the renderer fills in the position.
func (r Region) Validate() error {
	invalid := func(reason string) error {
		return &InvalidRegionError{Index: -1, Bounds: r.Bounds, Reason: reason}
	}
	if len(r.Bounds) != 4 {
		return invalid(fmt.Sprintf("expected 4 coordinates, got %d", len(r.Bounds)))
	}
	for _, v := range r.Bounds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("non-finite coordinate")
		}
	}
	x1, y1, x2, y2 := r.Bounds[0], r.Bounds[1], r.Bounds[2], r.Bounds[3]
	if x1 > x2 {
		return invalid(fmt.Sprintf("x1 %.1f > x2 %.1f", x1, x2))
	}
	if y1 > y2 {
		return invalid(fmt.Sprintf("y1 %.1f > y2 %.1f", y1, y2))
	}
	return nil
}

// Corners returns the rounded top-left and bottom-right pixel of the region.
// Only meaningful for a valid region.
func (r Region) Corners() (image.Point, image.Point) {
	round := func(v float64) int { return int(math.Round(v)) }
	return image.Pt(round(r.Bounds[0]), round(r.Bounds[1])),
		image.Pt(round(r.Bounds[2]), round(r.Bounds[3]))
}

// Rect returns the pixel rectangle covered by the outline, with an
// exclusive Max as usual for image.Rectangle.
func (r Region) Rect() image.Rectangle {
	tl, br := r.Corners()
	return image.Rectangle{Min: tl, Max: br.Add(image.Pt(1, 1))}
}
