package viewer

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/viewport"
)

// Background fills the frame around the scan
var Background = color.NRGBA{0x71, 0x80, 0x96, 0xff}

// Placement is where the untransformed bitmap's origin sits in a w x h
// frame: the canvas is centered.
func Placement(w, h int) viewport.Point {
	return viewport.Point{
		X: float64((w - canvas.Size) / 2),
		Y: float64((h - canvas.Size) / 2),
	}
}

// frameAffine maps bitmap pixels into frame pixels: scale about the bitmap
// origin, then translate, then offset by the placement.
func frameAffine(t viewport.Transform, w, h int) f64.Aff3 {
	m := t.Affine()
	origin := Placement(w, h)
	m[2] += origin.X
	m[5] += origin.Y
	return m
}

// FrameToImage maps a frame pixel to bitmap coordinates under the current
// transform. It uses the same mapping Frame renders with.
func (s *Session) FrameToImage(p viewport.Point, w, h int) viewport.Point {
	return s.viewport.Transform().ScreenToImage(p.Sub(Placement(w, h)))
}

// Frame renders the selected variant into a w x h frame under the current
// transform. With nothing selected the frame is background only.
func (s *Session) Frame(w, h int) *image.NRGBA {
	if w <= 0 {
		w = canvas.Size
	}
	if h <= 0 {
		h = canvas.Size
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{Background}, image.Point{}, draw.Src)

	s.mu.Lock()
	v, ok := s.gallery.Selected()
	t := s.viewport.Transform()
	s.mu.Unlock()
	if !ok {
		return dst
	}

	xdraw.NearestNeighbor.Transform(dst, frameAffine(t, w, h), v.Image, v.Image.Bounds(), xdraw.Over, nil)
	return dst
}

// RegionInfo describes one gallery entry
type RegionInfo struct {
	Index       int    `json:"index"`
	Source      int    `json:"source"`
	Description string `json:"description"`
	Rect        [4]int `json:"rect"`
}

// Snapshot is the serializable view state
type Snapshot struct {
	Phase       string             `json:"phase"`
	Selected    *int               `json:"selected"`
	Regions     []RegionInfo       `json:"regions"`
	Transform   viewport.Transform `json:"transform"`
	Dragging    bool               `json:"dragging"`
	Summary     string             `json:"summary,omitempty"`
	Finding     string             `json:"finding,omitempty"`
	Diagnostics []string           `json:"diagnostics,omitempty"`
	SourceSize  [2]int             `json:"source_size,omitempty"`
}

// Snapshot captures the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:     s.phase.String(),
		Regions:   []RegionInfo{},
		Transform: s.viewport.Transform(),
		Dragging:  s.viewport.State() == viewport.Dragging,
	}
	if idx, ok := s.gallery.SelectedIndex(); ok {
		snap.Selected = &idx
	}
	for i, v := range s.gallery.Variants() {
		snap.Regions = append(snap.Regions, RegionInfo{
			Index:       i,
			Source:      v.Index,
			Description: v.Description,
			Rect:        [4]int{v.Rect.Min.X, v.Rect.Min.Y, v.Rect.Max.X - 1, v.Rect.Max.Y - 1},
		})
	}
	if s.analysis != nil {
		snap.Summary = s.analysis.Summary
		snap.Finding = s.analysis.Finding()
	}
	for _, d := range s.diagnostics {
		snap.Diagnostics = append(snap.Diagnostics, d.Error())
	}
	if s.image != nil {
		src := s.image.SourceSize()
		snap.SourceSize = [2]int{src.X, src.Y}
	}
	return snap
}
