// Package viewer composes the normalizer, renderer, gallery and viewport into
// one viewing session and maps user input onto them.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/menta2k/scan-viewer/pkg/annotate"
	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/gallery"
	"github.com/menta2k/scan-viewer/pkg/prediction"
	"github.com/menta2k/scan-viewer/pkg/viewport"
)

// ErrSuperseded is returned by a Load that finished after a newer upload or
// a reload replaced it. Its result has been discarded.
var ErrSuperseded = errors.New("load superseded by a newer upload")

// Phase of the session
type Phase int

const (
	PhasePreUpload Phase = iota
	PhaseLoading
	PhaseViewing
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseViewing:
		return "viewing"
	default:
		return "pre-upload"
	}
}

// Session is the state of one viewer: the normalized scan, its variants and
// the viewport. All methods are safe for concurrent use and apply in call
// order.
type Session struct {
	mu         sync.Mutex
	normalizer *canvas.Normalizer
	renderer   *annotate.Renderer
	viewport   *viewport.Controller
	gallery    *gallery.Gallery
	log        zerolog.Logger

	phase       Phase
	generation  uint64
	image       *canvas.NormalizedImage
	analysis    *prediction.Analysis
	diagnostics []error
	pressed     bool
}

// NewSession creates a session in the pre-upload phase
func NewSession(normalizer *canvas.Normalizer, renderer *annotate.Renderer) *Session {
	if normalizer == nil {
		normalizer = canvas.New()
	}
	if renderer == nil {
		renderer = annotate.New()
	}
	vp := viewport.NewController()
	return &Session{
		normalizer: normalizer,
		renderer:   renderer,
		viewport:   vp,
		gallery:    gallery.New(vp),
		log:        zerolog.Nop(),
	}
}

// SetLogger sets the session logger
func (s *Session) SetLogger(log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
}

// Load starts an upload and loads it in one step. See LoadUpload.
func (s *Session) Load(ctx context.Context, src io.Reader, result prediction.Result) error {
	return s.LoadUpload(ctx, s.BeginUpload(), src, result)
}

// BeginUpload marks the session loading and returns the upload's generation.
// Call it before the prediction request so a slower, older upload can't
// replace a newer one.
func (s *Session) BeginUpload() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.phase = PhaseLoading
	return s.generation
}

// AbortUpload ends upload gen and returns to pre-upload. It does nothing if a
// newer upload has started since.
func (s *Session) AbortUpload(gen uint64) { s.abort(gen) }

// LoadUpload routes on the prediction result for upload gen, then decodes
// src, renders one variant per valid region and shows the first. A
// prediction error or a decode failure returns the session to pre-upload.
// Region problems don't fail the load; they are available from Diagnostics.
// If a newer upload or a Reload happened meanwhile it returns ErrSuperseded
// and leaves the session alone.
func (s *Session) LoadUpload(ctx context.Context, gen uint64, src io.Reader, result prediction.Result) error {
	var analysis *prediction.Analysis
	switch {
	case result.Kind == prediction.KindError && result.Err != nil:
		s.abort(gen)
		s.log.Warn().Str("error", result.Err.Message).Msg("prediction failed")
		return result.Err
	case result.Kind == prediction.KindAnalysis && result.Analysis != nil:
		analysis = result.Analysis
	default:
		s.abort(gen)
		return prediction.ErrMalformedResult
	}

	if analysis.Width != 0 && analysis.Height != 0 &&
		(analysis.Width != canvas.Size || analysis.Height != canvas.Size) {
		s.log.Warn().Int("width", analysis.Width).Int("height", analysis.Height).
			Msg("prediction boxes reported against a non-normalized size; drawing them unscaled")
	}

	var loaded canvas.LoadResult
	select {
	case loaded = <-s.normalizer.LoadAsync(src):
	case <-ctx.Done():
		s.abort(gen)
		return ctx.Err()
	}
	if loaded.Err != nil {
		s.abort(gen)
		s.log.Error().Err(loaded.Err).Msg("could not decode upload")
		return loaded.Err
	}

	variants, diagnostics := s.renderer.Render(loaded.Image, analysis.Regions)
	return s.commit(gen, loaded.Image, analysis, variants, diagnostics)
}

// abort returns to pre-upload, unless a newer load has already started
func (s *Session) abort(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.clearLocked()
}

func (s *Session) commit(gen uint64, img *canvas.NormalizedImage, analysis *prediction.Analysis, variants []annotate.Variant, diagnostics []error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.log.Debug().Uint64("generation", gen).Msg("discarding superseded load")
		return ErrSuperseded
	}

	s.image = img
	s.analysis = analysis
	s.diagnostics = diagnostics
	s.pressed = false
	s.gallery.SetVariants(variants)
	s.phase = PhaseViewing

	s.log.Info().Int("variants", len(variants)).Int("skipped", len(diagnostics)).Msg("scan loaded")
	return nil
}

// Reload discards the scan, variants and transform and abandons any load in
// flight.
func (s *Session) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.image = nil
	s.analysis = nil
	s.diagnostics = nil
	s.pressed = false
	s.gallery.Clear()
	s.phase = PhasePreUpload
}

// Select shows variant index at the reset transform
func (s *Session) Select(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gallery.Select(index); err != nil {
		return err
	}
	s.pressed = false
	return nil
}

// PointerDown starts a drag when a variant is on screen
func (s *Session) PointerDown(p viewport.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gallery.Selected(); !ok {
		return
	}
	s.pressed = true
	s.viewport.BeginDrag(p)
}

// PointerMove pans while the pointer is pressed
func (s *Session) PointerMove(p viewport.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pressed {
		return
	}
	s.viewport.UpdateDrag(p)
}

// PointerUp ends a drag
func (s *Session) PointerUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed = false
	s.viewport.EndDrag()
}

// PointerLeave behaves like PointerUp
func (s *Session) PointerLeave() { s.PointerUp() }

func (s *Session) ZoomIn() viewport.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport.ZoomIn()
}

func (s *Session) ZoomOut() viewport.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport.ZoomOut()
}

func (s *Session) ResetZoom() viewport.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed = false
	return s.viewport.ResetZoom()
}

// Transform returns the current viewport transform
func (s *Session) Transform() viewport.Transform { return s.viewport.Transform() }

// Gallery exposes the variant list for read access
func (s *Session) Gallery() *gallery.Gallery { return s.gallery }

// Phase returns the current phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Image returns the normalized scan, or nil before upload
func (s *Session) Image() *canvas.NormalizedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Summary is the prediction summary handed to the chat backend
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis == nil {
		return ""
	}
	return s.analysis.Summary
}

// Diagnostics returns the region problems from the last load
func (s *Session) Diagnostics() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.diagnostics...)
}

// String is a short description used in log lines
func (s *Session) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("session{%s variants=%d scale=%.1f}", snap.Phase, len(snap.Regions), snap.Transform.Scale)
}
