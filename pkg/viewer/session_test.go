package viewer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/menta2k/scan-viewer/pkg/annotate"
	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/gallery"
	"github.com/menta2k/scan-viewer/pkg/prediction"
	"github.com/menta2k/scan-viewer/pkg/viewport"
)

var (
	bg  = color.NRGBA{90, 90, 90, 255}
	red = annotate.DefaultConfig().Color
)

// scanPNG encodes a uniform test scan
func scanPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func threeRegions() prediction.Result {
	return prediction.AnalysisResult(&prediction.Analysis{
		Regions: []annotate.Region{
			{Bounds: []float64{20, 30, 120, 140}, Description: "upper left"},
			{Bounds: []float64{200, 220, 300, 330}, Description: "center"},
			{Bounds: []float64{400, 10, 500, 60}, Description: "upper right"},
		},
		Summary:   "Three findings.",
		Pneumonia: "Pneumonia",
		Width:     512,
		Height:    512,
	})
}

func newSession() *Session {
	return NewSession(canvas.NewWithConfig(canvas.Config{Filter: "nearest"}), annotate.New())
}

func loadThree(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Load(context.Background(), bytes.NewReader(scanPNG(t, 700, 400)), threeRegions()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestEndToEnd(t *testing.T) {
	s := newSession()
	if s.Phase() != PhasePreUpload {
		t.Fatalf("expected pre-upload, got %v", s.Phase())
	}

	loadThree(t, s)

	if s.Phase() != PhaseViewing {
		t.Errorf("expected viewing, got %v", s.Phase())
	}
	if s.Gallery().Len() != 3 {
		t.Fatalf("expected 3 variants, got %d", s.Gallery().Len())
	}
	if idx, ok := s.Gallery().SelectedIndex(); !ok || idx != 0 {
		t.Errorf("expected index 0 selected, got %d,%v", idx, ok)
	}
	if s.Transform() != viewport.Reset {
		t.Errorf("expected reset transform, got %+v", s.Transform())
	}

	s.ZoomIn()
	s.PointerDown(viewport.Point{X: 0, Y: 0})
	s.PointerMove(viewport.Point{X: 15, Y: 15})
	s.PointerUp()

	if err := s.Select(1); err != nil {
		t.Fatalf("Select(1) failed: %v", err)
	}
	v, _ := s.Gallery().Selected()
	if v.Description != "center" {
		t.Errorf("expected center variant, got %q", v.Description)
	}
	if s.Transform() != viewport.Reset {
		t.Errorf("expected reset after select, got %+v", s.Transform())
	}

	snap := s.Snapshot()
	if snap.Summary != "Three findings." || snap.Finding != "Pneumonia detected" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.SourceSize != [2]int{700, 400} {
		t.Errorf("unexpected source size %v", snap.SourceSize)
	}
	if snap.Regions[1].Rect != [4]int{200, 220, 300, 330} {
		t.Errorf("unexpected rect %v", snap.Regions[1].Rect)
	}

	s.Reload()
	if s.Phase() != PhasePreUpload || s.Image() != nil || s.Gallery().Len() != 0 || s.Summary() != "" {
		t.Error("reload did not clear the session")
	}
	if _, ok := s.Gallery().SelectedIndex(); ok {
		t.Error("selection survived reload")
	}
	if s.Transform() != viewport.Reset {
		t.Error("transform survived reload")
	}
}

// failReader fails the test if anything reads it
type failReader struct{ t *testing.T }

func (f failReader) Read([]byte) (int, error) {
	f.t.Error("source was read for an error result")
	return 0, io.EOF
}

func TestLoadPredictionErrorSkipsDecode(t *testing.T) {
	s := newSession()
	loadThree(t, s)

	err := s.Load(context.Background(), failReader{t}, prediction.ErrorResult("model offline"))
	if !errors.Is(err, prediction.ErrPrediction) {
		t.Errorf("expected ErrPrediction, got %v", err)
	}
	if s.Phase() != PhasePreUpload || s.Gallery().Len() != 0 {
		t.Error("prediction error should return to pre-upload")
	}
}

func TestLoadDecodeError(t *testing.T) {
	s := newSession()
	err := s.Load(context.Background(), strings.NewReader("not an image"), threeRegions())
	if !errors.Is(err, canvas.ErrImageDecode) {
		t.Errorf("expected ErrImageDecode, got %v", err)
	}
	if s.Phase() != PhasePreUpload || s.Image() != nil {
		t.Error("decode error should return to pre-upload")
	}
}

func TestLoadMalformedResult(t *testing.T) {
	s := newSession()
	if err := s.Load(context.Background(), failReader{t}, prediction.Result{}); !errors.Is(err, prediction.ErrMalformedResult) {
		t.Errorf("expected ErrMalformedResult, got %v", err)
	}
}

func TestLoadResultWithoutPayload(t *testing.T) {
	for name, result := range map[string]prediction.Result{
		"analysis without body": prediction.AnalysisResult(nil),
		"error without body":    {Kind: prediction.KindError},
	} {
		t.Run(name, func(t *testing.T) {
			s := newSession()
			loadThree(t, s)

			if err := s.Load(context.Background(), failReader{t}, result); !errors.Is(err, prediction.ErrMalformedResult) {
				t.Errorf("expected ErrMalformedResult, got %v", err)
			}
			if s.Phase() != PhasePreUpload || s.Gallery().Len() != 0 {
				t.Error("expected pre-upload with no variants")
			}
		})
	}
}

func TestOlderUploadCannotReplaceNewer(t *testing.T) {
	s := newSession()
	older := s.BeginUpload()
	newer := s.BeginUpload()

	newResult := threeRegions()
	newResult.Analysis.Summary = "newer"
	if err := s.LoadUpload(context.Background(), newer, bytes.NewReader(scanPNG(t, 64, 64)), newResult); err != nil {
		t.Fatalf("newer upload failed: %v", err)
	}

	oldResult := threeRegions()
	oldResult.Analysis.Summary = "older"
	err := s.LoadUpload(context.Background(), older, bytes.NewReader(scanPNG(t, 64, 64)), oldResult)
	if !errors.Is(err, ErrSuperseded) {
		t.Errorf("expected ErrSuperseded, got %v", err)
	}
	s.AbortUpload(older)

	if s.Summary() != "newer" || s.Phase() != PhaseViewing {
		t.Errorf("summary = %q phase = %v, want newer upload still viewing", s.Summary(), s.Phase())
	}
}

func TestAbortUploadReturnsToPreUpload(t *testing.T) {
	s := newSession()
	loadThree(t, s)

	gen := s.BeginUpload()
	if s.Phase() != PhaseLoading {
		t.Errorf("phase = %v, want loading", s.Phase())
	}
	s.AbortUpload(gen)
	if s.Phase() != PhasePreUpload || s.Gallery().Len() != 0 {
		t.Error("aborted upload should clear the previous scan")
	}
}

func TestLoadSkipsInvalidRegions(t *testing.T) {
	s := newSession()
	res := prediction.AnalysisResult(&prediction.Analysis{
		Regions: []annotate.Region{
			{Bounds: []float64{1, 2, 3}},
			{Bounds: []float64{10, 10, 20, 20}, Description: "ok"},
			{Bounds: []float64{50, 10, 20, 20}},
		},
	})
	if err := s.Load(context.Background(), bytes.NewReader(scanPNG(t, 64, 64)), res); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Gallery().Len() != 1 {
		t.Errorf("expected 1 variant, got %d", s.Gallery().Len())
	}
	if len(s.Diagnostics()) != 2 {
		t.Errorf("expected 2 diagnostics, got %d", len(s.Diagnostics()))
	}
	if len(s.Snapshot().Diagnostics) != 2 {
		t.Error("snapshot should carry diagnostics")
	}
}

func TestLoadWithNoValidRegions(t *testing.T) {
	s := newSession()
	res := prediction.AnalysisResult(&prediction.Analysis{Summary: "clear"})
	if err := s.Load(context.Background(), bytes.NewReader(scanPNG(t, 64, 64)), res); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := s.Gallery().SelectedIndex(); ok {
		t.Error("expected no selection without variants")
	}
	if s.Summary() != "clear" {
		t.Errorf("unexpected summary %q", s.Summary())
	}
}

// gatedReader blocks its first Read until release is closed
type gatedReader struct {
	started chan struct{}
	release chan struct{}
	r       io.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	select {
	case <-g.started:
	default:
		close(g.started)
	}
	<-g.release
	return g.r.Read(p)
}

func TestReloadSupersedesPendingLoad(t *testing.T) {
	s := newSession()
	gate := &gatedReader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		r:       bytes.NewReader(scanPNG(t, 32, 32)),
	}

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), gate, threeRegions()) }()

	<-gate.started
	s.Reload()
	close(gate.release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("expected ErrSuperseded, got %v", err)
	}
	if s.Phase() != PhasePreUpload || s.Gallery().Len() != 0 {
		t.Error("superseded load leaked into the session")
	}
}

func TestLoadContextCancelled(t *testing.T) {
	s := newSession()
	gate := &gatedReader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		r:       bytes.NewReader(scanPNG(t, 32, 32)),
	}
	defer close(gate.release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Load(ctx, gate, threeRegions()) }()
	<-gate.started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Phase() != PhasePreUpload {
		t.Errorf("expected pre-upload, got %v", s.Phase())
	}
}

func TestPointerWiring(t *testing.T) {
	s := newSession()

	s.PointerDown(viewport.Point{X: 0, Y: 0})
	s.PointerMove(viewport.Point{X: 50, Y: 50})
	if s.Transform() != viewport.Reset {
		t.Error("pointer input before upload should be ignored")
	}

	loadThree(t, s)

	s.PointerMove(viewport.Point{X: 50, Y: 50})
	if s.Transform() != viewport.Reset {
		t.Error("move without press should not pan")
	}

	s.PointerDown(viewport.Point{X: 0, Y: 0})
	s.PointerMove(viewport.Point{X: 10, Y: 5})
	s.PointerMove(viewport.Point{X: 30, Y: 5})
	s.PointerLeave()
	s.PointerMove(viewport.Point{X: 100, Y: 100})

	if got := s.Transform().Translation; got != (viewport.Point{X: 30, Y: 5}) {
		t.Errorf("translation = %+v, want {30 5}", got)
	}
	if s.Snapshot().Dragging {
		t.Error("expected idle after pointer leave")
	}
}

func TestSelectOutOfRange(t *testing.T) {
	s := newSession()
	loadThree(t, s)
	s.Select(2)

	if err := s.Select(3); !errors.Is(err, gallery.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if idx, _ := s.Gallery().SelectedIndex(); idx != 2 {
		t.Errorf("selection changed to %d", idx)
	}
}

func TestSelectOutOfRangeKeepsDrag(t *testing.T) {
	s := newSession()
	loadThree(t, s)

	s.PointerDown(viewport.Point{X: 0, Y: 0})
	if err := s.Select(99); !errors.Is(err, gallery.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	s.PointerMove(viewport.Point{X: 40, Y: 7})

	if got := s.Transform().Translation; got != (viewport.Point{X: 40, Y: 7}) {
		t.Errorf("translation = %+v, want {40 7}", got)
	}
	if !s.Snapshot().Dragging {
		t.Error("expected drag to continue")
	}
}

func TestFrameFollowsTransform(t *testing.T) {
	s := newSession()
	loadThree(t, s)

	frame := s.Frame(canvas.Size, canvas.Size)
	if got := frame.NRGBAAt(20, 30); got != red {
		t.Errorf("top-left corner at reset = %v, want outline", got)
	}
	if got := frame.NRGBAAt(19, 30); got != bg {
		t.Errorf("pixel left of outline = %v, want background", got)
	}

	s.PointerDown(viewport.Point{X: 0, Y: 0})
	s.PointerMove(viewport.Point{X: 30, Y: 5})
	s.PointerUp()
	frame = s.Frame(canvas.Size, canvas.Size)
	if got := frame.NRGBAAt(50, 35); got != red {
		t.Errorf("panned corner = %v, want outline", got)
	}
	if got := frame.NRGBAAt(10, 2); got != Background {
		t.Errorf("uncovered area = %v, want frame background", got)
	}

	s.ResetZoom()
	for i := 0; i < 10; i++ {
		s.ZoomIn()
	}
	if s.Transform().Scale != 2.0 {
		t.Fatalf("expected scale 2.0, got %v", s.Transform().Scale)
	}
	frame = s.Frame(canvas.Size, canvas.Size)
	if got := frame.NRGBAAt(40, 60); got != red {
		t.Errorf("zoomed corner = %v, want outline", got)
	}

	p := s.FrameToImage(viewport.Point{X: 40, Y: 60}, canvas.Size, canvas.Size)
	if p != (viewport.Point{X: 20, Y: 30}) {
		t.Errorf("FrameToImage = %+v, want {20 30}", p)
	}
}

func TestFrameCentersCanvas(t *testing.T) {
	s := newSession()
	loadThree(t, s)

	frame := s.Frame(712, 612)
	if got := frame.NRGBAAt(120, 80); got != red {
		t.Errorf("centered corner = %v, want outline", got)
	}
	if got := frame.NRGBAAt(50, 20); got != Background {
		t.Errorf("margin = %v, want background", got)
	}
}

func TestFrameBeforeUpload(t *testing.T) {
	frame := newSession().Frame(100, 80)
	if frame.Bounds().Dx() != 100 || frame.Bounds().Dy() != 80 {
		t.Errorf("unexpected frame size %v", frame.Bounds())
	}
	if frame.NRGBAAt(50, 40) != Background {
		t.Error("expected background-only frame")
	}
}
