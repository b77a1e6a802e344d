// Package scanviewer displays a medical scan with the regions a prediction
// service flagged on it.
//
// A scan is normalized to a 512x512 canvas, one annotated variant is
// rendered per predicted region, and a pan/zoom viewport shows whichever
// variant is selected.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		scanviewer "github.com/menta2k/scan-viewer"
//	)
//
//	func main() {
//		v := scanviewer.New()
//
//		result, err := scanviewer.OpenResult("prediction.json")
//		if err != nil {
//			log.Fatal(err)
//		}
//		if err := v.LoadFile(context.Background(), "chest.png", result); err != nil {
//			log.Fatal(err)
//		}
//
//		paths, err := v.ExportVariants("chest.png", scanviewer.ExportOptions{Dir: "out"})
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("wrote %d variants", len(paths))
//	}
//
// The package is built from:
//
//   - pkg/canvas: decoding and normalization to the fixed canvas
//   - pkg/annotate: region validation and outline rendering
//   - pkg/gallery and pkg/viewport: variant selection and pan/zoom state
//   - pkg/viewer: the session tying them together and frame rendering
//   - pkg/prediction and pkg/chat: the service boundaries
package scanviewer

import (
	"context"
	"fmt"
	"image/color"
	"os"

	"github.com/rs/zerolog"

	"github.com/menta2k/scan-viewer/internal/utils"
	"github.com/menta2k/scan-viewer/pkg/annotate"
	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/prediction"
	"github.com/menta2k/scan-viewer/pkg/viewer"
)

// Version of the scan viewer library
const Version = "1.0.0"

// Options configures a Viewer. Zero values fall back to defaults.
type Options struct {
	Filter      string
	StrokeWidth int
	Color       color.NRGBA
	Workers     int
	Logger      *zerolog.Logger
}

// ExportOptions controls where variants and frames are written
type ExportOptions struct {
	Dir     string
	Prefix  string
	Suffix  string
	Format  string
	Quality int
}

// Viewer is a single viewing session with file helpers
type Viewer struct {
	session *viewer.Session
}

// New creates a Viewer with default configuration
func New() *Viewer {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Viewer with custom configuration
func NewWithOptions(opts Options) *Viewer {
	rc := annotate.DefaultConfig()
	if opts.StrokeWidth > 0 {
		rc.StrokeWidth = opts.StrokeWidth
	}
	if opts.Color.A != 0 {
		rc.Color = opts.Color
	}
	if opts.Workers > 0 {
		rc.Workers = opts.Workers
	}

	renderer := annotate.NewWithConfig(rc)
	session := viewer.NewSession(canvas.NewWithConfig(canvas.Config{Filter: opts.Filter}), renderer)
	if opts.Logger != nil {
		renderer.SetLogger(*opts.Logger)
		session.SetLogger(*opts.Logger)
	}
	return &Viewer{session: session}
}

// Session exposes the underlying session
func (v *Viewer) Session() *viewer.Session { return v.session }

// OpenResult reads a prediction result JSON file
func OpenResult(path string) (prediction.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return prediction.Result{}, fmt.Errorf("failed to read prediction result: %w", err)
	}
	res, err := prediction.Parse(data)
	if err != nil {
		return prediction.Result{}, fmt.Errorf("failed to parse prediction result: %w", err)
	}
	return res, nil
}

// LoadFile loads the scan at path with its prediction result
func (v *Viewer) LoadFile(ctx context.Context, path string, result prediction.Result) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open scan: %w", err)
	}
	defer f.Close()
	return v.session.Load(ctx, f, result)
}

func (o ExportOptions) withDefaults() ExportOptions {
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.Format == "" {
		o.Format = "png"
	}
	if o.Quality <= 0 {
		o.Quality = 90
	}
	return o
}

// ExportVariants writes every variant next to each other in opts.Dir, named
// after inputPath, and returns the written paths in gallery order.
func (v *Viewer) ExportVariants(inputPath string, opts ExportOptions) ([]string, error) {
	opts = opts.withDefaults()
	if err := utils.EnsureDir(opts.Dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	variants := v.session.Gallery().Variants()
	paths := make([]string, 0, len(variants))
	for i, variant := range variants {
		path := utils.VariantFilename(inputPath, opts.Dir, opts.Prefix, opts.Suffix, opts.Format, i)
		if err := canvas.Save(variant.Image, path, opts.Format, opts.Quality); err != nil {
			return paths, fmt.Errorf("failed to save variant %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SaveFrame renders the current view into a w x h frame and writes it to path
func (v *Viewer) SaveFrame(path string, w, h int, opts ExportOptions) error {
	opts = opts.withDefaults()
	if err := canvas.Save(v.session.Frame(w, h), path, opts.Format, opts.Quality); err != nil {
		return fmt.Errorf("failed to save frame: %w", err)
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
