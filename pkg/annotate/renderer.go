// Package annotate draws prediction regions onto private copies of the
// normalized canvas, producing one variant per valid region.
package annotate

import (
	"errors"
	"image"
	"image/color"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/scan-viewer/pkg/canvas"
)

// Variant is one copy of the normalized image with a single region drawn
// on it. Each variant owns its pixel buffer.
type Variant struct {
	Image       *image.NRGBA
	Description string
	// Rect covers the outline pixels; Max is exclusive.
	Rect image.Rectangle
	// Index is the position of the source region in the rendered batch.
	Index int
}

// Config holds configuration for the renderer
type Config struct {
	StrokeWidth int
	Color       color.NRGBA
	// Workers bounds parallel rendering; 1 renders sequentially.
	Workers int
}

// DefaultConfig returns a 2px red outline rendered sequentially
func DefaultConfig() Config {
	return Config{
		StrokeWidth: 2,
		Color:       color.NRGBA{R: 255, A: 255},
		Workers:     1,
	}
}

// Renderer produces annotated variants
type Renderer struct {
	config Config
	log    zerolog.Logger
}

// New creates a Renderer with default configuration
func New() *Renderer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Renderer with custom configuration
func NewWithConfig(config Config) *Renderer {
	if config.StrokeWidth < 1 {
		config.StrokeWidth = 1
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Renderer{config: config, log: zerolog.Nop()}
}

// SetLogger sets the logger used for region diagnostics
func (r *Renderer) SetLogger(log zerolog.Logger) {
	r.log = log
}

// Render returns one variant per valid region, in input order. Invalid
// regions are skipped and reported in the returned diagnostics; they never
// abort the batch.
func (r *Renderer) Render(base *canvas.NormalizedImage, regions []Region) ([]Variant, []error) {
	if base == nil {
		return nil, nil
	}

	var diagnostics []error
	valid := make([]int, 0, len(regions))
	for i, region := range regions {
		if err := region.Validate(); err != nil {
			var invalid *InvalidRegionError
			if errors.As(err, &invalid) {
				invalid.Index = i
			}
			r.log.Warn().Err(err).Int("region", i).Msg("skipping invalid region")
			diagnostics = append(diagnostics, err)
			continue
		}
		valid = append(valid, i)
	}

	variants := make([]Variant, len(valid))
	var g errgroup.Group
	g.SetLimit(r.config.Workers)
	for slot, idx := range valid {
		g.Go(func() error {
			variants[slot] = r.renderOne(base, regions[idx], idx)
			return nil
		})
	}
	_ = g.Wait()

	r.log.Debug().Int("regions", len(regions)).Int("variants", len(variants)).Msg("rendered variants")
	return variants, diagnostics
}

// RenderRegion renders a single region, validating it first
func (r *Renderer) RenderRegion(base *canvas.NormalizedImage, region Region) (Variant, error) {
	if err := region.Validate(); err != nil {
		return Variant{}, err
	}
	return r.renderOne(base, region, 0), nil
}

func (r *Renderer) renderOne(base *canvas.NormalizedImage, region Region, index int) Variant {
	img := base.Clone()
	tl, br := region.Corners()
	strokeRect(img, tl, br, r.config.Color, r.config.StrokeWidth)
	return Variant{
		Image:       img,
		Description: region.Description,
		Rect:        region.Rect(),
		Index:       index,
	}
}
