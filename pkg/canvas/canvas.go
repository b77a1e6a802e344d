// Package canvas decodes uploaded scans and resamples them onto the fixed
// 512x512 working canvas that every region coordinate is expressed in.
package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Size is the width and height of the normalized canvas in pixels
const Size = 512

// ErrImageDecode is matched by every DecodeError
var ErrImageDecode = errors.New("image decode failed")

// DecodeError reports an unreadable or corrupt source image.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrImageDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrImageDecode }

// NormalizedImage is the immutable 512x512 raster derived from one upload.
// The pixel buffer must not be written to; use Clone for a private copy.
type NormalizedImage struct {
	img    *image.NRGBA
	source image.Point
}

// Image returns the normalized raster for read-only use
func (n *NormalizedImage) Image() *image.NRGBA { return n.img }

// Bounds is always image.Rect(0, 0, Size, Size)
func (n *NormalizedImage) Bounds() image.Rectangle { return n.img.Bounds() }

// SourceSize returns the dimensions of the image before normalization
func (n *NormalizedImage) SourceSize() image.Point { return n.source }

// Clone returns an independent copy of the pixel buffer.
func (n *NormalizedImage) Clone() *image.NRGBA { return imaging.Clone(n.img) }

// Config holds configuration for the normalizer
type Config struct {
	// Filter names the resampling filter: lanczos, catmullrom, linear, box or nearest.
	Filter string
}

// Normalizer decodes source images and stretches them onto the canvas
type Normalizer struct {
	filter imaging.ResampleFilter
}

// New creates a Normalizer using Lanczos resampling
func New() *Normalizer {
	return &Normalizer{filter: imaging.Lanczos}
}

// NewWithConfig creates a Normalizer with a custom configuration
func NewWithConfig(config Config) *Normalizer {
	return &Normalizer{filter: FilterByName(config.Filter)}
}

// FilterByName maps a filter name to an imaging filter, defaulting to Lanczos.
func FilterByName(name string) imaging.ResampleFilter {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest":
		return imaging.NearestNeighbor
	case "box":
		return imaging.Box
	case "linear":
		return imaging.Linear
	case "catmullrom":
		return imaging.CatmullRom
	default:
		return imaging.Lanczos
	}
}

// Decode reads an image in any registered format, with an explicit WebP
// fallback for encodings the x/image decoder rejects.
func (n *Normalizer) Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("read source: %w", err)}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty source")}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		webpImg, webpErr := webp.Decode(bytes.NewReader(data))
		if webpErr != nil {
			return nil, &DecodeError{Err: err}
		}
		img = webpImg
	}

	if err := ValidateSource(img); err != nil {
		return nil, err
	}
	return img, nil
}

// ValidateSource rejects images with no pixels
func ValidateSource(img image.Image) error {
	if img == nil {
		return &DecodeError{Err: errors.New("nil image")}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return &DecodeError{Err: fmt.Errorf("image has no pixels: %dx%d", b.Dx(), b.Dy())}
	}
	return nil
}

// Normalize stretches src to exactly Size x Size without preserving the
// aspect ratio.
func (n *Normalizer) Normalize(src image.Image) (*NormalizedImage, error) {
	if err := ValidateSource(src); err != nil {
		return nil, err
	}
	b := src.Bounds()
	return &NormalizedImage{
		img:    imaging.Resize(src, Size, Size, n.filter),
		source: image.Pt(b.Dx(), b.Dy()),
	}, nil
}

// Load decodes and normalizes in one step
func (n *Normalizer) Load(r io.Reader) (*NormalizedImage, error) {
	img, err := n.Decode(r)
	if err != nil {
		return nil, err
	}
	return n.Normalize(img)
}

// LoadResult is the single resolution of an asynchronous load
type LoadResult struct {
	Image *NormalizedImage
	Err   error
}

// LoadAsync runs Load on its own goroutine. The returned channel yields
// exactly one LoadResult and is then closed. A caller that no longer wants
// the result may simply stop listening.
func (n *Normalizer) LoadAsync(r io.Reader) <-chan LoadResult {
	ch := make(chan LoadResult, 1)
	go func() {
		defer close(ch)
		img, err := n.Load(r)
		ch <- LoadResult{Image: img, Err: err}
	}()
	return ch
}
