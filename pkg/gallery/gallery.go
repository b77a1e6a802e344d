// Package gallery keeps the ordered, selectable list of annotated variants
// and keeps the viewport in step with the selection.
package gallery

import (
	"errors"
	"fmt"
	"sync"

	"github.com/menta2k/scan-viewer/pkg/annotate"
	"github.com/menta2k/scan-viewer/pkg/viewport"
)

// ErrIndexOutOfRange is matched by every IndexError
var ErrIndexOutOfRange = errors.New("index out of range")

// IndexError reports a selection outside the variant list.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("select %d: index out of range [0,%d)", e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool { return target == ErrIndexOutOfRange }

const none = -1

// Gallery holds variants and the selected index. Every selection change
// resets the viewport controller before the lock is released, so no reader
// sees the new variant with the old zoom.
type Gallery struct {
	mu       sync.RWMutex
	variants []annotate.Variant
	selected int
	viewport *viewport.Controller
}

// New creates an empty gallery driving the given controller
func New(vp *viewport.Controller) *Gallery {
	if vp == nil {
		vp = viewport.NewController()
	}
	return &Gallery{selected: none, viewport: vp}
}

// Viewport returns the controller the gallery resets
func (g *Gallery) Viewport() *viewport.Controller { return g.viewport }

// SetVariants replaces the list, selects the first entry when there is one
// and resets the viewport.
func (g *Gallery) SetVariants(list []annotate.Variant) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.variants = append([]annotate.Variant(nil), list...)
	g.selected = none
	if len(g.variants) > 0 {
		g.selected = 0
	}
	g.viewport.ResetZoom()
}

// Select makes index the current variant and resets the viewport. An index
// outside the list returns an IndexError and changes nothing.
func (g *Gallery) Select(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index < 0 || index >= len(g.variants) {
		return &IndexError{Index: index, Len: len(g.variants)}
	}
	g.selected = index
	g.viewport.ResetZoom()
	return nil
}

// Clear empties the gallery and resets the viewport
func (g *Gallery) Clear() {
	g.SetVariants(nil)
}

// Selected returns the current variant, if any
func (g *Gallery) Selected() (annotate.Variant, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.selected == none {
		return annotate.Variant{}, false
	}
	return g.variants[g.selected], true
}

// SelectedIndex returns the selected position, if any
func (g *Gallery) SelectedIndex() (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selected, g.selected != none
}

// Variant returns the variant at index
func (g *Gallery) Variant(index int) (annotate.Variant, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if index < 0 || index >= len(g.variants) {
		return annotate.Variant{}, &IndexError{Index: index, Len: len(g.variants)}
	}
	return g.variants[index], nil
}

// Variants returns a copy of the variant list
func (g *Gallery) Variants() []annotate.Variant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]annotate.Variant(nil), g.variants...)
}

// Len returns the number of variants
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.variants)
}
