package viewport

import "sync"

// State of the controller's drag machine
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// DragSession is captured at drag start and discarded at drag end
type DragSession struct {
	AnchorScreenPoint Point
	AnchorTranslation Point
}

// Controller owns a Transform and the current drag session. It is safe for
// concurrent use; operations are applied in the order they are called.
type Controller struct {
	mu        sync.Mutex
	transform Transform
	drag      *DragSession
}

// NewController returns a controller at the reset transform
func NewController() *Controller {
	return &Controller{transform: Reset}
}

// Transform returns the current transform
func (c *Controller) Transform() Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transform
}

// State reports whether a drag is in progress
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag != nil {
		return Dragging
	}
	return Idle
}

func (c *Controller) ZoomIn() Transform  { return c.zoom(ZoomStep) }
func (c *Controller) ZoomOut() Transform { return c.zoom(-ZoomStep) }

func (c *Controller) zoom(delta float64) Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transform = Zoom(c.transform, delta)
	return c.transform
}

// ResetZoom restores scale 1.0 and zero translation. A drag in progress is
// abandoned so its stale anchor can't pull the view back.
func (c *Controller) ResetZoom() Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transform = Reset
	c.drag = nil
	return c.transform
}

// BeginDrag anchors a drag at p. Calling it while already dragging
// re-anchors at p.
func (c *Controller) BeginDrag(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = &DragSession{
		AnchorScreenPoint: p,
		AnchorTranslation: c.transform.Translation,
	}
}

// UpdateDrag moves the translation to follow p. It is a no-op when idle.
func (c *Controller) UpdateDrag(p Point) Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag != nil {
		c.transform.Translation = Drag(*c.drag, p)
	}
	return c.transform
}

// EndDrag returns to idle, keeping the last dragged translation
func (c *Controller) EndDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = nil
}
