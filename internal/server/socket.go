package server

import (
	socketio "github.com/googollee/go-socket.io"

	"github.com/menta2k/scan-viewer/pkg/viewer"
	"github.com/menta2k/scan-viewer/pkg/viewport"
)

// pointerEvent is the payload of the pointer events, in frame pixels
type pointerEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p pointerEvent) point() viewport.Point { return viewport.Point{X: p.X, Y: p.Y} }

// Pointer event names accepted over socket.io
const (
	eventPointerDown  = "pointerDown"
	eventPointerMove  = "pointerMove"
	eventPointerUp    = "pointerUp"
	eventPointerLeave = "pointerLeave"
)

func (s *Server) registerSocketEvents() {
	s.socket.OnConnect("/", func(conn socketio.Conn) error {
		conn.SetContext("")
		conn.Join(viewersRoom)
		s.log.Info().Str("socket", conn.ID()).Str("remote", conn.RemoteAddr().String()).Msg("connected")
		conn.Emit("state", s.session.Snapshot())
		return nil
	})

	for _, name := range []string{eventPointerDown, eventPointerMove, eventPointerUp, eventPointerLeave} {
		name := name
		s.socket.OnEvent("/", name, func(conn socketio.Conn, ev pointerEvent) {
			s.handlePointer(name, ev)
		})
	}

	s.socket.OnEvent("/", "zoomIn", func(conn socketio.Conn) {
		s.session.ZoomIn()
		s.broadcast()
	})
	s.socket.OnEvent("/", "zoomOut", func(conn socketio.Conn) {
		s.session.ZoomOut()
		s.broadcast()
	})
	s.socket.OnEvent("/", "resetZoom", func(conn socketio.Conn) {
		s.session.ResetZoom()
		s.broadcast()
	})
	s.socket.OnEvent("/", "select", func(conn socketio.Conn, index int) {
		if err := s.session.Select(index); err != nil {
			conn.Emit("viewerError", apiError{Message: err.Error()})
			return
		}
		s.broadcast()
	})

	s.socket.OnError("/", func(conn socketio.Conn, err error) {
		s.log.Warn().Err(err).Msg("socket error")
	})

	s.socket.OnDisconnect("/", func(conn socketio.Conn, reason string) {
		s.log.Info().Str("socket", conn.ID()).Str("reason", reason).Msg("disconnected")
	})
}

// handlePointer applies a pointer event to the session. Points arrive in
// frame pixels and are shifted by the canvas placement before reaching the
// viewport, so drags are unaffected by the frame size.
func (s *Server) handlePointer(name string, ev pointerEvent) viewer.Snapshot {
	p := ev.point().Sub(viewer.Placement(s.frameW, s.frameH))
	switch name {
	case eventPointerDown:
		s.session.PointerDown(p)
	case eventPointerMove:
		s.session.PointerMove(p)
	case eventPointerUp:
		s.session.PointerUp()
	case eventPointerLeave:
		s.session.PointerLeave()
	}
	return s.broadcast()
}
