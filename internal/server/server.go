// Package server exposes one viewer session over HTTP and socket.io.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
	"github.com/rs/zerolog"

	"github.com/menta2k/scan-viewer/internal/config"
	"github.com/menta2k/scan-viewer/pkg/chat"
	"github.com/menta2k/scan-viewer/pkg/prediction"
	"github.com/menta2k/scan-viewer/pkg/viewer"
)

// viewersRoom holds every connected socket; state changes are broadcast to it
const viewersRoom = "viewers"

// Predictor is the prediction service as seen by the upload handler
type Predictor interface {
	AnalyzeChestXray(ctx context.Context, filename string, r io.Reader) (prediction.Result, error)
	AnalyzeBrainScan(ctx context.Context, filename string, r io.Reader) (prediction.BrainPrediction, error)
}

// Options configures a Server
type Options struct {
	Session   *viewer.Session
	Predictor Predictor
	// Chat may be nil, in which case /api/chat answers 503
	Chat     chat.Client
	Server   config.ServerConfig
	Viewport config.ViewportConfig
	Logger   zerolog.Logger
}

// Server serves a single viewer session. HTTP requests and socket events
// both act on the same session.
type Server struct {
	session   *viewer.Session
	predictor Predictor
	log       zerolog.Logger

	chatClient chat.Client
	chatMu     sync.Mutex
	conv       *chat.Conversation

	frameW, frameH int
	maxUpload      int64
	origins        []string

	socket *socketio.Server
	mux    *http.ServeMux
}

// New wires the routes and socket events
func New(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.New("server: session is required")
	}
	if opts.Predictor == nil {
		return nil, errors.New("server: predictor is required")
	}

	defaults := config.Default()
	if opts.Viewport.FrameWidth <= 0 || opts.Viewport.FrameHeight <= 0 {
		opts.Viewport = defaults.Viewport
	}
	if opts.Server.MaxUploadMB <= 0 {
		opts.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}

	s := &Server{
		session:    opts.Session,
		predictor:  opts.Predictor,
		log:        opts.Logger,
		chatClient: opts.Chat,
		frameW:     opts.Viewport.FrameWidth,
		frameH:     opts.Viewport.FrameHeight,
		maxUpload:  int64(opts.Server.MaxUploadMB) << 20,
		origins:    opts.Server.CORSOrigins,
		mux:        http.NewServeMux(),
	}

	s.socket = socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: s.allowOrigin},
			&polling.Transport{CheckOrigin: s.allowOrigin},
		},
	})
	s.registerSocketEvents()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/socket.io/", s.socket)

	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/select/{index}", s.handleSelect)
	s.mux.HandleFunc("POST /api/zoom/{action}", s.handleZoom)
	s.mux.HandleFunc("POST /api/reload", s.handleReload)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/frame.png", s.handleFrame)
	s.mux.HandleFunc("GET /api/variants/{name}", s.handleVariant)
	s.mux.HandleFunc("GET /api/chat", s.handleTranscript)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/feedback", s.handleFeedback)
}

// Handler returns the HTTP handler with CORS and request logging applied
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.withCORS(s.mux))
}

// ListenAndServe runs the socket.io loop and the HTTP server until ctx is
// cancelled, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	go func() {
		if err := s.socket.Serve(); err != nil {
			s.log.Error().Err(xerrors.New(err)).Msg("socket.io listen error")
		}
	}()
	defer s.socket.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("starting HTTP server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return xerrors.New("http server failed", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

// Close stops the socket.io server
func (s *Server) Close() error {
	return s.socket.Close()
}

// broadcast pushes the current snapshot to every connected socket
func (s *Server) broadcast() viewer.Snapshot {
	snap := s.session.Snapshot()
	s.socket.BroadcastToRoom("/", viewersRoom, "state", snap)
	return snap
}

func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}
