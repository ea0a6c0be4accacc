package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/capture"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/bryanchriswhite/RoboEye/internal/output"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// StatusInterval is how often /api/status/ws pushes an update
const StatusInterval = time.Second

// Camera is the part of a capture session the server reads from
type Camera interface {
	Slot() *frame.Slot
	State() capture.State
	FPS() float64
	Detections() []overlay.Detection
}

// Server represents the HTTP server for the camera stream
type Server struct {
	router   *mux.Router
	camera   Camera
	stream   *output.MJPEGStream
	still    *output.Still
	upgrader websocket.Upgrader
	clock    clock.Clock

	mu         sync.Mutex
	httpServer *http.Server
	baseCancel context.CancelFunc
	closed     bool
}

// NewServer creates a new HTTP server reading frames from camera
func NewServer(camera Camera, cfg config.StreamConfig, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	outCfg := output.Config{
		Interval: cfg.Interval(),
		Quality:  cfg.JPEGQuality,
		Clock:    clk,
	}

	s := &Server{
		router: mux.NewRouter(),
		camera: camera,
		stream: output.NewMJPEGStream(camera.Slot(), outCfg),
		still:  output.NewStill(camera.Slot(), outCfg),
		clock:  clk,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the routes. Everything is read-only.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.Handle("/video_feed", s.stream).Methods("GET")
	s.router.Handle("/still.jpg", s.still).Methods("GET")

	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/status/ws", s.handleStatusStream).Methods("GET")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stream returns the MJPEG stream handler
func (s *Server) Stream() *output.MJPEGStream {
	return s.stream
}

// Start listens on port and serves until Shutdown. Returns nil after a
// clean shutdown.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	baseCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		ln.Close()
		return nil
	}
	if s.httpServer != nil {
		s.mu.Unlock()
		cancel()
		ln.Close()
		return errors.New("server already started")
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	s.baseCancel = cancel
	srv := s.httpServer
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", ln.Addr().String()).Msg("Starting server")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends every open stream and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.httpServer, s.baseCancel
	s.closed = true
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// stream loops watch the request context, which derives from the base context
	cancel()
	return srv.Shutdown(ctx)
}

// DetectionStatus is a detection box in status responses
type DetectionStatus struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
}

// Status is the body of /api/status
type Status struct {
	State      string            `json:"state"`
	Running    bool              `json:"running"`
	FPS        float64           `json:"fps"`
	Seq        uint64            `json:"seq"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Detections []DetectionStatus `json:"detections"`
	Clients    int               `json:"clients"`
}

// Status returns a snapshot of the camera and stream state
func (s *Server) Status() Status {
	slot := s.camera.Slot()
	st := Status{
		State:      s.camera.State().String(),
		Running:    slot.IsRunning(),
		FPS:        s.camera.FPS(),
		Seq:        slot.Seq(),
		Detections: make([]DetectionStatus, 0),
		Clients:    s.stream.Clients(),
	}
	if f, ok := slot.Read(); ok {
		st.Width, st.Height = f.Width(), f.Height()
	}
	for _, d := range s.camera.Detections() {
		st.Detections = append(st.Detections, DetectionStatus{
			X1:         d.Box.Min.X,
			Y1:         d.Box.Min.Y,
			X2:         d.Box.Max.X,
			Y2:         d.Box.Max.Y,
			Confidence: d.Confidence,
		})
	}
	return st
}

// HTTP Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// reads only to notice the peer closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := s.clock.Ticker(StatusInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.Status()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>RoboEye Camera Stream</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            margin: 0;
            background: #111;
            color: #eee;
            text-align: center;
        }
        h1 {
            font-weight: 400;
            font-size: 1.4em;
        }
        img {
            max-width: 100%;
            height: auto;
            border: 1px solid #333;
        }
    </style>
</head>
<body>
    <h1>RoboEye Camera Stream</h1>
    <img src="/video_feed" alt="Camera stream">
</body>
</html>`
