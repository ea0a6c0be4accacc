package output

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
)

// Boundary separates the parts of the multipart stream
const Boundary = "frame"

// NotRunningHTML is sent instead of a stream when the camera is stopped
const NotRunningHTML = "<h1>Camera is not running</h1>"

// MJPEGStream serves Motion JPEG over HTTP. Every client runs its own pull
// loop against the source, so a slow client never holds up capture or other
// clients.
type MJPEGStream struct {
	source Source
	cfg    Config
	clock  clock.Clock

	encode func(*frame.Frame) ([]byte, error)

	clients atomic.Int64
	sent    atomic.Uint64
}

// NewMJPEGStream creates a stream over source
func NewMJPEGStream(source Source, cfg Config) *MJPEGStream {
	cfg = cfg.withDefaults()
	m := &MJPEGStream{
		source: source,
		cfg:    cfg,
		clock:  cfg.Clock,
	}
	m.encode = func(f *frame.Frame) ([]byte, error) {
		return EncodeJPEG(f.Image, m.cfg.Quality)
	}
	return m
}

// Clients returns the number of connected stream clients
func (m *MJPEGStream) Clients() int {
	return int(m.clients.Load())
}

// FramesSent returns the number of parts written across all clients
func (m *MJPEGStream) FramesSent() uint64 {
	return m.sent.Load()
}

// ServeHTTP streams frames until the client goes away, the request context
// is cancelled or the camera stops.
func (m *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("mjpeg")

	if !m.source.IsRunning() {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, NotRunningHTML)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	count := m.clients.Add(1)
	log.Info().Str("remote", r.RemoteAddr).Int64("clients", count).Msg("Stream client connected")
	defer func() {
		count := m.clients.Add(-1)
		log.Info().Str("remote", r.RemoteAddr).Int64("clients", count).Msg("Stream client disconnected")
	}()

	ticker := m.clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		if !m.source.IsRunning() {
			return
		}

		if f, ok := m.source.Read(); ok {
			data, err := m.encode(f)
			if err != nil {
				log.Debug().Err(err).Uint64("seq", f.Seq).Msg("Skipping frame")
			} else {
				if err := writePart(w, data); err != nil {
					log.Debug().Err(err).Msg("Stream write failed")
					return
				}
				flusher.Flush()
				m.sent.Add(1)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
