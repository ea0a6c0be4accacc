package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"golang.org/x/image/font"
)

// FPSStyle updates the FPS text. Zero fields keep their current value.
type FPSStyle struct {
	Show   bool
	Color  *color.RGBA
	Scale  float64
	Origin *image.Point
}

// Manager holds the overlay settings and the latest detection set. The
// capture loop snapshots it once per frame; any goroutine may update it.
// Apply must only be called from one goroutine since the FPS font face it
// hands to Render is shared between frames.
type Manager struct {
	mu sync.RWMutex

	showFPS   bool
	fpsColor  color.RGBA
	fpsScale  float64
	fpsOrigin *image.Point

	detectionsEnabled bool
	showConfidence    bool
	detections        []Detection

	// one face per scale, built on first use
	facesMu sync.Mutex
	faces   map[float64]font.Face
}

// NewManager creates a manager with nothing enabled
func NewManager() *Manager {
	return &Manager{
		fpsColor: White,
		fpsScale: DefaultFPSScale,
		faces:    make(map[float64]font.Face),
	}
}

// NewManagerFromConfig creates a manager from the overlay config section
func NewManagerFromConfig(cfg config.OverlayConfig) (*Manager, error) {
	m := NewManager()

	style := FPSStyle{Show: cfg.ShowFPS, Scale: cfg.FPSSize}
	if cfg.FPSColor != "" {
		c, err := ParseColor(cfg.FPSColor)
		if err != nil {
			return nil, err
		}
		style.Color = &c
	}
	if len(cfg.FPSOrigin) == 2 {
		style.Origin = &image.Point{X: cfg.FPSOrigin[0], Y: cfg.FPSOrigin[1]}
	} else if cfg.FPSOrigin != nil {
		return nil, fmt.Errorf("fps origin must have two coordinates, got %d", len(cfg.FPSOrigin))
	}

	m.SetFPS(style)
	m.EnableDetections(cfg.Detections, cfg.ShowConfidence)
	return m, nil
}

// SetFPS turns the FPS text on or off and optionally restyles it
func (m *Manager) SetFPS(style FPSStyle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.showFPS = style.Show
	if style.Color != nil {
		m.fpsColor = *style.Color
	}
	if style.Scale > 0 {
		m.fpsScale = style.Scale
	}
	if style.Origin != nil {
		o := *style.Origin
		m.fpsOrigin = &o
	}

	logger.WithComponent("overlay").Debug().
		Bool("show", m.showFPS).
		Float64("scale", m.fpsScale).
		Msg("FPS overlay updated")
}

// EnableDetections toggles drawing of the detection set
func (m *Manager) EnableDetections(enabled, showConfidence bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectionsEnabled = enabled
	m.showConfidence = showConfidence
}

// UpdateDetections replaces the detection set wholesale. The set keeps being
// drawn until the next update.
func (m *Manager) UpdateDetections(set []Detection) {
	cp := make([]Detection, len(set))
	copy(cp, set)

	m.mu.Lock()
	m.detections = cp
	m.mu.Unlock()
}

// Detections returns a copy of the current detection set
func (m *Manager) Detections() []Detection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make([]Detection, len(m.detections))
	copy(cp, m.detections)
	return cp
}

// Enabled reports whether any overlay is switched on
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.showFPS || m.detectionsEnabled
}

// Options snapshots the settings for one frame
func (m *Manager) Options(fps float64) Options {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts := Options{
		ShowFPS:        m.showFPS,
		FPS:            fps,
		FPSColor:       m.fpsColor,
		FPSScale:       m.fpsScale,
		FPSOrigin:      m.fpsOrigin,
		ShowConfidence: m.showConfidence,
	}
	if m.showFPS {
		opts.FPSFace = m.face(m.fpsScale)
	}
	if m.detectionsEnabled {
		// the slice is never mutated after UpdateDetections swaps it in
		opts.Detections = m.detections
	}
	return opts
}

// face returns the cached FPS face for scale
func (m *Manager) face(scale float64) font.Face {
	m.facesMu.Lock()
	defer m.facesMu.Unlock()
	f, ok := m.faces[scale]
	if !ok {
		f = NewFace(scale)
		m.faces[scale] = f
	}
	return f
}

// Apply annotates a copy of src with the current settings
func (m *Manager) Apply(src *image.RGBA, fps float64) *image.RGBA {
	if !m.Enabled() {
		return src
	}
	return Annotate(src, m.Options(fps))
}
