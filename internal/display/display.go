// Package display shows camera frames in a local window and on the web.
package display

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/api"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/bryanchriswhite/RoboEye/internal/netinfo"
	"go.uber.org/multierr"
)

const (
	// DefaultRefresh is the local preview rate, roughly 30 FPS
	DefaultRefresh = 30 * time.Millisecond
	// closeJoin bounds how long Close waits for the preview loop
	closeJoin = time.Second
)

// Display drives the local preview window and the web stream for one camera
type Display struct {
	camera api.Camera
	cfg    config.Config
	clock  clock.Clock

	openWindow func(name string, width, height int) (Renderer, error)

	mu          sync.Mutex
	localCancel context.CancelFunc
	localDone   chan struct{}

	server  *api.Server
	webAddr net.Addr
	webDone chan struct{}
}

// New creates a display for camera. Nothing is shown until ShowLocal or
// ShowWeb is called.
func New(camera api.Camera, cfg config.Config, clk clock.Clock) *Display {
	if clk == nil {
		clk = clock.New()
	}
	return &Display{
		camera: camera,
		cfg:    cfg,
		clock:  clk,
		openWindow: func(name string, width, height int) (Renderer, error) {
			return OpenWindow(name, width, height)
		},
	}
}

// ShowLocal opens the preview window and starts refreshing it from the
// latest frame. Returns false if there is no display to open it on.
func (d *Display) ShowLocal() bool {
	log := logger.WithComponent("display")

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.localDone != nil {
		select {
		case <-d.localDone:
		default:
			return true
		}
	}

	name := d.cfg.Display.WindowName
	if name == "" {
		name = "RoboEye"
	}
	w, err := d.openWindow(name, d.cfg.Camera.Width, d.cfg.Camera.Height)
	if err != nil {
		if errors.Is(err, ErrDisplayUnavailable) {
			log.Warn().Err(err).Msg("Local display failed: No display environment available")
		} else {
			log.Error().Err(err).Msg("Local display failed")
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.localCancel = cancel
	d.localDone = make(chan struct{})
	go d.runLocal(ctx, w, d.localDone)

	log.Info().Str("name", name).Msg("Local display started")
	return true
}

// runLocal refreshes w until the camera stops, the window is closed or ctx
// is cancelled. It owns w.
func (d *Display) runLocal(ctx context.Context, w Renderer, done chan struct{}) {
	log := logger.WithComponent("display")
	defer close(done)
	defer func() {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close preview window")
		}
	}()

	refresh := time.Duration(d.cfg.Display.RefreshMS) * time.Millisecond
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	ticker := d.clock.Ticker(refresh)
	defer ticker.Stop()

	slot := d.camera.Slot()
	var last uint64
	for {
		if !slot.IsRunning() {
			log.Info().Msg("Camera stopped, closing preview")
			return
		}

		if f, ok := slot.Read(); ok && f.Seq != last {
			if err := w.Show(f.Image); err != nil {
				log.Error().Err(err).Msg("Display error")
				return
			}
			last = f.Seq
		}

		select {
		case <-ctx.Done():
			return
		case <-w.Done():
			log.Info().Msg("Preview window closed by user")
			return
		case <-ticker.C:
		}
	}
}

// LocalActive reports whether the preview loop is running
func (d *Display) LocalActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.localDone == nil {
		return false
	}
	select {
	case <-d.localDone:
		return false
	default:
		return true
	}
}

// ShowWeb starts the HTTP stream server on port. Calling it again while the
// server runs is a no-op.
func (d *Display) ShowWeb(port int) error {
	log := logger.WithComponent("display")

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	d.server = api.NewServer(d.camera, d.cfg.Stream, d.clock)
	d.webAddr = ln.Addr()
	d.webDone = make(chan struct{})

	go func(srv *api.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil {
			log.Error().Err(err).Msg("Web server error")
		}
	}(d.server, d.webDone)

	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	for _, url := range netinfo.AccessURLs(port) {
		log.Info().Str("url", url).Msg("Web streaming enabled")
	}
	return nil
}

// WebAddr returns the address the web server listens on, or nil
func (d *Display) WebAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.webAddr
}

// Server returns the web server, or nil if ShowWeb was not called
func (d *Display) Server() *api.Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server
}

// Show enables the local window and/or the web stream. Returns true only if
// everything requested came up.
func (d *Display) Show(local, web bool, port int) bool {
	ok := true
	if local {
		ok = d.ShowLocal() && ok
	}
	if web {
		if err := d.ShowWeb(port); err != nil {
			logger.WithComponent("display").Error().Err(err).Msg("Web streaming failed")
			ok = false
		}
	}
	return ok
}

// Close stops the preview loop and the web server
func (d *Display) Close() error {
	d.mu.Lock()
	cancel, localDone := d.localCancel, d.localDone
	server, webDone := d.server, d.webDone
	d.localCancel, d.localDone = nil, nil
	d.server, d.webDone, d.webAddr = nil, nil, nil
	d.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		select {
		case <-localDone:
		case <-time.After(closeJoin):
			err = multierr.Append(err, errors.New("preview loop did not exit"))
		}
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = multierr.Append(err, server.Shutdown(ctx))
		<-webDone
	}
	return err
}
