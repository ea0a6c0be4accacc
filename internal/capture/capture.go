// Package capture owns the camera. A Session runs the capture loop that pulls
// frames from a Device and publishes them to a frame.Slot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/RoboEye/internal/config"
)

var (
	// ErrStartTimeout is returned by Start when the camera never reached running
	ErrStartTimeout = errors.New("camera did not start in time")

	// ErrCaptureFailure wraps any open or read error from the camera device.
	// The session is stopped when it occurs and must be started again.
	ErrCaptureFailure = errors.New("camera capture failed")

	// ErrStopTimeout is returned by Stop when the capture loop was still
	// running after the join timeout
	ErrStopTimeout = errors.New("capture loop did not exit in time")

	// ErrBusy is returned by Start while a previous capture loop is still exiting
	ErrBusy = errors.New("previous capture loop still running")

	// ErrNotRunning is returned by operations that need a live camera
	ErrNotRunning = errors.New("camera is not running")

	// ErrControlsUnsupported is returned when the device has no runtime controls
	ErrControlsUnsupported = errors.New("camera driver does not support controls")
)

// Device is an opened camera. It is used by exactly one goroutine, the
// capture loop, from Open until Close.
type Device interface {
	// Capture blocks until the next frame is available or ctx is done.
	// The returned image belongs to the caller.
	Capture(ctx context.Context) (*image.RGBA, error)

	// Close releases the camera
	Close() error
}

// Driver opens camera devices
type Driver interface {
	Name() string

	// Open configures and starts the camera. Resolution, flips, frame rate,
	// format and buffer depth are passed through from cfg.
	Open(ctx context.Context, cfg config.CameraConfig) (Device, error)
}

// Controls are driver specific runtime camera controls (brightness, exposure...)
type Controls map[string]interface{}

// Controllable is implemented by devices whose controls can change while running
type Controllable interface {
	SetControls(ctx context.Context, controls Controls) error
	Controls(ctx context.Context) (Controls, error)
}

// NewDriver returns the driver selected by cfg.Driver
func NewDriver(cfg config.CameraConfig) (Driver, error) {
	switch cfg.Driver {
	case config.DriverLibcamera:
		return &LibcameraDriver{}, nil
	case config.DriverV4L2:
		return &V4L2Driver{}, nil
	case config.DriverX11:
		return &X11Driver{}, nil
	case config.DriverFake:
		return &FakeDriver{Pattern: true}, nil
	}

	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown camera driver: %s", cfg.Driver)
	}
	return factory(), nil
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]func() Driver{}
)

// RegisterDriver makes a driver outside this package available to NewDriver.
// It is meant to be called from an init function.
func RegisterDriver(name string, factory func() Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("capture: RegisterDriver called twice for " + name)
	}
	drivers[name] = factory
}
