package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/config"
)

// FakeDriver produces synthetic frames. Frame n has n written big-endian
// into the first four bytes of its pixel data, so tests can recover it with
// FakeFrameNumber.
type FakeDriver struct {
	// Interval between frames; zero means as fast as possible
	Interval time.Duration
	// Pattern draws a moving gradient instead of a flat frame
	Pattern bool
	// FailAfter makes Capture fail after that many frames (0 = never)
	FailAfter int
	// OpenDelay blocks Open, honoring ctx
	OpenDelay time.Duration
	// OpenErr is returned from Open
	OpenErr error
	// Release, when set, makes Capture hang until it is closed, ignoring ctx
	Release chan struct{}

	mu     sync.Mutex
	opened int
	closed int
}

// ErrFakeFailure is returned by a fake device once FailAfter is reached
var ErrFakeFailure = errors.New("fake camera failure")

// Name returns the driver name
func (d *FakeDriver) Name() string {
	return config.DriverFake
}

// Open returns a new fake device
func (d *FakeDriver) Open(ctx context.Context, cfg config.CameraConfig) (Device, error) {
	if d.OpenDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.OpenDelay):
		}
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	d.mu.Lock()
	d.opened++
	d.mu.Unlock()

	interval := d.Interval
	if interval == 0 && cfg.FrameRate > 0 && d.Pattern {
		interval = time.Second / time.Duration(cfg.FrameRate)
	}
	return &fakeDevice{driver: d, cfg: cfg, interval: interval, controls: Controls{}}, nil
}

// Counts returns how many devices were opened and closed
func (d *FakeDriver) Counts() (opened, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed
}

// FakeFrameNumber recovers the frame number written by a fake device
func FakeFrameNumber(img *image.RGBA) uint32 {
	return binary.BigEndian.Uint32(img.Pix[:4])
}

type fakeDevice struct {
	driver   *FakeDriver
	cfg      config.CameraConfig
	interval time.Duration
	n        uint32

	mu       sync.Mutex
	controls Controls
}

func (f *fakeDevice) Capture(ctx context.Context) (*image.RGBA, error) {
	if f.driver.Release != nil {
		<-f.driver.Release
	}
	if f.interval > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.interval):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.driver.FailAfter > 0 && int(f.n) >= f.driver.FailAfter {
		return nil, ErrFakeFailure
	}
	f.n++

	img := image.NewRGBA(image.Rect(0, 0, f.cfg.Width, f.cfg.Height))
	if f.driver.Pattern {
		shift := int(f.n)
		for y := 0; y < f.cfg.Height; y++ {
			for x := 0; x < f.cfg.Width; x++ {
				i := img.PixOffset(x, y)
				img.Pix[i] = uint8(x + shift)
				img.Pix[i+1] = uint8(y + shift)
				img.Pix[i+2] = uint8(x + y)
				img.Pix[i+3] = 255
			}
		}
	}
	img = Flip(img, f.cfg.HFlip, f.cfg.VFlip)
	binary.BigEndian.PutUint32(img.Pix[:4], f.n)
	return img, nil
}

func (f *fakeDevice) Close() error {
	f.driver.mu.Lock()
	f.driver.closed++
	f.driver.mu.Unlock()
	return nil
}

func (f *fakeDevice) SetControls(_ context.Context, controls Controls) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range controls {
		f.controls[k] = v
	}
	return nil
}

func (f *fakeDevice) Controls(_ context.Context) (Controls, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(Controls, len(f.controls))
	for k, v := range f.controls {
		out[k] = v
	}
	return out, nil
}
