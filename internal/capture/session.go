package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/fps"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
	"github.com/bryanchriswhite/RoboEye/internal/photo"
)

// State is the lifecycle state of a Session
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults for Options
const (
	DefaultStartTimeout = 5 * time.Second
	DefaultStopTimeout  = 3 * time.Second
)

// Options configures a Session
type Options struct {
	Camera       config.CameraConfig
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Overlay      *overlay.Manager
	Photos       *photo.Store
	Clock        clock.Clock
}

// Session is the single owner of a camera. Its capture loop is the only
// writer of the frame slot and the FPS estimator.
type Session struct {
	driver       Driver
	cfg          config.CameraConfig
	startTimeout time.Duration
	stopTimeout  time.Duration
	clock        clock.Clock

	slot    *frame.Slot
	fps     *fps.Estimator
	overlay *overlay.Manager
	photos  *photo.Store

	// mu serializes Start and Stop
	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	errMu   sync.Mutex
	lastErr error

	// set while running if the device accepts runtime controls
	controls atomic.Pointer[Controllable]
}

// NewSession creates an idle session for driver
func NewSession(driver Driver, opts Options) *Session {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Overlay == nil {
		opts.Overlay = overlay.NewManager()
	}
	if opts.Photos == nil {
		opts.Photos = photo.NewStore(nil, "", 0)
	}

	return &Session{
		driver:       driver,
		cfg:          opts.Camera,
		startTimeout: opts.StartTimeout,
		stopTimeout:  opts.StopTimeout,
		clock:        opts.Clock,
		slot:         frame.NewSlot(),
		fps:          fps.New(opts.Clock),
		overlay:      opts.Overlay,
		photos:       opts.Photos,
	}
}

// Slot is the publication point consumers read from
func (s *Session) Slot() *frame.Slot {
	return s.slot
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsRunning reports whether frames are being captured
func (s *Session) IsRunning() bool {
	return s.slot.IsRunning()
}

// Err returns the error that ended the last capture loop, if any
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// Start opens the camera on a dedicated goroutine and waits until the first
// capture can begin. Starting a running session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("capture")

	if s.State() == StateRunning {
		log.Info().Msg("Camera is already running")
		return nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrBusy
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setErr(nil)
	s.state.Store(int32(StateStarting))

	ready := make(chan struct{})
	go s.run(ctx, ready, s.done)

	timeout := s.clock.Timer(s.startTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
		log.Info().
			Str("driver", s.driver.Name()).
			Int("width", s.cfg.Width).
			Int("height", s.cfg.Height).
			Msg("Camera started")
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrCaptureFailure
	case <-timeout.C:
		if !s.state.CompareAndSwap(int32(StateStarting), int32(StateStopped)) {
			// the loop came up just as the timer fired
			return nil
		}
		cancel()
		log.Error().Dur("timeout", s.startTimeout).Msg("Camera did not start")
		s.setErr(ErrStartTimeout)
		return ErrStartTimeout
	}
}

// Stop asks the capture loop to exit and waits up to the stop timeout for it.
// Stopping a session that is not running is a no-op. On timeout the loop is
// left to finish on its own; it still releases the camera when it does.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	s.slot.SetRunning(false)
	s.cancel()

	timeout := s.clock.Timer(s.stopTimeout)
	defer timeout.Stop()

	select {
	case <-s.done:
		logger.WithComponent("capture").Info().
			Uint64("last_seq", s.slot.Seq()).
			Msg("Camera stopped")
		return nil
	case <-timeout.C:
		s.state.Store(int32(StateStopped))
		logger.WithComponent("capture").Warn().
			Dur("timeout", s.stopTimeout).
			Msg("Capture loop still running after stop timeout")
		return ErrStopTimeout
	}
}

// run is the capture loop. It owns the device for its whole lifetime.
func (s *Session) run(ctx context.Context, ready, done chan struct{}) {
	log := logger.WithComponent("capture")

	var dev Device
	defer func() {
		s.slot.SetRunning(false)
		s.controls.Store(nil)
		if dev != nil {
			if err := dev.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close camera")
			}
		}
		s.state.Store(int32(StateStopped))
		close(done)
	}()

	var err error
	dev, err = s.driver.Open(ctx, s.cfg)
	if err != nil {
		if ctx.Err() == nil {
			s.setErr(fmt.Errorf("%w: open %s: %v", ErrCaptureFailure, s.driver.Name(), err))
			log.Error().Err(err).Str("driver", s.driver.Name()).Msg("Failed to open camera")
		}
		return
	}

	if !s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return
	}
	if c, ok := dev.(Controllable); ok {
		s.controls.Store(&c)
	}
	s.fps.Reset()
	s.slot.SetRunning(true)
	close(ready)

	for {
		if ctx.Err() != nil {
			return
		}

		img, err := dev.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("%w: %v", ErrCaptureFailure, err))
			log.Error().Err(err).Uint64("last_seq", s.slot.Seq()).Msg("Camera error")
			return
		}

		s.fps.Tick()
		s.slot.Publish(s.overlay.Apply(img, s.fps.Rate()), s.clock.Now())
	}
}

// Frame returns the latest published frame
func (s *Session) Frame() (*frame.Frame, bool) {
	return s.slot.Read()
}

// FPS returns the last measured capture rate
func (s *Session) FPS() float64 {
	return s.fps.Rate()
}

// ShowFPS configures the FPS text overlay
func (s *Session) ShowFPS(style overlay.FPSStyle) {
	s.overlay.SetFPS(style)
}

// EnableDetectionOverlay turns on drawing of detection boxes, optionally with
// confidence labels
func (s *Session) EnableDetectionOverlay(showConfidence bool) {
	s.overlay.EnableDetections(true, showConfidence)
}

// UpdateDetections replaces the detection set drawn on the next frames
func (s *Session) UpdateDetections(set []overlay.Detection) {
	s.overlay.UpdateDetections(set)
}

// Detections returns the current detection set
func (s *Session) Detections() []overlay.Detection {
	return s.overlay.Detections()
}

// SetControls passes controls to the device while running
func (s *Session) SetControls(ctx context.Context, controls Controls) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	c := s.controls.Load()
	if c == nil {
		return ErrControlsUnsupported
	}
	return (*c).SetControls(ctx, controls)
}

// Controls reads the device controls while running
func (s *Session) Controls(ctx context.Context) (Controls, error) {
	if !s.IsRunning() {
		return nil, ErrNotRunning
	}
	c := s.controls.Load()
	if c == nil {
		return nil, ErrControlsUnsupported
	}
	return (*c).Controls(ctx)
}

// TakePhoto saves the latest frame as <dir>/<name>.jpg. An empty dir uses
// the photo store default. Returns false if the camera is not running, no
// frame exists yet or the write failed.
func (s *Session) TakePhoto(name, dir string) bool {
	if !s.IsRunning() {
		return false
	}
	f, ok := s.slot.Read()
	if !ok {
		return false
	}
	return s.photos.Save(name, dir, f.Image)
}
