package detection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
)

// DefaultInterval matches checking every 30 frames at 30 FPS
const DefaultInterval = time.Second

// Camera is what the feed reads frames from and pushes detections into
type Camera interface {
	Frame() (*frame.Frame, bool)
	IsRunning() bool
	UpdateDetections(set []overlay.Detection)
}

// Result is the outcome of one detection cycle
type Result struct {
	Seq        uint64
	Width      int
	Height     int
	Detections []overlay.Detection
	At         time.Time
}

// Feed periodically runs a detector on the latest frame and hands the
// detections to the camera overlay
type Feed struct {
	camera   Camera
	detector Detector
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock

	latest atomic.Pointer[Result]
}

// NewFeed creates a feed. A zero interval uses DefaultInterval.
func NewFeed(camera Camera, detector Detector, interval, timeout time.Duration, clk clock.Clock) *Feed {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Feed{
		camera:   camera,
		detector: detector,
		interval: interval,
		timeout:  timeout,
		clock:    clk,
	}
}

// Latest returns the most recent result, if any
func (f *Feed) Latest() (*Result, bool) {
	r := f.latest.Load()
	return r, r != nil
}

// Run detects once per interval until ctx is done. Detector errors are
// logged and the cycle is skipped.
func (f *Feed) Run(ctx context.Context) error {
	log := logger.WithComponent("detection")
	ticker := f.clock.Ticker(f.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", f.interval).Msg("Detection feed started")

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Detection feed stopped")
			return nil
		case <-ticker.C:
		}

		if !f.camera.IsRunning() {
			continue
		}
		fr, ok := f.camera.Frame()
		if !ok || fr.Seq == lastSeq {
			continue
		}
		lastSeq = fr.Seq

		if _, err := f.Cycle(ctx, fr); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Uint64("seq", fr.Seq).Msg("Detection failed")
		}
	}
}

// Cycle runs the detector on one frame and publishes the result
func (f *Feed) Cycle(ctx context.Context, fr *frame.Frame) (*Result, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	set, err := f.detector.Detect(ctx, fr.Image)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Seq:        fr.Seq,
		Width:      fr.Width(),
		Height:     fr.Height(),
		Detections: set,
		At:         f.clock.Now(),
	}
	f.latest.Store(result)
	f.camera.UpdateDetections(set)

	if len(set) > 0 {
		log := logger.WithComponent("detection")
		log.Info().Int("count", len(set)).Uint64("seq", fr.Seq).Msg("Objects detected")
		for i, d := range set {
			c := Center(d)
			log.Debug().
				Int("object", i+1).
				Int("center_x", c.X).
				Int("center_y", c.Y).
				Float64("confidence", d.Confidence).
				Msg("Object")
		}
	}
	return result, nil
}

// OffsetSource turns the most confident detection into a horizontal
// steering error: its center x minus the frame center x
type OffsetSource struct {
	Feed *Feed
	// MaxAge drops results older than this; zero keeps them forever
	MaxAge time.Duration
}

// Offset implements control.Source
func (s OffsetSource) Offset() (float64, bool) {
	r, ok := s.Feed.Latest()
	if !ok || len(r.Detections) == 0 {
		return 0, false
	}
	if s.MaxAge > 0 && s.Feed.clock.Since(r.At) > s.MaxAge {
		return 0, false
	}

	best := Strongest(r.Detections)
	return float64(Center(best).X - r.Width/2), true
}

// Strongest returns the detection with the highest confidence. The first
// one wins a tie. set must not be empty.
func Strongest(set []overlay.Detection) overlay.Detection {
	best := set[0]
	for _, d := range set[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best
}
