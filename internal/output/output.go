package output

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
)

// ErrEncodeFailure is returned when a frame cannot be encoded as JPEG
var ErrEncodeFailure = errors.New("jpeg encode failed")

// Source is what consumers pull frames from. *frame.Slot satisfies it.
type Source interface {
	Read() (*frame.Frame, bool)
	IsRunning() bool
}

// Config holds common configuration for stream outputs
type Config struct {
	// Interval between frames sent to one client
	Interval time.Duration
	// Quality is the JPEG quality, 1-100
	Quality int
	Clock   clock.Clock
}

// DefaultInterval is roughly 33 frames per second per client
const DefaultInterval = 30 * time.Millisecond

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = jpeg.DefaultQuality
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// EncodeJPEG encodes img at the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrEncodeFailure)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	return buf.Bytes(), nil
}
