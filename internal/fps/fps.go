// Package fps estimates the capture frame rate over a rolling one second window.
package fps

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Window is the length of one measurement window
const Window = time.Second

// Estimator counts ticks and recomputes the rate once per window.
// Tick and Reset belong to a single goroutine; Rate may be called from any.
type Estimator struct {
	clock clock.Clock

	count int
	start time.Time
	rate  atomic.Uint64 // math.Float64bits
}

// New returns an estimator using the given clock (clock.New() in production)
func New(clk clock.Clock) *Estimator {
	if clk == nil {
		clk = clock.New()
	}
	e := &Estimator{clock: clk}
	e.start = clk.Now()
	return e
}

// Reset starts a fresh window without clearing the last reported rate
func (e *Estimator) Reset() {
	e.count = 0
	e.start = e.clock.Now()
}

// Tick records one frame. Once a full window has elapsed the rate is
// recomputed as count/elapsed rounded to one decimal and the window restarts.
func (e *Estimator) Tick() {
	e.count++
	now := e.clock.Now()
	elapsed := now.Sub(e.start)
	if elapsed < Window {
		return
	}
	rate := float64(e.count) / elapsed.Seconds()
	e.rate.Store(math.Float64bits(math.Round(rate*10) / 10))
	e.count = 0
	e.start = now
}

// Rate returns the last computed rate in frames per second
func (e *Estimator) Rate() float64 {
	return math.Float64frombits(e.rate.Load())
}
