package control

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
)

// DefaultRate is the control tick rate in Hz
const DefaultRate = 10.0

// Source produces the error the controller drives to zero. ok is false when
// no reading is available this tick.
type Source interface {
	Offset() (value float64, ok bool)
}

// Actuator applies a steering angle in degrees
type Actuator interface {
	SetSteering(angle float64) error
}

// LogActuator only logs the steering it is given
type LogActuator struct{}

// SetSteering logs angle
func (LogActuator) SetSteering(angle float64) error {
	logger.WithComponent("steering").Info().Float64("angle", angle).Msg("Steering")
	return nil
}

// Loop runs a PID controller at a fixed rate
type Loop struct {
	pid      *PID
	source   Source
	actuator Actuator
	period   time.Duration
	min, max float64
	clock    clock.Clock
}

// NewLoop creates a loop from configuration
func NewLoop(cfg config.ControlConfig, source Source, actuator Actuator, clk clock.Clock) *Loop {
	rate := cfg.RateHz
	if rate <= 0 {
		rate = DefaultRate
	}
	lo, hi := cfg.SteeringMin, cfg.SteeringMax
	if lo == 0 && hi == 0 {
		lo, hi = SteeringMin, SteeringMax
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		pid:      NewPID(cfg.Kp, cfg.Ki, cfg.Kd),
		source:   source,
		actuator: actuator,
		period:   time.Duration(float64(time.Second) / rate),
		min:      lo,
		max:      hi,
		clock:    clk,
	}
}

// Period returns the tick period
func (l *Loop) Period() time.Duration {
	return l.period
}

// PID returns the loop's controller
func (l *Loop) PID() *PID {
	return l.pid
}

// Step computes and clamps one output for err over dt seconds
func (l *Loop) Step(err, dt float64) float64 {
	return Clamp(l.pid.Compute(err, dt), l.min, l.max)
}

// Run ticks until ctx is done. dt is the measured time between ticks; the
// first tick uses the nominal period. Ticks without a reading are skipped,
// and the controller starts over when readings come back.
func (l *Loop) Run(ctx context.Context) error {
	log := logger.WithComponent("control")
	ticker := l.clock.Ticker(l.period)
	defer ticker.Stop()

	log.Info().
		Dur("period", l.period).
		Float64("kp", l.pid.Kp).
		Float64("ki", l.pid.Ki).
		Float64("kd", l.pid.Kd).
		Msg("Control loop started")

	var last time.Time
	gap := false
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Control loop stopped")
			return nil
		case <-ticker.C:
		}

		value, ok := l.source.Offset()
		if !ok {
			last = time.Time{}
			gap = true
			continue
		}
		if gap {
			log.Debug().Msg("Readings resumed, resetting controller")
			l.pid.Reset()
			gap = false
		}

		now := l.clock.Now()
		dt := l.period.Seconds()
		if !last.IsZero() {
			dt = now.Sub(last).Seconds()
		}
		last = now

		angle := l.Step(value, dt)
		if err := l.actuator.SetSteering(angle); err != nil {
			log.Warn().Err(err).Float64("angle", angle).Msg("Failed to set steering")
		}
	}
}
