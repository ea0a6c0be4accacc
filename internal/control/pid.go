// Package control turns a scalar error derived from camera frames into a
// steering command at a fixed rate.
package control

// IntegralLimit bounds the accumulated integral term in both directions
const IntegralLimit = 100.0

// Steering limits of the servo, in degrees
const (
	SteeringMin = -35.0
	SteeringMax = 35.0
)

// PID is a proportional-integral-derivative controller. It is not safe for
// concurrent use; a Loop owns one.
type PID struct {
	Kp, Ki, Kd float64

	integral  float64
	prevError float64
}

// NewPID creates a controller with the given gains
func NewPID(kp, ki, kd float64) *PID {
	return &PID{Kp: kp, Ki: ki, Kd: kd}
}

// Compute advances the controller by dt seconds with the current error and
// returns the raw output. The caller clamps it to actuator limits. A dt of
// zero or less contributes no derivative.
func (p *PID) Compute(err, dt float64) float64 {
	p.integral += err * dt
	p.integral = Clamp(p.integral, -IntegralLimit, IntegralLimit)

	derivative := 0.0
	if dt > 0 {
		derivative = (err - p.prevError) / dt
	}

	out := p.Kp*err + p.Ki*p.integral + p.Kd*derivative
	p.prevError = err
	return out
}

// Integral returns the accumulated integral term
func (p *PID) Integral() float64 {
	return p.integral
}

// Reset clears the integral and the previous error
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampSteering limits v to the servo range
func ClampSteering(v float64) float64 {
	return Clamp(v, SteeringMin, SteeringMax)
}
