package control

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDProportional(t *testing.T) {
	p := NewPID(0.5, 0, 0)
	assert.Equal(t, 5.0, p.Compute(10, 1))
}

func TestPIDIntegralSaturates(t *testing.T) {
	p := NewPID(0, 1, 0)
	for i := 0; i < 200; i++ {
		p.Compute(1000, 1)
	}
	assert.Equal(t, IntegralLimit, p.Integral())
	assert.Equal(t, IntegralLimit, p.Compute(1000, 1))

	for i := 0; i < 200; i++ {
		p.Compute(-1000, 1)
	}
	assert.Equal(t, -IntegralLimit, p.Integral())
}

func TestPIDDerivative(t *testing.T) {
	p := NewPID(0, 0, 2)
	assert.Equal(t, 10.0, p.Compute(5, 1))
	// error unchanged: no derivative
	assert.Equal(t, 0.0, p.Compute(5, 0.5))
	assert.Equal(t, 10.0, p.Compute(10, 1))
}

func TestPIDNonPositiveDt(t *testing.T) {
	p := NewPID(1, 1, 1)
	assert.Equal(t, 3.0, p.Compute(3, 0))
	assert.Equal(t, 0.0, p.Integral())
	// the integral still moves, the derivative does not
	assert.Equal(t, 0.0, p.Compute(4, -1))
	assert.Equal(t, -4.0, p.Integral())
}

func TestPIDReset(t *testing.T) {
	p := NewPID(0, 1, 1)
	p.Compute(10, 1)
	p.Reset()
	assert.Equal(t, 0.0, p.Integral())
	// derivative starts again from zero
	assert.Equal(t, 1.0+1.0, p.Compute(1, 1))
}

func TestClampSteering(t *testing.T) {
	assert.Equal(t, 35.0, ClampSteering(100))
	assert.Equal(t, -35.0, ClampSteering(-36))
	assert.Equal(t, 12.5, ClampSteering(12.5))
}

func rowFrame(width, height, y int, left, right color.RGBA) *frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		c := left
		if x >= width/2 {
			c = right
		}
		img.SetRGBA(x, y, c)
	}
	return &frame.Frame{Image: img, Seq: 1}
}

type staticFrames struct{ f *frame.Frame }

func (s staticFrames) Read() (*frame.Frame, bool) { return s.f, s.f != nil }

func TestLineSensor(t *testing.T) {
	f := rowFrame(8, 4, 2,
		color.RGBA{R: 200, G: 200, B: 200, A: 255},
		color.RGBA{R: 30, G: 60, B: 90, A: 0},
	)

	left, right, ok := RowBalance(f, 2)
	require.True(t, ok)
	assert.Equal(t, 200.0, left)
	assert.Equal(t, 60.0, right)

	off, ok := LineSensor{Frames: staticFrames{f}, Row: 2}.Offset()
	require.True(t, ok)
	assert.Equal(t, 140.0, off)
}

func TestLineSensorRoundsHalfToEven(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 1))
	// left half averages 2.5, right half 3.5
	copy(img.Pix, []uint8{
		2, 2, 2, 255, 3, 3, 3, 255,
		3, 3, 3, 255, 4, 4, 4, 255,
	})

	left, right, ok := RowBalance(&frame.Frame{Image: img}, 0)
	require.True(t, ok)
	assert.Equal(t, 2.0, left)
	assert.Equal(t, 4.0, right)
}

func TestLineSensorUnavailable(t *testing.T) {
	_, ok := LineSensor{Frames: staticFrames{}, Row: 0}.Offset()
	assert.False(t, ok)

	f := rowFrame(8, 4, 0, color.RGBA{}, color.RGBA{})
	_, ok = LineSensor{Frames: staticFrames{f}, Row: 240}.Offset()
	assert.False(t, ok)
}

type recordingActuator struct {
	mu     sync.Mutex
	angles []float64
	err    error
}

func (a *recordingActuator) SetSteering(angle float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.angles = append(a.angles, angle)
	return a.err
}

func (a *recordingActuator) got() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.angles...)
}

type constSource struct {
	value float64
	ok    bool
}

func (s constSource) Offset() (float64, bool) { return s.value, s.ok }

func TestLoopUsesMeasuredDt(t *testing.T) {
	mock := clock.NewMock()
	cfg := config.Defaults().Control
	cfg.Kp, cfg.Ki, cfg.Kd = 0, 1, 0
	act := &recordingActuator{err: errors.New("servo busy")}
	loop := NewLoop(cfg, constSource{value: 10, ok: true}, act, mock)
	require.Equal(t, 100*time.Millisecond, loop.Period())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		mock.Add(100 * time.Millisecond)
		n := i
		require.Eventually(t, func() bool { return len(act.got()) == n }, time.Second, time.Millisecond)
	}

	angles := act.got()
	assert.InDelta(t, 1.0, angles[0], 1e-9)
	assert.InDelta(t, 2.0, angles[1], 1e-9)
	assert.InDelta(t, 3.0, angles[2], 1e-9)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopClampsAndSkipsMissingReadings(t *testing.T) {
	cfg := config.Defaults().Control
	loop := NewLoop(cfg, constSource{}, &recordingActuator{}, nil)

	assert.Equal(t, SteeringMax, loop.Step(1000, 0.1))
	loop.PID().Reset()
	assert.Equal(t, SteeringMin, loop.Step(-1000, 0.1))

	mock := clock.NewMock()
	act := &recordingActuator{}
	skip := NewLoop(cfg, constSource{ok: false}, act, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go skip.Run(ctx)
	time.Sleep(10 * time.Millisecond)
	mock.Add(500 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, act.got())
}

type scriptedSource struct {
	mu      sync.Mutex
	reading []bool
	value   float64
}

func (s *scriptedSource) Offset() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reading) == 0 {
		return 0, false
	}
	ok := s.reading[0]
	s.reading = s.reading[1:]
	return s.value, ok
}

func TestLoopResetsAfterMissingReadings(t *testing.T) {
	mock := clock.NewMock()
	cfg := config.Defaults().Control
	cfg.Kp, cfg.Ki, cfg.Kd = 0, 1, 1
	act := &recordingActuator{}
	src := &scriptedSource{reading: []bool{true, false, false, true}, value: 10}
	loop := NewLoop(cfg, src, act, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 4; i++ {
		mock.Add(100 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(act.got()) == 2 }, time.Second, time.Millisecond)

	// both readings start from a fresh controller over one nominal period:
	// integral 10*0.1 plus derivative 10/0.1 clamped to the servo range
	angles := act.got()
	assert.Equal(t, SteeringMax, angles[0])
	assert.Equal(t, angles[0], angles[1])
	assert.InDelta(t, 1.0, loop.PID().Integral(), 1e-9)
}
