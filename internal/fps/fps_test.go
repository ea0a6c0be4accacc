package fps

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestThirtyTicksInOneSecond(t *testing.T) {
	mock := clock.NewMock()
	e := New(mock)
	start := mock.Now()

	for i := 1; i <= 30; i++ {
		mock.Set(start.Add(time.Duration(i) * time.Second / 30))
		e.Tick()
	}

	assert.Equal(t, 30.0, e.Rate())
}

func TestNoRateBeforeWindowCompletes(t *testing.T) {
	mock := clock.NewMock()
	e := New(mock)

	for i := 0; i < 10; i++ {
		mock.Add(50 * time.Millisecond)
		e.Tick()
	}

	assert.Equal(t, 0.0, e.Rate())
}

func TestRateRoundedToOneDecimal(t *testing.T) {
	mock := clock.NewMock()
	e := New(mock)

	// 29 frames over 1.1s = 26.3636...
	for i := 0; i < 28; i++ {
		mock.Add(time.Second / 28)
		e.Tick()
	}
	mock.Add(1100*time.Millisecond - 28*(time.Second/28))
	e.Tick()

	assert.Equal(t, 26.4, e.Rate())
}

func TestWindowRestarts(t *testing.T) {
	mock := clock.NewMock()
	e := New(mock)

	for i := 0; i < 20; i++ {
		mock.Add(50 * time.Millisecond)
		e.Tick()
	}
	assert.Equal(t, 20.0, e.Rate())

	for i := 0; i < 10; i++ {
		mock.Add(100 * time.Millisecond)
		e.Tick()
	}
	assert.Equal(t, 10.0, e.Rate())
}

func TestResetStartsNewWindow(t *testing.T) {
	mock := clock.NewMock()
	e := New(mock)

	mock.Add(10 * time.Second)
	e.Reset()
	mock.Add(500 * time.Millisecond)
	e.Tick()
	assert.Equal(t, 0.0, e.Rate())
}

func TestRateConcurrentRead(t *testing.T) {
	mock := clock.NewMock()
	e := New(mock)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = e.Rate()
		}
	}()
	for i := 0; i < 200; i++ {
		mock.Add(10 * time.Millisecond)
		e.Tick()
	}
	wg.Wait()
	assert.Equal(t, 100.0, e.Rate())
}
