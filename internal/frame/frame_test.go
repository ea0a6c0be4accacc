package frame

import (
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestReadBeforePublish(t *testing.T) {
	s := NewSlot()
	f, ok := s.Read()
	assert.False(t, ok)
	assert.Nil(t, f)
	assert.Equal(t, uint64(0), s.Seq())
	assert.False(t, s.IsRunning())
}

func TestPublishAssignsSequence(t *testing.T) {
	s := NewSlot()
	now := time.Now()

	first := s.Publish(solid(4, 4, 1), now)
	second := s.Publish(solid(4, 4, 2), now.Add(time.Millisecond))

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)

	got, ok := s.Read()
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 4, got.Width())
	assert.Equal(t, 4, got.Height())
}

func TestFrameSurvivesStop(t *testing.T) {
	s := NewSlot()
	s.SetRunning(true)
	s.Publish(solid(2, 2, 7), time.Now())
	s.SetRunning(false)

	got, ok := s.Read()
	require.True(t, ok)
	assert.False(t, s.IsRunning())
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, color.RGBA{7, 7, 7, 7}, got.Image.RGBAAt(0, 0))
}

// Readers racing the writer must see non-decreasing sequences and frames
// whose pixels all come from a single publish.
func TestConcurrentReadersSeeWholeFramesInOrder(t *testing.T) {
	const (
		publishes = 2000
		readers   = 8
	)
	s := NewSlot()
	s.SetRunning(true)

	var wg sync.WaitGroup
	errs := make(chan string, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for s.IsRunning() {
				f, ok := s.Read()
				if !ok {
					continue
				}
				if f.Seq < last {
					errs <- "sequence went backwards"
					return
				}
				last = f.Seq
				want := uint8(f.Seq % 251)
				for _, p := range f.Image.Pix {
					if p != want {
						errs <- "torn frame"
						return
					}
				}
			}
		}()
	}

	for i := 1; i <= publishes; i++ {
		s.Publish(solid(16, 16, uint8(uint64(i)%251)), time.Now())
	}
	s.SetRunning(false)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Fatal(e)
	}
	assert.Equal(t, uint64(publishes), s.Seq())
}
