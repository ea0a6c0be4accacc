package control

import (
	"math"

	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/montanaflynn/stats"
)

// DefaultRow is the scanline sampled by LineSensor
const DefaultRow = 240

// FrameSource gives the latest frame
type FrameSource interface {
	Read() (*frame.Frame, bool)
}

// LineSensor samples one row of the latest frame and reports the mean
// brightness of its left half minus that of its right half. Both means are
// rounded half to even before subtracting.
type LineSensor struct {
	Frames FrameSource
	Row    int
}

// Offset implements Source
func (s LineSensor) Offset() (float64, bool) {
	f, ok := s.Frames.Read()
	if !ok {
		return 0, false
	}
	left, right, ok := RowBalance(f, s.Row)
	if !ok {
		return 0, false
	}
	return left - right, true
}

// RowBalance returns the rounded mean channel value of the left and right
// halves of row y. Alpha is ignored.
func RowBalance(f *frame.Frame, y int) (left, right float64, ok bool) {
	img := f.Image
	b := img.Bounds()
	if y < 0 || y >= b.Dy() || b.Dx() < 2 {
		return 0, 0, false
	}

	half := b.Dx() / 2
	row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]

	channels := func(from, to int) stats.Float64Data {
		data := make(stats.Float64Data, 0, (to-from)*3)
		for x := from; x < to; x++ {
			p := row[x*4 : x*4+3]
			data = append(data, float64(p[0]), float64(p[1]), float64(p[2]))
		}
		return data
	}

	l, err := stats.Mean(channels(0, half))
	if err != nil {
		return 0, 0, false
	}
	r, err := stats.Mean(channels(half, b.Dx()))
	if err != nil {
		return 0, 0, false
	}
	return math.RoundToEven(l), math.RoundToEven(r), true
}
