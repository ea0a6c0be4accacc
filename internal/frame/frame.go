// Package frame holds the latest-frame-wins publication point shared by the
// capture loop and every consumer.
//
// Exactly one writer (the capture session) calls Publish. Any number of
// readers call Read. A published Frame is never modified again, so readers
// may hold on to it for as long as they like without locking.
package frame

import (
	"image"
	"sync/atomic"
	"time"
)

// Frame is one captured image with its sequence number.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64
	CapturedAt time.Time
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Slot stores the most recent frame. Older frames are dropped, never queued.
type Slot struct {
	current atomic.Pointer[Frame]
	seq     atomic.Uint64
	running atomic.Bool
}

// NewSlot returns an empty, stopped slot
func NewSlot() *Slot {
	return &Slot{}
}

// Publish wraps img in a new Frame with the next sequence number and makes it
// the current frame. img must not be modified by the caller afterwards.
func (s *Slot) Publish(img *image.RGBA, capturedAt time.Time) *Frame {
	f := &Frame{
		Image:      img,
		Seq:        s.seq.Add(1),
		CapturedAt: capturedAt,
	}
	s.current.Store(f)
	return f
}

// Read returns the latest published frame, or false if nothing has been
// published yet.
func (s *Slot) Read() (*Frame, bool) {
	f := s.current.Load()
	return f, f != nil
}

// Seq returns the sequence number of the last published frame (0 if none)
func (s *Slot) Seq() uint64 {
	return s.seq.Load()
}

// IsRunning reports whether the producer is live
func (s *Slot) IsRunning() bool {
	return s.running.Load()
}

// SetRunning is called by the producer on state transitions
func (s *Slot) SetRunning(running bool) {
	s.running.Store(running)
}
