package detection

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yoloServer(t *testing.T, boxes []YOLOBox) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		img, err := jpeg.Decode(file)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, image.Rect(0, 0, 416, 416), img.Bounds())
		assert.Equal(t, "0.700", r.FormValue("conf_threshold"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(YOLOResult{Detections: boxes, Count: len(boxes)})
	}))
}

func detectorFor(url string) *HTTPDetector {
	cfg := config.Defaults().Detection
	cfg.Endpoint = url
	return NewHTTPDetector(cfg)
}

func TestHTTPDetectorMapsBoxes(t *testing.T) {
	srv := yoloServer(t, []YOLOBox{
		{Class: "stop sign", Confidence: 0.9, BBox: []float64{208, 208, 416, 416}},
		{Class: "person", Confidence: 0.7, BBox: []float64{0, 0, 10, 10}},
		{Class: "broken", Confidence: 0.99, BBox: []float64{1, 2}},
	})
	defer srv.Close()

	set, err := detectorFor(srv.URL).Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 640, 480)))
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, image.Rect(320, 240, 640, 480), set[0].Box)
	assert.Equal(t, 0.9, set[0].Confidence)
	assert.Equal(t, image.Pt(480, 360), Center(set[0]))
}

func TestHTTPDetectorServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := detectorFor(srv.URL).Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPDetectorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := detectorFor(url).Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

type stubCamera struct {
	slot *frame.Slot

	mu      sync.Mutex
	updates [][]overlay.Detection
}

func (c *stubCamera) Frame() (*frame.Frame, bool) { return c.slot.Read() }
func (c *stubCamera) IsRunning() bool             { return c.slot.IsRunning() }

func (c *stubCamera) UpdateDetections(set []overlay.Detection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, set)
}

func (c *stubCamera) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

type stubDetector struct {
	set []overlay.Detection
	err error

	mu    sync.Mutex
	calls int
}

func (d *stubDetector) Detect(ctx context.Context, img image.Image) ([]overlay.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.set, d.err
}

func (d *stubDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newCamera(width, height int) *stubCamera {
	slot := frame.NewSlot()
	slot.SetRunning(true)
	slot.Publish(image.NewRGBA(image.Rect(0, 0, width, height)), time.Now())
	return &stubCamera{slot: slot}
}

func TestFeedCycleUpdatesOverlay(t *testing.T) {
	cam := newCamera(640, 480)
	det := &stubDetector{set: []overlay.Detection{
		overlay.NewDetection(100, 100, 200, 200, 0.8),
		overlay.NewDetection(400, 100, 500, 200, 0.95),
	}}
	mock := clock.NewMock()
	feed := NewFeed(cam, det, 0, time.Second, mock)

	fr, _ := cam.Frame()
	result, err := feed.Cycle(context.Background(), fr)
	require.NoError(t, err)
	assert.Equal(t, 640, result.Width)
	assert.Equal(t, 1, cam.count())

	// strongest box centered at x=450, frame center 320
	off, ok := OffsetSource{Feed: feed}.Offset()
	require.True(t, ok)
	assert.Equal(t, 130.0, off)

	stale := OffsetSource{Feed: feed, MaxAge: time.Second}
	mock.Add(2 * time.Second)
	_, ok = stale.Offset()
	assert.False(t, ok)
}

func TestFeedCycleError(t *testing.T) {
	cam := newCamera(64, 48)
	feed := NewFeed(cam, &stubDetector{err: errors.New("boom")}, 0, 0, nil)

	fr, _ := cam.Frame()
	_, err := feed.Cycle(context.Background(), fr)
	assert.Error(t, err)
	assert.Equal(t, 0, cam.count())

	_, ok := feed.Latest()
	assert.False(t, ok)
	_, ok = OffsetSource{Feed: feed}.Offset()
	assert.False(t, ok)
}

func TestFeedRunSkipsUnchangedFrames(t *testing.T) {
	cam := newCamera(64, 48)
	det := &stubDetector{}
	mock := clock.NewMock()
	feed := NewFeed(cam, det, time.Second, 0, mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	// let Run create its ticker before moving the clock
	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Second)
	require.Eventually(t, func() bool { return det.callCount() == 1 }, time.Second, time.Millisecond)

	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, det.callCount(), "same frame is not detected twice")

	cam.slot.Publish(image.NewRGBA(image.Rect(0, 0, 64, 48)), time.Now())
	mock.Add(time.Second)
	require.Eventually(t, func() bool { return det.callCount() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestStrongest(t *testing.T) {
	set := []overlay.Detection{
		overlay.NewDetection(0, 0, 1, 1, 0.5),
		overlay.NewDetection(0, 0, 2, 2, 0.9),
		overlay.NewDetection(0, 0, 3, 3, 0.9),
	}
	assert.Equal(t, set[1], Strongest(set))
}
