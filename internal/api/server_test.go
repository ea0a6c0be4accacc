package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/RoboEye/internal/capture"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *capture.Session {
	t.Helper()
	cam := config.Defaults().Camera
	cam.Driver = config.DriverFake
	cam.Width = 64
	cam.Height = 48
	s := capture.NewSession(&capture.FakeDriver{Interval: 2 * time.Millisecond}, capture.Options{Camera: cam})
	t.Cleanup(func() { s.Stop() })
	return s
}

func streamConfig() config.StreamConfig {
	cfg := config.Defaults().Stream
	cfg.IntervalMS = 5
	return cfg
}

func TestIndexReferencesVideoFeed(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestSession(t), streamConfig(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `src="/video_feed"`)
}

func TestRoutesAreReadOnly(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestSession(t), streamConfig(), nil).Handler())
	defer srv.Close()

	paths := []string{"/", "/video_feed", "/still.jpg", "/api/status", "/api/status/ws", "/api/health"}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		for _, path := range paths {
			req, err := http.NewRequest(method, srv.URL+path, strings.NewReader("x"))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, method+" "+path)
		}
	}
}

func TestStillBeforeStart(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestSession(t), streamConfig(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/still.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "Camera not available")
}

func TestVideoFeedWhenStopped(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestSession(t), streamConfig(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/video_feed")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "<h1>Camera is not running</h1>", string(body))
}

func TestTwoClientsStreamIndependently(t *testing.T) {
	session := newTestSession(t)
	require.NoError(t, session.Start())

	s := NewServer(session, streamConfig(), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	const parts = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- readJPEGParts(srv.URL+"/video_feed", parts, 64, 48)
		}()
	}

	// both clients connected at once
	assert.Eventually(t, func() bool { return s.Stream().Clients() == 2 }, 2*time.Second, time.Millisecond)

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return s.Stream().Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, session.IsRunning(), "disconnecting clients must not stop the camera")
}

func readJPEGParts(url string, n, width, height int) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < n; i++ {
		part, err := mr.NextPart()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return err
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return err
		}
		if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func TestVideoFeedEndsOnStop(t *testing.T) {
	session := newTestSession(t)
	require.NoError(t, session.Start())

	srv := httptest.NewServer(NewServer(session, streamConfig(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/video_feed")
	require.NoError(t, err)
	defer resp.Body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, session.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after camera stop")
	}
}

func TestStatus(t *testing.T) {
	session := newTestSession(t)
	s := NewServer(session, streamConfig(), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var st Status
	getJSON(t, srv.URL+"/api/status", &st)
	assert.Equal(t, "idle", st.State)
	assert.False(t, st.Running)
	assert.Equal(t, uint64(0), st.Seq)
	assert.Empty(t, st.Detections)

	require.NoError(t, session.Start())
	require.Eventually(t, func() bool { return session.Slot().Seq() > 0 }, 2*time.Second, time.Millisecond)
	session.UpdateDetections([]overlay.Detection{overlay.NewDetection(1, 2, 30, 40, 0.9)})

	getJSON(t, srv.URL+"/api/status", &st)
	assert.Equal(t, "running", st.State)
	assert.True(t, st.Running)
	assert.NotZero(t, st.Seq)
	assert.Equal(t, 64, st.Width)
	assert.Equal(t, 48, st.Height)
	require.Len(t, st.Detections, 1)
	assert.Equal(t, DetectionStatus{X1: 1, Y1: 2, X2: 30, Y2: 40, Confidence: 0.9}, st.Detections[0])
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestSession(t), streamConfig(), nil).Handler())
	defer srv.Close()

	var body map[string]string
	getJSON(t, srv.URL+"/api/health", &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestStatusWebSocket(t *testing.T) {
	mock := clock.NewMock()
	s := NewServer(newTestSession(t), streamConfig(), mock)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st Status
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, "idle", st.State)

	mock.Add(StatusInterval)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, "idle", st.State)
}

func TestServeAndShutdown(t *testing.T) {
	session := newTestSession(t)
	require.NoError(t, session.Start())
	s := NewServer(session, streamConfig(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/video_feed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return s.Stream().Clients() == 1 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	assert.Equal(t, 0, s.Stream().Clients())
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
