package gstreamer

import (
	"testing"

	"github.com/bryanchriswhite/RoboEye/internal/capture"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	cfg := config.Defaults().Camera
	cfg.Driver = config.DriverGStreamer

	d, err := capture.NewDriver(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DriverGStreamer, d.Name())
}

func TestPipeline(t *testing.T) {
	cfg := config.Defaults().Camera
	cfg.HFlip = true

	p := (&Driver{}).Pipeline(cfg)
	assert.Contains(t, p, "libcamerasrc ! video/x-raw,width=640,height=480")
	assert.Contains(t, p, "videoflip method=horizontal-flip")
	assert.Contains(t, p, "! appsink name=sink emit-signals=false max-buffers=2 drop=true")

	cfg.Source = "v4l2src device=/dev/video2"
	p = (&Driver{}).Pipeline(cfg)
	assert.Regexp(t, `^v4l2src device=/dev/video2 ! `, p)
}

func TestFrameFromBytes(t *testing.T) {
	data := make([]byte, 2*2*4)
	for i := range data {
		data[i] = byte(i)
	}

	img, err := frameFromBytes(data, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, data, img.Pix)
	assert.Equal(t, 8, img.Stride)

	_, err = frameFromBytes(data[:10], 2, 2)
	assert.Error(t, err)
}
