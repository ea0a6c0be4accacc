// Package gstreamer captures frames in-process through a GStreamer appsink.
// Importing it registers the "gstreamer" camera driver.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/capture"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// DefaultSource is used when the camera config names no source element
const DefaultSource = "libcamerasrc"

// pollInterval bounds each appsink pull so Capture notices cancellation
const pollInterval = 20 * time.Millisecond

// ErrNoSample is returned when the pipeline produced nothing for a whole
// sample timeout
var ErrNoSample = errors.New("no sample from pipeline")

var initOnce sync.Once

func init() {
	capture.RegisterDriver(config.DriverGStreamer, func() capture.Driver { return &Driver{} })
}

// Driver builds a GStreamer pipeline from the camera config
type Driver struct {
	// SampleTimeout fails Capture if no frame arrives in time; zero means 5s
	SampleTimeout time.Duration
}

// Name returns the driver name
func (d *Driver) Name() string {
	return config.DriverGStreamer
}

// Pipeline returns the launch string for cfg. cfg.Source selects the source
// element, e.g. "v4l2src device=/dev/video0".
func (d *Driver) Pipeline(cfg config.CameraConfig) string {
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	parts := append(capture.RawPipeline(source, cfg),
		"appsink name=sink emit-signals=false max-buffers=2 drop=true")
	return strings.Join(parts, " ! ")
}

// Open creates the pipeline and sets it playing
func (d *Driver) Open(ctx context.Context, cfg config.CameraConfig) (capture.Device, error) {
	log := logger.WithComponent("gstreamer")
	initOnce.Do(func() { gst.Init(nil) })

	launch := d.Pipeline(cfg)
	log.Debug().Str("pipeline", launch).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	timeout := d.SampleTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("GStreamer pipeline started")

	return &device{
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		timeout:  timeout,
	}, nil
}

type device struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	timeout  time.Duration
}

// Capture polls the appsink until a sample arrives
func (d *device) Capture(ctx context.Context) (*image.RGBA, error) {
	deadline := time.Now().Add(d.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// go-gst releases the sample itself; unreffing it here double-frees
		if sample := d.sink.TryPullSample(pollInterval); sample != nil {
			img, err := toRGBA(sample)
			if err != nil {
				return nil, err
			}
			return img, nil
		}
		if d.sink.IsEOS() {
			return nil, errors.New("pipeline reached end of stream")
		}
		if time.Now().After(deadline) {
			return nil, ErrNoSample
		}
	}
}

func (d *device) Close() error {
	err := d.pipeline.SetState(gst.StateNull)
	d.pipeline.Unref()
	logger.WithComponent("gstreamer").Info().Msg("GStreamer pipeline stopped")
	return err
}

// toRGBA copies an RGBA sample into a new image sized from its caps
func toRGBA(sample *gst.Sample) (*image.RGBA, error) {
	buffer := sample.GetBuffer()
	caps := sample.GetCaps()
	if buffer == nil || caps == nil {
		return nil, errors.New("empty sample")
	}

	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil, errors.New("sample without caps structure")
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, wok := width.(int)
	h, hok := height.(int)
	if !wok || !hok {
		return nil, fmt.Errorf("sample caps without size: %v", structure)
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, errors.New("failed to map sample buffer")
	}
	defer buffer.Unmap()

	return frameFromBytes(mapInfo.Bytes(), w, h)
}

// frameFromBytes copies tightly packed RGBA pixels into a new image
func frameFromBytes(data []byte, w, h int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if len(data) < len(img.Pix) {
		return nil, fmt.Errorf("short sample (%d of %d bytes)", len(data), len(img.Pix))
	}
	copy(img.Pix, data)
	return img, nil
}
