package capture

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// V4L2Driver captures from a USB/V4L2 camera through ffmpeg, decoding to raw
// RGBA on a pipe. Runtime controls go through v4l2-ctl.
type V4L2Driver struct{}

// Name returns the driver name
func (d *V4L2Driver) Name() string {
	return config.DriverV4L2
}

// InputArgs returns the ffmpeg input keyword arguments for cfg
func (d *V4L2Driver) InputArgs(cfg config.CameraConfig) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"f":          "v4l2",
		"video_size": fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
	}
	if cfg.FrameRate > 0 {
		args["framerate"] = cfg.FrameRate
	}
	if cfg.Format != "" {
		args["input_format"] = cfg.Format
	}
	if cfg.BufferCount > 0 {
		args["thread_queue_size"] = cfg.BufferCount
	}
	return args
}

// OutputArgs returns the ffmpeg output keyword arguments for cfg
func (d *V4L2Driver) OutputArgs(cfg config.CameraConfig) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
	}
	var filters []string
	if cfg.HFlip {
		filters = append(filters, "hflip")
	}
	if cfg.VFlip {
		filters = append(filters, "vflip")
	}
	if len(filters) > 0 {
		args["vf"] = strings.Join(filters, ",")
	}
	return args
}

// Open launches ffmpeg reading from cfg.Device
func (d *V4L2Driver) Open(ctx context.Context, cfg config.CameraConfig) (Device, error) {
	// make sure ffmpeg is in the path before doing anything else
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	stream := ffmpeg.Input(cfg.Device, d.InputArgs(cfg)).
		Output("pipe:", d.OutputArgs(cfg))
	stream.Context = ctx

	dev := &v4l2Device{
		device: cfg.Device,
		cancel: cancel,
		pipe:   pr,
		done:   make(chan struct{}),
		frames: &rawReader{
			r:      bufio.NewReaderSize(pr, cfg.Width*cfg.Height*4),
			width:  cfg.Width,
			height: cfg.Height,
		},
	}

	go func() {
		defer close(dev.done)
		err := stream.WithOutput(pw).Run()
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
	}()

	logger.WithComponent("v4l2").Info().
		Str("device", cfg.Device).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("ffmpeg capture started")

	return dev, nil
}

type v4l2Device struct {
	device string
	cancel context.CancelFunc
	pipe   *io.PipeReader
	done   chan struct{}
	frames *rawReader

	ctlMu sync.Mutex
}

func (v *v4l2Device) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := v.frames.next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("v4l2 %s: %w", v.device, err)
	}
	return img, nil
}

func (v *v4l2Device) Close() error {
	v.cancel()
	// unblock the copy from ffmpeg's stdout into the pipe
	v.pipe.Close()
	<-v.done
	logger.WithComponent("v4l2").Info().Str("device", v.device).Msg("ffmpeg capture stopped")
	return nil
}

// SetControls applies controls with v4l2-ctl --set-ctrl
func (v *v4l2Device) SetControls(ctx context.Context, controls Controls) error {
	if len(controls) == 0 {
		return nil
	}
	keys := make([]string, 0, len(controls))
	for k := range controls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, controls[k]))
	}

	v.ctlMu.Lock()
	defer v.ctlMu.Unlock()
	out, err := exec.CommandContext(ctx, "v4l2-ctl", "-d", v.device, "--set-ctrl="+strings.Join(pairs, ",")).CombinedOutput()
	if err != nil {
		return fmt.Errorf("v4l2-ctl: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Controls reads current control values with v4l2-ctl --list-ctrls
func (v *v4l2Device) Controls(ctx context.Context) (Controls, error) {
	v.ctlMu.Lock()
	defer v.ctlMu.Unlock()
	out, err := exec.CommandContext(ctx, "v4l2-ctl", "-d", v.device, "--list-ctrls").Output()
	if err != nil {
		return nil, fmt.Errorf("v4l2-ctl: %w", err)
	}
	return ParseV4L2Controls(string(out)), nil
}

// ParseV4L2Controls parses `v4l2-ctl --list-ctrls` output, e.g.
//
//	brightness 0x00980900 (int)    : min=-64 max=64 step=1 default=0 value=10
func ParseV4L2Controls(out string) Controls {
	controls := Controls{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, f := range fields[1:] {
			val, ok := strings.CutPrefix(f, "value=")
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(val); err == nil {
				controls[fields[0]] = n
			} else {
				controls[fields[0]] = val
			}
			break
		}
	}
	return controls
}
