package capture

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"

	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"go.uber.org/multierr"
)

// LibcameraDriver captures from a Raspberry Pi camera through a gst-launch-1.0
// subprocess writing raw RGBA frames to stdout
type LibcameraDriver struct{}

// Name returns the driver name
func (d *LibcameraDriver) Name() string {
	return config.DriverLibcamera
}

// Pipeline builds the gst-launch pipeline for cfg
func (d *LibcameraDriver) Pipeline(cfg config.CameraConfig) string {
	parts := append(RawPipeline("libcamerasrc", cfg), "fdsink fd=1 sync=false")
	return strings.Join(parts, " ! ")
}

// RawPipeline returns the GStreamer elements that turn source into RGBA
// frames of the configured size, flipped as configured. The caller appends
// a sink.
func RawPipeline(source string, cfg config.CameraConfig) []string {
	caps := fmt.Sprintf("video/x-raw,width=%d,height=%d", cfg.Width, cfg.Height)
	if cfg.Format != "" {
		caps += ",format=" + cfg.Format
	}
	if cfg.FrameRate > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", cfg.FrameRate)
	}

	parts := []string{source, caps}
	if cfg.BufferCount > 0 {
		parts = append(parts, fmt.Sprintf("queue max-size-buffers=%d leaky=downstream", cfg.BufferCount))
	}
	if method := flipMethod(cfg.HFlip, cfg.VFlip); method != "" {
		parts = append(parts, "videoflip method="+method)
	}
	return append(parts,
		"videoconvert",
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", cfg.Width, cfg.Height),
	)
}

func flipMethod(hflip, vflip bool) string {
	switch {
	case hflip && vflip:
		return "rotate-180"
	case hflip:
		return "horizontal-flip"
	case vflip:
		return "vertical-flip"
	default:
		return ""
	}
}

// Open starts the pipeline. The process is killed when ctx is done or the
// device is closed.
func (d *LibcameraDriver) Open(ctx context.Context, cfg config.CameraConfig) (Device, error) {
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return nil, fmt.Errorf("gst-launch-1.0 not found: %w", err)
	}

	log := logger.WithComponent("libcamera")
	pipeline := d.Pipeline(cfg)
	log.Debug().Str("pipeline", pipeline).Msg("Starting GStreamer subprocess")

	ctx, cancel := context.WithCancel(ctx)
	// sh -c keeps the ! separators intact
	cmd := exec.CommandContext(ctx, "sh", "-c", "exec gst-launch-1.0 -q "+pipeline)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start gst-launch: %w", err)
	}
	go logStderr("libcamera", stderr)

	log.Info().
		Int("pid", cmd.Process.Pid).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("GStreamer subprocess started")

	frameSize := cfg.Width * cfg.Height * 4
	return &subprocessDevice{
		name:   "libcamera",
		cmd:    cmd,
		cancel: cancel,
		stdout: stdout,
		frames: &rawReader{
			r:      bufio.NewReaderSize(stdout, frameSize),
			width:  cfg.Width,
			height: cfg.Height,
		},
	}, nil
}

// subprocessDevice reads frames from a child process' stdout
type subprocessDevice struct {
	name   string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	frames *rawReader
}

func (s *subprocessDevice) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := s.frames.next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	return img, nil
}

func (s *subprocessDevice) Close() error {
	s.cancel()
	err := s.stdout.Close()
	if werr := s.cmd.Wait(); werr != nil {
		// an exit error means we killed it
		if _, ok := werr.(*exec.ExitError); !ok {
			err = multierr.Append(err, werr)
		}
	}
	logger.WithComponent(s.name).Info().Msg("Subprocess stopped")
	return err
}

// logStderr forwards a child's stderr to the log
func logStderr(component string, r io.Reader) {
	log := logger.WithComponent(component)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("output", line).Msg("Subprocess message")
		} else {
			log.Debug().Str("output", line).Msg("Subprocess output")
		}
	}
}
