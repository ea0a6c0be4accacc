package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/capture"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/control"
	"github.com/bryanchriswhite/RoboEye/internal/detection"
	"github.com/bryanchriswhite/RoboEye/internal/display"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errCameraStopped = errors.New("camera stopped unexpectedly")

var (
	localFlag  bool
	webFlag    bool
	detectFlag bool
	followFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the camera and its consumers",
	Long: `Start the camera and share its frames with the local preview window,
the MJPEG web stream, the detection feed and the steering loop.

The web stream serves:
  /            HTML page embedding the stream
  /video_feed  multipart/x-mixed-replace MJPEG stream
  /still.jpg   the latest frame as a single JPEG`,
	Example: `  # Stream on the default port (9000)
  roboeye serve

  # Stream from a USB camera with a local preview
  roboeye serve --driver v4l2 --local

  # Follow the line under the robot
  roboeye serve --follow line

  # Steer towards the most confident detection
  roboeye serve --detect --follow detection`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&localFlag, "local", false, "show a local preview window")
	serveCmd.Flags().BoolVar(&webFlag, "web", true, "serve the MJPEG web stream")
	serveCmd.Flags().BoolVar(&detectFlag, "detect", false, "run the detection feed")
	serveCmd.Flags().StringVar(&followFlag, "follow", "", "run the steering loop (line or detection)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("🤖 RoboEye - camera pipeline")
	fmt.Println("============================")

	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	log := logger.WithComponent("serve")

	session, err := newSession(cfg)
	if err != nil {
		return err
	}

	log.Info().Str("driver", cfg.Camera.Driver).Int("width", cfg.Camera.Width).Int("height", cfg.Camera.Height).Msg("Starting camera")
	if err := session.Start(); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	defer func() {
		if err := session.Stop(); err != nil {
			log.Warn().Err(err).Msg("Camera did not stop cleanly")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp := display.New(session, *cfg, nil)
	defer func() {
		if err := disp.Close(); err != nil {
			log.Warn().Err(err).Msg("Display did not close cleanly")
		}
	}()
	if !disp.Show(cfg.Display.Enabled, cfg.Stream.Enabled, cfg.Stream.Port) {
		return errors.New("failed to start display")
	}

	g, ctx := errgroup.WithContext(ctx)

	var feed *detection.Feed
	if cfg.Detection.Enabled {
		session.EnableDetectionOverlay(cfg.Overlay.ShowConfidence)
		feed = detection.NewFeed(session, detection.NewHTTPDetector(cfg.Detection),
			time.Duration(cfg.Detection.IntervalMS)*time.Millisecond,
			time.Duration(cfg.Detection.TimeoutMS)*time.Millisecond, nil)
		g.Go(func() error { return feed.Run(ctx) })
	}

	if cfg.Control.Enabled {
		source, err := steeringSource(cfg, session, feed)
		if err != nil {
			return err
		}
		loop := control.NewLoop(cfg.Control, source, control.LogActuator{}, nil)
		g.Go(func() error { return loop.Run(ctx) })
	}

	g.Go(func() error { return watchCamera(ctx, session) })

	fmt.Println()
	log.Info().Msg("✅ RoboEye is running!")
	if addr := disp.WebAddr(); addr != nil {
		log.Info().Str("addr", addr.String()).Msg("   - Web stream")
	}
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	err = g.Wait()
	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")
	return err
}

// applyServeFlags lets explicitly set flags override the config file
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("local") {
		cfg.Display.Enabled = localFlag
	}
	if flags.Changed("web") {
		cfg.Stream.Enabled = webFlag
	}
	if flags.Changed("detect") {
		cfg.Detection.Enabled = detectFlag
	}
	if flags.Changed("follow") {
		cfg.Control.Enabled = followFlag != ""
		cfg.Control.Source = followFlag
	}
}

func steeringSource(cfg *config.Config, session *capture.Session, feed *detection.Feed) (control.Source, error) {
	switch cfg.Control.Source {
	case "", config.SourceLine:
		row := cfg.Control.Row
		if row <= 0 {
			row = control.DefaultRow
		}
		return control.LineSensor{Frames: session.Slot(), Row: row}, nil
	case config.SourceDetection:
		if feed == nil {
			return nil, errors.New("steering from detections needs --detect")
		}
		maxAge := 2 * time.Duration(cfg.Detection.IntervalMS) * time.Millisecond
		return detection.OffsetSource{Feed: feed, MaxAge: maxAge}, nil
	default:
		return nil, fmt.Errorf("unknown steering source: %s (use line or detection)", cfg.Control.Source)
	}
}

// watchCamera fails once the capture loop stops on its own
func watchCamera(ctx context.Context, session *capture.Session) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !session.IsRunning() {
			if err := session.Err(); err != nil {
				return fmt.Errorf("%w: %v", errCameraStopped, err)
			}
			return errCameraStopped
		}
	}
}
