package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/capture"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
	"github.com/bryanchriswhite/RoboEye/internal/photo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var driverFlag string

// newSession builds a capture session from configuration
func newSession(cfg *config.Config) (*capture.Session, error) {
	if driverFlag != "" {
		cfg.Camera.Driver = driverFlag
	}

	driver, err := capture.NewDriver(cfg.Camera)
	if err != nil {
		return nil, err
	}

	overlays, err := overlay.NewManagerFromConfig(cfg.Overlay)
	if err != nil {
		return nil, fmt.Errorf("invalid overlay config: %w", err)
	}

	return capture.NewSession(driver, capture.Options{
		Camera:       cfg.Camera,
		StartTimeout: cfg.Camera.StartTimeout(),
		StopTimeout:  cfg.Camera.StopTimeout(),
		Overlay:      overlays,
		Photos:       photo.NewStore(afero.NewOsFs(), cfg.Photo.Dir, cfg.Stream.JPEGQuality),
	}), nil
}

// waitForFrame blocks until the session publishes its first frame
func waitForFrame(ctx context.Context, session *capture.Session) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := session.Frame(); ok {
			return nil
		}
		if !session.IsRunning() {
			if err := session.Err(); err != nil {
				return err
			}
			return capture.ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var controlsCmd = &cobra.Command{
	Use:   "controls [KEY=VALUE...]",
	Short: "Show or set camera controls",
	Long: `Open the camera and print its runtime controls. Arguments of the form
KEY=VALUE are applied first.`,
	Example: `  # List controls of the V4L2 camera
  roboeye controls --driver v4l2

  # Set brightness and show the result
  roboeye controls --driver v4l2 brightness=140`,
	RunE: runControls,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "camera driver (libcamera, v4l2, x11, fake)")
	rootCmd.AddCommand(controlsCmd)
}

func runControls(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	defer session.Stop()

	ctx := cmd.Context()
	if len(args) > 0 {
		set := capture.Controls{}
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("invalid control %q (use KEY=VALUE)", arg)
			}
			set[key] = value
		}
		if err := session.SetControls(ctx, set); err != nil {
			return fmt.Errorf("failed to set controls: %w", err)
		}
	}

	controls, err := session.Controls(ctx)
	if err != nil {
		return fmt.Errorf("failed to read controls: %w", err)
	}

	keys := make([]string, 0, len(controls))
	for k := range controls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %v\n", k, controls[k])
	}
	return nil
}
