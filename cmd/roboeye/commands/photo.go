package commands

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/spf13/cobra"
)

var (
	photoCount    int
	photoInterval time.Duration
	photoDir      string
	photoPrefix   string
)

var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Take photos with the camera",
	Long: `Start the camera, take one or more photos and stop again. Photos are
written as <dir>/<prefix><n>.jpg.`,
	Example: `  # Take a single photo into ~/Pictures/roboeye
  roboeye photo

  # Collect 50 photos for a dataset, one every half second
  roboeye photo --count 50 --interval 500ms --prefix track_`,
	RunE: runPhoto,
}

func init() {
	photoCmd.Flags().IntVarP(&photoCount, "count", "n", 0, "number of photos (default from config)")
	photoCmd.Flags().DurationVar(&photoInterval, "interval", 0, "pause between photos (default from config)")
	photoCmd.Flags().StringVar(&photoDir, "dir", "", "output directory (default from config)")
	photoCmd.Flags().StringVar(&photoPrefix, "prefix", "", "file name prefix (default from config)")
	rootCmd.AddCommand(photoCmd)
}

func runPhoto(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("photo")

	count := cfg.Photo.Count
	if photoCount > 0 {
		count = photoCount
	}
	if count <= 0 {
		count = 1
	}
	interval := time.Duration(cfg.Photo.IntervalMS) * time.Millisecond
	if photoInterval > 0 {
		interval = photoInterval
	}
	dir := cfg.Photo.Dir
	if photoDir != "" {
		dir = photoDir
	}
	prefix := cfg.Photo.Prefix
	if photoPrefix != "" {
		prefix = photoPrefix
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
	if err := waitForFrame(ctx, session); err != nil {
		return fmt.Errorf("no frame from camera: %w", err)
	}

	saved := 0
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		name := fmt.Sprintf("%s%d", prefix, i)
		if session.TakePhoto(name, dir) {
			saved++
		} else {
			log.Warn().Str("name", name).Msg("Photo not saved")
		}
	}

	log.Info().Int("saved", saved).Int("requested", count).Msg("Photos taken")
	if saved == 0 {
		return fmt.Errorf("no photos saved")
	}
	return nil
}
