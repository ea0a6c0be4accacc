package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "roboeye",
		Short: "RoboEye - camera pipeline for small robots",
		Long: `RoboEye captures frames from a single camera and shares the latest one
with every consumer that needs it.

Features:
  • libcamera, V4L2 and X11 screen capture drivers
  • FPS and detection box overlays
  • MJPEG web stream and still images over HTTP
  • Local preview window
  • Photo capture for dataset collection
  • PID steering from a line sensor or detections`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/roboeye/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "stream port (default is 9000)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human readable console logs")

	// Bind flags to viper
	viper.BindPFlag("stream_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies flag overrides and sets up
// logging
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if viper.IsSet("stream_port") {
		if port := viper.GetInt("stream_port"); port > 0 {
			cfg.Stream.Port = port
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}
	if viper.GetBool("log_pretty") {
		cfg.LogPretty = true
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.Logger.Debug().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")
	return configMgr, cfg, nil
}
