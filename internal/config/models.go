package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Camera driver names
const (
	DriverLibcamera = "libcamera"
	DriverV4L2      = "v4l2"
	DriverX11       = "x11"
	DriverFake      = "fake"
	DriverGStreamer = "gstreamer"
)

// Error sources for the steering loop
const (
	SourceLine      = "line"
	SourceDetection = "detection"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`

	Camera    CameraConfig    `json:"camera" yaml:"camera"`
	Overlay   OverlayConfig   `json:"overlay" yaml:"overlay"`
	Stream    StreamConfig    `json:"stream" yaml:"stream"`
	Display   DisplayConfig   `json:"display" yaml:"display"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Control   ControlConfig   `json:"control" yaml:"control"`
	Photo     PhotoConfig     `json:"photo" yaml:"photo"`
}

// CameraConfig is handed to the camera driver as-is
type CameraConfig struct {
	Driver         string `json:"driver" yaml:"driver"`
	Device         string `json:"device" yaml:"device"`
	Source         string `json:"source,omitempty" yaml:"source,omitempty"`
	Width          int    `json:"width" yaml:"width"`
	Height         int    `json:"height" yaml:"height"`
	HFlip          bool   `json:"hflip" yaml:"hflip"`
	VFlip          bool   `json:"vflip" yaml:"vflip"`
	FrameRate      int    `json:"framerate" yaml:"framerate"`
	Format         string `json:"format" yaml:"format"`
	BufferCount    int    `json:"buffer_count" yaml:"buffer_count"`
	StartTimeoutMS int    `json:"start_timeout_ms" yaml:"start_timeout_ms"`
	StopTimeoutMS  int    `json:"stop_timeout_ms" yaml:"stop_timeout_ms"`
}

// StartTimeout returns the bounded wait for the capture loop to come up
func (c CameraConfig) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutMS) * time.Millisecond
}

// StopTimeout returns the bounded join on stop
func (c CameraConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMS) * time.Millisecond
}

// OverlayConfig controls annotations drawn before a frame is published
type OverlayConfig struct {
	ShowFPS        bool    `json:"show_fps" yaml:"show_fps"`
	FPSColor       string  `json:"fps_color" yaml:"fps_color"`
	FPSSize        float64 `json:"fps_size" yaml:"fps_size"`
	FPSOrigin      []int   `json:"fps_origin,omitempty" yaml:"fps_origin,omitempty"`
	Detections     bool    `json:"detections" yaml:"detections"`
	ShowConfidence bool    `json:"show_confidence" yaml:"show_confidence"`
}

// StreamConfig configures the HTTP streaming server
type StreamConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	Port        int  `json:"port" yaml:"port"`
	IntervalMS  int  `json:"interval_ms" yaml:"interval_ms"`
	JPEGQuality int  `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// Interval returns the pause between two multipart parts
func (s StreamConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// DisplayConfig configures the local preview window
type DisplayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	WindowName string `json:"window_name" yaml:"window_name"`
	RefreshMS  int    `json:"refresh_ms" yaml:"refresh_ms"`
}

// DetectionConfig configures the detection feed
type DetectionConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	IntervalMS int     `json:"interval_ms" yaml:"interval_ms"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	InputSize  int     `json:"input_size" yaml:"input_size"`
	TimeoutMS  int     `json:"timeout_ms" yaml:"timeout_ms"`
}

// ControlConfig configures the steering loop
type ControlConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Source      string  `json:"source" yaml:"source"`
	Kp          float64 `json:"kp" yaml:"kp"`
	Ki          float64 `json:"ki" yaml:"ki"`
	Kd          float64 `json:"kd" yaml:"kd"`
	RateHz      float64 `json:"rate_hz" yaml:"rate_hz"`
	SteeringMin float64 `json:"steering_min" yaml:"steering_min"`
	SteeringMax float64 `json:"steering_max" yaml:"steering_max"`
	Row         int     `json:"row" yaml:"row"`
}

// PhotoConfig configures still-photo persistence
type PhotoConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	Prefix     string `json:"prefix" yaml:"prefix"`
	Count      int    `json:"count" yaml:"count"`
	IntervalMS int    `json:"interval_ms" yaml:"interval_ms"`
}

// Manager handles configuration
type Manager struct {
	fs         afero.Fs
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager backed by the OS filesystem
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "roboeye", "config.yaml")
	}
	return NewManagerFs(afero.NewOsFs(), actualConfigPath)
}

// NewManagerFs creates a configuration manager on the given filesystem.
// A missing file is created with defaults.
func NewManagerFs(fs afero.Fs, configPath string) (*Manager, error) {
	if err := fs.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		fs:         fs,
		configPath: configPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("driver", m.config.Camera.Driver).
		Int("width", m.config.Camera.Width).
		Int("height", m.config.Camera.Height).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Camera: CameraConfig{
			Driver:         DriverLibcamera,
			Device:         "/dev/video0",
			Width:          640,
			Height:         480,
			FrameRate:      30,
			BufferCount:    4,
			StartTimeoutMS: 5000,
			StopTimeoutMS:  3000,
		},
		Overlay: OverlayConfig{
			ShowFPS:        true,
			FPSColor:       "#ffffff",
			FPSSize:        0.6,
			Detections:     true,
			ShowConfidence: true,
		},
		Stream: StreamConfig{
			Enabled:     true,
			Port:        9000,
			IntervalMS:  30,
			JPEGQuality: 80,
		},
		Display: DisplayConfig{
			Enabled:    true,
			WindowName: "RoboEye",
			RefreshMS:  30,
		},
		Detection: DetectionConfig{
			Endpoint:   "http://localhost:8081/detect",
			IntervalMS: 1000,
			Confidence: 0.7,
			InputSize:  416,
			TimeoutMS:  15000,
		},
		Control: ControlConfig{
			Source:      SourceLine,
			Kp:          0.5,
			Ki:          0.1,
			Kd:          0,
			RateHz:      10,
			SteeringMin: -35,
			SteeringMax: 35,
			Row:         240,
		},
		Photo: PhotoConfig{
			Prefix:     "stop_dataset_photo",
			Count:      100,
			IntervalMS: 3000,
		},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := afero.ReadFile(m.fs, m.configPath)
	if err != nil {
		return err
	}

	cfg, err := parse(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// parse decodes YAML on top of the defaults so partial files stay usable
func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the capture pipeline cannot run with
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution %dx%d", c.Camera.Width, c.Camera.Height)
	}
	switch c.Camera.Driver {
	case DriverLibcamera, DriverV4L2, DriverX11, DriverFake, DriverGStreamer:
	default:
		return fmt.Errorf("unknown camera driver: %s", c.Camera.Driver)
	}
	if c.Stream.Port < 0 || c.Stream.Port > 65535 {
		return fmt.Errorf("invalid stream port: %d", c.Stream.Port)
	}
	if c.Overlay.FPSOrigin != nil && len(c.Overlay.FPSOrigin) != 2 {
		return fmt.Errorf("fps_origin must be [x, y]")
	}
	if c.Control.SteeringMin > c.Control.SteeringMax {
		return fmt.Errorf("steering_min %v exceeds steering_max %v", c.Control.SteeringMin, c.Control.SteeringMax)
	}
	switch c.Control.Source {
	case SourceLine, SourceDetection:
	default:
		return fmt.Errorf("unknown control source: %s", c.Control.Source)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	if m.config.Overlay.FPSOrigin != nil {
		cfg.Overlay.FPSOrigin = append([]int(nil), m.config.Overlay.FPSOrigin...)
	}
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := m.fs.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(m.fs, m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the streaming port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.Stream.Port = port
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetViper returns a viper view of the current configuration keyed by
// dotted yaml paths (e.g. "camera.width")
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// Set assigns a single dotted key. The value is parsed as a YAML scalar so
// "640" becomes an int and "true" a bool.
func (m *Manager) Set(key, value string) error {
	v, err := m.GetViper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if parsed == nil {
		// "#ffffff" and friends parse as YAML comments
		parsed = value
	}
	v.Set(key, parsed)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}
