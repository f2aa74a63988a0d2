// Package config loads and validates the agent's layered configuration
// (spec C14, §6). It generalizes the teacher's Config.Check(path) pattern
// (cmd/driver/config.go: fill defaults, error on missing required fields)
// onto spf13/viper so the same struct can be populated from file and env
// and reloaded in place with WatchConfig/OnConfigChange instead of
// requiring a process restart to pick up a changed threshold.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CameraConfig describes one configured RTSP source.
type CameraConfig struct {
	ID                string `mapstructure:"id"`
	Name              string `mapstructure:"name"`
	StreamURI         string `mapstructure:"stream_uri"`
	SubstreamURI      string `mapstructure:"substream_uri"`
	FrameIntervalMS   int    `mapstructure:"frame_interval_ms"`
	KeyFrameIntervalS int    `mapstructure:"key_frame_interval_s"`
	Enabled           bool   `mapstructure:"enabled"`
}

// Config is the full agent configuration tree, per spec §6.
type Config struct {
	DataDir      string `mapstructure:"data_dir"`
	LogDir       string `mapstructure:"log_dir"`
	Debug        bool   `mapstructure:"debug"`
	HTTPPort     int    `mapstructure:"http_port"`

	FFmpegPath        string `mapstructure:"ffmpeg_path"`
	OnnxRuntimePath   string `mapstructure:"onnxruntime_path"`
	DetectorModel     string `mapstructure:"detector_model_path"`
	DescriptionModel  string `mapstructure:"description_model_path"`
	EnableDescription bool   `mapstructure:"enable_description"`

	Cameras []CameraConfig `mapstructure:"cameras"`

	MetricWindowS int `mapstructure:"metric_window_seconds"`

	SyncEndpoint       string `mapstructure:"sync_endpoint"`
	SyncIntervalS      int    `mapstructure:"sync_interval_seconds"`
	SyncTimeoutS       int    `mapstructure:"sync_timeout_seconds"`

	RetentionDetectionDays    int `mapstructure:"retention_detection_days"`
	RetentionKeyFrameDays     int `mapstructure:"retention_keyframe_days"`
	RetentionMetricWindowDays int `mapstructure:"retention_metric_window_days"`

	ThermalThrottleC float64 `mapstructure:"thermal_throttle_c"`
	ThermalShutdownC float64 `mapstructure:"thermal_shutdown_c"`

	WatchdogTimeoutS   int `mapstructure:"watchdog_timeout_seconds"`
	CheckpointIntervalS int `mapstructure:"checkpoint_interval_seconds"`
}

// Loader wraps a viper instance bound to one config file, with defaults
// and required-field validation applied the same way Config.Check did in
// the teacher.
type Loader struct {
	v *viper.Viper
}

// New builds a Loader for the config file at path (any format viper
// supports: yaml, toml, json).
func New(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	applyDefaults(v, filepath.Dir(path))
	return &Loader{v: v}
}

func applyDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("data_dir", filepath.Join(configDir, "data"))
	v.SetDefault("log_dir", filepath.Join(configDir, "logs"))
	v.SetDefault("debug", false)
	v.SetDefault("http_port", 8080)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("enable_description", true)
	v.SetDefault("metric_window_seconds", 300)
	v.SetDefault("sync_interval_seconds", 30)
	v.SetDefault("sync_timeout_seconds", 10)
	v.SetDefault("retention_detection_days", 7)
	v.SetDefault("retention_keyframe_days", 7)
	v.SetDefault("retention_metric_window_days", 30)
	v.SetDefault("thermal_throttle_c", 70.0)
	v.SetDefault("thermal_shutdown_c", 75.0)
	v.SetDefault("watchdog_timeout_seconds", 30)
	v.SetDefault("checkpoint_interval_seconds", 300)
}

// Load reads the config file, applies env-var overrides (EDGEVISION_
// prefix), and validates the result.
func (l *Loader) Load() (*Config, error) {
	l.v.SetEnvPrefix("EDGEVISION")
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch installs a callback invoked with a freshly validated Config every
// time the backing file changes on disk.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			return
		}
		if err := validate(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

func validate(cfg *Config) error {
	if len(cfg.Cameras) == 0 {
		return errors.New("at least one camera must be configured")
	}
	for i, cam := range cfg.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: id is required", i)
		}
		if cam.StreamURI == "" {
			return fmt.Errorf("cameras[%d]: stream_uri is required", i)
		}
		if cam.KeyFrameIntervalS <= 0 {
			cfg.Cameras[i].KeyFrameIntervalS = 10
		}
		if cam.FrameIntervalMS <= 0 {
			cfg.Cameras[i].FrameIntervalMS = 1000
		}
	}
	if cfg.SyncEndpoint == "" {
		return errors.New("sync_endpoint is required")
	}
	if cfg.DetectorModel == "" {
		return errors.New("detector_model_path is required")
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricWindowS < 1 {
		cfg.MetricWindowS = 300
	}
	return nil
}

// MetricWindow returns the configured metric window as a time.Duration.
func (c Config) MetricWindow() time.Duration {
	return time.Duration(c.MetricWindowS) * time.Second
}

// SyncInterval returns the configured sync cycle interval.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalS) * time.Second
}

// WatchdogTimeout returns the configured watchdog heartbeat timeout.
func (c Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutS) * time.Second
}

// CheckpointInterval returns the configured checkpoint cadence.
func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalS) * time.Second
}
