// Package config provides the configuration structure for the talkinghead-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Output sink names.
const (
	SinkLocal       = "local"
	SinkCDN         = "cdn"
	SinkObjectStore = "objectstore"
)

// Pipeline bridge modes.
const (
	BridgeExec = "exec"
	BridgeHTTP = "http"
)

// EnvCDNAccessKey is the environment variable holding the CDN storage secret.
const EnvCDNAccessKey = "CDN_ACCESS_KEY"

var (
	// ErrUnknownSink indicates that output.sink names no known sink.
	ErrUnknownSink = errors.New("unknown output sink")
	// ErrUnknownBridge indicates that pipeline.bridge names no known bridge.
	ErrUnknownBridge = errors.New("unknown pipeline bridge")
	// ErrMissingSetting indicates that a required setting is empty.
	ErrMissingSetting = errors.New("missing required setting")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobSubject             string `toml:"job_subject"`
	VideoObjectStoreBucket string `toml:"video_object_store_bucket"`
}

// PipelineConfig describes how to reach the inference pipeline bridge.
type PipelineConfig struct {
	Bridge         string   `toml:"bridge"`
	Command        []string `toml:"command"`
	ServiceURL     string   `toml:"service_url"`
	DeviceID       int      `toml:"device_id"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// HandlerConfig holds the per-job tunables that are not part of the job input.
type HandlerConfig struct {
	EmotionDir             string  `toml:"emotion_dir"`
	WorkDir                string  `toml:"work_dir"`
	MinResolution          int     `toml:"min_resolution"`
	InferenceSteps         int     `toml:"inference_steps"`
	ExpandRatio            float64 `toml:"expand_ratio"`
	JobTimeoutSeconds      int     `toml:"job_timeout_seconds"`
	DownloadTimeoutSeconds int     `toml:"download_timeout_seconds"`
	ShutdownGraceSeconds   int     `toml:"shutdown_grace_seconds"`
}

// OutputConfig selects the output sink.
type OutputConfig struct {
	Sink     string `toml:"sink"`
	LocalDir string `toml:"local_dir"`
}

// CDNConfig holds the storage endpoint settings for the CDN sink.
// AccessKey is never read from the TOML document.
type CDNConfig struct {
	StorageEndpoint string `toml:"storage_endpoint"`
	StorageZone     string `toml:"storage_zone"`
	VideoPath       string `toml:"video_path"`
	PublicHost      string `toml:"public_host"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	AccessKey       string `toml:"-"`
}

// APIConfig enables the HTTP runsync API when ListenAddr is set.
type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Handler  HandlerConfig  `toml:"handler"`
	Output   OutputConfig   `toml:"output"`
	CDN      CDNConfig      `toml:"cdn"`
	API      APIConfig      `toml:"api"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the talkinghead-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg, log)
}

// LoadFile reads the configuration from a local TOML file, injects secrets and validates it.
func LoadFile(path string, log *logger.Logger) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	return finish(cfg, log)
}

// ReadFile parses a TOML file and applies defaults without validation or secrets.
// Clients that only need the NATS settings use it.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

func finish(cfg *Config, log *logger.Logger) (*Config, error) {
	// A missing .env is the normal case outside local development.
	envErr := godotenv.Load()
	if envErr != nil && log != nil {
		log.Info("No .env file loaded: %v", envErr)
	}

	cfg.CDN.AccessKey = os.Getenv(EnvCDNAccessKey)
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset values with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.NATS.JobSubject == "" {
		c.NATS.JobSubject = "talkinghead.jobs"
	}

	if c.Pipeline.Bridge == "" {
		c.Pipeline.Bridge = BridgeExec
	}

	if c.Pipeline.TimeoutSeconds == 0 {
		c.Pipeline.TimeoutSeconds = 1800
	}

	if c.Handler.EmotionDir == "" {
		c.Handler.EmotionDir = "examples/emo"
	}

	if c.Handler.MinResolution == 0 {
		c.Handler.MinResolution = 512
	}

	if c.Handler.InferenceSteps == 0 {
		c.Handler.InferenceSteps = 25
	}

	if c.Handler.ExpandRatio == 0 {
		c.Handler.ExpandRatio = 0.5
	}

	if c.Handler.JobTimeoutSeconds == 0 {
		c.Handler.JobTimeoutSeconds = 1800
	}

	if c.Handler.DownloadTimeoutSeconds == 0 {
		c.Handler.DownloadTimeoutSeconds = 300
	}

	if c.Handler.ShutdownGraceSeconds == 0 {
		c.Handler.ShutdownGraceSeconds = 60
	}

	if c.Output.Sink == "" {
		c.Output.Sink = SinkLocal
	}

	if c.CDN.TimeoutSeconds == 0 {
		c.CDN.TimeoutSeconds = 300
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate checks that the settings required by the selected sink and bridge are present.
func (c *Config) Validate() error {
	switch c.Pipeline.Bridge {
	case BridgeExec:
		if len(c.Pipeline.Command) == 0 {
			return fmt.Errorf("%w: pipeline.command", ErrMissingSetting)
		}
	case BridgeHTTP:
		if c.Pipeline.ServiceURL == "" {
			return fmt.Errorf("%w: pipeline.service_url", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBridge, c.Pipeline.Bridge)
	}

	switch c.Output.Sink {
	case SinkLocal:
		if c.Output.LocalDir == "" {
			return fmt.Errorf("%w: output.local_dir", ErrMissingSetting)
		}
	case SinkCDN:
		return c.CDN.validate()
	case SinkObjectStore:
		if c.NATS.VideoObjectStoreBucket == "" {
			return fmt.Errorf("%w: nats.video_object_store_bucket", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownSink, c.Output.Sink)
	}

	return nil
}

func (c CDNConfig) validate() error {
	required := []struct{ name, value string }{
		{"cdn.storage_endpoint", c.StorageEndpoint},
		{"cdn.storage_zone", c.StorageZone},
		{"cdn.public_host", c.PublicHost},
		{EnvCDNAccessKey, c.AccessKey},
	}

	for _, setting := range required {
		if strings.TrimSpace(setting.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, setting.name)
		}
	}

	return nil
}

// PipelineTimeout returns the per-call bridge timeout.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Pipeline.TimeoutSeconds) * time.Second
}

// JobTimeout returns the deadline applied to one job.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Handler.JobTimeoutSeconds) * time.Second
}

// DownloadTimeout returns the HTTP client timeout for input downloads.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Handler.DownloadTimeoutSeconds) * time.Second
}

// ShutdownGrace returns how long shutdown waits for in-flight jobs before cancelling them.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Handler.ShutdownGraceSeconds) * time.Second
}

// CDNTimeout returns the HTTP client timeout for uploads.
func (c *Config) CDNTimeout() time.Duration {
	return time.Duration(c.CDN.TimeoutSeconds) * time.Second
}
