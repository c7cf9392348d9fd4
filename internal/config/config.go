// Package config loads engine configuration from YAML. Every field has a
// sensible default; an absent file or zero-valued field inherits it, so a
// bare `appdoctor diagnose` works with no configuration at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "500ms" or
// "2m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Retry mirrors the engine's default retry policy knobs.
type Retry struct {
	MaxRetries        int      `yaml:"maxRetries"`
	BaseDelay         Duration `yaml:"baseDelay"`
	MaxDelay          Duration `yaml:"maxDelay"`
	BackoffMultiplier float64  `yaml:"backoffMultiplier"`
}

// Targets names the endpoints the built-in environment checks probe.
type Targets struct {
	AppURL      string `yaml:"appURL"`
	MountMarker string `yaml:"mountMarker"`
	APIEndpoint string `yaml:"apiEndpoint"`
	TLSAddr     string `yaml:"tlsAddr"`
}

// Config is the full engine configuration.
type Config struct {
	WorkerCount    int      `yaml:"workerCount"`
	RateLimit      float64  `yaml:"rateLimit"`
	RateBurst      int      `yaml:"rateBurst"`
	DefaultTimeout Duration `yaml:"defaultTimeout"`

	Retry Retry `yaml:"retry"`

	ScheduleInterval Duration `yaml:"scheduleInterval"`
	StoragePath      string   `yaml:"storagePath"`
	TelemetryBuffer  int      `yaml:"telemetryBuffer"`

	Targets Targets `yaml:"targets"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		WorkerCount:    4,
		RateLimit:      10,
		RateBurst:      5,
		DefaultTimeout: Duration(5 * time.Second),
		Retry: Retry{
			MaxRetries:        1,
			BaseDelay:         Duration(500 * time.Millisecond),
			MaxDelay:          Duration(5 * time.Second),
			BackoffMultiplier: 2,
		},
		ScheduleInterval: Duration(time.Minute),
		TelemetryBuffer:  256,
		Targets: Targets{
			AppURL:      "http://localhost:3000/",
			MountMarker: `id="root"`,
			APIEndpoint: "http://localhost:3000/api/health",
		},
	}
}

// Load reads a YAML configuration file and fills unset fields with
// defaults. An empty path returns the defaults directly.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.RateLimit <= 0 {
		c.RateLimit = def.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = def.Retry.MaxRetries
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = def.Retry.BackoffMultiplier
	}
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = def.ScheduleInterval
	}
	if c.TelemetryBuffer <= 0 {
		c.TelemetryBuffer = def.TelemetryBuffer
	}
	if c.Targets.AppURL == "" {
		c.Targets.AppURL = def.Targets.AppURL
	}
	if c.Targets.MountMarker == "" {
		c.Targets.MountMarker = def.Targets.MountMarker
	}
	if c.Targets.APIEndpoint == "" {
		c.Targets.APIEndpoint = def.Targets.APIEndpoint
	}
}
