// Package config loads the daemon configuration from an optional YAML
// file with environment overrides on top. Tests inject both the file
// reader and the env lookup.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/interviewcopilot/copilot-go/pkg/capture"
)

// DefaultListenAddr binds the control plane to loopback only; the
// desktop shell is the only intended client.
const DefaultListenAddr = "127.0.0.1:8765"

// Duration wraps time.Duration so YAML can carry values like "5s".
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	Capture    CaptureConfig `yaml:"capture"`
	Coach      CoachConfig   `yaml:"coach"`
}

// CaptureConfig tunes the audio pipeline.
type CaptureConfig struct {
	API              string   `yaml:"api"`
	SystemDevice     string   `yaml:"system_device"`
	MicDevice        string   `yaml:"mic_device"`
	SegmentInterval  Duration `yaml:"segment_interval"`
	SegmentRetention Duration `yaml:"segment_retention"`
}

// CoachConfig configures the chat collaborator. The API key is never
// read from the file; it comes from the environment only.
type CoachConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"`
}

// Validate applies defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Capture.SegmentInterval < 0 || c.Capture.SegmentRetention < 0 {
		return fmt.Errorf("config: negative durations are not valid")
	}
	if c.Coach.Enabled && c.Coach.APIKey == "" {
		return fmt.Errorf("config: coach enabled but no API key set (ICP_OPENAI_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

// CaptureManagerConfig maps the file/env settings onto the pipeline's
// own config, leaving unset fields to the pipeline defaults.
func (c Config) CaptureManagerConfig() capture.Config {
	mc := capture.DefaultConfig()
	if c.Capture.API != "" {
		mc.CaptureAPI = c.Capture.API
	}
	if c.Capture.SystemDevice != "" {
		mc.SystemDevice = c.Capture.SystemDevice
	}
	if c.Capture.MicDevice != "" {
		mc.MicDevice = c.Capture.MicDevice
	}
	if c.Capture.SegmentInterval > 0 {
		mc.SegmentInterval = c.Capture.SegmentInterval.Std()
	}
	if c.Capture.SegmentRetention > 0 {
		mc.SegmentRetention = c.Capture.SegmentRetention.Std()
	}
	return mc
}
