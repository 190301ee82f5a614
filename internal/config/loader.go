package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from a YAML file and the environment.
// Tests can override Lookup and ReadFile to inject deterministic
// inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load reads the optional config file at path, applies environment
// overrides, and validates the result. A missing file at the default
// path is fine; an explicit path that does not exist is an error the
// caller decides about, so it is reported.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	var cfg Config
	if path != "" {
		raw, err := l.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	overrideString(l.Lookup, "ICP_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "ICP_CAPTURE_API", &cfg.Capture.API)
	overrideString(l.Lookup, "ICP_SYSTEM_DEVICE", &cfg.Capture.SystemDevice)
	overrideString(l.Lookup, "ICP_MIC_DEVICE", &cfg.Capture.MicDevice)
	if err := overrideDuration(l.Lookup, "ICP_SEGMENT_INTERVAL", &cfg.Capture.SegmentInterval); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "ICP_SEGMENT_RETENTION", &cfg.Capture.SegmentRetention); err != nil {
		return Config{}, err
	}

	overrideString(l.Lookup, "ICP_COACH_MODEL", &cfg.Coach.Model)
	if key, ok := firstEnv(l.Lookup, "ICP_OPENAI_API_KEY", "OPENAI_API_KEY"); ok {
		cfg.Coach.APIKey = key
	}
	if v, ok := l.Lookup("ICP_COACH_ENABLED"); ok {
		cfg.Coach.Enabled = strings.EqualFold(strings.TrimSpace(v), "true") || strings.TrimSpace(v) == "1"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideDuration(lookup func(string) (string, bool), key string, target *Duration) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: invalid duration in %s: %w", key, err)
	}
	*target = Duration(parsed)
	return nil
}

func firstEnv(lookup func(string) (string, bool), keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
