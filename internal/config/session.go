package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigPath is the path to the canonical session defaults file.
const DefaultConfigPath = "config/session.defaults.json"

// Supported tracker platforms.
const (
	PlatformSim = "sim"
)

// ErrUnsupportedPlatform is returned for a platform with no tracker backend.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// SessionConfig is the root configuration for a mixed-reality session.
// Fields are pointers so a partial JSON file only overrides what it names;
// the Get* accessors supply defaults for everything else.
type SessionConfig struct {
	Platform           *string  `json:"platform,omitempty"`
	ARToVRScale        *float64 `json:"ar_to_vr_scale,omitempty"`
	EnableCloudAnchors *bool    `json:"enable_cloud_anchors,omitempty"`
	FrameInterval      *string  `json:"frame_interval,omitempty"` // duration string like "33ms"

	// Recording and debug surfaces (empty disables)
	RecordDB     *string `json:"record_db,omitempty"`
	DebugListen  *string `json:"debug_listen,omitempty"`
	HealthListen *string `json:"health_listen,omitempty"`
}

// envOverrides mirrors SessionConfig for environment variables. Unset
// variables leave the pointer nil so they never clobber file values.
type envOverrides struct {
	Platform           *string  `env:"MRSYNC_PLATFORM"`
	ARToVRScale        *float64 `env:"MRSYNC_AR_TO_VR_SCALE"`
	EnableCloudAnchors *bool    `env:"MRSYNC_ENABLE_CLOUD_ANCHORS"`
	FrameInterval      *string  `env:"MRSYNC_FRAME_INTERVAL"`
	RecordDB           *string  `env:"MRSYNC_RECORD_DB"`
	DebugListen        *string  `env:"MRSYNC_DEBUG_LISTEN"`
	HealthListen       *string  `env:"MRSYNC_HEALTH_LISTEN"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptySessionConfig returns a SessionConfig with all fields unset.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// LoadSessionConfig loads a SessionConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded.
func MustLoadDefaultConfig() *SessionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSessionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// ApplyEnv overlays MRSYNC_* environment variables onto the config and
// re-validates the result.
func (c *SessionConfig) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.Platform != nil {
		c.Platform = o.Platform
	}
	if o.ARToVRScale != nil {
		c.ARToVRScale = o.ARToVRScale
	}
	if o.EnableCloudAnchors != nil {
		c.EnableCloudAnchors = o.EnableCloudAnchors
	}
	if o.FrameInterval != nil {
		c.FrameInterval = o.FrameInterval
	}
	if o.RecordDB != nil {
		c.RecordDB = o.RecordDB
	}
	if o.DebugListen != nil {
		c.DebugListen = o.DebugListen
	}
	if o.HealthListen != nil {
		c.HealthListen = o.HealthListen
	}
	return c.Validate()
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.Platform != nil && *c.Platform != PlatformSim {
		return fmt.Errorf("platform %q: %w", *c.Platform, ErrUnsupportedPlatform)
	}

	if c.ARToVRScale != nil && *c.ARToVRScale <= 0 {
		return fmt.Errorf("ar_to_vr_scale must be positive, got %f", *c.ARToVRScale)
	}

	if c.FrameInterval != nil && *c.FrameInterval != "" {
		d, err := time.ParseDuration(*c.FrameInterval)
		if err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("frame_interval must be positive, got %s", d)
		}
	}

	return nil
}

// GetPlatform returns the platform value or the default.
func (c *SessionConfig) GetPlatform() string {
	if c.Platform == nil || *c.Platform == "" {
		return PlatformSim
	}
	return *c.Platform
}

// GetARToVRScale returns the real-world to virtual-world unit scale.
func (c *SessionConfig) GetARToVRScale() float64 {
	if c.ARToVRScale == nil {
		return 100.0
	}
	return *c.ARToVRScale
}

// GetEnableCloudAnchors returns the enable_cloud_anchors value or the default.
func (c *SessionConfig) GetEnableCloudAnchors() bool {
	if c.EnableCloudAnchors == nil {
		return false
	}
	return *c.EnableCloudAnchors
}

// GetFrameInterval parses and returns FrameInterval as a time.Duration.
func (c *SessionConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 33 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil || d <= 0 {
		return 33 * time.Millisecond
	}
	return d
}

// GetRecordDB returns the recording database path; empty disables recording.
func (c *SessionConfig) GetRecordDB() string {
	if c.RecordDB == nil {
		return ""
	}
	return *c.RecordDB
}

// GetDebugListen returns the debug HTTP listen address; empty disables it.
func (c *SessionConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return "localhost:8090"
	}
	return *c.DebugListen
}

// GetHealthListen returns the gRPC health listen address; empty disables it.
func (c *SessionConfig) GetHealthListen() string {
	if c.HealthListen == nil {
		return "localhost:50061"
	}
	return *c.HealthListen
}
