// Package config loads the livetrack configuration from a JSON file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the complete application configuration.
type Config struct {
	Server ServerConfig `json:"server" validate:"required"`
	Feed   FeedConfig   `json:"feed" validate:"required"`
	Track  TrackConfig  `json:"track" validate:"required"`
}

// ServerConfig contains the HTTP API surface configuration.
type ServerConfig struct {
	// Host is the bind address (default "0.0.0.0")
	Host string `json:"host"`

	// Port is the HTTP server port (default 8080)
	Port int `json:"port" validate:"gt=0,lte=65535"`

	// AllowedOrigins for CORS; the rendering layer is a browser app
	AllowedOrigins []string `json:"allowed_origins"`

	// JWTSecret enables bearer-token auth on /api/v1 when non-empty.
	// Should be supplied via LIVETRACK_JWT_SECRET, not the config file.
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// FeedConfig contains the upstream endpoint configuration.
type FeedConfig struct {
	// PositionURL is the live snapshot endpoint
	PositionURL string `json:"position_url" validate:"required,url"`

	// TraceURL is the historical trace endpoint
	TraceURL string `json:"trace_url" validate:"required,url"`

	// RequestsPerSecond is the client-side pacing of upstream calls
	RequestsPerSecond float64 `json:"requests_per_second" validate:"gt=0"`

	// TimeoutMS is the per-request HTTP timeout in milliseconds
	TimeoutMS int `json:"timeout_ms" validate:"gte=0"`
}

// TrackConfig contains the engine tunables.
type TrackConfig struct {
	// CenterLat/CenterLon define the poll center in decimal degrees
	CenterLat float64 `json:"center_lat" validate:"gte=-90,lte=90"`
	CenterLon float64 `json:"center_lon" validate:"gte=-180,lte=180"`

	// RadiusNM is the poll radius in nautical miles (upstream caps at 250)
	RadiusNM float64 `json:"radius_nm" validate:"gt=0,lte=250"`

	// PollIntervalMS between snapshot fetches
	PollIntervalMS int `json:"poll_interval_ms" validate:"gte=1000"`

	// TrailDurationMS is the rolling trail window; user-adjustable
	TrailDurationMS int `json:"trail_duration_ms" validate:"gt=0"`

	// MaxTrailPoints is the hard cap on points per trail
	MaxTrailPoints int `json:"max_trail_points" validate:"gt=0"`

	// TraceBatchFirstLoad bounds trace backfill on a cold start; 0 means
	// unbounded
	TraceBatchFirstLoad int `json:"trace_batch_first_load" validate:"gte=0"`

	// TraceBatchPerCycle bounds trace backfill on warm cycles
	TraceBatchPerCycle int `json:"trace_batch_per_cycle" validate:"gt=0"`

	// BackoffBaseMS is the first skip delay after an upstream rate limit
	BackoffBaseMS int `json:"backoff_base_ms" validate:"gt=0"`

	// BackoffMaxMS caps the doubling skip delay
	BackoffMaxMS int `json:"backoff_max_ms" validate:"gtefield=BackoffBaseMS"`
}

// Load reads configuration from a JSON file. If the file doesn't exist, the
// defaults are returned. Environment overrides are applied and the result is
// validated either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration against the struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults. The default
// poll center is RKPU (Ulsan).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Feed: FeedConfig{
			PositionURL:       "https://feed.example.net/positions",
			TraceURL:          "https://feed.example.net/trace",
			RequestsPerSecond: 2.0,
			TimeoutMS:         10000,
		},
		Track: TrackConfig{
			CenterLat:           35.5934,
			CenterLon:           129.3520,
			RadiusNM:            80,
			PollIntervalMS:      15000,
			TrailDurationMS:     600000,
			MaxTrailPoints:      600,
			TraceBatchFirstLoad: 0,
			TraceBatchPerCycle:  3,
			BackoffBaseMS:       15000,
			BackoffMaxMS:        120000,
		},
	}
}

// PollInterval returns the poll interval as a duration.
func (c *TrackConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TrailDuration returns the trail window as a duration.
func (c *TrackConfig) TrailDuration() time.Duration {
	return time.Duration(c.TrailDurationMS) * time.Millisecond
}

// BackoffBase returns the backoff seed as a duration.
func (c *TrackConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the backoff cap as a duration.
func (c *TrackConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// Timeout returns the feed HTTP timeout as a duration.
func (c *FeedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// applyEnvironmentOverrides applies LIVETRACK_* environment variables.
// Sensitive or deployment-specific values stay out of the config file.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("LIVETRACK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if secret := os.Getenv("LIVETRACK_JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
	if u := os.Getenv("LIVETRACK_POSITION_URL"); u != "" {
		c.Feed.PositionURL = u
	}
	if u := os.Getenv("LIVETRACK_TRACE_URL"); u != "" {
		c.Feed.TraceURL = u
	}
}
