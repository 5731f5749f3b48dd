// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package config provides layered configuration for SessionGuard using Koanf v2.
//
// Precedence (highest wins): environment variables > config file > built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the SessionGuard server.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Risk       RiskConfig       `koanf:"risk"`
	Detection  DetectionConfig  `koanf:"detection"`
	Geo        GeoConfig        `koanf:"geo"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Revocation RevocationConfig `koanf:"revocation"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig holds BadgerDB storage settings.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects in-memory stores
	// (development and tests).
	Path string `koanf:"path"`

	// GCInterval is how often the Badger value-log garbage collector runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RiskConfig tunes the risk scorer.
//
// The defaults come straight from observed production thresholds; they are
// deliberately configuration rather than constants.
type RiskConfig struct {
	// SuspiciousWeight is the score added per suspicious session.
	SuspiciousWeight int `koanf:"suspicious_weight" validate:"min=1"`

	// MaxScore caps the computed risk score.
	MaxScore int `koanf:"max_score" validate:"min=1,max=100"`
}

// DetectionConfig tunes the impossible-travel detector.
type DetectionConfig struct {
	// HighSpeedKmh is the required-speed threshold above which a login pair
	// is flagged (default 900, commercial-flight-infeasible).
	HighSpeedKmh float64 `koanf:"high_speed_kmh" validate:"gt=0"`

	// CriticalSpeedKmh classifies an alert as critical (default 15000,
	// exceeds any feasible human transport).
	CriticalSpeedKmh float64 `koanf:"critical_speed_kmh" validate:"gt=0"`

	// MinDistanceKm suppresses alerts for nearby locations, which keeps
	// geolocation jitter for a single city from producing pairs.
	MinDistanceKm float64 `koanf:"min_distance_km" validate:"min=0"`

	// SweepWindow is the recent-login window for retroactive batch detection.
	SweepWindow time.Duration `koanf:"sweep_window"`

	// OpTimeout bounds a single on-demand detection call.
	OpTimeout time.Duration `koanf:"op_timeout"`
}

// GeoConfig holds geolocation resolver settings.
type GeoConfig struct {
	// Enabled toggles outbound IP-to-location resolution. When disabled,
	// sessions without coordinates simply never produce travel alerts.
	Enabled bool `koanf:"enabled"`

	// URL is the resolver endpoint; %s is replaced with the IP address.
	URL string `koanf:"url"`

	// Timeout bounds a single lookup.
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond rate-limits outbound lookups.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
}

// AggregatorConfig holds polling cadences for the live aggregator.
type AggregatorConfig struct {
	// StatsInterval is the population-stats tick cadence.
	StatsInterval time.Duration `koanf:"stats_interval"`

	// TimelineInterval is the timeline-view tick cadence.
	TimelineInterval time.Duration `koanf:"timeline_interval"`

	// RecentLoginWindow defines "recent" for the recent-logins count.
	RecentLoginWindow time.Duration `koanf:"recent_login_window"`

	// TickTimeout bounds a single aggregation pass.
	TickTimeout time.Duration `koanf:"tick_timeout"`
}

// RevocationConfig holds revocation coordinator settings.
type RevocationConfig struct {
	// OpTimeout bounds a single-session revocation.
	OpTimeout time.Duration `koanf:"op_timeout"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Detection.CriticalSpeedKmh < c.Detection.HighSpeedKmh {
		return fmt.Errorf("detection.critical_speed_kmh (%v) must be >= detection.high_speed_kmh (%v)",
			c.Detection.CriticalSpeedKmh, c.Detection.HighSpeedKmh)
	}
	return nil
}

// Addr returns the host:port listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
