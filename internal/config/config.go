// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package config provides layered configuration for the Fontaine server
// using Koanf v2: struct defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/culture-thirst/fontaine/internal/validation"
)

// Config is the root configuration for the Fontaine server process.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Fountain FountainConfig `koanf:"fountain"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Rollup   RollupConfig   `koanf:"rollup"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout       time.Duration `koanf:"timeout"`
	CORSOrigins   []string      `koanf:"cors_origins"`
	RateLimitReqs int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWin  time.Duration `koanf:"rate_limit_window"`
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// FountainConfig identifies the dispensing unit this server fronts and
// the physical sensor parameters that shape the session lifecycle.
type FountainConfig struct {
	// Department is the fixed-width department code (first segment of the
	// fountain identifier).
	Department string `koanf:"department" validate:"required,len=6"`

	// Serial is the fountain serial suffix.
	Serial string `koanf:"serial" validate:"required"`

	// FillRate is the flow rate in liters per second while the button is held.
	FillRate float64 `koanf:"fill_rate" validate:"gt=0"`

	// IdleCloseDelay is how long after the last flow update a session is
	// considered finished and its close is scheduled.
	IdleCloseDelay time.Duration `koanf:"idle_close_delay"`
}

// DatabaseConfig holds Badger store settings.
type DatabaseConfig struct {
	Path     string `koanf:"path" validate:"required"`
	InMemory bool   `koanf:"in_memory"`
}

// NATSConfig holds embedded NATS JetStream and Watermill router settings.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName   string        `koanf:"stream_name"`
	DurableName  string        `koanf:"durable_name"`
	QueueGroup   string        `koanf:"queue_group"`
	Subscribers  int           `koanf:"subscribers" validate:"min=1"`
	RetentionAge time.Duration `koanf:"retention_age"`

	// Watermill router middleware
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterRetryMaxInterval     time.Duration `koanf:"router_retry_max_interval"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// RealtimeConfig holds websocket hub settings.
type RealtimeConfig struct {
	SendBuffer   int           `koanf:"send_buffer" validate:"min=1"`
	PingPeriod   time.Duration `koanf:"ping_period"`
	PongWait     time.Duration `koanf:"pong_wait"`
	WriteWait    time.Duration `koanf:"write_wait"`
	MaxMessageSz int64         `koanf:"max_message_size"`
}

// RollupConfig holds settings for forwarding rollup deltas to the external
// aggregation endpoint.
type RollupConfig struct {
	Enabled    bool          `koanf:"enabled"`
	URL        string        `koanf:"url" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries" validate:"min=0"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	RatePerSec float64       `koanf:"rate_per_sec" validate:"gt=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks semantic constraints beyond what unmarshaling enforces.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if c.Rollup.Enabled && c.Rollup.URL == "" {
		return fmt.Errorf("rollup forwarding enabled but rollup.url is empty")
	}
	if c.NATS.Enabled && !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats enabled without embedded server requires nats.url")
	}
	return nil
}

// FountainID returns the flat fountain identifier (department + serial).
func (c *Config) FountainID() string {
	return c.Fountain.Department + c.Fountain.Serial
}
