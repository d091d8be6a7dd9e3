// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fontaine/config.yaml",
	"/etc/fontaine/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is the prefix for Fontaine environment variables.
// FONTAINE_SERVER_PORT -> server.port
const envPrefix = "FONTAINE_"

// defaultConfig returns a Config with all sensible default values.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8000,
			Timeout:       30 * time.Second,
			CORSOrigins:   []string{"*"},
			RateLimitReqs: 100,
			RateLimitWin:  time.Minute,
		},
		Fountain: FountainConfig{
			Department: "EPHEC0",
			Serial:     "1M02",
			// Matches the physical pump: 8 mL per second while the button is held.
			FillRate:       0.008,
			IdleCloseDelay: 3 * time.Second,
		},
		Database: DatabaseConfig{
			Path:     "/data/fontaine",
			InMemory: false,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			StreamName:     "FLOW",
			DurableName:    "flow-processor",
			QueueGroup:     "processors",
			Subscribers:    4,
			RetentionAge:   7 * 24 * time.Hour,

			RouterRetryCount:           5,
			RouterRetryInitialInterval: time.Second,
			RouterRetryMaxInterval:     time.Minute,
			RouterPoisonQueueTopic:     "flow.poison",
			RouterCloseTimeout:         30 * time.Second,
		},
		Realtime: RealtimeConfig{
			SendBuffer:   256,
			PingPeriod:   54 * time.Second,
			PongWait:     60 * time.Second,
			WriteWait:    10 * time.Second,
			MaxMessageSz: 512 * 1024,
		},
		Rollup: RollupConfig{
			Enabled:    false,
			URL:        "",
			Timeout:    10 * time.Second,
			MaxRetries: 5,
			RetryDelay: 2 * time.Second,
			RatePerSec: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: FONTAINE_* overrides any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// FONTAINE_FOUNTAIN_DEPARTMENT -> fountain.department
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	// Comma-separated env values for slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or "" if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as plain strings, but the config
// struct expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		// Already a slice (from YAML or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for %s", val, path)
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := k.Set(path, parts); err != nil {
			return err
		}
	}
	return nil
}
