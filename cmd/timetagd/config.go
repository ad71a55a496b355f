// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration. Flags override file values.
type Config struct {
	Host        string     `toml:"host"`
	Port        int        `toml:"port"`
	Serials     []string   `toml:"serials"`
	ServerID    string     `toml:"server_id"`
	DebugFaults bool       `toml:"debug_faults"`
	Log         LogConfig  `toml:"log"`
	Otel        OtelConfig `toml:"otel"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// OtelConfig controls OpenTelemetry instrumentation.
type OtelConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file and no flags are
// given: one simulated device on the standard instrument port.
func DefaultConfig() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 23000,
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("config %s: unknown keys: %v", path, undecoded)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// setupLogger installs the process-wide slog handler.
func setupLogger(cfg LogConfig) error {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
