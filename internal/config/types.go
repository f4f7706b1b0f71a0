package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	SMTP      SMTPConfig      `json:"smtp"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Logging   LoggingConfig   `json:"logging"`

	// Storage controls the optional broadcast audit log.
	// If omitted, nothing is persisted.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr"`

	// Durations are Go duration strings (e.g. "10s", "1m").
	ReadTimeout     string `json:"read_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// SMTPConfig configures the outbound transport.
//
// Credentials can also come from the environment (SMTP_USERNAME /
// SMTP_PASSWORD, typically via a .env file); env values win over the file
// so secrets stay out of checked-in configs.
type SMTPConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	SenderName string `json:"sender_name,omitempty"`
	StartTLS   *bool  `json:"starttls,omitempty"` // default true

	// Timeout bounds one delivery attempt. Go duration string, default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// BroadcastConfig controls the dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - min_concurrency: 1
//   - max_concurrency: 100
//   - default_concurrency: 50
//   - sync_threshold: 25 (use 0 to always return a job id)
//   - rate_per_sec: 0 (unlimited)
//   - max_failures_kept: 0 (keep every failure; set a cap only to bound memory)
//   - status_ttl: "24h"
//   - status_max: 200
//   - sweep_every: "10m"
type BroadcastConfig struct {
	MinConcurrency     int    `json:"min_concurrency,omitempty"`
	MaxConcurrency     int    `json:"max_concurrency,omitempty"`
	DefaultConcurrency int    `json:"default_concurrency,omitempty"`
	SyncThreshold      *int   `json:"sync_threshold,omitempty"`
	RatePerSec         int    `json:"rate_per_sec,omitempty"`
	MaxFailuresKept    int    `json:"max_failures_kept,omitempty"`
	StatusTTL          string `json:"status_ttl,omitempty"`
	StatusMax          int    `json:"status_max,omitempty"`
	SweepEvery         string `json:"sweep_every,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./storage/mailcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Default returns a config with the documented defaults filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "10s",
			ShutdownTimeout: "10s",
		},
		SMTP: SMTPConfig{
			Host:       "smtp.gmail.com",
			Port:       587,
			SenderName: "Broadcast Studio",
			Timeout:    "30s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./storage/logs/broadcast.log"},
		},
	}
}

// ApplyEnv overlays environment variables onto the config.
// Only SMTP settings are env-overridable; everything else lives in the file.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("SMTP_SERVER")); v != "" {
		c.SMTP.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("SMTP_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.SMTP.Port = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("SMTP_USERNAME")); v != "" {
		c.SMTP.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("SMTP_PASSWORD")); v != "" {
		c.SMTP.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("SMTP_SENDER_NAME")); v != "" {
		c.SMTP.SenderName = v
	}
}

// Validate rejects configs that cannot be mapped to a working service.
// It is also used by the watcher before publishing a reload.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port out of range: %d", c.SMTP.Port)
	}
	b := c.Broadcast
	if b.MinConcurrency < 0 || b.MaxConcurrency < 0 {
		return errors.New("broadcast concurrency bounds must be >= 0")
	}
	if b.MinConcurrency > 0 && b.MaxConcurrency > 0 && b.MinConcurrency > b.MaxConcurrency {
		return fmt.Errorf("broadcast.min_concurrency (%d) > broadcast.max_concurrency (%d)",
			b.MinConcurrency, b.MaxConcurrency)
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"smtp.timeout", c.SMTP.Timeout},
		{"broadcast.status_ttl", b.StatusTTL},
		{"broadcast.sweep_every", b.SweepEvery},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver unknown: %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
