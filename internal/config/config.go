// Package config loads scribe config from YAML. Env overrides take
// precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds resolved endpoints, paths and tuning. Paths use XDG defaults
// when not in file.
type Config struct {
	GatewayURL    string `yaml:"gateway_url"`
	RelayURL      string `yaml:"relay_url"`
	PaymentHeader string `yaml:"payment_header"`

	KeyfilePath string `yaml:"keyfile_path"`
	DbPath      string `yaml:"db_path"`

	Threshold     int  `yaml:"storage_threshold"` // normal/chunked boundary, bytes
	ChunkSize     int  `yaml:"chunk_size"`
	Compress      bool `yaml:"compress_binary"`
	MaxBatchOps   int  `yaml:"max_batch_ops"`
	MaxBatchBytes int  `yaml:"max_batch_bytes"`

	MaxRetries        int           `yaml:"max_retries"`
	InitialDelayMs    int           `yaml:"initial_delay_ms"`
	MaxDelayMs        int           `yaml:"max_delay_ms"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Confirmations     int           `yaml:"confirmations"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
	SessionExpiresIn  time.Duration `yaml:"session_expires_in"`
	LogLevel          string        `yaml:"log_level"`
}

// Load reads config from XDG_CONFIG_HOME/scribe/config.yaml. Missing file
// uses defaults. Env overrides: SCRIBE_GATEWAY_URL, SCRIBE_RELAY_URL,
// SCRIBE_KEYFILE, SCRIBE_DB_PATH, SCRIBE_PAYMENT_HEADER, SCRIBE_LOG_LEVEL.
func Load() (*Config, error) {
	dataHome := xdgDataHome()
	path := filepath.Join(xdgConfigHome(), "scribe", "config.yaml")

	c := &Config{
		GatewayURL:        "http://localhost:8545",
		RelayURL:          "http://localhost:8660",
		KeyfilePath:       filepath.Join(dataHome, "scribe", "operator.key"),
		DbPath:            filepath.Join(dataHome, "scribe", "scribe.db"),
		Threshold:         20 * 1024,
		ChunkSize:         16 * 1024,
		MaxBatchOps:       8,
		MaxBatchBytes:     128 * 1024,
		MaxRetries:        3,
		InitialDelayMs:    1000,
		MaxDelayMs:        30000,
		BackoffMultiplier: 2.0,
		Confirmations:     1,
		ConfirmTimeout:    2 * time.Minute,
		SessionExpiresIn:  time.Hour,
		LogLevel:          "info",
	}

	b, err := os.ReadFile(path)
	if err == nil {
		var raw Config
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		merge(c, &raw, dataHome)
	}

	if v := os.Getenv("SCRIBE_GATEWAY_URL"); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv("SCRIBE_RELAY_URL"); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv("SCRIBE_KEYFILE"); v != "" {
		c.KeyfilePath = v
	}
	if v := os.Getenv("SCRIBE_DB_PATH"); v != "" {
		c.DbPath = v
	}
	if v := os.Getenv("SCRIBE_PAYMENT_HEADER"); v != "" {
		c.PaymentHeader = v
	}
	if v := os.Getenv("SCRIBE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	return c, nil
}

func merge(c, raw *Config, dataHome string) {
	if raw.GatewayURL != "" {
		c.GatewayURL = raw.GatewayURL
	}
	if raw.RelayURL != "" {
		c.RelayURL = raw.RelayURL
	}
	if raw.PaymentHeader != "" {
		c.PaymentHeader = raw.PaymentHeader
	}
	if raw.KeyfilePath != "" {
		c.KeyfilePath = resolvePath(raw.KeyfilePath, dataHome)
	}
	if raw.DbPath != "" {
		c.DbPath = resolvePath(raw.DbPath, dataHome)
	}
	if raw.Threshold > 0 {
		c.Threshold = raw.Threshold
	}
	if raw.ChunkSize > 0 {
		c.ChunkSize = raw.ChunkSize
	}
	c.Compress = raw.Compress
	if raw.MaxBatchOps > 0 {
		c.MaxBatchOps = raw.MaxBatchOps
	}
	if raw.MaxBatchBytes > 0 {
		c.MaxBatchBytes = raw.MaxBatchBytes
	}
	if raw.MaxRetries > 0 {
		c.MaxRetries = raw.MaxRetries
	}
	if raw.InitialDelayMs > 0 {
		c.InitialDelayMs = raw.InitialDelayMs
	}
	if raw.MaxDelayMs > 0 {
		c.MaxDelayMs = raw.MaxDelayMs
	}
	if raw.BackoffMultiplier > 0 {
		c.BackoffMultiplier = raw.BackoffMultiplier
	}
	if raw.Confirmations > 0 {
		c.Confirmations = raw.Confirmations
	}
	if raw.ConfirmTimeout > 0 {
		c.ConfirmTimeout = raw.ConfirmTimeout
	}
	if raw.SessionExpiresIn > 0 {
		c.SessionExpiresIn = raw.SessionExpiresIn
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
}

func xdgDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

// resolvePath expands $XDG_DATA_HOME, $HOME in paths from config file.
func resolvePath(p, dataHome string) string {
	return filepath.Clean(os.Expand(p, func(key string) string {
		switch key {
		case "XDG_DATA_HOME":
			return dataHome
		case "XDG_CONFIG_HOME":
			return xdgConfigHome()
		case "HOME":
			home, _ := os.UserHomeDir()
			return home
		}
		return ""
	}))
}
