package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Storage drivers accepted in Config.StorageDriver.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvPort             = "ATTN_PORT"
	EnvLanEnabled       = "ATTN_LAN_ENABLED"
	EnvStorageDriver    = "ATTN_STORAGE_DRIVER"
	EnvRedisAddr        = "ATTN_REDIS_ADDR"
	EnvUploadURL        = "ATTN_UPLOAD_URL"
	EnvFlushThreshold   = "ATTN_FLUSH_THRESHOLD"
	EnvFlushIntervalSec = "ATTN_FLUSH_INTERVAL_SEC"
	EnvPricingPath      = "ATTN_PRICING_PATH"
)

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion    int    `json:"schema_version"`
	Port             int    `json:"port"`
	LanEnabled       bool   `json:"lan_enabled"`
	StorageDriver    string `json:"storage_driver"`
	RedisAddr        string `json:"redis_addr"`
	UploadBaseURL    string `json:"upload_base_url"`
	FlushThreshold   int    `json:"flush_threshold"`
	FlushIntervalSec int    `json:"flush_interval_sec"`
	PricingPath      string `json:"pricing_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:    CurrentSchemaVersion,
		Port:             8787,
		LanEnabled:       false,
		StorageDriver:    DriverSQLite,
		RedisAddr:        "127.0.0.1:6379",
		UploadBaseURL:    "", // uploads disabled
		FlushThreshold:   10,
		FlushIntervalSec: 300,
		PricingPath:      "", // built-in model
	}
}

// LoadConfig reads config from disk. If the file doesn't exist or is corrupt,
// it returns DefaultConfig with a warning logged (non-fatal).
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		log.Printf("Warning: failed to read config file: %v, using defaults", err)
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		log.Printf("Warning: config file is corrupt: %v, using defaults", err)
		return DefaultConfig(), nil
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: config schema version mismatch (got %d, expected %d), using defaults",
			cfg.SchemaVersion, CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	return normalizeConfig(cfg), nil
}

// normalizeConfig validates and normalizes config values.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if !ValidDriver(cfg.StorageDriver) {
		cfg.StorageDriver = defaults.StorageDriver
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = defaults.RedisAddr
	}

	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = defaults.FlushThreshold
	}
	if cfg.FlushIntervalSec <= 0 {
		cfg.FlushIntervalSec = defaults.FlushIntervalSec
	}

	cfg.UploadBaseURL = strings.TrimRight(strings.TrimSpace(cfg.UploadBaseURL), "/")

	return cfg
}

// ValidDriver reports whether name is a known storage driver.
func ValidDriver(name string) bool {
	switch name {
	case DriverSQLite, DriverMemory, DriverRedis:
		return true
	}
	return false
}

// UploadsEnabled reports whether an upload endpoint is configured.
func (c Config) UploadsEnabled() bool { return c.UploadBaseURL != "" }

// SaveConfig writes config to disk atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion

	return writeJSONAtomic(path, cfg, 0600)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take highest priority over config file values.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}

	if v := os.Getenv(EnvLanEnabled); v != "" {
		cfg.LanEnabled = parseBool(v)
	}

	if v := os.Getenv(EnvStorageDriver); v != "" {
		if d := strings.ToLower(strings.TrimSpace(v)); ValidDriver(d) {
			cfg.StorageDriver = d
		}
	}

	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.RedisAddr = v
	}

	if v := os.Getenv(EnvUploadURL); v != "" {
		cfg.UploadBaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv(EnvFlushThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FlushThreshold = n
		}
	}

	if v := os.Getenv(EnvFlushIntervalSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.FlushIntervalSec = sec
		}
	}

	if v := os.Getenv(EnvPricingPath); v != "" {
		cfg.PricingPath = v
	}

	return cfg
}

// parseBool parses a boolean from various string representations.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// All other values are treated as false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
