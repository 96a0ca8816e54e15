package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "LENDINGD_"

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress       string          `yaml:"listen"`
	HealthListenAddress string          `yaml:"health_listen"`
	Environment         string          `yaml:"environment"`
	MarketConfig        string          `yaml:"market_config"`
	TLS                 TLSConfig       `yaml:"tls"`
	Store               StoreConfig     `yaml:"store"`
	Journal             JournalConfig   `yaml:"journal"`
	Auth                AuthConfig      `yaml:"auth"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	Telemetry           TelemetryConfig `yaml:"telemetry"`
	Log                 LogConfig       `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// StoreConfig selects where market snapshots are kept.
type StoreConfig struct {
	Backend          string        `yaml:"backend"`
	Path             string        `yaml:"path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// JournalConfig points at the action journal database.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures bearer token verification. The token subject is the
// address the request acts as.
type AuthConfig struct {
	HMACSecret    string        `yaml:"hmac_secret"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
	OptionalPaths []string      `yaml:"optional_paths"`
}

// RateLimitConfig bounds the request rate per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig mirrors the OTLP exporter settings.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Traces      bool              `yaml:"traces"`
	Metrics     bool              `yaml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// LogConfig controls the level and optional rotated log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func defaults() Config {
	return Config{
		ListenAddress:       ":8085",
		HealthListenAddress: ":50053",
		Store:               StoreConfig{Backend: "memory", SnapshotInterval: time.Minute},
		Journal:             JournalConfig{Driver: "sqlite", DSN: "file:lendingd.db"},
		Auth:                AuthConfig{ClockSkew: 2 * time.Minute, OptionalPaths: []string{"/healthz", "/metrics", "/v1/reserves", "/v1/emode"}},
		RateLimit:           RateLimitConfig{RequestsPerMinute: 600, Burst: 50},
		Telemetry:           TelemetryConfig{Insecure: true, SampleRatio: 1},
		Log:                 LogConfig{Level: "info"},
	}
}

// Load reads the YAML configuration from disk, applies LENDINGD_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"LISTEN":         &cfg.ListenAddress,
		"HEALTH_LISTEN":  &cfg.HealthListenAddress,
		"ENV":            &cfg.Environment,
		"MARKET_CONFIG":  &cfg.MarketConfig,
		"STORE_BACKEND":  &cfg.Store.Backend,
		"STORE_PATH":     &cfg.Store.Path,
		"JOURNAL_DRIVER": &cfg.Journal.Driver,
		"JOURNAL_DSN":    &cfg.Journal.DSN,
		"JWT_SECRET":     &cfg.Auth.HMACSecret,
		"JWT_ISSUER":     &cfg.Auth.Issuer,
		"JWT_AUDIENCE":   &cfg.Auth.Audience,
		"OTLP_ENDPOINT":  &cfg.Telemetry.Endpoint,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FILE":       &cfg.Log.File,
	}
	for key, target := range strs {
		if value, ok := lookup(envPrefix + key); ok {
			*target = value
		}
	}
	if value, ok := lookup(envPrefix + "RATE_LIMIT_RPM"); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPM: %w", envPrefix, err)
		}
		cfg.RateLimit.RequestsPerMinute = parsed
	}
	if value, ok := lookup(envPrefix + "RATE_LIMIT_BURST"); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_BURST: %w", envPrefix, err)
		}
		cfg.RateLimit.Burst = parsed
	}
	if value, ok := lookup(envPrefix + "SNAPSHOT_INTERVAL"); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sSNAPSHOT_INTERVAL: %w", envPrefix, err)
		}
		cfg.Store.SnapshotInterval = parsed
	}
	if value, ok := lookup(envPrefix + "OTLP_INSECURE"); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sOTLP_INSECURE: %w", envPrefix, err)
		}
		cfg.Telemetry.Insecure = parsed
	}
	return nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8085"
	}
	cfg.HealthListenAddress = strings.TrimSpace(cfg.HealthListenAddress)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.MarketConfig = strings.TrimSpace(cfg.MarketConfig)
	cfg.TLS.normalize()
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	paths := make([]string, 0, len(cfg.Auth.OptionalPaths))
	for _, path := range cfg.Auth.OptionalPaths {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	cfg.Auth.OptionalPaths = paths
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.MarketConfig == "" {
		return fmt.Errorf("market_config is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	switch cfg.Store.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store: path is required for the %s backend", cfg.Store.Backend)
		}
	default:
		return fmt.Errorf("store: unknown backend %q", cfg.Store.Backend)
	}
	if cfg.Store.SnapshotInterval < 0 {
		return fmt.Errorf("store: snapshot_interval must not be negative")
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unknown driver %q", cfg.Journal.Driver)
	}
	if cfg.Journal.DSN == "" {
		return fmt.Errorf("journal: dsn is required")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac_secret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must be positive")
	}
	if cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit: burst must be positive")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}
