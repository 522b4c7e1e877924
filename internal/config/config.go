package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default quiescence windows; all must stay within the 0.5–3 s band that
// tolerates a user making several corrections in sequence without a
// premature commit.
const (
	DefaultDebounceDate   = 3 * time.Second
	DefaultDebounceTime   = time.Second
	DefaultDebounceToggle = 500 * time.Millisecond

	minDebounce = 500 * time.Millisecond
	maxDebounce = 3 * time.Second
)

type Config struct {
	// BackendURL is the base URL of the schedule extraction service.
	BackendURL string

	BindAddress        string
	UnixSocketPath     string
	RequireBearerToken bool
	BearerToken        string

	// RequestTimeout bounds collaborator calls; extraction is slow.
	RequestTimeout time.Duration
	LogLevel       string

	// Timezone is the IANA zone dates and times are composed in. Empty
	// means the process-local zone.
	Timezone string

	// DefaultDurationMinutes is the span given to user-added events and to
	// auto-corrected end times.
	DefaultDurationMinutes int

	// Quiescence windows by input kind.
	DebounceDate   time.Duration
	DebounceTime   time.Duration
	DebounceToggle time.Duration

	// AutoCorrectEnd turns on the end-before-start correction at commit.
	AutoCorrectEnd bool
}

// fileConfig is the optional YAML layer underneath the environment.
// Durations are strings in Go syntax ("3s", "750ms").
type fileConfig struct {
	BackendURL             string `yaml:"backend_url"`
	BindAddress            string `yaml:"listen"`
	UnixSocketPath         string `yaml:"unix_socket"`
	RequireBearerToken     *bool  `yaml:"require_token"`
	BearerToken            string `yaml:"bearer_token"`
	RequestTimeout         string `yaml:"request_timeout"`
	LogLevel               string `yaml:"log_level"`
	Timezone               string `yaml:"timezone"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes"`
	DebounceDate           string `yaml:"debounce_date"`
	DebounceTime           string `yaml:"debounce_time"`
	DebounceToggle         string `yaml:"debounce_toggle"`
	AutoCorrectEnd         *bool  `yaml:"auto_correct_end"`
}

// Load builds the configuration from SNAP_* environment variables layered
// over the optional YAML file named by SNAP_CONFIG_FILE.
func Load() (Config, error) {
	cfg := Config{
		BackendURL:             "http://localhost:3000",
		BindAddress:            "127.0.0.1:9471",
		RequireBearerToken:     true,
		RequestTimeout:         30 * time.Second,
		LogLevel:               "info",
		DefaultDurationMinutes: 60,
		DebounceDate:           DefaultDebounceDate,
		DebounceTime:           DefaultDebounceTime,
		DebounceToggle:         DefaultDebounceToggle,
		AutoCorrectEnd:         true,
	}

	if path := strings.TrimSpace(os.Getenv("SNAP_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BackendURL = getenvDefault("SNAP_BACKEND_URL", cfg.BackendURL)
	cfg.BindAddress = getenvDefault("SNAP_BIND_ADDRESS", cfg.BindAddress)
	if v, ok := os.LookupEnv("SNAP_UNIX_SOCKET"); ok {
		cfg.UnixSocketPath = strings.TrimSpace(v)
	}
	cfg.RequireBearerToken = getenvBool("SNAP_REQUIRE_TOKEN", cfg.RequireBearerToken)
	cfg.BearerToken = getenvDefault("SNAP_BEARER_TOKEN", cfg.BearerToken)
	cfg.RequestTimeout = getenvDuration("SNAP_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.LogLevel = getenvDefault("SNAP_LOG_LEVEL", cfg.LogLevel)
	cfg.Timezone = getenvDefault("SNAP_TIMEZONE", cfg.Timezone)
	cfg.DefaultDurationMinutes = getenvInt("SNAP_DEFAULT_DURATION_MINUTES", cfg.DefaultDurationMinutes)
	cfg.DebounceDate = getenvDuration("SNAP_DEBOUNCE_DATE", cfg.DebounceDate)
	cfg.DebounceTime = getenvDuration("SNAP_DEBOUNCE_TIME", cfg.DebounceTime)
	cfg.DebounceToggle = getenvDuration("SNAP_DEBOUNCE_TOGGLE", cfg.DebounceToggle)
	cfg.AutoCorrectEnd = getenvBool("SNAP_AUTOCORRECT_END", cfg.AutoCorrectEnd)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if fc.BackendURL != "" {
		cfg.BackendURL = fc.BackendURL
	}
	if fc.BindAddress != "" {
		cfg.BindAddress = fc.BindAddress
	}
	if fc.UnixSocketPath != "" {
		cfg.UnixSocketPath = fc.UnixSocketPath
	}
	if fc.RequireBearerToken != nil {
		cfg.RequireBearerToken = *fc.RequireBearerToken
	}
	if fc.BearerToken != "" {
		cfg.BearerToken = fc.BearerToken
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.Timezone != "" {
		cfg.Timezone = fc.Timezone
	}
	if fc.DefaultDurationMinutes > 0 {
		cfg.DefaultDurationMinutes = fc.DefaultDurationMinutes
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.RequestTimeout, &cfg.RequestTimeout},
		{fc.DebounceDate, &cfg.DebounceDate},
		{fc.DebounceTime, &cfg.DebounceTime},
		{fc.DebounceToggle, &cfg.DebounceToggle},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing config file duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	if fc.AutoCorrectEnd != nil {
		cfg.AutoCorrectEnd = *fc.AutoCorrectEnd
	}
	return nil
}

func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("backend URL is required")
	}
	if c.BindAddress == "" && c.UnixSocketPath == "" {
		return errors.New("either bind address or unix socket path must be configured")
	}
	if c.RequireBearerToken && c.BearerToken == "" {
		return errors.New("SNAP_BEARER_TOKEN is required when token auth is enabled")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	if c.DefaultDurationMinutes <= 0 {
		return errors.New("default duration must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"date":   c.DebounceDate,
		"time":   c.DebounceTime,
		"toggle": c.DebounceToggle,
	} {
		if d < minDebounce || d > maxDebounce {
			return fmt.Errorf("%s debounce window %v outside %v..%v", name, d, minDebounce, maxDebounce)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// Location resolves the configured timezone; call after Validate.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DefaultDuration returns the configured default span.
func (c Config) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMinutes) * time.Minute
}

func getenvDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
