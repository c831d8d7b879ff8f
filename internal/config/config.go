// ABOUTME: Configuration loading and parsing for looma-sync
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default worker timings, applied when the config file omits them.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultLeaseDuration = 30 * time.Second
	DefaultStaleAfter    = 2 * time.Minute
	DefaultRepeatKeyTTL  = 24 * time.Hour
)

// Config represents the complete looma-sync configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Media    MediaConfig    `yaml:"media"`
	Workers  WorkersConfig  `yaml:"workers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MediaConfig holds blob storage and transcription configuration
type MediaConfig struct {
	BlobDir string `yaml:"blob_dir"`

	// TranscribeCommand is the argv of an external speech-to-text
	// program. The audio file path is appended as the last argument.
	// Empty disables the transcription worker.
	TranscribeCommand []string `yaml:"transcribe_command"`
}

// WorkersConfig holds background worker timing configuration
type WorkersConfig struct {
	PollInterval      time.Duration `yaml:"-"`
	LeaseDuration     time.Duration `yaml:"-"`
	SessionStaleAfter time.Duration `yaml:"-"`
	RepeatKeyTTL      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw      string `yaml:"poll_interval"`
	LeaseDurationRaw     string `yaml:"lease_duration"`
	SessionStaleAfterRaw string `yaml:"session_stale_after"`
	RepeatKeyTTLRaw      string `yaml:"repeat_key_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Media.BlobDir == "" {
		return fmt.Errorf("media.blob_dir is required")
	}

	if c.Logging.Level != "" {
		switch strings.ToLower(c.Logging.Level) {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level must be one of debug, info, warn, error")
		}
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Workers.LeaseDuration <= c.Workers.PollInterval {
		return fmt.Errorf("workers.lease_duration must exceed workers.poll_interval")
	}

	return nil
}

// applyDefaults fills unset worker timings
func (c *Config) applyDefaults() {
	if c.Workers.PollInterval == 0 {
		c.Workers.PollInterval = DefaultPollInterval
	}
	if c.Workers.LeaseDuration == 0 {
		c.Workers.LeaseDuration = DefaultLeaseDuration
	}
	if c.Workers.SessionStaleAfter == 0 {
		c.Workers.SessionStaleAfter = DefaultStaleAfter
	}
	if c.Workers.RepeatKeyTTL == 0 {
		c.Workers.RepeatKeyTTL = DefaultRepeatKeyTTL
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", cfg.Workers.PollIntervalRaw, &cfg.Workers.PollInterval},
		{"lease_duration", cfg.Workers.LeaseDurationRaw, &cfg.Workers.LeaseDuration},
		{"session_stale_after", cfg.Workers.SessionStaleAfterRaw, &cfg.Workers.SessionStaleAfter},
		{"repeat_key_ttl", cfg.Workers.RepeatKeyTTLRaw, &cfg.Workers.RepeatKeyTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
