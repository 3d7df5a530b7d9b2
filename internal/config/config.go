// ABOUTME: Configuration loading for quarry from YAML or TOML files
// ABOUTME: Supports environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete quarry configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Actor    ActorConfig    `yaml:"actor" toml:"actor"`
	Jobs     JobsConfig     `yaml:"jobs" toml:"jobs"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig locates the store file.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ActorConfig tunes the request boundary.
type ActorConfig struct {
	MailboxSize    int           `yaml:"mailbox_size" toml:"mailbox_size"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	Shutdown       string        `yaml:"shutdown" toml:"shutdown"` // graceful or forced

	// Raw string value for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// JobsConfig tunes the job queue and event log.
type JobsConfig struct {
	PayloadLimit int           `yaml:"payload_limit" toml:"payload_limit"`
	RetentionAge time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	RetentionAgeRaw string `yaml:"retention_age" toml:"retention_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file and returns a parsed Config. The format is
// chosen by extension: .toml parses as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before
// parsing, and duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if filepath.Ext(path) == ".toml" {
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Actor.MailboxSize < 0 {
		return fmt.Errorf("actor.mailbox_size must not be negative")
	}
	if c.Actor.MailboxSize == 0 {
		c.Actor.MailboxSize = 64
	}

	switch c.Actor.Shutdown {
	case "", "graceful", "forced":
	default:
		return fmt.Errorf("actor.shutdown must be graceful or forced, got %q", c.Actor.Shutdown)
	}

	if c.Jobs.PayloadLimit < 0 {
		return fmt.Errorf("jobs.payload_limit must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Actor.RequestTimeoutRaw != "" {
		cfg.Actor.RequestTimeout, err = time.ParseDuration(cfg.Actor.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Actor.RequestTimeoutRaw, err)
		}
	}

	if cfg.Jobs.RetentionAgeRaw != "" {
		cfg.Jobs.RetentionAge, err = time.ParseDuration(cfg.Jobs.RetentionAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing retention_age %q: %w", cfg.Jobs.RetentionAgeRaw, err)
		}
	}

	return nil
}
