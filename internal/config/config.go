// ABOUTME: Configuration loading and parsing for the chat gateway
// ABOUTME: YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file path
	URL    string `yaml:"url"`    // postgres connection URL
}

// AuthConfig holds credential verification configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RealtimeConfig holds room and reconciler tuning.
type RealtimeConfig struct {
	SessionBuffer int           `yaml:"session_buffer"`
	PollInterval  time.Duration `yaml:"-"`
	PollTimeout   time.Duration `yaml:"-"`
	SeenTTL       time.Duration `yaml:"-"`
	SeenMax       int           `yaml:"seen_max"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
	PollTimeoutRaw  string `yaml:"poll_timeout"`
	SeenTTLRaw      string `yaml:"seen_ttl"`
}

// NotifyConfig holds offline-push publishing configuration.
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`      // AMQP broker URL
	Exchange string `yaml:"exchange"` // topic exchange for push events
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Notify.Enabled {
		if c.Notify.URL == "" {
			return fmt.Errorf("notify.url is required when notify is enabled")
		}
		if c.Notify.Exchange == "" {
			return fmt.Errorf("notify.exchange is required when notify is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Realtime.PollIntervalRaw != "" {
		cfg.Realtime.PollInterval, err = time.ParseDuration(cfg.Realtime.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Realtime.PollIntervalRaw, err)
		}
	}

	if cfg.Realtime.PollTimeoutRaw != "" {
		cfg.Realtime.PollTimeout, err = time.ParseDuration(cfg.Realtime.PollTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_timeout %q: %w", cfg.Realtime.PollTimeoutRaw, err)
		}
	}

	if cfg.Realtime.SeenTTLRaw != "" {
		cfg.Realtime.SeenTTL, err = time.ParseDuration(cfg.Realtime.SeenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing seen_ttl %q: %w", cfg.Realtime.SeenTTLRaw, err)
		}
	}

	return nil
}
