// ABOUTME: Configuration loading and parsing for ophub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ophub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Assistant AssistantConfig `yaml:"assistant"`
	Hub       HubConfig       `yaml:"hub"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Notify    NotifyConfig    `yaml:"notify"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AssistantConfig holds assistant gateway client configuration
type AssistantConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// HubConfig holds dispatch and reconciliation timing configuration
type HubConfig struct {
	PollInterval time.Duration `yaml:"-"`
	RunTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
	RunTimeoutRaw   string `yaml:"run_timeout"`
}

// JobsConfig holds async job runner configuration
type JobsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// NotifyConfig holds email notification configuration
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// AuthConfig holds authentication configuration. BootstrapTokenHash is
// the bcrypt hash of the bootstrap token; callers presenting the token
// itself can mint API JWTs.
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	BootstrapTokenHash string `yaml:"bootstrap_token_hash"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default timings: the run poller checks once per second and gives up
// after five minutes of wall-clock time.
const (
	DefaultPollInterval     = time.Second
	DefaultRunTimeout       = 300 * time.Second
	DefaultAssistantTimeout = 30 * time.Second
	DefaultJobWorkers       = 4
	DefaultJobQueueSize     = 64
)

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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued optional fields.
func (c *Config) applyDefaults() {
	if c.Hub.PollInterval == 0 {
		c.Hub.PollInterval = DefaultPollInterval
	}
	if c.Hub.RunTimeout == 0 {
		c.Hub.RunTimeout = DefaultRunTimeout
	}
	if c.Assistant.Timeout == 0 {
		c.Assistant.Timeout = DefaultAssistantTimeout
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = DefaultJobWorkers
	}
	if c.Jobs.QueueSize == 0 {
		c.Jobs.QueueSize = DefaultJobQueueSize
	}
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

	if c.Assistant.BaseURL == "" {
		return fmt.Errorf("assistant.base_url is required")
	}

	if c.Notify.Enabled {
		if c.Notify.SMTPHost == "" {
			return fmt.Errorf("notify.smtp_host is required when notify is enabled")
		}
		if c.Notify.From == "" {
			return fmt.Errorf("notify.from is required when notify is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Hub.PollIntervalRaw != "" {
		cfg.Hub.PollInterval, err = time.ParseDuration(cfg.Hub.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Hub.PollIntervalRaw, err)
		}
	}

	if cfg.Hub.RunTimeoutRaw != "" {
		cfg.Hub.RunTimeout, err = time.ParseDuration(cfg.Hub.RunTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing run_timeout %q: %w", cfg.Hub.RunTimeoutRaw, err)
		}
	}

	if cfg.Assistant.TimeoutRaw != "" {
		cfg.Assistant.Timeout, err = time.ParseDuration(cfg.Assistant.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing assistant timeout %q: %w", cfg.Assistant.TimeoutRaw, err)
		}
	}

	return nil
}
