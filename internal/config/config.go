// ABOUTME: Configuration loading and parsing for agent-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agent-relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Retry     RetryConfig     `yaml:"retry"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the health/status HTTP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BackendConfig holds settings for the coding-agent CLI backend
type BackendConfig struct {
	// Command is the agent binary to spawn (e.g., "claude")
	Command string `yaml:"command"`

	// Args are extra arguments appended to every invocation
	Args []string `yaml:"args"`

	// WorkingDir is the default working directory for new sessions;
	// per-conversation overrides live in the settings store
	WorkingDir string `yaml:"working_dir"`

	// PermissionMode is passed through to the agent (e.g., "bypassPermissions")
	PermissionMode string `yaml:"permission_mode"`

	// SystemPrompt is appended to the agent's system prompt when set
	SystemPrompt string `yaml:"system_prompt"`
}

// SessionsConfig holds session lifecycle tuning
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// QueueLimit caps the per-conversation pending message queue
	QueueLimit int `yaml:"queue_limit"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// RetryConfig holds reconnect retry tuning
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`

	BaseDelayRaw string `yaml:"base_delay"`
	MaxDelayRaw  string `yaml:"max_delay"`
}

// PlatformsConfig holds per-platform access policies. Telegram and Slack
// are served by external bridge adapters; console is the built-in local
// transport.
type PlatformsConfig struct {
	Telegram PlatformConfig `yaml:"telegram"`
	Slack    PlatformConfig `yaml:"slack"`
	Console  PlatformConfig `yaml:"console"`
}

// PlatformConfig holds one platform's integration settings.
// AllowedChats semantics: nil (absent) accepts everything, an empty list
// accepts direct messages only, and a non-empty list accepts only the
// listed chat/channel IDs.
type PlatformConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Token        string   `yaml:"token"`
	AllowedChats []string `yaml:"allowed_chats"`
}

// DatabaseConfig holds the settings database path
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves a field unset.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	DefaultQueueLimit    = 32
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultMaxDelay      = 10 * time.Second
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

// applyDefaults fills in zero-valued tuning fields.
func (c *Config) applyDefaults() {
	if c.Backend.Command == "" {
		c.Backend.Command = "claude"
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
	if c.Sessions.QueueLimit == 0 {
		c.Sessions.QueueLimit = DefaultQueueLimit
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Sessions.QueueLimit < 0 {
		return fmt.Errorf("sessions.queue_limit must not be negative")
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}

	if c.Platforms.Telegram.Enabled && c.Platforms.Telegram.Token == "" {
		return fmt.Errorf("platforms.telegram.token is required when telegram is enabled")
	}
	if c.Platforms.Slack.Enabled && c.Platforms.Slack.Token == "" {
		return fmt.Errorf("platforms.slack.token is required when slack is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Sessions.IdleTimeoutRaw, "sessions.idle_timeout", &cfg.Sessions.IdleTimeout},
		{cfg.Sessions.SweepIntervalRaw, "sessions.sweep_interval", &cfg.Sessions.SweepInterval},
		{cfg.Retry.BaseDelayRaw, "retry.base_delay", &cfg.Retry.BaseDelay},
		{cfg.Retry.MaxDelayRaw, "retry.max_delay", &cfg.Retry.MaxDelay},
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
