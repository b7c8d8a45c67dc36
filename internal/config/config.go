// ABOUTME: Configuration loading and parsing for eva-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete eva-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Chat      ChatConfig      `yaml:"chat"`
	WebSearch WebSearchConfig `yaml:"websearch"`
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

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds chat streaming and inference configuration
type ChatConfig struct {
	// StreamDelay paces partial-content broadcasts so slow client
	// renderers are not overwhelmed. Tunable, not correctness-relevant.
	StreamDelay time.Duration `yaml:"-"`

	// InferenceTimeout is the operator-configured upper bound on a single
	// model call. Zero means no gateway-side bound.
	InferenceTimeout time.Duration `yaml:"-"`

	// SystemPrompt is the preamble template for new conversations.
	// {{.Date}} is substituted with the current date at render time.
	SystemPrompt string `yaml:"system_prompt"`

	// Raw string values for YAML unmarshaling
	StreamDelayRaw      string `yaml:"stream_delay"`
	InferenceTimeoutRaw string `yaml:"inference_timeout"`
}

// WebSearchConfig holds the optional web-search capability configuration.
// The capability is attached to chat models only when Endpoint is set.
type WebSearchConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultStreamDelay is used when chat.stream_delay is not configured.
// ~15ms between fragments keeps the client render smooth without
// noticeably slowing the reply.
const DefaultStreamDelay = 15 * time.Millisecond

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

	if cfg.Chat.StreamDelay == 0 {
		cfg.Chat.StreamDelay = DefaultStreamDelay
	}

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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.StreamDelayRaw != "" {
		cfg.Chat.StreamDelay, err = time.ParseDuration(cfg.Chat.StreamDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_delay %q: %w", cfg.Chat.StreamDelayRaw, err)
		}
	}

	if cfg.Chat.InferenceTimeoutRaw != "" {
		cfg.Chat.InferenceTimeout, err = time.ParseDuration(cfg.Chat.InferenceTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing inference_timeout %q: %w", cfg.Chat.InferenceTimeoutRaw, err)
		}
	}

	return nil
}
