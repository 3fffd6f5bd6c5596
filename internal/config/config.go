// ABOUTME: Configuration loading and parsing for sigil-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/sigil-gateway/internal/auth"
)

// MinJWTSecretLength is the minimum length for auth.jwt_secret when set.
const MinJWTSecretLength = 32

// Default worker timeouts applied when the config omits them.
const (
	DefaultLaunchTimeout = 30 * time.Second
	DefaultCallTimeout   = 30 * time.Second
)

// Config represents the complete sigil-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Workers  []WorkerConfig `yaml:"workers"`
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

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret    string              `yaml:"jwt_secret"`
	StaticTokens []StaticTokenConfig `yaml:"static_tokens"`
}

// StaticTokenConfig declares one bcrypt-hashed API token with the identity
// it resolves to.
type StaticTokenConfig struct {
	Hash        string            `yaml:"hash"`
	Subject     string            `yaml:"subject"`
	Role        auth.Role         `yaml:"role"`
	Permissions []auth.Permission `yaml:"permissions"`
}

// WorkerConfig describes one subprocess tool server the gateway spawns at
// boot. Env entries override inherited values; EnvPassthrough names ambient
// variables to forward. Nothing else from the ambient environment reaches
// the subprocess beyond the fixed base set.
type WorkerConfig struct {
	ID             string            `yaml:"id"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	WorkDir        string            `yaml:"work_dir"`
	Env            map[string]string `yaml:"env"`
	EnvPassthrough []string          `yaml:"env_passthrough"`
	Prefix         string            `yaml:"prefix"`
	Permissions    []auth.Permission `yaml:"permissions"`

	LaunchTimeout time.Duration `yaml:"-"`
	CallTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LaunchTimeoutRaw string `yaml:"launch_timeout"`
	CallTimeoutRaw   string `yaml:"call_timeout"`
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

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	for i, tok := range c.Auth.StaticTokens {
		if tok.Hash == "" {
			return fmt.Errorf("auth.static_tokens[%d].hash is required", i)
		}
		if tok.Subject == "" {
			return fmt.Errorf("auth.static_tokens[%d].subject is required", i)
		}
		if tok.Role != "" && !auth.ValidRole(tok.Role) {
			return fmt.Errorf("auth.static_tokens[%d].role %q is not a known role", i, tok.Role)
		}
		for _, p := range tok.Permissions {
			if !auth.ValidPermission(p) {
				return fmt.Errorf("auth.static_tokens[%d].permissions: unknown permission %q", i, p)
			}
		}
	}

	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("workers[%d].id is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("workers[%d].id %q is declared twice", i, w.ID)
		}
		seen[w.ID] = true

		if w.Command == "" {
			return fmt.Errorf("workers[%d].command is required", i)
		}
		for _, p := range w.Permissions {
			if !auth.ValidPermission(p) {
				return fmt.Errorf("workers[%d].permissions: unknown permission %q", i, p)
			}
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
// and applies worker timeout defaults.
func parseDurations(cfg *Config) error {
	for i := range cfg.Workers {
		w := &cfg.Workers[i]

		if w.LaunchTimeoutRaw != "" {
			d, err := time.ParseDuration(w.LaunchTimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing workers[%d].launch_timeout %q: %w", i, w.LaunchTimeoutRaw, err)
			}
			w.LaunchTimeout = d
		}
		if w.LaunchTimeout <= 0 {
			w.LaunchTimeout = DefaultLaunchTimeout
		}

		if w.CallTimeoutRaw != "" {
			d, err := time.ParseDuration(w.CallTimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing workers[%d].call_timeout %q: %w", i, w.CallTimeoutRaw, err)
			}
			w.CallTimeout = d
		}
		if w.CallTimeout <= 0 {
			w.CallTimeout = DefaultCallTimeout
		}
	}

	return nil
}
