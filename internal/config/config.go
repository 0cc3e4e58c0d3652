package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete engine configuration. This is the engine's
// own configuration, distinct from the per-policy configuration handled by
// the authority package.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Policies PoliciesConfig `mapstructure:"policies"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds ext_proc server configuration
type ServerConfig struct {
	// ExtProcPort is the port for the ext_proc gRPC server
	ExtProcPort int `mapstructure:"extproc_port"`
}

// PoliciesConfig holds policy attachment settings
type PoliciesConfig struct {
	// Path is the path to the policies YAML file
	Path string `mapstructure:"path"`
}

// AdminConfig holds the admin HTTP server configuration
type AdminConfig struct {
	// Enabled indicates whether the admin server should be started
	Enabled bool `mapstructure:"enabled"`

	// Port is the admin HTTP server port
	Port int `mapstructure:"port"`

	// AllowedIPs is the list of client IPs permitted to call admin endpoints
	AllowedIPs []string `mapstructure:"allowed_ips"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level can be "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`

	// Format can be "json" or "text"
	Format string `mapstructure:"format"`
}

// Load loads configuration from a YAML file with env-var overrides
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)

	v.AutomaticEnv()
	// Map environment variables to config keys (e.g., SERVER_EXTPROC_PORT -> server.extproc_port)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.extproc_port", 9001)

	v.SetDefault("policies.path", "configs/policies.yaml")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", 9211)
	v.SetDefault("admin.allowed_ips", []string{"127.0.0.1"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ExtProcPort <= 0 || c.Server.ExtProcPort > 65535 {
		return fmt.Errorf("invalid extproc_port: %d (must be 1-65535)", c.Server.ExtProcPort)
	}

	if c.Policies.Path == "" {
		return fmt.Errorf("policies.path is required")
	}

	if c.Admin.Enabled {
		if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
			return fmt.Errorf("invalid admin.port: %d (must be 1-65535)", c.Admin.Port)
		}
		if c.Admin.Port == c.Server.ExtProcPort {
			return fmt.Errorf("admin.port must differ from server.extproc_port")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
