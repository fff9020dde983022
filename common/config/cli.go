package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CLIConfig holds operator CLI configuration (profiles and defaults).
type CLIConfig struct {
	CurrentProfile string                 `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*CLIProfile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       *CLIProfile            `yaml:"defaults" mapstructure:"defaults"`
	path           string
}

// CLIProfile holds the endpoints a CLI profile talks to.
type CLIProfile struct {
	NATSURL     string `yaml:"nats_url" mapstructure:"nats_url"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Topic       string `yaml:"topic" mapstructure:"topic"`
}

// DefaultCLI returns a CLIConfig with default values
func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		CurrentProfile: "default",
		Profiles:       make(map[string]*CLIProfile),
		Defaults: &CLIProfile{
			NATSURL:     "nats://localhost:4222",
			DatabaseURL: "postgres://eventgate@localhost:5432/eventgate?sslmode=disable",
			Topic:       "events.digest.daily",
		},
	}
}

// LoadCLI loads configuration for CLI tools.
// Uses $HOME/.eventgate as the default EVENTGATE_CONFIG_DIR if not set.
func LoadCLI() (*CLIConfig, error) {
	v := viper.New()

	defaults := DefaultCLI()
	v.SetDefault("current_profile", defaults.CurrentProfile)
	v.SetDefault("defaults.nats_url", defaults.Defaults.NATSURL)
	v.SetDefault("defaults.database_url", defaults.Defaults.DatabaseURL)
	v.SetDefault("defaults.topic", defaults.Defaults.Topic)

	configDir := os.Getenv("EVENTGATE_CONFIG_DIR")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		configDir = filepath.Join(home, ".eventgate")
	}

	configPath := filepath.Join(configDir, "config.yaml")
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variables override with EVENTGATECTL prefix
	v.SetEnvPrefix("EVENTGATECTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// viper needs explicit bindings for nested keys
	_ = v.BindEnv("defaults.nats_url", "EVENTGATECTL_NATS_URL")
	_ = v.BindEnv("defaults.database_url", "EVENTGATECTL_DATABASE_URL")
	_ = v.BindEnv("defaults.topic", "EVENTGATECTL_TOPIC")

	// The file is optional; it is created on first Save.
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := DefaultCLI()
	cfg.path = configPath

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Profile resolves a profile by name, falling back to the current profile
// and then to defaults. Empty fields inherit from defaults.
func (c *CLIConfig) Profile(name string) *CLIProfile {
	if name == "" {
		name = c.CurrentProfile
	}

	resolved := CLIProfile{}
	if c.Defaults != nil {
		resolved = *c.Defaults
	}

	if p, ok := c.Profiles[name]; ok && p != nil {
		if p.NATSURL != "" {
			resolved.NATSURL = p.NATSURL
		}
		if p.DatabaseURL != "" {
			resolved.DatabaseURL = p.DatabaseURL
		}
		if p.Topic != "" {
			resolved.Topic = p.Topic
		}
	}

	return &resolved
}

// Path returns the file the config is saved to.
func (c *CLIConfig) Path() string {
	return c.path
}

// Save writes the CLI config to disk
func (c *CLIConfig) Save() error {
	if c.path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(home, ".eventgate", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SetProfile stores a profile and makes it current.
func (c *CLIConfig) SetProfile(name string, p *CLIProfile) {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
}
