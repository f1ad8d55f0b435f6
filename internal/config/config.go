// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// EIS session tuning
	Session SessionConfig `mapstructure:"session"`

	// Input injection settings
	Input InputConfig `mapstructure:"input"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// SessionConfig controls the EIS handshake and poll loop
type SessionConfig struct {
	ClientName        string        `mapstructure:"client_name"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	DiscoveryTimeout  time.Duration `mapstructure:"discovery_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FlushRetries      int           `mapstructure:"flush_retries"`
	MaxProtocolErrors int           `mapstructure:"max_protocol_errors"`
}

// InputConfig controls how input is injected
type InputConfig struct {
	Backend         string        `mapstructure:"backend"` // "eis" or "portal"
	ClickDelay      time.Duration `mapstructure:"click_delay"`
	PrimaryButton   uint32        `mapstructure:"primary_button"`
	SecondaryButton uint32        `mapstructure:"secondary_button"`
	ShakeCount      int           `mapstructure:"shake_count"`
	ShakeDistance   float64       `mapstructure:"shake_distance"`
	ShakeInterval   time.Duration `mapstructure:"shake_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	FileLogging bool   `mapstructure:"file_logging"` // Enable/disable file logging
	LogLevel    string `mapstructure:"log_level"`    // Override LOG_LEVEL env var
}

// Injection backends
const (
	BackendEIS    = "eis"
	BackendPortal = "portal"
)

const configName = "portal-input"

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Session: SessionConfig{
			ClientName:        "portal-input",
			HandshakeTimeout:  5 * time.Second,
			DiscoveryTimeout:  10 * time.Second,
			PollInterval:      10 * time.Millisecond,
			FlushRetries:      50,
			MaxProtocolErrors: 10,
		},
		Input: InputConfig{
			Backend:         BackendEIS,
			ClickDelay:      50 * time.Millisecond,
			PrimaryButton:   272, // BTN_LEFT
			SecondaryButton: 273, // BTN_RIGHT
			ShakeCount:      10,
			ShakeDistance:   100,
			ShakeInterval:   100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			FileLogging: false,
			LogLevel:    "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName(configName)
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		for _, dir := range searchPaths() {
			viper.AddConfigPath(dir)
		}
	}

	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	loaded.Input.Backend = strings.ToLower(loaded.Input.Backend)
	cfg = loaded
	return nil
}

// searchPaths lists config directories in order of precedence.
func searchPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, configName))
	}
	if home := os.Getenv("HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", configName))
	}
	return append(dirs, ".")
}

// Fields need individual defaults so a partial file merges with them.
func setDefaults() {
	d := DefaultConfig
	viper.SetDefault("session.client_name", d.Session.ClientName)
	viper.SetDefault("session.handshake_timeout", d.Session.HandshakeTimeout)
	viper.SetDefault("session.discovery_timeout", d.Session.DiscoveryTimeout)
	viper.SetDefault("session.poll_interval", d.Session.PollInterval)
	viper.SetDefault("session.flush_retries", d.Session.FlushRetries)
	viper.SetDefault("session.max_protocol_errors", d.Session.MaxProtocolErrors)

	viper.SetDefault("input.backend", d.Input.Backend)
	viper.SetDefault("input.click_delay", d.Input.ClickDelay)
	viper.SetDefault("input.primary_button", d.Input.PrimaryButton)
	viper.SetDefault("input.secondary_button", d.Input.SecondaryButton)
	viper.SetDefault("input.shake_count", d.Input.ShakeCount)
	viper.SetDefault("input.shake_distance", d.Input.ShakeDistance)
	viper.SetDefault("input.shake_interval", d.Input.ShakeInterval)

	viper.SetDefault("logging.file_logging", d.Logging.FileLogging)
	viper.SetDefault("logging.log_level", d.Logging.LogLevel)
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Input.Backend) {
	case BackendEIS, BackendPortal:
	default:
		return fmt.Errorf("invalid input.backend %q (must be %s or %s)", c.Input.Backend, BackendEIS, BackendPortal)
	}
	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session.handshake_timeout must be positive")
	}
	if c.Session.DiscoveryTimeout <= 0 {
		return fmt.Errorf("session.discovery_timeout must be positive")
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be positive")
	}
	if c.Input.ShakeCount < 0 {
		return fmt.Errorf("input.shake_count cannot be negative")
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save writes the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configName, configName+".toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return configName + ".toml"
	}
	return filepath.Join(home, ".config", configName, configName+".toml")
}
