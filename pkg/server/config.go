package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Encoding     string `toml:"encoding"` // "json" or "custom"
	DatabasePath string `toml:"database_path"`
	HTTPPort     int    `toml:"http_port"` // /metrics, /health, /ws (0 = disabled)
}

type LimitsSection struct {
	MaxMessageLength  int `toml:"max_message_length"`
	DefaultFetchLimit int `toml:"default_fetch_limit"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:         "0.0.0.0",
			Port:         5555,
			Encoding:     "custom",
			DatabasePath: "~/.twinwire/chat.db",
			HTTPPort:     9090,
		},
		Limits: LimitsSection{
			MaxMessageLength:  4096,
			DefaultFetchLimit: 10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not
// found, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// If the default can't be written we still run with defaults
		_ = writeDefaultConfig(path, config)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: TWINWIRE_SECTION_KEY
// Example: TWINWIRE_SERVER_PORT=6000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("TWINWIRE_SERVER_HOST"); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv("TWINWIRE_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.Port = port
		}
	}
	if val := os.Getenv("TWINWIRE_SERVER_ENCODING"); val != "" {
		config.Server.Encoding = val
	}
	if val := os.Getenv("TWINWIRE_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("TWINWIRE_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("TWINWIRE_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = limit
		}
	}
	if val := os.Getenv("TWINWIRE_LIMITS_DEFAULT_FETCH_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.DefaultFetchLimit = limit
		}
	}
	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Twinwire Chat Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# TWINWIRE_SECTION_KEY (e.g., TWINWIRE_SERVER_PORT=6000)

[server]
# Interface to bind the chat listener on
host = "0.0.0.0"

# Port for client connections
port = 5555

# Wire encoding: "json" (newline-delimited JSON) or "custom" (binary framing)
encoding = "custom"

# Path to SQLite database file
database_path = "~/.twinwire/chat.db"

# Port for the internal HTTP server (/metrics, /health, /ws)
# Set to 0 to disable
http_port = 9090

[limits]
# Maximum message length in bytes
max_message_length = 4096

# Messages returned by a fetch when no limit is given
default_fetch_limit = 10
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
