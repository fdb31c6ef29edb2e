// Package config loads the optional YAML configuration shared by the server
// and client binaries. Flags beat env vars beat the file; everything has a
// workable default, so no file is required.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultPort = 1234

// Config is the on-disk configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Chat    ChatConfig    `yaml:"chat"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type ChatConfig struct {
	// Password is the shared secret every peer derives the session key
	// from. Usually supplied via SEALCHAT_PASSWORD or an interactive
	// prompt rather than written to disk.
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: fmt.Sprintf(":%d", DefaultPort)},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, fills unset fields with defaults, and applies env
// overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if pw := os.Getenv("SEALCHAT_PASSWORD"); pw != "" {
		cfg.Chat.Password = pw
	}
	if user := os.Getenv("SEALCHAT_USERNAME"); user != "" {
		cfg.Chat.Username = user
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the parts a file could plausibly break.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}
	return nil
}
