// Package config loads the server configuration from an optional YAML
// file, applies environment overrides, and validates the result. CLI flags
// are applied on top by the command.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry human-friendly values
// like "5s" or "720h". Plain integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var nanos int64
	if err := value.Decode(&nanos); err == nil {
		*d = Duration(nanos)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	Game      GameConfig      `yaml:"game"`
	Stats     StatsConfig     `yaml:"stats"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	Port   int    `yaml:"port"`
}

// WebSocketConfig contains per-connection settings.
type WebSocketConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ClientTimeout     Duration `yaml:"client_timeout"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout"`
	MaxMessageSize    int64    `yaml:"max_message_size"`
}

// SessionConfig contains session-table settings.
type SessionConfig struct {
	Duration      Duration `yaml:"duration"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// GameConfig contains game-room settings.
type GameConfig struct {
	Expiry        Duration `yaml:"expiry"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// StatsConfig contains the optional game-history recorder settings.
type StatsConfig struct {
	Database string `yaml:"database"` // path to the SQLite file; empty disables
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1",
			Port:   8000,
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval: Duration(5 * time.Second),
			ClientTimeout:     Duration(10 * time.Second),
			RequestTimeout:    Duration(5 * time.Second),
			WriteTimeout:      Duration(10 * time.Second),
			MaxMessageSize:    8192,
		},
		Session: SessionConfig{
			Duration:      Duration(30 * 24 * time.Hour),
			SweepInterval: Duration(60 * time.Second),
		},
		Game: GameConfig{
			Expiry:        Duration(30 * 24 * time.Hour),
			SweepInterval: Duration(60 * time.Second),
		},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvironment()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnvironment applies YGAME_* environment overrides.
func (c *Config) ApplyEnvironment() {
	if port := os.Getenv("YGAME_PORT"); port != "" {
		if value, err := strconv.Atoi(port); err == nil {
			c.Server.Port = value
		}
	}
	if listen := os.Getenv("YGAME_LISTEN"); listen != "" {
		c.Server.Listen = listen
	}
	if db := os.Getenv("YGAME_STATS_DB"); db != "" {
		c.Stats.Database = db
	}
}

// Validate checks address and port.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if net.ParseIP(c.Server.Listen) == nil {
		return fmt.Errorf("invalid ip address: %s", c.Server.Listen)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Listen, strconv.Itoa(c.Server.Port))
}
