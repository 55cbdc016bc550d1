// Package config loads cadbridge settings from a TOML file, applies
// environment overrides and fills in defaults.
//
// Environment variables:
//   - CADBRIDGE_HOME: base directory for all state (default: ~/.cadbridge)
//   - CADBRIDGE_CONFIG: config file (default: $CADBRIDGE_HOME/config.toml)
//   - CADBRIDGE_SOCKET: server endpoint, a socket path or host:port
//   - CADBRIDGE_DB: journal database (default: $CADBRIDGE_HOME/journal.db)
//   - CADBRIDGE_LOG_FILE: log file (default: $CADBRIDGE_HOME/cadbridge.log)
//   - CADBRIDGE_LOG_LEVEL: debug, info, warn or error
//
// Specific variables override both the file and the CADBRIDGE_HOME base.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"cadbridge/pkg/protocol"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as "30s" or "5m" in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full cadbridge configuration.
type Config struct {
	Home    string        `toml:"-"`
	File    string        `toml:"-"`
	Server  ServerConfig  `toml:"server"`
	Agent   AgentConfig   `toml:"agent"`
	Exec    ExecConfig    `toml:"exec"`
	Journal JournalConfig `toml:"journal"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Network         string   `toml:"network"`  // "unix" or "tcp"
	Endpoint        string   `toml:"endpoint"` // socket path or host:port
	SelectionMaxAge Duration `toml:"selection_max_age"`
	ReapInterval    Duration `toml:"reap_interval"`
	MetricsAddr     string   `toml:"metrics_addr"` // empty disables /metrics
	PIDFile         string   `toml:"pid_file"`
}

type AgentConfig struct {
	MaxIterations int `toml:"max_iterations"`
}

// ExecConfig controls execute_arbitrary_code. It is off unless enabled.
type ExecConfig struct {
	Enabled         bool     `toml:"enabled"`
	Timeout         Duration `toml:"timeout"`
	MaxOutputBytes  int      `toml:"max_output_bytes"`
	RatePerMinute   int      `toml:"rate_per_minute"`
	AllowedPackages []string `toml:"allowed_packages"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LogConfig struct {
	File       string `toml:"file"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	network, endpoint := "unix", protocol.DefaultSocketPath
	if runtime.GOOS == "windows" {
		network, endpoint = "tcp", protocol.DefaultTCPAddr
	}
	return Config{
		Home: home,
		File: filepath.Join(home, "config.toml"),
		Server: ServerConfig{
			Network:         network,
			Endpoint:        endpoint,
			SelectionMaxAge: Duration(protocol.DefaultSelectionMaxAge),
			ReapInterval:    Duration(protocol.DefaultReapInterval),
			PIDFile:         filepath.Join(home, "cadbridge.pid"),
		},
		Agent: AgentConfig{MaxIterations: protocol.DefaultMaxIterations},
		Exec: ExecConfig{
			Timeout:        Duration(5 * time.Second),
			MaxOutputBytes: 64 << 10,
			RatePerMinute:  10,
		},
		Journal: JournalConfig{Enabled: true, Path: filepath.Join(home, "journal.db")},
		Log: LogConfig{
			File:       filepath.Join(home, "cadbridge.log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads the config file (a missing file is not an error) and applies
// environment overrides on top of the defaults.
func Load() (Config, error) {
	home, err := resolveHome()
	if err != nil {
		return Config{}, err
	}
	cfg := Default(home)
	if v := os.Getenv("CADBRIDGE_CONFIG"); v != "" {
		cfg.File = v
	}

	data, err := os.ReadFile(cfg.File)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", cfg.File, err)
	default:
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", cfg.File, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML into cfg, keeping the values of keys the data omits.
// Unknown keys are rejected so typos surface.
func Parse(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	return nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	switch c.Server.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("server.network must be unix or tcp, got %q", c.Server.Network)
	}
	if c.Server.Endpoint == "" {
		return errors.New("server.endpoint is required")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return b, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CADBRIDGE_SOCKET"); v != "" {
		cfg.Server.Endpoint = v
		if !strings.Contains(v, string(os.PathSeparator)) && strings.Contains(v, ":") {
			cfg.Server.Network = "tcp"
		}
	}
	if v := os.Getenv("CADBRIDGE_DB"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("CADBRIDGE_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("CADBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// resolveHome returns CADBRIDGE_HOME or ~/.cadbridge.
func resolveHome() (string, error) {
	if v := os.Getenv("CADBRIDGE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}
