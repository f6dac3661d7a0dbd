// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/simpleproxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file. Created with defaults if it does not exist.',env='CONFIG_PATH'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Listeners []ListenerConfig `toml:"listeners"`
	Routes    []RouteConfig    `toml:"routes"`
	Upstream  UpstreamConfig   `toml:"upstream"`
	Log       LogConfig        `toml:"log"`
	Metrics   MetricsConfig    `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds settings shared by all listeners.
type ServerConfig struct {
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ListenerConfig describes one listen socket, optionally TLS-terminated.
type ListenerConfig struct {
	Host string     `toml:"host"`
	Port int        `toml:"port"`
	TLS  *TLSConfig `toml:"tls"`
}

// TLSConfig holds paths to PEM-encoded certificate chain and private key.
type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// RouteConfig maps a host and/or path prefix to an upstream base URL.
// A route with neither host nor path_prefix matches every request and acts
// as a catch-all. Routes are matched in declaration order, first match wins.
type RouteConfig struct {
	Host       string `toml:"host"`
	PathPrefix string `toml:"path_prefix"`
	Upstream   string `toml:"upstream"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/simpleproxy/config.toml then configs/config.toml. When an explicit
// path is given but does not exist, a default config file is written there
// and used, so a fresh install starts with a working template.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
		if path == "" {
			return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := writeDefault(path)
		if err != nil {
			return nil, fmt.Errorf("config: write default %s: %w", path, err)
		}
		cfg.filePath = path
		cfg.applyCLI(cli)
		cfg.setDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns the configuration written to a fresh config file.
func Default() *Config {
	return &Config{
		Listeners: []ListenerConfig{{Host: "0.0.0.0", Port: 8080}},
		Routes: []RouteConfig{
			{PathPrefix: "/foo", Upstream: "http://foo.example.com"},
		},
	}
}

// writeDefault serializes the default config to path, creating parent
// directories as needed.
func writeDefault(path string) (*Config, error) {
	cfg := Default()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	for i, l := range c.Listeners {
		if l.Port < 0 || l.Port > 65535 {
			return fmt.Errorf("listeners[%d].port must be 0–65535; got %d", i, l.Port)
		}
		if l.TLS != nil {
			if l.TLS.CertFile == "" || l.TLS.KeyFile == "" {
				return fmt.Errorf("listeners[%d].tls requires both cert_file and key_file", i)
			}
			for _, p := range []string{l.TLS.CertFile, l.TLS.KeyFile} {
				if _, err := os.Stat(p); err != nil {
					return fmt.Errorf("listeners[%d].tls: %s: %w", i, p, err)
				}
			}
		}
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	for i, r := range c.Routes {
		if r.Upstream == "" {
			return fmt.Errorf("routes[%d].upstream is required", i)
		}
		u, err := url.Parse(r.Upstream)
		if err != nil {
			return fmt.Errorf("routes[%d].upstream is not a valid URL: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("routes[%d].upstream must use http or https; got %q", i, r.Upstream)
		}
		if u.Host == "" {
			return fmt.Errorf("routes[%d].upstream is missing a host; got %q", i, r.Upstream)
		}
		if r.PathPrefix != "" && !strings.HasPrefix(r.PathPrefix, "/") {
			return fmt.Errorf("routes[%d].path_prefix must start with '/'; got %q", i, r.PathPrefix)
		}
		// A catch-all matches everything, so later routes could never win.
		if r.Host == "" && r.PathPrefix == "" && i != len(c.Routes)-1 {
			return fmt.Errorf("routes[%d] is a catch-all (no host or path_prefix) and masks later routes; declare it last", i)
		}
	}

	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. A listener with port=0 therefore
// gets the default port (8080).
func (c *Config) setDefaults() {
	if len(c.Listeners) == 0 {
		c.Listeners = []ListenerConfig{{}}
	}
	for i := range c.Listeners {
		if c.Listeners[i].Host == "" {
			c.Listeners[i].Host = "0.0.0.0"
		}
		if c.Listeners[i].Port == 0 {
			c.Listeners[i].Port = 8080
		}
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the listener address as host:port.
func (l *ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
