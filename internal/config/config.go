// Package config provides configuration loading for the snapshot server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// TransportStdio serves tool calls over stdin/stdout.
	TransportStdio = "stdio"

	// TransportHTTP serves tool calls over streamable HTTP on host:port.
	TransportHTTP = "http"
)

// EnvTokenVar is the environment variable consulted for the git access
// token when no token file is configured.
const EnvTokenVar = "PANOPTICON_GIT_TOKEN"

// Defaults applied by LoadConfig for unset fields.
const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultCacheEntries = 16
	DefaultCacheTTL     = 15 * time.Minute
	DefaultMaxBlobSize  = 2 * 1024 * 1024
	DefaultMaxFiles     = 10 * 1000
	DefaultMaxTotalSize = 100 * 1024 * 1024
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure. It is read once
// at startup and treated as immutable afterwards.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth,omitempty"`
	Cache  CacheConfig  `yaml:"cache,omitempty"`
	Limits LimitsConfig `yaml:"limits,omitempty"`
	Ops    OpsConfig    `yaml:"ops,omitempty"`
}

// ServerConfig defines the tool-call transport settings.
type ServerConfig struct {
	// Host is the listen address for the HTTP transport
	Host string `yaml:"host,omitempty"`

	// Port is the listen port for the HTTP transport
	Port int `yaml:"port,omitempty"`

	// Transport selects how tool calls are served (stdio or http)
	Transport string `yaml:"transport,omitempty"`
}

// Address returns the host:port listen address for the HTTP transport.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig defines the source of the outbound git access token.
type AuthConfig struct {
	// TokenFile is the path to a file containing the access token.
	// This is the recommended approach for production deployments.
	// The file should contain only the token with optional trailing
	// whitespace.
	TokenFile string `yaml:"tokenFile,omitempty"`
}

// GetToken returns the git access token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from the PANOPTICON_GIT_TOKEN environment variable
//
// An empty result means anonymous access.
func (a *AuthConfig) GetToken() (string, error) {
	if a.TokenFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(a.TokenFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", a.TokenFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	return os.Getenv(EnvTokenVar), nil
}

// CacheConfig defines the repository snapshot cache settings.
type CacheConfig struct {
	// MaxEntries bounds the number of cached snapshots (LRU eviction)
	MaxEntries int `yaml:"maxEntries,omitempty"`

	// TTL is the time-to-live of a cached snapshot (e.g. "15m", "1h")
	TTL string `yaml:"ttl,omitempty"`
}

// TTLDuration returns the parsed TTL. Validation guarantees it parses.
func (c *CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return DefaultCacheTTL
	}
	return d
}

// LimitsConfig defines resource guards for repository fetches.
type LimitsConfig struct {
	// MaxBlobSize bounds the size of a single file read, in bytes
	MaxBlobSize int64 `yaml:"maxBlobSize,omitempty"`

	// MaxFiles bounds the number of files held by one in-memory clone
	MaxFiles int `yaml:"maxFiles,omitempty"`

	// MaxTotalFileSize bounds the total bytes held by one in-memory clone
	MaxTotalFileSize int64 `yaml:"maxTotalFileSize,omitempty"`
}

// OpsConfig defines the operational HTTP listener (health, metrics).
type OpsConfig struct {
	// Address is the listen address, e.g. ":9090". Empty disables it.
	Address string `yaml:"address,omitempty"`
}

// LoadConfig loads, defaults, and validates configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied, for use
// when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Transport == "" {
		c.Server.Transport = TransportStdio
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheEntries
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = DefaultCacheTTL.String()
	}
	if c.Limits.MaxBlobSize == 0 {
		c.Limits.MaxBlobSize = DefaultMaxBlobSize
	}
	if c.Limits.MaxFiles == 0 {
		c.Limits.MaxFiles = DefaultMaxFiles
	}
	if c.Limits.MaxTotalFileSize == 0 {
		c.Limits.MaxTotalFileSize = DefaultMaxTotalSize
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Server.Transport != TransportStdio && c.Server.Transport != TransportHTTP {
		return fmt.Errorf("server.transport must be %q or %q, got %q",
			TransportStdio, TransportHTTP, c.Server.Transport)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [0, 65535], got %d", c.Server.Port)
	}

	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.maxEntries must be at least 1, got %d", c.Cache.MaxEntries)
	}

	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl must be a valid duration (e.g. '15m', '1h'): %w", err)
	}

	if c.Limits.MaxBlobSize < 0 || c.Limits.MaxFiles < 0 || c.Limits.MaxTotalFileSize < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	return nil
}
