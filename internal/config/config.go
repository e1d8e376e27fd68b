package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// EnvPrefix is the prefix of environment variables overriding file values.
// Nested keys are separated by a double underscore, e.g.
// SHELLCACHE_WORKER__VERSION_TAG=v2.
const EnvPrefix = "SHELLCACHE_"

// Cross-origin policies
const (
	CrossOriginStaleWhileRevalidate = "stale-while-revalidate"
	CrossOriginPassthrough          = "passthrough"
)

// Storage backends
const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Worker  WorkerConfig  `koanf:"worker"`
	Storage StorageConfig `koanf:"storage"`
	Network NetworkConfig `koanf:"network"`
	Log     LogConfig     `koanf:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port  int         `koanf:"port"`
	HTTPS HTTPSConfig `koanf:"https"`
}

// HTTPSConfig controls TLS interception of proxied HTTPS traffic
type HTTPSConfig struct {
	Enabled    bool   `koanf:"enabled"`
	CACertFile string `koanf:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file"`
	// Address of an optional transparent (SNI based) HTTPS listener
	TransparentAddr string `koanf:"transparent_addr"`
}

// WorkerConfig configures the offline cache controller
type WorkerConfig struct {
	// Changing the version tag is the only way to invalidate stored responses.
	VersionTag  string       `koanf:"version_tag"`
	CachePrefix string       `koanf:"cache_prefix"`
	Scope       string       `koanf:"scope"`
	ShellPath   string       `koanf:"shell_path"`
	CoreAssets  []string     `koanf:"core_assets"`
	AssetsFile  string       `koanf:"assets_file"`
	CrossOrigin string       `koanf:"cross_origin"`
	Bypass      []BypassRule `koanf:"bypass"`
}

// BypassRule defines a URL prefix the controller never intercepts
type BypassRule struct {
	BaseURI string `koanf:"base_uri"`
}

// StorageConfig selects and configures the cache storage backend
type StorageConfig struct {
	Backend    string      `koanf:"backend"`
	Folder     string      `koanf:"folder"`
	SQLitePath string      `koanf:"sqlite_path"`
	Redis      RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type NetworkConfig struct {
	Timeout string `koanf:"timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration, matching the first published
// revision of the travel plan app shell.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Worker: WorkerConfig{
			VersionTag:  "v1",
			CachePrefix: "tp-md",
			Scope:       "http://localhost:8000/",
			ShellPath:   "./index.html",
			CoreAssets: []string{
				"./",
				"./index.html",
				"./manifest.webmanifest",
				"./sw.js",
			},
			CrossOrigin: CrossOriginStaleWhileRevalidate,
		},
		Storage: StorageConfig{
			Backend:    BackendDisk,
			Folder:     "./cache",
			SQLitePath: "./cache.db",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "shellcache",
			},
		},
		Network: NetworkConfig{Timeout: "30s"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from defaults, an optional YAML file and the environment
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &config, nil
}

// envKey maps SHELLCACHE_WORKER__VERSION_TAG to worker.version_tag
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// GetNetworkTimeout parses the outbound request timeout. Zero disables it.
func (c *Config) GetNetworkTimeout() (time.Duration, error) {
	if c.Network.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Network.Timeout)
}

// GetScope parses the controller scope, which defines its own origin
func (c *Config) GetScope() (*url.URL, error) {
	scope, err := url.Parse(c.Worker.Scope)
	if err != nil {
		return nil, err
	}
	if scope.Scheme != "http" && scope.Scheme != "https" {
		return nil, fmt.Errorf("scope must be an absolute http(s) URL, got: %s", c.Worker.Scope)
	}
	if scope.Host == "" {
		return nil, fmt.Errorf("scope has no host: %s", c.Worker.Scope)
	}
	return scope, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.HTTPS.CACertFile != "" && c.Server.HTTPS.CAKeyFile == "" {
		return fmt.Errorf("https CA key file is required when a CA certificate is set")
	}

	if c.Worker.VersionTag == "" {
		return fmt.Errorf("worker version tag is required")
	}

	if c.Worker.CachePrefix == "" {
		return fmt.Errorf("worker cache prefix is required")
	}

	if _, err := c.GetScope(); err != nil {
		return fmt.Errorf("invalid worker scope: %w", err)
	}

	if c.Worker.ShellPath == "" {
		return fmt.Errorf("worker shell path is required")
	}

	if c.Worker.CrossOrigin != CrossOriginStaleWhileRevalidate && c.Worker.CrossOrigin != CrossOriginPassthrough {
		return fmt.Errorf("cross_origin must be '%s' or '%s', got: %s",
			CrossOriginStaleWhileRevalidate, CrossOriginPassthrough, c.Worker.CrossOrigin)
	}

	for i, rule := range c.Worker.Bypass {
		if rule.BaseURI == "" {
			return fmt.Errorf("bypass rule %d has no base_uri", i)
		}
	}

	switch c.Storage.Backend {
	case BackendDisk:
		if c.Storage.Folder == "" {
			return fmt.Errorf("storage folder is required for the disk backend")
		}
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage redis addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if timeout, err := c.GetNetworkTimeout(); err != nil {
		return fmt.Errorf("invalid network timeout format: %w", err)
	} else if timeout < 0 {
		return fmt.Errorf("network timeout must not be negative: %s", c.Network.Timeout)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}
