package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
server:
  port: 9999
worker:
  version_tag: "v3"
  scope: "https://travel.example/plan/"
  core_assets: ["./", "./index.html"]
  cross_origin: "passthrough"
  bypass:
    - base_uri: "https://travel.example/plan/api/"
storage:
  backend: "sqlite"
  sqlite_path: "./test.db"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	// Test loading the config
	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if config.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", config.Server.Port)
	}

	if config.Worker.VersionTag != "v3" {
		t.Errorf("Expected version tag 'v3', got '%s'", config.Worker.VersionTag)
	}

	if config.Worker.CachePrefix != "tp-md" {
		t.Errorf("Expected default cache prefix 'tp-md', got '%s'", config.Worker.CachePrefix)
	}

	if len(config.Worker.CoreAssets) != 2 {
		t.Errorf("Expected 2 core assets, got %d", len(config.Worker.CoreAssets))
	}

	if config.Worker.CrossOrigin != CrossOriginPassthrough {
		t.Errorf("Expected cross origin 'passthrough', got '%s'", config.Worker.CrossOrigin)
	}

	if len(config.Worker.Bypass) != 1 {
		t.Fatalf("Expected 1 bypass rule, got %d", len(config.Worker.Bypass))
	}

	if config.Worker.Bypass[0].BaseURI != "https://travel.example/plan/api/" {
		t.Errorf("Unexpected bypass rule: %s", config.Worker.Bypass[0].BaseURI)
	}

	if config.Storage.Backend != BackendSQLite {
		t.Errorf("Expected backend 'sqlite', got '%s'", config.Storage.Backend)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", config.Server.Port)
	}

	if len(config.Worker.CoreAssets) != 4 {
		t.Errorf("Expected 4 default core assets, got %d", len(config.Worker.CoreAssets))
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SHELLCACHE_WORKER__VERSION_TAG", "v9")
	t.Setenv("SHELLCACHE_SERVER__PORT", "7070")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Worker.VersionTag != "v9" {
		t.Errorf("Expected version tag 'v9', got '%s'", config.Worker.VersionTag)
	}

	if config.Server.Port != 7070 {
		t.Errorf("Expected port 7070, got %d", config.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func(mutate func(c *Config)) Config {
		c := Default()
		mutate(&c)
		return c
	}

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  Default(),
			wantErr: false,
		},
		{
			name:    "invalid port",
			config:  valid(func(c *Config) { c.Server.Port = -1 }),
			wantErr: true,
		},
		{
			name:    "empty version tag",
			config:  valid(func(c *Config) { c.Worker.VersionTag = "" }),
			wantErr: true,
		},
		{
			name:    "relative scope",
			config:  valid(func(c *Config) { c.Worker.Scope = "./app/" }),
			wantErr: true,
		},
		{
			name:    "invalid cross origin policy",
			config:  valid(func(c *Config) { c.Worker.CrossOrigin = "cache-only" }),
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			config:  valid(func(c *Config) { c.Network.Timeout = "invalid" }),
			wantErr: true,
		},
		{
			name:    "unknown backend",
			config:  valid(func(c *Config) { c.Storage.Backend = "s3" }),
			wantErr: true,
		},
		{
			name:    "redis without address",
			config:  valid(func(c *Config) { c.Storage.Backend = BackendRedis; c.Storage.Redis.Addr = "" }),
			wantErr: true,
		},
		{
			name:    "memory backend",
			config:  valid(func(c *Config) { c.Storage.Backend = BackendMemory }),
			wantErr: false,
		},
		{
			name:    "bypass rule without base uri",
			config:  valid(func(c *Config) { c.Worker.Bypass = []BypassRule{{}} }),
			wantErr: true,
		},
		{
			name:    "invalid log level",
			config:  valid(func(c *Config) { c.Log.Level = "loud" }),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetNetworkTimeout(t *testing.T) {
	config := Config{
		Network: NetworkConfig{Timeout: "1m30s"},
	}

	timeout, err := config.GetNetworkTimeout()
	if err != nil {
		t.Fatalf("GetNetworkTimeout() error = %v", err)
	}

	expected := time.Minute + 30*time.Second
	if timeout != expected {
		t.Errorf("GetNetworkTimeout() = %v, want %v", timeout, expected)
	}
}
