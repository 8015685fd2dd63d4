package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"collabhub/internal/logging"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Database.Path != "./data/collabhub.db" {
		t.Errorf("unexpected default database path %q", config.Database.Path)
	}
	if config.HTTP.Port != 8080 {
		t.Errorf("unexpected default port %d", config.HTTP.Port)
	}
	if config.WebSocket.Path != "/collaboration" {
		t.Errorf("unexpected default websocket path %q", config.WebSocket.Path)
	}
	if config.Auth.JWTSecret != "" {
		t.Error("JWT secret must not have a default")
	}

	// Without a secret the defaults alone are not deployable
	if err := config.Validate(); err == nil {
		t.Error("defaults without a JWT secret should fail validation")
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing database", func(c *Config) { c.Database = nil }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"relative websocket path", func(c *Config) { c.WebSocket.Path = "ws" }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"negative leeway", func(c *Config) { c.Auth.Leeway = -time.Second }},
		{"zero authorization timeout", func(c *Config) { c.Gateway.AuthorizationTimeout = 0 }},
		{"zero rate limit", func(c *Config) { c.Gateway.InboundRateLimit = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_StoreConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = "/tmp/x.db"
	cfg.Database.Timeout = 7 * time.Second

	store := cfg.StoreConfig()
	if store.DatabasePath != "/tmp/x.db" || store.WriteTimeout != 7*time.Second {
		t.Errorf("unexpected store config: %+v", store)
	}
	if err := store.Validate(); err != nil {
		t.Errorf("store config invalid: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variables override defaults
func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("COLLABHUB_AUTH_JWT_SECRET", "from-env")
	t.Setenv("COLLABHUB_HTTP_PORT", "9090")
	t.Setenv("COLLABHUB_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("COLLABHUB_HTTP_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(logging.Discard(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected secret from env, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.WebSocket.PingInterval != 15*time.Second {
		t.Errorf("expected ping interval 15s, got %v", cfg.WebSocket.PingInterval)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected allowed origins: %v", cfg.HTTP.AllowedOrigins)
	}
	// Untouched keys keep their defaults
	if cfg.Database.Path != "./data/collabhub.db" {
		t.Errorf("expected default database path, got %q", cfg.Database.Path)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration precedence: env > file > defaults
func TestLoad_FilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collabhub.yaml")
	content := `
database:
  path: /var/lib/collabhub/hub.db
http:
  port: 7000
  host: 127.0.0.1
auth:
  jwt_secret: from-file
gateway:
  authorization_timeout: 2s
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	t.Setenv(ConfigFileEnv, "")
	t.Setenv("COLLABHUB_HTTP_PORT", "7100")

	cfg, err := Load(logging.Discard(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 7100 {
		t.Errorf("env should win over file, got port %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "127.0.0.1" {
		t.Errorf("file should win over defaults, got host %q", cfg.HTTP.Host)
	}
	if cfg.Database.Path != "/var/lib/collabhub/hub.db" {
		t.Errorf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.Gateway.AuthorizationTimeout != 2*time.Second {
		t.Errorf("unexpected authorization timeout %v", cfg.Gateway.AuthorizationTimeout)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("unexpected log format %q", cfg.Log.Format)
	}
	if cfg.WebSocket.BufferSize != 100 {
		t.Errorf("expected default buffer size, got %d", cfg.WebSocket.BufferSize)
	}
}

func TestLoad_ConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: s3\nhttp:\n  port: 6000\n"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load(logging.Discard(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 6000 {
		t.Errorf("expected port from env-named file, got %d", cfg.HTTP.Port)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("COLLABHUB_AUTH_JWT_SECRET", "")

	if _, err := Load(logging.Discard(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("an explicitly named missing file should fail")
	}

	// Defaults alone lack a secret
	if _, err := Load(logging.Discard(), ""); err == nil {
		t.Error("expected validation failure without a JWT secret")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("http: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(logging.Discard(), bad); err == nil {
		t.Error("malformed YAML should fail")
	}
}

func TestDump_RedactsSecretAndReloads(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 8181

	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	text := string(out)

	if strings.Contains(text, "test-secret") {
		t.Error("dump leaked the JWT secret")
	}
	if !strings.Contains(text, "ping_interval: 30s") {
		t.Errorf("durations should render as strings:\n%s", text)
	}

	// The dump is valid input for Load once a real secret is supplied
	path := filepath.Join(t.TempDir(), "dump.yaml")
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatalf("write dump failed: %v", err)
	}
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("COLLABHUB_AUTH_JWT_SECRET", "reloaded")

	reloaded, err := Load(logging.Discard(), path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.HTTP.Port != 8181 || reloaded.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("reloaded config differs: port=%d ping=%v", reloaded.HTTP.Port, reloaded.WebSocket.PingInterval)
	}
}
