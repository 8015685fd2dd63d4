package config

import (
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// ConfigFile is the YAML shape of the configuration
// FUNCTIONAL DISCOVERY: Separate struct renders durations as strings ("30s")
// so a dump can be fed straight back through Load
type ConfigFile struct {
	Database  DatabaseConfigFile  `yaml:"database"`
	HTTP      HTTPConfigFile      `yaml:"http"`
	WebSocket WebSocketConfigFile `yaml:"websocket"`
	Auth      AuthConfigFile      `yaml:"auth"`
	Gateway   GatewayConfigFile   `yaml:"gateway"`
	Log       LogConfigFile       `yaml:"log"`
}

type DatabaseConfigFile struct {
	Path    string `yaml:"path"`
	Timeout string `yaml:"timeout"`
}

type HTTPConfigFile struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type WebSocketConfigFile struct {
	Path         string `yaml:"path"`
	PingInterval string `yaml:"ping_interval"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	BufferSize   int    `yaml:"buffer_size"`
}

type AuthConfigFile struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer,omitempty"`
	Leeway    string `yaml:"leeway"`
}

type GatewayConfigFile struct {
	AuthorizationTimeout string `yaml:"authorization_timeout"`
	InboundRateLimit     int    `yaml:"inbound_rate_limit"`
}

type LogConfigFile struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Dump renders the effective configuration as YAML with the JWT secret redacted
func Dump(c *Config) ([]byte, error) {
	secret := ""
	if c.Auth.JWTSecret != "" {
		secret = redacted
	}

	file := ConfigFile{
		Database: DatabaseConfigFile{
			Path:    c.Database.Path,
			Timeout: c.Database.Timeout.String(),
		},
		HTTP: HTTPConfigFile{
			Host:           c.HTTP.Host,
			Port:           c.HTTP.Port,
			ReadTimeout:    c.HTTP.ReadTimeout.String(),
			WriteTimeout:   c.HTTP.WriteTimeout.String(),
			AllowedOrigins: c.HTTP.AllowedOrigins,
		},
		WebSocket: WebSocketConfigFile{
			Path:         c.WebSocket.Path,
			PingInterval: c.WebSocket.PingInterval.String(),
			ReadTimeout:  c.WebSocket.ReadTimeout.String(),
			WriteTimeout: c.WebSocket.WriteTimeout.String(),
			BufferSize:   c.WebSocket.BufferSize,
		},
		Auth: AuthConfigFile{
			JWTSecret: secret,
			Issuer:    c.Auth.Issuer,
			Leeway:    c.Auth.Leeway.String(),
		},
		Gateway: GatewayConfigFile{
			AuthorizationTimeout: c.Gateway.AuthorizationTimeout.String(),
			InboundRateLimit:     c.Gateway.InboundRateLimit,
		},
		Log: LogConfigFile{
			Level:  c.Log.Level,
			Format: c.Log.Format,
		},
	}

	return yaml.Marshal(&file)
}
