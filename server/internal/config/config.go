package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the sink configuration.
const (
	DefaultGRPCPort     = 4317
	DefaultHTTPPort     = 4318
	DefaultRetentionTTL = 5 * time.Minute
	DefaultHeader       = "x-api-key"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// Config holds the sink configuration parsed from the `server:` section of
// config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all sink settings.
type ServerConfig struct {
	// GRPCPort is the OTLP/gRPC listen port.
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves OTLP/HTTP (/v1/metrics) and the JSON API (/api/v1/).
	HTTPPort int `yaml:"http_port"`

	Auth      AuthConfig      `yaml:"auth"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

// AuthConfig controls client authentication on both receivers.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header name carrying the key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or DefaultHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

// RetentionConfig controls how long received metrics are kept.
type RetentionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file at path. Missing fields are filled with
// defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort:  DefaultGRPCPort,
			HTTPPort:  DefaultHTTPPort,
			Retention: RetentionConfig{TTL: DefaultRetentionTTL},
			Log:       LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Retention.TTL <= 0 {
		return fmt.Errorf("server.retention.ttl must be positive")
	}
	switch s.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	return nil
}
