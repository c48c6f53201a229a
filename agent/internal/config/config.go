package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultAPIEndpoint   = "https://api.cloudflare.com/client/v4/graphql"
	DefaultTokenEnv      = "CLOUDFLARE_API_TOKEN"
	DefaultTimeout       = 10 * time.Second
	DefaultInterval      = time.Minute
	DefaultWindow        = time.Minute
	DefaultDelay         = 3 * time.Minute
	DefaultLimit         = 1000
	DefaultProtocol      = ProtocolHTTPProtobuf
	DefaultMaxAttempts   = 3
	DefaultScopeName     = "flarewatch"
	DefaultServiceName   = "flarewatch"
	DefaultHTTPListen    = "127.0.0.1:8787"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	MaxLimit             = 10000
	serviceNameAttribute = "service.name"
)

// Export protocols.
const (
	ProtocolHTTPProtobuf = "http/protobuf"
	ProtocolHTTPJSON     = "http/json"
	ProtocolGRPC         = "grpc"
)

// Config is the agent configuration parsed from the `agent:` section.
// Other top-level keys (e.g. `server:`) are ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// AccountID is the Cloudflare account tag queried each run.
	AccountID string `yaml:"account_id"`
	// AccountIDEnv names an environment variable holding the account tag.
	// It takes precedence over AccountID when set and non-empty.
	AccountIDEnv string `yaml:"account_id_env"`

	API    APIConfig    `yaml:"api"`
	Query  QueryConfig  `yaml:"query"`
	Export ExportConfig `yaml:"export"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
}

// Account returns the account tag, preferring the environment.
func (a AgentConfig) Account() string {
	if a.AccountIDEnv != "" {
		if v := os.Getenv(a.AccountIDEnv); v != "" {
			return v
		}
	}
	return a.AccountID
}

// APIConfig describes the GraphQL analytics endpoint.
type APIConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Auth     AuthConfig    `yaml:"auth"`
	TLS      TLSConfig     `yaml:"tls"`
}

// AuthConfig specifies how requests to the analytics API are authenticated.
type AuthConfig struct {
	// Mode is one of: bearer | apikey | basic | none.
	Mode string `yaml:"mode"`

	// Bearer token fields, used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`
	// EmailEnv optionally names a variable whose value is sent as X-Auth-Email,
	// for global API keys.
	EmailEnv string `yaml:"email_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return getenv(a.TokenEnv) }

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string { return getenv(a.KeyEnv) }

// Email returns the account email resolved from the environment.
func (a AuthConfig) Email() string { return getenv(a.EmailEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return getenv(a.PasswordEnv) }

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
	// CAFile is an optional PEM bundle added to the root pool.
	CAFile string `yaml:"ca_file"`
}

// ClientConfig builds a *tls.Config from the options.
func (c TLSConfig) ClientConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if c.CAFile != "" {
		caPEM, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", c.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// QueryConfig controls the analytics window each run covers.
//
// A run started at t queries [t' - Delay - Window, t' - Delay) where t' is t
// truncated to Window. Delay accounts for the ingestion lag of the analytics
// datasets.
type QueryConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
	Delay    time.Duration `yaml:"delay"`
	Limit    int           `yaml:"limit"`
}

// ExportConfig describes where and how metric payloads are pushed.
type ExportConfig struct {
	// Endpoint is a URL for the http protocols and host:port for grpc.
	Endpoint string `yaml:"endpoint"`

	// Protocol is one of: http/protobuf | http/json | grpc.
	Protocol string `yaml:"protocol"`

	// Headers is a comma-separated list of key=value pairs added to every push.
	Headers string `yaml:"headers"`
	// HeadersEnv names a variable holding more pairs in the same format.
	HeadersEnv string `yaml:"headers_env"`

	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`

	// Insecure disables transport security for grpc.
	Insecure bool      `yaml:"insecure"`
	TLS      TLSConfig `yaml:"tls"`

	Scope    ScopeConfig       `yaml:"scope"`
	Resource map[string]string `yaml:"resource"`
}

// HeaderString returns the configured header pairs, including those read from
// HeadersEnv.
func (e ExportConfig) HeaderString() string {
	env := getenv(e.HeadersEnv)
	switch {
	case e.Headers == "":
		return env
	case env == "":
		return e.Headers
	}
	return e.Headers + "," + env
}

// ScopeConfig identifies the instrumentation scope of exported metrics.
type ScopeConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	SchemaURL string `yaml:"schema_url"`
}

// HTTPConfig controls the local trigger and debug API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if cfg.Agent.Export.Resource == nil {
		cfg.Agent.Export.Resource = map[string]string{}
	}
	if _, ok := cfg.Agent.Export.Resource[serviceNameAttribute]; !ok {
		cfg.Agent.Export.Resource[serviceNameAttribute] = DefaultServiceName
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			API: APIConfig{
				Endpoint: DefaultAPIEndpoint,
				Timeout:  DefaultTimeout,
				Auth: AuthConfig{
					Mode:     "bearer",
					TokenEnv: DefaultTokenEnv,
				},
			},
			Query: QueryConfig{
				Interval: DefaultInterval,
				Window:   DefaultWindow,
				Delay:    DefaultDelay,
				Limit:    DefaultLimit,
			},
			Export: ExportConfig{
				Protocol:    DefaultProtocol,
				Timeout:     DefaultTimeout,
				MaxAttempts: DefaultMaxAttempts,
				Scope:       ScopeConfig{Name: DefaultScopeName},
			},
			HTTP: HTTPConfig{Listen: DefaultHTTPListen},
			Log:  LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.AccountID == "" && a.AccountIDEnv == "" {
		return fmt.Errorf("agent.account_id or agent.account_id_env is required")
	}
	if _, err := url.ParseRequestURI(a.API.Endpoint); err != nil {
		return fmt.Errorf("agent.api.endpoint %q: %w", a.API.Endpoint, err)
	}
	if a.API.Timeout <= 0 {
		return fmt.Errorf("agent.api.timeout must be positive")
	}
	switch a.API.Auth.Mode {
	case "bearer", "apikey", "basic", "none", "":
	default:
		return fmt.Errorf("agent.api.auth.mode %q unknown: want bearer|apikey|basic|none", a.API.Auth.Mode)
	}
	if a.API.Auth.Mode == "apikey" && a.API.Auth.Header == "" {
		return fmt.Errorf("agent.api.auth.header is required for apikey mode")
	}

	if a.Query.Interval <= 0 {
		return fmt.Errorf("agent.query.interval must be positive")
	}
	if a.Query.Window <= 0 {
		return fmt.Errorf("agent.query.window must be positive")
	}
	if a.Query.Delay < 0 {
		return fmt.Errorf("agent.query.delay must not be negative")
	}
	if a.Query.Limit <= 0 || a.Query.Limit > MaxLimit {
		return fmt.Errorf("agent.query.limit %d is out of range [1, %d]", a.Query.Limit, MaxLimit)
	}

	if a.Export.Endpoint == "" {
		return fmt.Errorf("agent.export.endpoint is required")
	}
	switch a.Export.Protocol {
	case ProtocolHTTPProtobuf, ProtocolHTTPJSON:
		if !strings.HasPrefix(a.Export.Endpoint, "http://") && !strings.HasPrefix(a.Export.Endpoint, "https://") {
			return fmt.Errorf("agent.export.endpoint %q must be an http(s) URL for %s", a.Export.Endpoint, a.Export.Protocol)
		}
	case ProtocolGRPC:
		if strings.Contains(a.Export.Endpoint, "://") {
			return fmt.Errorf("agent.export.endpoint %q must be host:port for grpc", a.Export.Endpoint)
		}
	default:
		return fmt.Errorf("agent.export.protocol %q unknown: want %s|%s|%s",
			a.Export.Protocol, ProtocolHTTPProtobuf, ProtocolHTTPJSON, ProtocolGRPC)
	}
	if a.Export.Timeout <= 0 {
		return fmt.Errorf("agent.export.timeout must be positive")
	}
	if a.Export.MaxAttempts <= 0 {
		return fmt.Errorf("agent.export.max_attempts must be positive")
	}
	if a.Export.Scope.Name == "" {
		return fmt.Errorf("agent.export.scope.name must not be empty")
	}

	if a.HTTP.Enabled && a.HTTP.Listen == "" {
		return fmt.Errorf("agent.http.listen is required when http is enabled")
	}
	switch a.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("agent.log.format %q unknown: want json|text", a.Log.Format)
	}
	return nil
}

func getenv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
