// Package config loads the server configuration from YAML or TOML files,
// .env files and GLUCOSE_MCP_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GLUCOSE_MCP_"

// Auth modes
const (
	AuthModeStatic = "static"
	AuthModeBearer = "bearer"
)

// Introspection methods
const (
	IntrospectionUserInfo = "userinfo"
	IntrospectionJWT      = "jwt"
)

// Config represents the complete server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP transport configuration
type ServerConfig struct {
	Name              string        `yaml:"name" toml:"name" validate:"required"`
	Version           string        `yaml:"version" toml:"version" validate:"required"`
	Instructions      string        `yaml:"instructions" toml:"instructions"`
	Addr              string        `yaml:"addr" toml:"addr" validate:"required"`
	BaseURL           string        `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	BasePath          string        `yaml:"base_path" toml:"base_path"`
	SSEEndpoint       string        `yaml:"sse_endpoint" toml:"sse_endpoint" validate:"required,startswith=/"`
	MessageEndpoint   string        `yaml:"message_endpoint" toml:"message_endpoint" validate:"required,startswith=/"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" toml:"keepalive_interval" validate:"gte=0"`
	EventBufferSize   int           `yaml:"event_buffer_size" toml:"event_buffer_size" validate:"min=1"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" validate:"gt=0"`
}

// AuthConfig holds how sessions obtain credentials
type AuthConfig struct {
	Mode                string        `yaml:"mode" toml:"mode" validate:"oneof=static bearer"`
	APIKey              string        `yaml:"api_key" toml:"api_key" validate:"required_if=Mode static"`
	StaticUserID        string        `yaml:"static_user_id" toml:"static_user_id" validate:"required_if=Mode static"`
	Introspection       string        `yaml:"introspection" toml:"introspection" validate:"oneof=userinfo jwt"`
	JWTSecret           string        `yaml:"jwt_secret" toml:"jwt_secret" validate:"required_if=Introspection jwt"`
	IntrospectTimeout   time.Duration `yaml:"introspect_timeout" toml:"introspect_timeout" validate:"gte=0"`
	AuthorizationServer string        `yaml:"authorization_server" toml:"authorization_server" validate:"omitempty,url"`
}

// UpstreamConfig holds the health-data API client configuration
type UpstreamConfig struct {
	BaseURL       string        `yaml:"base_url" toml:"base_url" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`
	RatePerSecond float64       `yaml:"rate_per_second" toml:"rate_per_second" validate:"gte=0"`
	Burst         int           `yaml:"burst" toml:"burst" validate:"gte=0"`
	MaxAttempts   int           `yaml:"max_attempts" toml:"max_attempts" validate:"min=1,max=10"`
	APIKeyHeader  string        `yaml:"api_key_header" toml:"api_key_header" validate:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development" toml:"development"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path" validate:"omitempty,startswith=/"`
}

// Default returns the configuration used for keys no source sets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:              "glucose-mcp",
			Version:           "1.0.0",
			Addr:              ":8080",
			SSEEndpoint:       "/sse",
			MessageEndpoint:   "/message",
			KeepAliveInterval: 25 * time.Second,
			EventBufferSize:   100,
			ShutdownTimeout:   10 * time.Second,
		},
		Auth: AuthConfig{
			Mode:              AuthModeBearer,
			StaticUserID:      "default-user",
			Introspection:     IntrospectionUserInfo,
			IntrospectTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:       "http://localhost:3000",
			Timeout:       30 * time.Second,
			RatePerSecond: 10,
			Burst:         20,
			MaxAttempts:   3,
			APIKeyHeader:  "X-API-Key",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. An empty path loads
// ./.env if it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "loading env file %s", path)
	}
	return nil
}

// Load reads the configuration file at path (if any), applies environment
// overrides and validates the result. Environment variables in the format
// ${VAR_NAME} inside the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
		expanded := expandEnvVars(string(data))

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, errors.Wrap(err, "parsing yaml config")
			}
		case ".toml":
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, errors.Wrap(err, "parsing toml config")
			}
		default:
			return nil, errors.Errorf("unsupported config file extension %q", ext)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, errors.Wrap(err, "applying environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func dur(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"BASE_URL", str(func(c *Config) *string { return &c.Server.BaseURL })},
	{"BASE_PATH", str(func(c *Config) *string { return &c.Server.BasePath })},
	{"KEEPALIVE_INTERVAL", dur(func(c *Config) *time.Duration { return &c.Server.KeepAliveInterval })},
	{"SHUTDOWN_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"AUTH_MODE", str(func(c *Config) *string { return &c.Auth.Mode })},
	{"API_KEY", str(func(c *Config) *string { return &c.Auth.APIKey })},
	{"STATIC_USER_ID", str(func(c *Config) *string { return &c.Auth.StaticUserID })},
	{"INTROSPECTION", str(func(c *Config) *string { return &c.Auth.Introspection })},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"AUTHORIZATION_SERVER", str(func(c *Config) *string { return &c.Auth.AuthorizationServer })},
	{"UPSTREAM_URL", str(func(c *Config) *string { return &c.Upstream.BaseURL })},
	{"UPSTREAM_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Upstream.Timeout })},
	{"UPSTREAM_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Upstream.MaxAttempts })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_DEVELOPMENT", boolean(func(c *Config) *bool { return &c.Logging.Development })},
	{"METRICS_ENABLED", boolean(func(c *Config) *bool { return &c.Metrics.Enabled })},
}

// applyEnv overlays GLUCOSE_MCP_* variables. PORT is honored for platforms
// that assign the listen port.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Server.Addr = ":" + port
	}

	var errs error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	return errs
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks every field and reports all failures together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	var errs error
	for _, fe := range ve {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		errs = multierr.Append(errs, fmt.Errorf("%s: failed %q validation", field, tagWithParam(fe)))
	}
	return errs
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
