// Package builder assembles the MCP server from configuration.
package builder

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/lucas-1000/mcp-glucose/internal/config"
	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/auth"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/healthapi"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/metrics"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/server"
	"github.com/lucas-1000/mcp-glucose/internal/interfaces/rest"
	"github.com/lucas-1000/mcp-glucose/internal/interfaces/stdio"
	"github.com/lucas-1000/mcp-glucose/internal/usecases"
	"github.com/lucas-1000/mcp-glucose/internal/usecases/glucose"
)

const defaultInstructions = "Glucose data for the authenticated user. Use search and fetch to find " +
	"readings by time window, read-range and read-stats for a date range, and read-latest for the " +
	"most recent reading."

// ServerBuilder implements the Builder pattern for creating MCP servers
type ServerBuilder struct {
	cfg          config.Config
	logger       *logging.Logger
	metrics      *metrics.Metrics
	httpClient   *http.Client
	credentials  domain.CredentialStore
	connections  domain.ConnectionManager
	healthClient domain.HealthDataClient
	introspector domain.Introspector
	resolver     server.CredentialResolver
}

// NewServerBuilder creates a builder for cfg. A nil cfg uses config.Default().
func NewServerBuilder(cfg *config.Config) *ServerBuilder {
	if cfg == nil {
		cfg = config.Default()
	}
	return &ServerBuilder{cfg: *cfg}
}

// WithName sets the server name
func (b *ServerBuilder) WithName(name string) *ServerBuilder {
	b.cfg.Server.Name = name
	return b
}

// WithVersion sets the server version
func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.cfg.Server.Version = version
	return b
}

// WithInstructions sets the server instructions
func (b *ServerBuilder) WithInstructions(instructions string) *ServerBuilder {
	b.cfg.Server.Instructions = instructions
	return b
}

// WithAddress sets the server address
func (b *ServerBuilder) WithAddress(address string) *ServerBuilder {
	b.cfg.Server.Addr = address
	return b
}

// WithLogger sets the logger instead of building one from the logging section.
func (b *ServerBuilder) WithLogger(logger *logging.Logger) *ServerBuilder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics registry.
func (b *ServerBuilder) WithMetrics(m *metrics.Metrics) *ServerBuilder {
	b.metrics = m
	return b
}

// WithHTTPClient sets the client used for upstream and userinfo calls.
func (b *ServerBuilder) WithHTTPClient(hc *http.Client) *ServerBuilder {
	b.httpClient = hc
	return b
}

// WithCredentialStore sets the credential store
func (b *ServerBuilder) WithCredentialStore(store domain.CredentialStore) *ServerBuilder {
	b.credentials = store
	return b
}

// WithConnectionManager sets the session registry
func (b *ServerBuilder) WithConnectionManager(m domain.ConnectionManager) *ServerBuilder {
	b.connections = m
	return b
}

// WithHealthDataClient replaces the upstream client.
func (b *ServerBuilder) WithHealthDataClient(c domain.HealthDataClient) *ServerBuilder {
	b.healthClient = c
	return b
}

// WithIntrospector replaces the introspector selected by the auth section.
func (b *ServerBuilder) WithIntrospector(i domain.Introspector) *ServerBuilder {
	b.introspector = i
	return b
}

// Config returns the effective configuration.
func (b *ServerBuilder) Config() config.Config {
	return b.cfg
}

// Logger returns the configured logger, building it on first use.
func (b *ServerBuilder) Logger() (*logging.Logger, error) {
	if b.logger != nil {
		return b.logger, nil
	}
	logger, err := logging.New(logging.Config{
		Level:       logging.ParseLevel(b.cfg.Logging.Level),
		Development: b.cfg.Logging.Development,
		InitialFields: logging.Fields{
			"service": b.cfg.Server.Name,
			"version": b.cfg.Server.Version,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	b.logger = logger
	return logger, nil
}

// Metrics returns the metrics registry, or nil when metrics are disabled.
func (b *ServerBuilder) Metrics() *metrics.Metrics {
	if b.metrics == nil && b.cfg.Metrics.Enabled {
		b.metrics = metrics.New()
	}
	return b.metrics
}

func (b *ServerBuilder) newClient(baseURL string) (*healthapi.Client, error) {
	logger, err := b.Logger()
	if err != nil {
		return nil, err
	}
	up := b.cfg.Upstream
	opts := []healthapi.Option{
		healthapi.WithTimeout(up.Timeout),
		healthapi.WithRateLimit(up.RatePerSecond, up.Burst),
		healthapi.WithMaxAttempts(up.MaxAttempts),
		healthapi.WithAPIKeyHeader(up.APIKeyHeader),
		healthapi.WithLogger(logger),
		healthapi.WithMetrics(b.Metrics()),
	}
	if b.httpClient != nil {
		opts = append(opts, healthapi.WithHTTPClient(b.httpClient))
	}
	return healthapi.New(baseURL, opts...)
}

// BuildHealthDataClient returns the upstream health-data client.
func (b *ServerBuilder) BuildHealthDataClient() (domain.HealthDataClient, error) {
	if b.healthClient != nil {
		return b.healthClient, nil
	}
	c, err := b.newClient(b.cfg.Upstream.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "building health-data client")
	}
	b.healthClient = c
	return c, nil
}

// BuildIntrospector returns the introspector named by auth.introspection.
func (b *ServerBuilder) BuildIntrospector() (domain.Introspector, error) {
	if b.introspector != nil {
		return b.introspector, nil
	}
	switch b.cfg.Auth.Introspection {
	case config.IntrospectionJWT:
		return auth.NewJWTIntrospector([]byte(b.cfg.Auth.JWTSecret)), nil
	case config.IntrospectionUserInfo, "":
		base := b.cfg.Auth.AuthorizationServer
		if base == "" {
			base = b.cfg.Upstream.BaseURL
		}
		c, err := b.newClient(base)
		if err != nil {
			return nil, errors.Wrap(err, "building userinfo client")
		}
		return auth.NewUserInfoIntrospector(c, b.cfg.Auth.IntrospectTimeout), nil
	default:
		return nil, errors.Errorf("unknown introspection method %q", b.cfg.Auth.Introspection)
	}
}

// BuildResolver returns the credential resolver for the auth mode.
func (b *ServerBuilder) BuildResolver() (server.CredentialResolver, error) {
	if b.resolver != nil {
		return b.resolver, nil
	}
	switch b.cfg.Auth.Mode {
	case config.AuthModeStatic:
		b.resolver = auth.NewStaticResolver(b.cfg.Auth.APIKey, b.cfg.Auth.StaticUserID)
	case config.AuthModeBearer:
		introspector, err := b.BuildIntrospector()
		if err != nil {
			return nil, err
		}
		logger, err := b.Logger()
		if err != nil {
			return nil, err
		}
		b.resolver = auth.NewBearerResolver(introspector, logger)
	default:
		return nil, errors.Errorf("unknown auth mode %q", b.cfg.Auth.Mode)
	}
	return b.resolver, nil
}

// BuildDispatcher returns the glucose tool dispatcher.
func (b *ServerBuilder) BuildDispatcher() (*glucose.Dispatcher, error) {
	client, err := b.BuildHealthDataClient()
	if err != nil {
		return nil, err
	}
	logger, err := b.Logger()
	if err != nil {
		return nil, err
	}
	return glucose.NewDispatcher(client,
		glucose.WithLogger(logger),
		glucose.WithMetrics(b.Metrics()),
		glucose.WithDocumentBaseURL(b.cfg.Server.BaseURL),
	), nil
}

// BuildService builds and returns the server service
func (b *ServerBuilder) BuildService() (*usecases.ServerService, error) {
	dispatcher, err := b.BuildDispatcher()
	if err != nil {
		return nil, err
	}
	logger, err := b.Logger()
	if err != nil {
		return nil, err
	}

	instructions := b.cfg.Server.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}
	return usecases.NewServerService(usecases.ServerConfig{
		Name:         b.cfg.Server.Name,
		Version:      b.cfg.Server.Version,
		Instructions: instructions,
		Tools:        dispatcher,
		Logger:       logger,
	}), nil
}

// BuildSSEServer builds the SSE transport around service.
func (b *ServerBuilder) BuildSSEServer(service *usecases.ServerService) (*server.SSEServer, error) {
	resolver, err := b.BuildResolver()
	if err != nil {
		return nil, err
	}
	logger, err := b.Logger()
	if err != nil {
		return nil, err
	}

	sc := b.cfg.Server
	opts := []server.SSEOption{
		server.WithBaseURL(sc.BaseURL),
		server.WithBasePath(sc.BasePath),
		server.WithSSEEndpoint(sc.SSEEndpoint),
		server.WithMessageEndpoint(sc.MessageEndpoint),
		server.WithKeepAlive(sc.KeepAliveInterval),
		server.WithEventBufferSize(sc.EventBufferSize),
		server.WithCredentialResolver(resolver),
		server.WithLogger(logger),
		server.WithMetrics(b.Metrics()),
	}
	if b.credentials != nil {
		opts = append(opts, server.WithCredentialStore(b.credentials))
	}
	if b.connections != nil {
		opts = append(opts, server.WithConnectionManager(b.connections))
	}
	return server.NewSSEServer(service, opts...), nil
}

// BuildMCPServer builds and returns an MCP server
func (b *ServerBuilder) BuildMCPServer() (*rest.MCPServer, error) {
	service, err := b.BuildService()
	if err != nil {
		return nil, err
	}
	sse, err := b.BuildSSEServer(service)
	if err != nil {
		return nil, err
	}
	resolver, err := b.BuildResolver()
	if err != nil {
		return nil, err
	}
	logger, err := b.Logger()
	if err != nil {
		return nil, err
	}

	opts := []rest.Option{
		rest.WithLogger(logger),
		rest.WithCredentialResolver(resolver),
		rest.WithProtectedResource(b.cfg.Server.BaseURL, b.cfg.Auth.AuthorizationServer),
	}
	if m := b.Metrics(); m != nil {
		path := b.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		opts = append(opts, rest.WithMetrics(m, path))
	}
	return rest.NewMCPServer(service, sse, b.cfg.Server.Addr, opts...), nil
}

// BuildStdioServer builds a stdio server bound to the static credential.
func (b *ServerBuilder) BuildStdioServer(opts ...stdio.StdioOption) (*stdio.StdioServer, error) {
	service, err := b.BuildService()
	if err != nil {
		return nil, err
	}
	logger, err := b.Logger()
	if err != nil {
		return nil, err
	}

	base := []stdio.StdioOption{stdio.WithLogger(logger)}
	if b.cfg.Auth.APIKey != "" {
		base = append(base, stdio.WithCredential(auth.StaticCredential(b.cfg.Auth.APIKey, b.cfg.Auth.StaticUserID)))
	}
	return stdio.NewStdioServer(service, append(base, opts...)...), nil
}
