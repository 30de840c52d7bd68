// Package rest provides the HTTP interface for the MCP server.
package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/metrics"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/server"
	"github.com/lucas-1000/mcp-glucose/internal/usecases"
)

const (
	protectedResourcePath = "/.well-known/oauth-protected-resource"
	maxRequestBodySize    = 1 << 20
	readHeaderTimeout     = 10 * time.Second
)

// MCPServer represents the HTTP server for the MCP protocol.
type MCPServer struct {
	service    *usecases.ServerService
	sseServer  *server.SSEServer
	resolver   server.CredentialResolver
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server

	metricsPath         string
	resourceURL         string
	authorizationServer string
}

// Option configures an MCPServer.
type Option func(*MCPServer)

// WithLogger sets the logger for the server and its request middleware.
func WithLogger(logger *logging.Logger) Option {
	return func(s *MCPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCredentialResolver resolves credentials for the stateless /jsonrpc
// endpoint. Streams resolve their own through the SSE server.
func WithCredentialResolver(r server.CredentialResolver) Option {
	return func(s *MCPServer) {
		s.resolver = r
	}
}

// WithMetrics exposes m at path.
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *MCPServer) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithProtectedResource publishes OAuth protected resource metadata naming
// authorizationServer. An empty resourceURL is derived from each request.
func WithProtectedResource(resourceURL, authorizationServer string) Option {
	return func(s *MCPServer) {
		s.resourceURL = strings.TrimSuffix(resourceURL, "/")
		s.authorizationServer = authorizationServer
	}
}

// NewMCPServer creates a new MCP server listening on addr. The SSE server is
// mounted at its stream and message paths.
func NewMCPServer(service *usecases.ServerService, sseServer *server.SSEServer, addr string, opts ...Option) *MCPServer {
	s := &MCPServer{
		service:   service,
		sseServer: sseServer,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *MCPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Handle(s.sseServer.CompleteSsePath(), s.sseServer)
	r.Handle(s.sseServer.CompleteMessagePath(), s.sseServer)
	r.Get("/events", s.redirectToSSE)

	r.Post("/jsonrpc", s.handleJSONRPC)
	r.Get("/health", s.handleHealth)
	r.Get("/tools", s.handleTools)

	if s.metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}
	if s.authorizationServer != "" {
		r.Get(protectedResourcePath, s.handleProtectedResource)
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *MCPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *MCPServer) Addr() string {
	return s.httpServer.Addr
}

// redirectToSSE redirects clients to the SSE endpoint
func (s *MCPServer) redirectToSSE(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.sseServer.CompleteSsePath(), http.StatusFound)
}

// Start starts the MCP server. It returns nil once Stop has been called.
func (s *MCPServer) Start() error {
	s.logger.Info("starting MCP server", logging.Fields{
		"addr":     s.httpServer.Addr,
		"sse":      s.sseServer.CompleteSsePath(),
		"messages": s.sseServer.CompleteMessagePath(),
	})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serving http")
	}
	return nil
}

// Stop drains every session, then shuts down the HTTP server. Open streams
// end before the listener stops waiting for in-flight requests.
func (s *MCPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping MCP server", logging.Fields{"sessions": s.sseServer.SessionCount()})
	return multierr.Combine(
		errors.Wrap(s.sseServer.Shutdown(ctx), "draining sessions"),
		errors.Wrap(s.httpServer.Shutdown(ctx), "shutting down http"),
	)
}

// handleJSONRPC serves one JSON-RPC message without a stream. The call is
// bound to a throwaway session carrying the credential presented on this
// request.
func (s *MCPServer) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, shared.NewErrorResponse(nil, shared.ParseError, "Error reading request body"))
		return
	}

	var credential *domain.Credential
	if s.resolver != nil {
		c, err := s.resolver.ResolveCredential(r)
		if err != nil {
			logging.GetLogger(r.Context()).Warn("request credential rejected", logging.Fields{"error": err.Error()})
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeJSON(w, http.StatusUnauthorized, shared.NewErrorResponse(nil, shared.InvalidRequest, "Unauthorized"))
			return
		}
		credential = c
	}

	sessionID := middleware.GetReqID(r.Context())
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var response interface{}
	_ = domain.WithSession(r.Context(), "http-"+sessionID, credential, func(ctx context.Context) error {
		response = s.service.HandleMessage(ctx, body)
		return nil
	})
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

type healthResponse struct {
	Status   string `json:"status"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
	Sessions int    `json:"sessions"`
}

func (s *MCPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	name, version, _ := s.service.ServerInfo()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Name:     name,
		Version:  version,
		Protocol: shared.ProtocolVersion,
		Sessions: s.sseServer.SessionCount(),
	})
}

func (s *MCPServer) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, shared.ListToolsResult{Tools: s.service.ListTools(r.Context())})
}

type protectedResource struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

func (s *MCPServer) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	resource := s.resourceURL
	if resource == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		resource = scheme + "://" + r.Host
	}
	writeJSON(w, http.StatusOK, protectedResource{
		Resource:               resource,
		AuthorizationServers:   []string{s.authorizationServer},
		BearerMethodsSupported: []string{"header"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
