package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/metrics"
)

const (
	defaultEventBufferSize   = 100
	defaultKeepAliveInterval = 25 * time.Second
	maxMessageBodySize       = 1 << 20
)

// CredentialResolver extracts the credential presented when a stream is
// opened. A nil credential with a nil error means none was presented.
type CredentialResolver interface {
	ResolveCredential(r *http.Request) (*domain.Credential, error)
}

// SSEContextFunc is a function that takes an existing context and the current
// request and returns a potentially modified context based on the request
// content. This can be used to inject context values from headers, for example.
type SSEContextFunc func(ctx context.Context, r *http.Request) context.Context

// SSEServer implements the Server-Sent Events transport. It owns the session
// lifecycle (open, teardown) and routes POSTed messages to the stream of the
// session they name.
type SSEServer struct {
	baseURL         string
	basePath        string
	messageEndpoint string
	sseEndpoint     string
	keepAlive       time.Duration
	bufferSize      int

	sessions    domain.ConnectionManager
	credentials domain.CredentialStore
	resolver    CredentialResolver
	handler     domain.MessageHandler
	contextFunc SSEContextFunc
	logger      *logging.Logger
	metrics     *metrics.Metrics
	newID       func() string

	mu     sync.RWMutex
	closed bool
}

// SSEOption defines a function type for configuring SSEServer
type SSEOption func(*SSEServer)

// WithBaseURL sets the base URL advertised in the endpoint event
func WithBaseURL(baseURL string) SSEOption {
	return func(s *SSEServer) {
		if baseURL != "" {
			u, err := url.Parse(baseURL)
			if err != nil {
				return
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return
			}
			if u.Host == "" || strings.HasPrefix(u.Host, ":") {
				return
			}
			if len(u.Query()) > 0 {
				return
			}
		}
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithBasePath sets the base path for the SSE server
func WithBasePath(basePath string) SSEOption {
	return func(s *SSEServer) {
		if basePath == "" {
			s.basePath = ""
			return
		}
		if !strings.HasPrefix(basePath, "/") {
			basePath = "/" + basePath
		}
		s.basePath = strings.TrimSuffix(basePath, "/")
	}
}

// WithMessageEndpoint sets the message endpoint path
func WithMessageEndpoint(endpoint string) SSEOption {
	return func(s *SSEServer) {
		if endpoint != "" {
			s.messageEndpoint = endpoint
		}
	}
}

// WithSSEEndpoint sets the SSE endpoint path
func WithSSEEndpoint(endpoint string) SSEOption {
	return func(s *SSEServer) {
		if endpoint != "" {
			s.sseEndpoint = endpoint
		}
	}
}

// WithKeepAlive sets the interval of comment frames written to idle streams.
// Zero disables keepalives.
func WithKeepAlive(d time.Duration) SSEOption {
	return func(s *SSEServer) {
		s.keepAlive = d
	}
}

// WithEventBufferSize sets the per-session event queue capacity.
func WithEventBufferSize(n int) SSEOption {
	return func(s *SSEServer) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithCredentialStore replaces the in-memory credential store.
func WithCredentialStore(store domain.CredentialStore) SSEOption {
	return func(s *SSEServer) {
		s.credentials = store
	}
}

// WithConnectionManager replaces the in-memory session registry.
func WithConnectionManager(m domain.ConnectionManager) SSEOption {
	return func(s *SSEServer) {
		s.sessions = m
	}
}

// WithCredentialResolver sets how stream-open requests present credentials.
func WithCredentialResolver(r CredentialResolver) SSEOption {
	return func(s *SSEServer) {
		s.resolver = r
	}
}

// WithSSEContextFunc sets a function that will be called to customize the
// dispatch context from the incoming message request.
func WithSSEContextFunc(fn SSEContextFunc) SSEOption {
	return func(s *SSEServer) {
		s.contextFunc = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) SSEOption {
	return func(s *SSEServer) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) SSEOption {
	return func(s *SSEServer) {
		s.metrics = m
	}
}

// WithSessionIDGenerator overrides session ID generation.
func WithSessionIDGenerator(fn func() string) SSEOption {
	return func(s *SSEServer) {
		s.newID = fn
	}
}

// NewSSEServer creates a new SSE server dispatching messages into handler.
func NewSSEServer(handler domain.MessageHandler, opts ...SSEOption) *SSEServer {
	s := &SSEServer{
		sseEndpoint:     "/sse",
		messageEndpoint: "/message",
		keepAlive:       defaultKeepAliveInterval,
		bufferSize:      defaultEventBufferSize,
		sessions:        NewSSEConnectionManager(),
		credentials:     NewInMemoryCredentialStore(),
		handler:         handler,
		logger:          logging.Default(),
		newID:           func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OpenSession allocates a session ID, stores the credential (if any) and
// registers the stream. The session is routable as soon as this returns.
func (s *SSEServer) OpenSession(userAgent string, credential *domain.Credential) (domain.SSESession, error) {
	session, err := s.openSession(userAgent, credential)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SSEServer) openSession(userAgent string, credential *domain.Credential) (*sseSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrServerClosed
	}

	session := NewSSESession(s.newID(), userAgent, s.bufferSize).(*sseSession)
	id := session.ID()

	// The credential goes in before the stream so that a routable session is
	// never observed without the credential it was opened with.
	if credential != nil {
		s.credentials.Put(id, *credential)
	} else {
		s.credentials.Remove(id)
	}
	s.sessions.AddSession(session)
	s.metrics.SessionOpened()

	fields := logging.Fields{"session_id": id, "user_agent": userAgent, "authenticated": credential != nil}
	if credential != nil {
		fields["user_id"] = credential.UserID
	}
	s.logger.Info("session opened", fields)
	return session, nil
}

// CloseSession tears a session down: it stops routing to it, closes the
// stream and releases the credential. Unknown or already closed sessions are
// a no-op.
func (s *SSEServer) CloseSession(sessionID string) {
	session, ok := s.sessions.RemoveSession(sessionID)
	if !ok {
		return
	}
	session.Close()
	s.credentials.Remove(sessionID)
	s.metrics.SessionClosed()
	s.logger.Info("session closed", logging.Fields{
		"session_id": sessionID,
		"duration":   time.Since(session.Info().CreatedAt).String(),
	})
}

// Route dispatches a message to the session it names. The dispatch runs under
// a context bound to the session and the credential it held at routing time;
// the response, if any, is written to the session's stream.
func (s *SSEServer) Route(ctx context.Context, sessionID string, rawMessage json.RawMessage) error {
	session, ok := s.sessions.GetSession(sessionID)
	if !ok {
		s.metrics.MessageRouted("session_not_found")
		return domain.NewSessionNotFoundError(sessionID)
	}

	var credential *domain.Credential
	if c, ok := s.credentials.Get(sessionID); ok {
		credential = &c
	}

	// A teardown racing with the lookups above closes the session before it
	// releases the credential, so checking done last rejects half-torn-down
	// sessions.
	select {
	case <-session.Done():
		s.metrics.MessageRouted("session_not_found")
		return domain.NewSessionNotFoundError(sessionID)
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session.Context(), cancel)
	defer stop()

	s.metrics.MessageRouted("routed")
	return domain.WithSession(ctx, sessionID, credential, func(ctx context.Context) error {
		response := s.handler.HandleMessage(ctx, rawMessage)
		if response == nil {
			return nil
		}

		eventData, err := json.Marshal(response)
		if err != nil {
			return errors.Wrap(err, "marshal response")
		}
		if err := session.Send(ctx, "message", eventData); err != nil {
			if errors.Is(err, ErrSessionClosed) || errors.Is(err, context.Canceled) {
				return domain.NewSessionNotFoundError(sessionID)
			}
			return errors.Wrap(err, "queue response")
		}
		return nil
	})
}

// Shutdown closes every session and releases every credential. Streams opened
// afterwards are refused.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	ids := s.sessions.CloseAll()
	for _, id := range ids {
		s.credentials.Remove(id)
		s.metrics.SessionClosed()
	}
	s.logger.Info("sessions drained", logging.Fields{"count": len(ids)})
	return ctx.Err()
}

// Sessions lists the registered sessions.
func (s *SSEServer) Sessions() []domain.Session {
	return s.sessions.Sessions()
}

// SessionCount returns the number of registered sessions.
func (s *SSEServer) SessionCount() int {
	return s.sessions.Count()
}

// handleSSE handles incoming SSE connection requests.
// It sets up appropriate headers and creates a new session for the client.
func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, ErrResponseWriterNotFlusher.Error(), http.StatusInternalServerError)
		return
	}

	var credential *domain.Credential
	if s.resolver != nil {
		c, err := s.resolver.ResolveCredential(r)
		if err != nil {
			logging.GetLogger(r.Context()).Warn("stream credential rejected", logging.Fields{"error": err.Error()})
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		credential = c
	}

	session, err := s.openSession(r.UserAgent(), credential)
	if err != nil {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.CloseSession(session.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	messageEndpoint := fmt.Sprintf("%s?sessionId=%s", s.CompleteMessageEndpoint(), session.ID())
	if err := writeFrame(w, flusher, formatEvent("endpoint", []byte(messageEndpoint))); err != nil {
		return
	}

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-session.events():
			if err := writeFrame(w, flusher, frame); err != nil {
				s.logger.Warn("stream write failed", logging.Fields{"session_id": session.ID(), "error": err.Error()})
				return
			}
		case <-tick:
			if err := writeFrame(w, flusher, []byte(": ping\n\n")); err != nil {
				return
			}
		case <-session.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(w io.Writer, flusher http.Flusher, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleMessage accepts a JSON-RPC message for a session. The response is
// delivered on the session's stream; the POST itself is acknowledged with 202.
func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONRPCError(w, http.StatusMethodNotAllowed, shared.InvalidRequest, "Method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeJSONRPCError(w, http.StatusBadRequest, shared.InvalidParams, "Missing sessionId")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBodySize))
	if err != nil {
		s.writeJSONRPCError(w, http.StatusBadRequest, shared.ParseError, "Error reading request body")
		return
	}
	if !json.Valid(body) {
		s.writeJSONRPCError(w, http.StatusBadRequest, shared.ParseError, "Parse error")
		return
	}

	ctx := r.Context()
	if s.contextFunc != nil {
		ctx = s.contextFunc(ctx, r)
	}

	if err := s.Route(ctx, sessionID, body); err != nil {
		if domain.IsSessionNotFound(err) {
			s.writeJSONRPCError(w, http.StatusNotFound, shared.SessionNotFound, err.Error())
			return
		}
		logging.GetLogger(ctx).ErrorContext(ctx, "route failed", logging.Fields{"session_id": sessionID, "error": err.Error()})
		s.writeJSONRPCError(w, http.StatusInternalServerError, shared.InternalError, "Internal error")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// writeJSONRPCError writes a JSON-RPC error response with the given error details.
func (s *SSEServer) writeJSONRPCError(w http.ResponseWriter, status int, code shared.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(shared.NewErrorResponse(nil, code, message))
}

func (s *SSEServer) GetUrlPath(input string) (string, error) {
	parse, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %s: %w", input, err)
	}
	return parse.Path, nil
}

func (s *SSEServer) CompleteSseEndpoint() string {
	return s.baseURL + s.basePath + s.sseEndpoint
}

func (s *SSEServer) CompleteSsePath() string {
	path, err := s.GetUrlPath(s.CompleteSseEndpoint())
	if err != nil {
		return s.basePath + s.sseEndpoint
	}
	return path
}

func (s *SSEServer) CompleteMessageEndpoint() string {
	return s.baseURL + s.basePath + s.messageEndpoint
}

func (s *SSEServer) CompleteMessagePath() string {
	path, err := s.GetUrlPath(s.CompleteMessageEndpoint())
	if err != nil {
		return s.basePath + s.messageEndpoint
	}
	return path
}

// ServeHTTP implements the http.Handler interface.
func (s *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == s.CompleteSsePath() {
		s.handleSSE(w, r)
		return
	}
	if path == s.CompleteMessagePath() {
		s.handleMessage(w, r)
		return
	}

	http.NotFound(w, r)
}
