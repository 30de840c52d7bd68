// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"sync"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
)

// ToolCall records one MockToolHandler invocation together with the session
// binding observed in its context.
type ToolCall struct {
	Name       string
	Arguments  map[string]interface{}
	SessionID  string
	Credential domain.Credential
	HasCred    bool
}

// MockToolHandler implements usecases.ToolHandler for testing
type MockToolHandler struct {
	Tools        []shared.Tool
	CallToolFunc func(ctx context.Context, name string, args map[string]interface{}) shared.CallToolResult

	mu    sync.Mutex
	calls []ToolCall
}

// NewMockToolHandler creates a handler that lists tools and echoes the
// credential user of each call.
func NewMockToolHandler(tools ...shared.Tool) *MockToolHandler {
	return &MockToolHandler{Tools: tools}
}

// ListTools implements ToolHandler.ListTools
func (m *MockToolHandler) ListTools(context.Context) []shared.Tool {
	return m.Tools
}

// CallTool implements ToolHandler.CallTool
func (m *MockToolHandler) CallTool(ctx context.Context, name string, args map[string]interface{}) shared.CallToolResult {
	id, _ := domain.CurrentSession(ctx)
	cred, ok := domain.CurrentCredential(ctx)

	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{Name: name, Arguments: args, SessionID: id, Credential: cred, HasCred: ok})
	m.mu.Unlock()

	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, name, args)
	}
	if !ok {
		return shared.ToolError(domain.ErrMissingCredential.Error())
	}
	return shared.ToolResult(cred.UserID)
}

// Calls returns the recorded calls.
func (m *MockToolHandler) Calls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockHealthDataClient implements domain.HealthDataClient for testing
type MockHealthDataClient struct {
	ReadingsFunc      func(ctx context.Context, c domain.Credential, q domain.ReadingQuery) ([]domain.Reading, error)
	LatestReadingFunc func(ctx context.Context, c domain.Credential, userID string) (*domain.Reading, error)
	StatsFunc         func(ctx context.Context, c domain.Credential, q domain.ReadingQuery) (*domain.Stats, error)

	mu          sync.Mutex
	credentials []domain.Credential
}

// Readings implements HealthDataClient.Readings
func (m *MockHealthDataClient) Readings(ctx context.Context, c domain.Credential, q domain.ReadingQuery) ([]domain.Reading, error) {
	m.record(c)
	if m.ReadingsFunc != nil {
		return m.ReadingsFunc(ctx, c, q)
	}
	return []domain.Reading{}, nil
}

// LatestReading implements HealthDataClient.LatestReading
func (m *MockHealthDataClient) LatestReading(ctx context.Context, c domain.Credential, userID string) (*domain.Reading, error) {
	m.record(c)
	if m.LatestReadingFunc != nil {
		return m.LatestReadingFunc(ctx, c, userID)
	}
	return nil, domain.ErrNotFound
}

// Stats implements HealthDataClient.Stats
func (m *MockHealthDataClient) Stats(ctx context.Context, c domain.Credential, q domain.ReadingQuery) (*domain.Stats, error) {
	m.record(c)
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, c, q)
	}
	return nil, domain.ErrNotFound
}

// Credentials returns the credentials of every recorded call.
func (m *MockHealthDataClient) Credentials() []domain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Credential, len(m.credentials))
	copy(out, m.credentials)
	return out
}

func (m *MockHealthDataClient) record(c domain.Credential) {
	m.mu.Lock()
	m.credentials = append(m.credentials, c)
	m.mu.Unlock()
}
