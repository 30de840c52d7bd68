package usecases

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/testutil"
)

func newTestService(tools *testutil.MockToolHandler) *ServerService {
	return NewServerService(ServerConfig{
		Name:         "glucose-mcp",
		Version:      "1.2.3",
		Instructions: "Ask about glucose",
		Tools:        tools,
		Logger:       logging.NewNop(),
	})
}

func handle(t *testing.T, s *ServerService, ctx context.Context, msg string) *shared.JSONRPCResponse {
	t.Helper()
	out := s.HandleMessage(ctx, json.RawMessage(msg))
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var resp shared.JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return &resp
}

func TestServerService_ServerInfo(t *testing.T) {
	s := newTestService(testutil.NewMockToolHandler())

	name, version, instructions := s.ServerInfo()
	assert.Equal(t, "glucose-mcp", name)
	assert.Equal(t, "1.2.3", version)
	assert.Equal(t, "Ask about glucose", instructions)
}

func TestServerService_Initialize(t *testing.T) {
	s := newTestService(testutil.NewMockToolHandler())

	resp := handle(t, s, context.Background(), `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"c","version":"0"}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, "1", string(resp.ID))

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, shared.ProtocolVersion, result["protocolVersion"])
	assert.Equal(t, "glucose-mcp", result["serverInfo"].(map[string]interface{})["name"])
	assert.Contains(t, result["capabilities"], "tools")
	assert.Equal(t, "Ask about glucose", result["instructions"])
}

func TestServerService_Notifications(t *testing.T) {
	s := newTestService(testutil.NewMockToolHandler())

	assert.Nil(t, handle(t, s, context.Background(), `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, handle(t, s, context.Background(), `{"jsonrpc":"2.0","method":"unknown/notification"}`))
}

func TestServerService_Ping(t *testing.T) {
	s := newTestService(testutil.NewMockToolHandler())

	resp := handle(t, s, context.Background(), `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]interface{}{}, resp.Result)
}

func TestServerService_ListTools(t *testing.T) {
	tools := testutil.NewMockToolHandler(shared.Tool{Name: "search", InputSchema: shared.InputSchema{Type: "object"}})
	s := newTestService(tools)

	resp := handle(t, s, context.Background(), `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.NotNil(t, resp)
	list := resp.Result.(map[string]interface{})["tools"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "search", list[0].(map[string]interface{})["name"])
}

func TestServerService_CallToolUsesBoundCredential(t *testing.T) {
	tools := testutil.NewMockToolHandler()
	s := newTestService(tools)

	cred := domain.Credential{Token: "t", UserID: "alice"}
	ctx := domain.ContextWithSession(context.Background(), "s-1", &cred)
	resp := handle(t, s, ctx, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"read-latest","arguments":{"x":1}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, false, result["isError"])
	assert.Equal(t, "alice", result["content"].([]interface{})[0].(map[string]interface{})["text"])

	calls := tools.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "read-latest", calls[0].Name)
	assert.Equal(t, "s-1", calls[0].SessionID)
	assert.Equal(t, float64(1), calls[0].Arguments["x"])
}

func TestServerService_Errors(t *testing.T) {
	s := newTestService(testutil.NewMockToolHandler())

	tests := []struct {
		name string
		msg  string
		code shared.ErrorCode
	}{
		{"ParseError", `{"jsonrpc":`, shared.ParseError},
		{"WrongVersion", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, shared.InvalidRequest},
		{"MissingMethod", `{"jsonrpc":"2.0","id":1}`, shared.InvalidRequest},
		{"UnknownMethod", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, shared.MethodNotFound},
		{"BadCallParams", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":"oops"}`, shared.InvalidParams},
		{"MissingToolName", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, shared.InvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, s, context.Background(), tt.msg)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
