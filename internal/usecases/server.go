// Package usecases implements the application business logic for the MCP server.
package usecases

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
)

// ToolHandler lists and invokes tools.
type ToolHandler interface {
	ListTools(ctx context.Context) []shared.Tool
	CallTool(ctx context.Context, name string, args map[string]interface{}) shared.CallToolResult
}

// ServerService handles the MCP protocol methods. It is the message handler
// bound to every session; all per-session state arrives through the context.
type ServerService struct {
	name         string
	version      string
	instructions string
	tools        ToolHandler
	logger       *logging.Logger
}

// ServerConfig contains configuration for the ServerService.
type ServerConfig struct {
	Name         string
	Version      string
	Instructions string
	Tools        ToolHandler
	Logger       *logging.Logger
}

var _ domain.MessageHandler = (*ServerService)(nil)

// NewServerService creates a new ServerService with the given configuration.
func NewServerService(config ServerConfig) *ServerService {
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &ServerService{
		name:         config.Name,
		version:      config.Version,
		instructions: config.Instructions,
		tools:        config.Tools,
		logger:       logger,
	}
}

// ServerInfo returns information about the server.
func (s *ServerService) ServerInfo() (string, string, string) {
	return s.name, s.version, s.instructions
}

// ListTools returns all available tools.
func (s *ServerService) ListTools(ctx context.Context) []shared.Tool {
	return s.tools.ListTools(ctx)
}

// CallTool invokes a tool for the session bound to ctx.
func (s *ServerService) CallTool(ctx context.Context, name string, args map[string]interface{}) shared.CallToolResult {
	return s.tools.CallTool(ctx, name, args)
}

// HandleMessage processes one JSON-RPC message and returns the response, or
// nil for notifications.
func (s *ServerService) HandleMessage(ctx context.Context, rawMessage json.RawMessage) interface{} {
	var req shared.JSONRPCRequest
	if err := json.Unmarshal(rawMessage, &req); err != nil {
		return shared.NewErrorResponse(nil, shared.ParseError, shared.ErrorMessage(shared.ParseError))
	}
	if req.JSONRPC != shared.JSONRPCVersion || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return shared.NewErrorResponse(req.ID, shared.InvalidRequest, shared.ErrorMessage(shared.InvalidRequest))
	}

	s.logger.DebugContext(ctx, "handling message", logging.Fields{"method": req.Method})

	result, rpcErr := s.dispatch(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return shared.JSONRPCResponse{JSONRPC: shared.JSONRPCVersion, ID: req.ID, Error: rpcErr}
	}
	return shared.NewResponse(req.ID, result)
}

func (s *ServerService) dispatch(ctx context.Context, req shared.JSONRPCRequest) (interface{}, *shared.JSONRPCError) {
	switch req.Method {
	case shared.MethodInitialize:
		return s.initialize(ctx, req.Params)
	case shared.MethodInitialized:
		s.logger.InfoContext(ctx, "client initialized")
		return nil, nil
	case shared.MethodPing:
		return struct{}{}, nil
	case shared.MethodListTools:
		return shared.ListToolsResult{Tools: s.ListTools(ctx)}, nil
	case shared.MethodCallTool:
		var params shared.CallToolParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, rpcError(shared.InvalidParams, err.Error())
		}
		if params.Name == "" {
			return nil, rpcError(shared.InvalidParams, "missing tool name")
		}
		return s.CallTool(ctx, params.Name, params.Arguments), nil
	default:
		return nil, rpcError(shared.MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *ServerService) initialize(ctx context.Context, raw json.RawMessage) (interface{}, *shared.JSONRPCError) {
	var params shared.InitializeParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, rpcError(shared.InvalidParams, err.Error())
	}
	s.logger.InfoContext(ctx, "client initializing", logging.Fields{
		"client":           params.ClientInfo.Name,
		"client_version":   params.ClientInfo.Version,
		"protocol_version": params.ProtocolVersion,
	})

	return shared.InitializeResult{
		ProtocolVersion: shared.ProtocolVersion,
		ServerInfo: shared.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
		Capabilities: shared.Capabilities{
			Tools: &shared.ToolsCapability{ListChanged: false},
		},
		Instructions: s.instructions,
	}, nil
}

func unmarshalParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func rpcError(code shared.ErrorCode, message string) *shared.JSONRPCError {
	return &shared.JSONRPCError{Code: code, Message: message}
}
