package stdio

import (
	"context"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
)

// StdioContextFunc is a function that takes an existing context and returns
// a potentially modified context.
// This can be used to inject context values from environment variables,
// for example.
type StdioContextFunc func(ctx context.Context) context.Context

// StdioOption defines a function type for configuring StdioServer
type StdioOption func(*StdioServer)

// WithLogger sets the logger for the server. It must not write to stdout.
func WithLogger(logger *logging.Logger) StdioOption {
	return func(s *StdioServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStdioContextFunc sets a function that will be called to customize the context
// to the server. Note that the stdio server uses the same context for all requests,
// so this function will only be called once per server instance.
func WithStdioContextFunc(fn StdioContextFunc) StdioOption {
	return func(s *StdioServer) {
		s.contextFunc = fn
	}
}

// WithCredential binds every message to credential.
func WithCredential(credential domain.Credential) StdioOption {
	return func(s *StdioServer) {
		c := credential
		s.credential = &c
	}
}

// WithSessionID overrides the fixed session identifier.
func WithSessionID(id string) StdioOption {
	return func(s *StdioServer) {
		if id != "" {
			s.sessionID = id
		}
	}
}
