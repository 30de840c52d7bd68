package domain

import (
	"context"
	"encoding/json"
)

// MessageHandler processes one inbound protocol message. A nil response means
// the message was a notification and nothing is written back.
type MessageHandler interface {
	HandleMessage(ctx context.Context, rawMessage json.RawMessage) interface{}
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, rawMessage json.RawMessage) interface{}

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, rawMessage json.RawMessage) interface{} {
	return f(ctx, rawMessage)
}

// SSESession is the write side of one server-to-client event stream.
type SSESession interface {
	// ID returns the session identifier.
	ID() string

	// Info returns the session metadata.
	Info() Session

	// Send queues an event for the stream. It fails once the session is closed.
	Send(ctx context.Context, event string, data []byte) error

	// Close closes the session. Closing twice is a no-op.
	Close()

	// Done is closed when the session is closed.
	Done() <-chan struct{}

	// Context is cancelled when the session is closed.
	Context() context.Context
}

// ConnectionManager is the session registry: it maps session identifiers to
// their live streams.
type ConnectionManager interface {
	// AddSession registers a session.
	AddSession(session SSESession)

	// RemoveSession deregisters a session and reports whether it was present.
	RemoveSession(sessionID string) (SSESession, bool)

	// GetSession retrieves a session by ID.
	GetSession(sessionID string) (SSESession, bool)

	// Sessions lists registered sessions, for diagnostics.
	Sessions() []Session

	// CloseAll closes and deregisters every session, returning their IDs.
	CloseAll() []string

	// Count returns the number of registered sessions.
	Count() int
}
