package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

// sse_session.go defines the implementation of the domain.SSESession interface.

// sseSession is the write side of one event stream. Frames are queued here and
// written by the goroutine that owns the http.ResponseWriter.
type sseSession struct {
	info       domain.Session
	eventQueue chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewSSESession creates a new SSE session with the given identifier.
func NewSSESession(id, userAgent string, bufferSize int) domain.SSESession {
	ctx, cancel := context.WithCancel(context.Background())
	return &sseSession{
		info: domain.Session{
			ID:        id,
			UserAgent: userAgent,
			CreatedAt: time.Now().UTC(),
		},
		eventQueue: make(chan []byte, bufferSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the session ID.
func (s *sseSession) ID() string {
	return s.info.ID
}

// Info returns the session metadata.
func (s *sseSession) Info() domain.Session {
	return s.info
}

// Send queues an event. It blocks while the queue is full until the session
// closes or ctx is done.
func (s *sseSession) Send(ctx context.Context, event string, data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.eventQueue <- formatEvent(event, data):
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the session. The event queue is left open so that a racing
// Send cannot panic; it is garbage collected with the session.
func (s *sseSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// Done is closed when the session is closed.
func (s *sseSession) Done() <-chan struct{} {
	return s.done
}

// Context returns the session's context.
func (s *sseSession) Context() context.Context {
	return s.ctx
}

// events exposes the queue to the stream writer.
func (s *sseSession) events() <-chan []byte {
	return s.eventQueue
}

// formatEvent renders one SSE frame.
func formatEvent(event string, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}
