// Package stdio serves the MCP protocol over newline-delimited JSON-RPC on
// standard input and output for a single local client.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
)

const defaultSessionID = "stdio"

// StdioServer reads JSON-RPC messages line by line and writes each response
// as one line. All messages belong to one fixed session.
type StdioServer struct {
	handler     domain.MessageHandler
	logger      *logging.Logger
	contextFunc StdioContextFunc
	sessionID   string
	credential  *domain.Credential
	mu          sync.Mutex
}

// NewStdioServer creates a stdio server dispatching to handler.
func NewStdioServer(handler domain.MessageHandler, opts ...StdioOption) *StdioServer {
	s := &StdioServer{
		handler:   handler,
		logger:    logging.Default(),
		sessionID: defaultSessionID,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Listen starts listening for JSON-RPC messages on the provided input and writes responses to the provided output.
// It runs until the input is exhausted, the context is cancelled or writing fails.
// Messages are handled concurrently; Listen waits for in-flight messages before returning.
func (s *StdioServer) Listen(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if s.contextFunc != nil {
		ctx = s.contextFunc(ctx)
	}
	ctx = domain.ContextWithSession(ctx, s.sessionID, s.credential)

	g, gctx := errgroup.WithContext(ctx)
	reader := bufio.NewReader(stdin)

	for {
		select {
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			msg := line
			g.Go(func() error {
				return s.processMessage(gctx, msg, stdout)
			})
		}
		if err != nil {
			waitErr := g.Wait()
			if err == io.EOF {
				s.logger.Info("input stream closed")
				return waitErr
			}
			return multierr.Combine(errors.Wrap(err, "reading input"), waitErr)
		}
	}
}

// processMessage handles a single JSON-RPC message and writes the response.
// Only output failures are returned.
func (s *StdioServer) processMessage(ctx context.Context, line string, writer io.Writer) error {
	raw := json.RawMessage(strings.TrimSpace(line))
	if !json.Valid(raw) {
		s.logger.Warn("discarding malformed message", logging.Fields{"bytes": len(raw)})
		return s.writeResponse(shared.NewErrorResponse(nil, shared.ParseError, shared.ErrorMessage(shared.ParseError)), writer)
	}

	response := s.handler.HandleMessage(ctx, raw)
	if response == nil {
		return nil
	}
	return s.writeResponse(response, writer)
}

// writeResponse marshals and writes a JSON-RPC response message followed by a newline.
// Returns an error if marshaling or writing fails.
func (s *StdioServer) writeResponse(response interface{}, writer io.Writer) error {
	responseBytes, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("error marshaling response: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(writer, "%s\n", responseBytes); err != nil {
		return fmt.Errorf("error writing response: %w", err)
	}

	return nil
}

// ServeStdio is a convenience function that creates and starts a StdioServer with os.Stdin and os.Stdout.
// It stops on SIGTERM and SIGINT.
func ServeStdio(ctx context.Context, handler domain.MessageHandler, opts ...StdioOption) error {
	s := NewStdioServer(handler, opts...)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s.logger.Info("starting MCP server in stdio mode", logging.Fields{"session_id": s.sessionID})

	err := s.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("server exited with error", logging.Fields{"error": err.Error()})
		return err
	}

	s.logger.Info("server shutdown complete")
	return nil
}
