package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewFromZap(zap.New(core)), logs
}

func TestLoggerLevels(t *testing.T) {
	logger, logs := newObservedLogger()

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warning message")
	logger.Error("error message")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLoggerWithFields(t *testing.T) {
	logger, logs := newObservedLogger()

	logger.Info("tool called", Fields{"tool": "read-latest", "attempt": 2})

	entries := logs.FilterMessage("tool called").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "read-latest", ctx["tool"])
	assert.EqualValues(t, 2, ctx["attempt"])
}

func TestLoggerContextAddsSession(t *testing.T) {
	logger, logs := newObservedLogger()

	ctx := domain.ContextWithSession(context.Background(), "sess-1", nil)
	logger.InfoContext(ctx, "dispatch")
	logger.InfoContext(context.Background(), "unbound")

	bound := logs.FilterMessage("dispatch").All()
	require.Len(t, bound, 1)
	assert.Equal(t, "sess-1", bound[0].ContextMap()["session_id"])

	unbound := logs.FilterMessage("unbound").All()
	require.Len(t, unbound, 1)
	assert.NotContains(t, unbound[0].ContextMap(), "session_id")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" WARN ", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"verbose", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: DebugLevel, Development: true, InitialFields: Fields{"service": "test"}})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = New(Config{Level: InfoLevel, OutputPaths: []string{"/nonexistent-dir/x/y.log"}})
	assert.Error(t, err)
}

func TestMiddlewareAttachesLogger(t *testing.T) {
	logger, logs := newObservedLogger()

	var got *Logger
	h := middleware.RequestID(Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetLogger(r.Context())
		got.Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotNil(t, got)
	assert.NotSame(t, logger, got)
	entries := logs.FilterMessage("inside handler").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/health", fields["path"])
	assert.NotEmpty(t, fields["request_id"])

	done := logs.FilterMessage("request completed").All()
	require.Len(t, done, 1)
	assert.EqualValues(t, http.StatusTeapot, done[0].ContextMap()["status"])
}

func TestGetLoggerFallsBackToDefault(t *testing.T) {
	assert.Same(t, Default(), GetLogger(context.Background()))
}
