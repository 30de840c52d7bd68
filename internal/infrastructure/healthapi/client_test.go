package healthapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/metrics"
)

var bearer = domain.Credential{Token: "session-token", Scheme: domain.SchemeBearer, UserID: "alice"}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithLogger(logging.NewNop()),
		WithBackoff(func(int) time.Duration { return 0 }),
	}, opts...)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)

	_, err = New("::")
	assert.Error(t, err)
}

func TestClient_Readings(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health-data", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "alice", q.Get("userId"))
		assert.Equal(t, "glucose", q.Get("type"))
		assert.Equal(t, "2024-01-15T09:30:00Z", q.Get("startDate"))
		assert.Equal(t, "2024-01-15T11:30:00Z", q.Get("endDate"))
		assert.Equal(t, "50", q.Get("limit"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": []domain.Reading{
				{Value: 101, Unit: "mg/dL", Timestamp: "2024-01-15T10:00:00Z", Source: "cgm"},
				{Value: 110, Unit: "mg/dL", Timestamp: "2024-01-15T10:30:00Z", Source: "cgm"},
			},
		})
	}))

	readings, err := c.Readings(context.Background(), bearer, domain.ReadingQuery{
		UserID: "alice", StartDate: start, EndDate: end, Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 110.0, readings[1].Value)
	assert.Equal(t, "reading:2024-01-15T10:30:00Z", readings[1].ID())
}

func TestClient_APIKeyScheme(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shared-secret", r.Header.Get("X-Health-Key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []domain.Reading{}})
	}), WithAPIKeyHeader("X-Health-Key"))

	_, err := c.Readings(context.Background(), domain.Credential{Token: "shared-secret", Scheme: domain.SchemeAPIKey}, domain.ReadingQuery{UserID: "u"})
	require.NoError(t, err)
}

func TestClient_LatestReading(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/health-data/latest", r.URL.Path)
			assert.Empty(t, r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": domain.Reading{Value: 95, Unit: "mg/dL", Timestamp: "2024-01-15T10:30:00Z"},
			})
		}))

		reading, err := c.LatestReading(context.Background(), bearer, "alice")
		require.NoError(t, err)
		assert.Equal(t, 95.0, reading.Value)
	})

	t.Run("NotFound", func(t *testing.T) {
		var calls int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no readings"})
		}))

		_, err := c.LatestReading(context.Background(), bearer, "alice")
		require.Error(t, err)
		assert.True(t, domain.IsNotFound(err))
		assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 must not be retried")
	})

	t.Run("NullData", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": nil})
		}))

		_, err := c.LatestReading(context.Background(), bearer, "alice")
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestClient_Stats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health-data/stats", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": domain.Stats{Count: 3, Average: 100, Min: 90, Max: 110, Unit: "mg/dL"},
		})
	}))

	stats, err := c.Stats(context.Background(), bearer, domain.ReadingQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, &domain.Stats{Count: 3, Average: 100, Min: 90, Max: 110, Unit: "mg/dL"}, stats)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls int32
	m := metrics.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": []domain.Reading{{Value: 1}}})
		}
	}), WithMetrics(m))

	readings, err := c.Readings(context.Background(), bearer, domain.ReadingQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, readings, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, status := range []string{"503", "429", "200"} {
		assert.Contains(t, body, `glucose_mcp_upstream_request_duration_seconds_count{endpoint="readings",status="`+status+`"} 1`)
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusBadGateway)
	}), WithMaxAttempts(2))

	_, err := c.Stats(context.Background(), bearer, domain.ReadingQuery{UserID: "alice"})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
	assert.Contains(t, err.Error(), "boom")
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := c.Readings(context.Background(), bearer, domain.ReadingQuery{UserID: "alice"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.Readings(context.Background(), bearer, domain.ReadingQuery{UserID: "alice"})
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Readings(ctx, bearer, domain.ReadingQuery{UserID: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_UserInfo(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/userinfo", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			writeJSON(w, http.StatusOK, map[string]string{"sub": "user-42"})
		case "Bearer nosub":
			writeJSON(w, http.StatusOK, map[string]string{})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))

	id, err := c.UserInfo(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID)

	_, err = c.UserInfo(context.Background(), "expired")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.UserInfo(context.Background(), "nosub")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, isRecoverable(http.StatusInternalServerError))
	assert.True(t, isRecoverable(http.StatusRequestTimeout))
	assert.False(t, isRecoverable(http.StatusNotImplemented))
	assert.False(t, isRecoverable(http.StatusUnauthorized))
}
