package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas-1000/mcp-glucose/internal/config"
	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/auth"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/server"
	"github.com/lucas-1000/mcp-glucose/internal/testutil"
)

// fakeUpstream serves the latest-reading and userinfo endpoints and records
// the credentials it was called with.
type fakeUpstream struct {
	*httptest.Server
	apiKeys []string
	bearers []string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health-data/latest", func(w http.ResponseWriter, r *http.Request) {
		f.apiKeys = append(f.apiKeys, r.Header.Get("X-API-Key"))
		f.bearers = append(f.bearers, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": domain.Reading{Value: 104, Unit: "mg/dL", Timestamp: "2024-01-15T10:30:00Z", Source: "cgm"},
		})
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": "patient-7"})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func testConfig(upstreamURL string) *config.Config {
	cfg := config.Default()
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Upstream.MaxAttempts = 1
	cfg.Auth.Mode = config.AuthModeStatic
	cfg.Auth.APIKey = "static-key"
	cfg.Auth.StaticUserID = "patient-1"
	return cfg
}

func TestNewServerBuilder(t *testing.T) {
	b := NewServerBuilder(nil)
	assert.Equal(t, *config.Default(), b.Config())

	b.WithName("custom").WithVersion("2.0.0").WithInstructions("hi").WithAddress(":9999")
	cfg := b.Config()
	assert.Equal(t, "custom", cfg.Server.Name)
	assert.Equal(t, "2.0.0", cfg.Server.Version)
	assert.Equal(t, "hi", cfg.Server.Instructions)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestServerBuilder_DoesNotMutateConfig(t *testing.T) {
	cfg := config.Default()
	NewServerBuilder(cfg).WithName("changed")
	assert.Equal(t, "glucose-mcp", cfg.Server.Name)
}

func TestServerBuilder_Metrics(t *testing.T) {
	cfg := config.Default()
	b := NewServerBuilder(cfg)
	m := b.Metrics()
	require.NotNil(t, m)
	assert.Same(t, m, b.Metrics())

	cfg.Metrics.Enabled = false
	assert.Nil(t, NewServerBuilder(cfg).Metrics())
}

func TestServerBuilder_BuildResolver(t *testing.T) {
	t.Run("Static", func(t *testing.T) {
		b := NewServerBuilder(testConfig("http://upstream")).WithLogger(logging.NewNop())
		r, err := b.BuildResolver()
		require.NoError(t, err)
		assert.IsType(t, &auth.StaticResolver{}, r)

		again, err := b.BuildResolver()
		require.NoError(t, err)
		assert.Same(t, r, again)
	})

	t.Run("BearerJWT", func(t *testing.T) {
		cfg := testConfig("http://upstream")
		cfg.Auth.Mode = config.AuthModeBearer
		cfg.Auth.Introspection = config.IntrospectionJWT
		cfg.Auth.JWTSecret = "secret"
		b := NewServerBuilder(cfg).WithLogger(logging.NewNop())

		i, err := b.BuildIntrospector()
		require.NoError(t, err)
		assert.IsType(t, &auth.JWTIntrospector{}, i)

		r, err := b.BuildResolver()
		require.NoError(t, err)
		assert.IsType(t, &auth.BearerResolver{}, r)
	})

	t.Run("BearerUserInfo", func(t *testing.T) {
		cfg := testConfig("http://upstream")
		cfg.Auth.Mode = config.AuthModeBearer
		b := NewServerBuilder(cfg).WithLogger(logging.NewNop())

		i, err := b.BuildIntrospector()
		require.NoError(t, err)
		assert.IsType(t, &auth.UserInfoIntrospector{}, i)
	})

	t.Run("UnknownMode", func(t *testing.T) {
		cfg := testConfig("http://upstream")
		cfg.Auth.Mode = "kerberos"
		_, err := NewServerBuilder(cfg).WithLogger(logging.NewNop()).BuildResolver()
		require.Error(t, err)
	})

	t.Run("UnknownIntrospection", func(t *testing.T) {
		cfg := testConfig("http://upstream")
		cfg.Auth.Introspection = "opaque"
		_, err := NewServerBuilder(cfg).WithLogger(logging.NewNop()).BuildIntrospector()
		require.Error(t, err)
	})
}

func TestServerBuilder_BuildService(t *testing.T) {
	b := NewServerBuilder(testConfig("http://upstream")).
		WithLogger(logging.NewNop()).
		WithHealthDataClient(&testutil.MockHealthDataClient{})

	service, err := b.BuildService()
	require.NoError(t, err)

	name, version, instructions := service.ServerInfo()
	assert.Equal(t, "glucose-mcp", name)
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, defaultInstructions, instructions)

	var names []string
	for _, tool := range service.ListTools(context.Background()) {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "fetch", "read-range", "read-latest", "read-stats"}, names)
}

func TestServerBuilder_BuildSSEServerUsesInjectedStores(t *testing.T) {
	store := server.NewInMemoryCredentialStore()
	b := NewServerBuilder(testConfig("http://upstream")).
		WithLogger(logging.NewNop()).
		WithHealthDataClient(&testutil.MockHealthDataClient{}).
		WithCredentialStore(store)

	service, err := b.BuildService()
	require.NoError(t, err)
	sse, err := b.BuildSSEServer(service)
	require.NoError(t, err)

	session, err := sse.OpenSession("test", &domain.Credential{Token: "t", UserID: "u"})
	require.NoError(t, err)
	_, ok := store.Get(session.ID())
	assert.True(t, ok)

	sse.CloseSession(session.ID())
	_, ok = store.Get(session.ID())
	assert.False(t, ok)
}

func TestServerBuilder_BuildMCPServer_StaticMode(t *testing.T) {
	upstream := newFakeUpstream(t)
	mcp, err := NewServerBuilder(testConfig(upstream.URL)).WithLogger(logging.NewNop()).BuildMCPServer()
	require.NoError(t, err)

	ts := httptest.NewServer(mcp.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/jsonrpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read-latest","arguments":{}}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body shared.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	result := body.Result.(map[string]interface{})
	assert.Equal(t, false, result["isError"])
	assert.Contains(t, result["content"].([]interface{})[0].(map[string]interface{})["text"], "104")

	assert.Equal(t, []string{"static-key"}, upstream.apiKeys)

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestServerBuilder_BuildMCPServer_BearerUserInfo(t *testing.T) {
	upstream := newFakeUpstream(t)
	cfg := testConfig(upstream.URL)
	cfg.Auth.Mode = config.AuthModeBearer
	cfg.Auth.AuthorizationServer = upstream.URL

	mcp, err := NewServerBuilder(cfg).WithLogger(logging.NewNop()).BuildMCPServer()
	require.NoError(t, err)
	ts := httptest.NewServer(mcp.Handler())
	defer ts.Close()

	call := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/jsonrpc",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read-latest"}}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	ok := call("good-token")
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Equal(t, []string{"Bearer good-token"}, upstream.bearers)

	rejected := call("stolen-token")
	rejected.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, rejected.StatusCode)

	meta, err := http.Get(ts.URL + "/.well-known/oauth-protected-resource")
	require.NoError(t, err)
	defer meta.Body.Close()
	assert.Equal(t, http.StatusOK, meta.StatusCode)
}

func TestServerBuilder_BuildStdioServer(t *testing.T) {
	client := &testutil.MockHealthDataClient{
		LatestReadingFunc: func(_ context.Context, _ domain.Credential, userID string) (*domain.Reading, error) {
			return &domain.Reading{Value: 88, Unit: "mg/dL", Timestamp: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC).Format(time.RFC3339)}, nil
		},
	}
	s, err := NewServerBuilder(testConfig("http://upstream")).
		WithLogger(logging.NewNop()).
		WithHealthDataClient(client).
		BuildStdioServer()
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read-latest"}}` + "\n")
	require.NoError(t, s.Listen(context.Background(), in, &out))
	assert.Contains(t, out.String(), "88")

	creds := client.Credentials()
	require.Len(t, creds, 1)
	assert.Equal(t, "static-key", creds[0].Token)
	assert.Equal(t, "patient-1", creds[0].UserID)
	assert.Equal(t, domain.SchemeAPIKey, creds[0].Scheme)
}
