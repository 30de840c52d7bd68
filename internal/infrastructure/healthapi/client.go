// Package healthapi is the HTTP client for the remote health-data API.
package healthapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/metrics"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultAPIKeyHeader = "X-API-Key"

	readingsPath = "/api/health-data"
	latestPath   = "/api/health-data/latest"
	statsPath    = "/api/health-data/stats"
	userInfoPath = "/oauth/userinfo"

	maxErrorBody = 512
)

// Client calls the health-data API on behalf of a per-call credential. It is
// safe for concurrent use.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxAttempts  int
	apiKeyHeader string
	backoff      func(attempt int) time.Duration
	logger       *logging.Logger
	metrics      *metrics.Metrics
}

var _ domain.HealthDataClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests. A non-positive rate disables
// throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxAttempts sets how many times a transient failure is attempted.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAPIKeyHeader sets the header used for api_key credentials.
func WithAPIKeyHeader(h string) Option {
	return func(c *Client) {
		if h != "" {
			c.apiKeyHeader = h
		}
	}
}

// WithBackoff sets the wait between attempts.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(c *Client) {
		if fn != nil {
			c.backoff = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse health-data base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("health-data base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:      u,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		limiter:      rate.NewLimiter(rate.Inf, 0),
		maxAttempts:  DefaultMaxAttempts,
		apiKeyHeader: DefaultAPIKeyHeader,
		backoff:      expWait,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Readings returns the readings in the query window.
func (c *Client) Readings(ctx context.Context, credential domain.Credential, q domain.ReadingQuery) ([]domain.Reading, error) {
	var readings []domain.Reading
	if err := c.get(ctx, credential, "readings", readingsPath, queryValues(q, true), &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// LatestReading returns the most recent reading of the user.
func (c *Client) LatestReading(ctx context.Context, credential domain.Credential, userID string) (*domain.Reading, error) {
	var reading *domain.Reading
	q := domain.ReadingQuery{UserID: userID, Type: domain.ReadingTypeGlucose}
	if err := c.get(ctx, credential, "latest", latestPath, queryValues(q, false), &reading); err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, &domain.UpstreamError{Op: "latest", StatusCode: http.StatusOK, Cause: domain.ErrNotFound}
	}
	return reading, nil
}

// Stats returns aggregates over the query window.
func (c *Client) Stats(ctx context.Context, credential domain.Credential, q domain.ReadingQuery) (*domain.Stats, error) {
	var stats *domain.Stats
	if err := c.get(ctx, credential, "stats", statsPath, queryValues(q, false), &stats); err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, &domain.UpstreamError{Op: "stats", StatusCode: http.StatusOK, Cause: domain.ErrNotFound}
	}
	return stats, nil
}

// UserInfo resolves a bearer token into the identity it was issued to.
func (c *Client) UserInfo(ctx context.Context, token string) (domain.Identity, error) {
	var info struct {
		Sub    string `json:"sub"`
		UserID string `json:"user_id"`
	}
	credential := domain.Credential{Token: token, Scheme: domain.SchemeBearer}
	if err := c.do(ctx, credential, "userinfo", userInfoPath, nil, &info); err != nil {
		if statusOf(err) == http.StatusUnauthorized || statusOf(err) == http.StatusForbidden {
			return domain.Identity{}, errors.Wrap(domain.ErrUnauthorized, err.Error())
		}
		return domain.Identity{}, err
	}

	id := info.Sub
	if id == "" {
		id = info.UserID
	}
	if id == "" {
		return domain.Identity{}, errors.Wrap(domain.ErrUnauthorized, "userinfo response has no subject")
	}
	return domain.Identity{UserID: id}, nil
}

func queryValues(q domain.ReadingQuery, withLimit bool) url.Values {
	v := url.Values{}
	v.Set("userId", q.UserID)
	typ := q.Type
	if typ == "" {
		typ = domain.ReadingTypeGlucose
	}
	v.Set("type", typ)
	if !q.StartDate.IsZero() {
		v.Set("startDate", q.StartDate.UTC().Format(time.RFC3339))
	}
	if !q.EndDate.IsZero() {
		v.Set("endDate", q.EndDate.UTC().Format(time.RFC3339))
	}
	if withLimit && q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// get performs a request whose response wraps the payload in {"data": ...}.
func (c *Client) get(ctx context.Context, credential domain.Credential, op, path string, query url.Values, out interface{}) error {
	envelope := struct {
		Data interface{} `json:"data"`
	}{Data: out}
	return c.do(ctx, credential, op, path, query, &envelope)
}

func (c *Client) do(ctx context.Context, credential domain.Credential, op, path string, query url.Values, out interface{}) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	endpoint := u.String()

	var lastStatus int
	err := c.withRetry(ctx, op, func() error {
		status, err := c.attempt(ctx, credential, op, endpoint, out)
		lastStatus = status
		return err
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domain.UpstreamError{Op: op, Cause: ctxErr}
	}
	return &domain.UpstreamError{Op: op, StatusCode: lastStatus, Cause: err}
}

func (c *Client) attempt(ctx context.Context, credential domain.Credential, op, endpoint string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, permanent(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req, credential)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.UpstreamRequest(op, 0, time.Since(start))
		return 0, err
	}
	defer resp.Body.Close()
	c.metrics.UpstreamRequest(op, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, permanent(domain.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &StatusError{
			Code:       resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, permanent(errors.Wrap(err, "decode response"))
	}
	return resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request, credential domain.Credential) {
	if credential.Token == "" {
		return
	}
	switch credential.Scheme {
	case domain.SchemeAPIKey:
		req.Header.Set(c.apiKeyHeader, credential.Token)
	default:
		req.Header.Set("Authorization", "Bearer "+credential.Token)
	}
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func statusOf(err error) int {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
