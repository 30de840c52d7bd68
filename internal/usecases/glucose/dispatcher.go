// Package glucose implements the glucose tools: capability listing and
// invocation against the health-data API on behalf of the calling session.
package glucose

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/metrics"
)

type toolFunc func(ctx context.Context, credential domain.Credential, args map[string]interface{}) (interface{}, error)

// Dispatcher lists and invokes the glucose tools. It holds no per-session
// state; the credential of each call comes from the dispatch context.
type Dispatcher struct {
	client  domain.HealthDataClient
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	docBase string
	handler map[string]toolFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides the current time.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDocumentBaseURL sets the prefix of the url field of search and fetch
// results.
func WithDocumentBaseURL(base string) Option {
	return func(d *Dispatcher) {
		d.docBase = base
	}
}

// NewDispatcher creates a dispatcher reading from client.
func NewDispatcher(client domain.HealthDataClient, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: client,
		logger: logging.Default(),
		now:    time.Now,
	}
	d.handler = map[string]toolFunc{
		ToolSearch:     d.search,
		ToolFetch:      d.fetch,
		ToolReadRange:  d.readRange,
		ToolReadLatest: d.readLatest,
		ToolReadStats:  d.readStats,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListTools returns the fixed capability list.
func (d *Dispatcher) ListTools(context.Context) []shared.Tool {
	out := make([]shared.Tool, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool for the session bound to ctx. Every failure is
// reported in the result with IsError set; CallTool itself never fails.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]interface{}) shared.CallToolResult {
	start := time.Now()

	credential, ok := domain.CurrentCredential(ctx)
	if !ok {
		d.record(ctx, name, domain.KindMissingCredential, start)
		return shared.ToolError(domain.ErrMissingCredential.Error())
	}

	fn, ok := d.handler[name]
	if !ok {
		d.record(ctx, name, domain.KindUnknownCapability, start)
		return shared.ToolError((&domain.UnknownCapabilityError{Name: name}).Error())
	}

	result, err := fn(ctx, credential, args)
	if err != nil {
		kind := domain.KindOf(err)
		d.record(ctx, name, kind, start)
		return shared.ToolError(errorText(name, kind, err))
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		d.record(ctx, name, domain.KindUpstreamFailure, start)
		return shared.ToolError(fmt.Sprintf("Error formatting %s result: %v", name, err))
	}
	d.record(ctx, name, "", start)
	return shared.ToolResult(string(text))
}

func (d *Dispatcher) record(ctx context.Context, name string, kind domain.ErrorKind, start time.Time) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	tool := name
	if _, known := d.handler[name]; !known {
		tool = "unknown"
	}
	d.metrics.ToolCalled(tool, outcome)

	fields := logging.Fields{
		"tool":     name,
		"outcome":  outcome,
		"duration": time.Since(start).String(),
	}
	if kind == "" {
		d.logger.InfoContext(ctx, "tool call completed", fields)
		return
	}
	d.logger.WarnContext(ctx, "tool call failed", fields)
}

func errorText(name string, kind domain.ErrorKind, err error) string {
	switch kind {
	case domain.KindInvalidArgument:
		return err.Error()
	case domain.KindUpstreamFailure:
		if domain.IsNotFound(err) {
			return err.Error()
		}
		return fmt.Sprintf("Error calling health-data API for %s: %v", name, err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func (d *Dispatcher) search(ctx context.Context, credential domain.Credential, args map[string]interface{}) (interface{}, error) {
	var a searchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	window := ParseWindow(a.Query, d.now())
	readings, err := d.client.Readings(ctx, credential, domain.ReadingQuery{
		UserID:    credential.UserID,
		Type:      domain.ReadingTypeGlucose,
		StartDate: window.Start,
		EndDate:   window.End,
		Limit:     searchLimit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]searchResult, 0, len(readings))
	for _, r := range readings {
		results = append(results, searchResult{
			ID:    r.ID(),
			Title: title(r),
			Text:  describeReading(r),
			URL:   d.documentURL(r),
		})
	}
	return searchResponse{Results: results}, nil
}

func (d *Dispatcher) fetch(ctx context.Context, credential domain.Credential, args map[string]interface{}) (interface{}, error) {
	var a fetchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	at, err := domain.ParseReadingID(a.ID)
	if err != nil {
		return nil, err
	}

	readings, err := d.client.Readings(ctx, credential, domain.ReadingQuery{
		UserID:    credential.UserID,
		Type:      domain.ReadingTypeGlucose,
		StartDate: at.Add(-fetchWindow),
		EndDate:   at.Add(fetchWindow),
		Limit:     maxReadLimit,
	})
	if err != nil {
		return nil, err
	}

	for _, r := range readings {
		t, err := r.Time()
		if err != nil || !t.Equal(at) {
			continue
		}
		return document{
			ID:    r.ID(),
			Title: title(r),
			Text:  describeReading(r),
			URL:   d.documentURL(r),
			Metadata: documentMetadata{
				Value:     r.Value,
				Unit:      r.Unit,
				Timestamp: r.Timestamp,
				Source:    r.Source,
			},
		}, nil
	}
	return nil, domain.NewNotFoundError("Reading %s not found", a.ID)
}

func (d *Dispatcher) readRange(ctx context.Context, credential domain.Credential, args map[string]interface{}) (interface{}, error) {
	var a rangeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	start, err := ParseDate("startDate", a.StartDate, false)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate("endDate", a.EndDate, true)
	if err != nil {
		return nil, err
	}
	limit := defaultReadLimit
	if a.Limit != nil {
		limit = *a.Limit
	}

	readings, err := d.client.Readings(ctx, credential, domain.ReadingQuery{
		UserID:    credential.UserID,
		Type:      domain.ReadingTypeGlucose,
		StartDate: start,
		EndDate:   end,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	if readings == nil {
		readings = []domain.Reading{}
	}
	return rangeResponse{Count: len(readings), Readings: readings}, nil
}

func (d *Dispatcher) readLatest(ctx context.Context, credential domain.Credential, _ map[string]interface{}) (interface{}, error) {
	reading, err := d.client.LatestReading(ctx, credential, credential.UserID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNotFoundError("No glucose readings found")
		}
		return nil, err
	}
	return latestResponse{Reading: *reading}, nil
}

func (d *Dispatcher) readStats(ctx context.Context, credential domain.Credential, args map[string]interface{}) (interface{}, error) {
	var a statsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	start, err := ParseDate("startDate", a.StartDate, false)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate("endDate", a.EndDate, true)
	if err != nil {
		return nil, err
	}

	stats, err := d.client.Stats(ctx, credential, domain.ReadingQuery{
		UserID:    credential.UserID,
		Type:      domain.ReadingTypeGlucose,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNotFoundError("No glucose statistics found for this window")
		}
		return nil, err
	}
	return *stats, nil
}
