package glucose

import (
	"time"

	"github.com/lucas-1000/mcp-glucose/internal/domain/shared"
)

// Tool names
const (
	ToolSearch     = "search"
	ToolFetch      = "fetch"
	ToolReadRange  = "read-range"
	ToolReadLatest = "read-latest"
	ToolReadStats  = "read-stats"
)

const (
	searchLimit      = 50
	defaultReadLimit = 100
	maxReadLimit     = 1000
	fetchWindow      = time.Hour
)

var dateProperties = map[string]shared.Property{
	"startDate": {Type: "string", Description: "Start of the window, YYYY-MM-DD or RFC 3339 timestamp"},
	"endDate":   {Type: "string", Description: "End of the window, YYYY-MM-DD or RFC 3339 timestamp"},
}

// tools is the fixed capability list.
var tools = []shared.Tool{
	{
		Name:        ToolSearch,
		Description: "Search glucose readings. The query names a time window such as \"today\", \"yesterday\", \"last 3 days\", \"this week\", \"2024-01-15\" or \"2024-01-01..2024-01-07\"; other queries search the last 24 hours.",
		InputSchema: shared.InputSchema{
			Type: "object",
			Properties: map[string]shared.Property{
				"query": {Type: "string", Description: "Search query"},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:        ToolFetch,
		Description: "Fetch one glucose reading by the id returned from search.",
		InputSchema: shared.InputSchema{
			Type: "object",
			Properties: map[string]shared.Property{
				"id": {Type: "string", Description: "Reading id, reading:<timestamp>"},
			},
			Required: []string{"id"},
		},
	},
	{
		Name:        ToolReadRange,
		Description: "Read glucose readings in a date range.",
		InputSchema: shared.InputSchema{
			Type: "object",
			Properties: map[string]shared.Property{
				"startDate": dateProperties["startDate"],
				"endDate":   dateProperties["endDate"],
				"limit":     {Type: "number", Description: "Maximum number of readings, 1 to 1000 (default 100)"},
			},
		},
	},
	{
		Name:        ToolReadLatest,
		Description: "Read the most recent glucose reading.",
		InputSchema: shared.InputSchema{
			Type:       "object",
			Properties: map[string]shared.Property{},
		},
	},
	{
		Name:        ToolReadStats,
		Description: "Read glucose statistics (count, average, min, max) over a date range.",
		InputSchema: shared.InputSchema{
			Type:       "object",
			Properties: dateProperties,
		},
	},
}
