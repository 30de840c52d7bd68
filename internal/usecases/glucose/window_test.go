package glucose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

func TestParseWindow(t *testing.T) {
	// Monday 2024-01-15 12:00 UTC
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		query string
		start time.Time
		end   time.Time
	}{
		{"today", day(15), now},
		{"Glucose readings TODAY", day(15), now},
		{"yesterday", day(14), day(15)},
		{"this week", day(15), now},
		{"last 3 hours", now.Add(-3 * time.Hour), now},
		{"last 2 days", now.Add(-48 * time.Hour), now},
		{"last week", now.Add(-7 * 24 * time.Hour), now},
		{"last 1 week", now.Add(-7 * 24 * time.Hour), now},
		{"2024-01-10", day(10), day(11)},
		{"from 2024-01-01..2024-01-07", day(1), day(8)},
		{"2024-01-01T06:00:00Z .. 2024-01-01T08:00:00Z", day(1).Add(6 * time.Hour), day(1).Add(8 * time.Hour)},
		{"highs and lows", now.Add(-24 * time.Hour), now},
		{"", now.Add(-24 * time.Hour), now},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := ParseWindow(tt.query, now)
			assert.Equal(t, tt.start, w.Start)
			assert.Equal(t, tt.end, w.End)
			assert.NotEmpty(t, w.Label)
		})
	}
}

func TestParseWindow_ThisWeekOnSunday(t *testing.T) {
	sunday := time.Date(2024, 1, 21, 9, 0, 0, 0, time.UTC)
	w := ParseWindow("this week", sunday)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), w.Start)
}

func TestParseWindow_InvertedRangeFallsBack(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	w := ParseWindow("2024-01-07..2024-01-01", now)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), w.Start, "first date is used as a single day")
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("startDate", "", false)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseDate("startDate", "2024-01-15", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("endDate", "2024-01-15", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("endDate", "2024-01-15T10:30:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), got)

	_, err = ParseDate("startDate", "Jan 15", false)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
	assert.Contains(t, err.Error(), "startDate")
}
