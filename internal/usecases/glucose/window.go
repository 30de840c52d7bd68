package glucose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

const dateLayout = "2006-01-02"

var (
	rangePattern  = regexp.MustCompile(`(?i)(\d{4}-\d{2}-\d{2}(?:T[0-9:.]+(?:Z|[+-]\d{2}:\d{2}))?)\s*\.\.\s*(\d{4}-\d{2}-\d{2}(?:T[0-9:.]+(?:Z|[+-]\d{2}:\d{2}))?)`)
	datePattern   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	lastNPattern  = regexp.MustCompile(`\blast\s+(?:(\d+)\s+)?(hour|day|week)s?\b`)
	defaultWindow = 24 * time.Hour
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
	Label string
}

// ParseWindow reads a time window out of a free-form search query. Queries
// that name no recognizable window select the last 24 hours.
func ParseWindow(query string, now time.Time) Window {
	now = now.UTC()
	q := strings.ToLower(strings.TrimSpace(query))
	today := startOfDay(now)

	if m := rangePattern.FindStringSubmatch(q); m != nil {
		start, errStart := parseBound(m[1], false)
		end, errEnd := parseBound(m[2], true)
		if errStart == nil && errEnd == nil && start.Before(end) {
			return Window{Start: start, End: end, Label: m[1] + ".." + m[2]}
		}
	}

	switch {
	case strings.Contains(q, "yesterday"):
		return Window{Start: today.AddDate(0, 0, -1), End: today, Label: "yesterday"}
	case strings.Contains(q, "today"):
		return Window{Start: today, End: now, Label: "today"}
	case strings.Contains(q, "this week"):
		return Window{Start: startOfWeek(today), End: now, Label: "this week"}
	}

	if m := lastNPattern.FindStringSubmatch(q); m != nil {
		n := 1
		if m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
				n = v
			}
		}
		var unit time.Duration
		switch m[2] {
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		}
		return Window{Start: now.Add(-time.Duration(n) * unit), End: now, Label: fmt.Sprintf("last %d %ss", n, m[2])}
	}

	if m := datePattern.FindStringSubmatch(q); m != nil {
		if day, err := time.Parse(dateLayout, m[1]); err == nil {
			return Window{Start: day, End: day.AddDate(0, 0, 1), Label: m[1]}
		}
	}

	return Window{Start: now.Add(-defaultWindow), End: now, Label: "last 24 hours"}
}

// ParseDate accepts an RFC 3339 timestamp or a YYYY-MM-DD date. A bare date
// used as an end bound covers the whole day.
func ParseDate(field, value string, end bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := parseBound(value, end)
	if err != nil {
		return time.Time{}, domain.NewInvalidArgumentError(field, fmt.Sprintf("expected YYYY-MM-DD or RFC 3339 timestamp, got %q", value))
	}
	return t, nil
}

func parseBound(value string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(value)); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		return day.AddDate(0, 0, 1), nil
	}
	return day, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday of day's week.
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
