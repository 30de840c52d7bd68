package glucose

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

type searchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type documentMetadata struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
	Source    string  `json:"source"`
}

type document struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Text     string           `json:"text"`
	URL      string           `json:"url"`
	Metadata documentMetadata `json:"metadata"`
}

type rangeResponse struct {
	Count    int              `json:"count"`
	Readings []domain.Reading `json:"readings"`
}

type latestResponse struct {
	Reading domain.Reading `json:"reading"`
}

func title(r domain.Reading) string {
	when := r.Timestamp
	if t, err := r.Time(); err == nil {
		when = t.UTC().Format("2006-01-02 15:04 MST")
	}
	return fmt.Sprintf("Glucose %s %s at %s", formatValue(r.Value), r.Unit, when)
}

func describeReading(r domain.Reading) string {
	text := fmt.Sprintf("Glucose reading of %s %s recorded at %s", formatValue(r.Value), r.Unit, r.Timestamp)
	if r.Source != "" {
		text += fmt.Sprintf(" (source: %s)", r.Source)
	}
	return text + "."
}

func formatValue(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", v), "0"), ".")
}

func (d *Dispatcher) documentURL(r domain.Reading) string {
	if d.docBase == "" {
		return r.ID()
	}
	return strings.TrimSuffix(d.docBase, "/") + "/readings/" + url.PathEscape(r.Timestamp)
}
