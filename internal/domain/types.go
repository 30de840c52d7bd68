// Package domain defines the core entities and contracts of the glucose MCP server.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReadingTypeGlucose is the only health-data type this server exposes.
const ReadingTypeGlucose = "glucose"

// ReadingIDPrefix is the kind prefix of reading document identifiers.
const ReadingIDPrefix = "reading:"

// Reading is a single glucose measurement returned by the health-data API.
type Reading struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
	Source    string  `json:"source"`
}

// Time parses the reading timestamp.
func (r Reading) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, r.Timestamp)
}

// ID returns the document identifier used by the search and fetch tools.
func (r Reading) ID() string {
	return ReadingIDPrefix + r.Timestamp
}

// ParseReadingID splits a "<kind>:<timestamp>" identifier and returns the
// timestamp of a reading document.
func ParseReadingID(id string) (time.Time, error) {
	kind, ts, ok := strings.Cut(id, ":")
	if !ok || kind+":" != ReadingIDPrefix {
		return time.Time{}, NewInvalidArgumentError("id", fmt.Sprintf("expected %s<timestamp>, got %q", ReadingIDPrefix, id))
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, NewInvalidArgumentError("id", fmt.Sprintf("invalid timestamp %q", ts))
	}
	return t, nil
}

// Stats is the aggregate the health-data API computes over a window.
type Stats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Unit    string  `json:"unit"`
}

// ReadingQuery selects readings from the health-data API. Zero times are omitted.
type ReadingQuery struct {
	UserID    string
	Type      string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// CredentialScheme says how a credential is presented upstream.
type CredentialScheme string

const (
	// SchemeBearer sends the token as "Authorization: Bearer <token>".
	SchemeBearer CredentialScheme = "bearer"
	// SchemeAPIKey sends the token in the shared-secret header.
	SchemeAPIKey CredentialScheme = "api_key"
)

// Credential is the opaque token authorized for one session, together with the
// user identity it resolved to.
type Credential struct {
	Token    string
	Scheme   CredentialScheme
	UserID   string
	IssuedAt time.Time
}

// String never reveals the token.
func (c Credential) String() string {
	return fmt.Sprintf("%s credential for %s (%s)", c.Scheme, c.UserID, Redact(c.Token))
}

// Identity is the result of credential introspection.
type Identity struct {
	UserID string
}

// Session identifies one logical client connection.
type Session struct {
	ID        string
	UserAgent string
	CreatedAt time.Time
}

// Redact returns a short fingerprint of a secret suitable for logs.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}
