package domain

import "context"

// CredentialStore holds, per session, the credential currently authorized for it.
// Absence is a normal outcome; callers decide whether it is an error.
type CredentialStore interface {
	// Put stores or replaces the credential for a session.
	Put(sessionID string, credential Credential)

	// Get returns the credential for a session.
	Get(sessionID string) (Credential, bool)

	// Remove deletes the credential for a session. Removing an absent key is a no-op.
	Remove(sessionID string)

	// Count returns the number of stored credentials.
	Count() int
}

// HealthDataClient is the remote health-data API this server reads from.
// Every call is made on behalf of the given credential.
type HealthDataClient interface {
	// Readings returns the readings matching the query, oldest first.
	Readings(ctx context.Context, credential Credential, query ReadingQuery) ([]Reading, error)

	// LatestReading returns the most recent reading or ErrNotFound.
	LatestReading(ctx context.Context, credential Credential, userID string) (*Reading, error)

	// Stats returns aggregates over the query window or ErrNotFound.
	Stats(ctx context.Context, credential Credential, query ReadingQuery) (*Stats, error)
}

// Introspector resolves a presented bearer token into the user it belongs to.
type Introspector interface {
	Introspect(ctx context.Context, token string) (Identity, error)
}
