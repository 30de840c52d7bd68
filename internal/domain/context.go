package domain

import "context"

// sessionScope is the immutable value bound to a context for the extent of one
// routed message. A fresh value is created per message, so concurrent
// dispatches never observe each other's binding.
type sessionScope struct {
	id         string
	credential *Credential
}

// sessionKey is the key type for storing the session scope in context.Context.
type sessionKey struct{}

// ContextWithSession returns a child context bound to sessionID. The credential
// is the snapshot that was valid for the session when the message was routed;
// nil means the session has no credential.
func ContextWithSession(ctx context.Context, sessionID string, credential *Credential) context.Context {
	scope := &sessionScope{id: sessionID}
	if credential != nil {
		c := *credential
		scope.credential = &c
	}
	return context.WithValue(ctx, sessionKey{}, scope)
}

// WithSession runs fn with a context bound to sessionID. The binding lives only
// in the context handed to fn and anything derived from it, including
// goroutines fn starts with that context; the caller's ctx is never modified.
func WithSession(ctx context.Context, sessionID string, credential *Credential, fn func(ctx context.Context) error) error {
	return fn(ContextWithSession(ctx, sessionID, credential))
}

// CurrentSession returns the session bound to ctx. Absence is a protocol
// error for callers on the dispatch path.
func CurrentSession(ctx context.Context) (string, bool) {
	scope, ok := ctx.Value(sessionKey{}).(*sessionScope)
	if !ok || scope == nil {
		return "", false
	}
	return scope.id, true
}

// CurrentCredential returns a copy of the credential bound to ctx.
func CurrentCredential(ctx context.Context) (Credential, bool) {
	scope, ok := ctx.Value(sessionKey{}).(*sessionScope)
	if !ok || scope == nil || scope.credential == nil {
		return Credential{}, false
	}
	return *scope.credential, true
}
