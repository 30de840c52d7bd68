package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// An absent header is not an error; a malformed one is.
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.Wrap(ErrInvalidToken, "invalid authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.Wrap(ErrInvalidToken, "empty token")
	}
	return token, nil
}

// BearerResolver introspects the bearer token of a stream-open request. A
// request without one opens an unauthenticated session.
type BearerResolver struct {
	introspector domain.Introspector
	logger       *logging.Logger
	now          func() time.Time
}

// NewBearerResolver creates a BearerResolver.
func NewBearerResolver(introspector domain.Introspector, logger *logging.Logger) *BearerResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &BearerResolver{introspector: introspector, logger: logger, now: time.Now}
}

// ResolveCredential implements the stream-open credential hook.
func (b *BearerResolver) ResolveCredential(r *http.Request) (*domain.Credential, error) {
	token, err := extractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	identity, err := b.introspector.Introspect(r.Context(), token)
	if err != nil {
		b.logger.Warn("token introspection failed", logging.Fields{
			"token": domain.Redact(token),
			"error": err.Error(),
		})
		return nil, errors.Wrap(domain.ErrUnauthorized, err.Error())
	}

	b.logger.Debug("token introspected", logging.Fields{
		"token":   domain.Redact(token),
		"user_id": identity.UserID,
	})
	return &domain.Credential{
		Token:    token,
		Scheme:   domain.SchemeBearer,
		UserID:   identity.UserID,
		IssuedAt: b.now().UTC(),
	}, nil
}

// StaticResolver gives every session the same shared-secret credential.
type StaticResolver struct {
	credential domain.Credential
}

// NewStaticResolver creates a StaticResolver for apiKey acting as userID.
func NewStaticResolver(apiKey, userID string) *StaticResolver {
	return &StaticResolver{credential: StaticCredential(apiKey, userID)}
}

// ResolveCredential implements the stream-open credential hook.
func (s *StaticResolver) ResolveCredential(*http.Request) (*domain.Credential, error) {
	c := s.credential
	c.IssuedAt = time.Now().UTC()
	return &c, nil
}

// StaticCredential builds the single-tenant credential.
func StaticCredential(apiKey, userID string) domain.Credential {
	return domain.Credential{
		Token:  apiKey,
		Scheme: domain.SchemeAPIKey,
		UserID: userID,
	}
}
