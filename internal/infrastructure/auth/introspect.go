// Package auth resolves the credentials presented when an event stream is
// opened into per-session credentials with a known user identity.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// JWTIntrospector verifies HS256 signed JWTs locally and takes the user from
// the "sub" claim.
type JWTIntrospector struct {
	secret []byte
}

var _ domain.Introspector = (*JWTIntrospector)(nil)

// NewJWTIntrospector creates a new JWT introspector with the given secret.
func NewJWTIntrospector(secret []byte) *JWTIntrospector {
	return &JWTIntrospector{secret: secret}
}

// Introspect validates the token and extracts the user ID from the "sub" claim.
func (v *JWTIntrospector) Introspect(_ context.Context, tokenString string) (domain.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrExpiredToken
		}
		return domain.Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid {
		return domain.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Identity{}, errors.Wrap(ErrMissingClaim, "sub")
	}
	return domain.Identity{UserID: sub}, nil
}

// Generate issues a token for userID. It is used by tests and local tooling.
func (v *JWTIntrospector) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// UserInfoFetcher asks the authorization server who a token belongs to.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, token string) (domain.Identity, error)
}

// UserInfoIntrospector resolves tokens with a userinfo call.
type UserInfoIntrospector struct {
	fetcher UserInfoFetcher
	timeout time.Duration
}

var _ domain.Introspector = (*UserInfoIntrospector)(nil)

// NewUserInfoIntrospector creates an introspector that bounds each lookup by
// timeout. A zero timeout leaves the caller's deadline in charge.
func NewUserInfoIntrospector(fetcher UserInfoFetcher, timeout time.Duration) *UserInfoIntrospector {
	return &UserInfoIntrospector{fetcher: fetcher, timeout: timeout}
}

// Introspect implements domain.Introspector.
func (u *UserInfoIntrospector) Introspect(ctx context.Context, token string) (domain.Identity, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	id, err := u.fetcher.UserInfo(ctx, token)
	if err != nil {
		return domain.Identity{}, errors.WithMessage(err, "userinfo")
	}
	return id, nil
}

// StaticIntrospector maps every token to the same user.
type StaticIntrospector struct {
	UserID string
}

// Introspect implements domain.Introspector.
func (s StaticIntrospector) Introspect(context.Context, string) (domain.Identity, error) {
	return domain.Identity{UserID: s.UserID}, nil
}
