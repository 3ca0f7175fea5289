// Package auth resolves request credentials to a user principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"freshcheck/internal/domain"
	"freshcheck/internal/repo"
)

const (
	SourceJWT    = "jwt"
	SourceAPIKey = "api_key"
)

// Principal is the authenticated caller. Every data operation is scoped to UserID.
type Principal struct {
	UserID string
	Source string
}

// Service issues and verifies bearer tokens and API keys.
type Service struct {
	Repo     repo.Repo
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func unauthenticated(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, reason)
}

// IssueToken signs an HS256 token whose subject is the user id.
func (s Service) IssueToken(userID string) (string, time.Time, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Issuer:    s.Issuer,
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyToken validates a bearer token and returns its principal.
func (s Service) VerifyToken(token string) (Principal, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Principal{}, unauthenticated("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	if s.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return Principal{}, unauthenticated(err.Error())
	}
	if !parsed.Valid {
		return Principal{}, unauthenticated("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, unauthenticated("subject claim required")
	}
	return Principal{UserID: claims.Subject, Source: SourceJWT}, nil
}

// VerifyAPIKey resolves a raw API key to its owner.
func (s Service) VerifyAPIKey(ctx context.Context, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, unauthenticated("api key required")
	}
	apiKey, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, unauthenticated("unknown api key")
	}
	if err != nil {
		return Principal{}, err
	}
	if apiKey.UserID == "" {
		return Principal{}, unauthenticated("api key missing user")
	}
	return Principal{UserID: apiKey.UserID, Source: SourceAPIKey}, nil
}
