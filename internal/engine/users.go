package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"freshcheck/internal/domain"
	"freshcheck/internal/repo"
)

// APIKeyPrefix marks raw keys so they are recognisable in logs and configs.
const APIKeyPrefix = "fck_"

// CreateUser registers an account. Emails are stored lowercased and must be unique.
func (e Engine) CreateUser(ctx context.Context, email, name string) (domain.User, error) {
	email, err := cleanEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{ID: uuid.NewString(), Email: email, Name: strings.TrimSpace(name), CreatedAt: e.stamp()}
	if err := e.Repo.InsertUser(ctx, nil, u); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.User{}, domain.ValidationError{Field: "email", Reason: "already registered"}
		}
		return domain.User{}, err
	}
	return u, nil
}

// GetUser resolves a user by id or, when ref contains '@', by email.
func (e Engine) GetUser(ctx context.Context, ref string) (domain.User, error) {
	ref = strings.TrimSpace(ref)
	var (
		u   domain.User
		err error
	)
	if strings.Contains(ref, "@") {
		u, err = e.Repo.GetUserByEmail(ctx, ref)
	} else {
		u, err = e.Repo.GetUser(ctx, ref)
	}
	return u, notFound(err, "user", ref)
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx)
}

// CreateAPIKey mints a key for the user. The raw key is returned once; only its
// hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return "", domain.APIKey{}, notFound(err, "user", userID)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, userID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	return notFound(e.Repo.DeleteAPIKey(ctx, userID, keyID), "api key", keyID)
}
