package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"freshcheck/internal/config"
	"freshcheck/internal/db"
	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
	"freshcheck/internal/engine/auth"
	"freshcheck/internal/migrate"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := auth.Service{Secret: "s3cret", Issuer: "freshcheck", TTL: time.Hour, Now: func() time.Time { return now }}
	token, exp, err := svc.IssueToken("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	p, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != "user-1" || p.Source != auth.SourceJWT {
		t.Fatalf("unexpected principal %+v", p)
	}

	other := svc
	other.Secret = "different"
	if _, err := other.VerifyToken(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for wrong secret, got %v", err)
	}
	later := svc
	later.Now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := later.VerifyToken(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestVerifyAPIKey(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	eng := engine.New(conn, config.Default())
	u, err := eng.CreateUser(ctx, "ops@example.com", "Ops")
	if err != nil {
		t.Fatal(err)
	}
	raw, _, err := eng.CreateAPIKey(ctx, u.ID, "ci")
	if err != nil {
		t.Fatal(err)
	}

	svc := auth.Service{Repo: eng.Repo}
	p, err := svc.VerifyAPIKey(ctx, raw)
	if err != nil || p.UserID != u.ID || p.Source != auth.SourceAPIKey {
		t.Fatalf("unexpected principal %+v err=%v", p, err)
	}
	if _, err := svc.VerifyAPIKey(ctx, raw+"x"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unknown key to be unauthenticated, got %v", err)
	}
}
