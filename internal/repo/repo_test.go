package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"freshcheck/internal/db"
	"freshcheck/internal/domain"
	"freshcheck/internal/migrate"
	"freshcheck/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	if err := r.InsertUser(ctx, nil, domain.User{ID: "u1", Email: "owner@example.com", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return r, ctx
}

func TestContextRecencyCap(t *testing.T) {
	r, ctx := newTestRepo(t)
	for i := 0; i < 7; i++ {
		c := domain.DomainContext{
			ID:             fmt.Sprintf("ctx-%d", i),
			Description:    "Mortgage rates",
			EntityTypes:    "rates",
			StalenessRules: "older than 6 months",
			Timestamp:      "2024-01-01T00:00:00Z",
		}
		if err := r.InsertContext(ctx, nil, "u1", c, domain.MaxRecentContexts); err != nil {
			t.Fatalf("insert context %d: %v", i, err)
		}
	}
	items, err := r.ListContexts(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list contexts: %v", err)
	}
	if len(items) != domain.MaxRecentContexts {
		t.Fatalf("expected %d contexts, got %d", domain.MaxRecentContexts, len(items))
	}
	if items[0].ID != "ctx-6" || items[4].ID != "ctx-2" {
		t.Fatalf("unexpected order: first=%s last=%s", items[0].ID, items[4].ID)
	}
}

func TestFinishRunOnlyOnce(t *testing.T) {
	r, ctx := newTestRepo(t)
	run := domain.AnalysisRun{
		ID: "run-1", UserID: "u1", Status: domain.RunProcessing, URLCount: 1, URLs: []string{"https://a.test"},
		Timestamp:     "2024-01-01T00:00:00Z",
		DomainContext: domain.DomainContext{Description: "d", EntityTypes: "e", StalenessRules: "s", Timestamp: "2024-01-01T00:00:00Z"},
	}
	if err := r.InsertRun(ctx, nil, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	ok, err := r.FinishRun(ctx, nil, "run-1", domain.RunFailed, 0, "boom", "2024-01-01T00:01:00Z")
	if err != nil || !ok {
		t.Fatalf("first finish: ok=%v err=%v", ok, err)
	}
	ok, err = r.FinishRun(ctx, nil, "run-1", domain.RunCompleted, 3, "", "2024-01-01T00:02:00Z")
	if err != nil || ok {
		t.Fatalf("second finish should be ignored: ok=%v err=%v", ok, err)
	}
	got, err := r.GetRun(ctx, nil, "u1", "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunFailed || got.FailureReason != "boom" || got.TotalIssues != 0 {
		t.Fatalf("unexpected run state: %+v", got)
	}
	if _, err := r.GetRun(ctx, nil, "someone-else", "run-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
}

func TestWriterRenameFollowsIssues(t *testing.T) {
	r, ctx := newTestRepo(t)
	if err := r.InsertWriter(ctx, nil, "u1", domain.Writer{ID: "w1", Name: "Sarah", Email: "sarah@example.com", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert writer: %v", err)
	}
	writerID := "w1"
	assignee := "Sarah"
	task := domain.ManualTask{
		ID: "task-1", UserID: "u1", Title: "Refresh rates page", Status: domain.IssueAssigned,
		AssignedTo: assignee, AssignedWriterID: &writerID, CreatedAt: "2024-01-01T00:00:00Z",
	}
	if err := r.InsertTask(ctx, nil, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	name := "Sarah Connor"
	if err := r.UpdateWriter(ctx, nil, "u1", "w1", &name, nil); err != nil {
		t.Fatalf("rename writer: %v", err)
	}
	got, err := r.GetTask(ctx, nil, "u1", "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.AssignedTo != name {
		t.Fatalf("expected renamed assignee, got %q", got.AssignedTo)
	}
	if err := r.DeleteWriter(ctx, nil, "u1", "w1"); err != nil {
		t.Fatalf("delete writer: %v", err)
	}
	got, err = r.GetTask(ctx, nil, "u1", "task-1")
	if err != nil {
		t.Fatalf("get task after delete: %v", err)
	}
	if got.AssignedWriterID != nil || got.AssignedTo != name {
		t.Fatalf("expected detached task keeping name, got %+v", got)
	}
}
