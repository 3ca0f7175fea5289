package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"freshcheck/internal/analysis"
	"freshcheck/internal/config"
	"freshcheck/internal/domain"
	"freshcheck/internal/events"
	"freshcheck/internal/logging"
	"freshcheck/internal/repo"
)

// Observer is notified after run and ledger changes commit.
type Observer interface {
	RunStarted(run domain.AnalysisRun)
	RunFinished(run domain.AnalysisRun)
	IssueUpdated(kind string, issue domain.Issue)
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Now        func() time.Time
	Analyzer   analysis.Analyzer
	Researcher analysis.Researcher
	Logger     *slog.Logger
	Observers  []Observer

	inflight *sync.WaitGroup
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Logger:   logging.Discard(),
		inflight: &sync.WaitGroup{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// Wait blocks until in-flight analyses finish or ctx is done.
func (e Engine) Wait(ctx context.Context) error {
	if e.inflight == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e Engine) notify(fn func(Observer)) {
	for _, o := range e.Observers {
		fn(o)
	}
}

// notFound translates the repo sentinel into a typed domain error.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
