// Package app wires config, storage, analysis collaborators and observers into a
// ready engine for the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"freshcheck/internal/analysis"
	"freshcheck/internal/config"
	"freshcheck/internal/db"
	"freshcheck/internal/engine"
	"freshcheck/internal/engine/auth"
	"freshcheck/internal/logging"
	"freshcheck/internal/migrate"
	"freshcheck/internal/server"
)

// App holds one open workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Auth      auth.Service
	Hub       *server.Hub
	Registry  *prometheus.Registry
	Logger    *slog.Logger
}

// Open opens and migrates the workspace database and builds the engine. A nil cfg uses
// the defaults; a nil logger is built from cfg.Logging.
func Open(workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Logger = logger
	if a := NewAnalyzer(cfg, logger); a != nil {
		e.Analyzer = a
	}
	if r := NewResearcher(cfg, logger); r != nil {
		e.Researcher = r
	}

	hub := server.NewHub()
	reg := prometheus.NewRegistry()
	e.Observers = []engine.Observer{hub}
	if cfg.Metrics.Enabled {
		if err := metricsObserver(reg, &e); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Auth: auth.Service{
			Repo:     e.Repo,
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			TTL:      cfg.Auth.TokenTTL,
		},
		Hub:      hub,
		Registry: reg,
		Logger:   logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// NewAnalyzer returns the fetch and detect pipeline, or nil when the LLM endpoint or key
// is missing. Runs started without an analyzer fail as unavailable.
func NewAnalyzer(cfg *config.Config, logger *slog.Logger) analysis.Analyzer {
	if !llmConfigured(cfg) {
		return nil
	}
	chat := analysis.NewChatClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.Timeout)
	return analysis.Pipeline{
		Extractor: analysis.NewHTMLExtractor(&http.Client{Timeout: cfg.Analysis.FetchTimeout}, cfg.Analysis.UserAgent),
		Detector: analysis.LLMDetector{
			Chat:     chat,
			MaxChars: cfg.Analysis.MaxContentChars,
		},
		Concurrency: cfg.Analysis.Concurrency,
		Logger:      logger,
	}
}

// NewResearcher returns the source researcher, or nil when research is not configured.
// Query generation falls back to the flagged text when the LLM is not configured.
func NewResearcher(cfg *config.Config, logger *slog.Logger) analysis.Researcher {
	if strings.TrimSpace(cfg.Research.Endpoint) == "" || strings.TrimSpace(cfg.Research.APIKey) == "" {
		return nil
	}
	r := analysis.LLMResearcher{
		Search:     analysis.NewChatClient(cfg.Research.Endpoint, cfg.Research.Model, cfg.Research.APIKey, cfg.Research.Timeout),
		MaxSources: cfg.Research.MaxSources,
		Logger:     logger,
	}
	if llmConfigured(cfg) {
		r.Query = analysis.NewChatClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.Timeout)
	}
	return r
}

func llmConfigured(cfg *config.Config) bool {
	return strings.TrimSpace(cfg.LLM.Endpoint) != "" && strings.TrimSpace(cfg.LLM.APIKey) != ""
}

// Handler builds the HTTP API for this workspace.
func (a *App) Handler() (http.Handler, error) {
	cfg := server.Config{
		Engine:   a.Engine,
		Auth:     a.Auth,
		BasePath: a.Config.Server.BasePath,
		DevLogin: a.Config.Auth.DevLogin,
		Hub:      a.Hub,
		Logger:   a.Logger,
	}
	if a.Config.Metrics.Enabled {
		cfg.Metrics = a.Registry
		cfg.MetricsPath = a.Config.Metrics.Path
	}
	return server.New(cfg)
}

// StartSweeper schedules SweepStuckRuns on cfg.Analysis.SweepSchedule. The returned
// cron is already running; an empty schedule returns nil.
func (a *App) StartSweeper(ctx context.Context) (*cron.Cron, error) {
	schedule := strings.TrimSpace(a.Config.Analysis.SweepSchedule)
	if schedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		swept, err := a.Engine.SweepStuckRuns(ctx)
		if err != nil {
			a.Logger.Warn("sweep failed", "err", err)
			return
		}
		if len(swept) > 0 {
			a.Logger.Info("sweep failed stuck runs", "runs", swept)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// Serve runs the API, the sweeper and the webhook dispatcher until ctx is done, then
// drains requests and in-flight analyses within the shutdown timeout.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	sweeper, err := a.StartSweeper(ctx)
	if err != nil {
		return err
	}
	if sweeper != nil {
		defer sweeper.Stop()
	}

	hookCtx, stopHooks := context.WithCancel(ctx)
	defer stopHooks()
	go server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, a.Logger).Run(hookCtx)

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("serving", "addr", addr, "base_path", a.Config.Server.BasePath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http shutdown", "err", err)
	}
	if err := a.Engine.Wait(shutdownCtx); err != nil {
		a.Logger.Warn("analyses still running at shutdown", "err", err)
	}
	return nil
}
