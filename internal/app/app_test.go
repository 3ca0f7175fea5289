package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"freshcheck/internal/config"
	"freshcheck/internal/logging"
)

func openTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := Open(t.TempDir(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpenWithoutCredentialsLeavesAnalysisUnconfigured(t *testing.T) {
	a := openTestApp(t, nil)
	if a.Engine.Analyzer != nil {
		t.Fatalf("expected no analyzer without an llm key")
	}
	if a.Engine.Researcher != nil {
		t.Fatalf("expected no researcher without a research key")
	}
	if len(a.Engine.Observers) != 1 {
		t.Fatalf("expected only the stream hub observer, got %d", len(a.Engine.Observers))
	}
}

func TestOpenWiresAnalysisAndMetrics(t *testing.T) {
	a := openTestApp(t, func(cfg *config.Config) {
		cfg.LLM.APIKey = "llm-key"
		cfg.Research.APIKey = "research-key"
		cfg.Metrics.Enabled = true
		cfg.Metrics.Path = "/metrics"
	})
	if a.Engine.Analyzer == nil || a.Engine.Researcher == nil {
		t.Fatalf("expected analyzer and researcher to be wired")
	}
	if len(a.Engine.Observers) != 2 {
		t.Fatalf("expected hub and metrics observers, got %d", len(a.Engine.Observers))
	}

	handler, err := a.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), "freshcheck_runs_started_total") {
		t.Fatalf("metrics output missing run counter:\n%s", body)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.Concurrency = 0
	if _, err := Open(t.TempDir(), cfg, logging.Discard()); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestStartSweeper(t *testing.T) {
	a := openTestApp(t, nil)
	c, err := a.StartSweeper(context.Background())
	if err != nil {
		t.Fatalf("start sweeper: %v", err)
	}
	if c == nil || len(c.Entries()) != 1 {
		t.Fatalf("expected one scheduled sweep")
	}
	c.Stop()

	a.Config.Analysis.SweepSchedule = ""
	c, err = a.StartSweeper(context.Background())
	if err != nil || c != nil {
		t.Fatalf("expected no sweeper for empty schedule, got %v %v", c, err)
	}

	a.Config.Analysis.SweepSchedule = "not a schedule"
	if _, err := a.StartSweeper(context.Background()); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a := openTestApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}
