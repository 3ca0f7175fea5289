package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"freshcheck/internal/domain"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be tolerated: %v", err)
	}
}

func TestRunFinished(t *testing.T) {
	failedBefore := testutil.ToFloat64(runsFinishedTotal.WithLabelValues(OutcomeFailed))
	pagesBefore := testutil.ToFloat64(pagesAnalyzedTotal.WithLabelValues(domain.ResultFailed))
	done := "2024-01-01T00:01:00Z"
	Recorder{}.RunFinished(domain.AnalysisRun{
		Status:      domain.RunFailed,
		Timestamp:   "2024-01-01T00:00:00Z",
		CompletedAt: &done,
		Results:     []domain.DetectionResult{{Status: domain.ResultFailed}, {Status: domain.ResultFailed}},
	})
	if got := testutil.ToFloat64(runsFinishedTotal.WithLabelValues(OutcomeFailed)) - failedBefore; got != 1 {
		t.Fatalf("expected failed counter to increase by 1, got %v", got)
	}
	if got := testutil.ToFloat64(pagesAnalyzedTotal.WithLabelValues(domain.ResultFailed)) - pagesBefore; got != 2 {
		t.Fatalf("expected 2 failed pages, got %v", got)
	}
}

func TestRunDuration(t *testing.T) {
	done := "2024-01-01T00:01:30Z"
	run := domain.AnalysisRun{Timestamp: "2024-01-01T00:00:00Z", CompletedAt: &done}
	if got := runDuration(run); got != 90*time.Second {
		t.Fatalf("unexpected duration %s", got)
	}
	run.CompletedAt = nil
	if got := runDuration(run); got != 0 {
		t.Fatalf("expected zero duration for open run, got %s", got)
	}
}
