package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"freshcheck/internal/domain"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	runsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "freshcheck",
			Name:      "runs_started_total",
			Help:      "Analysis runs accepted for processing.",
		},
	)

	runsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freshcheck",
			Name:      "runs_finished_total",
			Help:      "Analysis runs that reached a terminal status, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "freshcheck",
			Name:      "run_seconds",
			Help:      "Time from run start to terminal status in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	pagesAnalyzedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freshcheck",
			Name:      "pages_analyzed_total",
			Help:      "Per-URL analysis results, partitioned by result status.",
		},
		[]string{"status"},
	)

	issuesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "freshcheck",
			Name:      "issues_detected_total",
			Help:      "Issues recorded by completed runs.",
		},
	)

	issueUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freshcheck",
			Name:      "issue_updates_total",
			Help:      "Ledger updates, partitioned by item kind and resulting status.",
		},
		[]string{"kind", "status"},
	)
)

// Register attaches freshcheck collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsStartedTotal,
		runsFinishedTotal,
		runDurationSeconds,
		pagesAnalyzedTotal,
		issuesDetectedTotal,
		issueUpdatesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Recorder observes engine lifecycle events. The zero value records into the package collectors.
type Recorder struct{}

func (Recorder) RunStarted(domain.AnalysisRun) {
	runsStartedTotal.Inc()
}

// RunFinished records a terminal run with its duration and result breakdown.
func (Recorder) RunFinished(run domain.AnalysisRun) {
	label := OutcomeFailed
	if run.Status == domain.RunCompleted {
		label = OutcomeCompleted
	}
	runsFinishedTotal.WithLabelValues(label).Inc()
	runDurationSeconds.Observe(runDuration(run).Seconds())
	for _, res := range run.Results {
		pagesAnalyzedTotal.WithLabelValues(res.Status).Inc()
	}
	if run.TotalIssues > 0 {
		issuesDetectedTotal.Add(float64(run.TotalIssues))
	}
}

func (Recorder) IssueUpdated(kind string, issue domain.Issue) {
	issueUpdatesTotal.WithLabelValues(kind, issue.Status).Inc()
}

func runDuration(run domain.AnalysisRun) time.Duration {
	if run.CompletedAt == nil {
		return 0
	}
	start, err := time.Parse(time.RFC3339, run.Timestamp)
	if err != nil {
		return 0
	}
	end, err := time.Parse(time.RFC3339, *run.CompletedAt)
	if err != nil || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
