package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"freshcheck/internal/analysis"
	"freshcheck/internal/domain"
	"freshcheck/internal/events"
	"freshcheck/internal/ledger"
)

const (
	reasonTimedOut    = "analysis timed out"
	reasonUnavailable = "analysis service unavailable"
)

// DomainContextInput is the user-supplied description of a batch.
type DomainContextInput struct {
	Description    string `json:"description"`
	EntityTypes    string `json:"entityTypes"`
	StalenessRules string `json:"stalenessRules"`
}

// RunHandle is returned by StartRun; callers poll or subscribe with RunID.
type RunHandle struct {
	RunID    string `json:"runId"`
	Status   string `json:"status"`
	URLCount int    `json:"urlCount"`
}

func (in DomainContextInput) validate() (DomainContextInput, error) {
	out := DomainContextInput{
		Description:    strings.TrimSpace(in.Description),
		EntityTypes:    strings.TrimSpace(in.EntityTypes),
		StalenessRules: strings.TrimSpace(in.StalenessRules),
	}
	switch {
	case out.Description == "":
		return out, domain.ValidationError{Field: "description", Reason: "required"}
	case out.EntityTypes == "":
		return out, domain.ValidationError{Field: "entityTypes", Reason: "required"}
	case out.StalenessRules == "":
		return out, domain.ValidationError{Field: "stalenessRules", Reason: "required"}
	}
	return out, nil
}

func normalizeURLs(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, domain.ValidationError{Field: "urls", Reason: "at least one url is required"}
	}
	if len(urls) > domain.MaxRunURLs {
		return nil, domain.ValidationError{Field: "urls", Reason: fmt.Sprintf("at most %d urls per run", domain.MaxRunURLs)}
	}
	out := make([]string, 0, len(urls))
	for i, raw := range urls {
		u := strings.TrimSpace(raw)
		if !validAbsoluteURL(u) {
			return nil, domain.ValidationError{Field: fmt.Sprintf("urls[%d]", i), Reason: "must be an absolute http(s) url"}
		}
		out = append(out, u)
	}
	return out, nil
}

// StartRun validates the submission, stores the context and a processing run, and
// starts analysis in the background. It does not wait for the analysis.
func (e Engine) StartRun(ctx context.Context, userID string, urls []string, in DomainContextInput) (RunHandle, error) {
	normalized, err := normalizeURLs(urls)
	if err != nil {
		return RunHandle{}, err
	}
	dcIn, err := in.validate()
	if err != nil {
		return RunHandle{}, err
	}
	now := e.stamp()
	dc := domain.DomainContext{
		ID:             uuid.NewString(),
		Description:    dcIn.Description,
		EntityTypes:    dcIn.EntityTypes,
		StalenessRules: dcIn.StalenessRules,
		Timestamp:      now,
	}
	run := domain.AnalysisRun{
		ID:            uuid.NewString(),
		UserID:        userID,
		Timestamp:     now,
		URLCount:      len(normalized),
		Status:        domain.RunProcessing,
		DomainContext: dc,
		URLs:          normalized,
		Results:       []domain.DetectionResult{},
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RunHandle{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertContext(ctx, tx, userID, dc, domain.MaxRecentContexts); err != nil {
		return RunHandle{}, fmt.Errorf("insert context: %w", err)
	}
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return RunHandle{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RunStarted, userID, "run", run.ID, events.EventPayload{"urlCount": run.URLCount}); err != nil {
		return RunHandle{}, err
	}
	if err := tx.Commit(); err != nil {
		return RunHandle{}, err
	}

	e.log().Info("run started", "run_id", run.ID, "user_id", userID, "url_count", run.URLCount)
	e.notify(func(o Observer) { o.RunStarted(run) })
	e.launch(run)
	return RunHandle{RunID: run.ID, Status: run.Status, URLCount: run.URLCount}, nil
}

func (e Engine) maxRunDuration() time.Duration {
	if d := e.config().Analysis.MaxRunDuration; d > 0 {
		return d
	}
	return 10 * time.Minute
}

func (e Engine) launch(run domain.AnalysisRun) {
	if e.inflight != nil {
		e.inflight.Add(1)
	}
	go func() {
		if e.inflight != nil {
			defer e.inflight.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.maxRunDuration())
		defer cancel()
		e.analyze(ctx, run)
	}()
}

// analyze runs the collaborator and records the outcome. Persistence uses its own
// context so a run that hit its deadline can still be marked failed.
func (e Engine) analyze(ctx context.Context, run domain.AnalysisRun) {
	log := e.log().With("run_id", run.ID)
	results, err := e.runAnalyzer(ctx, run)

	pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err != nil {
		reason := "analysis failed: " + err.Error()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = reasonTimedOut
		case errors.Is(err, analysis.ErrNotConfigured):
			reason = reasonUnavailable
		}
		log.Warn("analysis failed", "err", err)
		err = e.FailRun(pctx, run.ID, reason)
	} else {
		_, err = e.CompleteRun(pctx, run.ID, results)
	}
	var nf domain.NotFoundError
	switch {
	case err == nil:
	case errors.As(err, &nf):
		log.Info("run deleted before analysis finished; results dropped")
	case errors.Is(err, domain.ErrRunTerminal):
		log.Info("run already finished; results dropped")
	default:
		log.Error("record analysis outcome", "err", err)
	}
}

func (e Engine) runAnalyzer(ctx context.Context, run domain.AnalysisRun) (results []domain.DetectionResult, err error) {
	if e.Analyzer == nil {
		return nil, fmt.Errorf("no analyzer: %w", analysis.ErrNotConfigured)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return e.Analyzer.Analyze(ctx, run.URLs, run.DomainContext)
}

// CompleteRun merges collaborator results into a processing run. Results must match
// the submitted URLs one to one and in order.
func (e Engine) CompleteRun(ctx context.Context, runID string, results []domain.DetectionResult) (domain.AnalysisRun, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AnalysisRun{}, err
	}
	defer tx.Rollback()

	run, err := e.Repo.GetRunHeader(ctx, tx, "", runID)
	if err != nil {
		return domain.AnalysisRun{}, notFound(err, "run", runID)
	}
	if run.Terminal() {
		return domain.AnalysisRun{}, domain.ErrRunTerminal
	}
	normalized, total, err := normalizeResults(run, results)
	if err != nil {
		return domain.AnalysisRun{}, err
	}
	completedAt := e.stamp()
	ok, err := e.Repo.FinishRun(ctx, tx, runID, domain.RunCompleted, total, "", completedAt)
	if err != nil {
		return domain.AnalysisRun{}, fmt.Errorf("finish run: %w", err)
	}
	if !ok {
		return domain.AnalysisRun{}, domain.ErrRunTerminal
	}
	if err := e.Repo.InsertResults(ctx, tx, runID, normalized); err != nil {
		return domain.AnalysisRun{}, err
	}
	if err := e.Events.Append(ctx, tx, events.RunCompleted, run.UserID, "run", runID, events.EventPayload{
		"status": domain.RunCompleted, "urlCount": run.URLCount, "totalIssues": total,
	}); err != nil {
		return domain.AnalysisRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AnalysisRun{}, err
	}

	run.Status = domain.RunCompleted
	run.TotalIssues = total
	run.CompletedAt = &completedAt
	run.Results = normalized
	e.log().Info("run completed", "run_id", runID, "total_issues", total)
	e.notify(func(o Observer) { o.RunFinished(run) })
	return run, nil
}

// normalizeResults enforces result order, issue ids and counts.
func normalizeResults(run domain.AnalysisRun, results []domain.DetectionResult) ([]domain.DetectionResult, int, error) {
	if len(results) != run.URLCount {
		return nil, 0, domain.ValidationError{Field: "results", Reason: fmt.Sprintf("expected %d results, got %d", run.URLCount, len(results))}
	}
	seen := map[string]bool{}
	out := make([]domain.DetectionResult, len(results))
	total := 0
	for i, res := range results {
		if i < len(run.URLs) && strings.TrimSpace(res.URL) != run.URLs[i] {
			return nil, 0, domain.ValidationError{Field: fmt.Sprintf("results[%d].url", i), Reason: "does not match submitted url order"}
		}
		res.URL = strings.TrimSpace(res.URL)
		switch res.Status {
		case domain.ResultSuccess:
		case domain.ResultFailed:
			res.Issues = nil
		default:
			return nil, 0, domain.ValidationError{Field: fmt.Sprintf("results[%d].status", i), Reason: "must be success or failed"}
		}
		issues := make([]domain.Issue, 0, len(res.Issues))
		for _, issue := range res.Issues {
			issue = ledger.NormalizeDetected(issue)
			if issue.ID == "" || seen[issue.ID] {
				issue.ID = analysis.NewIssueID()
			}
			seen[issue.ID] = true
			issues = append(issues, issue)
		}
		res.Issues = issues
		res.IssueCount = len(issues)
		total += res.IssueCount
		out[i] = res
	}
	return out, total, nil
}

// FailRun moves a processing run to failed with no results.
func (e Engine) FailRun(ctx context.Context, runID, reason string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	run, err := e.Repo.GetRunHeader(ctx, tx, "", runID)
	if err != nil {
		return notFound(err, "run", runID)
	}
	if run.Terminal() {
		return domain.ErrRunTerminal
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "analysis failed"
	}
	completedAt := e.stamp()
	ok, err := e.Repo.FinishRun(ctx, tx, runID, domain.RunFailed, 0, reason, completedAt)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if !ok {
		return domain.ErrRunTerminal
	}
	if err := e.Events.Append(ctx, tx, events.RunFailed, run.UserID, "run", runID, events.EventPayload{
		"status": domain.RunFailed, "reason": reason,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	run.Status = domain.RunFailed
	run.FailureReason = reason
	run.CompletedAt = &completedAt
	e.log().Warn("run failed", "run_id", runID, "reason", reason)
	e.notify(func(o Observer) { o.RunFinished(run) })
	return nil
}

func (e Engine) GetRun(ctx context.Context, userID, runID string) (domain.AnalysisRun, error) {
	run, err := e.Repo.GetRun(ctx, nil, userID, runID)
	if err != nil {
		return domain.AnalysisRun{}, notFound(err, "run", runID)
	}
	return run, nil
}

// ListRuns returns the user's run summaries, newest first.
func (e Engine) ListRuns(ctx context.Context, userID string) ([]domain.RunSummary, error) {
	return e.Repo.ListRunSummaries(ctx, userID)
}

// DeleteRun removes a run with its results and issues. A pending analysis for it
// is discarded when it finishes.
func (e Engine) DeleteRun(ctx context.Context, userID, runID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRun(ctx, tx, userID, runID); err != nil {
		return notFound(err, "run", runID)
	}
	if err := e.Events.Append(ctx, tx, events.RunDeleted, userID, "run", runID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SweepStuckRuns fails runs still processing after the configured maximum duration.
// It returns the ids it failed.
func (e Engine) SweepStuckRuns(ctx context.Context) ([]string, error) {
	cutoff := e.now().Add(-e.maxRunDuration()).UTC().Format(time.RFC3339)
	stuck, err := e.Repo.ListProcessingRuns(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var swept []string
	for _, run := range stuck {
		err := e.FailRun(ctx, run.ID, reasonTimedOut)
		var nf domain.NotFoundError
		switch {
		case err == nil:
			swept = append(swept, run.ID)
		case errors.Is(err, domain.ErrRunTerminal), errors.As(err, &nf):
		default:
			return swept, err
		}
	}
	if len(swept) > 0 {
		e.log().Info("swept stuck runs", "count", len(swept))
	}
	return swept, nil
}
