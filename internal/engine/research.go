package engine

import (
	"context"
	"fmt"
	"strings"

	"freshcheck/internal/analysis"
	"freshcheck/internal/domain"
	"freshcheck/internal/events"
)

// ResearchIssue asks the research service for replacement sources. Nothing is stored;
// candidates come back unaccepted.
func (e Engine) ResearchIssue(ctx context.Context, userID, runID, issueID string) ([]domain.SuggestedSource, error) {
	run, err := e.Repo.GetRunHeader(ctx, nil, userID, runID)
	if err != nil {
		return nil, notFound(err, "run", runID)
	}
	ref, err := e.Repo.GetIssue(ctx, nil, userID, runID, issueID)
	if err != nil {
		return nil, notFound(err, "issue", issueID)
	}
	if e.Researcher == nil {
		return nil, fmt.Errorf("research: %w", analysis.ErrNotConfigured)
	}
	sources, err := e.Researcher.Research(ctx, ref.Issue, run.DomainContext)
	if err != nil {
		e.log().Warn("research failed", "run_id", runID, "issue_id", issueID, "err", err)
		return nil, fmt.Errorf("research: %w", err)
	}
	for i := range sources {
		sources[i].IsAccepted = false
	}
	if sources == nil {
		sources = []domain.SuggestedSource{}
	}
	return sources, nil
}

// SaveSources replaces the issue's suggested sources with the accepted subset.
func (e Engine) SaveSources(ctx context.Context, userID, runID, issueID string, sources []domain.SuggestedSource) (domain.Issue, error) {
	accepted := make([]domain.SuggestedSource, 0, len(sources))
	for i, s := range sources {
		if !s.IsAccepted {
			continue
		}
		s.URL = strings.TrimSpace(s.URL)
		if !validAbsoluteURL(s.URL) {
			return domain.Issue{}, domain.ValidationError{Field: fmt.Sprintf("sources[%d].url", i), Reason: "must be an absolute http(s) url"}
		}
		accepted = append(accepted, s)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	ref, err := e.Repo.GetIssue(ctx, tx, userID, runID, issueID)
	if err != nil {
		return domain.Issue{}, notFound(err, "issue", issueID)
	}
	issue := ref.Issue
	issue.SuggestedSources = accepted
	if err := e.Repo.SaveIssue(ctx, tx, runID, issue); err != nil {
		return domain.Issue{}, notFound(err, "issue", issueID)
	}
	if err := e.Events.Append(ctx, tx, events.SourcesSaved, userID, "issue", issueID, events.EventPayload{
		"runId": runID, "count": len(accepted),
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}
