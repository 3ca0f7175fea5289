package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"freshcheck/internal/domain"
)

const runColumns = `id,user_id,status,url_count,total_issues,urls_json,COALESCE(context_id,''),context_description,
context_entity_types,context_staleness_rules,context_created_at,COALESCE(failure_reason,''),created_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (domain.AnalysisRun, error) {
	var (
		run       domain.AnalysisRun
		urlsJSON  string
		completed sql.NullString
	)
	err := s.Scan(&run.ID, &run.UserID, &run.Status, &run.URLCount, &run.TotalIssues, &urlsJSON,
		&run.DomainContext.ID, &run.DomainContext.Description, &run.DomainContext.EntityTypes,
		&run.DomainContext.StalenessRules, &run.DomainContext.Timestamp, &run.FailureReason,
		&run.Timestamp, &completed)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if err := json.Unmarshal([]byte(urlsJSON), &run.URLs); err != nil {
		return run, fmt.Errorf("decode run urls: %w", err)
	}
	run.CompletedAt = ptrFromNull(completed)
	run.Results = []domain.DetectionResult{}
	return run, nil
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.AnalysisRun) error {
	urls, err := marshalJSON(run.URLs)
	if err != nil {
		return err
	}
	dc := run.DomainContext
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO runs(id,user_id,status,url_count,total_issues,urls_json,context_id,context_description,
context_entity_types,context_staleness_rules,context_created_at,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.UserID, run.Status, run.URLCount, run.TotalIssues, urls, nullable(dc.ID), dc.Description,
		dc.EntityTypes, dc.StalenessRules, dc.Timestamp, run.Timestamp)
	return err
}

// GetRunHeader loads a run without its results. An empty userID matches any owner.
func (r Repo) GetRunHeader(ctx context.Context, tx *sql.Tx, userID, id string) (domain.AnalysisRun, error) {
	b := psql.Select(runColumns).From("runs").Where(sq.Eq{"id": id})
	if userID != "" {
		b = b.Where(sq.Eq{"user_id": userID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return domain.AnalysisRun{}, err
	}
	return scanRun(r.q(tx).QueryRowContext(ctx, query, args...))
}

// GetRun loads a run with its ordered results and issues.
func (r Repo) GetRun(ctx context.Context, tx *sql.Tx, userID, id string) (domain.AnalysisRun, error) {
	run, err := r.GetRunHeader(ctx, tx, userID, id)
	if err != nil {
		return run, err
	}
	results, err := r.loadResults(ctx, tx, id)
	if err != nil {
		return run, err
	}
	issues, err := r.loadRunIssues(ctx, tx, id)
	if err != nil {
		return run, err
	}
	for i := range results {
		if items, ok := issues[i]; ok {
			results[i].Issues = items
		}
	}
	run.Results = results
	return run, nil
}

func (r Repo) loadResults(ctx context.Context, tx *sql.Tx, runID string) ([]domain.DetectionResult, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT url,title,status,issue_count,COALESCE(error,''),COALESCE(meta_description,''),headings_json
FROM run_results WHERE run_id=? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DetectionResult{}
	for rows.Next() {
		var (
			d        domain.DetectionResult
			headings sql.NullString
		)
		if err := rows.Scan(&d.URL, &d.Title, &d.Status, &d.IssueCount, &d.Error, &d.MetaDescription, &headings); err != nil {
			return nil, err
		}
		if headings.Valid && headings.String != "" {
			var h domain.Headings
			if err := json.Unmarshal([]byte(headings.String), &h); err != nil {
				return nil, fmt.Errorf("decode headings: %w", err)
			}
			d.Headings = &h
		}
		d.Issues = []domain.Issue{}
		res = append(res, d)
	}
	return res, rows.Err()
}

// InsertResults writes the ordered results and their issues for a run.
func (r Repo) InsertResults(ctx context.Context, tx *sql.Tx, runID string, results []domain.DetectionResult) error {
	q := r.q(tx)
	for pos, res := range results {
		var headings any
		if res.Headings != nil {
			h, err := marshalJSON(res.Headings)
			if err != nil {
				return err
			}
			headings = h
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO run_results(run_id,position,url,title,status,issue_count,error,meta_description,headings_json)
VALUES (?,?,?,?,?,?,?,?,?)`, runID, pos, res.URL, res.Title, res.Status, res.IssueCount,
			nullable(res.Error), nullable(res.MetaDescription), headings); err != nil {
			return fmt.Errorf("insert result %d: %w", pos, err)
		}
		for ipos, issue := range res.Issues {
			if err := r.insertIssue(ctx, q, runID, res.URL, pos, ipos, issue); err != nil {
				return err
			}
		}
	}
	return nil
}

// FinishRun moves a processing run to a terminal status. It reports false when the
// run was missing or already terminal.
func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, id, status string, totalIssues int, failureReason, completedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE runs SET status=?, total_issues=?, failure_reason=?, completed_at=?
WHERE id=? AND status=?`, status, totalIssues, nullable(failureReason), completedAt, id, domain.RunProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRunSummaries returns the user's runs, newest first.
func (r Repo) ListRunSummaries(ctx context.Context, userID string) ([]domain.RunSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,created_at,url_count,total_issues,status,context_description
FROM runs WHERE user_id=? ORDER BY rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.RunSummary{}
	for rows.Next() {
		var s domain.RunSummary
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.URLCount, &s.TotalIssues, &s.Status, &s.ContextDescription); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListProcessingRuns returns processing runs created strictly before the cutoff.
func (r Repo) ListProcessingRuns(ctx context.Context, createdBefore string) ([]domain.AnalysisRun, error) {
	query, args, err := psql.Select(runColumns).From("runs").
		Where(sq.Eq{"status": domain.RunProcessing}).
		Where(sq.Lt{"created_at": createdBefore}).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRun(ctx context.Context, tx *sql.Tx, userID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM runs WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
