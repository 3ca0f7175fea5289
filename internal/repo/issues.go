package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"freshcheck/internal/domain"
)

// The displayed assignee follows the writer roster when the issue links a writer.
var issueColumns = []string{
	"i.id", "i.description", "i.flagged_text", "i.reasoning", "i.context_excerpt", "i.status",
	"COALESCE(w.name, i.assigned_to)", "i.assigned_writer_id", "i.assigned_at", "i.completed_at",
	"i.google_doc_url", "i.due_date", "i.sources_json",
}

// IssueRef locates an issue inside a run.
type IssueRef struct {
	RunID          string
	URL            string
	PageTitle      string
	ResultPosition int
	Issue          domain.Issue
}

// issueRow holds the scan targets for issueColumns.
type issueRow struct {
	issue                                     domain.Issue
	excerpt, assignedTo, writerID, assignedAt sql.NullString
	completedAt, docURL, dueDate, sources     sql.NullString
}

func (row *issueRow) dest(prefix ...any) []any {
	return append(prefix, &row.issue.ID, &row.issue.Description, &row.issue.FlaggedText, &row.issue.Reasoning,
		&row.excerpt, &row.issue.Status, &row.assignedTo, &row.writerID, &row.assignedAt, &row.completedAt,
		&row.docURL, &row.dueDate, &row.sources)
}

func (row *issueRow) value() (domain.Issue, error) {
	issue := row.issue
	issue.ContextExcerpt = ptrFromNull(row.excerpt)
	issue.AssignedTo = ptrFromNull(row.assignedTo)
	issue.AssignedWriterID = ptrFromNull(row.writerID)
	issue.AssignedAt = ptrFromNull(row.assignedAt)
	issue.CompletedAt = ptrFromNull(row.completedAt)
	issue.GoogleDocURL = ptrFromNull(row.docURL)
	issue.DueDate = ptrFromNull(row.dueDate)
	if row.sources.Valid && row.sources.String != "" {
		if err := json.Unmarshal([]byte(row.sources.String), &issue.SuggestedSources); err != nil {
			return issue, fmt.Errorf("decode suggested sources: %w", err)
		}
	}
	return issue, nil
}

func (r Repo) insertIssue(ctx context.Context, q querier, runID, url string, resultPos, pos int, issue domain.Issue) error {
	sources, err := sourcesJSON(issue.SuggestedSources)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO issues(run_id,id,result_position,position,url,description,flagged_text,reasoning,context_excerpt,
status,assigned_to,assigned_writer_id,assigned_at,completed_at,google_doc_url,due_date,sources_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		runID, issue.ID, resultPos, pos, url, issue.Description, issue.FlaggedText, issue.Reasoning,
		nullableStringPtr(issue.ContextExcerpt), issue.Status, nullableStringPtr(issue.AssignedTo),
		nullableStringPtr(issue.AssignedWriterID), nullableStringPtr(issue.AssignedAt), nullableStringPtr(issue.CompletedAt),
		nullableStringPtr(issue.GoogleDocURL), nullableStringPtr(issue.DueDate), sources)
	if err != nil {
		return fmt.Errorf("insert issue %s: %w", issue.ID, err)
	}
	return nil
}

func sourcesJSON(sources []domain.SuggestedSource) (any, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	return marshalJSON(sources)
}

func (r Repo) loadRunIssues(ctx context.Context, tx *sql.Tx, runID string) (map[int][]domain.Issue, error) {
	query, args, err := psql.Select(append([]string{"i.result_position"}, issueColumns...)...).
		From("issues i").
		LeftJoin("writers w ON w.id = i.assigned_writer_id").
		Where(sq.Eq{"i.run_id": runID}).
		OrderBy("i.result_position", "i.position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int][]domain.Issue{}
	for rows.Next() {
		var (
			pos int
			row issueRow
		)
		if err := rows.Scan(row.dest(&pos)...); err != nil {
			return nil, err
		}
		issue, err := row.value()
		if err != nil {
			return nil, err
		}
		res[pos] = append(res[pos], issue)
	}
	return res, rows.Err()
}

// GetIssue resolves an issue of a run owned by userID.
func (r Repo) GetIssue(ctx context.Context, tx *sql.Tx, userID, runID, issueID string) (IssueRef, error) {
	query, args, err := psql.Select(append([]string{"i.run_id", "i.url", "rr.title", "i.result_position"}, issueColumns...)...).
		From("issues i").
		Join("runs r ON r.id = i.run_id").
		Join("run_results rr ON rr.run_id = i.run_id AND rr.position = i.result_position").
		LeftJoin("writers w ON w.id = i.assigned_writer_id").
		Where(sq.Eq{"i.run_id": runID, "i.id": issueID, "r.user_id": userID}).
		ToSql()
	if err != nil {
		return IssueRef{}, err
	}
	var (
		ref IssueRef
		row issueRow
	)
	err = r.q(tx).QueryRowContext(ctx, query, args...).Scan(row.dest(&ref.RunID, &ref.URL, &ref.PageTitle, &ref.ResultPosition)...)
	if err == sql.ErrNoRows {
		return IssueRef{}, ErrNotFound
	}
	if err != nil {
		return IssueRef{}, err
	}
	ref.Issue, err = row.value()
	return ref, err
}

// ResultExists reports whether the run has a result for url.
func (r Repo) ResultExists(ctx context.Context, tx *sql.Tx, runID, url string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM run_results WHERE run_id=? AND url=?`, runID, url).Scan(&n)
	return n > 0, err
}

// SaveIssue persists the mutable ledger fields of an issue.
func (r Repo) SaveIssue(ctx context.Context, tx *sql.Tx, runID string, issue domain.Issue) error {
	sources, err := sourcesJSON(issue.SuggestedSources)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE issues SET status=?, assigned_to=?, assigned_writer_id=?, assigned_at=?, completed_at=?,
google_doc_url=?, due_date=?, sources_json=? WHERE run_id=? AND id=?`,
		issue.Status, nullableStringPtr(issue.AssignedTo), nullableStringPtr(issue.AssignedWriterID),
		nullableStringPtr(issue.AssignedAt), nullableStringPtr(issue.CompletedAt), nullableStringPtr(issue.GoogleDocURL),
		nullableStringPtr(issue.DueDate), sources, runID, issue.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDetectedItems flattens every issue across the user's runs, newest run first.
func (r Repo) ListDetectedItems(ctx context.Context, userID, status string) ([]domain.WorkItem, error) {
	b := psql.Select(append([]string{"i.run_id", "i.url", "rr.title"}, issueColumns...)...).
		From("issues i").
		Join("runs r ON r.id = i.run_id").
		Join("run_results rr ON rr.run_id = i.run_id AND rr.position = i.result_position").
		LeftJoin("writers w ON w.id = i.assigned_writer_id").
		Where(sq.Eq{"r.user_id": userID}).
		OrderBy("r.rowid DESC", "i.result_position", "i.position")
	if status != "" {
		b = b.Where(sq.Eq{"i.status": status})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		var row issueRow
		item := domain.WorkItem{Kind: domain.KindDetected}
		if err := rows.Scan(row.dest(&item.RunID, &item.URL, &item.PageTitle)...); err != nil {
			return nil, err
		}
		issue, err := row.value()
		if err != nil {
			return nil, err
		}
		item.Issue = issue
		res = append(res, item)
	}
	return res, rows.Err()
}
