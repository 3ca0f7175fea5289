package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"freshcheck/internal/domain"
	"freshcheck/internal/events"
	"freshcheck/internal/ledger"
	"freshcheck/internal/repo"
)

// ManualTaskPageTitle labels manual tasks in the unified ledger.
const ManualTaskPageTitle = "Manual Task"

// ManualTaskInput creates a writer-directed task. WriterID wins over WriterName.
type ManualTaskInput struct {
	Title        string
	WriterID     string
	WriterName   string
	GoogleDocURL string
	DueDate      string
}

func validatePatch(p domain.IssuePatch) error {
	if p.GoogleDocURL != nil {
		if v := strings.TrimSpace(*p.GoogleDocURL); v != "" && !validAbsoluteURL(v) {
			return domain.ValidationError{Field: "googleDocUrl", Reason: "must be an absolute http(s) url"}
		}
	}
	if p.DueDate != nil {
		if v := strings.TrimSpace(*p.DueDate); v != "" && !validDate(v) {
			return domain.ValidationError{Field: "dueDate", Reason: "must be YYYY-MM-DD or RFC3339"}
		}
	}
	return nil
}

func validDate(v string) bool {
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, v)
	return err == nil
}

// resolveAssignee links the patch to the user's writer roster. An explicit writer id
// must exist; a free-text name is linked when it matches a writer exactly.
func (e Engine) resolveAssignee(ctx context.Context, tx *sql.Tx, userID string, p domain.IssuePatch) (domain.IssuePatch, error) {
	if p.AssignedWriterID != nil {
		id := strings.TrimSpace(*p.AssignedWriterID)
		if id == "" {
			return p, nil
		}
		w, err := e.Repo.GetWriter(ctx, tx, userID, id)
		if err != nil {
			return p, notFound(err, "writer", id)
		}
		name := w.Name
		p.AssignedWriterID = &id
		p.AssignedTo = &name
		return p, nil
	}
	if p.AssignedTo == nil {
		return p, nil
	}
	name := strings.TrimSpace(*p.AssignedTo)
	unlinked := ""
	if name == "" {
		p.AssignedWriterID = &unlinked
		return p, nil
	}
	w, err := e.Repo.GetWriterByName(ctx, tx, userID, name)
	switch {
	case err == nil:
		p.AssignedWriterID = &w.ID
	case errors.Is(err, repo.ErrNotFound):
		p.AssignedWriterID = &unlinked
	default:
		return p, err
	}
	return p, nil
}

// UpdateIssue patches a detected issue. An empty url matches any result of the run.
func (e Engine) UpdateIssue(ctx context.Context, userID, runID, url, issueID string, patch domain.IssuePatch) (domain.Issue, error) {
	if err := validatePatch(patch); err != nil {
		return domain.Issue{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetRunHeader(ctx, tx, userID, runID); err != nil {
		return domain.Issue{}, notFound(err, "run", runID)
	}
	url = strings.TrimSpace(url)
	if url != "" {
		ok, err := e.Repo.ResultExists(ctx, tx, runID, url)
		if err != nil {
			return domain.Issue{}, err
		}
		if !ok {
			return domain.Issue{}, domain.NotFoundError{Kind: "result", ID: url}
		}
	}
	ref, err := e.Repo.GetIssue(ctx, tx, userID, runID, issueID)
	if err != nil {
		return domain.Issue{}, notFound(err, "issue", issueID)
	}
	if url != "" && ref.URL != url {
		return domain.Issue{}, domain.NotFoundError{Kind: "issue", ID: issueID}
	}
	patch, err = e.resolveAssignee(ctx, tx, userID, patch)
	if err != nil {
		return domain.Issue{}, err
	}
	updated, err := ledger.Apply(ref.Issue, patch, e.now())
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.Repo.SaveIssue(ctx, tx, runID, updated); err != nil {
		return domain.Issue{}, notFound(err, "issue", issueID)
	}
	if err := e.Events.Append(ctx, tx, events.IssueUpdated, userID, "issue", issueID, issuePayload(runID, ref.Issue.Status, updated)); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.notify(func(o Observer) { o.IssueUpdated(domain.KindDetected, updated) })
	return updated, nil
}

func issuePayload(runID, from string, issue domain.Issue) events.EventPayload {
	payload := events.EventPayload{"from": from, "status": issue.Status}
	if runID != "" {
		payload["runId"] = runID
	}
	if issue.AssignedTo != nil {
		payload["assignedTo"] = *issue.AssignedTo
	}
	return payload
}

// ListIssues returns detected issues (newest run first) followed by manual tasks.
func (e Engine) ListIssues(ctx context.Context, userID, status string) ([]domain.WorkItem, error) {
	status = strings.TrimSpace(status)
	if status != "" && !ledger.ValidStatus(status) {
		return nil, domain.ValidationError{Field: "status", Reason: "must be one of open, assigned, completed"}
	}
	items, err := e.Repo.ListDetectedItems(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkItem, 0, len(items)+len(tasks))
	out = append(out, items...)
	for _, t := range tasks {
		out = append(out, domain.WorkItem{Kind: domain.KindManual, PageTitle: ManualTaskPageTitle, Issue: t.AsIssue()})
	}
	return out, nil
}

// CreateManualTask stores a task already assigned to a writer.
func (e Engine) CreateManualTask(ctx context.Context, userID string, in ManualTaskInput) (domain.Issue, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Issue{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if err := validatePatch(domain.IssuePatch{GoogleDocURL: &in.GoogleDocURL, DueDate: &in.DueDate}); err != nil {
		return domain.Issue{}, err
	}
	patch := domain.IssuePatch{}
	switch {
	case strings.TrimSpace(in.WriterID) != "":
		patch.AssignedWriterID = &in.WriterID
	case strings.TrimSpace(in.WriterName) != "":
		patch.AssignedTo = &in.WriterName
	default:
		return domain.Issue{}, domain.ValidationError{Field: "assignedTo", Reason: "writerId or writerName is required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	patch, err = e.resolveAssignee(ctx, tx, userID, patch)
	if err != nil {
		return domain.Issue{}, err
	}
	now := e.stamp()
	task := domain.ManualTask{
		ID:               "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		UserID:           userID,
		Title:            title,
		Status:           domain.IssueAssigned,
		AssignedTo:       strings.TrimSpace(*patch.AssignedTo),
		AssignedWriterID: optionalString(deref(patch.AssignedWriterID)),
		AssignedAt:       &now,
		GoogleDocURL:     optionalString(in.GoogleDocURL),
		DueDate:          optionalString(in.DueDate),
		CreatedAt:        now,
	}
	if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, userID, "task", task.ID, events.EventPayload{
		"title": task.Title, "assignedTo": task.AssignedTo,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	issue := task.AsIssue()
	e.notify(func(o Observer) { o.IssueUpdated(domain.KindManual, issue) })
	return issue, nil
}

// UpdateManualTask applies the ledger rules to a manual task.
func (e Engine) UpdateManualTask(ctx context.Context, userID, taskID string, patch domain.IssuePatch) (domain.Issue, error) {
	if err := validatePatch(patch); err != nil {
		return domain.Issue{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTask(ctx, tx, userID, taskID)
	if err != nil {
		return domain.Issue{}, notFound(err, "task", taskID)
	}
	patch, err = e.resolveAssignee(ctx, tx, userID, patch)
	if err != nil {
		return domain.Issue{}, err
	}
	from := task.Status
	updated, err := ledger.Apply(task.AsIssue(), patch, e.now())
	if err != nil {
		return domain.Issue{}, err
	}
	task.Status = updated.Status
	task.AssignedTo = deref(updated.AssignedTo)
	task.AssignedWriterID = updated.AssignedWriterID
	task.AssignedAt = updated.AssignedAt
	task.CompletedAt = updated.CompletedAt
	task.GoogleDocURL = updated.GoogleDocURL
	task.DueDate = updated.DueDate
	if err := e.Repo.SaveTask(ctx, tx, task); err != nil {
		return domain.Issue{}, notFound(err, "task", taskID)
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, userID, "task", taskID, issuePayload("", from, updated)); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	issue := task.AsIssue()
	e.notify(func(o Observer) { o.IssueUpdated(domain.KindManual, issue) })
	return issue, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
