package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"freshcheck/internal/domain"
)

var taskColumns = []string{
	"t.id", "t.user_id", "t.title", "t.status", "COALESCE(w.name, t.assigned_to)", "t.assigned_writer_id",
	"t.assigned_at", "t.completed_at", "t.google_doc_url", "t.due_date", "t.created_at",
}

func scanTask(s rowScanner) (domain.ManualTask, error) {
	var (
		t                                 domain.ManualTask
		writerID, assignedAt, completedAt sql.NullString
		docURL, dueDate                   sql.NullString
	)
	err := s.Scan(&t.ID, &t.UserID, &t.Title, &t.Status, &t.AssignedTo, &writerID, &assignedAt, &completedAt,
		&docURL, &dueDate, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.AssignedWriterID = ptrFromNull(writerID)
	t.AssignedAt = ptrFromNull(assignedAt)
	t.CompletedAt = ptrFromNull(completedAt)
	t.GoogleDocURL = ptrFromNull(docURL)
	t.DueDate = ptrFromNull(dueDate)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.ManualTask) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO manual_tasks(id,user_id,title,status,assigned_to,assigned_writer_id,assigned_at,
completed_at,google_doc_url,due_date,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, t.Status, t.AssignedTo, nullableStringPtr(t.AssignedWriterID), nullableStringPtr(t.AssignedAt),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.GoogleDocURL), nullableStringPtr(t.DueDate), t.CreatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, userID, id string) (domain.ManualTask, error) {
	query, args, err := psql.Select(taskColumns...).From("manual_tasks t").
		LeftJoin("writers w ON w.id = t.assigned_writer_id").
		Where(sq.Eq{"t.id": id, "t.user_id": userID}).
		ToSql()
	if err != nil {
		return domain.ManualTask{}, err
	}
	return scanTask(r.q(tx).QueryRowContext(ctx, query, args...))
}

// SaveTask persists the mutable ledger fields of a task.
func (r Repo) SaveTask(ctx context.Context, tx *sql.Tx, t domain.ManualTask) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE manual_tasks SET status=?, assigned_to=?, assigned_writer_id=?, assigned_at=?,
completed_at=?, google_doc_url=?, due_date=? WHERE id=? AND user_id=?`,
		t.Status, t.AssignedTo, nullableStringPtr(t.AssignedWriterID), nullableStringPtr(t.AssignedAt),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.GoogleDocURL), nullableStringPtr(t.DueDate), t.ID, t.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns the user's manual tasks in creation order.
func (r Repo) ListTasks(ctx context.Context, userID, status string) ([]domain.ManualTask, error) {
	b := psql.Select(taskColumns...).From("manual_tasks t").
		LeftJoin("writers w ON w.id = t.assigned_writer_id").
		Where(sq.Eq{"t.user_id": userID}).
		OrderBy("t.rowid")
	if status != "" {
		b = b.Where(sq.Eq{"t.status": status})
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
	var res []domain.ManualTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
