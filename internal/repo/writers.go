package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"freshcheck/internal/domain"
)

func (r Repo) InsertWriter(ctx context.Context, tx *sql.Tx, userID string, w domain.Writer) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO writers(id,user_id,name,email,created_at) VALUES (?,?,?,?,?)`,
		w.ID, userID, w.Name, w.Email, w.CreatedAt)
	return err
}

func (r Repo) getWriter(ctx context.Context, tx *sql.Tx, where sq.Eq) (domain.Writer, error) {
	query, args, err := psql.Select("id", "name", "email", "created_at").From("writers").Where(where).Limit(1).ToSql()
	if err != nil {
		return domain.Writer{}, err
	}
	var w domain.Writer
	err = r.q(tx).QueryRowContext(ctx, query, args...).Scan(&w.ID, &w.Name, &w.Email, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) GetWriter(ctx context.Context, tx *sql.Tx, userID, id string) (domain.Writer, error) {
	return r.getWriter(ctx, tx, sq.Eq{"user_id": userID, "id": id})
}

// GetWriterByName matches a roster entry by exact name.
func (r Repo) GetWriterByName(ctx context.Context, tx *sql.Tx, userID, name string) (domain.Writer, error) {
	return r.getWriter(ctx, tx, sq.Eq{"user_id": userID, "name": name})
}

func (r Repo) ListWriters(ctx context.Context, userID string) ([]domain.Writer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,created_at FROM writers WHERE user_id=? ORDER BY name COLLATE NOCASE, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Writer{}
	for rows.Next() {
		var w domain.Writer
		if err := rows.Scan(&w.ID, &w.Name, &w.Email, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// UpdateWriter applies the non-nil fields.
func (r Repo) UpdateWriter(ctx context.Context, tx *sql.Tx, userID, id string, name, email *string) error {
	b := psql.Update("writers").Where(sq.Eq{"id": id, "user_id": userID})
	changed := false
	if name != nil {
		b = b.Set("name", *name)
		changed = true
	}
	if email != nil {
		b = b.Set("email", *email)
		changed = true
	}
	if !changed {
		_, err := r.GetWriter(ctx, tx, userID, id)
		return err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWriter removes a writer. Issues and tasks keep their stored display name.
func (r Repo) DeleteWriter(ctx context.Context, tx *sql.Tx, userID, id string) error {
	q := r.q(tx)
	// Freeze the current roster name onto linked work before the foreign key detaches it.
	if _, err := q.ExecContext(ctx, `UPDATE issues SET assigned_to=(SELECT name FROM writers WHERE id=?) WHERE assigned_writer_id=?`, id, id); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `UPDATE manual_tasks SET assigned_to=(SELECT name FROM writers WHERE id=?) WHERE assigned_writer_id=?`, id, id); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `DELETE FROM writers WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
