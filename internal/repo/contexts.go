package repo

import (
	"context"
	"database/sql"

	"freshcheck/internal/domain"
)

// InsertContext stores a domain context and evicts the user's oldest entries beyond keep.
func (r Repo) InsertContext(ctx context.Context, tx *sql.Tx, userID string, c domain.DomainContext, keep int) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO domain_contexts(id,user_id,description,entity_types,staleness_rules,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, userID, c.Description, c.EntityTypes, c.StalenessRules, c.Timestamp); err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `DELETE FROM domain_contexts WHERE user_id=? AND rowid NOT IN (
  SELECT rowid FROM domain_contexts WHERE user_id=? ORDER BY rowid DESC LIMIT ?
)`, userID, userID, keep)
	return err
}

// ListContexts returns the user's saved contexts, most recent first.
func (r Repo) ListContexts(ctx context.Context, userID string, limit int) ([]domain.DomainContext, error) {
	if limit <= 0 {
		limit = domain.MaxRecentContexts
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,description,entity_types,staleness_rules,created_at
FROM domain_contexts WHERE user_id=? ORDER BY rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DomainContext{}
	for rows.Next() {
		var c domain.DomainContext
		if err := rows.Scan(&c.ID, &c.Description, &c.EntityTypes, &c.StalenessRules, &c.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
