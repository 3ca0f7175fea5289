package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"freshcheck/internal/domain"
)

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e                domain.Event
			user, entity, pl sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &user, &e.EntityKind, &entity, &pl); err != nil {
			return nil, err
		}
		e.UserID = user.String
		e.EntityID = entity.String
		e.Payload = pl.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args, err := psql.Select("id", "ts", "type", "user_id", "entity_kind", "entity_id", "payload_json").
		From("events").
		Where(sq.Gt{"id": cursor}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEvents returns the user's most recent events, newest first.
func (r Repo) LatestEvents(ctx context.Context, userID, evtType string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	b := psql.Select("id", "ts", "type", "user_id", "entity_kind", "entity_id", "payload_json").
		From("events").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("id DESC").
		Limit(uint64(limit))
	if evtType != "" {
		b = b.Where(sq.Eq{"type": evtType})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
