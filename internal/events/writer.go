package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunStarted    = "run.started"
	RunCompleted  = "run.completed"
	RunFailed     = "run.failed"
	RunDeleted    = "run.deleted"
	IssueUpdated  = "issue.updated"
	SourcesSaved  = "issue.sources.saved"
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	WriterCreated = "writer.created"
	WriterUpdated = "writer.updated"
	WriterDeleted = "writer.deleted"
	ContextSaved  = "context.saved"
)

// Writer appends audit events in the same transaction as the change they describe.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, userID, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(userID), entityKind, nullable(entityID), string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
