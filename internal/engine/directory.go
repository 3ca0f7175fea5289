package engine

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"freshcheck/internal/domain"
	"freshcheck/internal/events"
	"freshcheck/internal/repo"
)

// WriterInput creates a writer. On update, nil fields are left unchanged.
type WriterInput struct {
	Name  *string
	Email *string
}

func cleanWriterName(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", domain.ValidationError{Field: "name", Reason: "required"}
	}
	return v, nil
}

func cleanEmail(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", domain.ValidationError{Field: "email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "", domain.ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	return strings.ToLower(v), nil
}

func duplicateWriter(err error, name string) error {
	if repo.IsUniqueViolation(err) {
		return domain.ValidationError{Field: "name", Reason: fmt.Sprintf("writer %q already exists", name)}
	}
	return err
}

func (e Engine) CreateWriter(ctx context.Context, userID string, in WriterInput) (domain.Writer, error) {
	name, err := cleanWriterName(deref(in.Name))
	if err != nil {
		return domain.Writer{}, err
	}
	email, err := cleanEmail(deref(in.Email))
	if err != nil {
		return domain.Writer{}, err
	}
	w := domain.Writer{ID: uuid.NewString(), Name: name, Email: email, CreatedAt: e.stamp()}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Writer{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWriter(ctx, tx, userID, w); err != nil {
		return domain.Writer{}, duplicateWriter(err, name)
	}
	if err := e.Events.Append(ctx, tx, events.WriterCreated, userID, "writer", w.ID, events.EventPayload{"name": w.Name}); err != nil {
		return domain.Writer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Writer{}, err
	}
	return w, nil
}

// ListWriters returns the roster ordered by name.
func (e Engine) ListWriters(ctx context.Context, userID string) ([]domain.Writer, error) {
	return e.Repo.ListWriters(ctx, userID)
}

// UpdateWriter renames or re-addresses a writer. Linked issues show the new name.
func (e Engine) UpdateWriter(ctx context.Context, userID, writerID string, in WriterInput) (domain.Writer, error) {
	var name, email *string
	if in.Name != nil {
		v, err := cleanWriterName(*in.Name)
		if err != nil {
			return domain.Writer{}, err
		}
		name = &v
	}
	if in.Email != nil {
		v, err := cleanEmail(*in.Email)
		if err != nil {
			return domain.Writer{}, err
		}
		email = &v
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Writer{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWriter(ctx, tx, userID, writerID, name, email); err != nil {
		if name != nil {
			err = duplicateWriter(err, *name)
		}
		return domain.Writer{}, notFound(err, "writer", writerID)
	}
	w, err := e.Repo.GetWriter(ctx, tx, userID, writerID)
	if err != nil {
		return domain.Writer{}, notFound(err, "writer", writerID)
	}
	if err := e.Events.Append(ctx, tx, events.WriterUpdated, userID, "writer", writerID, events.EventPayload{"name": w.Name}); err != nil {
		return domain.Writer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Writer{}, err
	}
	return w, nil
}

// DeleteWriter removes a writer; assigned work keeps the writer's last name.
func (e Engine) DeleteWriter(ctx context.Context, userID, writerID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWriter(ctx, tx, userID, writerID); err != nil {
		return notFound(err, "writer", writerID)
	}
	if err := e.Events.Append(ctx, tx, events.WriterDeleted, userID, "writer", writerID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveContext stores a domain context in the user's recency list.
func (e Engine) SaveContext(ctx context.Context, userID string, in DomainContextInput) (domain.DomainContext, error) {
	clean, err := in.validate()
	if err != nil {
		return domain.DomainContext{}, err
	}
	dc := domain.DomainContext{
		ID:             uuid.NewString(),
		Description:    clean.Description,
		EntityTypes:    clean.EntityTypes,
		StalenessRules: clean.StalenessRules,
		Timestamp:      e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DomainContext{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertContext(ctx, tx, userID, dc, domain.MaxRecentContexts); err != nil {
		return domain.DomainContext{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ContextSaved, userID, "context", dc.ID, nil); err != nil {
		return domain.DomainContext{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DomainContext{}, err
	}
	return dc, nil
}

// ListContexts returns at most five contexts, most recent first.
func (e Engine) ListContexts(ctx context.Context, userID string) ([]domain.DomainContext, error) {
	return e.Repo.ListContexts(ctx, userID, domain.MaxRecentContexts)
}
