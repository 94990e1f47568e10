package repository

import (
	"context"
	"database/sql"
	"errors"

	"auth-lifecycle/internal/audit/domain"
)

// PostgresRepository persists audit logs in the audit_log table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	const q = `SELECT id, subject_id, action, resource, ip, metadata, created_at
		FROM audit_log WHERE id = $1`
	a := &domain.AuditLog{}
	var subjectID, metadata sql.NullString
	err := r.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &subjectID, &a.Action, &a.Resource, &a.IP, &metadata, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.SubjectID = subjectID.String
	a.Metadata = metadata.String
	return a, nil
}

// ListBySubject returns audit logs for the subject, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int32) ([]*domain.AuditLog, error) {
	const q = `SELECT id, subject_id, action, resource, ip, metadata, created_at
		FROM audit_log WHERE subject_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, q, subjectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		a := &domain.AuditLog{}
		var subject, metadata sql.NullString
		if err := rows.Scan(&a.ID, &subject, &a.Action, &a.Resource, &a.IP, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SubjectID = subject.String
		a.Metadata = metadata.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	const q = `INSERT INTO audit_log (id, subject_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	subjectID := sql.NullString{String: a.SubjectID, Valid: a.SubjectID != ""}
	metadata := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, q, a.ID, subjectID, a.Action, a.Resource, a.IP, metadata, a.CreatedAt)
	return err
}
