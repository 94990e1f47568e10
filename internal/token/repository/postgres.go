package repository

import (
	"context"
	"database/sql"
	"errors"

	"auth-lifecycle/internal/token/domain"
)

// PostgresRepository persists refresh records in the refresh_token_records table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh record repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.RefreshRecord, error) {
	const q = `SELECT id, subject_id, token, created_at, expires_at, invalidated
		FROM refresh_token_records WHERE id = $1`
	rec := &domain.RefreshRecord{}
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&rec.ID, &rec.SubjectID, &rec.Token, &rec.CreatedAt, &rec.ExpiresAt, &rec.Invalidated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Create persists the record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.RefreshRecord) error {
	const q = `INSERT INTO refresh_token_records (id, subject_id, token, created_at, expires_at, invalidated)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.SubjectID, rec.Token, rec.CreatedAt, rec.ExpiresAt, rec.Invalidated,
	)
	return err
}

// Invalidate marks the record with the given id as invalidated. The flag only
// ever moves false -> true; re-applying it is safe.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	const q = `UPDATE refresh_token_records SET invalidated = TRUE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// ListActiveBySubject returns every non-invalidated record for the subject.
func (r *PostgresRepository) ListActiveBySubject(ctx context.Context, subjectID string) ([]*domain.RefreshRecord, error) {
	const q = `SELECT id, subject_id, token, created_at, expires_at, invalidated
		FROM refresh_token_records WHERE subject_id = $1 AND invalidated = FALSE`
	rows, err := r.db.QueryContext(ctx, q, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RefreshRecord
	for rows.Next() {
		rec := &domain.RefreshRecord{}
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.Token, &rec.CreatedAt, &rec.ExpiresAt, &rec.Invalidated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
