package repository

import (
	"context"

	"auth-lifecycle/internal/token/domain"
)

// Repository defines persistence for refresh credential records.
type Repository interface {
	// GetByID returns the record for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.RefreshRecord, error)
	// Create persists a new record. The record must have ID set.
	Create(ctx context.Context, r *domain.RefreshRecord) error
	// Invalidate marks the record as invalidated. Applying it to an
	// already-invalidated record is a harmless no-op.
	Invalidate(ctx context.Context, id string) error
	// ListActiveBySubject returns every non-invalidated record for the subject.
	ListActiveBySubject(ctx context.Context, subjectID string) ([]*domain.RefreshRecord, error)
}
