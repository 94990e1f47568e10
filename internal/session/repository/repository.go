package repository

import (
	"context"
	"time"

	"auth-lifecycle/internal/session/domain"
)

// Repository defines persistence for device sessions.
type Repository interface {
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Create persists a new session. The session must have ID set.
	Create(ctx context.Context, s *domain.Session) error
	// Update persists the mutable heartbeat fields: geolocation, history,
	// duration, suspicion, ip, and last-updated.
	Update(ctx context.Context, s *domain.Session) error
	// Terminate marks the session terminated. Terminating an
	// already-terminated session is a harmless no-op.
	Terminate(ctx context.Context, id string) error
	// CurrentForDevice returns the newest non-terminated session for the device
	// updated strictly after aliveAfter, or nil when the device has none.
	CurrentForDevice(ctx context.Context, deviceID string, aliveAfter time.Time) (*domain.Session, error)
	// ListAliveBySubject returns every non-terminated session for the subject
	// updated strictly after aliveAfter.
	ListAliveBySubject(ctx context.Context, subjectID string, aliveAfter time.Time) ([]*domain.Session, error)
}
