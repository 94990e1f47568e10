package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auth-lifecycle/internal/geo"
	"auth-lifecycle/internal/session/domain"
)

// PostgresRepository persists sessions in the sessions table. Geolocation
// history and the current point are stored as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, subject_id, device_id, platform, user_agent, operating_system,
	language, ip_address, geolocation_history, current_geolocation,
	session_duration_ms, suspicious, terminated, created_at, last_updated`

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Create persists a new session.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	history, current, err := marshalGeo(s)
	if err != nil {
		return err
	}
	const q = `INSERT INTO sessions (id, subject_id, device_id, platform, user_agent,
		operating_system, language, ip_address, geolocation_history, current_geolocation,
		session_duration_ms, suspicious, terminated, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.SubjectID, s.DeviceID, s.Platform, s.UserAgent,
		s.OperatingSystem, s.Language, s.IPAddress, history, current,
		s.SessionDurationMS, s.Suspicious, s.Terminated, s.CreatedAt, s.LastUpdated)
	return err
}

// Update persists the heartbeat-mutable fields of the session.
func (r *PostgresRepository) Update(ctx context.Context, s *domain.Session) error {
	history, current, err := marshalGeo(s)
	if err != nil {
		return err
	}
	// suspicious only ever moves false -> true, enforced here rather than by
	// caller convention.
	const q = `UPDATE sessions SET ip_address = $2, geolocation_history = $3,
		current_geolocation = $4, session_duration_ms = $5,
		suspicious = suspicious OR $6, last_updated = $7 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q,
		s.ID, s.IPAddress, history, current, s.SessionDurationMS, s.Suspicious, s.LastUpdated)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update session %s: not found", s.ID)
	}
	return nil
}

// Terminate marks the session terminated. Idempotent.
func (r *PostgresRepository) Terminate(ctx context.Context, id string) error {
	const q = `UPDATE sessions SET terminated = TRUE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// CurrentForDevice returns the newest non-terminated session for the device
// updated strictly after aliveAfter, or nil.
func (r *PostgresRepository) CurrentForDevice(ctx context.Context, deviceID string, aliveAfter time.Time) (*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE device_id = $1 AND terminated = FALSE AND last_updated > $2
		ORDER BY last_updated DESC LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, deviceID, aliveAfter))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListAliveBySubject returns non-terminated sessions for the subject updated
// strictly after aliveAfter.
func (r *PostgresRepository) ListAliveBySubject(ctx context.Context, subjectID string, aliveAfter time.Time) ([]*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE subject_id = $1 AND terminated = FALSE AND last_updated > $2
		ORDER BY last_updated DESC`
	rows, err := r.db.QueryContext(ctx, q, subjectID, aliveAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	s := &domain.Session{}
	var history []byte
	var current []byte
	err := row.Scan(
		&s.ID, &s.SubjectID, &s.DeviceID, &s.Platform, &s.UserAgent,
		&s.OperatingSystem, &s.Language, &s.IPAddress, &history, &current,
		&s.SessionDurationMS, &s.Suspicious, &s.Terminated, &s.CreatedAt, &s.LastUpdated)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.GeolocationHistory); err != nil {
			return nil, fmt.Errorf("decode geolocation history for session %s: %w", s.ID, err)
		}
	}
	if len(current) > 0 {
		var p geo.Point
		if err := json.Unmarshal(current, &p); err != nil {
			return nil, fmt.Errorf("decode current geolocation for session %s: %w", s.ID, err)
		}
		s.CurrentGeolocation = &p
	}
	return s, nil
}

func marshalGeo(s *domain.Session) (history, current []byte, err error) {
	points := s.GeolocationHistory
	if points == nil {
		points = []geo.Point{}
	}
	history, err = json.Marshal(points)
	if err != nil {
		return nil, nil, err
	}
	if s.CurrentGeolocation != nil {
		current, err = json.Marshal(s.CurrentGeolocation)
		if err != nil {
			return nil, nil, err
		}
	}
	return history, current, nil
}
