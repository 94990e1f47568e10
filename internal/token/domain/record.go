// Package domain holds the persisted refresh credential record and its
// derived lifecycle state.
package domain

import (
	"errors"
	"time"
)

// RecordState is the lifecycle state of a refresh record, derived at read time
// from the invalidated flag rather than stored.
type RecordState string

const (
	// RecordStateActive means the record's credential may still be rotated.
	RecordStateActive RecordState = "ACTIVE"
	// RecordStateInvalidated is terminal: the credential was consumed by a
	// rotation or revoked. A record never leaves this state.
	RecordStateInvalidated RecordState = "INVALIDATED"
)

// RefreshRecord is persisted 1:1 with an outstanding refresh credential.
// Records are never deleted in normal flow; invalidation flips a flag and the
// row remains as an audit trail of every credential ever issued.
type RefreshRecord struct {
	ID          string // the credential's jti
	SubjectID   string
	Token       string // the raw signed credential
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Invalidated bool
}

// State returns the derived lifecycle state.
func (r *RefreshRecord) State() RecordState {
	if r.Invalidated {
		return RecordStateInvalidated
	}
	return RecordStateActive
}

// Validate checks construction preconditions. A violation here is a programmer
// error, not a runtime condition to recover from.
func (r *RefreshRecord) Validate() error {
	if r.ID == "" {
		return errors.New("refresh record: id is required")
	}
	if r.SubjectID == "" {
		return errors.New("refresh record: subject id is required")
	}
	if r.Token == "" {
		return errors.New("refresh record: token is required")
	}
	if r.ExpiresAt.IsZero() {
		return errors.New("refresh record: expiry is required")
	}
	return nil
}
