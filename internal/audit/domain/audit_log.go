package domain

import "time"

// AuditLog represents one credential or session lifecycle event.
type AuditLog struct {
	ID        string
	SubjectID string
	Action    string // e.g. token.rotate, session.anomaly
	Resource  string // record or session id the action touched
	IP        string
	Metadata  string
	CreatedAt time.Time
}
