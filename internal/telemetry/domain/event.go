package domain

import (
	"encoding/json"
	"time"
)

// LifecycleEvent is one credential or session lifecycle occurrence published to
// the event pipeline (subject-scoped, optional session).
type LifecycleEvent struct {
	ID        string          `json:"id"`
	SubjectID string          `json:"subjectId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
