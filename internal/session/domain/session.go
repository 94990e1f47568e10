// Package domain holds the device session aggregate and its derived lifecycle
// state.
package domain

import (
	"errors"
	"time"

	"auth-lifecycle/internal/geo"
)

// SessionState is the lifecycle state of a session, computed at read time from
// the last heartbeat rather than stored.
type SessionState string

const (
	// SessionStateActive means a heartbeat arrived within the heartbeat interval.
	SessionStateActive SessionState = "ACTIVE"
	// SessionStateIdle means the session is still alive but the device has not
	// reported within the heartbeat interval.
	SessionStateIdle SessionState = "IDLE"
	// SessionStateDead means the liveness window elapsed with no heartbeat, or
	// the session was terminated. Dead is terminal.
	SessionStateDead SessionState = "DEAD"
)

// Session tracks one device's presence: heartbeats, movement history, and the
// sticky suspicion flag. One alive session exists per device at a time.
type Session struct {
	ID              string
	SubjectID       string
	DeviceID        string
	Platform        string
	UserAgent       string
	OperatingSystem string
	Language        string
	IPAddress       string

	// GeolocationHistory holds the recorded movement trail, oldest first.
	// Points are appended only when the device moved far enough from the last
	// recorded point to be worth keeping.
	GeolocationHistory []geo.Point
	CurrentGeolocation *geo.Point

	// SessionDurationMS accumulates wall-clock lifetime across heartbeats.
	SessionDurationMS int64

	// Suspicious is sticky: once an anomalous jump is observed the flag never
	// clears for the lifetime of the session.
	Suspicious bool
	// Terminated is sticky: an ended session never comes back.
	Terminated bool

	CreatedAt   time.Time
	LastUpdated time.Time
}

// State derives the lifecycle state at the given instant. A session is active
// while the last heartbeat is at most heartbeatInterval old, idle while it is
// still within the liveness window, and dead once the window elapses. The
// liveness bound is strict: a session whose last update is exactly
// livenessWindow old is already dead.
func (s *Session) State(now time.Time, heartbeatInterval, livenessWindow time.Duration) SessionState {
	if s.Terminated {
		return SessionStateDead
	}
	if !now.Before(s.LastUpdated.Add(livenessWindow)) {
		return SessionStateDead
	}
	if !now.After(s.LastUpdated.Add(heartbeatInterval)) {
		return SessionStateActive
	}
	return SessionStateIdle
}

// Alive reports whether the session still counts as present at the given
// instant: not terminated and inside the liveness window.
func (s *Session) Alive(now time.Time, livenessWindow time.Duration) bool {
	return !s.Terminated && now.Before(s.LastUpdated.Add(livenessWindow))
}

// LastRecordedPoint returns the newest point in the movement trail, or nil when
// nothing has been recorded yet.
func (s *Session) LastRecordedPoint() *geo.Point {
	if len(s.GeolocationHistory) == 0 {
		return nil
	}
	p := s.GeolocationHistory[len(s.GeolocationHistory)-1]
	return &p
}

// Validate checks construction preconditions.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session: id is required")
	}
	if s.SubjectID == "" {
		return errors.New("session: subject id is required")
	}
	if s.DeviceID == "" {
		return errors.New("session: device id is required")
	}
	if s.Platform == "" {
		return errors.New("session: platform is required")
	}
	return nil
}
