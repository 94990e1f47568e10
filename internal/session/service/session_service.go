// Package service implements the session authority: device session creation,
// heartbeat resolution with anomaly response, and termination.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"auth-lifecycle/internal/anomaly"
	"auth-lifecycle/internal/audit"
	"auth-lifecycle/internal/geo"
	"auth-lifecycle/internal/session/domain"
	sessionrepo "auth-lifecycle/internal/session/repository"
)

var (
	// ErrSessionNotFound is returned when no session exists for the given id.
	ErrSessionNotFound = errors.New("session not found")
)

// CredentialRevoker revokes every outstanding refresh credential for a
// subject. The session authority calls it when a session turns suspicious.
type CredentialRevoker interface {
	InvalidateAllForSubject(ctx context.Context, subjectID string) error
}

// CreateSessionInput carries the device context for a new session.
type CreateSessionInput struct {
	SubjectID       string
	DeviceID        string
	Platform        string
	UserAgent       string
	OperatingSystem string
	Language        string
	IPAddress       string
	Location        *geo.Point
}

// HeartBeatInput carries one heartbeat signal from a device.
type HeartBeatInput struct {
	SessionID string
	IPAddress string
	Location  *geo.Point
	// ForceTerminate ends the session and clears the caller's credentials
	// regardless of what the heartbeat would otherwise resolve to.
	ForceTerminate bool
}

// HeartBeatResult is the outcome of resolving one heartbeat.
type HeartBeatResult struct {
	// Session is the session after resolution: the updated session, the
	// replacement when the old one was dead, or the pre-update session when
	// persistence failed.
	Session *domain.Session
	// ClearCredentials tells the transport layer to drop the subject's
	// credentials: the session just turned suspicious and everything was
	// revoked.
	ClearCredentials bool
}

// SessionService tracks device sessions and enforces the anomaly response.
type SessionService struct {
	sessions    sessionrepo.Repository
	credentials CredentialRevoker
	anomaly     anomaly.Evaluator
	audit       audit.AuditLogger

	heartbeatInterval time.Duration
	livenessWindow    time.Duration
}

// NewSessionService wires the session authority.
func NewSessionService(
	sessions sessionrepo.Repository,
	credentials CredentialRevoker,
	evaluator anomaly.Evaluator,
	auditLogger audit.AuditLogger,
	heartbeatInterval, livenessWindow time.Duration,
) *SessionService {
	return &SessionService{
		sessions:          sessions,
		credentials:       credentials,
		anomaly:           evaluator,
		audit:             auditLogger,
		heartbeatInterval: heartbeatInterval,
		livenessWindow:    livenessWindow,
	}
}

// CreateSession starts tracking a device. Idempotent per device: when the
// device already has an alive session for the same subject that session is
// returned instead of creating a duplicate. An alive session held by a
// different subject on the same device is terminated first.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	now := time.Now().UTC()

	existing, err := s.sessions.CurrentForDevice(ctx, in.DeviceID, now.Add(-s.livenessWindow))
	if err != nil {
		return nil, fmt.Errorf("look up device session: %w", err)
	}
	if existing != nil {
		if existing.SubjectID == in.SubjectID {
			return existing, nil
		}
		// Device changed hands; the previous subject's session ends here.
		if err := s.sessions.Terminate(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("terminate previous device session: %w", err)
		}
		s.audit.LogEvent(ctx, existing.SubjectID, audit.ActionSessionTerminate, existing.ID, "")
	}

	session := &domain.Session{
		ID:              uuid.New().String(),
		SubjectID:       in.SubjectID,
		DeviceID:        in.DeviceID,
		Platform:        in.Platform,
		UserAgent:       in.UserAgent,
		OperatingSystem: in.OperatingSystem,
		Language:        in.Language,
		IPAddress:       in.IPAddress,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	if in.Location != nil {
		p := *in.Location
		session.CurrentGeolocation = &p
		session.GeolocationHistory = []geo.Point{p}
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.audit.LogEvent(ctx, in.SubjectID, audit.ActionSessionCreate, session.ID, "")
	return session, nil
}

// ResolveHeartBeat processes one device heartbeat: refreshes liveness, records
// movement, and runs the anomaly response. Anomaly evaluation happens against
// the trail as it was before this heartbeat touches it. A dead session is
// terminated and replaced with a fresh one for the same device. When the
// updated session cannot be persisted the heartbeat degrades to a read: the
// session is returned as it was.
func (s *SessionService) ResolveHeartBeat(ctx context.Context, in HeartBeatInput) (*HeartBeatResult, error) {
	session, err := s.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if in.ForceTerminate {
		// Credentials are cleared even if the terminate write fails.
		if err := s.sessions.Terminate(ctx, session.ID); err != nil {
			log.Printf("session: failed to force-terminate %s: %v", session.ID, err)
		} else {
			s.audit.LogEvent(ctx, session.SubjectID, audit.ActionSessionTerminate, session.ID, "")
		}
		ended := *session
		ended.Terminated = true
		return &HeartBeatResult{Session: &ended, ClearCredentials: true}, nil
	}

	now := time.Now().UTC()
	if session.State(now, s.heartbeatInterval, s.livenessWindow) == domain.SessionStateDead {
		return s.replaceDeadSession(ctx, session, in.IPAddress, in.Location)
	}

	assessment, err := s.anomaly.Assess(ctx, anomaly.Input{
		AlreadySuspicious: session.Suspicious,
		LastRecorded:      session.LastRecordedPoint(),
		Candidate:         in.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("assess heartbeat: %w", err)
	}
	newlySuspicious := assessment.Suspicious && !session.Suspicious

	updated := *session
	updated.SessionDurationMS += now.Sub(session.LastUpdated).Milliseconds()
	updated.LastUpdated = now
	updated.Suspicious = assessment.Suspicious
	if in.IPAddress != "" {
		updated.IPAddress = in.IPAddress
	}
	if in.Location != nil {
		p := *in.Location
		updated.CurrentGeolocation = &p
		if assessment.RecordPoint {
			updated.GeolocationHistory = append(append([]geo.Point{}, session.GeolocationHistory...), p)
		}
	}

	if newlySuspicious {
		// The jump crossed the anomaly threshold: revoke every credential and
		// end every session the subject holds, this one included. This runs
		// before the heartbeat write so a store fault cannot suppress it.
		s.audit.LogEvent(ctx, session.SubjectID, audit.ActionSessionAnomaly, session.ID, "")
		if err := s.credentials.InvalidateAllForSubject(ctx, session.SubjectID); err != nil {
			log.Printf("session: failed to revoke credentials for %s: %v", session.SubjectID, err)
		}
		if err := s.EndAllSessionsForSubject(ctx, session.SubjectID); err != nil {
			log.Printf("session: failed to end sessions for %s: %v", session.SubjectID, err)
		}
		updated.Terminated = true
	}

	if err := s.sessions.Update(ctx, &updated); err != nil {
		log.Printf("session: failed to persist heartbeat for %s: %v", session.ID, err)
		return &HeartBeatResult{Session: session, ClearCredentials: newlySuspicious}, nil
	}
	return &HeartBeatResult{Session: &updated, ClearCredentials: newlySuspicious}, nil
}

func (s *SessionService) replaceDeadSession(ctx context.Context, dead *domain.Session, ipAddress string, location *geo.Point) (*HeartBeatResult, error) {
	if err := s.sessions.Terminate(ctx, dead.ID); err != nil {
		return nil, fmt.Errorf("terminate dead session: %w", err)
	}
	s.audit.LogEvent(ctx, dead.SubjectID, audit.ActionSessionTerminate, dead.ID, "")

	if ipAddress == "" {
		ipAddress = dead.IPAddress
	}
	replacement, err := s.CreateSession(ctx, CreateSessionInput{
		SubjectID:       dead.SubjectID,
		DeviceID:        dead.DeviceID,
		Platform:        dead.Platform,
		UserAgent:       dead.UserAgent,
		OperatingSystem: dead.OperatingSystem,
		Language:        dead.Language,
		IPAddress:       ipAddress,
		Location:        location,
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, dead.SubjectID, audit.ActionSessionReplace, replacement.ID, fmt.Sprintf(`{"replaced":%q}`, dead.ID))
	return &HeartBeatResult{Session: replacement}, nil
}

// EndSession terminates the session. It returns true when an alive session was
// ended, false when no session exists or it was already terminated.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session == nil || session.Terminated {
		return false, nil
	}
	if err := s.sessions.Terminate(ctx, sessionID); err != nil {
		return false, err
	}
	s.audit.LogEvent(ctx, session.SubjectID, audit.ActionSessionTerminate, sessionID, "")
	return true, nil
}

// EndAllSessionsForSubject terminates every alive session the subject holds.
func (s *SessionService) EndAllSessionsForSubject(ctx context.Context, subjectID string) error {
	now := time.Now().UTC()
	sessions, err := s.sessions.ListAliveBySubject(ctx, subjectID, now.Add(-s.livenessWindow))
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, session := range sessions {
		id := session.ID
		g.Go(func() error {
			return s.sessions.Terminate(gctx, id)
		})
	}
	return g.Wait()
}

// GetSession returns the session for id, or ErrSessionNotFound.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListAliveForSubject returns the subject's currently alive sessions.
func (s *SessionService) ListAliveForSubject(ctx context.Context, subjectID string) ([]*domain.Session, error) {
	now := time.Now().UTC()
	return s.sessions.ListAliveBySubject(ctx, subjectID, now.Add(-s.livenessWindow))
}

// IsSessionValid reports whether the session exists, is alive, and has not
// been flagged suspicious.
func (s *SessionService) IsSessionValid(ctx context.Context, sessionID string) bool {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		log.Printf("session: failed to load session %s: %v", sessionID, err)
		return false
	}
	if session == nil || session.Suspicious {
		return false
	}
	return session.Alive(time.Now().UTC(), s.livenessWindow)
}
