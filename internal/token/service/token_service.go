// Package service implements the token authority: issuing access/refresh
// credential pairs, single-use refresh rotation, and revocation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"auth-lifecycle/internal/audit"
	"auth-lifecycle/internal/identity"
	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/token/domain"
	tokenrepo "auth-lifecycle/internal/token/repository"
)

var (
	// ErrInvalidRefreshToken is returned when a refresh credential cannot be
	// rotated: it is malformed, expired, unknown, already consumed, or does not
	// match its persisted record. Callers must not distinguish these cases.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// CredentialPair is one issued access/refresh credential pair.
type CredentialPair struct {
	SubjectID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshID        string
	RefreshExpiresAt time.Time
}

// TokenService issues, rotates, and revokes signed credentials. Every live
// refresh credential is backed 1:1 by a persisted record; issuance fails closed
// when the record cannot be written.
type TokenService struct {
	records  tokenrepo.Repository
	tokens   *security.TokenProvider
	identity identity.Provider
	audit    audit.AuditLogger
}

// NewTokenService wires the token authority.
func NewTokenService(records tokenrepo.Repository, tokens *security.TokenProvider, idp identity.Provider, auditLogger audit.AuditLogger) *TokenService {
	return &TokenService{
		records:  records,
		tokens:   tokens,
		identity: idp,
		audit:    auditLogger,
	}
}

// IssueTokens mints a fresh credential pair for the subject and persists the
// refresh record. If the record cannot be persisted the credentials are not
// returned: an unbacked refresh credential would be unrotatable.
func (s *TokenService) IssueTokens(ctx context.Context, subjectID string, role security.Role, audience string) (*CredentialPair, error) {
	if subjectID == "" {
		return nil, errors.New("issue tokens: subject id is required")
	}
	pair, err := s.mintPair(ctx, subjectID, role, audience)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, subjectID, audit.ActionTokenIssue, pair.RefreshID, "")
	return pair, nil
}

// Rotate consumes a refresh credential and returns a fresh pair for the same
// subject, role, and audience. The new record is created before the old one is
// invalidated, so a failure partway through never leaves the subject without a
// rotatable credential. A credential that fails any check is rejected with
// ErrInvalidRefreshToken.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (*CredentialPair, error) {
	claims, err := s.tokens.Decode(refreshToken)
	if err != nil || claims.ID == "" {
		return nil, ErrInvalidRefreshToken
	}

	record, err := s.records.GetByID(ctx, claims.ID)
	if err != nil {
		// Conservative: an unreadable record is treated as an invalid credential.
		log.Printf("token: failed to load refresh record %s: %v", claims.ID, err)
		return nil, ErrInvalidRefreshToken
	}
	if record == nil || record.State() != domain.RecordStateActive {
		return nil, ErrInvalidRefreshToken
	}
	// Substitution defense: the presented credential must be the exact one the
	// record was created for, issued to the same subject.
	if record.SubjectID != claims.SubjectID() || record.Token != refreshToken {
		return nil, ErrInvalidRefreshToken
	}

	pair, err := s.mintPair(ctx, claims.SubjectID(), claims.Role, claims.PlatformAudience())
	if err != nil {
		// The old record was not touched; the subject can retry with the same
		// credential.
		return nil, err
	}

	if err := s.records.Invalidate(ctx, record.ID); err != nil {
		// The new pair is already live. Surface the stale record rather than
		// fail the rotation the subject is waiting on.
		log.Printf("token: failed to invalidate consumed record %s: %v", record.ID, err)
	}
	s.audit.LogEvent(ctx, record.SubjectID, audit.ActionTokenRotate, pair.RefreshID, fmt.Sprintf(`{"consumed":%q}`, record.ID))
	return pair, nil
}

// InvalidateRefreshToken revokes the refresh record with the given id. It
// returns true when a record was found and is now invalidated, false when no
// record exists for the id.
func (s *TokenService) InvalidateRefreshToken(ctx context.Context, id string) (bool, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	if err := s.records.Invalidate(ctx, id); err != nil {
		return false, err
	}
	s.audit.LogEvent(ctx, record.SubjectID, audit.ActionTokenRevoke, id, "")
	return true, nil
}

// InvalidateAllForSubject revokes every active refresh record for the subject
// and asks the identity provider to revoke its own refresh tokens too. Used on
// logout-everywhere and anomaly response.
func (s *TokenService) InvalidateAllForSubject(ctx context.Context, subjectID string) error {
	records, err := s.records.ListActiveBySubject(ctx, subjectID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, record := range records {
		id := record.ID
		g.Go(func() error {
			return s.records.Invalidate(gctx, id)
		})
	}
	g.Go(func() error {
		return s.identity.RevokeRefreshTokens(gctx, subjectID)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, subjectID, audit.ActionTokenRevokeAll, subjectID, fmt.Sprintf(`{"revoked":%d}`, len(records)))
	return nil
}

// IsRefreshTokenRecordValid reports whether the record with the given id
// exists, is still active, and holds a credential that still verifies.
func (s *TokenService) IsRefreshTokenRecordValid(ctx context.Context, id string) bool {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		log.Printf("token: failed to load refresh record %s: %v", id, err)
		return false
	}
	if record == nil || record.State() != domain.RecordStateActive {
		return false
	}
	return s.tokens.Verify(record.Token)
}

func (s *TokenService) mintPair(ctx context.Context, subjectID string, role security.Role, audience string) (*CredentialPair, error) {
	accessToken, accessExpiresAt, err := s.tokens.IssueAccess(subjectID, role, audience)
	if err != nil {
		return nil, fmt.Errorf("issue access credential: %w", err)
	}
	refreshToken, jti, refreshExpiresAt, err := s.tokens.IssueRefresh(subjectID, role, audience)
	if err != nil {
		return nil, fmt.Errorf("issue refresh credential: %w", err)
	}

	now := time.Now().UTC()
	record := &domain.RefreshRecord{
		ID:        jti,
		SubjectID: subjectID,
		Token:     refreshToken,
		CreatedAt: now,
		ExpiresAt: refreshExpiresAt,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist refresh record: %w", err)
	}

	return &CredentialPair{
		SubjectID:        subjectID,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshID:        jti,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
