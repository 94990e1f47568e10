// Package identity defines the external identity provider collaborator.
// The provider owns user credentials and its own refresh tokens; this service
// only asks it to verify tokens, revoke its refresh tokens, and toggle users.
package identity

import "context"

// ExternalClaims are the claims carried by an identity-provider token.
type ExternalClaims struct {
	SubjectID string
	Email     string
}

// Provider is the minimal identity-provider surface the token and session
// authorities depend on. All calls are best-effort from the caller's point of
// view: a nil-claims result means "not verified", never a fault to propagate.
type Provider interface {
	// VerifyExternalToken verifies a provider-issued token and returns its
	// claims, or nil if the token cannot be verified.
	VerifyExternalToken(ctx context.Context, token string) (*ExternalClaims, error)
	// RevokeRefreshTokens revokes every refresh token the provider itself holds
	// for the subject. Used alongside local record invalidation on
	// logout-everywhere and anomaly response.
	RevokeRefreshTokens(ctx context.Context, subjectID string) error
	// DisableUser suspends the subject's account at the provider.
	DisableUser(ctx context.Context, subjectID string) error
	// EnableUser lifts a suspension at the provider.
	EnableUser(ctx context.Context, subjectID string) error
}

// NoopProvider is a Provider for development and tests: verification always
// fails closed and revocations succeed without side effects.
type NoopProvider struct{}

// VerifyExternalToken always reports unverified.
func (NoopProvider) VerifyExternalToken(ctx context.Context, token string) (*ExternalClaims, error) {
	return nil, nil
}

// RevokeRefreshTokens is a no-op.
func (NoopProvider) RevokeRefreshTokens(ctx context.Context, subjectID string) error { return nil }

// DisableUser is a no-op.
func (NoopProvider) DisableUser(ctx context.Context, subjectID string) error { return nil }

// EnableUser is a no-op.
func (NoopProvider) EnableUser(ctx context.Context, subjectID string) error { return nil }
