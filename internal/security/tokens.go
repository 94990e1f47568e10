package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Role is the coarse authorization level carried in signed credentials.
type Role string

// Roles ordered by access level; Admin allows high-level access to other accounts.
const (
	RoleCreator  Role = "CREATOR"
	RoleBusiness Role = "BUSINESS"
	RoleBasic    Role = "BASIC"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole maps a wire string to a known Role. Unknown values report false.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCreator, RoleBusiness, RoleBasic, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Claims holds the JWT claims for both credential kinds. Access credentials
// never set ID (jti); refresh credentials always do — the jti is the primary
// key of the persisted refresh record and the replay-prevention identifier.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// SubjectID returns the subject identity the credential was issued for.
func (c *Claims) SubjectID() string { return c.Subject }

// PlatformAudience returns the optional platform tag the credential is scoped
// to, or empty when the credential is not platform-scoped.
func (c *Claims) PlatformAudience() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

// TokenProvider issues and verifies signed, expiring credentials using RS256 or
// ES256 (private/public key). Verification failures are reported as
// ErrInvalidToken only; callers treat them as absence, never as faults.
type TokenProvider struct {
	privateKey  crypto.Signer
	publicKey   crypto.PublicKey
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	shuntWindow time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer is set on claims and validated on decode. shuntWindow is how close to
// expiry a credential must be before WillExpireSoon reports true.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer string, accessTTL, refreshTTL, shuntWindow time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey:  privateKey,
		publicKey:   publicKey,
		issuer:      issuer,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		shuntWindow: shuntWindow,
	}
}

// IssueAccess issues a short-lived access credential for the subject.
// The token carries subject, role, and the optional platform audience, and no
// jti: access credentials are not individually revocable or replay-tracked.
func (p *TokenProvider) IssueAccess(subjectID string, role Role, audience string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// IssueRefresh issues a long-lived, single-use refresh credential and returns
// the token, its jti (the refresh record's primary key), and an explicit
// expiration timestamp kept in parity with the signed TTL for persistence.
func (p *TokenProvider) IssueRefresh(subjectID string, role Role, audience string) (token, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.refreshTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subjectID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// Decode parses and verifies a credential (signature, expiry, issuer) and
// returns its claims. Returns ErrInvalidToken on any verification failure;
// nothing else escapes this boundary.
func (p *TokenProvider) Decode(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify reports whether the credential decodes cleanly.
func (p *TokenProvider) Verify(tokenString string) bool {
	_, err := p.Decode(tokenString)
	return err == nil
}

// WillExpireSoon reports whether the credential is currently valid and its
// expiry falls within the shunt window from now. Already-expired or invalid
// credentials report false: they are gone, not expiring.
func (p *TokenProvider) WillExpireSoon(tokenString string) bool {
	claims, err := p.Decode(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	now := time.Now()
	expiry := claims.ExpiresAt.Time
	shuntStart := expiry.Add(-p.shuntWindow)
	return !now.Before(shuntStart) && now.Before(expiry)
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
