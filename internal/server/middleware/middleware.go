// Package middleware holds the gin middleware chain: credential auth, the
// near-expiry refresh shunt, and per-request event emission.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/server/cookies"
	"auth-lifecycle/internal/telemetry"
	telemetrydomain "auth-lifecycle/internal/telemetry/domain"
	"auth-lifecycle/internal/token/service"
)

const (
	claimsKey    = "auth.claims"
	bearerPrefix = "bearer "
)

// Auth validates the access credential from the Authorization header or the
// access cookie and stores its claims in the request context. When required is
// false the request proceeds unauthenticated; handlers that need claims check
// for them.
func Auth(tokens *security.TokenProvider, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token, _ = c.Cookie(cookies.AccessToken)
		}
		if token != "" {
			if claims, err := tokens.Decode(token); err == nil {
				c.Set(claimsKey, claims)
				c.Next()
				return
			}
		}
		if required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		c.Next()
	}
}

// GetClaims returns the authenticated claims stored by Auth.
func GetClaims(c *gin.Context) (*security.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.Claims)
	return claims, ok
}

// RefreshShunt transparently rotates browser credentials that are about to
// expire. When the access cookie is inside the expiry window and a refresh
// cookie is present, the pair is rotated and fresh cookies are written before
// the handler runs; the still-valid old access credential authorizes this
// request. A rotation failure clears both cookies so the client re-authenticates.
func RefreshShunt(tokens *security.TokenProvider, tokenSvc *service.TokenService, cw cookies.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		access, err := c.Cookie(cookies.AccessToken)
		if err != nil || access == "" || !tokens.WillExpireSoon(access) {
			c.Next()
			return
		}
		refresh, err := c.Cookie(cookies.RefreshToken)
		if err != nil || refresh == "" {
			c.Next()
			return
		}
		pair, err := tokenSvc.Rotate(c.Request.Context(), refresh)
		if err != nil {
			cw.Clear(c)
			c.Next()
			return
		}
		cw.Set(c, pair)
		c.Next()
	}
}

// httpRequestMetadata is the JSON shape stored in LifecycleEvent.Metadata for
// http_request events.
type httpRequestMetadata struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// Telemetry emits one lifecycle event per request. Best-effort: failures are
// logged and never fail the request. If emitter is nil the middleware no-ops.
// skipPaths is the set of request paths to not emit (e.g. health checks).
func Telemetry(emitter telemetry.EventEmitter, skipPaths map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if emitter == nil || skipPaths[c.FullPath()] {
			return
		}
		meta := httpRequestMetadata{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			StatusCode: c.Writer.Status(),
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   c.ClientIP(),
		}
		metaJSON, _ := json.Marshal(meta)
		event := &telemetrydomain.LifecycleEvent{
			ID:        uuid.New().String(),
			EventType: "http_request",
			Source:    "http_middleware",
			Metadata:  metaJSON,
			CreatedAt: time.Now().UTC(),
		}
		if claims, ok := GetClaims(c); ok {
			event.SubjectID = claims.SubjectID()
		}
		telemetry.EmitAsync(emitter, c.Request.Context(), event)
	}
}

func bearerToken(c *gin.Context) string {
	v := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
