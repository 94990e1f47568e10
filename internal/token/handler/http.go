// Package handler exposes the token authority over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"auth-lifecycle/internal/identity"
	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/server/cookies"
	"auth-lifecycle/internal/server/middleware"
	"auth-lifecycle/internal/telemetry"
	telemetrydomain "auth-lifecycle/internal/telemetry/domain"
	"auth-lifecycle/internal/token/service"
)

// SessionEnder ends every session a subject holds; used when an account is
// suspended.
type SessionEnder interface {
	EndAllSessionsForSubject(ctx context.Context, subjectID string) error
}

// Handler serves credential issuance, rotation, and revocation.
type Handler struct {
	service  *service.TokenService
	idp      identity.Provider
	sessions SessionEnder
	cookies  cookies.Writer
	emitter  telemetry.EventEmitter
}

// NewHandler wires the token HTTP handler. emitter may be nil.
func NewHandler(svc *service.TokenService, idp identity.Provider, sessions SessionEnder, cw cookies.Writer, emitter telemetry.EventEmitter) *Handler {
	return &Handler{service: svc, idp: idp, sessions: sessions, cookies: cw, emitter: emitter}
}

func (h *Handler) emitEvent(c *gin.Context, subjectID, eventType string, metadata json.RawMessage) {
	telemetry.EmitAsync(h.emitter, c.Request.Context(), &telemetrydomain.LifecycleEvent{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		EventType: eventType,
		Source:    "token_handler",
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
}

// RegisterPublicRoutes mounts the endpoints that do not require an access credential.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	tokens := rg.Group("/tokens")
	{
		tokens.POST("", h.Exchange)
		tokens.POST("/refresh", h.Refresh)
	}
}

// RegisterProtectedRoutes mounts the endpoints that require an access credential.
func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	tokens := rg.Group("/tokens")
	{
		tokens.POST("/revoke", h.Revoke)
		tokens.POST("/revoke-all", h.RevokeAll)
		tokens.GET("/records/:id/valid", h.RecordValidity)
	}
	subjects := rg.Group("/subjects")
	{
		subjects.POST("/:id/suspend", h.Suspend)
		subjects.POST("/:id/reinstate", h.Reinstate)
	}
}

type exchangeRequest struct {
	ExternalToken string `json:"external_token" binding:"required"`
	Role          string `json:"role"`
	Audience      string `json:"audience"`
}

type credentialResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshID        string    `json:"refresh_id"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toCredentialResponse(pair *service.CredentialPair) credentialResponse {
	return credentialResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshID:        pair.RefreshID,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// Exchange verifies an identity-provider token and issues a local credential
// pair for its subject. The pair is returned in the body and set as cookies.
func (h *Handler) Exchange(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	role := security.RoleBasic
	if req.Role != "" {
		parsed, ok := security.ParseRole(req.Role)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
			return
		}
		role = parsed
	}

	claims, err := h.idp.VerifyExternalToken(c.Request.Context(), req.ExternalToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity provider unavailable"})
		return
	}
	if claims == nil || claims.SubjectID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "external token rejected"})
		return
	}

	pair, err := h.service.IssueTokens(c.Request.Context(), claims.SubjectID, role, req.Audience)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credentials"})
		return
	}
	h.cookies.Set(c, pair)
	h.emitEvent(c, pair.SubjectID, "token.issue", nil)
	c.JSON(http.StatusCreated, toCredentialResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh credential, from the body or the refresh cookie.
// A rejected credential clears both cookies.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)
	refresh := req.RefreshToken
	if refresh == "" {
		refresh, _ = c.Cookie(cookies.RefreshToken)
	}
	if refresh == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh token required"})
		return
	}

	pair, err := h.service.Rotate(c.Request.Context(), refresh)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			h.cookies.Clear(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate credentials"})
		return
	}
	h.cookies.Set(c, pair)
	h.emitEvent(c, pair.SubjectID, "token.rotate", nil)
	c.JSON(http.StatusOK, toCredentialResponse(pair))
}

type revokeRequest struct {
	ID string `json:"id" binding:"required"`
}

// Revoke invalidates one refresh record by id.
func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	revoked, err := h.service.InvalidateRefreshToken(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke"})
		return
	}
	if revoked {
		h.emitEvent(c, "", "token.revoke", json.RawMessage(fmt.Sprintf(`{"record_id":%q}`, req.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// RevokeAll invalidates every refresh record the caller holds and clears the
// caller's cookies.
func (h *Handler) RevokeAll(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	if err := h.service.InvalidateAllForSubject(c.Request.Context(), claims.SubjectID()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke"})
		return
	}
	h.cookies.Clear(c)
	h.emitEvent(c, claims.SubjectID(), "token.revoke_all", nil)
	c.Status(http.StatusNoContent)
}

// Suspend disables the subject's account at the identity provider, revokes
// every refresh credential, and ends every session. Admin only.
func (h *Handler) Suspend(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	if claims.Role != security.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	subjectID := c.Param("id")
	if err := h.idp.DisableUser(c.Request.Context(), subjectID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity provider unavailable"})
		return
	}
	if err := h.service.InvalidateAllForSubject(c.Request.Context(), subjectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke"})
		return
	}
	if err := h.sessions.EndAllSessionsForSubject(c.Request.Context(), subjectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end sessions"})
		return
	}
	h.emitEvent(c, subjectID, "token.revoke_all", nil)
	c.Status(http.StatusNoContent)
}

// Reinstate lifts a suspension at the identity provider. Admin only.
func (h *Handler) Reinstate(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	if claims.Role != security.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	if err := h.idp.EnableUser(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity provider unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RecordValidity reports whether a refresh record is still rotatable.
func (h *Handler) RecordValidity(c *gin.Context) {
	valid := h.service.IsRefreshTokenRecordValid(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
