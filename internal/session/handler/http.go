// Package handler exposes the session authority over HTTP.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"auth-lifecycle/internal/geo"
	"auth-lifecycle/internal/server/cookies"
	"auth-lifecycle/internal/server/middleware"
	"auth-lifecycle/internal/session/domain"
	"auth-lifecycle/internal/session/service"
	"auth-lifecycle/internal/telemetry"
	telemetrydomain "auth-lifecycle/internal/telemetry/domain"
)

// Handler serves session creation, heartbeats, queries, and termination.
type Handler struct {
	service *service.SessionService
	cookies cookies.Writer
	emitter telemetry.EventEmitter

	heartbeatInterval time.Duration
	livenessWindow    time.Duration
}

// NewHandler wires the session HTTP handler. emitter may be nil.
func NewHandler(svc *service.SessionService, cw cookies.Writer, emitter telemetry.EventEmitter, heartbeatInterval, livenessWindow time.Duration) *Handler {
	return &Handler{
		service:           svc,
		cookies:           cw,
		emitter:           emitter,
		heartbeatInterval: heartbeatInterval,
		livenessWindow:    livenessWindow,
	}
}

// RegisterPublicRoutes mounts the endpoints a device calls with only its session id.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("/:id/heartbeat", h.HeartBeat)
		sessions.GET("/:id/valid", h.Validity)
	}
}

// RegisterProtectedRoutes mounts the endpoints that require an access credential.
func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.ListAlive)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.End)
		sessions.DELETE("", h.EndAll)
	}
}

type pointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type createSessionRequest struct {
	DeviceID        string    `json:"device_id" binding:"required"`
	Platform        string    `json:"platform" binding:"required"`
	UserAgent       string    `json:"user_agent"`
	OperatingSystem string    `json:"operating_system"`
	Language        string    `json:"language"`
	Location        *pointDTO `json:"location"`
}

type heartbeatRequest struct {
	Location       *pointDTO `json:"location"`
	ForceTerminate bool      `json:"force_terminate"`
}

type sessionResponse struct {
	ID                 string      `json:"id"`
	SubjectID          string      `json:"subject_id"`
	DeviceID           string      `json:"device_id"`
	Platform           string      `json:"platform"`
	State              string      `json:"state"`
	Suspicious         bool        `json:"suspicious"`
	Terminated         bool        `json:"terminated"`
	CurrentGeolocation *pointDTO   `json:"current_geolocation,omitempty"`
	GeolocationHistory []pointDTO  `json:"geolocation_history"`
	SessionDurationMS  int64       `json:"session_duration_ms"`
	CreatedAt          time.Time   `json:"created_at"`
	LastUpdated        time.Time   `json:"last_updated"`
}

func (h *Handler) toSessionResponse(s *domain.Session) sessionResponse {
	out := sessionResponse{
		ID:                 s.ID,
		SubjectID:          s.SubjectID,
		DeviceID:           s.DeviceID,
		Platform:           s.Platform,
		State:              string(s.State(time.Now().UTC(), h.heartbeatInterval, h.livenessWindow)),
		Suspicious:         s.Suspicious,
		Terminated:         s.Terminated,
		SessionDurationMS:  s.SessionDurationMS,
		CreatedAt:          s.CreatedAt,
		LastUpdated:        s.LastUpdated,
		GeolocationHistory: make([]pointDTO, 0, len(s.GeolocationHistory)),
	}
	for _, p := range s.GeolocationHistory {
		out.GeolocationHistory = append(out.GeolocationHistory, pointDTO{Lat: p.Lat, Lng: p.Lng})
	}
	if s.CurrentGeolocation != nil {
		out.CurrentGeolocation = &pointDTO{Lat: s.CurrentGeolocation.Lat, Lng: s.CurrentGeolocation.Lng}
	}
	return out
}

func toPoint(dto *pointDTO) *geo.Point {
	if dto == nil {
		return nil
	}
	return &geo.Point{Lat: dto.Lat, Lng: dto.Lng}
}

// Create starts tracking the caller's device.
func (h *Handler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), service.CreateSessionInput{
		SubjectID:       claims.SubjectID(),
		DeviceID:        req.DeviceID,
		Platform:        req.Platform,
		UserAgent:       req.UserAgent,
		OperatingSystem: req.OperatingSystem,
		Language:        req.Language,
		IPAddress:       c.ClientIP(),
		Location:        toPoint(req.Location),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, h.toSessionResponse(session))
}

// HeartBeat resolves one device heartbeat. When the anomaly response fires the
// credential cookies are cleared along with everything the subject held.
func (h *Handler) HeartBeat(c *gin.Context) {
	var req heartbeatRequest
	_ = c.ShouldBindJSON(&req)

	res, err := h.service.ResolveHeartBeat(c.Request.Context(), service.HeartBeatInput{
		SessionID:      c.Param("id"),
		IPAddress:      c.ClientIP(),
		Location:       toPoint(req.Location),
		ForceTerminate: req.ForceTerminate,
	})
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve heartbeat"})
		return
	}
	if res.ClearCredentials {
		h.cookies.Clear(c)
	}
	if res.ClearCredentials && res.Session.Suspicious {
		telemetry.EmitAsync(h.emitter, c.Request.Context(), &telemetrydomain.LifecycleEvent{
			ID:        uuid.New().String(),
			SubjectID: res.Session.SubjectID,
			SessionID: res.Session.ID,
			EventType: "session.anomaly",
			Source:    "session_handler",
			CreatedAt: time.Now().UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"session":           h.toSessionResponse(res.Session),
		"clear_credentials": res.ClearCredentials,
	})
}

// Get returns one session.
func (h *Handler) Get(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, h.toSessionResponse(session))
}

// ListAlive returns the caller's alive sessions.
func (h *Handler) ListAlive(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	sessions, err := h.service.ListAliveForSubject(c.Request.Context(), claims.SubjectID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, h.toSessionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// End terminates one session.
func (h *Handler) End(c *gin.Context) {
	ended, err := h.service.EndSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": ended})
}

// EndAll terminates every alive session the caller holds.
func (h *Handler) EndAll(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	if err := h.service.EndAllSessionsForSubject(c.Request.Context(), claims.SubjectID()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end sessions"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Validity reports whether the session is alive and unflagged.
func (h *Handler) Validity(c *gin.Context) {
	valid := h.service.IsSessionValid(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
