package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"auth-lifecycle/internal/anomaly"
	"auth-lifecycle/internal/geo"
	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/server/cookies"
	"auth-lifecycle/internal/server/middleware"
	"auth-lifecycle/internal/session/domain"
	"auth-lifecycle/internal/session/service"
)

const (
	heartbeatInterval = time.Minute
	livenessWindow    = 30 * time.Minute
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*domain.Session{}}
}

func (f *fakeSessionRepo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) Create(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) Update(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) Terminate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Terminated = true
	}
	return nil
}

func (f *fakeSessionRepo) CurrentForDevice(_ context.Context, deviceID string, aliveAfter time.Time) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.DeviceID == deviceID && !s.Terminated && s.LastUpdated.After(aliveAfter) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionRepo) ListAliveBySubject(_ context.Context, subjectID string, aliveAfter time.Time) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for _, s := range f.sessions {
		if s.SubjectID == subjectID && !s.Terminated && s.LastUpdated.After(aliveAfter) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []string
}

func (f *fakeRevoker) InvalidateAllForSubject(_ context.Context, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, subjectID)
	return nil
}

type noopAudit struct{}

func (noopAudit) LogEvent(context.Context, string, string, string, string) {}

func newTestRouter(t *testing.T) (*gin.Engine, *service.SessionService, *security.TokenProvider, *fakeRevoker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	revoker := &fakeRevoker{}
	svc := service.NewSessionService(
		newFakeSessionRepo(), revoker,
		anomaly.NewBuiltinEvaluator(200, 0.25), noopAudit{},
		heartbeatInterval, livenessWindow,
	)
	h := NewHandler(svc, cookies.NewWriter(false), nil, heartbeatInterval, livenessWindow)

	r := gin.New()
	v1 := r.Group("/v1")
	public := v1.Group("")
	public.Use(middleware.Auth(tokens, false))
	h.RegisterPublicRoutes(public)
	protected := v1.Group("")
	protected.Use(middleware.Auth(tokens, true))
	h.RegisterProtectedRoutes(protected)
	return r, svc, tokens, revoker
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, accessToken string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateRequiresAuth(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/sessions", gin.H{"device_id": "d1", "platform": "web"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_CreateAndGet(t *testing.T) {
	r, _, tokens, _ := newTestRouter(t)
	access, _, err := tokens.IssueAccess("u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/v1/sessions", gin.H{
		"device_id": "d1", "platform": "web",
		"location": gin.H{"lat": 40.7, "lng": -74.0},
	}, access)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var created struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.State != "ACTIVE" {
		t.Errorf("created = %+v", created)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/sessions/"+created.ID, nil, access)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
}

func TestHandler_HeartBeatAnomalyClearsCookies(t *testing.T) {
	r, svc, _, revoker := newTestRouter(t)

	session, err := svc.CreateSession(context.Background(), service.CreateSessionInput{
		SubjectID: "u1", DeviceID: "d1", Platform: "web",
		Location: &geo.Point{Lat: 0, Lng: 0},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// ~201 km north of the recorded point: over the anomaly threshold.
	w := doJSON(t, r, http.MethodPost, "/v1/sessions/"+session.ID+"/heartbeat", gin.H{
		"location": gin.H{"lat": 1.81, "lng": 0},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		ClearCredentials bool `json:"clear_credentials"`
		Session          struct {
			Suspicious bool `json:"suspicious"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.ClearCredentials || !resp.Session.Suspicious {
		t.Errorf("response = %+v, want cleared and suspicious", resp)
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != "u1" {
		t.Errorf("revocations = %v, want [u1]", revoker.revoked)
	}

	// Both credential cookies are expired on the response.
	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		cleared[c.Name] = c.Value == ""
	}
	for _, name := range []string{cookies.AccessToken, cookies.RefreshToken} {
		if !cleared[name] {
			t.Errorf("cookie %s not cleared", name)
		}
	}
}

func TestHandler_HeartBeatForceTerminate(t *testing.T) {
	r, svc, _, revoker := newTestRouter(t)

	session, err := svc.CreateSession(context.Background(), service.CreateSessionInput{
		SubjectID: "u1", DeviceID: "d1", Platform: "web",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/v1/sessions/"+session.ID+"/heartbeat", gin.H{
		"force_terminate": true,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		ClearCredentials bool `json:"clear_credentials"`
		Session          struct {
			Terminated bool `json:"terminated"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.ClearCredentials || !resp.Session.Terminated {
		t.Errorf("response = %+v, want cleared and terminated", resp)
	}
	// Only the caller's credentials are dropped; no subject-wide revocation.
	if len(revoker.revoked) != 0 {
		t.Errorf("revocations = %v, want none", revoker.revoked)
	}
	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		cleared[c.Name] = c.Value == ""
	}
	for _, name := range []string{cookies.AccessToken, cookies.RefreshToken} {
		if !cleared[name] {
			t.Errorf("cookie %s not cleared", name)
		}
	}
}

func TestHandler_HeartBeatUnknownSession(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/sessions/missing/heartbeat", gin.H{}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandler_Validity(t *testing.T) {
	r, svc, _, _ := newTestRouter(t)

	session, err := svc.CreateSession(context.Background(), service.CreateSessionInput{
		SubjectID: "u1", DeviceID: "d1", Platform: "web",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/sessions/"+session.ID+"/valid", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Valid {
		t.Error("fresh session reported invalid")
	}

	w = doJSON(t, r, http.MethodGet, "/v1/sessions/missing/valid", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp.Valid = true
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Valid {
		t.Error("missing session reported valid")
	}
}

func TestHandler_EndAll(t *testing.T) {
	r, svc, tokens, _ := newTestRouter(t)
	access, _, err := tokens.IssueAccess("u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	var ids []string
	for _, device := range []string{"d1", "d2"} {
		s, err := svc.CreateSession(context.Background(), service.CreateSessionInput{
			SubjectID: "u1", DeviceID: device, Platform: "web",
		})
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, s.ID)
	}

	w := doJSON(t, r, http.MethodDelete, "/v1/sessions", nil, access)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	for _, id := range ids {
		if svc.IsSessionValid(context.Background(), id) {
			t.Errorf("session %s still valid", id)
		}
	}
}
