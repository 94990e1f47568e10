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

	"auth-lifecycle/internal/identity"
	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/server/cookies"
	"auth-lifecycle/internal/server/middleware"
	telemetrydomain "auth-lifecycle/internal/telemetry/domain"
	"auth-lifecycle/internal/token/domain"
	"auth-lifecycle/internal/token/service"
)

type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[string]*domain.RefreshRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: map[string]*domain.RefreshRecord{}}
}

func (f *fakeRecordRepo) GetByID(_ context.Context, id string) (*domain.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecordRepo) Create(_ context.Context, r *domain.RefreshRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.records[r.ID] = &cp
	return nil
}

func (f *fakeRecordRepo) Invalidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		r.Invalidated = true
	}
	return nil
}

func (f *fakeRecordRepo) ListActiveBySubject(_ context.Context, subjectID string) ([]*domain.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.RefreshRecord
	for _, r := range f.records {
		if r.SubjectID == subjectID && !r.Invalidated {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type verifyingProvider struct {
	identity.NoopProvider
	subjectID string
}

func (p verifyingProvider) VerifyExternalToken(context.Context, string) (*identity.ExternalClaims, error) {
	if p.subjectID == "" {
		return nil, nil
	}
	return &identity.ExternalClaims{SubjectID: p.subjectID}, nil
}

type noopAudit struct{}

func (noopAudit) LogEvent(context.Context, string, string, string, string) {}

type fakeSessionEnder struct {
	mu    sync.Mutex
	ended []string
}

func (f *fakeSessionEnder) EndAllSessionsForSubject(_ context.Context, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, subjectID)
	return nil
}

func newTestRouter(t *testing.T, idp identity.Provider) (*gin.Engine, *service.TokenService, *security.TokenProvider, *fakeSessionEnder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	svc := service.NewTokenService(newFakeRecordRepo(), tokens, idp, noopAudit{})
	ender := &fakeSessionEnder{}
	h := NewHandler(svc, idp, ender, cookies.NewWriter(false), nil)

	r := gin.New()
	v1 := r.Group("/v1")
	public := v1.Group("")
	public.Use(middleware.Auth(tokens, false))
	h.RegisterPublicRoutes(public)
	protected := v1.Group("")
	protected.Use(middleware.Auth(tokens, true))
	h.RegisterProtectedRoutes(protected)
	return r, svc, tokens, ender
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Exchange(t *testing.T) {
	r, _, _, _ := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	w := postJSON(t, r, "/v1/tokens", gin.H{"external_token": "ext", "role": "CREATOR", "audience": "web"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		RefreshID    string `json:"refresh_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.RefreshID == "" {
		t.Errorf("incomplete pair: %+v", resp)
	}

	// Both credential cookies are set.
	got := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		got[c.Name] = c.HttpOnly
	}
	for _, name := range []string{cookies.AccessToken, cookies.RefreshToken} {
		if httpOnly, ok := got[name]; !ok || !httpOnly {
			t.Errorf("cookie %s missing or not HttpOnly", name)
		}
	}
}

func TestHandler_ExchangeRejected(t *testing.T) {
	r, _, _, _ := newTestRouter(t, verifyingProvider{})

	w := postJSON(t, r, "/v1/tokens", gin.H{"external_token": "bad"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_ExchangeUnknownRole(t *testing.T) {
	r, _, _, _ := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	w := postJSON(t, r, "/v1/tokens", gin.H{"external_token": "ext", "role": "SUPERUSER"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandler_Refresh(t *testing.T) {
	r, svc, _, _ := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	pair, err := svc.IssueTokens(context.Background(), "u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}

	w := postJSON(t, r, "/v1/tokens/refresh", gin.H{"refresh_token": pair.RefreshToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// The consumed credential is single-use.
	w = postJSON(t, r, "/v1/tokens/refresh", gin.H{"refresh_token": pair.RefreshToken}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replayed refresh status = %d, want 401", w.Code)
	}
	// The rejection clears both cookies.
	for _, c := range w.Result().Cookies() {
		if c.Value != "" {
			t.Errorf("cookie %s not cleared", c.Name)
		}
	}
}

func TestHandler_RevokeAllRequiresAuth(t *testing.T) {
	r, _, _, _ := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	w := postJSON(t, r, "/v1/tokens/revoke-all", gin.H{}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_RevokeAll(t *testing.T) {
	r, svc, tokens, _ := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	pair, err := svc.IssueTokens(context.Background(), "u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	access, _, err := tokens.IssueAccess("u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+access)
	w := postJSON(t, r, "/v1/tokens/revoke-all", gin.H{}, header)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if svc.IsRefreshTokenRecordValid(context.Background(), pair.RefreshID) {
		t.Error("record still valid after revoke-all")
	}
}

func TestHandler_SuspendRequiresAdmin(t *testing.T) {
	r, _, tokens, ender := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	access, _, err := tokens.IssueAccess("u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+access)
	w := postJSON(t, r, "/v1/subjects/u2/suspend", gin.H{}, header)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if len(ender.ended) != 0 {
		t.Errorf("sessions ended by non-admin: %v", ender.ended)
	}
}

func TestHandler_Suspend(t *testing.T) {
	r, svc, tokens, ender := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	pair, err := svc.IssueTokens(context.Background(), "u2", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	access, _, err := tokens.IssueAccess("admin", security.RoleAdmin, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+access)
	w := postJSON(t, r, "/v1/subjects/u2/suspend", gin.H{}, header)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if svc.IsRefreshTokenRecordValid(context.Background(), pair.RefreshID) {
		t.Error("record still valid after suspension")
	}
	if len(ender.ended) != 1 || ender.ended[0] != "u2" {
		t.Errorf("ended subjects = %v, want [u2]", ender.ended)
	}

	w = postJSON(t, r, "/v1/subjects/u2/reinstate", gin.H{}, header)
	if w.Code != http.StatusNoContent {
		t.Errorf("reinstate status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandler_RecordValidity(t *testing.T) {
	r, svc, tokens, _ := newTestRouter(t, verifyingProvider{subjectID: "u1"})

	pair, err := svc.IssueTokens(context.Background(), "u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	access, _, err := tokens.IssueAccess("u1", security.RoleBasic, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/tokens/records/"+pair.RefreshID+"/valid", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
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
		t.Error("fresh record reported invalid")
	}
}

type chanEmitter struct {
	events chan *telemetrydomain.LifecycleEvent
}

func (e *chanEmitter) Emit(_ context.Context, event *telemetrydomain.LifecycleEvent) error {
	e.events <- event
	return nil
}

func awaitEvent(t *testing.T, emitter *chanEmitter) *telemetrydomain.LifecycleEvent {
	t.Helper()
	select {
	case event := <-emitter.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no lifecycle event emitted")
		return nil
	}
}

func TestHandler_LifecycleEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	idp := verifyingProvider{subjectID: "u1"}
	svc := service.NewTokenService(newFakeRecordRepo(), tokens, idp, noopAudit{})
	emitter := &chanEmitter{events: make(chan *telemetrydomain.LifecycleEvent, 8)}
	h := NewHandler(svc, idp, &fakeSessionEnder{}, cookies.NewWriter(false), emitter)

	r := gin.New()
	v1 := r.Group("/v1")
	public := v1.Group("")
	public.Use(middleware.Auth(tokens, false))
	h.RegisterPublicRoutes(public)

	w := postJSON(t, r, "/v1/tokens", gin.H{"external_token": "ext"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("exchange status = %d, body = %s", w.Code, w.Body.String())
	}
	event := awaitEvent(t, emitter)
	if event.EventType != "token.issue" || event.SubjectID != "u1" {
		t.Errorf("event = %s for %s, want token.issue for u1", event.EventType, event.SubjectID)
	}

	var resp struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	w = postJSON(t, r, "/v1/tokens/refresh", gin.H{"refresh_token": resp.RefreshToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", w.Code, w.Body.String())
	}
	event = awaitEvent(t, emitter)
	if event.EventType != "token.rotate" || event.SubjectID != "u1" {
		t.Errorf("event = %s for %s, want token.rotate for u1", event.EventType, event.SubjectID)
	}
}
