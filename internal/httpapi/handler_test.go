package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anthroproxy/internal/credential"
	"anthroproxy/internal/oauth"
	"anthroproxy/internal/pipeline"
	"anthroproxy/internal/thinkingcache"
)

type memStore struct {
	cred *credential.OAuthCredential
}

func (s *memStore) Get(key string) (*credential.OAuthCredential, bool, error) {
	if s.cred == nil {
		return nil, false, nil
	}
	return s.cred, true, nil
}
func (s *memStore) Set(key string, cred *credential.OAuthCredential) error { s.cred = cred; return nil }
func (s *memStore) Remove(key string) error                               { s.cred = nil; return nil }
func (s *memStore) GetAll() (map[string]*credential.OAuthCredential, error) {
	return map[string]*credential.OAuthCredential{}, nil
}

func newTestServer(authenticated bool) *Server {
	store := &memStore{}
	if authenticated {
		store.cred = &credential.OAuthCredential{
			Type: credential.TypeOAuth, AccessToken: "tok", RefreshToken: "r",
			Expires: time.Now().Add(time.Hour).UnixMilli(),
		}
	}
	mgr := oauth.NewManager(store, "k")
	cache := thinkingcache.New(nil, 0)
	return New(pipeline.New(mgr, cache), mgr, cache)
}

func TestHandler_UnknownRoute404(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Code = %d, want 404", rec.Code)
	}
}

func TestHandler_AuthStatus(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Code = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", body["authenticated"])
	}
}

func TestHandler_ChatCompletionsGET_MethodNotAllowed(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Code = %d, want 405", rec.Code)
	}
}

func TestHandler_CompletionsPOST_SelectiveGateway404(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Code = %d, want 404", rec.Code)
	}
}

func TestHandler_OptionsPreflight(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Code = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}

func TestHandler_ModelsList(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Code = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) == 0 {
		t.Errorf("expected non-empty data list, got %+v", body)
	}
}

func TestHandler_OAuthStart_ReturnsSessionAndURL(t *testing.T) {
	s := newTestServer(false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/oauth/start", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Code = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["sessionId"] == "" || body["authUrl"] == "" {
		t.Errorf("expected sessionId and authUrl, got %+v", body)
	}
}

func TestHandler_Logout(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Code = %d, want 200", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	s.Handler().ServeHTTP(rec2, req2)
	var body map[string]any
	json.Unmarshal(rec2.Body.Bytes(), &body)
	if body["authenticated"] != false {
		t.Errorf("expected logged out, got %+v", body)
	}
}
