package oauth

import (
	"testing"
	"time"

	"anthroproxy/internal/credential"
)

type memStore struct {
	m map[string]*credential.OAuthCredential
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]*credential.OAuthCredential)}
}

func (s *memStore) Get(key string) (*credential.OAuthCredential, bool, error) {
	c, ok := s.m[key]
	return c, ok, nil
}

func (s *memStore) Set(key string, cred *credential.OAuthCredential) error {
	s.m[key] = cred
	return nil
}

func (s *memStore) Remove(key string) error {
	delete(s.m, key)
	return nil
}

func (s *memStore) GetAll() (map[string]*credential.OAuthCredential, error) {
	return s.m, nil
}

func TestAccessToken_NoCredential(t *testing.T) {
	m := NewManager(newMemStore(), "k")
	if _, ok := m.AccessToken(); ok {
		t.Error("expected no access token when nothing is stored")
	}
}

func TestAccessToken_WrongType(t *testing.T) {
	store := newMemStore()
	store.m["k"] = &credential.OAuthCredential{Type: "api_key", AccessToken: "x", Expires: time.Now().Add(time.Hour).UnixMilli()}
	m := NewManager(store, "k")
	if _, ok := m.AccessToken(); ok {
		t.Error("expected no access token for non-oauth credential")
	}
}

func TestAccessToken_FarFutureExpiry(t *testing.T) {
	store := newMemStore()
	store.m["k"] = &credential.OAuthCredential{
		Type: credential.TypeOAuth, AccessToken: "abc", RefreshToken: "r",
		Expires: time.Now().Add(time.Hour).UnixMilli(),
	}
	m := NewManager(store, "k")
	token, ok := m.AccessToken()
	if !ok || token != "abc" {
		t.Errorf("AccessToken() = %q, %v; want abc, true", token, ok)
	}
}

func TestAccessToken_ExpiredNoRefreshToken(t *testing.T) {
	store := newMemStore()
	store.m["k"] = &credential.OAuthCredential{
		Type: credential.TypeOAuth, AccessToken: "abc",
		Expires: time.Now().Add(-time.Minute).UnixMilli(),
	}
	m := NewManager(store, "k")
	if _, ok := m.AccessToken(); ok {
		t.Error("expected no access token when expired with no refresh token")
	}
}

func TestAccessToken_ExpiryEqualsNow_IsExpired(t *testing.T) {
	store := newMemStore()
	now := time.Now().UnixMilli()
	store.m["k"] = &credential.OAuthCredential{
		Type: credential.TypeOAuth, AccessToken: "abc",
		Expires: now,
	}
	m := NewManager(store, "k")
	// expires == now must be treated as expired (strict greater-than), and
	// with no refresh token this must fail rather than return the stale token.
	if _, ok := m.AccessToken(); ok {
		t.Error("expires == now should be treated as expired")
	}
}
