// Package oauth implements the OAuth Manager: it exposes the proxy's
// current Anthropic access token, transparently refreshing it when the
// stored credential is near or past expiry.
package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"anthroproxy/internal/config"
	"anthroproxy/internal/credential"
)

const (
	refreshLoopInterval = 15 * time.Minute
	refreshLookahead    = 5 * time.Minute
	httpTimeout         = 30 * time.Second
)

// Manager exposes the current Anthropic OAuth access token, refreshing it
// through the store when necessary. It never caches the decoded credential
// across calls -- the store is re-read on every AccessToken call, per
// spec §9's "global mutable credential" note, which avoids stale-cache
// refresh races at the cost of one extra store read per request.
type Manager struct {
	store      credential.Store
	key        string
	clientID   string
	tokenURL   string
	httpClient *http.Client

	refreshMu       sync.Mutex
	refreshInFlight map[string]chan struct{}

	pendingMu        sync.Mutex
	pendingVerifiers map[string]string
}

// NewManager returns a Manager reading/writing the given store key.
func NewManager(store credential.Store, key string) *Manager {
	return &Manager{
		store:           store,
		key:             key,
		clientID:        config.OAuthClientID(),
		tokenURL:        config.AnthropicTokenURL,
		httpClient:       &http.Client{Timeout: httpTimeout},
		refreshInFlight:  make(map[string]chan struct{}),
		pendingVerifiers: make(map[string]string),
	}
}

// Logout removes the stored credential.
func (m *Manager) Logout() error {
	return m.store.Remove(m.key)
}

// BeginAuthorization starts a PKCE authorization-code flow: it generates a
// verifier/challenge pair, stashes the verifier under a fresh session id,
// and returns the URL the user should visit plus that session id. The
// verifier is later redeemed by CompleteAuthorization.
func (m *Manager) BeginAuthorization() (authURL, sessionID string) {
	verifier := randomURLSafeString(64)
	challenge := pkceChallenge(verifier)
	sessionID = uuid.NewString()

	m.pendingMu.Lock()
	m.pendingVerifiers[sessionID] = verifier
	m.pendingMu.Unlock()

	q := url.Values{}
	q.Set("code", "true")
	q.Set("client_id", m.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", config.AnthropicOAuthRedirectURI)
	q.Set("scope", "org:create_api_key user:profile user:inference")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", sessionID)

	authURL = config.AnthropicAuthorizeURL + "?" + q.Encode()
	return authURL, sessionID
}

// CompleteAuthorization redeems an authorization code for tokens, using the
// verifier registered for sessionID by an earlier BeginAuthorization call.
// The proxy's callback endpoint packs "<code>#<sessionID>" into one string
// per Anthropic's console redirect convention, so callers pass those two
// parts already split.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, sessionID string) error {
	m.pendingMu.Lock()
	verifier, ok := m.pendingVerifiers[sessionID]
	if ok {
		delete(m.pendingVerifiers, sessionID)
	}
	m.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("oauth: unknown or expired authorization session")
	}

	reqBody, err := json.Marshal(struct {
		GrantType    string `json:"grant_type"`
		Code         string `json:"code"`
		State        string `json:"state"`
		ClientID     string `json:"client_id"`
		RedirectURI  string `json:"redirect_uri"`
		CodeVerifier string `json:"code_verifier"`
	}{
		GrantType:    "authorization_code",
		Code:         code,
		State:        sessionID,
		ClientID:     m.clientID,
		RedirectURI:  config.AnthropicOAuthRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		return fmt.Errorf("oauth: marshal authorization request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("oauth: build authorization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oauth: authorization request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("oauth: authorization rejected (%d): %s", resp.StatusCode, string(respBytes))
	}

	var parsed refreshResponseBody
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return fmt.Errorf("oauth: parse authorization response: %w", err)
	}

	newCred := &credential.OAuthCredential{
		Type:         credential.TypeOAuth,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		Expires:      time.Now().UnixMilli() + parsed.ExpiresIn*1000,
	}
	return m.store.Set(m.key, newCred)
}

func randomURLSafeString(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AccessToken returns the current usable access token, refreshing the
// stored credential if it has expired (expiry not strictly after now). A
// credential that is close to expiry but not yet past it is returned as is;
// refreshing ahead of expiry is left to StartRefreshLoop. Returns
// ok=false if there is no credential, it is not an OAuth credential, or
// it cannot be refreshed.
func (m *Manager) AccessToken() (token string, ok bool) {
	cred, found, _ := m.store.Get(m.key)
	if !found || cred == nil || cred.Type != credential.TypeOAuth {
		return "", false
	}

	if cred.Expires > time.Now().UnixMilli() {
		return cred.AccessToken, true
	}

	if cred.RefreshToken == "" {
		return "", false
	}

	refreshed, err := m.refresh(cred.RefreshToken)
	if err != nil {
		log.Printf("[oauth] refresh failed: %v", err)
		return "", false
	}
	return refreshed.AccessToken, true
}

// refreshRequestBody is the JSON body posted to the token endpoint.
type refreshRequestBody struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type refreshResponseBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refresh performs (or coalesces into an in-flight) token refresh and
// writes the new credential back to the store. Callers that arrive while a
// refresh for this manager's store key is in flight wait for it and share
// its HTTP round trip, then re-read the store; if that refresh failed, they
// get an error rather than the old expired credential. A caller whose stale
// read happens after the in-flight refresh has finished may still hit the
// upstream again -- the store is last-writer-wins and that race is
// tolerated, per spec §4.B.
func (m *Manager) refresh(refreshToken string) (*credential.OAuthCredential, error) {
	m.refreshMu.Lock()
	if ch, inFlight := m.refreshInFlight[m.key]; inFlight {
		m.refreshMu.Unlock()
		<-ch
		cred, found, _ := m.store.Get(m.key)
		if !found || cred == nil {
			return nil, fmt.Errorf("oauth: credential missing after concurrent refresh")
		}
		if cred.Expires <= time.Now().UnixMilli() {
			return nil, fmt.Errorf("oauth: concurrent refresh did not produce a fresh credential")
		}
		return cred, nil
	}
	ch := make(chan struct{})
	m.refreshInFlight[m.key] = ch
	m.refreshMu.Unlock()

	cred, err := m.doRefresh(refreshToken)

	m.refreshMu.Lock()
	delete(m.refreshInFlight, m.key)
	close(ch)
	m.refreshMu.Unlock()

	return cred, err
}

func (m *Manager) doRefresh(refreshToken string) (*credential.OAuthCredential, error) {
	body, err := json.Marshal(refreshRequestBody{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     m.clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("oauth: marshal refresh request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oauth: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oauth: refresh rejected (%d): %s", resp.StatusCode, string(respBytes))
	}

	var parsed refreshResponseBody
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("oauth: parse refresh response: %w", err)
	}

	newRefresh := parsed.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	newCred := &credential.OAuthCredential{
		Type:         credential.TypeOAuth,
		AccessToken:  parsed.AccessToken,
		RefreshToken: newRefresh,
		Expires:      time.Now().UnixMilli() + parsed.ExpiresIn*1000,
	}

	if err := m.store.Set(m.key, newCred); err != nil {
		log.Printf("[oauth] failed to persist refreshed credential: %v", err)
	}

	return newCred, nil
}

// StartRefreshLoop starts a background goroutine that opportunistically
// refreshes the stored credential shortly before it expires, so the hot
// path rarely blocks on a refresh round trip. This is a latency
// optimization only -- AccessToken performs the same refresh on demand,
// so correctness never depends on this loop running.
func (m *Manager) StartRefreshLoop() {
	go func() {
		m.maybeRefreshAhead()
		ticker := time.NewTicker(refreshLoopInterval)
		defer ticker.Stop()
		for range ticker.C {
			m.maybeRefreshAhead()
		}
	}()
	log.Printf("[oauth] background refresh loop started (interval: %s)", refreshLoopInterval)
}

func (m *Manager) maybeRefreshAhead() {
	cred, found, _ := m.store.Get(m.key)
	if !found || cred == nil || cred.Type != credential.TypeOAuth || cred.RefreshToken == "" {
		return
	}
	if cred.Expires-refreshLookahead.Milliseconds() > time.Now().UnixMilli() {
		return
	}
	if _, err := m.refresh(cred.RefreshToken); err != nil {
		log.Printf("[oauth] background refresh failed: %v", err)
	}
}
