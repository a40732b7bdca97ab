// Package httpapi wires the route table, CORS, and streaming response
// writer around the request pipeline.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"anthroproxy/internal/oauth"
	"anthroproxy/internal/pipeline"
	"anthroproxy/internal/streamconv"
	"anthroproxy/internal/thinkingcache"
)

// Server holds the collaborators the HTTP surface needs.
type Server struct {
	Pipeline  *pipeline.Pipeline
	OAuth     *oauth.Manager
	Cache     *thinkingcache.Cache
	catalogue *catalogueCache
}

// New returns a Server with its route table ready to mount.
func New(p *pipeline.Pipeline, oauthMgr *oauth.Manager, cache *thinkingcache.Cache) *Server {
	return &Server{Pipeline: p, OAuth: oauthMgr, Cache: cache, catalogue: newCatalogueCache()}
}

// Handler builds the top-level http.Handler for the proxy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleLoginPage)
	mux.HandleFunc("GET /index.html", s.handleLoginPage)

	mux.HandleFunc("POST /auth/oauth/start", s.handleOAuthStart)
	mux.HandleFunc("POST /auth/oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("POST /auth/login/start", s.handleLoginStart)
	mux.HandleFunc("GET /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/status", s.handleAuthStatus)

	mux.HandleFunc("GET /v1", s.handleStatus)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	mux.HandleFunc("POST /v1/chat/completions", s.handleCompletions)
	mux.HandleFunc("POST /v1/messages", s.handleCompletions)
	mux.HandleFunc("GET /v1/chat/completions", methodNotAllowed)
	mux.HandleFunc("GET /v1/messages", methodNotAllowed)

	mux.HandleFunc("/", s.handleNotFound)

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		s.handleNotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, loginPageHTML)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"error": map[string]any{
			"type":    "invalid_request_error",
			"message": "this endpoint only accepts POST",
		},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{
			"type":    "invalid_request_error",
			"message": "unknown endpoint",
		},
		"available_endpoints": []string{
			"/", "/auth/oauth/start", "/auth/oauth/callback", "/auth/login/start",
			"/auth/logout", "/auth/status", "/v1", "/v1/models",
			"/v1/chat/completions", "/v1/messages",
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, authenticated := s.OAuth.AccessToken()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                    "ok",
		"authenticated":             authenticated,
		"persistent_thinking_cache": s.Cache.HasPersistentTier(),
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	_, authenticated := s.OAuth.AccessToken()
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": authenticated})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.OAuth.Logout(); err != nil {
		log.Printf("[httpapi] logout failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	authURL, sessionID := s.OAuth.BeginAuthorization()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"authUrl":   authURL,
		"sessionId": sessionID,
	})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "missing code"},
		})
		return
	}

	code, sessionID, _ := strings.Cut(body.Code, "#")
	if err := s.OAuth.CompleteAuthorization(r.Context(), code, sessionID); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	// The interactive device-flow dance (opening a browser, polling for
	// completion) runs outside this process; this endpoint only reports
	// whether a usable credential already exists.
	_, authenticated := s.OAuth.AccessToken()
	writeJSON(w, http.StatusOK, map[string]any{"success": authenticated})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalogue.Get(r.Context()))
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "failed to read request body"},
		})
		return
	}

	resp := s.Pipeline.Handle(r.Context(), pipeline.Request{
		Path:                r.URL.Path,
		AuthorizationHeader: r.Header.Get("Authorization"),
		Body:                bodyBytes,
	})

	if resp.IsStream {
		if resp.RawStream != nil {
			s.writeRawStream(w, resp)
			return
		}
		s.writeStream(w, resp)
		return
	}
	writeJSON(w, resp.Status, resp.JSON, resp.UpstreamHeader)
}

// writeRawStream copies an upstream SSE body through to the client
// unchanged, for the native-Anthropic-format streaming passthrough path.
func (s *Server) writeRawStream(w http.ResponseWriter, resp pipeline.Response) {
	defer resp.RawStream.Close()

	forwardHeaders(w.Header(), resp.UpstreamHeader)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.RawStream.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// writeStream drains resp.StreamEvents to the client as SSE, flushing
// after every event. These are re-encoded OpenAI chunks, so no upstream
// headers are forwarded here.
func (s *Server) writeStream(w http.ResponseWriter, resp pipeline.Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for event := range resp.StreamEvents {
		if event.Done {
			w.Write(streamconv.DoneLine)
			if flusher != nil {
				flusher.Flush()
			}
			continue
		}
		line, err := streamconv.MarshalChunk(event.Chunk)
		if err != nil {
			continue
		}
		w.Write(line)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// forwardHeaders copies upstream response headers onto w's header set.
func forwardHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any, upstreamHeader ...http.Header) {
	if len(upstreamHeader) > 0 {
		forwardHeaders(w.Header(), upstreamHeader[0])
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if body == nil {
		body = map[string]any{}
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[httpapi] failed to encode response: %v", err)
	}
}
