// Package pipeline orchestrates one inbound chat-completion request end to
// end: authorization, model-variant resolution, body rewriting, token
// acquisition, thinking-cache injection, upstream dispatch, and response
// translation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"slices"
	"strings"

	"anthroproxy/internal/anthropicapi"
	"anthroproxy/internal/config"
	"anthroproxy/internal/contextinfo"
	"anthroproxy/internal/jsonutil"
	"anthroproxy/internal/oauth"
	"anthroproxy/internal/streamconv"
	"anthroproxy/internal/thinkingcache"
	"anthroproxy/internal/variant"
)

// personaLine is prepended to the system prompt so the upstream account
// recognizes the caller as the first-party CLI, which OAuth-bearer access
// requires.
const personaLine = "You are Claude Code, Anthropic's official CLI for Claude."

const defaultMaxTokens = 4096

// byokProbeResponse is the canned non-streaming success body (an OpenAI
// chat.completion object) returned to a BYOK key-validation probe that did
// not ask to stream; byokProbeStreamResponse is the streaming counterpart.
var byokProbeResponse = map[string]any{
	"id":      "chatcmpl-byok-probe",
	"object":  "chat.completion",
	"created": float64(0),
	"model":   "claude-sonnet-4-5",
	"choices": []any{
		map[string]any{
			"index":         float64(0),
			"message":       map[string]any{"role": "assistant", "content": "OK"},
			"finish_reason": "stop",
		},
	},
	"usage": map[string]any{"prompt_tokens": float64(0), "completion_tokens": float64(1), "total_tokens": float64(1)},
}

// byokProbeStreamResponse renders the same canned probe reply as a single
// OpenAI chat-completion.chunk followed by [DONE], for callers that probe
// with "stream": true.
func byokProbeStreamResponse() Response {
	events := make(chan streamconv.Event, 2)
	events <- streamconv.Event{Chunk: map[string]any{
		"id":      "chatcmpl-byok-probe",
		"object":  "chat.completion.chunk",
		"created": float64(0),
		"model":   "claude-sonnet-4-5",
		"choices": []any{
			map[string]any{
				"index":         float64(0),
				"delta":         map[string]any{"role": "assistant", "content": "OK"},
				"finish_reason": "stop",
			},
		},
	}}
	events <- streamconv.Event{Done: true}
	close(events)
	return Response{Status: http.StatusOK, IsStream: true, StreamEvents: events}
}

// Pipeline holds the collaborators a request needs: the OAuth manager for
// the bearer token, and the thinking-block cache for injection/write-back.
type Pipeline struct {
	OAuth *oauth.Manager
	Cache *thinkingcache.Cache
}

// New returns a Pipeline.
func New(oauthMgr *oauth.Manager, cache *thinkingcache.Cache) *Pipeline {
	return &Pipeline{OAuth: oauthMgr, Cache: cache}
}

// Request is one inbound request to run through the pipeline.
type Request struct {
	Path                string
	AuthorizationHeader string
	Body                []byte
}

// Response is what the HTTP surface should write back to the client.
type Response struct {
	Status   int
	JSON     map[string]any
	IsStream bool
	// StreamEvents, when IsStream is true and RawStream is nil, yields
	// translator events already converted to OpenAI chat-completion chunks;
	// the HTTP surface owns writing and flushing.
	StreamEvents <-chan streamconv.Event
	// RawStream, when set, is the upstream SSE body to copy through
	// unchanged -- the passthrough path used when the caller isn't getting
	// OpenAI-translated output. The HTTP surface must close it.
	RawStream io.ReadCloser
	// UpstreamHeader carries selected upstream response headers to forward
	// verbatim (set on the JSON and RawStream passthrough paths; re-encoded
	// responses carry their own headers instead).
	UpstreamHeader http.Header
}

// excludedUpstreamHeaders are dropped when forwarding upstream response
// headers, since the proxy re-frames or re-lengths the body itself.
var excludedUpstreamHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding"}

// filterUpstreamHeaders copies h minus excludedUpstreamHeaders.
func filterUpstreamHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if slices.Contains(excludedUpstreamHeaders, http.CanonicalHeaderKey(k)) {
			continue
		}
		out[k] = v
	}
	return out
}

func jsonErrorResponse(status int, errType, message string) Response {
	return Response{Status: status, JSON: map[string]any{
		"error": map[string]any{"type": errType, "message": message},
	}}
}

// Handle runs the full pipeline for one request.
func (p *Pipeline) Handle(ctx context.Context, req Request) Response {
	// 1. Authorize.
	if key := config.APIKey(); key != "" {
		if !bearerMatches(req.AuthorizationHeader, key) {
			return jsonErrorResponse(http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
		}
	}

	var body map[string]any
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return jsonErrorResponse(http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		}
	}
	if body == nil {
		body = map[string]any{}
	}

	if isBYOKProbe(body) {
		if stream, _ := jsonutil.Bool(body, "stream"); stream {
			return byokProbeStreamResponse()
		}
		return Response{Status: http.StatusOK, JSON: byokProbeResponse}
	}

	clientModel := jsonutil.Str(body, "model")

	// 2. Resolve variant, apply the selective gateway rule.
	if !variant.IsClaudeFamily(clientModel) {
		return jsonErrorResponse(http.StatusNotFound, "invalid_request_error", "model_not_supported_by_proxy")
	}
	v := variant.Resolve(clientModel)

	usesOpenAIFormat := strings.HasSuffix(req.Path, "/chat/completions") || bodyHasSystemRoleMessage(body)

	summary := contextinfo.Extract(body)
	log.Printf("[pipeline] model=%s files=%d mentions=%d est_tokens=%d tools=%d messages=%d",
		clientModel, len(summary.FileReferences), len(summary.Mentions), summary.EstimatedTokens, summary.ToolCount, summary.MessageCount)

	// 3. Rewrite body.
	rewriteSystemAndMessages(body)
	thinkingEnabled := v.Thinking != nil
	requestedStream, _ := jsonutil.Bool(body, "stream")

	// 4. Acquire token.
	accessToken, ok := p.OAuth.AccessToken()
	if !ok {
		return jsonErrorResponse(http.StatusUnauthorized, "authentication_error", "not authenticated; log in to obtain an access token")
	}

	// 5. Build upstream body.
	upstreamBody := buildUpstreamBody(body, v)
	originalTemperature := body["temperature"]
	if thinkingEnabled {
		upstreamBody["thinking"] = map[string]any{"type": "enabled", "budget_tokens": v.Thinking.BudgetTokens}
		upstreamBody["temperature"] = float64(1)
	}

	// 6. Inject cached thinking; downgrade silently on incomplete coverage.
	if thinkingEnabled {
		if messages, ok := jsonutil.Slice(upstreamBody, "messages"); ok {
			rewritten, injected, missing, canUse := p.Cache.Inject(messages)
			upstreamBody["messages"] = rewritten
			if !canUse {
				log.Printf("[pipeline] thinking downgrade: injected=%d missing=%d", injected, missing)
				delete(upstreamBody, "thinking")
				if originalTemperature != nil {
					upstreamBody["temperature"] = originalTemperature
				} else {
					delete(upstreamBody, "temperature")
				}
				thinkingEnabled = false
			}
		}
	}

	upstreamPayload, err := json.Marshal(upstreamBody)
	if err != nil {
		return jsonErrorResponse(http.StatusInternalServerError, "api_error", fmt.Sprintf("failed to encode upstream request: %v", err))
	}

	// 7. Dispatch.
	resp, err := anthropicapi.Dispatch(ctx, accessToken, upstreamPayload, thinkingEnabled, requestedStream)
	if err != nil {
		return jsonErrorResponse(http.StatusBadGateway, "api_error", fmt.Sprintf("upstream request failed: %v", err))
	}

	// 8. Handle response.
	return p.handleUpstreamResponse(resp, v.OriginalModel, usesOpenAIFormat, requestedStream)
}

func bearerMatches(header, key string) bool {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix) == key
	}
	return header == key
}

// isBYOKProbe recognizes the canned key-validation shape IDEs send to
// verify a configured proxy before real use.
func isBYOKProbe(body map[string]any) bool {
	messages, ok := jsonutil.Slice(body, "messages")
	if !ok || len(messages) != 1 {
		return false
	}
	msg := jsonutil.ToMap(messages[0])
	content, _ := msg["content"].(string)
	return strings.EqualFold(strings.TrimSpace(content), "test")
}

func bodyHasSystemRoleMessage(body map[string]any) bool {
	messages, ok := jsonutil.Slice(body, "messages")
	if !ok {
		return false
	}
	for _, rawMsg := range messages {
		if jsonutil.Str(jsonutil.ToMap(rawMsg), "role") == "system" {
			return true
		}
	}
	return false
}

// rewriteSystemAndMessages lifts embedded system-role messages out of
// "messages" into the "system" array, prepends the CLI persona line unless
// already present, and normalizes "system" to an array of text blocks.
func rewriteSystemAndMessages(body map[string]any) {
	var systemBlocks []any
	switch s := body["system"].(type) {
	case string:
		if s != "" {
			systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": s})
		}
	case []any:
		for _, block := range s {
			switch b := block.(type) {
			case string:
				systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": b})
			case map[string]any:
				systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": jsonutil.Str(b, "text")})
			}
		}
	}

	messages, _ := jsonutil.Slice(body, "messages")
	var remaining []any
	for _, rawMsg := range messages {
		msg := jsonutil.ToMap(rawMsg)
		if jsonutil.Str(msg, "role") == "system" {
			if text, ok := msg["content"].(string); ok {
				systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": text})
			}
			continue
		}
		remaining = append(remaining, rawMsg)
	}
	body["messages"] = remaining

	hasPersona := false
	for _, rawBlock := range systemBlocks {
		if strings.Contains(jsonutil.Str(jsonutil.ToMap(rawBlock), "text"), personaLine) {
			hasPersona = true
			break
		}
	}
	if !hasPersona {
		systemBlocks = append([]any{map[string]any{"type": "text", "text": personaLine}}, systemBlocks...)
	}
	body["system"] = systemBlocks
}

var upstreamFieldWhitelist = []string{
	"model", "messages", "system", "stream",
	"temperature", "top_p", "top_k", "metadata", "tools", "tool_choice",
}

// buildUpstreamBody whitelists fields for the outgoing Anthropic request
// and applies the resolved variant's model and token budget.
func buildUpstreamBody(body map[string]any, v variant.Config) map[string]any {
	out := map[string]any{}
	for _, field := range upstreamFieldWhitelist {
		if val, ok := body[field]; ok {
			out[field] = val
		}
	}
	out["model"] = v.UpstreamModel

	if stopSeqs, ok := body["stop_sequences"]; ok {
		out["stop_sequences"] = stopSeqs
	} else if stop, ok := body["stop"]; ok {
		out["stop_sequences"] = stop
	}

	maxTokens := v.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	if mt, ok := jsonutil.Float(body, "max_tokens"); ok && mt > 0 {
		maxTokens = int(mt)
	}
	out["max_tokens"] = maxTokens

	return out
}

// handleUpstreamResponse implements pipeline step 8: error reshaping and
// dispatch to the streaming or non-streaming response path.
func (p *Pipeline) handleUpstreamResponse(resp *anthropicapi.Response, originalModel string, useOpenAIFormat, isStream bool) Response {
	if resp.Status < 200 || resp.Status >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		if resp.Status == http.StatusUnauthorized {
			return jsonErrorResponse(http.StatusUnauthorized, "authentication_error", "authentication failed; token may be expired")
		}
		return Response{Status: resp.Status, JSON: map[string]any{"upstream_error": string(bodyBytes)}}
	}

	if !isStream {
		defer resp.Body.Close()
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return jsonErrorResponse(http.StatusInternalServerError, "api_error", fmt.Sprintf("failed to read upstream response: %v", err))
		}
		var parsed map[string]any
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			return jsonErrorResponse(http.StatusInternalServerError, "api_error", "failed to decode upstream response")
		}
		if !useOpenAIFormat {
			return Response{Status: http.StatusOK, JSON: parsed, UpstreamHeader: filterUpstreamHeaders(resp.Header)}
		}
		return Response{Status: http.StatusOK, JSON: streamconv.NonStream(parsed, originalModel)}
	}

	if !useOpenAIFormat {
		// Native Anthropic streaming client: pass the upstream SSE body
		// through byte for byte instead of routing it through the
		// OpenAI-chunk translator.
		return Response{Status: http.StatusOK, IsStream: true, RawStream: resp.Body, UpstreamHeader: filterUpstreamHeaders(resp.Header)}
	}

	events := make(chan streamconv.Event, 8)
	go p.pumpStream(resp.Body, originalModel, events)
	return Response{Status: http.StatusOK, IsStream: true, StreamEvents: events}
}

// pumpStream reads the upstream SSE body, feeds it through the translator,
// forwards events to the channel, and performs the post-stream cache write
// (step 9) when a thinking block was captured. It closes events and the
// upstream body on every exit path.
func (p *Pipeline) pumpStream(body io.ReadCloser, originalModel string, events chan<- streamconv.Event) {
	defer close(events)
	defer body.Close()

	state := streamconv.New(originalModel)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, e := range state.Feed(buf[:n]) {
				events <- e
				if e.Done {
					p.writeThinkingCache(state)
					return
				}
			}
		}
		if err != nil {
			// Client disconnect or upstream close mid-stream: abandon
			// without forging a finish reason or [DONE]. Partial output is
			// not cached.
			return
		}
	}
}

func (p *Pipeline) writeThinkingCache(state *streamconv.State) {
	tb := state.ThinkingBlockOrNil()
	if tb == nil {
		return
	}
	content := thinkingcache.CanonicalContent(state.AccumulatedText, state.ToolUseBlocks)
	key, ok := thinkingcache.Key(content)
	if !ok {
		return
	}
	p.Cache.Put(key, thinkingcache.ThinkingBlock{Thinking: tb.Thinking, Signature: tb.Signature})
}
