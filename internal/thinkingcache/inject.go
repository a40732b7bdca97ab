package thinkingcache

import "anthroproxy/internal/jsonutil"

// Inject walks messages and, for each assistant message that does not
// already carry a thinking block, looks it up by its content key and
// prepends the cached block when found. It returns the rewritten message
// list, how many messages were injected, how many were missing (no key or
// no cache hit), and whether every assistant message now carries a
// thinking block (canUseThinking) -- callers must not send
// thinking-enabled requests upstream unless canUseThinking is true, since
// Anthropic requires a thinking block on every assistant turn once
// thinking is on.
func (c *Cache) Inject(messages []any) (rewritten []any, injected, missing int, canUseThinking bool) {
	canUseThinking = true
	rewritten = make([]any, len(messages))

	for i, rawMsg := range messages {
		msg := jsonutil.ToMap(rawMsg)
		if jsonutil.Str(msg, "role") != "assistant" {
			rewritten[i] = rawMsg
			continue
		}
		if hasThinkingBlock(msg["content"]) {
			rewritten[i] = rawMsg
			continue
		}

		key, ok := Key(msg["content"])
		if !ok {
			rewritten[i] = rawMsg
			missing++
			canUseThinking = false
			continue
		}

		block, hit := c.Get(key)
		if !hit {
			rewritten[i] = rawMsg
			missing++
			canUseThinking = false
			continue
		}

		rewritten[i] = prependThinking(msg, block)
		injected++
	}

	return rewritten, injected, missing, canUseThinking
}

func hasThinkingBlock(content any) bool {
	arr, ok := content.([]any)
	if !ok {
		return false
	}
	for _, raw := range arr {
		t := jsonutil.Str(jsonutil.ToMap(raw), "type")
		if t == "thinking" || t == "redacted_thinking" {
			return true
		}
	}
	return false
}

func prependThinking(msg map[string]any, block ThinkingBlock) map[string]any {
	var blocks []any
	switch c := msg["content"].(type) {
	case string:
		if c != "" {
			blocks = []any{map[string]any{"type": "text", "text": c}}
		}
	case []any:
		blocks = c
	}

	thinkingBlock := map[string]any{
		"type":      "thinking",
		"thinking":  block.Thinking,
		"signature": block.Signature,
	}
	newContent := make([]any, 0, len(blocks)+1)
	newContent = append(newContent, thinkingBlock)
	newContent = append(newContent, blocks...)

	out := make(map[string]any, len(msg))
	for k, v := range msg {
		out[k] = v
	}
	out["content"] = newContent
	return out
}
