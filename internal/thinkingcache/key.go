// Package thinkingcache persists cryptographically-signed thinking blocks
// keyed by the non-thinking content of the assistant message they
// accompany, so multi-turn extended-thinking conversations survive a
// client stripping those blocks from history between turns.
package thinkingcache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"anthroproxy/internal/jsonutil"
)

var whitespaceRunRe = regexp.MustCompile(`\s+`)

// Key derives the cache key for an assistant message's content. Content is
// either a plain string or a []any of content blocks. Thinking and
// redacted_thinking blocks are skipped so the key is identical whether or
// not the message currently carries a thinking block -- that is the whole
// point of the cache. Returns ok=false for content that yields no key
// material at all (e.g. an empty message), which per spec is never cached.
func Key(content any) (key string, ok bool) {
	var raw string

	switch c := content.(type) {
	case string:
		raw = c
	case []any:
		parts := make([]string, 0, len(c))
		for _, rawBlock := range c {
			block := jsonutil.ToMap(rawBlock)
			switch jsonutil.Str(block, "type") {
			case "thinking", "redacted_thinking":
				continue
			case "text":
				parts = append(parts, jsonutil.Str(block, "text"))
			case "tool_use":
				parts = append(parts, fmt.Sprintf("tool:%s:%s", jsonutil.Str(block, "name"), stableJSON(block["input"])))
			case "tool_result":
				parts = append(parts, fmt.Sprintf("result:%s:%s", jsonutil.Str(block, "tool_use_id"), contentAsString(block["content"])))
			}
		}
		raw = strings.Join(parts, "|")
	default:
		return "", false
	}

	normalized := strings.TrimSpace(whitespaceRunRe.ReplaceAllString(raw, " "))
	if normalized == "" {
		return "", false
	}

	h := fnv.New32a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("v2:%08x:%d", h.Sum32(), len(normalized)), true
}

// stableJSON renders v as JSON with object keys sorted, so two
// semantically-identical tool inputs with differently-ordered keys hash
// the same.
func stableJSON(v any) string {
	var buf strings.Builder
	writeStableJSON(&buf, v)
	return buf.String()
}

func writeStableJSON(buf *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeStableJSON(buf, val[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeStableJSON(buf, item)
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			buf.WriteString("null")
			return
		}
		buf.Write(b)
	}
}

// contentAsString renders a tool_result's content field (string, array of
// text blocks, or arbitrary JSON) as a single string for key derivation.
func contentAsString(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, item := range c {
			m := jsonutil.ToMap(item)
			if jsonutil.Str(m, "type") == "text" {
				parts = append(parts, jsonutil.Str(m, "text"))
			} else {
				parts = append(parts, jsonutil.ToJSONString(item))
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return jsonutil.ToJSONString(c)
	}
}

// CanonicalContent builds the non-thinking content list used to key a
// freshly-captured thinking block at write time: the accumulated text (if
// any) followed by any tool_use blocks accumulated during the same stream.
func CanonicalContent(text string, toolUseBlocks []any) []any {
	var blocks []any
	if text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	blocks = append(blocks, toolUseBlocks...)
	return blocks
}
