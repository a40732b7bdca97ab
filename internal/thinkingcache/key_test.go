package thinkingcache

import "testing"

func TestKey_StringContent(t *testing.T) {
	k1, ok1 := Key("hello   world")
	k2, ok2 := Key("hello world")
	if !ok1 || !ok2 {
		t.Fatal("expected both keys to be derived")
	}
	if k1 != k2 {
		t.Errorf("whitespace runs should normalize to a single space: %q != %q", k1, k2)
	}
}

func TestKey_EmptyContent_NoKey(t *testing.T) {
	if _, ok := Key(""); ok {
		t.Error("empty string content should yield no key")
	}
	if _, ok := Key([]any{}); ok {
		t.Error("empty content sequence should yield no key")
	}
}

func TestKey_SkipsThinkingBlocks(t *testing.T) {
	withThinking := []any{
		map[string]any{"type": "thinking", "thinking": "reasoning...", "signature": "sig"},
		map[string]any{"type": "text", "text": "final answer"},
	}
	withoutThinking := []any{
		map[string]any{"type": "text", "text": "final answer"},
	}
	k1, ok1 := Key(withThinking)
	k2, ok2 := Key(withoutThinking)
	if !ok1 || !ok2 {
		t.Fatal("expected both keys to be derived")
	}
	if k1 != k2 {
		t.Errorf("key should be identical with or without a thinking block: %q != %q", k1, k2)
	}
}

func TestKey_ToolUse_StableAcrossKeyOrder(t *testing.T) {
	a := []any{
		map[string]any{"type": "tool_use", "name": "search", "input": map[string]any{"q": "cats", "limit": 5}},
	}
	b := []any{
		map[string]any{"type": "tool_use", "name": "search", "input": map[string]any{"limit": 5, "q": "cats"}},
	}
	k1, _ := Key(a)
	k2, _ := Key(b)
	if k1 != k2 {
		t.Errorf("tool input key order should not affect the derived key: %q != %q", k1, k2)
	}
}

func TestKey_DifferentContent_DifferentKey(t *testing.T) {
	k1, _ := Key("hello")
	k2, _ := Key("goodbye")
	if k1 == k2 {
		t.Error("different content should yield different keys")
	}
}

func TestCanonicalContent(t *testing.T) {
	blocks := CanonicalContent("done", []any{map[string]any{"type": "tool_use", "name": "search"}})
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	textBlock := blocks[0].(map[string]any)
	if textBlock["type"] != "text" || textBlock["text"] != "done" {
		t.Errorf("unexpected text block: %+v", textBlock)
	}
}

func TestCanonicalContent_NoText(t *testing.T) {
	blocks := CanonicalContent("", nil)
	if len(blocks) != 0 {
		t.Errorf("expected no blocks for empty text and no tool uses, got %d", len(blocks))
	}
}
