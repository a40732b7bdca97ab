package thinkingcache

import "testing"

func TestInject_MissWhenUncached(t *testing.T) {
	c := New(nil, 0)
	messages := []any{
		map[string]any{"role": "user", "content": "hi"},
		map[string]any{"role": "assistant", "content": "hello there"},
	}

	rewritten, injected, missing, canUse := c.Inject(messages)
	if injected != 0 || missing != 1 || canUse {
		t.Errorf("got injected=%d missing=%d canUse=%v; want 0,1,false", injected, missing, canUse)
	}
	assistant := rewritten[1].(map[string]any)
	if assistant["content"] != "hello there" {
		t.Errorf("uninjected message content should be untouched")
	}
}

func TestInject_HitPrependsThinkingBlock(t *testing.T) {
	c := New(nil, 0)
	content := "hello there"
	key, ok := Key(content)
	if !ok {
		t.Fatal("expected a key")
	}
	c.Put(key, ThinkingBlock{Thinking: "reasoning", Signature: "sig"})

	messages := []any{
		map[string]any{"role": "assistant", "content": content},
	}
	rewritten, injected, missing, canUse := c.Inject(messages)
	if injected != 1 || missing != 0 || !canUse {
		t.Fatalf("got injected=%d missing=%d canUse=%v; want 1,0,true", injected, missing, canUse)
	}

	blocks := rewritten[0].(map[string]any)["content"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	first := blocks[0].(map[string]any)
	if first["type"] != "thinking" || first["thinking"] != "reasoning" {
		t.Errorf("expected thinking block first, got %+v", first)
	}
	second := blocks[1].(map[string]any)
	if second["type"] != "text" || second["text"] != content {
		t.Errorf("expected original text preserved second, got %+v", second)
	}
}

func TestInject_AlreadyHasThinkingBlock_Skipped(t *testing.T) {
	c := New(nil, 0)
	messages := []any{
		map[string]any{"role": "assistant", "content": []any{
			map[string]any{"type": "thinking", "thinking": "x", "signature": "y"},
			map[string]any{"type": "text", "text": "answer"},
		}},
	}
	rewritten, injected, missing, canUse := c.Inject(messages)
	if injected != 0 || missing != 0 || !canUse {
		t.Errorf("got injected=%d missing=%d canUse=%v; want 0,0,true", injected, missing, canUse)
	}
	if len(rewritten[0].(map[string]any)["content"].([]any)) != 2 {
		t.Error("message with existing thinking block should be untouched")
	}
}

func TestInject_UserMessagesUntouched(t *testing.T) {
	c := New(nil, 0)
	messages := []any{
		map[string]any{"role": "user", "content": "question"},
	}
	rewritten, injected, missing, canUse := c.Inject(messages)
	if injected != 0 || missing != 0 || !canUse {
		t.Errorf("got injected=%d missing=%d canUse=%v; want 0,0,true", injected, missing, canUse)
	}
	if rewritten[0].(map[string]any)["content"] != "question" {
		t.Error("user message should be untouched")
	}
}
