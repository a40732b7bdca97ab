package variant

import "testing"

func TestResolve_ExactMatch(t *testing.T) {
	cfg := Resolve("claude-4-sonnet")
	if cfg.UpstreamModel != "claude-sonnet-4-5" || cfg.MaxTokens != 8192 || cfg.Thinking != nil {
		t.Errorf("unexpected resolution: %+v", cfg)
	}
	if cfg.OriginalModel != "claude-4-sonnet" {
		t.Errorf("OriginalModel = %q, want claude-4-sonnet", cfg.OriginalModel)
	}
}

func TestResolve_ExactMatch_CaseInsensitive(t *testing.T) {
	lower := Resolve("claude-4-sonnet")
	mixed := Resolve("Claude-4-Sonnet")
	if lower.UpstreamModel != mixed.UpstreamModel {
		t.Errorf("case should not affect exact-match resolution: %+v vs %+v", lower, mixed)
	}
}

func TestResolve_ThinkingHeuristic(t *testing.T) {
	cfg := Resolve("claude-4-opus-thinking")
	if cfg.UpstreamModel != "claude-opus-4-5" {
		t.Errorf("UpstreamModel = %q, want claude-opus-4-5", cfg.UpstreamModel)
	}
	if cfg.MaxTokens != 64000 {
		t.Errorf("MaxTokens = %d, want 64000", cfg.MaxTokens)
	}
	if cfg.Thinking == nil || cfg.Thinking.BudgetTokens != defaultThinkingBudget {
		t.Errorf("expected thinking enabled with default budget, got %+v", cfg.Thinking)
	}
}

func TestResolve_ThinkingHeuristic_DefaultsToSonnet(t *testing.T) {
	cfg := Resolve("my-thinking-model")
	if cfg.UpstreamModel != "claude-sonnet-4-5" {
		t.Errorf("UpstreamModel = %q, want claude-sonnet-4-5 default", cfg.UpstreamModel)
	}
}

func TestResolve_UpstreamPrefixPassthrough(t *testing.T) {
	cfg := Resolve("claude-sonnet-4-5-20250929")
	if cfg.UpstreamModel != "claude-sonnet-4-5-20250929" || cfg.MaxTokens != 8192 || cfg.Thinking != nil {
		t.Errorf("unexpected resolution: %+v", cfg)
	}
}

func TestResolve_DefaultPassthrough(t *testing.T) {
	cfg := Resolve("gpt-4o")
	if cfg.UpstreamModel != "gpt-4o" || cfg.MaxTokens != 8192 {
		t.Errorf("unexpected resolution: %+v", cfg)
	}
}

func TestResolve_MixedCase_MatchesLowercase(t *testing.T) {
	upper := Resolve("CLAUDE-OPUS-4-5")
	lower := Resolve("claude-opus-4-5")
	if upper.UpstreamModel != lower.UpstreamModel || upper.MaxTokens != lower.MaxTokens {
		t.Errorf("mixed case should resolve identically: %+v vs %+v", upper, lower)
	}
}

func TestIsClaudeFamily(t *testing.T) {
	if !IsClaudeFamily("claude-4-sonnet") {
		t.Error("expected claude-4-sonnet to be Claude family")
	}
	if IsClaudeFamily("gpt-4o") {
		t.Error("expected gpt-4o not to be Claude family")
	}
	if !IsClaudeFamily("some-exotic-sonnet-variant") {
		t.Error("substring match on 'sonnet' should count, per documented behavior")
	}
}
