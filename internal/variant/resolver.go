// Package variant maps a client-facing model string onto the upstream
// model name, token budget, and extended-thinking configuration to use
// for that request.
package variant

import "strings"

// defaultThinkingBudget is the reasoning token budget applied when a
// client requests a "thinking" variant without specifying one explicitly.
const defaultThinkingBudget = 32000

// claudePrefix is the upstream model family prefix used for passthrough
// detection.
const claudePrefix = "claude-"

// Thinking holds extended-thinking configuration for a resolved variant.
// A nil *Thinking means thinking is off.
type Thinking struct {
	BudgetTokens int
}

// Config is the resolved configuration for one client-facing model.
type Config struct {
	UpstreamModel string
	MaxTokens     int
	Thinking      *Thinking
	// OriginalModel is the unmodified client-supplied model string.
	OriginalModel string
}

// aliasTable holds exact-match aliases the proxy knows about explicitly,
// keyed by lowercased alias. Anything not listed here falls through to the
// heuristic and passthrough resolution steps.
var aliasTable = map[string]Config{
	"claude-3-5-sonnet": {UpstreamModel: "claude-3-5-sonnet-20241022", MaxTokens: 8192},
	"claude-3-5-haiku":  {UpstreamModel: "claude-3-5-haiku-20241022", MaxTokens: 8192},
	"claude-4-sonnet":   {UpstreamModel: "claude-sonnet-4-5", MaxTokens: 8192},
	"claude-4-opus":     {UpstreamModel: "claude-opus-4-5", MaxTokens: 8192},
	"claude-4-haiku":    {UpstreamModel: "claude-haiku-4-5", MaxTokens: 8192},
}

// Resolve determines the upstream model, token budget, and thinking
// configuration for a client-supplied model string, per the four-step
// resolution order: exact alias match, "thinking" heuristic, upstream
// prefix passthrough, default passthrough.
func Resolve(clientModel string) Config {
	original := clientModel
	normalized := strings.ToLower(strings.TrimSpace(clientModel))

	if cfg, ok := aliasTable[normalized]; ok {
		cfg.OriginalModel = original
		return cfg
	}

	if strings.Contains(normalized, "thinking") {
		return Config{
			UpstreamModel: thinkingBaseModel(normalized),
			MaxTokens:     64000,
			Thinking:      &Thinking{BudgetTokens: defaultThinkingBudget},
			OriginalModel: original,
		}
	}

	if strings.HasPrefix(normalized, claudePrefix) {
		return Config{UpstreamModel: normalized, MaxTokens: 8192, OriginalModel: original}
	}

	return Config{UpstreamModel: normalized, MaxTokens: 8192, OriginalModel: original}
}

// thinkingBaseModel picks the upstream model family for a "thinking"
// variant by substring, defaulting to the sonnet-class model.
func thinkingBaseModel(normalized string) string {
	switch {
	case strings.Contains(normalized, "opus"):
		return "claude-opus-4-5"
	case strings.Contains(normalized, "haiku"):
		return "claude-haiku-4-5"
	default:
		return "claude-sonnet-4-5"
	}
}

// claudeFamilyMarkers are substrings that mark a model name as belonging
// to the Claude family for the selective-gateway check. Matching is
// deliberately substring-based, so an exotic non-Claude model containing
// e.g. "sonnet" is accepted -- that is the documented, intended behavior.
var claudeFamilyMarkers = []string{"claude", "opus", "sonnet", "haiku"}

// IsClaudeFamily reports whether a client-supplied model name looks like
// it names a Claude-family model.
func IsClaudeFamily(clientModel string) bool {
	normalized := strings.ToLower(strings.TrimSpace(clientModel))
	for _, marker := range claudeFamilyMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
