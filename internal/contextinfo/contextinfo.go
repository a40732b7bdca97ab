// Package contextinfo extracts an observability-only summary from an
// inbound request body: rough token estimate, file references, @-mentions,
// and message/tool counts. Nothing here ever changes the request; it is
// logged and discarded.
package contextinfo

import (
	"regexp"
	"strings"

	"anthroproxy/internal/jsonutil"
)

// filePathRe matches path-like tokens with a file extension, e.g.
// "src/main.go" or "internal/config.go".
var filePathRe = regexp.MustCompile(`\b[\w][\w./\-]{1,200}\.[A-Za-z][A-Za-z0-9]{0,9}\b`)

// mentionRe matches Cursor-style "@path/to/file" mentions.
var mentionRe = regexp.MustCompile(`@[\w][\w./\-]{1,200}`)

// falsePositiveRe filters matches that look like a file reference but
// aren't: URLs, semver-ish version strings, and common noise directories.
var falsePositiveRe = regexp.MustCompile(`^https?://|^\d+\.\d+(\.\d+)?$|node_modules|\.git\b`)

// urlRe matches whole URLs, which are blanked out of the text before file
// references and mentions are extracted, so a URL's host or path is never
// reported as a file.
var urlRe = regexp.MustCompile(`https?://\S+`)

// Summary is the extracted, purely observational context for one request.
type Summary struct {
	FileReferences  []string
	Mentions        []string
	EstimatedTokens int
	ToolCount       int
	MessageCount    int
}

// Extract computes a Summary from an inbound request body. Token
// estimation is the documented bytes/4 heuristic -- crude by design, never
// to be used for any control decision.
func Extract(body map[string]any) Summary {
	messages, _ := jsonutil.Slice(body, "messages")
	tools, _ := jsonutil.Slice(body, "tools")

	var allText strings.Builder
	for _, rawMsg := range messages {
		msg := jsonutil.ToMap(rawMsg)
		collectText(&allText, msg["content"])
	}
	text := allText.String()
	refText := urlRe.ReplaceAllString(text, " ")

	return Summary{
		FileReferences:  dedupFiltered(filePathRe.FindAllString(refText, -1)),
		Mentions:        dedupFiltered(mentionRe.FindAllString(refText, -1)),
		EstimatedTokens: len(text) / 4,
		ToolCount:       len(tools),
		MessageCount:    len(messages),
	}
}

func collectText(b *strings.Builder, content any) {
	switch c := content.(type) {
	case string:
		b.WriteString(c)
		b.WriteByte(' ')
	case []any:
		for _, rawBlock := range c {
			block := jsonutil.ToMap(rawBlock)
			if text := jsonutil.Str(block, "text"); text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
	}
}

func dedupFiltered(matches []string) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if falsePositiveRe.MatchString(m) {
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
