package streamconv

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"anthroproxy/internal/jsonutil"
)

// NonStream converts one complete Anthropic Messages API response into a
// single OpenAI chat-completion object. Unlike State, it holds no
// cross-call state: it is a pure function of the whole response.
func NonStream(response map[string]any, originalModel string) map[string]any {
	blocks, _ := jsonutil.Slice(response, "content")

	var textParts []string
	var toolCalls []any
	for _, rawBlock := range blocks {
		block := jsonutil.ToMap(rawBlock)
		switch jsonutil.Str(block, "type") {
		case "text":
			textParts = append(textParts, jsonutil.Str(block, "text"))
		case "tool_use":
			input := block["input"]
			if input == nil {
				input = map[string]any{}
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   jsonutil.Str(block, "id"),
				"type": "function",
				"function": map[string]any{
					"name":      jsonutil.Str(block, "name"),
					"arguments": jsonutil.ToJSONString(input),
				},
			})
		}
	}

	message := map[string]any{"role": "assistant"}
	if joined := strings.Join(textParts, ""); joined != "" {
		message["content"] = joined
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	usage := jsonutil.ToMap(response["usage"])
	inputTokens, _ := jsonutil.Float(usage, "input_tokens")
	outputTokens, _ := jsonutil.Float(usage, "output_tokens")
	cacheRead, _ := jsonutil.Float(usage, "cache_read_input_tokens")

	id := jsonutil.Str(response, "id")
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UnixMilli())
	}

	return map[string]any{
		"id":      "chatcmpl-" + strings.TrimPrefix(id, "msg_"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   originalModel,
		"choices": []any{
			map[string]any{
				"index":         float64(0),
				"message":       message,
				"finish_reason": mapFinishReason(jsonutil.Str(response, "stop_reason")),
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
			"prompt_tokens_details": map[string]any{
				"cached_tokens": cacheRead,
			},
			"completion_tokens_details": map[string]any{
				"reasoning_tokens": float64(0),
			},
		},
	}
}

// MarshalChunk renders a translator chunk as one SSE data line.
func MarshalChunk(chunk map[string]any) ([]byte, error) {
	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, '\n', '\n')
	return out, nil
}

// DoneLine is the terminal SSE marker.
var DoneLine = []byte("data: [DONE]\n\n")
