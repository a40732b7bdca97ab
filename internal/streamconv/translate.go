package streamconv

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"anthroproxy/internal/jsonutil"
)

// Event is one unit of translator output: either a chat-completion chunk
// to serialize as an SSE data line, or the terminal Done marker.
type Event struct {
	Chunk map[string]any
	Done  bool
}

// Feed appends data to the line buffer and processes every fully
// terminated line it now contains, returning the events those lines
// produced. Any trailing partial line is retained for the next call --
// this is what makes the translator's output independent of how upstream
// bytes happen to be chunked on the wire.
func (s *State) Feed(data []byte) []Event {
	combined := s.lineBuffer + string(data)
	lines := strings.Split(combined, "\n")
	s.lineBuffer = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var events []Event
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		events = append(events, s.processLine(line)...)
	}
	return events
}

func (s *State) processLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "event:") {
		return nil
	}
	if !strings.HasPrefix(line, "data:") {
		return nil
	}
	dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if dataStr == "" {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(dataStr), &parsed); err != nil {
		return nil
	}

	switch jsonutil.Str(parsed, "type") {
	case "ping":
		return nil
	case "message_start":
		return s.onMessageStart(parsed)
	case "content_block_start":
		return s.onContentBlockStart(parsed)
	case "content_block_delta":
		return s.onContentBlockDelta(parsed)
	case "content_block_stop":
		return s.onContentBlockStop(parsed)
	case "message_delta":
		return s.onMessageDelta(parsed)
	case "message_stop":
		return s.onMessageStop()
	default:
		// Unknown event types are ignored, not fatal -- new upstream event
		// kinds must never break the proxy.
		return nil
	}
}

func (s *State) onMessageStart(parsed map[string]any) []Event {
	msgObj := jsonutil.ToMap(parsed["message"])
	msgID := jsonutil.Str(msgObj, "id")
	if msgID != "" {
		s.ChunkID = "chatcmpl-" + strings.TrimPrefix(msgID, "msg_")
	} else {
		s.ChunkID = fmt.Sprintf("chatcmpl-%d", time.Now().UnixMilli())
	}
	s.accumulateUsage(jsonutil.ToMap(msgObj["usage"]))
	s.sentMessageStart = true

	return []Event{{Chunk: s.chunk(map[string]any{"role": "assistant", "content": ""}, nil)}}
}

func (s *State) onContentBlockStart(parsed map[string]any) []Event {
	index := int(indexOf(parsed))
	cb := jsonutil.ToMap(parsed["content_block"])

	switch jsonutil.Str(cb, "type") {
	case "tool_use":
		s.toolCalls[index] = &ToolCallTracker{ID: jsonutil.Str(cb, "id"), Name: jsonutil.Str(cb, "name")}
		return []Event{{Chunk: s.chunk(map[string]any{
			"tool_calls": []any{
				map[string]any{
					"index": float64(index),
					"id":    jsonutil.Str(cb, "id"),
					"type":  "function",
					"function": map[string]any{
						"name":      jsonutil.Str(cb, "name"),
						"arguments": "",
					},
				},
			},
		}, nil)}}

	case "thinking":
		s.insideThinking = true
		s.thinking = ThinkingBlock{Thinking: jsonutil.Str(cb, "thinking"), Signature: jsonutil.Str(cb, "signature")}
		return nil

	case "redacted_thinking":
		s.insideThinking = true
		s.thinking = ThinkingBlock{Thinking: jsonutil.Str(cb, "data"), Signature: jsonutil.Str(cb, "signature")}
		return nil

	default: // "text" and anything unrecognized: emitted only via deltas
		return nil
	}
}

func (s *State) onContentBlockDelta(parsed map[string]any) []Event {
	index := int(indexOf(parsed))
	delta := jsonutil.ToMap(parsed["delta"])

	switch jsonutil.Str(delta, "type") {
	case "text_delta":
		text := jsonutil.Str(delta, "text")
		s.AccumulatedText += text
		return []Event{{Chunk: s.chunk(map[string]any{"content": text}, nil)}}

	case "thinking_delta":
		s.thinking.Thinking += jsonutil.Str(delta, "thinking")
		return nil

	case "signature_delta":
		s.thinking.Signature += jsonutil.Str(delta, "signature")
		return nil

	case "input_json_delta":
		partial := jsonutil.Str(delta, "partial_json")
		tracker, ok := s.toolCalls[index]
		if !ok || partial == "" {
			return nil
		}
		var newPart string
		if strings.HasPrefix(partial, tracker.AccumulatedArguments) {
			// Cumulative fragment: emit only what's new.
			newPart = partial[len(tracker.AccumulatedArguments):]
			tracker.AccumulatedArguments = partial
		} else {
			// Pure delta fragment: emit verbatim.
			newPart = partial
			tracker.AccumulatedArguments += partial
		}
		return []Event{{Chunk: s.chunk(map[string]any{
			"tool_calls": []any{
				map[string]any{
					"index":    float64(index),
					"function": map[string]any{"arguments": newPart},
				},
			},
		}, nil)}}

	default:
		return nil
	}
}

func (s *State) onContentBlockStop(parsed map[string]any) []Event {
	index := int(indexOf(parsed))

	if s.insideThinking {
		if cb, ok := jsonutil.Map(parsed, "content_block"); ok {
			if sig := jsonutil.Str(cb, "signature"); sig != "" {
				s.thinking.Signature = sig
			}
		}
		s.insideThinking = false
		s.ThinkingCaptured = true
		return nil
	}

	if tracker, ok := s.toolCalls[index]; ok {
		var input any
		if tracker.AccumulatedArguments == "" {
			input = map[string]any{}
		} else if err := json.Unmarshal([]byte(tracker.AccumulatedArguments), &input); err != nil {
			// Truncated mid-stream: leave it out of the canonical content
			// used for cache keying rather than forging a parse.
			return nil
		}
		s.ToolUseBlocks = append(s.ToolUseBlocks, map[string]any{
			"type":  "tool_use",
			"id":    tracker.ID,
			"name":  tracker.Name,
			"input": input,
		})
	}
	return nil
}

func (s *State) onMessageDelta(parsed map[string]any) []Event {
	delta := jsonutil.ToMap(parsed["delta"])
	s.accumulateUsage(jsonutil.ToMap(parsed["usage"]))

	stopReason := jsonutil.Str(delta, "stop_reason")
	if stopReason == "" {
		return nil
	}
	s.lastStopReason = stopReason
	return []Event{{Chunk: s.chunk(map[string]any{}, mapFinishReason(stopReason))}}
}

func (s *State) onMessageStop() []Event {
	var events []Event
	if s.InputTokens > 0 || s.OutputTokens > 0 {
		chunk := s.chunk(map[string]any{}, nil)
		chunk["usage"] = map[string]any{
			"prompt_tokens":     s.InputTokens,
			"completion_tokens": s.OutputTokens,
			"total_tokens":      s.InputTokens + s.OutputTokens,
			"prompt_tokens_details": map[string]any{
				"cached_tokens": s.CacheReadTokens,
			},
			"completion_tokens_details": map[string]any{
				"reasoning_tokens": float64(0),
			},
		}
		events = append(events, Event{Chunk: chunk})
	}
	events = append(events, Event{Done: true})
	return events
}

func (s *State) accumulateUsage(usage map[string]any) {
	if v, ok := jsonutil.Float(usage, "input_tokens"); ok && v > 0 {
		s.InputTokens = v
	}
	if v, ok := jsonutil.Float(usage, "output_tokens"); ok && v > 0 {
		s.OutputTokens = v
	}
	if v, ok := jsonutil.Float(usage, "cache_creation_input_tokens"); ok && v > 0 {
		s.CacheCreationTokens = v
	}
	if v, ok := jsonutil.Float(usage, "cache_read_input_tokens"); ok && v > 0 {
		s.CacheReadTokens = v
	}
}

func (s *State) chunk(delta map[string]any, finishReason any) map[string]any {
	choice := map[string]any{
		"index":         float64(0),
		"finish_reason": finishReason,
	}
	if delta != nil {
		choice["delta"] = delta
	}
	return map[string]any{
		"id":      s.ChunkID,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   s.OriginalModel,
		"choices": []any{choice},
	}
}

func indexOf(parsed map[string]any) float64 {
	v, _ := jsonutil.Float(parsed, "index")
	return v
}

// mapFinishReason maps an Anthropic stop_reason to an OpenAI finish_reason.
// Only end_turn and tool_use are remapped; anything else passes through
// unchanged, deliberately, so an upstream addition doesn't get silently
// coerced to the wrong reason.
func mapFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	default:
		return stopReason
	}
}
