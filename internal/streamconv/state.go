// Package streamconv converts Anthropic's Messages API event stream into
// OpenAI's chat-completion chunk stream, and the non-streaming equivalent
// for whole responses. State lives entirely in State, one instance per
// request; nothing here is shared across connections.
package streamconv

// ToolCallTracker tracks one in-flight tool_use content block across the
// content_block_start/delta/stop sequence that describes it.
type ToolCallTracker struct {
	ID                   string
	Name                 string
	AccumulatedArguments string
}

// ThinkingBlock accumulates a signed thinking block across its
// content_block_start/delta/stop sequence.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// State is the per-connection state the translator threads through an
// upstream SSE stream. It must not be shared between requests.
type State struct {
	// OriginalModel is the client's original model string, echoed on every
	// outgoing chunk regardless of which upstream model actually served it.
	OriginalModel string

	// ChunkID is the stable OpenAI-style id derived once from the upstream
	// message id, e.g. "chatcmpl-AAA" from upstream "msg_AAA".
	ChunkID string

	sentMessageStart bool

	// toolCalls maps an Anthropic content-block index to its tracker.
	toolCalls map[int]*ToolCallTracker

	// thinking holds the in-progress thinking block, if any, and whether the
	// translator is currently inside one.
	thinking       ThinkingBlock
	insideThinking bool
	// ThinkingCaptured is set once a thinking block has been fully closed
	// out (content_block_stop while inside it), so the pipeline knows
	// whether there is anything to write to the cache after the stream ends.
	ThinkingCaptured bool

	// AccumulatedText is every text delta emitted so far, used to key the
	// thinking cache write at end of stream.
	AccumulatedText string

	// ToolUseBlocks holds a canonical tool_use block (id, name, and the
	// final parsed input) for each tool call closed during this stream, in
	// order. Used to build the thinking-cache write key.
	ToolUseBlocks []any

	lastStopReason string

	InputTokens         float64
	OutputTokens        float64
	CacheCreationTokens float64
	CacheReadTokens     float64

	// lineBuffer holds bytes read so far that do not yet form a complete
	// terminated line, carried across arbitrary chunk boundaries.
	lineBuffer string
}

// New returns a fresh State for one upstream response.
func New(originalModel string) *State {
	return &State{
		OriginalModel: originalModel,
		toolCalls:     make(map[int]*ToolCallTracker),
	}
}

// ThinkingBlockOrNil returns the captured thinking block for a cache write,
// or nil if none was captured this stream.
func (s *State) ThinkingBlockOrNil() *ThinkingBlock {
	if !s.ThinkingCaptured {
		return nil
	}
	tb := s.thinking
	return &tb
}
