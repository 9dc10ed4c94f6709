package chat

import "context"

// DefaultContextTokens is the budget assumed when a provider cannot report a
// model's context length.
const DefaultContextTokens = 8192

// ChunkType discriminates incremental units of a streaming response.
type ChunkType string

const (
	ChunkContent   ChunkType = "content"
	ChunkThinking  ChunkType = "thinking"
	ChunkToolCalls ChunkType = "tool_calls"
	ChunkDone      ChunkType = "done"
	ChunkError     ChunkType = "error"
)

// Chunk is one incremental unit of a streaming generation response.
type Chunk struct {
	Type      ChunkType
	Content   string
	Thinking  string
	ToolCalls []ToolCall
	Err       error
}

// ModelInfo describes a model's capabilities as reported by the provider.
type ModelInfo struct {
	ContextLength    int
	SupportsThinking bool
	SupportsTools    bool
}

// GenerateOptions tune one generation request.
type GenerateOptions struct {
	Temperature float64
	Think       bool
}

// Provider abstracts a model backend.
//
// Generate returns a lazy, single-cursor stream of chunks. The channel is
// closed after a done or error chunk; cancelling ctx stops production. The
// stream is not restartable.
//
// ModelInfo failures are tolerated by callers, which fall back to
// DefaultContextTokens and no thinking support.
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts GenerateOptions) (<-chan Chunk, error)
	ModelInfo(ctx context.Context, model string) (ModelInfo, error)
}
