// Package provider implements the model backend contract against a local
// Ollama server.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SamInTheShell/delver/internal/chat"
)

const DefaultBaseURL = "http://localhost:11434"

type Ollama struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *chat.Logger
}

func NewOllama(baseURL string, logger *chat.Logger) *Ollama {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// Streaming responses stay open for the whole generation; only the
		// dial is bounded here, the request itself is bounded by ctx.
		HTTP:   &http.Client{},
		Logger: logger,
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Think    bool                   `json:"think,omitempty"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		Thinking  string           `json:"thinking"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

// Generate opens a streaming chat completion and adapts the NDJSON response
// into chunks. The channel closes after a done or error chunk, or when ctx
// is cancelled.
func (o *Ollama) Generate(ctx context.Context, messages []chat.Message, tools []chat.ToolDefinition, model string, opts chat.GenerateOptions) (<-chan chat.Chunk, error) {
	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
		Think:    opts.Think,
	}
	for _, def := range tools {
		reqBody.Tools = append(reqBody.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	if opts.Temperature > 0 {
		reqBody.Options = map[string]interface{}{"temperature": opts.Temperature}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(request)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("generation request failed: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	ch := make(chan chat.Chunk)
	go o.stream(ctx, resp.Body, ch)
	return ch, nil
}

func (o *Ollama) stream(ctx context.Context, body io.ReadCloser, ch chan<- chat.Chunk) {
	defer close(ch)
	defer body.Close()

	emit := func(chunk chat.Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			emit(chat.Chunk{Type: chat.ChunkError, Err: fmt.Errorf("malformed stream chunk: %w", err)})
			return
		}
		if chunk.Error != "" {
			emit(chat.Chunk{Type: chat.ChunkError, Err: fmt.Errorf("generation failed: %s", chunk.Error)})
			return
		}
		if len(chunk.Message.ToolCalls) > 0 {
			calls := make([]chat.ToolCall, 0, len(chunk.Message.ToolCalls))
			for _, tc := range chunk.Message.ToolCalls {
				calls = append(calls, chat.ToolCall{
					Name:             tc.Function.Name,
					Arguments:        tc.Function.Arguments,
					PermissionStatus: chat.PermissionPending,
				})
			}
			emit(chat.Chunk{Type: chat.ChunkToolCalls, ToolCalls: calls})
			return
		}
		if chunk.Message.Thinking != "" {
			if !emit(chat.Chunk{Type: chat.ChunkThinking, Thinking: chunk.Message.Thinking}) {
				return
			}
		}
		if chunk.Message.Content != "" {
			if !emit(chat.Chunk{Type: chat.ChunkContent, Content: chunk.Message.Content}) {
				return
			}
		}
		if chunk.Done {
			emit(chat.Chunk{Type: chat.ChunkDone})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// The consumer already observed cancellation; nothing to report.
			return
		}
		emit(chat.Chunk{Type: chat.ChunkError, Err: fmt.Errorf("stream read failed: %w", err)})
		return
	}
	// Stream ended without an explicit done marker.
	emit(chat.Chunk{Type: chat.ChunkDone})
}

func toOllamaMessages(messages []chat.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == chat.RoleTool {
			om.ToolName = msg.ToolName
		}
		for _, call := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: call.Name, Arguments: call.Arguments},
			})
		}
		out = append(out, om)
	}
	return out
}

type ollamaShowRequest struct {
	Model string `json:"model"`
}

type ollamaShowResponse struct {
	Capabilities []string                   `json:"capabilities"`
	ModelInfo    map[string]json.RawMessage `json:"model_info"`
}

// ModelInfo queries /api/show for the model's context length and
// capabilities.
func (o *Ollama) ModelInfo(ctx context.Context, model string) (chat.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	payload, err := json.Marshal(ollamaShowRequest{Model: model})
	if err != nil {
		return chat.ModelInfo{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/show", bytes.NewReader(payload))
	if err != nil {
		return chat.ModelInfo{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(request)
	if err != nil {
		return chat.ModelInfo{}, fmt.Errorf("model info request failed (is Ollama running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return chat.ModelInfo{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return chat.ModelInfo{}, fmt.Errorf("model info request failed: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var show ollamaShowResponse
	if err := json.Unmarshal(body, &show); err != nil {
		return chat.ModelInfo{}, fmt.Errorf("failed to unmarshal model info: %w", err)
	}

	info := chat.ModelInfo{ContextLength: contextLengthFrom(show.ModelInfo)}
	for _, capability := range show.Capabilities {
		switch capability {
		case "thinking":
			info.SupportsThinking = true
		case "tools":
			info.SupportsTools = true
		}
	}
	if o.Logger != nil {
		o.Logger.Info("model info", map[string]interface{}{
			"model":          model,
			"context_length": info.ContextLength,
			"thinking":       info.SupportsThinking,
			"tools":          info.SupportsTools,
		})
	}
	return info, nil
}

// contextLengthFrom finds the architecture-prefixed context length key, e.g.
// "llama.context_length".
func contextLengthFrom(modelInfo map[string]json.RawMessage) int {
	for key, raw := range modelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		var n int
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
