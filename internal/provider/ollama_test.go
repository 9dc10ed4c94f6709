package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SamInTheShell/delver/internal/chat"
)

func collect(t *testing.T, ch <-chan chat.Chunk) []chat.Chunk {
	t.Helper()
	var out []chat.Chunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestGenerateStreamsContent(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	msgs := []chat.Message{
		{Role: chat.RoleSystem, Content: "sys"},
		{Role: chat.RoleUser, Content: "hi"},
	}
	ch, err := o.Generate(context.Background(), msgs, nil, "llama3.1", chat.GenerateOptions{Temperature: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, ch)

	if !gotReq.Stream {
		t.Error("request should ask for streaming")
	}
	if gotReq.Model != "llama3.1" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if gotReq.Options["temperature"] != 0.7 {
		t.Errorf("options = %+v", gotReq.Options)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].Type != chat.ChunkContent || chunks[0].Content != "Hel" {
		t.Errorf("chunk[0] = %+v", chunks[0])
	}
	if chunks[1].Content != "lo" {
		t.Errorf("chunk[1] = %+v", chunks[1])
	}
	if chunks[2].Type != chat.ChunkDone {
		t.Errorf("chunk[2] = %+v", chunks[2])
	}
}

func TestGenerateStreamsThinkingAndToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Think {
			t.Error("think flag not forwarded")
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "vault_search" {
			t.Errorf("tools = %+v", req.Tools)
		}
		lines := []string{
			`{"message":{"role":"assistant","thinking":"Need to search."},"done":false}`,
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"vault_search","arguments":{"query":"garden"}}}]},"done":false}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	tools := []chat.ToolDefinition{{Name: "vault_search", Description: "search", Parameters: json.RawMessage(`{"type":"object"}`)}}
	ch, err := o.Generate(context.Background(), nil, tools, "m", chat.GenerateOptions{Think: true})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, ch)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Type != chat.ChunkThinking || chunks[0].Thinking != "Need to search." {
		t.Errorf("chunk[0] = %+v", chunks[0])
	}
	if chunks[1].Type != chat.ChunkToolCalls {
		t.Fatalf("chunk[1] = %+v", chunks[1])
	}
	call := chunks[1].ToolCalls[0]
	if call.Name != "vault_search" || call.PermissionStatus != chat.PermissionPending {
		t.Errorf("tool call = %+v", call)
	}
	if !strings.Contains(string(call.Arguments), `"garden"`) {
		t.Errorf("arguments = %s", call.Arguments)
	}
}

func TestGenerateSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	if _, err := o.Generate(context.Background(), nil, nil, "nope", chat.GenerateOptions{}); err == nil {
		t.Fatal("expected error for 404")
	} else if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("error = %v", err)
	}
}

func TestGenerateStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"context deadline exceeded"}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	ch, err := o.Generate(context.Background(), nil, nil, "m", chat.GenerateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %+v", len(chunks), chunks)
	}
	last := chunks[len(chunks)-1]
	if last.Type != chat.ChunkError || last.Err == nil {
		t.Fatalf("last chunk = %+v", last)
	}
}

func TestGenerateCancellationClosesStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"one"},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	o := NewOllama(srv.URL, nil)
	ch, err := o.Generate(ctx, nil, nil, "m", chat.GenerateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case chunk := <-ch:
		if chunk.Content != "one" {
			t.Fatalf("first chunk = %+v", chunk)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no first chunk")
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestModelInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/show" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaShowRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "qwen3" {
			t.Errorf("model = %q", req.Model)
		}
		fmt.Fprintln(w, `{
			"capabilities": ["completion", "tools", "thinking"],
			"model_info": {
				"general.architecture": "qwen3",
				"qwen3.context_length": 40960
			}
		}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	info, err := o.ModelInfo(context.Background(), "qwen3")
	if err != nil {
		t.Fatal(err)
	}
	if info.ContextLength != 40960 {
		t.Errorf("context length = %d", info.ContextLength)
	}
	if !info.SupportsTools || !info.SupportsThinking {
		t.Errorf("capabilities = %+v", info)
	}
}

func TestModelInfoMissingContextLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"capabilities":["completion"],"model_info":{"general.architecture":"llama"}}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	info, err := o.ModelInfo(context.Background(), "m")
	if err != nil {
		t.Fatal(err)
	}
	if info.ContextLength != 0 || info.SupportsTools || info.SupportsThinking {
		t.Errorf("info = %+v", info)
	}
}

func TestModelInfoServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'x' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, nil)
	if _, err := o.ModelInfo(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
