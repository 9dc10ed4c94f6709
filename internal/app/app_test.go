package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/SamInTheShell/delver/internal/chat"
	"github.com/SamInTheShell/delver/internal/store"
	"github.com/SamInTheShell/delver/internal/vault"
)

// scriptedProvider replays fixed chunk rounds, one per Generate call.
type scriptedProvider struct {
	rounds [][]chat.Chunk
	calls  int
}

func (p *scriptedProvider) Generate(ctx context.Context, _ []chat.Message, _ []chat.ToolDefinition, _ string, _ chat.GenerateOptions) (<-chan chat.Chunk, error) {
	if p.calls >= len(p.rounds) {
		return nil, errors.New("no more scripted rounds")
	}
	round := p.rounds[p.calls]
	p.calls++
	ch := make(chan chat.Chunk)
	go func() {
		defer close(ch)
		for _, chunk := range round {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) ModelInfo(ctx context.Context, model string) (chat.ModelInfo, error) {
	return chat.ModelInfo{ContextLength: 8192, SupportsTools: true}, nil
}

func testApp(t *testing.T, provider chat.Provider) *Application {
	t.Helper()
	cfg := DefaultConfig()
	cfg.VaultRoot = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.Model = "test-model"

	logger := chat.NewLogger(io.Discard)
	v, err := vault.Open(cfg.VaultRoot)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "delver.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	registry := chat.NewToolRegistry()
	vault.RegisterTools(registry, v)
	perms := chat.NewPermissionManager()
	perms.Set("vault_write", chat.PolicyAllow)

	return &Application{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Vault:       v,
		Provider:    provider,
		Registry:    registry,
		Permissions: perms,
		Loop:        chat.NewChatLoop(provider, registry, perms, nil, logger),
	}
}

func TestNewApplicationWiresTools(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VaultRoot = t.TempDir()
	cfg.DataDir = t.TempDir()
	app, err := NewApplication(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	for _, name := range []string{"vault_read", "vault_search", "vault_list", "vault_write"} {
		if _, ok := app.Registry.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestNewSessionPersistsSystemPrompt(t *testing.T) {
	app := testApp(t, &scriptedProvider{})
	sess, err := app.NewSession("morning")
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := app.Store.LoadSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Role != chat.RoleSystem {
		t.Fatalf("messages = %+v", loaded.Messages)
	}
	if loaded.Model != "test-model" || loaded.ContextMode != chat.ContextRolling {
		t.Fatalf("session settings = %+v", loaded)
	}
}

func TestRunTurnPersistsMessages(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]chat.Chunk{{
		{Type: chat.ChunkContent, Content: "All quiet."},
		{Type: chat.ChunkDone},
	}}}
	app := testApp(t, provider)
	sess, err := app.NewSession("s")
	if err != nil {
		t.Fatal(err)
	}

	if err := app.RunTurn(context.Background(), sess, "anything new?", chat.TurnCallbacks{}); err != nil {
		t.Fatal(err)
	}

	loaded, err := app.Store.LoadSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	// system, user, assistant
	if len(loaded.Messages) != 3 {
		t.Fatalf("got %d persisted messages, want 3", len(loaded.Messages))
	}
	if loaded.Messages[1].Role != chat.RoleUser || loaded.Messages[1].Content != "anything new?" {
		t.Fatalf("user message = %+v", loaded.Messages[1])
	}
	if loaded.Messages[2].Role != chat.RoleAssistant || loaded.Messages[2].Content != "All quiet." {
		t.Fatalf("assistant message = %+v", loaded.Messages[2])
	}
}

func TestRunTurnPersistsToolResults(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"path": "inbox.md", "content": "todo"})
	provider := &scriptedProvider{rounds: [][]chat.Chunk{
		{{Type: chat.ChunkToolCalls, ToolCalls: []chat.ToolCall{{
			Name:             "vault_write",
			Arguments:        args,
			PermissionStatus: chat.PermissionPending,
		}}}},
		{
			{Type: chat.ChunkContent, Content: "Saved it."},
			{Type: chat.ChunkDone},
		},
	}}
	app := testApp(t, provider)
	sess, err := app.NewSession("s")
	if err != nil {
		t.Fatal(err)
	}

	if err := app.RunTurn(context.Background(), sess, "note down todo", chat.TurnCallbacks{}); err != nil {
		t.Fatal(err)
	}

	// The tool actually ran against the vault.
	content, err := app.Vault.ReadNote("inbox.md")
	if err != nil || content != "todo" {
		t.Fatalf("vault write did not land: %q, %v", content, err)
	}

	loaded, err := app.Store.LoadSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	// system, user, assistant(tool call), tool, assistant
	if len(loaded.Messages) != 5 {
		t.Fatalf("got %d persisted messages, want 5", len(loaded.Messages))
	}
	call := loaded.Messages[2].ToolCalls[0]
	if call.PermissionStatus != chat.PermissionApproved || call.Result == "" {
		t.Fatalf("persisted tool call missing outcome: %+v", call)
	}
	if loaded.Messages[3].Role != chat.RoleTool || loaded.Messages[3].ToolName != "vault_write" {
		t.Fatalf("tool message = %+v", loaded.Messages[3])
	}
	if loaded.Messages[4].Content != "Saved it." {
		t.Fatalf("final message = %+v", loaded.Messages[4])
	}
}

func TestRunTurnReportsTerminalError(t *testing.T) {
	provider := &scriptedProvider{} // no rounds: Generate fails
	app := testApp(t, provider)
	sess, err := app.NewSession("s")
	if err != nil {
		t.Fatal(err)
	}
	err = app.RunTurn(context.Background(), sess, "hi", chat.TurnCallbacks{})
	if err == nil {
		t.Fatal("expected turn error")
	}
	// The user message is still durably persisted.
	loaded, err := app.Store.LoadSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("got %d messages, want system + user", len(loaded.Messages))
	}
}
