package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SamInTheShell/delver/internal/chat"
)

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return data
}

// RegisterTools registers every vault tool into the registry.
func RegisterTools(reg *chat.ToolRegistry, v *Vault) {
	reg.Register(&ReadTool{vault: v})
	reg.Register(&SearchTool{vault: v})
	reg.Register(&ListTool{vault: v})
	reg.Register(&WriteTool{vault: v})
}

// ReadTool reads one note from the vault.
type ReadTool struct {
	vault *Vault
}

func (t *ReadTool) Definition() chat.ToolDefinition {
	return chat.ToolDefinition{
		Name:        "vault_read",
		Description: "Read the full content of a note in the vault",
		Parameters: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Vault-relative path of the note, e.g. daily/2026-08-25.md",
				},
			},
			"required": []string{"path"},
		}),
	}
}

func (t *ReadTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}
	if args.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	return t.vault.ReadNote(args.Path)
}

// SearchTool searches note content.
type SearchTool struct {
	vault *Vault
}

func (t *SearchTool) Definition() chat.ToolDefinition {
	return chat.ToolDefinition{
		Name:        "vault_search",
		Description: "Search all notes for lines containing a query (case-insensitive)",
		Parameters: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Text to search for",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of matching lines (default: 20)",
				},
			},
			"required": []string{"query"},
		}),
	}
}

func (t *SearchTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	matches, err := t.vault.Search(args.Query, args.Limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No matches found for: " + args.Query, nil
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d: %s\n", m.Path, m.Line, m.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ListTool lists notes and folders.
type ListTool struct {
	vault *Vault
}

func (t *ListTool) Definition() chat.ToolDefinition {
	return chat.ToolDefinition{
		Name:        "vault_list",
		Description: "List notes and folders under a vault folder",
		Parameters: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Vault-relative folder (default: vault root)",
				},
			},
		}),
	}
}

func (t *ListTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
	}
	entries, err := t.vault.List(args.Path)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Folder is empty", nil
	}
	return strings.Join(entries, "\n"), nil
}

// WriteTool creates or overwrites a note.
type WriteTool struct {
	vault *Vault
}

func (t *WriteTool) Definition() chat.ToolDefinition {
	return chat.ToolDefinition{
		Name:        "vault_write",
		Description: "Create or overwrite a note in the vault",
		Parameters: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Vault-relative path of the note",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full note content",
				},
			},
			"required": []string{"path", "content"},
		}),
	}
}

func (t *WriteTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}
	if args.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	if err := t.vault.WriteNote(args.Path, args.Content); err != nil {
		return "", err
	}
	return "Note written: " + args.Path, nil
}
