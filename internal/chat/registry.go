package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// ToolDefinition is the schema advertised to the model for one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Tool is a named capability the model can invoke with structured arguments.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolRegistry holds registered tools keyed by name.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool; re-registering a name replaces the previous tool.
func (r *ToolRegistry) Register(tool Tool) {
	name := tool.Definition().Name
	r.mu.Lock()
	r.tools[name] = tool
	r.mu.Unlock()
}

// Get retrieves a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns every registered tool, sorted by name.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// EnabledDefinitions returns the schema of every tool whose policy is not
// disabled. Tools under ask, allow or deny are still advertised to the
// model; only a disabled tool is hidden from generation.
func (r *ToolRegistry) EnabledDefinitions(perms *PermissionManager) []ToolDefinition {
	out := make([]ToolDefinition, 0)
	for _, tool := range r.All() {
		def := tool.Definition()
		if perms != nil && perms.IsDisabled(def.Name) {
			continue
		}
		out = append(out, def)
	}
	return out
}
