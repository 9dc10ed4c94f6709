package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContextMode selects how the ContextManager reduces conversation history
// before it is sent to the model.
type ContextMode string

const (
	// ContextRolling keeps a fixed window of the most recent messages.
	ContextRolling ContextMode = "rolling"
	// ContextCompaction replaces older messages with a single notice message.
	ContextCompaction ContextMode = "compaction"
	// ContextHalting refuses to generate once the conversation exceeds the
	// token budget.
	ContextHalting ContextMode = "halting"
)

// ParseContextMode parses a user-provided mode into a canonical value.
func ParseContextMode(raw string) (ContextMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ContextRolling):
		return ContextRolling, true
	case string(ContextCompaction), "compact":
		return ContextCompaction, true
	case string(ContextHalting), "halt":
		return ContextHalting, true
	default:
		return ContextMode(""), false
	}
}

// PermissionStatus records the outcome of the permission check for one tool
// call.
type PermissionStatus string

const (
	PermissionPending  PermissionStatus = "pending"
	PermissionApproved PermissionStatus = "approved"
	PermissionDenied   PermissionStatus = "denied"
)

// ToolCall is a structured request from the model to invoke a named tool.
// Result and Error are mutually exclusive: execution failures are stored on
// Error and never abort the surrounding turn.
type ToolCall struct {
	Name             string           `json:"name"`
	Arguments        json.RawMessage  `json:"arguments,omitempty"`
	PermissionStatus PermissionStatus `json:"permission_status,omitempty"`
	Result           string           `json:"result,omitempty"`
	Error            string           `json:"error,omitempty"`
}

type Message struct {
	ID       string     `json:"id"`
	Role     Role       `json:"role"`
	Content  string     `json:"content"`
	Thinking string     `json:"thinking,omitempty"`
	// ToolCalls is set on assistant messages that requested tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolName is set on tool-role messages and names the tool that produced
	// the content.
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"is_streaming,omitempty"`
	Editable  bool      `json:"editable,omitempty"`
}

// Session is one persisted conversation and its settings. Messages are kept
// in insertion order; at most one message has RoleSystem and, if present, it
// is the first message.
type Session struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`

	ContextMode ContextMode `json:"context_mode"`
	// ContextLimit overrides the provider's reported max tokens when > 0.
	ContextLimit int    `json:"context_limit,omitempty"`
	Model        string `json:"model"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session with an optional leading system message.
func NewSession(name, model string, mode ContextMode, systemPrompt string) *Session {
	now := time.Now()
	sess := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		ContextMode: mode,
		Model:       model,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if systemPrompt != "" {
		sess.Messages = append(sess.Messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleSystem,
			Content:   systemPrompt,
			Timestamp: now,
		})
	}
	return sess
}

// Append adds msg to the conversation and bumps UpdatedAt. UpdatedAt never
// moves backwards.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	if now := time.Now(); now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// NewUserMessage builds a user message ready to append to a session.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		Editable:  true,
	}
}
