package chat

import (
	"fmt"
	"strings"
)

const (
	// rollingWindow is the number of conversation messages kept in rolling mode.
	rollingWindow = 20
	// compactionRecent is the number of recent messages kept verbatim in
	// compaction mode.
	compactionRecent = 10
	// compactionFallback is the fraction of the budget above which the recent
	// window is considered too large to pair with a compaction notice.
	compactionFallback = 0.8
)

// ContextManager selects the active message window for a session under a
// bounded token budget.
type ContextManager struct {
	est *TokenEstimator
}

func NewContextManager(est *TokenEstimator) *ContextManager {
	if est == nil {
		est = NewTokenEstimator()
	}
	return &ContextManager{est: est}
}

// Estimator returns the token estimator the manager uses.
func (m *ContextManager) Estimator() *TokenEstimator {
	return m.est
}

// ContextState is a read-only projection of a session's context for display.
type ContextState struct {
	Messages       []Message
	ActiveMessages []Message
	CurrentTokens  int
	MaxTokens      int
}

// ActiveMessages returns the messages to send to the model for the next
// generation round.
//
// The session's messages are never mutated: user messages in the result are
// derived copies carrying a datetime header, and the compaction notice is a
// synthetic message. In halting mode a conversation over budget returns a
// ContextLimitError instead of a window.
func (m *ContextManager) ActiveMessages(sess *Session, providerMaxTokens int) ([]Message, error) {
	system, conv := splitSystemMessage(sess.Messages)
	budget := m.budget(sess, providerMaxTokens)

	var reduced []Message
	switch sess.ContextMode {
	case ContextCompaction:
		reduced = m.compact(conv, budget)
	case ContextHalting:
		if total := m.est.EstimateMessages(conv); total > budget {
			return nil, &ContextLimitError{Tokens: total, Budget: budget}
		}
		reduced = conv
	default:
		// Rolling is also the fallback for unknown modes.
		reduced = lastN(conv, rollingWindow)
	}

	out := make([]Message, 0, len(reduced)+1)
	if system != nil {
		out = append(out, *system)
	}
	for _, msg := range reduced {
		if msg.Role == RoleUser {
			msg = withDatetimeHeader(msg)
		}
		out = append(out, msg)
	}
	return out, nil
}

// State reports the session's full and active windows together with the
// estimated token usage. It has no side effects; a halting-mode overflow
// yields an empty active window rather than an error.
func (m *ContextManager) State(sess *Session, providerMaxTokens int) ContextState {
	state := ContextState{
		Messages:  sess.Messages,
		MaxTokens: m.budget(sess, providerMaxTokens),
	}
	active, err := m.ActiveMessages(sess, providerMaxTokens)
	if err == nil {
		state.ActiveMessages = active
		state.CurrentTokens = m.est.EstimateMessages(active)
		return state
	}
	_, conv := splitSystemMessage(sess.Messages)
	state.CurrentTokens = m.est.EstimateMessages(conv)
	return state
}

func (m *ContextManager) budget(sess *Session, providerMaxTokens int) int {
	if sess.ContextLimit > 0 {
		return sess.ContextLimit
	}
	return providerMaxTokens
}

// compact keeps the most recent messages and folds everything older into one
// synthetic notice. If the recent window alone is already close to the
// budget, it falls back to the rolling window over the full conversation:
// recent-plus-notice would not be safely smaller than what rolling keeps.
func (m *ContextManager) compact(conv []Message, budget int) []Message {
	if len(conv) <= compactionRecent {
		return conv
	}
	recent := conv[len(conv)-compactionRecent:]
	older := conv[:len(conv)-compactionRecent]

	if float64(m.est.EstimateMessages(recent)) >= compactionFallback*float64(budget) {
		return lastN(conv, rollingWindow)
	}

	out := make([]Message, 0, len(recent)+1)
	out = append(out, compactionNotice(older))
	out = append(out, recent...)
	return out
}

// compactionNotice summarizes the dropped messages by count and role. The
// notice is a fixed placeholder: no model-generated summarization happens.
func compactionNotice(older []Message) Message {
	counts := make(map[Role]int, 4)
	for _, msg := range older {
		counts[msg.Role]++
	}
	parts := make([]string, 0, 4)
	for _, role := range []Role{RoleUser, RoleAssistant, RoleTool, RoleSystem} {
		if n := counts[role]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, role))
		}
	}
	content := fmt.Sprintf(
		"[Conversation compacted: %d earlier messages (%s) were removed from the active context. Key points from the earlier conversation are preserved above.]",
		len(older), strings.Join(parts, ", "))
	return Message{
		ID:        "context-compaction",
		Role:      RoleSystem,
		Content:   content,
		Timestamp: older[len(older)-1].Timestamp,
	}
}

// withDatetimeHeader returns a copy of msg whose content is prefixed with a
// metadata block derived from the message's own timestamp. The derivation is
// recomputed on every call and is idempotent for a fixed timestamp.
func withDatetimeHeader(msg Message) Message {
	ts := msg.Timestamp.Local()
	msg.Content = fmt.Sprintf("[Sent: %s | Month: %s | Weekday: %s]\n%s",
		ts.Format("2006-01-02 15:04:05"), ts.Month(), ts.Weekday(), msg.Content)
	return msg
}

// splitSystemMessage separates the optional leading system message from the
// conversation messages, preserving order.
func splitSystemMessage(msgs []Message) (*Message, []Message) {
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		system := msgs[0]
		return &system, msgs[1:]
	}
	return nil, msgs
}

func lastN(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
