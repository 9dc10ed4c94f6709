package chat

import (
	"strings"
	"sync"
)

// Policy governs whether a tool may execute without user approval.
type Policy string

const (
	// PolicyAsk requires a user decision before every execution.
	PolicyAsk Policy = "ask"
	// PolicyAllow executes without prompting.
	PolicyAllow Policy = "allow"
	// PolicyDeny refuses execution but keeps the tool visible to the model.
	PolicyDeny Policy = "deny"
	// PolicyDisabled hides the tool from the model entirely.
	PolicyDisabled Policy = "disabled"
)

// ParsePolicy parses a user-provided policy into a canonical value.
func ParsePolicy(raw string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PolicyAsk), "prompt":
		return PolicyAsk, true
	case string(PolicyAllow), "always":
		return PolicyAllow, true
	case string(PolicyDeny), "never":
		return PolicyDeny, true
	case string(PolicyDisabled), "off":
		return PolicyDisabled, true
	default:
		return Policy(""), false
	}
}

// PermissionManager holds per-tool policies. Unset tools default to
// PolicyAsk. Policies may change between turns, so callers must re-read the
// policy for every tool call rather than caching it per turn.
type PermissionManager struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewPermissionManager() *PermissionManager {
	return &PermissionManager{policies: make(map[string]Policy)}
}

// Policy returns the resolved policy for a tool.
func (p *PermissionManager) Policy(tool string) Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if policy, ok := p.policies[tool]; ok {
		return policy
	}
	return PolicyAsk
}

// Set assigns a policy to one tool.
func (p *PermissionManager) Set(tool string, policy Policy) {
	p.mu.Lock()
	p.policies[tool] = policy
	p.mu.Unlock()
}

// All returns a copy of every explicitly assigned policy.
func (p *PermissionManager) All() map[string]Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Policy, len(p.policies))
	for tool, policy := range p.policies {
		out[tool] = policy
	}
	return out
}

// Update assigns policies in bulk.
func (p *PermissionManager) Update(policies map[string]Policy) {
	p.mu.Lock()
	for tool, policy := range policies {
		p.policies[tool] = policy
	}
	p.mu.Unlock()
}

func (p *PermissionManager) RequiresPrompt(tool string) bool {
	return p.Policy(tool) == PolicyAsk
}

func (p *PermissionManager) IsDenied(tool string) bool {
	return p.Policy(tool) == PolicyDeny
}

func (p *PermissionManager) IsDisabled(tool string) bool {
	return p.Policy(tool) == PolicyDisabled
}
