package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/SamInTheShell/delver/internal/chat"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Errorf("ollama url = %q", cfg.OllamaURL)
	}
	if cfg.Model != "qwen3" || cfg.ContextMode != "rolling" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	cfg := DefaultConfig()
	cfg.VaultRoot = "/notes"
	cfg.Model = "llama3.1"
	cfg.ContextMode = "compaction"
	cfg.ContextLimit = 4096
	cfg.Permissions = map[string]string{"vault_write": "ask", "vault_read": "allow"}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.VaultRoot != "/notes" || loaded.Model != "llama3.1" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.ContextMode != "compaction" || loaded.ContextLimit != 4096 {
		t.Errorf("context settings = %+v", loaded)
	}
	if loaded.Permissions["vault_write"] != "ask" {
		t.Errorf("permissions = %+v", loaded.Permissions)
	}
}

func TestLoadConfigFillsEmptyFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("vault_root: /notes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "qwen3" || cfg.ContextMode != "rolling" || cfg.DataDir == "" {
		t.Errorf("empty fields not filled: %+v", cfg)
	}
	if cfg.Permissions == nil {
		t.Error("permissions map not initialized")
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("vault_root: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyPermissions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Permissions = map[string]string{
		"vault_write":  "ask",
		"vault_read":   "allow",
		"vault_list":   "banana", // invalid, skipped
		"vault_search": "disabled",
	}
	perms := chat.NewPermissionManager()
	cfg.ApplyPermissions(perms, chat.NewLogger(io.Discard))

	if got := perms.Policy("vault_write"); got != chat.PolicyAsk {
		t.Errorf("vault_write = %s", got)
	}
	if got := perms.Policy("vault_read"); got != chat.PolicyAllow {
		t.Errorf("vault_read = %s", got)
	}
	if !perms.IsDisabled("vault_search") {
		t.Error("vault_search should be disabled")
	}
	// Invalid entries keep the default ask policy.
	if got := perms.Policy("vault_list"); got != chat.PolicyAsk {
		t.Errorf("vault_list = %s", got)
	}
}
