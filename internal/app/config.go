package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/SamInTheShell/delver/internal/chat"
)

type Config struct {
	VaultRoot    string            `yaml:"vault_root"`
	OllamaURL    string            `yaml:"ollama_url"`
	Model        string            `yaml:"model"`
	ContextMode  string            `yaml:"context_mode"`
	ContextLimit int               `yaml:"context_limit"`
	Temperature  float64           `yaml:"temperature"`
	DataDir      string            `yaml:"data_dir"`
	LogFile      string            `yaml:"log_file"`
	Permissions  map[string]string `yaml:"permissions"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		VaultRoot:   filepath.Join(home, "vault"),
		OllamaURL:   "http://localhost:11434",
		Model:       "qwen3",
		ContextMode: "rolling",
		Temperature: 0.7,
		DataDir:     defaultDataDir(),
		Permissions: map[string]string{},
	}
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".delver"
	}
	return filepath.Join(base, "delver")
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "delver", "config.yml")
}

// LoadConfig reads the yaml config at path, falling back to defaults when the
// file does not exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen3"
	}
	if cfg.ContextMode == "" {
		cfg.ContextMode = "rolling"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.Permissions == nil {
		cfg.Permissions = map[string]string{}
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyPermissions loads the configured per-tool policies into the manager,
// skipping entries that do not parse.
func (c Config) ApplyPermissions(perms *chat.PermissionManager, logger *chat.Logger) {
	for name, raw := range c.Permissions {
		policy, ok := chat.ParsePolicy(raw)
		if !ok {
			logger.Warn("invalid permission policy in config", map[string]interface{}{
				"tool":   name,
				"policy": raw,
			})
			continue
		}
		perms.Set(name, policy)
	}
}
