// Package app wires the chat loop, vault tools, provider, and session store
// into one application.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/SamInTheShell/delver/internal/chat"
	"github.com/SamInTheShell/delver/internal/provider"
	"github.com/SamInTheShell/delver/internal/store"
	"github.com/SamInTheShell/delver/internal/vault"
)

type Application struct {
	Config      Config
	Logger      *chat.Logger
	Store       *store.SQLiteStore
	Vault       *vault.Vault
	Provider    chat.Provider
	Registry    *chat.ToolRegistry
	Permissions *chat.PermissionManager
	Loop        *chat.ChatLoop

	logFile io.Closer
}

func NewApplication(cfg Config) (*Application, error) {
	logger, logFile, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(cfg.VaultRoot)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("open vault: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "delver.db"))
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("open session store: %w", err)
	}

	registry := chat.NewToolRegistry()
	vault.RegisterTools(registry, v)

	perms := chat.NewPermissionManager()
	cfg.ApplyPermissions(perms, logger)

	backend := provider.NewOllama(cfg.OllamaURL, logger)

	loop := chat.NewChatLoop(backend, registry, perms, nil, logger)
	loop.Temperature = cfg.Temperature

	return &Application{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Vault:       v,
		Provider:    backend,
		Registry:    registry,
		Permissions: perms,
		Loop:        loop,
		logFile:     logFile,
	}, nil
}

func openLogger(cfg Config) (*chat.Logger, io.Closer, error) {
	if cfg.LogFile == "" {
		return chat.NewLogger(io.Discard), nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return chat.NewLogger(f), f, nil
}

func (a *Application) Close() error {
	err := a.Store.Close()
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	return err
}

// NewSession creates and persists a fresh session using the configured model
// and context mode.
func (a *Application) NewSession(name string) (*chat.Session, error) {
	mode, ok := chat.ParseContextMode(a.Config.ContextMode)
	if !ok {
		a.Logger.Warn("unknown context mode in config, using rolling", map[string]interface{}{
			"mode": a.Config.ContextMode,
		})
		mode = chat.ContextRolling
	}
	sess := chat.NewSession(name, a.Config.Model, mode, SystemPrompt(a.Config.VaultRoot))
	sess.ContextLimit = a.Config.ContextLimit
	if err := a.Store.CreateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ResumeSession loads a persisted session by id.
func (a *Application) ResumeSession(id string) (*chat.Session, error) {
	return a.Store.LoadSession(id)
}

// RunTurn appends the user's message, persists it, and drives one full turn
// of the chat loop. Every message the loop appends is persisted as it lands
// so an interrupted process loses at most the in-flight chunk.
func (a *Application) RunTurn(ctx context.Context, sess *chat.Session, input string, callbacks chat.TurnCallbacks) error {
	userMsg := chat.NewUserMessage(input)
	sess.Append(userMsg)
	if err := a.Store.AppendMessage(sess.ID, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	persisted := callbacks
	persisted.OnAppend = func(msg chat.Message) {
		if err := a.Store.AppendMessage(sess.ID, msg); err != nil {
			a.Logger.Error("failed to persist message", map[string]interface{}{
				"session": sess.ID,
				"message": msg.ID,
				"error":   err.Error(),
			})
		}
		if callbacks.OnAppend != nil {
			callbacks.OnAppend(msg)
		}
	}
	persisted.OnToolCallsComplete = func(msg chat.Message) {
		// Re-save the assistant message now that its tool calls carry
		// results and permission outcomes.
		if err := a.Store.UpdateMessage(sess.ID, msg); err != nil {
			a.Logger.Error("failed to persist tool results", map[string]interface{}{
				"session": sess.ID,
				"message": msg.ID,
				"error":   err.Error(),
			})
		}
		if callbacks.OnToolCallsComplete != nil {
			callbacks.OnToolCallsComplete(msg)
		}
	}

	var turnErr error
	persisted.OnError = func(err error) {
		turnErr = err
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
	}

	a.Loop.Run(ctx, sess, persisted)
	if saveErr := a.Store.SaveSession(sess); saveErr != nil {
		a.Logger.Error("failed to save session", map[string]interface{}{
			"session": sess.ID,
			"error":   saveErr.Error(),
		})
	}
	return turnErr
}
