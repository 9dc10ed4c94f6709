package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SamInTheShell/delver/internal/app"
	"github.com/SamInTheShell/delver/internal/chat"
	"github.com/SamInTheShell/delver/internal/tui"
)

const version = "0.3.0"

var (
	configPath string
	vaultRoot  string
	modelName  string
	modeName   string
)

func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if vaultRoot != "" {
		cfg.VaultRoot = vaultRoot
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" && cfg.OllamaURL == "http://localhost:11434" {
		cfg.OllamaURL = url
	}
	if modelName != "" {
		cfg.Model = modelName
	}
	if modeName != "" {
		if _, ok := chat.ParseContextMode(modeName); !ok {
			return cfg, fmt.Errorf("unknown context mode: %s", modeName)
		}
		cfg.ContextMode = modeName
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func main() {
	root := &cobra.Command{
		Use:     "delver",
		Short:   "Delver - chat with your markdown vault through a local model",
		Long:    "Delver is a local chat assistant that answers from your personal markdown vault.\n\nRun without arguments for the interactive TUI, or use 'ask' for one-shot questions.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			sess, err := application.NewSession("chat")
			if err != nil {
				return err
			}
			return tui.Run(application, sess)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yml (default: user config dir)")
	root.PersistentFlags().StringVar(&vaultRoot, "vault", "", "vault root folder")
	root.PersistentFlags().StringVar(&modelName, "model", "", "model name to use")
	root.PersistentFlags().StringVar(&modeName, "mode", "", "context mode: rolling|compaction|halting")

	root.AddCommand(askCmd(), sessionsCmd(), toolsCmd(), permissionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Long:  "Ask runs a single turn without the TUI. Tool calls that would prompt are asked for on stdin.\n\nExamples:\n  - delver ask \"what did I write yesterday?\"\n  - delver ask --session <id> \"and the day before?\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			var sess *chat.Session
			if sessionID != "" {
				sess, err = application.ResumeSession(sessionID)
			} else {
				sess, err = application.NewSession("ask")
			}
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			callbacks := chat.TurnCallbacks{
				OnChunk: func(c chat.Chunk) {
					if c.Type == chat.ChunkContent {
						fmt.Print(c.Content)
					}
				},
				OnToolCallsComplete: func(msg chat.Message) {
					for _, call := range msg.ToolCalls {
						fmt.Fprintf(os.Stderr, "[tool %s: %s]\n", call.Name, call.PermissionStatus)
					}
				},
				OnToolPermission: func(ctx context.Context, call chat.ToolCall) (bool, error) {
					fmt.Fprintf(os.Stderr, "\nAllow tool %s with arguments %s? [y/N] ", call.Name, call.Arguments)
					answer := make(chan string, 1)
					go func() {
						var line string
						_, _ = fmt.Scanln(&line)
						answer <- line
					}()
					select {
					case line := <-answer:
						line = strings.ToLower(strings.TrimSpace(line))
						return line == "y" || line == "yes", nil
					case <-ctx.Done():
						return false, ctx.Err()
					}
				},
			}

			if err := application.RunTurn(ctx, sess, args[0], callbacks); err != nil {
				return err
			}
			fmt.Println()
			fmt.Fprintf(os.Stderr, "[session %s]\n", sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session by id")
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			sums, err := application.Store.ListSessions(50)
			if err != nil {
				return err
			}
			if len(sums) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			for _, sum := range sums {
				fmt.Printf("%s  %-20s  %s  %3d messages  %s\n",
					sum.Session.ID, sum.Session.Name, sum.Session.Model,
					sum.MessageCount, sum.Session.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer application.Close()
			if err := application.Store.DeleteSession(args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted", args[0])
			return nil
		},
	})
	return cmd
}

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect available tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tools and their policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			for _, tool := range application.Registry.All() {
				def := tool.Definition()
				policy := application.Permissions.Policy(def.Name)
				fmt.Printf("%-14s %-9s %s\n", def.Name, policy, def.Description)
			}
			return nil
		},
	})
	return cmd
}

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage per-tool permission policies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Permissions) == 0 {
				fmt.Println("No policies configured; every tool asks.")
				return nil
			}
			names := make([]string, 0, len(cfg.Permissions))
			for name := range cfg.Permissions {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-14s %s\n", name, cfg.Permissions[name])
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [tool] [policy]",
		Short: "Set a tool's policy: ask|allow|deny|disabled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, raw := args[0], args[1]
			policy, ok := chat.ParsePolicy(raw)
			if !ok {
				return fmt.Errorf("unknown policy %q (want ask|allow|deny|disabled)", raw)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Permissions[tool] = string(policy)
			path := configPath
			if path == "" {
				path = app.DefaultConfigPath()
			}
			if err := app.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", tool, policy)
			return nil
		},
	})
	return cmd
}
