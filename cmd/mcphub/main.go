package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/mcphub/config"
	"github.com/lexcodex/mcphub/orchestrator"
	"github.com/lexcodex/mcphub/persistence"
	"github.com/lexcodex/mcphub/tui"
)

var (
	flagConfig     string
	flagModel      string
	flagEndpoint   string
	flagTranscript string
	flagVerbose    bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcphub",
		Short: "Multi-provider MCP tool orchestration runtime",
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("MCPHUB_CONFIG", ""), "Path to a YAML config (default: built-in provider set)")
	root.PersistentFlags().StringVar(&flagModel, "model", envOrDefault("OLLAMA_MODEL", ""), "Planner model (overrides config)")
	root.PersistentFlags().StringVar(&flagEndpoint, "ollama", envOrDefault("OLLAMA_ENDPOINT", ""), "Ollama endpoint (overrides config)")
	root.PersistentFlags().StringVar(&flagTranscript, "transcript", envOrDefault("MCPHUB_TRANSCRIPT", ""), "SQLite transcript path (overrides config)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newChatCmd(), newAskCmd(), newProvidersCmd(), newToolsCmd(), newTranscriptCmd())
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() (*zap.Logger, error) {
	if flagVerbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagModel != "" {
		cfg.Model.Name = flagModel
	}
	if flagEndpoint != "" {
		cfg.Model.Endpoint = flagEndpoint
	}
	if flagTranscript != "" {
		cfg.TranscriptPath = flagTranscript
	}
	return cfg, nil
}

func newChatCmd() *cobra.Command {
	var useTUI bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session against the configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rt, err := bootRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if useTUI {
				return tui.Run(cmd.Context(), rt.Session)
			}
			return runChat(cmd, rt)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Use the full-screen terminal UI")
	return cmd
}

func runChat(cmd *cobra.Command, rt *Runtime) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mcphub chat. %d tools from %d providers. Type /tools, /providers, /history, or quit.\n",
		len(rt.Registry.Catalog()), len(rt.Supervisor.Processes()))
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "quit", "exit":
			return nil
		case "/tools":
			printTools(cmd, rt)
			continue
		case "/providers":
			printProviders(cmd, rt)
			continue
		case "/history":
			printHistory(cmd, rt.Session.History())
			continue
		}
		if err := streamTurn(cmd, rt, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func streamTurn(cmd *cobra.Command, rt *Runtime, input string) error {
	events, err := rt.Session.Submit(cmd.Context(), input)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventTextDelta:
			fmt.Fprint(out, ev.Text)
		case orchestrator.EventToolCallStarted:
			fmt.Fprintf(out, "\n[%s ...]\n", ev.Call.Name)
		case orchestrator.EventToolCallFinished:
			fmt.Fprintf(out, "[%s ok]\n", ev.Result.Name)
		case orchestrator.EventToolCallFailed:
			fmt.Fprintf(out, "[%s failed: %s]\n", ev.Result.Name, ev.Result.Err)
		case orchestrator.EventTurnComplete:
			fmt.Fprintln(out)
		}
	}
	return nil
}

func printTools(cmd *cobra.Command, rt *Runtime) {
	for _, tool := range rt.Registry.Catalog() {
		cmd.Printf("%-32s %-12s %s\n", tool.Name, tool.Provider, firstLine(tool.Description))
	}
	for _, conflict := range rt.Registry.Conflicts() {
		cmd.Printf("conflict: %s kept by %s, ignored from %s\n", conflict.Name, conflict.Winner, conflict.Loser)
	}
}

func printProviders(cmd *cobra.Command, rt *Runtime) {
	for _, p := range rt.Supervisor.Processes() {
		cmd.Printf("%-16s %-12s tools=%d cmd=%s\n",
			p.Descriptor.ID, p.State(), len(p.Tools()), p.Descriptor.Command)
	}
}

func printHistory(cmd *cobra.Command, turns []orchestrator.Turn) {
	for _, t := range turns {
		switch t.Kind {
		case orchestrator.TurnUser:
			cmd.Printf("you: %s\n", t.Text)
		case orchestrator.TurnPlanner:
			cmd.Printf("planner: %s\n", t.Text)
		case orchestrator.TurnToolCall:
			cmd.Printf("call %s(%v)\n", t.Call.Name, t.Call.Args)
		case orchestrator.TurnToolResult:
			cmd.Printf("result %s: %s\n", t.Result.Name, firstLine(t.Result.Content+t.Result.Err))
		case orchestrator.TurnError:
			cmd.Printf("error: %s\n", t.Text)
		}
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func newAskCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run a single turn and print the final answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("question is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			rt, err := bootRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			answer, err := rt.Session.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			cmd.Println(answer)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall turn timeout")
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Start the configured providers and report their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rt, err := bootRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			printProviders(cmd, rt)
			return nil
		},
	}
}

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List every tool the configured providers advertise",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rt, err := bootRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rt.Registry.Catalog())
			}
			printTools(cmd, rt)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the catalog as JSON (includes input schemas)")
	return cmd
}

func newTranscriptCmd() *cobra.Command {
	transcriptCmd := &cobra.Command{Use: "transcript", Short: "Inspect stored session transcripts"}

	openStore := func() (*persistence.Store, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.TranscriptPath == "" {
			return nil, errors.New("no transcript path configured (set transcript_path or --transcript)")
		}
		return persistence.Open(cfg.TranscriptPath)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			sessions, err := store.Sessions()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				cmd.Printf("%s\t%s\tturns=%d\n", s.ID, s.StartedAt.Format(time.RFC3339), s.Turns)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Replay a session transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("session id required")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			turns, err := store.Turns(args[0])
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				return fmt.Errorf("session %s not found", args[0])
			}
			printHistory(cmd, turns)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("session id required")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	}

	transcriptCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return transcriptCmd
}
