package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgehq/forge/internal/agentloop"
	"github.com/forgehq/forge/internal/config"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/obs"
	"github.com/forgehq/forge/internal/orchestrator"
	"github.com/forgehq/forge/internal/patch"
	"github.com/forgehq/forge/internal/patchtool"
	"github.com/forgehq/forge/internal/perftrack"
	"github.com/forgehq/forge/internal/sessionstore"
	"github.com/forgehq/forge/internal/toolkit"
	"github.com/forgehq/forge/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
)

// terminalWaitTimeout bounds how long the terminal REPL waits for one
// turn to finish before giving up on it; a real run cancels sooner via
// ctx if the user interrupts.
const terminalWaitTimeout = 5 * time.Minute

// cliFlags holds the root command's flag values, grounded on spec.md
// §6's CLI surface: --web|-w, --terminal|-t, --port.
type cliFlags struct {
	web        bool
	terminal   bool
	port       int
	configPath string
}

func buildRootCmd() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:          "forge",
		Short:        "forge - an agent shell driving a chat model through tool calls",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd.Context(), flags)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the workspace settings file (default ./.forge/settings.yaml)")
	rootCmd.Flags().BoolVarP(&flags.web, "web", "w", false, "serve the web UI instead of the terminal UI")
	rootCmd.Flags().BoolVarP(&flags.terminal, "terminal", "t", false, "run the terminal UI (default when neither --web nor --terminal is given)")
	rootCmd.Flags().IntVar(&flags.port, "port", 5173, "port for the web UI, in [1024, 65535]")

	return rootCmd
}

func runRoot(ctx context.Context, flags *cliFlags) error {
	if flags.web && flags.port != 0 && (flags.port < 1024 || flags.port > 65535) {
		return &forgeerr.ConfigError{Section: "cli", Message: fmt.Sprintf("--port must be in [1024, 65535], got %d", flags.port)}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(flags.configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if flags.web {
		return runWeb(ctx, st, flags.port)
	}
	return runTerminal(ctx, st)
}

// stack bundles every wired component a running agent needs.
type stack struct {
	cfg          *config.Config
	logger       *obs.Logger
	providers    map[string]transport.Provider
	registry     *toolkit.Registry
	runtime      *toolkit.Runtime
	sessions     sessionstore.Store
	tracker      *perftrack.Tracker
	patchEngine  *patch.Engine
	orchestrator *orchestrator.Orchestrator
}

func (s *stack) Close() {
	if s.tracker != nil {
		_ = s.tracker.Close()
	}
	if s.sessions != nil {
		_ = s.sessions.Dispose(context.Background())
	}
}

func buildStack(configPath string) (*stack, error) {
	paths := config.Paths{WorkspaceSettings: configPath}
	if paths.WorkspaceSettings == "" {
		paths.WorkspaceSettings = filepath.Join(".forge", "settings.yaml")
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return nil, &forgeerr.ConfigError{Section: "cli", Message: err.Error(), Cause: err}
	}

	logger := obs.New(obs.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx := context.Background()
	providerSet, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := toolkit.NewRegistry(logger)
	runtime := toolkit.NewRuntime(registry, toolkit.DefaultRuntimeConfig())

	sessions, err := openSessionStore(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	tracker, err := perftrack.Open(cfg.Performance.LogPath)
	if err != nil {
		// A missing diagnostics path is not fatal to running the agent;
		// fall back to a file-backed tracker in the system temp directory.
		tracker, err = perftrack.Open(filepath.Join(os.TempDir(), "forge-diff-metrics.jsonl"))
		if err != nil {
			return nil, err
		}
	}

	patchEngine := patch.NewEngine(patch.Config{
		Workspace:      cfg.Patch.Workspace,
		EnableFallback: cfg.Patch.EnableFallback,
		Remote: patch.RemoteConfig{
			APIKey:  cfg.Patch.APIKey,
			BaseURL: cfg.Patch.Endpoint,
			Model:   cfg.Patch.Model,
		},
	}, tracker)
	registry.Register(patchtool.New(patchEngine))

	loopFactory := func(agent *models.Agent) *agentloop.Loop {
		provider := selectProvider(providerSet, agent.Config.Provider)
		return agentloop.New(provider, registry, runtime, agentloop.Config{Logger: logger})
	}
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentAgents: cfg.Orchestrator.MaxConcurrentAgents,
		QueueDepth:          cfg.Orchestrator.QueueDepth,
		DefaultAgentConfig:  agentDefaults(cfg),
		Persister:           &sessionstore.SafePersister{Store: sessions, Logger: logger},
		Logger:              logger,
	}, loopFactory)

	return &stack{
		cfg:          cfg,
		logger:       logger,
		providers:    providerSet,
		registry:     registry,
		runtime:      runtime,
		sessions:     sessions,
		tracker:      tracker,
		patchEngine:  patchEngine,
		orchestrator: orch,
	}, nil
}

// openSessionStore opens C8's backend per cfg.Backend: "sqlite" opens a
// durable modernc.org/sqlite-backed store at cfg.Path (defaulting to
// .forge/sessions.db), anything else (including the zero value)
// defaults to the non-durable in-memory store.
func openSessionStore(cfg config.SessionStoreConfig) (sessionstore.Store, error) {
	if cfg.Backend != "sqlite" {
		return sessionstore.NewMemoryStore(), nil
	}
	path := cfg.Path
	if path == "" {
		path = filepath.Join(".forge", "sessions.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &forgeerr.ConfigError{Section: "sessions", Message: "create sessions directory", Cause: err}
		}
	}
	return sessionstore.OpenSQLiteStore(path)
}

func agentDefaults(cfg *config.Config) models.AgentConfig {
	return models.AgentConfig{
		Provider:           cfg.Agent.Provider,
		Model:              cfg.Agent.Model,
		Temperature:        cfg.Agent.Temperature,
		TopP:               cfg.Agent.TopP,
		MaxTokens:          cfg.Agent.MaxTokens,
		MaxHistoryMessages: cfg.Agent.MaxHistoryMessages,
		EnableTools:        cfg.Agent.EnableTools,
		MaintainHistory:    true,
	}
}

// runTerminal drives a single primary agent from stdin lines until EOF
// or cancellation, grounded on the teacher's REPL-style command
// handlers (cmd/nexus's bufio.NewScanner(os.Stdin) loops).
func runTerminal(ctx context.Context, st *stack) error {
	agentID, err := st.orchestrator.CreateAgent(ctx, "primary", models.AgentConfig{})
	if err != nil {
		return err
	}
	fmt.Println("forge terminal - type a message and press enter; Ctrl+C to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return &forgeerr.CancelledError{Op: "terminal"}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			taskID, err := st.orchestrator.HandOff(agentID, line, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "forge:", err)
				continue
			}
			results := st.orchestrator.WaitFor(ctx, []string{taskID}, terminalWaitTimeout)
			if len(results) == 1 && results[0] != nil {
				if results[0].Success {
					fmt.Println(results[0].Text)
				} else {
					fmt.Fprintln(os.Stderr, "forge: task failed:", results[0].Error)
				}
			}
		}
	}
}
