package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yo-run/yo/internal/agent"
	"github.com/yo-run/yo/internal/breaker"
	"github.com/yo-run/yo/internal/bus"
	"github.com/yo-run/yo/internal/config"
	"github.com/yo-run/yo/internal/daemon"
	"github.com/yo-run/yo/internal/gateway"
	"github.com/yo-run/yo/internal/hooks"
	"github.com/yo-run/yo/internal/policy"
	"github.com/yo-run/yo/internal/provider"
	"github.com/yo-run/yo/internal/session"
	"github.com/spf13/cobra"
)

var daemonServeAddr string

var daemonServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent daemon and its WebSocket gateway in the foreground",
	RunE:  runDaemonServe,
}

func init() {
	daemonServeCmd.Flags().StringVar(&daemonServeAddr, "addr", "", "gateway listen address (overrides gateway.host/port)")
	daemonCmd.AddCommand(daemonServeCmd)
}

func runDaemonServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Daemon.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.Stat(cfg.Daemon.SocketPath); err == nil {
		if err := os.Remove(cfg.Daemon.SocketPath); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	router := provider.NewRouter(cfg, breakers)

	rules, err := policy.FromConfig(cfg.Policy)
	if err != nil {
		return fmt.Errorf("load policy config: %w", err)
	}

	events := bus.NewEventBus()

	var hookConfigs []hooks.Config
	for _, h := range cfg.Hooks {
		hookConfigs = append(hookConfigs, hooks.Config{
			Event:     hooks.Event(h.Event),
			Matcher:   h.Matcher,
			Command:   h.Command,
			TimeoutMS: h.TimeoutMS,
		})
	}
	hookMgr := hooks.NewManager(hookConfigs, "", cfg.Paths.WorkRepoPath)

	registry := agent.NewDefaultToolRegistry(cfg.Paths.WorkRepoPath)
	ctxBuilder := agent.NewContextBuilder(cfg.Paths.Workspace, cfg.Paths.WorkRepoPath, cfg.Paths.SystemRepoPath, registry)
	sessions := session.NewManager(cfg.Daemon.DataDir)
	if idx, err := session.NewIndex(filepath.Join(cfg.Daemon.DataDir, "sessions", "sessions.db")); err != nil {
		fmt.Printf("Warning: session index unavailable, falling back to directory scans: %v\n", err)
	} else {
		sessions.AttachIndex(idx)
	}

	runnerOpts := agent.TurnRunnerOptions{
		AgentID:           cfg.Group.AgentID,
		Router:            router,
		Registry:          registry,
		ContextBuilder:    ctxBuilder,
		Rules:             rules,
		Hooks:             hookMgr,
		Events:            events,
		MaxIterations:     cfg.Daemon.MaxIterationsPerTurn,
		DoomLoopThreshold: cfg.Daemon.DoomLoopThreshold,
		PrivacyLevel:      cfg.Privacy.DefaultLevel,
		Model:             cfg.Model.Name,
		Sessions:          sessions,
	}

	subagents := agent.NewSubagentRuntime(agent.SubagentRuntimeOptions{
		Workspace:           cfg.Paths.Workspace,
		Sessions:            sessions,
		AgentID:             cfg.Group.AgentID,
		AllowAgents:         cfg.Tools.Subagents.AllowAgents,
		SubagentModel:       cfg.Tools.Subagents.Model,
		SubagentThinking:    cfg.Tools.Subagents.Thinking,
		ToolsAllow:          cfg.Tools.Subagents.Tools.Allow,
		ToolsDeny:           cfg.Tools.Subagents.Tools.Deny,
		MaxSpawnDepth:       cfg.Tools.Subagents.MaxSpawnDepth,
		MaxChildrenPerAgent: cfg.Tools.Subagents.MaxChildrenPerAgent,
		MaxConcurrent:       cfg.Tools.Subagents.MaxConcurrent,
		ArchiveAfterMinutes: cfg.Tools.Subagents.ArchiveAfterMinutes,
		BaseRegistry:        registry,
		Runner:              runnerOpts,
	})
	subagents.RegisterTools(registry)

	runner := agent.NewTurnRunner(runnerOpts)

	d := daemon.New(daemon.Config{
		SocketPath:       cfg.Daemon.SocketPath,
		InboundQueueSize: cfg.Daemon.InboundQueueSize,
		Sessions:         sessions,
		Identity: func() map[string]any {
			return ctxBuilder.BuildIdentityEnvelope(cfg.Group.AgentID, cfg.Group.AgentID, cfg.Model.Name).AsMap()
		},
	}, runner, rules, breakers, events, nil)

	addr := daemonServeAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	gw := gateway.NewServer(gateway.Config{
		Addr:         addr,
		DaemonSocket: cfg.Daemon.SocketPath,
		AuthToken:    cfg.Daemon.GatewayToken,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 2)
	go func() {
		if err := d.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("daemon: %w", err)
		}
	}()
	go func() {
		if err := gw.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	fmt.Printf("daemon listening on %s, gateway on %s\n", cfg.Daemon.SocketPath, addr)

	select {
	case sig := <-sigChan:
		fmt.Printf("received %s, shutting down\n", sig)
		cancel()
	case err := <-errCh:
		cancel()
		return err
	case <-ctx.Done():
	}
	return nil
}
