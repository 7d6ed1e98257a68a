package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yo-run/yo/internal/agent"
	"github.com/yo-run/yo/internal/breaker"
	"github.com/yo-run/yo/internal/bus"
	"github.com/yo-run/yo/internal/config"
	"github.com/yo-run/yo/internal/policy"
	"github.com/yo-run/yo/internal/provider"
	"github.com/yo-run/yo/internal/session"
	"github.com/spf13/cobra"
)

var (
	agentPrompt      string
	agentMessage     string
	agentSessionID   string
	agentTarget      string
	agentMode        string
	agentResume      bool
	agentYes         bool
	agentListTargets bool
	agentTrace       bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent directly in CLI",
	Run:   runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentPrompt, "prompt", "p", "", "Prompt to send to the agent")
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Prompt to send to the agent (alias for --prompt)")
	agentCmd.Flags().StringVarP(&agentSessionID, "session", "s", "cli:default", "Session ID")
	agentCmd.Flags().StringVar(&agentTarget, "target", "", `Routing target, "<model>@<backend>" (overrides model.name)`)
	agentCmd.Flags().StringVar(&agentMode, "mode", "", "Permission mode: default, acceptEdits, or bypassPermissions")
	agentCmd.Flags().BoolVar(&agentResume, "resume", false, "Resume the session named by --session instead of starting fresh")
	agentCmd.Flags().BoolVarP(&agentYes, "yes", "y", false, "Auto-approve every tool call that would otherwise ask")
	agentCmd.Flags().BoolVar(&agentListTargets, "list-targets", false, "List configured routing targets and exit")
	agentCmd.Flags().BoolVar(&agentTrace, "trace", false, "Print agent-loop events as the turn runs")
}

func runAgent(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config warning: %v (using defaults)\n", err)
	}

	if agentListTargets {
		printTargets(cfg)
		return
	}

	prompt := agentPrompt
	if prompt == "" {
		prompt = agentMessage
	}
	if prompt == "" {
		fmt.Println("Error: --prompt (or --message) is required")
		os.Exit(1)
	}

	if agentTarget != "" {
		cfg.Model.Name = agentTarget
	}
	if warn, err := config.EnsureWorkRepo(cfg.Paths.WorkRepoPath); err != nil {
		fmt.Printf("Work repo error: %v\n", err)
	} else if warn != "" {
		fmt.Printf("Work repo warning: %s\n", warn)
	}

	rules, err := policy.FromConfig(cfg.Policy)
	if err != nil {
		fmt.Printf("Policy config error: %v\n", err)
		os.Exit(1)
	}
	if agentMode != "" {
		rules.Mode = policy.Mode(agentMode)
	}
	if agentYes {
		rules.Mode = policy.ModeBypassPermissions
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	router := provider.NewRouter(cfg, breakers)

	events := bus.NewEventBus()
	if agentTrace {
		id, ch := events.Subscribe(64)
		defer events.Unsubscribe(id)
		go func() {
			for ev := range ch {
				fmt.Printf("[trace] %s/%s %v\n", ev.Subsystem, ev.Kind, ev.Payload)
			}
		}()
	}

	registry := agent.NewDefaultToolRegistry(cfg.Paths.WorkRepoPath)
	ctxBuilder := agent.NewContextBuilder(cfg.Paths.Workspace, cfg.Paths.WorkRepoPath, cfg.Paths.SystemRepoPath, registry)
	sessions := session.NewManager(cfg.Paths.Workspace)
	if idx, err := session.NewIndex(filepath.Join(cfg.Paths.Workspace, "sessions", "sessions.db")); err == nil {
		sessions.AttachIndex(idx)
	}
	runner := agent.NewTurnRunner(agent.TurnRunnerOptions{
		AgentID:           cfg.Group.AgentID,
		Router:            router,
		Registry:          registry,
		ContextBuilder:    ctxBuilder,
		Rules:             rules,
		Events:            events,
		MaxIterations:     cfg.Daemon.MaxIterationsPerTurn,
		DoomLoopThreshold: cfg.Daemon.DoomLoopThreshold,
		PrivacyLevel:      cfg.Privacy.DefaultLevel,
		Model:             cfg.Model.Name,
		Sessions:          sessions,
	})

	sess := sessions.GetOrCreate(agentSessionID)
	if !agentResume && len(sess.Messages) > 0 {
		sess = session.NewSession(agentSessionID)
	}

	fmt.Printf("🤖 yo (%s)\n", cfg.Model.Name)
	fmt.Println("Thinking...")

	ctx := context.Background()
	if err := runner.RunTurn(ctx, sess, prompt); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)
	for sess.PendingYield() != nil {
		pending := sess.PendingYield()
		approved := agentYes
		if !agentYes {
			fmt.Printf("\nApprove tool call %s(%v)? [y/N] ", pending.ToolName, pending.Arguments)
			line, _ := reader.ReadString('\n')
			approved = strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
		}
		sess.SetMetadata("approval_decision:"+pending.ToolCallID, approved)
		if _, err := sess.Resume(pending.ToolCallID); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if err := runner.RunTurn(ctx, sess, ""); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := sessions.Save(sess); err != nil {
		fmt.Printf("Warning: failed to save session: %v\n", err)
	}

	if len(sess.Messages) > 0 {
		fmt.Println("\n" + sess.Messages[len(sess.Messages)-1].Content)
	}
}

func printTargets(cfg *config.Config) {
	fmt.Println("Configured routing categories:")
	names := make([]string, 0, len(cfg.Routing.Categories))
	for name := range cfg.Routing.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s -> %s\n", name, cfg.Routing.Categories[name])
	}
	fmt.Println("Configured backends:")
	for _, b := range cfg.Backends {
		fmt.Printf("  %s (zero_data_retention=%v)\n", b.Name, b.ZeroDataRetention)
	}
	if cfg.Routing.LocalTarget != "" {
		fmt.Printf("Local fallback target: %s\n", cfg.Routing.LocalTarget)
	}
}
