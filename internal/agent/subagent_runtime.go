package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yo-run/yo/internal/session"
	"github.com/yo-run/yo/internal/tools"
)

// SubagentRuntimeOptions configures a SubagentRuntime.
type SubagentRuntimeOptions struct {
	Workspace           string
	Sessions            *session.Manager
	AgentID             string
	AllowAgents         []string // subagentAllowList equivalent; empty means "current agent only"
	SubagentModel       string
	SubagentThinking    string
	ToolsAllow          []string
	ToolsDeny           []string
	MaxSpawnDepth       int
	MaxChildrenPerAgent int
	MaxConcurrent       int
	ArchiveAfterMinutes int

	// BaseRegistry is the full tool set a child run may draw from; each
	// spawn narrows it with the target agent definition's allow/deny lists.
	BaseRegistry *tools.Registry
	// Runner carries the shared collaborators (router, policy rules, hooks,
	// event bus, iteration/doom-loop limits) every child TurnRunnerAdapter
	// reuses; its Registry and AgentID fields are overwritten per spawn.
	Runner TurnRunnerOptions
}

// SubagentRuntime drives Task/sessions_spawn on top of TurnRunnerAdapter
// instead of Loop's bus-driven processMessage path, so a client talking to
// the daemon/gateway protocol can spawn and track sub-agent runs the same
// way the channel-bot command line already could.
type SubagentRuntime struct {
	opts        SubagentRuntimeOptions
	definitions map[string]AgentDefinition
	subagents   *subagentManager
}

// NewSubagentRuntime loads agents/*.toml under opts.Workspace and builds the
// run-tracking manager backing spawn/list/kill/steer.
func NewSubagentRuntime(opts SubagentRuntimeOptions) *SubagentRuntime {
	defs, err := LoadAgentDefinitions(filepath.Join(opts.Workspace, "agents"))
	if err != nil {
		defs = map[string]AgentDefinition{}
	}
	return &SubagentRuntime{
		opts:        opts,
		definitions: defs,
		subagents: newSubagentManager(
			SubagentLimits{
				MaxSpawnDepth:       opts.MaxSpawnDepth,
				MaxChildrenPerAgent: opts.MaxChildrenPerAgent,
				MaxConcurrent:       opts.MaxConcurrent,
			},
			resolveSubagentStatePath(opts.Workspace),
			opts.ArchiveAfterMinutes,
		),
	}
}

// RegisterTools adds sessions_spawn, subagents, and agents_list to registry,
// bound to this runtime.
func (r *SubagentRuntime) RegisterTools(registry *tools.Registry) {
	registry.Register(tools.NewSessionsSpawnTool(r.spawnFromContext))
	registry.Register(tools.NewSubagentsTool(r.listRuns, r.killRun, r.steerRun))
	registry.Register(tools.NewAgentsListTool(r.discover))
}

func (r *SubagentRuntime) definitionFor(agentID string) (AgentDefinition, bool) {
	def, ok := r.definitions[strings.TrimSpace(agentID)]
	return def, ok
}

func (r *SubagentRuntime) resolveRequestedAgentID(requested string) (string, error) {
	current := strings.TrimSpace(r.opts.AgentID)
	if current == "" {
		current = "default"
	}
	target := strings.TrimSpace(requested)
	if target == "" {
		target = current
	}
	if len(r.opts.AllowAgents) == 0 {
		if target != current {
			return "", fmt.Errorf("agentId %q is not allowed (default allows only current agent %q)", target, current)
		}
		return target, nil
	}
	if containsAllowAgent(r.opts.AllowAgents, target) {
		return target, nil
	}
	return "", fmt.Errorf("agentId %q is not allowed by tools.subagents.allowAgents", target)
}

// toolPolicyFor merges the runtime-wide subagent tool policy with a
// per-agent definition's, unconditionally denying spawnToolName so a
// subagent can never grant itself the ability to spawn further subagents.
func (r *SubagentRuntime) toolPolicyFor(def AgentDefinition) (allow, deny []string) {
	allow = append([]string{}, r.opts.ToolsAllow...)
	deny = append([]string{}, r.opts.ToolsDeny...)
	if def.Name != "" {
		if len(def.ToolsAllow) > 0 {
			allow = append(allow, def.ToolsAllow...)
		}
		deny = append(deny, def.ToolsDeny...)
	}
	deny = appendUnique(deny, spawnToolName)
	allow = removeName(allow, spawnToolName)
	return allow, deny
}

func (r *SubagentRuntime) scopedRegistry(allow, deny []string) *tools.Registry {
	out := tools.NewRegistry()
	if r.opts.BaseRegistry == nil {
		return out
	}
	denySet := make(map[string]bool, len(deny))
	for _, n := range deny {
		denySet[strings.TrimSpace(n)] = true
	}
	allowSet := make(map[string]bool, len(allow))
	for _, n := range allow {
		allowSet[strings.TrimSpace(n)] = true
	}
	for _, t := range r.opts.BaseRegistry.List() {
		name := t.Name()
		if denySet[name] {
			continue
		}
		if len(allowSet) > 0 && !allowSet[name] {
			continue
		}
		out.Register(t)
	}
	return out
}

func (r *SubagentRuntime) spawnFromContext(ctx context.Context, req tools.SpawnRequest) (tools.SpawnResult, error) {
	parentKey := ""
	if sess := tools.SessionFromContext(ctx); sess != nil {
		parentKey = sess.Key
	}
	return r.spawn(parentKey, req)
}

func (r *SubagentRuntime) spawn(parentSessionKey string, req tools.SpawnRequest) (tools.SpawnResult, error) {
	depth, err := r.subagents.canSpawn(parentSessionKey)
	if err != nil {
		return tools.SpawnResult{}, err
	}
	targetAgentID, err := r.resolveRequestedAgentID(req.AgentID)
	if err != nil {
		return tools.SpawnResult{}, err
	}
	def, hasDef := r.definitionFor(targetAgentID)

	childModel := strings.TrimSpace(req.Model)
	if childModel == "" && hasDef {
		childModel = def.Model
	}
	if childModel == "" {
		childModel = r.opts.SubagentModel
	}
	if childModel == "" {
		childModel = r.opts.Runner.Model
	}
	childThinking := strings.TrimSpace(req.Thinking)
	if childThinking == "" && hasDef {
		childThinking = def.Thinking
	}
	if childThinking == "" {
		childThinking = r.opts.SubagentThinking
	}
	allow, deny := r.toolPolicyFor(def)

	timeoutSeconds := req.RunTimeoutSeconds
	if timeoutSeconds <= 0 && req.TimeoutSeconds > 0 {
		timeoutSeconds = req.TimeoutSeconds
	}
	var childCtx context.Context
	var cancel context.CancelFunc
	if timeoutSeconds > 0 {
		childCtx, cancel = context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	} else {
		childCtx, cancel = context.WithCancel(context.Background())
	}

	run := r.subagents.register(parentSessionKey, parentSessionKey, "", "", "", req.Task, req.Label, childModel, childThinking, targetAgentID, req.Cleanup, depth, cancel)

	go r.runChild(childCtx, run.RunID, run.ChildSessionKey, req.Task, childModel, req.Cleanup, allow, deny)

	return tools.SpawnResult{
		Status:          "accepted",
		RunID:           run.RunID,
		ChildSessionKey: run.ChildSessionKey,
		Message:         fmt.Sprintf("subagent run accepted (model=%s)", childModel),
	}, nil
}

func (r *SubagentRuntime) runChild(ctx context.Context, runID, childKey, task, model, cleanup string, allow, deny []string) {
	r.subagents.markRunning(runID)

	registry := r.scopedRegistry(allow, deny)
	runnerOpts := r.opts.Runner
	runnerOpts.Registry = registry
	runnerOpts.Model = model
	runner := NewTurnRunner(runnerOpts)

	var childSess *session.Session
	if r.opts.Sessions != nil {
		childSess = r.opts.Sessions.GetOrCreate(childKey)
	} else {
		childSess = session.NewSession(childKey)
	}

	runErr := runner.RunTurn(ctx, childSess, task)
	status := "completed"
	switch {
	case runErr != nil && (errors.Is(runErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		status = "timeout"
	case runErr != nil && ctx.Err() != nil:
		status = "killed"
	case runErr != nil:
		status = "failed"
	}

	output := ""
	if last := childSess.GetHistory(1); len(last) == 1 {
		output = last[0].Content
	}
	if runErr != nil && strings.TrimSpace(runErr.Error()) != "" {
		output = runErr.Error()
	}
	r.subagents.markCompletionOutput(runID, truncateStr(strings.TrimSpace(output), 1200))
	r.subagents.markFinished(runID, status, runErr)

	if r.opts.Sessions != nil {
		_ = r.opts.Sessions.Save(childSess)
		if strings.EqualFold(strings.TrimSpace(cleanup), "delete") {
			r.opts.Sessions.Delete(childKey)
		}
	}
}

func (r *SubagentRuntime) callerSessionKey(ctx context.Context) string {
	if sess := tools.SessionFromContext(ctx); sess != nil {
		return sess.Key
	}
	return ""
}

func (r *SubagentRuntime) listRuns(ctx context.Context) []tools.SubagentRunView {
	runs := r.subagents.listByParent(r.callerSessionKey(ctx))
	out := make([]tools.SubagentRunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, toSubagentRunView(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *SubagentRuntime) killRun(ctx context.Context, runID string) (bool, error) {
	return r.subagents.killByRunID(r.callerSessionKey(ctx), strings.TrimSpace(runID))
}

func (r *SubagentRuntime) steerRun(ctx context.Context, runID, input string) (tools.SpawnResult, error) {
	target := strings.TrimSpace(runID)
	run, err := r.subagents.getByRunID(r.callerSessionKey(ctx), target)
	if err != nil {
		return tools.SpawnResult{}, err
	}
	return r.spawn(run.ParentSession, tools.SpawnRequest{
		Task:    strings.TrimSpace(input),
		Label:   run.Label,
		AgentID: run.AgentID,
		Model:   run.Model,
	})
}

func (r *SubagentRuntime) discover() tools.AgentDiscovery {
	current := strings.TrimSpace(r.opts.AgentID)
	if current == "" {
		current = "default"
	}
	wildcard := false
	targets := append([]string{}, r.opts.AllowAgents...)
	for _, v := range targets {
		if v == "*" {
			wildcard = true
		}
	}
	if len(targets) == 0 {
		targets = []string{current}
	}
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]tools.AgentDiscoveryEntry, 0, len(names))
	for _, name := range names {
		def := r.definitions[name]
		entries = append(entries, tools.AgentDiscoveryEntry{ID: name, Name: def.Description, Configured: true})
	}
	return tools.AgentDiscovery{
		CurrentAgentID:   current,
		AllowAgents:      r.opts.AllowAgents,
		EffectiveTargets: targets,
		Wildcard:         wildcard,
		Agents:           entries,
	}
}

func toSubagentRunView(run subagentRun) tools.SubagentRunView {
	view := tools.SubagentRunView{
		RunID:           run.RunID,
		ParentSession:   run.ParentSession,
		RootSession:     run.RootSession,
		RequestedBy:     run.RequestedBy,
		ChildSessionKey: run.ChildSessionKey,
		AgentID:         run.AgentID,
		Task:            run.Task,
		Label:           run.Label,
		Model:           run.Model,
		Thinking:        run.Thinking,
		Cleanup:         run.Cleanup,
		Status:          run.Status,
		Depth:           run.Depth,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
		Error:           run.Error,
		CascadeState:    run.CascadeState,
		ValidationOK:    run.ValidationOK,
		ValidationMsg:   run.ValidationMsg,
	}
	return view
}
