package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/yo-run/yo/internal/bus"
	"github.com/yo-run/yo/internal/config"
	"github.com/yo-run/yo/internal/errs"
	"github.com/yo-run/yo/internal/hooks"
	"github.com/yo-run/yo/internal/policy"
	"github.com/yo-run/yo/internal/provider"
	"github.com/yo-run/yo/internal/session"
	"github.com/yo-run/yo/internal/tools"
)

// TurnRunnerOptions configures a TurnRunnerAdapter.
type TurnRunnerOptions struct {
	AgentID           string
	Router            *provider.Router
	Provider          provider.LLMProvider // used when Router is nil (single-backend mode)
	Registry          *tools.Registry
	ContextBuilder    *ContextBuilder
	Rules             *policy.RuleEngine
	Hooks             *hooks.Manager
	Events            *bus.EventBus
	MaxIterations     int
	DoomLoopThreshold int
	PrivacyLevel      config.PrivacyLevel
	Model             string

	// Sessions, when set, receives an append-only transcript line for every
	// message RunTurn adds, so a crash mid-turn loses at most the message
	// currently in flight rather than everything since the last Save.
	Sessions *session.Manager
}

// TurnRunnerAdapter drives one resumable agent turn on top of the
// primitives the rest of this module already assembled (tool registry,
// policy engine, circuit-breaker-aware router, lifecycle hooks, event bus)
// instead of Loop's bus-driven processMessage/runAgentLoop path. It
// satisfies internal/daemon.TurnRunner structurally.
//
// Where the deleted channel-bot loop denied a tool call by writing "Policy
// denied" straight into the transcript and moving on, RunTurn suspends the
// session (session.Suspend) on an Ask decision and returns control to the
// caller; the next chat.send or tool.approve/turn.resume call continues
// exactly where the batch of tool calls left off, using the tool-call queue
// stashed in session metadata rather than an in-memory stack frame — the
// process can restart between the yield and the resume.
type TurnRunnerAdapter struct {
	opts TurnRunnerOptions
}

// NewTurnRunner builds a TurnRunnerAdapter.
func NewTurnRunner(opts TurnRunnerOptions) *TurnRunnerAdapter {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.DoomLoopThreshold <= 0 {
		opts.DoomLoopThreshold = 3
	}
	if opts.PrivacyLevel == "" {
		opts.PrivacyLevel = config.PrivacyStandard
	}
	return &TurnRunnerAdapter{opts: opts}
}

const pendingBatchMetadataKey = "pending_tool_batch"

// appendLastMessage flushes the message most recently added to sess to the
// append-only transcript, if a session manager was configured.
func (t *TurnRunnerAdapter) appendLastMessage(sess *session.Session) {
	if t.opts.Sessions == nil {
		return
	}
	last := sess.GetHistory(1)
	if len(last) == 0 {
		return
	}
	if err := t.opts.Sessions.Append(sess.Key, last[0]); err != nil {
		slog.Warn("failed to append session transcript", "session", sess.Key, "error", err)
	}
}

// approvalDecisionKey mirrors internal/daemon's convention for the metadata
// key tool.approve writes the caller's allow/deny decision under.
func approvalDecisionKey(toolCallID string) string {
	return "approval_decision:" + toolCallID
}

// RunTurn implements daemon.TurnRunner. userMessage is empty when called to
// continue a turn after turn.resume or tool.approve.
func (t *TurnRunnerAdapter) RunTurn(ctx context.Context, sess *session.Session, userMessage string) error {
	if userMessage != "" {
		sess.AddMessage("user", userMessage)
		t.appendLastMessage(sess)
	}

	messages := t.systemAndHistory(sess)
	toolDefs := t.toolDefinitions()

	if resumed, err := t.resumeQueuedBatch(ctx, sess, &messages); err != nil {
		return err
	} else if resumed {
		if sess.PendingYield() != nil {
			// Resuming the queued batch produced a fresh yield.
			return nil
		}
	}

	var recentSignatures []string
	for iter := 0; iter < t.opts.MaxIterations; iter++ {
		if t.opts.Events != nil {
			t.opts.Events.Publish(bus.Event{Subsystem: bus.SubsystemAgentLoop, Kind: bus.EventThinking, SessionID: sess.Key})
		}

		resp, err := t.chat(ctx, messages, toolDefs)
		if err != nil {
			return errs.Wrap(errs.BackendError, "model call failed", err)
		}

		if len(resp.ToolCalls) == 0 {
			sess.AddMessage("assistant", resp.Content)
			t.appendLastMessage(sess)
			if t.opts.Events != nil {
				t.opts.Events.Publish(bus.Event{Subsystem: bus.SubsystemAgentLoop, Kind: bus.EventRunComplete, SessionID: sess.Key})
			}
			return nil
		}

		sess.AddMessageWithToolCalls("assistant", resp.Content, toSessionToolCalls(resp.ToolCalls), "")
		t.appendLastMessage(sess)
		messages = append(messages, provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		yielded, err := t.processBatch(ctx, sess, resp.ToolCalls, 0, &messages, &recentSignatures)
		if err != nil {
			return err
		}
		if yielded {
			return nil
		}
	}
	return errs.New(errs.MaxIterations, fmt.Sprintf("turn exceeded %d iterations without terminating", t.opts.MaxIterations))
}

// resumeQueuedBatch picks the tool-call batch a prior RunTurn call stashed
// in session metadata (if any), resolves the call whose approval decision
// just arrived, and finishes the rest of the batch before returning control
// to RunTurn's normal model-call loop.
func (t *TurnRunnerAdapter) resumeQueuedBatch(ctx context.Context, sess *session.Session, messages *[]provider.Message) (resumed bool, err error) {
	raw, ok := sess.GetMetadata(pendingBatchMetadataKey)
	if !ok {
		return false, nil
	}
	sess.DeleteMetadata(pendingBatchMetadataKey)

	var batch pendingBatch
	b, ok := raw.(string)
	if !ok || json.Unmarshal([]byte(b), &batch) != nil {
		return false, nil
	}

	decisionRaw, hasDecision := sess.GetMetadata(approvalDecisionKey(batch.YieldedCall.ID))
	approved, _ := decisionRaw.(bool)
	if hasDecision {
		sess.DeleteMetadata(approvalDecisionKey(batch.YieldedCall.ID))
		if approved {
			result := t.executeTool(ctx, sess, batch.YieldedCall)
			*messages = append(*messages, provider.Message{Role: "tool", Content: result, ToolCallID: batch.YieldedCall.ID})
		} else {
			sess.TransitionToolCall(batch.YieldedCall.ID, session.ToolCallDenied)
			*messages = append(*messages, provider.Message{Role: "tool", Content: "Policy denied: user rejected this tool call", ToolCallID: batch.YieldedCall.ID})
		}
	} else {
		// A question yield: the answer was appended as a user message by
		// handleTurnResume before RunTurn was called again.
		*messages = append(*messages, provider.Message{Role: "tool", Content: "(answered)", ToolCallID: batch.YieldedCall.ID})
	}

	sigs := batch.RecentSignatures
	if _, err := t.processBatch(ctx, sess, batch.Remaining, 0, messages, &sigs); err != nil {
		return true, err
	}
	return true, nil
}

// pendingBatch is what gets JSON-persisted to session metadata when a tool
// call in the middle of a batch needs a yield: the call that triggered the
// yield, and the calls after it in the same assistant turn still waiting
// to execute once the yield resolves.
type pendingBatch struct {
	YieldedCall      provider.ToolCall   `json:"yielded_call"`
	Remaining        []provider.ToolCall `json:"remaining"`
	RecentSignatures []string            `json:"recent_signatures,omitempty"`
}

// processBatch executes calls[start:] in order, suspending the session (and
// stashing the rest of the batch) on the first Ask decision. It returns
// yielded=true when it suspended rather than completing the batch.
func (t *TurnRunnerAdapter) processBatch(ctx context.Context, sess *session.Session, calls []provider.ToolCall, start int, messages *[]provider.Message, recentSignatures *[]string) (yielded bool, err error) {
	for i := start; i < len(calls); i++ {
		tc := calls[i]
		sig := toolSignature(tc)
		*recentSignatures = append(*recentSignatures, sig)
		if doomLoopDetected(*recentSignatures, t.opts.DoomLoopThreshold) {
			if t.opts.Events != nil {
				t.opts.Events.Publish(bus.Event{Subsystem: bus.SubsystemAgentLoop, Kind: bus.EventRunDoomLoopDetected, SessionID: sess.Key})
			}
			return false, errs.New(errs.DoomLoop, fmt.Sprintf("tool call %q repeated %d times with identical arguments", tc.Name, t.opts.DoomLoopThreshold))
		}

		sess.RecordToolCall(session.ToolCall{ID: tc.ID, ToolName: tc.Name, Arguments: tc.Arguments, Status: session.ToolCallPending})

		decision := t.evaluate(sess, tc)
		switch {
		case decision.Allow && isQuestionCall(t.opts.Registry, tc):
			if err := sess.Suspend(session.PendingYield{
				TurnID: fmt.Sprintf("%d", len(sess.State.Turns)), ToolCallID: tc.ID, Reason: session.YieldQuestion,
				ToolName: tc.Name, Arguments: tc.Arguments, Question: questionText(t.opts.Registry, tc),
			}); err != nil {
				return false, errs.Wrap(errs.Internal, "suspend failed", err)
			}
			batch := pendingBatch{YieldedCall: tc, Remaining: append([]provider.ToolCall{}, calls[i+1:]...), RecentSignatures: *recentSignatures}
			raw, _ := json.Marshal(batch)
			sess.SetMetadata(pendingBatchMetadataKey, string(raw))
			if t.opts.Events != nil {
				t.opts.Events.Publish(bus.Event{Subsystem: bus.SubsystemAgentLoop, Kind: bus.EventYield, SessionID: sess.Key, Payload: map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name}})
			}
			return true, nil

		case !decision.Allow && decision.RequiresApproval:
			if err := sess.Suspend(session.PendingYield{
				TurnID: fmt.Sprintf("%d", len(sess.State.Turns)), ToolCallID: tc.ID, Reason: session.YieldApproval,
				ToolName: tc.Name, Arguments: tc.Arguments,
			}); err != nil {
				return false, errs.Wrap(errs.Internal, "suspend failed", err)
			}
			batch := pendingBatch{YieldedCall: tc, Remaining: append([]provider.ToolCall{}, calls[i+1:]...), RecentSignatures: *recentSignatures}
			raw, _ := json.Marshal(batch)
			sess.SetMetadata(pendingBatchMetadataKey, string(raw))
			if t.opts.Events != nil {
				t.opts.Events.Publish(bus.Event{Subsystem: bus.SubsystemAgentLoop, Kind: bus.EventYield, SessionID: sess.Key, Payload: map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name}})
			}
			return true, nil

		case !decision.Allow:
			sess.TransitionToolCall(tc.ID, session.ToolCallDenied)
			*messages = append(*messages, provider.Message{Role: "tool", Content: fmt.Sprintf("Policy denied: %s", decision.Reason), ToolCallID: tc.ID})
			continue

		default: // allow
			result := t.executeTool(ctx, sess, tc)
			*messages = append(*messages, provider.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
		}
	}
	return false, nil
}

// isQuestionCall reports whether tc invokes a tool implementing
// tools.Asker, meaning processBatch should suspend on a question yield
// instead of executing it.
func isQuestionCall(registry *tools.Registry, tc provider.ToolCall) bool {
	if registry == nil {
		return false
	}
	tool, ok := registry.Get(tc.Name)
	if !ok {
		return false
	}
	_, ok = tool.(tools.Asker)
	return ok
}

// questionText extracts the question an Asker tool call is posing.
func questionText(registry *tools.Registry, tc provider.ToolCall) string {
	if registry == nil {
		return ""
	}
	tool, ok := registry.Get(tc.Name)
	if !ok {
		return ""
	}
	asker, ok := tool.(tools.Asker)
	if !ok {
		return ""
	}
	return asker.Question(tc.Arguments)
}

// executeTool runs hooks around a single already-approved tool call and
// records its outcome on the session.
func (t *TurnRunnerAdapter) executeTool(ctx context.Context, sess *session.Session, tc provider.ToolCall) string {
	ctx = tools.ContextWithSession(ctx, sess)
	args := tc.Arguments
	if t.opts.Hooks != nil {
		pre := t.opts.Hooks.RunPreToolUse(ctx, tc.Name, args)
		if pre.Blocked {
			sess.TransitionToolCall(tc.ID, session.ToolCallDenied)
			return fmt.Sprintf("Blocked by hook: %s", pre.Reason)
		}
		if pre.UpdatedArgs != nil {
			args = pre.UpdatedArgs
		}
	}

	sess.TransitionToolCall(tc.ID, session.ToolCallRunning)
	start := time.Now()
	result, err := t.opts.Registry.Execute(ctx, tc.Name, args)
	dur := time.Since(start)
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
		sess.TransitionToolCall(tc.ID, session.ToolCallFailed)
		if t.opts.Events != nil {
			t.opts.Events.Publish(bus.Event{Subsystem: bus.SubsystemTools, Kind: bus.EventToolDenied, SessionID: sess.Key, Payload: map[string]any{"tool_name": tc.Name, "error": err.Error()}})
		}
	} else {
		sess.TransitionToolCall(tc.ID, session.ToolCallCompleted)
	}

	if t.opts.Hooks != nil {
		post := t.opts.Hooks.RunPostToolUse(ctx, tc.Name, args, result, dur)
		if post.Blocked {
			slog.Warn("turn: PostToolUse hook flagged a completed call", "tool", tc.Name, "reason", post.Reason)
		}
	}
	return result
}

// evaluate wraps the policy engine's Invocation lookup, resolving the tool
// by name against the registry so canonical-signature rules can inspect it.
func (t *TurnRunnerAdapter) evaluate(sess *session.Session, tc provider.ToolCall) policy.Decision {
	if t.opts.Rules == nil {
		return policy.Decision{Allow: true, Reason: "no_policy_configured"}
	}
	tool, ok := t.opts.Registry.Get(tc.Name)
	if !ok {
		return policy.Decision{Allow: true, Reason: "unknown_tool"}
	}
	return t.opts.Rules.EvaluateInvocation(policy.Invocation{
		AgentID: t.opts.AgentID,
		Tool:    tool,
		Params:  tc.Arguments,
	})
}

func (t *TurnRunnerAdapter) chat(ctx context.Context, messages []provider.Message, toolDefs []provider.ToolDefinition) (*provider.ChatResponse, error) {
	req := &provider.ChatRequest{Messages: messages, Tools: toolDefs, Model: t.opts.Model, MaxTokens: 4096, Temperature: 0.7}
	if t.opts.Router != nil {
		resp, _, _, err := t.opts.Router.Chat(ctx, t.opts.AgentID, t.opts.PrivacyLevel, req)
		return resp, err
	}
	return t.opts.Provider.Chat(ctx, req)
}

func (t *TurnRunnerAdapter) toolDefinitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(t.opts.Registry.List()))
	for _, tool := range t.opts.Registry.List() {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

func (t *TurnRunnerAdapter) systemAndHistory(sess *session.Session) []provider.Message {
	messages := []provider.Message{}
	if t.opts.ContextBuilder != nil {
		messages = append(messages, provider.Message{Role: "system", Content: t.opts.ContextBuilder.BuildSystemPrompt()})
	}
	for _, m := range sess.GetHistory(len(sess.Messages)) {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content, ToolCalls: toProviderToolCalls(m.ToolCalls), ToolCallID: m.ToolCallID})
	}
	return messages
}

func toSessionToolCalls(calls []provider.ToolCall) []session.ToolCall {
	out := make([]session.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, session.ToolCall{ID: c.ID, ToolName: c.Name, Arguments: c.Arguments})
	}
	return out
}

func toProviderToolCalls(calls []session.ToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, provider.ToolCall{ID: c.ID, Name: c.ToolName, Arguments: c.Arguments})
	}
	return out
}

// toolSignature is the canonical form doom-loop detection compares: name
// plus a stable rendering of arguments.
func toolSignature(tc provider.ToolCall) string {
	keys := make([]string, 0, len(tc.Arguments))
	for k := range tc.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(tc.Name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%v", k, tc.Arguments[k])
	}
	b.WriteByte(')')
	return b.String()
}

// doomLoopDetected reports whether the last threshold signatures are all
// identical (repeated identical tool calls with no progress).
func doomLoopDetected(sigs []string, threshold int) bool {
	if len(sigs) < threshold {
		return false
	}
	last := sigs[len(sigs)-threshold:]
	for _, s := range last[1:] {
		if s != last[0] {
			return false
		}
	}
	return true
}

// NewDefaultToolRegistry builds the filesystem/shell/control tool set a
// TurnRunnerAdapter needs: the fixed core set the daemon/gateway protocol
// requires (file access, glob/grep, todo, ask-user, plan mode) plus the
// read-only workspace connectors. Subagent-spawn tools are registered
// separately by NewSubagentRuntime.RegisterTools once a runtime exists,
// since spawning needs collaborators (router, rules, hooks) this
// constructor doesn't have.
func NewDefaultToolRegistry(workspace string) *tools.Registry {
	registry := tools.NewRegistry()
	workRepoGetter := func() string { return workspace }
	registry.Register(tools.NewReadFileTool())
	registry.Register(tools.NewWriteFileTool(workRepoGetter))
	registry.Register(tools.NewEditFileTool(workRepoGetter))
	registry.Register(tools.NewListDirTool())
	registry.Register(tools.NewResolvePathTool(workRepoGetter))
	registry.Register(tools.NewExecTool(0, true, workspace, workRepoGetter))
	registry.Register(tools.NewGlobTool())
	registry.Register(tools.NewGrepTool())
	registry.Register(tools.NewTodoTool())
	registry.Register(tools.NewAskUserTool())
	registry.Register(tools.NewEnterPlanModeTool())
	registry.Register(tools.NewExitPlanModeTool())
	registry.Register(tools.NewGoogleWorkspaceReadTool())
	registry.Register(tools.NewM365ReadTool())
	return registry
}
