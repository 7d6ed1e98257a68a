// Package hooks runs shell commands at tool-execution lifecycle points,
// feeding them a JSON payload on stdin and reading their exit code as the
// verdict: 0 allows the action, 2 blocks it, anything else is a warning
// that does not stop the turn.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"time"
)

// Event names a lifecycle point a hook can be registered against.
type Event string

const (
	PreToolUse  Event = "PreToolUse"
	PostToolUse Event = "PostToolUse"
)

// Config is one configured hook (supplemented from the reference
// implementation's HookConfig): which event it fires on, an optional regex
// over the tool name to narrow which tools it sees, the command to run, and
// how long to let it run before it's killed and treated as a warning.
type Config struct {
	Event      Event
	Matcher    string // regex over tool name; empty matches every tool
	Command    []string
	TimeoutMS  int
}

func (c Config) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// sessionInfo is included in every hook's JSON input.
type sessionInfo struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

type preToolUseInput struct {
	sessionInfo
	HookEvent string         `json:"hook_event"`
	ToolName  string         `json:"tool_name"`
	ToolArgs  map[string]any `json:"tool_args"`
}

type postToolUseInput struct {
	sessionInfo
	HookEvent  string         `json:"hook_event"`
	ToolName   string         `json:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args"`
	ToolResult string         `json:"tool_result"`
	DurationMS int64          `json:"duration_ms"`
}

// preToolUseOutput lets a PreToolUse hook rewrite arguments in addition to
// its exit-code verdict, mirroring the reference implementation's
// permission_decision/updated_args JSON reply on stdout.
type preToolUseOutput struct {
	PermissionDecision string         `json:"permission_decision,omitempty"`
	UpdatedArgs        map[string]any `json:"updated_args,omitempty"`
}

// Verdict is the outcome of running a hook set for one event.
type Verdict struct {
	Blocked     bool
	Reason      string
	UpdatedArgs map[string]any
}

// Manager runs the configured hooks for a session's tool calls.
type Manager struct {
	hooks     []Config
	sessionID string
	cwd       string
	exec      func(ctx context.Context, name string, args []string, dir string, stdin []byte) (stdout []byte, exitCode int, err error)
}

// NewManager builds a Manager. A nil/empty hooks slice makes every check a
// no-op allow, so callers can wire the manager unconditionally.
func NewManager(hooks []Config, sessionID, cwd string) *Manager {
	return &Manager{hooks: hooks, sessionID: sessionID, cwd: cwd, exec: runCommand}
}

func (m *Manager) hooksFor(event Event, toolName string) []Config {
	var out []Config
	for _, h := range m.hooks {
		if h.Event != event {
			continue
		}
		if h.Matcher == "" {
			out = append(out, h)
			continue
		}
		if re, err := regexp.Compile(h.Matcher); err == nil && re.MatchString(toolName) {
			out = append(out, h)
		}
	}
	return out
}

// RunPreToolUse runs every PreToolUse hook matching toolName in registration
// order. The first block wins; a warning (non-zero, non-2 exit) is logged
// but does not stop the call.
func (m *Manager) RunPreToolUse(ctx context.Context, toolName string, args map[string]any) Verdict {
	hooks := m.hooksFor(PreToolUse, toolName)
	if len(hooks) == 0 {
		return Verdict{}
	}
	input := preToolUseInput{
		sessionInfo: sessionInfo{SessionID: m.sessionID, Cwd: m.cwd},
		HookEvent:   string(PreToolUse),
		ToolName:    toolName,
		ToolArgs:    args,
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return Verdict{}
	}
	var updated map[string]any
	for _, h := range hooks {
		stdout, code, runErr := m.run(ctx, h, payload)
		if runErr != nil {
			slog.Warn("hooks: PreToolUse hook failed to run", "tool", toolName, "err", runErr)
			continue
		}
		switch code {
		case 0:
			var out preToolUseOutput
			if json.Unmarshal(stdout, &out) == nil && out.UpdatedArgs != nil {
				updated = out.UpdatedArgs
			}
		case 2:
			return Verdict{Blocked: true, Reason: fmt.Sprintf("blocked by PreToolUse hook for %s", toolName)}
		default:
			slog.Warn("hooks: PreToolUse hook returned non-standard exit code", "tool", toolName, "code", code)
		}
	}
	return Verdict{UpdatedArgs: updated}
}

// RunPostToolUse runs every PostToolUse hook matching toolName. Its verdict
// is informational only (post-hooks can warn/audit, not undo an
// already-executed tool call), but a block is still surfaced to the caller
// so it can be recorded in the transcript.
func (m *Manager) RunPostToolUse(ctx context.Context, toolName string, args map[string]any, result string, dur time.Duration) Verdict {
	hooks := m.hooksFor(PostToolUse, toolName)
	if len(hooks) == 0 {
		return Verdict{}
	}
	input := postToolUseInput{
		sessionInfo: sessionInfo{SessionID: m.sessionID, Cwd: m.cwd},
		HookEvent:   string(PostToolUse),
		ToolName:    toolName,
		ToolArgs:    args,
		ToolResult:  result,
		DurationMS:  dur.Milliseconds(),
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return Verdict{}
	}
	for _, h := range hooks {
		_, code, runErr := m.run(ctx, h, payload)
		if runErr != nil {
			slog.Warn("hooks: PostToolUse hook failed to run", "tool", toolName, "err", runErr)
			continue
		}
		if code == 2 {
			return Verdict{Blocked: true, Reason: fmt.Sprintf("PostToolUse hook flagged %s", toolName)}
		}
		if code != 0 {
			slog.Warn("hooks: PostToolUse hook returned non-standard exit code", "tool", toolName, "code", code)
		}
	}
	return Verdict{}
}

func (m *Manager) run(ctx context.Context, h Config, payload []byte) (stdout []byte, exitCode int, err error) {
	if len(h.Command) == 0 {
		return nil, 0, fmt.Errorf("hook has an empty command")
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()
	return m.exec(timeoutCtx, h.Command[0], h.Command[1:], m.cwd, payload)
}

// runCommand is the real implementation of Manager.exec, swapped out in
// tests for a fake that avoids spawning processes.
func runCommand(ctx context.Context, name string, args []string, dir string, stdin []byte) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.Bytes(), -1, fmt.Errorf("hook %q timed out", name)
	}
	if err == nil {
		return stdout.Bytes(), 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return stdout.Bytes(), exitErr.ExitCode(), nil
	}
	return nil, -1, err
}
