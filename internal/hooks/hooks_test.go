package hooks

import (
	"context"
	"testing"
	"time"
)

func fakeExec(script map[string]struct {
	code int
	out  []byte
}) func(ctx context.Context, name string, args []string, dir string, stdin []byte) ([]byte, int, error) {
	return func(ctx context.Context, name string, args []string, dir string, stdin []byte) ([]byte, int, error) {
		r := script[name]
		return r.out, r.code, nil
	}
}

func TestPreToolUseAllowsWhenNoHooksMatch(t *testing.T) {
	m := NewManager([]Config{{Event: PreToolUse, Matcher: "Bash", Command: []string{"guard"}}}, "s1", "/tmp")
	v := m.RunPreToolUse(context.Background(), "Read", map[string]any{})
	if v.Blocked {
		t.Fatal("expected no block for a tool the hook doesn't match")
	}
}

func TestPreToolUseBlocksOnExitCode2(t *testing.T) {
	m := NewManager([]Config{{Event: PreToolUse, Command: []string{"guard"}}}, "s1", "/tmp")
	m.exec = fakeExec(map[string]struct {
		code int
		out  []byte
	}{"guard": {code: 2}})
	v := m.RunPreToolUse(context.Background(), "Bash", map[string]any{"command": "rm -rf /"})
	if !v.Blocked {
		t.Fatal("expected exit code 2 to block")
	}
}

func TestPreToolUseWarnsButAllowsOnOtherExitCodes(t *testing.T) {
	m := NewManager([]Config{{Event: PreToolUse, Command: []string{"guard"}}}, "s1", "/tmp")
	m.exec = fakeExec(map[string]struct {
		code int
		out  []byte
	}{"guard": {code: 1}})
	v := m.RunPreToolUse(context.Background(), "Bash", map[string]any{})
	if v.Blocked {
		t.Fatal("expected a non-zero, non-2 exit code to warn, not block")
	}
}

func TestPreToolUseAppliesUpdatedArgs(t *testing.T) {
	m := NewManager([]Config{{Event: PreToolUse, Command: []string{"guard"}}}, "s1", "/tmp")
	m.exec = fakeExec(map[string]struct {
		code int
		out  []byte
	}{"guard": {code: 0, out: []byte(`{"updated_args":{"command":"git status"}}`)}})
	v := m.RunPreToolUse(context.Background(), "Bash", map[string]any{"command": "git st"})
	if v.Blocked {
		t.Fatal("expected allow")
	}
	if v.UpdatedArgs["command"] != "git status" {
		t.Fatalf("expected updated args to be applied, got %+v", v.UpdatedArgs)
	}
}

func TestPostToolUseBlockVerdictSurfaced(t *testing.T) {
	m := NewManager([]Config{{Event: PostToolUse, Command: []string{"audit"}}}, "s1", "/tmp")
	m.exec = fakeExec(map[string]struct {
		code int
		out  []byte
	}{"audit": {code: 2}})
	v := m.RunPostToolUse(context.Background(), "Bash", map[string]any{}, "output", 10*time.Millisecond)
	if !v.Blocked {
		t.Fatal("expected PostToolUse exit code 2 to be surfaced as blocked")
	}
}

func TestEmptyCommandFails(t *testing.T) {
	m := NewManager([]Config{{Event: PreToolUse, Command: nil}}, "s1", "/tmp")
	v := m.RunPreToolUse(context.Background(), "Bash", map[string]any{})
	if v.Blocked {
		t.Fatal("a hook that fails to run should not block by default")
	}
}
