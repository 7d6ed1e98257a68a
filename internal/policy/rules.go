package policy

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yo-run/yo/internal/tools"
)

// resolveSymlinks resolves symlinks in path, walking up to the nearest
// existing ancestor when the path itself (or a trailing component) does not
// yet exist — e.g. a Write target that hasn't been created yet.
func resolveSymlinks(path string) (string, error) {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved, nil
	}
	dir, base := filepath.Split(clean)
	dir = filepath.Clean(dir)
	if dir == clean || dir == "." || dir == "/" {
		return clean, nil
	}
	resolvedDir, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// Action is the outcome of a rule match or mode default.
type Action string

const (
	RuleAllow Action = "allow"
	RuleAsk   Action = "ask"
	RuleDeny  Action = "deny"
)

// Mode is the session-wide permission mode.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModeAcceptEdits       Mode = "acceptEdits"
	ModeBypassPermissions Mode = "bypassPermissions"
)

// PolicyRule is one configured rule.
type PolicyRule struct {
	Action      Action
	ToolPattern string // literal tool name, e.g. "Bash"
	ArgPattern  string // optional glob over the canonical arg signature, e.g. "git:*"
	Reason      string
}

// Invocation is the (agent-id, tool, arguments) triple being evaluated.
type Invocation struct {
	AgentID     string
	Tool        tools.Tool
	Params      map[string]any
	ProjectRoot string // absolute, used for the path-escape invariant
}

// RuleEngine implements explicit allow -> ask -> deny rule
// groups, falling through to the permission mode's default, with two
// unconditional invariants checked first.
type RuleEngine struct {
	Mode  Mode
	Rules []PolicyRule
}

// NewRuleEngine builds a RuleEngine in the given mode with no rules.
func NewRuleEngine(mode Mode) *RuleEngine {
	return &RuleEngine{Mode: mode}
}

// deniedShellHeads are unconditionally denied regardless of rule
// configuration.
var deniedShellHeads = map[string]bool{
	"curl": true,
	"wget": true,
}

// EvaluateInvocation is the pure-function entry point: configuration +
// invocation -> Decision. It never consults external state.
func (e *RuleEngine) EvaluateInvocation(inv Invocation) Decision {
	signature := canonicalSignature(inv.Tool, inv.Params)

	if reason, denied := checkPathEscape(inv); denied {
		return Decision{Allow: false, Reason: reason}
	}
	if head := shellHead(signature); deniedShellHeads[head] {
		return Decision{Allow: false, Reason: "unconditional_deny: " + head}
	}

	name := inv.Tool.Name()
	for _, group := range [][]Action{{RuleAllow}, {RuleAsk}, {RuleDeny}} {
		action := group[0]
		for _, r := range e.Rules {
			if r.Action != action {
				continue
			}
			if !ruleMatchesTool(r, name) {
				continue
			}
			if r.ArgPattern != "" && !argPatternMatches(r.ArgPattern, signature) {
				continue
			}
			return decisionFor(action, r.Reason)
		}
	}

	return e.modeDefault(inv.Tool)
}

func decisionFor(action Action, reason string) Decision {
	switch action {
	case RuleAllow:
		return Decision{Allow: true, Reason: reason}
	case RuleAsk:
		return Decision{Allow: false, RequiresApproval: true, Reason: reason}
	default:
		return Decision{Allow: false, Reason: reason}
	}
}

// modeDefault implements the mode's default-action table.
func (e *RuleEngine) modeDefault(t tools.Tool) Decision {
	tier := tools.ToolTier(t)
	switch e.Mode {
	case ModeBypassPermissions:
		return Decision{Allow: true, Reason: "mode_bypass_permissions"}
	case ModeAcceptEdits:
		switch tier {
		case tools.TierReadOnly:
			return Decision{Allow: true, Reason: "mode_accept_edits_read_only"}
		case tools.TierWrite:
			return Decision{Allow: true, Reason: "mode_accept_edits_mutating"}
		default:
			return Decision{Allow: false, RequiresApproval: true, Reason: "mode_accept_edits_ask"}
		}
	default: // ModeDefault and unset
		if tier == tools.TierReadOnly {
			return Decision{Allow: true, Reason: "mode_default_read_only"}
		}
		return Decision{Allow: false, RequiresApproval: true, Reason: "mode_default_ask"}
	}
}

func ruleMatchesTool(r PolicyRule, name string) bool {
	return strings.EqualFold(r.ToolPattern, name)
}

// canonicalSignature builds the "<tool>(<arg>)" signature described in
// preferring the tool's own SignatureTool implementation.
func canonicalSignature(t tools.Tool, params map[string]any) string {
	if st, ok := t.(tools.SignatureTool); ok {
		return collapseWhitespace(st.ArgSignature(params))
	}
	return t.Name() + "()"
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapseWhitespace resolves Open Question (c): consecutive whitespace in
// the canonical signature is collapsed before matching, so "git  commit"
// matches the same pattern as "git commit".
func collapseWhitespace(sig string) string {
	return whitespaceRun.ReplaceAllString(sig, " ")
}

// envAssignment matches a single leading "KEY=value " environment
// assignment prefix, per Open Question (c): strip exactly one such prefix
// before extracting the shell command's head token.
var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S+\s+`)

// shellHead extracts the first token of a shell signature's command part,
// e.g. "Bash(FOO=bar git commit)" -> "git". Non-shell signatures (no
// parens, or a name that isn't a shell tool) return "".
func shellHead(signature string) string {
	open := strings.IndexByte(signature, '(')
	close := strings.LastIndexByte(signature, ')')
	if open < 0 || close < 0 || close < open {
		return ""
	}
	cmd := signature[open+1 : close]
	cmd = envAssignment.ReplaceAllString(cmd, "")
	cmd = strings.TrimSpace(cmd)
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// argPatternMatches implements "Bash(git:*)"-style colon-wildcard matching:
// the pattern's head (before ":*") must match the signature's shell head by
// prefix; patterns with no ":*" suffix fall back to filepath.Match against
// the signature's argument portion.
func argPatternMatches(pattern, signature string) bool {
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, ":*")
		head := shellHead(signature)
		return head == prefix || strings.HasPrefix(head, prefix)
	}
	open := strings.IndexByte(signature, '(')
	close := strings.LastIndexByte(signature, ')')
	arg := signature
	if open >= 0 && close > open {
		arg = signature[open+1 : close]
	}
	ok, err := filepath.Match(pattern, arg)
	return err == nil && ok
}

// checkPathEscape implements the unconditional path-escape invariant: any
// absolute path argument that does not resolve (after symlink resolution)
// inside ProjectRoot is denied regardless of rules.
func checkPathEscape(inv Invocation) (reason string, denied bool) {
	path, _ := inv.Params["path"].(string)
	if path == "" || inv.ProjectRoot == "" {
		return "", false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(inv.ProjectRoot, path)
	}
	resolved, err := resolveSymlinks(path)
	if err != nil {
		resolved = filepath.Clean(path)
	}
	root, err := resolveSymlinks(inv.ProjectRoot)
	if err != nil {
		root = filepath.Clean(inv.ProjectRoot)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "OutsideRoot", true
	}
	return "", false
}
