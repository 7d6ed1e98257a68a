package policy

import (
	"fmt"
	"strings"

	"github.com/yo-run/yo/internal/config"
)

// FromConfig builds a RuleEngine from the on-disk policy configuration,
// parsing each rule's "Tool" or "Tool(argPattern)" pattern into the
// ToolPattern/ArgPattern pair EvaluateInvocation matches against.
func FromConfig(cfg config.PolicyConfig) (*RuleEngine, error) {
	engine := NewRuleEngine(Mode(cfg.Mode))
	for _, r := range cfg.Rules {
		action, err := parseAction(r.Action)
		if err != nil {
			return nil, fmt.Errorf("policy rule %q: %w", r.Pattern, err)
		}
		toolPattern, argPattern := splitPattern(r.Pattern)
		if toolPattern == "" {
			return nil, fmt.Errorf("policy rule has an empty tool pattern: %q", r.Pattern)
		}
		engine.Rules = append(engine.Rules, PolicyRule{
			Action:      action,
			ToolPattern: toolPattern,
			ArgPattern:  argPattern,
			Reason:      r.Reason,
		})
	}
	return engine, nil
}

func parseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return RuleAllow, nil
	case "ask":
		return RuleAsk, nil
	case "deny":
		return RuleDeny, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// splitPattern parses "Tool" or "Tool(argPattern)" into its two parts.
func splitPattern(pattern string) (tool, arg string) {
	pattern = strings.TrimSpace(pattern)
	open := strings.IndexByte(pattern, '(')
	if open < 0 || !strings.HasSuffix(pattern, ")") {
		return pattern, ""
	}
	return pattern[:open], pattern[open+1 : len(pattern)-1]
}
