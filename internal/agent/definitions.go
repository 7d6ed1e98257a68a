package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// spawnToolName is the tool subagents use to spawn further subagents. A
// loaded agent definition can never re-enable it, regardless of its own
// tools_allow list.
const spawnToolName = "sessions_spawn"

// AgentDefinition is one agents/<name>.toml entry: a named subagent role
// with its own model, thinking level, and tool allow/deny list.
type AgentDefinition struct {
	Name        string
	Description string
	Model       string
	Thinking    string
	ToolsAllow  []string
	ToolsDeny   []string
}

// LoadAgentDefinitions reads every agents/*.toml file under dir. A missing
// dir is not an error — it just yields no definitions.
func LoadAgentDefinitions(dir string) (map[string]AgentDefinition, error) {
	defs := make(map[string]AgentDefinition)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".toml")
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		def, err := parseAgentTOML(name, string(data))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		defs[name] = def
	}
	return defs, nil
}

// parseAgentTOML decodes the flat subset of TOML agent definitions use:
// top-level "key = value" pairs, quoted strings and string arrays, "#"
// comments. It does not support tables, nesting, or multi-line strings —
// agent definitions never need them.
func parseAgentTOML(name, src string) (AgentDefinition, error) {
	def := AgentDefinition{Name: name}
	for lineNo, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return def, fmt.Errorf("line %d: expected key = value", lineNo+1)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		var err error
		switch key {
		case "description":
			def.Description, err = parseTOMLString(val)
		case "model":
			def.Model, err = parseTOMLString(val)
		case "thinking":
			def.Thinking, err = parseTOMLString(val)
		case "tools_allow":
			def.ToolsAllow, err = parseTOMLStringArray(val)
		case "tools_deny":
			def.ToolsDeny, err = parseTOMLStringArray(val)
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			return def, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
	}
	def.ToolsDeny = appendUnique(def.ToolsDeny, spawnToolName)
	def.ToolsAllow = removeName(def.ToolsAllow, spawnToolName)
	return def, nil
}

func parseTOMLString(val string) (string, error) {
	if len(val) < 2 || val[0] != '"' || val[len(val)-1] != '"' {
		return "", fmt.Errorf("expected quoted string, got %q", val)
	}
	return strconv.Unquote(val)
}

func parseTOMLStringArray(val string) ([]string, error) {
	if len(val) < 2 || val[0] != '[' || val[len(val)-1] != ']' {
		return nil, fmt.Errorf("expected array, got %q", val)
	}
	inner := strings.TrimSpace(val[1 : len(val)-1])
	if inner == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(inner, ",") {
		s, err := parseTOMLString(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func removeName(list []string, v string) []string {
	out := list[:0:0]
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
