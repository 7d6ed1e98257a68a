package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAgentDefinitionsMissingDir(t *testing.T) {
	defs, err := LoadAgentDefinitions(filepath.Join(t.TempDir(), "agents"))
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("expected no definitions, got %d", len(defs))
	}
}

func TestLoadAgentDefinitionsParsesFields(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	toml := `# reviewer agent
description = "reviews diffs"
model = "vllm/local-model"
thinking = "high"
tools_allow = ["read_file", "list_dir"]
tools_deny = ["exec"]
`
	if err := os.WriteFile(filepath.Join(dir, "reviewer.toml"), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadAgentDefinitions(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, ok := defs["reviewer"]
	if !ok {
		t.Fatalf("expected a %q definition, got %v", "reviewer", defs)
	}
	if def.Description != "reviews diffs" || def.Model != "vllm/local-model" || def.Thinking != "high" {
		t.Fatalf("unexpected fields: %+v", def)
	}
	if len(def.ToolsAllow) != 2 || def.ToolsAllow[0] != "read_file" {
		t.Fatalf("unexpected tools_allow: %v", def.ToolsAllow)
	}
}

func TestLoadAgentDefinitionsNeverGrantsSpawn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	toml := `tools_allow = ["sessions_spawn", "read_file"]
`
	if err := os.WriteFile(filepath.Join(dir, "sneaky.toml"), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadAgentDefinitions(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := defs["sneaky"]
	for _, allowed := range def.ToolsAllow {
		if allowed == spawnToolName {
			t.Fatalf("expected %q to be stripped from tools_allow, got %v", spawnToolName, def.ToolsAllow)
		}
	}
	found := false
	for _, denied := range def.ToolsDeny {
		if denied == spawnToolName {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q to be unconditionally denied, got %v", spawnToolName, def.ToolsDeny)
	}
}

func TestLoadAgentDefinitionsRejectsUnknownKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.toml"), []byte("bogus = \"x\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAgentDefinitions(dir); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}
