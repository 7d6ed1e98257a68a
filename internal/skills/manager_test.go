package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yo-run/yo/internal/config"
)

func TestEnsureNVMRCWritesWhenMissing(t *testing.T) {
	repo := t.TempDir()
	path, err := EnsureNVMRC(repo, "22")
	if err != nil {
		t.Fatalf("EnsureNVMRC failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read nvmrc: %v", err)
	}
	if strings.TrimSpace(string(data)) != "22" {
		t.Fatalf("expected node major 22, got %q", string(data))
	}
}

func TestEnsureClawhubWithFakeBinary(t *testing.T) {
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	origPath := os.Getenv("PATH")
	defer os.Setenv("PATH", origPath)

	if err := os.WriteFile(filepath.Join(bin, "clawhub"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write clawhub: %v", err)
	}
	_ = os.Setenv("PATH", bin+string(os.PathListSeparator)+origPath)
	if err := EnsureClawhub(false); err != nil {
		t.Fatalf("EnsureClawhub should succeed with fake binary: %v", err)
	}
}

func TestEffectiveSkillEnabledRespectsGlobalToggle(t *testing.T) {
	cfg := &config.Config{}
	cfg.Skills.Enabled = false
	if EffectiveSkillEnabled(cfg, "google-workspace") {
		t.Fatal("expected disabled when skills system is off")
	}
}

func TestEffectiveSkillEnabledScopeAll(t *testing.T) {
	cfg := &config.Config{}
	cfg.Skills.Enabled = true
	cfg.Skills.Scope = "all"
	if !EffectiveSkillEnabled(cfg, "m365") {
		t.Fatal("expected enabled under scope=all")
	}
}

func TestEffectiveSkillEnabledExplicitEntryOverridesBundledDefault(t *testing.T) {
	cfg := &config.Config{}
	cfg.Skills.Enabled = true
	cfg.Skills.Entries = map[string]config.SkillEntryConfig{
		"google-workspace": {Enabled: true},
	}
	if !EffectiveSkillEnabled(cfg, "google-workspace") {
		t.Fatal("expected entry override to enable skill")
	}
}

func TestEffectiveSkillEnabledFallsBackToBundledDefault(t *testing.T) {
	cfg := &config.Config{}
	cfg.Skills.Enabled = true
	if EffectiveSkillEnabled(cfg, "google-workspace") {
		t.Fatal("expected bundled default (disabled) for google-workspace")
	}
}

func TestEnsureStateDirsCreatesPrivateDirectories(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("YO_CONFIG", filepath.Join(tmp, ".yo", "config.json"))

	dirs, err := EnsureStateDirs()
	if err != nil {
		t.Fatalf("EnsureStateDirs: %v", err)
	}
	for _, dir := range []string{dirs.Root, dirs.TmpDir, dirs.ToolsDir, dirs.Quarantine, dirs.Installed, dirs.Snapshots, dirs.AuditDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory to exist: %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}
}
