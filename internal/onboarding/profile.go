package onboarding

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/yo-run/yo/internal/config"
)

// LLMPreset selects which provider onboarding configures.
type LLMPreset string

const (
	LLMPresetSkip       LLMPreset = "skip"
	LLMPresetAnthropic  LLMPreset = "anthropic"
	LLMPresetOpenAI     LLMPreset = "openai"
	LLMPresetGemini     LLMPreset = "gemini"
	LLMPresetOpenRouter LLMPreset = "openrouter"
	LLMPresetDeepSeek   LLMPreset = "deepseek"
	LLMPresetGroq       LLMPreset = "groq"
	LLMPresetVLLM       LLMPreset = "vllm"
)

// WizardParams carries every flag runOnboard collected from the command line;
// any field left blank falls back to an interactive prompt unless
// NonInteractive is set.
type WizardParams struct {
	Profile          string
	LLMPreset        string
	LLMToken         string
	LLMAPIBase       string
	LLMModel         string
	AgentID          string
	SubMaxSpawnDepth int
	SubMaxChildren   int
	SubMaxConcurrent int
	SubArchiveMins   int
	SubAllowAgents   string
	SubModel         string
	SubThinking      string
	NonInteractive   bool
}

// RunProfileWizard mutates cfg in place based on WizardParams, prompting on
// stdin for anything left unset when not running non-interactively.
func RunProfileWizard(cfg *config.Config, stdin io.Reader, stdout io.Writer, p WizardParams) error {
	reader := bufio.NewReader(stdin)

	agentID := strings.TrimSpace(p.AgentID)
	if agentID == "" && !p.NonInteractive {
		agentID = promptLine(reader, stdout, fmt.Sprintf("Agent id [%s]: ", cfg.Group.AgentID))
	}
	if agentID != "" {
		cfg.Group.AgentID = agentID
	}

	preset := strings.ToLower(strings.TrimSpace(p.LLMPreset))
	if preset == "" && !p.NonInteractive {
		preset = strings.ToLower(promptLine(reader, stdout, "LLM provider (anthropic/openai/gemini/openrouter/deepseek/groq/vllm/skip): "))
	}
	if err := applyLLMPreset(cfg, LLMPreset(preset), p); err != nil {
		return err
	}

	if p.SubMaxSpawnDepth > 0 {
		cfg.Tools.Subagents.MaxSpawnDepth = p.SubMaxSpawnDepth
	}
	if p.SubMaxChildren > 0 {
		cfg.Tools.Subagents.MaxChildrenPerAgent = p.SubMaxChildren
	}
	if p.SubMaxConcurrent > 0 {
		cfg.Tools.Subagents.MaxConcurrent = p.SubMaxConcurrent
	}
	if p.SubArchiveMins > 0 {
		cfg.Tools.Subagents.ArchiveAfterMinutes = p.SubArchiveMins
	}
	if strings.TrimSpace(p.SubModel) != "" {
		cfg.Tools.Subagents.Model = p.SubModel
	}
	if strings.TrimSpace(p.SubThinking) != "" {
		cfg.Tools.Subagents.Thinking = p.SubThinking
	}
	if strings.TrimSpace(p.SubAllowAgents) != "" {
		cfg.Tools.Subagents.AllowAgents = strings.Split(p.SubAllowAgents, ",")
	}

	return nil
}

func applyLLMPreset(cfg *config.Config, preset LLMPreset, p WizardParams) error {
	switch preset {
	case "", LLMPresetSkip:
		return nil
	case LLMPresetAnthropic:
		cfg.Providers.Anthropic.APIKey = p.LLMToken
		cfg.Providers.Anthropic.APIBase = p.LLMAPIBase
	case LLMPresetOpenAI:
		cfg.Providers.OpenAI.APIKey = p.LLMToken
		cfg.Providers.OpenAI.APIBase = p.LLMAPIBase
	case LLMPresetGemini:
		cfg.Providers.Gemini.APIKey = p.LLMToken
		cfg.Providers.Gemini.APIBase = p.LLMAPIBase
	case LLMPresetOpenRouter:
		cfg.Providers.OpenRouter.APIKey = p.LLMToken
		cfg.Providers.OpenRouter.APIBase = p.LLMAPIBase
	case LLMPresetDeepSeek:
		cfg.Providers.DeepSeek.APIKey = p.LLMToken
		cfg.Providers.DeepSeek.APIBase = p.LLMAPIBase
	case LLMPresetGroq:
		cfg.Providers.Groq.APIKey = p.LLMToken
		cfg.Providers.Groq.APIBase = p.LLMAPIBase
	case LLMPresetVLLM:
		cfg.Providers.VLLM.APIKey = p.LLMToken
		cfg.Providers.VLLM.APIBase = p.LLMAPIBase
	default:
		return fmt.Errorf("unknown llm preset %q", preset)
	}
	if strings.TrimSpace(p.LLMModel) != "" {
		cfg.Model.Name = p.LLMModel
	}
	return nil
}

func promptLine(reader *bufio.Reader, stdout io.Writer, prompt string) string {
	fmt.Fprint(stdout, prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// BuildProfileSummary renders the settings onboarding is about to persist,
// shown to the operator before ConfirmApply.
func BuildProfileSummary(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Onboarding summary:")
	fmt.Fprintf(&b, "  Agent id:   %s\n", cfg.Group.AgentID)
	fmt.Fprintf(&b, "  Model:      %s\n", cfg.Model.Name)
	fmt.Fprintf(&b, "  Workspace:  %s\n", cfg.Paths.Workspace)
	fmt.Fprintf(&b, "  Gateway:    %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Fprintf(&b, "  Subagents:  max_depth=%d max_children=%d max_concurrent=%d\n",
		cfg.Tools.Subagents.MaxSpawnDepth, cfg.Tools.Subagents.MaxChildrenPerAgent, cfg.Tools.Subagents.MaxConcurrent)
	return b.String()
}

// ConfirmApply prompts y/N on stdout/stdin before writing the config to disk.
func ConfirmApply(reader *bufio.Reader, stdout io.Writer) (bool, error) {
	fmt.Fprint(stdout, "Apply this configuration? [y/N]: ")
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
