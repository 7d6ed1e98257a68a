package agent

import (
	"context"
	"fmt"

	"github.com/yo-run/yo/internal/provider"
)

// charsPerToken approximates token count from character length, the same
// crude budget style already used for memoryInjectionBudgetChars elsewhere
// in this package — no tokenizer dependency appears anywhere in the pack.
const charsPerToken = 4

// CompactorConfig bounds when and how context gets summarized.
type CompactorConfig struct {
	// TokenBudget is the estimated-token ceiling that triggers compaction.
	TokenBudget int
	// TargetReclaimTokens is how much of the budget a single compaction
	// pass tries to free.
	TargetReclaimTokens int
	// PreserveTriples is the number of most recent assistant/tool-call/
	// tool-result triples that must survive compaction untouched.
	PreserveTriples int
}

// DefaultCompactorConfig mirrors context.go's existing context-budget
// defaults, scaled up to a whole-turn window rather than a single
// memory-injection slice.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		TokenBudget:         32_000,
		TargetReclaimTokens: 12_000,
		PreserveTriples:     3,
	}
}

// Summarizer invokes the router with the fixed "summarize" category to turn
// a window of messages into a single summary string. The agent loop's
// router satisfies this via router.Chat with Category="summarize".
type Summarizer interface {
	Summarize(ctx context.Context, window []provider.Message) (string, error)
}

// Compactor opportunistically summarizes or drops the
// oldest turns once the estimated token footprint exceeds TokenBudget.
type Compactor struct {
	cfg        CompactorConfig
	summarizer Summarizer
}

// NewCompactor builds a Compactor bound to a Summarizer (typically the
// router, wired with the "summarize" category).
func NewCompactor(cfg CompactorConfig, summarizer Summarizer) *Compactor {
	if cfg.TokenBudget <= 0 {
		cfg = DefaultCompactorConfig()
	}
	return &Compactor{cfg: cfg, summarizer: summarizer}
}

// EstimateTokens sums character lengths across messages and divides by the
// configured ratio.
func EstimateTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + 32
		}
	}
	return total / charsPerToken
}

// NeedsCompaction reports whether messages exceeds the configured budget.
func (c *Compactor) NeedsCompaction(messages []provider.Message) bool {
	return EstimateTokens(messages) > c.cfg.TokenBudget
}

// pendingYieldRef is the minimal shape compaction needs to know about a
// suspended tool call so it never gets compacted away.
type pendingYieldRef struct {
	ToolCallID string
}

// Compact runs one compaction pass over messages, returning the replacement
// slice. It never touches: the system message (index 0 if role=="system"),
// the most recent user message, the preserved trailing triples, or any
// message referenced by pending.
func (c *Compactor) Compact(ctx context.Context, messages []provider.Message, pending *pendingYieldRef) ([]provider.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}

	startIdx := 0
	if messages[0].Role == "system" {
		startIdx = 1
	}

	preserveFrom := c.preserveBoundary(messages, pending)
	if preserveFrom <= startIdx {
		// Nothing safe to compact; the whole tail must be preserved.
		return messages, nil
	}

	window := messages[startIdx:preserveFrom]
	if len(window) == 0 {
		return messages, nil
	}

	summary, err := c.summarizer.Summarize(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("compact: summarize window: %w", err)
	}

	out := make([]provider.Message, 0, len(messages)-len(window)+1)
	out = append(out, messages[:startIdx]...)
	out = append(out, provider.Message{
		Role:    "system",
		Content: "summary of earlier conversation: " + summary,
	})
	out = append(out, messages[preserveFrom:]...)
	return out, nil
}

// preserveBoundary returns the index at which the preserved tail begins:
// the last PreserveTriples assistant/tool-call/tool-result groups, the most
// recent user message, and anything referencing the pending yield.
func (c *Compactor) preserveBoundary(messages []provider.Message, pending *pendingYieldRef) int {
	triplesSeen := 0
	sawUser := false
	boundary := len(messages)

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		preserve := false

		if pending != nil && pending.ToolCallID != "" && m.ToolCallID == pending.ToolCallID {
			preserve = true
		}
		if m.Role == "user" && !sawUser {
			sawUser = true
			preserve = true
		}
		if triplesSeen < c.cfg.PreserveTriples {
			preserve = true
			if m.Role == "assistant" && len(m.ToolCalls) > 0 {
				triplesSeen++
			}
		}

		if !preserve {
			break
		}
		boundary = i
	}
	return boundary
}
