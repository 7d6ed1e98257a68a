package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/yo-run/yo/internal/provider"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, window []provider.Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func bigMessage(role string, n int) provider.Message {
	return provider.Message{Role: role, Content: strings.Repeat("x", n)}
}

func TestNeedsCompactionBelowBudget(t *testing.T) {
	c := NewCompactor(CompactorConfig{TokenBudget: 1000, TargetReclaimTokens: 100, PreserveTriples: 1}, &stubSummarizer{})
	messages := []provider.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}
	if c.NeedsCompaction(messages) {
		t.Fatal("small conversation should not need compaction")
	}
}

func TestNeedsCompactionAboveBudget(t *testing.T) {
	c := NewCompactor(CompactorConfig{TokenBudget: 10, TargetReclaimTokens: 5, PreserveTriples: 1}, &stubSummarizer{})
	messages := []provider.Message{{Role: "system", Content: "sys"}, bigMessage("user", 1000)}
	if !c.NeedsCompaction(messages) {
		t.Fatal("large conversation should need compaction")
	}
}

func TestCompactPreservesRecentTriplesAndUserMessage(t *testing.T) {
	sum := &stubSummarizer{summary: "earlier discussion recap"}
	c := NewCompactor(CompactorConfig{TokenBudget: 1, TargetReclaimTokens: 1, PreserveTriples: 1}, sum)

	messages := []provider.Message{
		{Role: "system", Content: "sys"},
		bigMessage("user", 500),
		bigMessage("assistant", 500),
		{Role: "assistant", Content: "calling tool", ToolCalls: []provider.ToolCall{{ID: "t1", Name: "Read"}}},
		{Role: "tool", Content: "file contents", ToolCallID: "t1"},
		{Role: "user", Content: "final question"},
	}

	out, err := c.Compact(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if sum.calls != 1 {
		t.Fatalf("expected summarizer to be called once, got %d", sum.calls)
	}
	if out[0].Role != "system" || out[0].Content != "sys" {
		t.Fatalf("system message must survive untouched, got %+v", out[0])
	}

	var foundSummary, foundFinal bool
	for _, m := range out {
		if strings.Contains(m.Content, "earlier discussion recap") {
			foundSummary = true
		}
		if m.Content == "final question" {
			foundFinal = true
		}
	}
	if !foundSummary {
		t.Fatal("expected a summary message in compacted output")
	}
	if !foundFinal {
		t.Fatal("expected the most recent user message to survive compaction")
	}
}

func TestCompactPreservesPendingYieldToolCall(t *testing.T) {
	sum := &stubSummarizer{summary: "recap"}
	c := NewCompactor(CompactorConfig{TokenBudget: 1, TargetReclaimTokens: 1, PreserveTriples: 0}, sum)

	messages := []provider.Message{
		{Role: "system", Content: "sys"},
		bigMessage("user", 500),
		{Role: "assistant", Content: "old call", ToolCalls: []provider.ToolCall{{ID: "pending-1", Name: "Write"}}},
	}
	pending := &pendingYieldRef{ToolCallID: "pending-1"}

	out, err := c.Compact(context.Background(), messages, pending)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}

	var found bool
	for _, m := range out {
		for _, tc := range m.ToolCalls {
			if tc.ID == "pending-1" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("pending yield's tool call must survive compaction")
	}
}

func TestCompactNoOpWhenNothingSafeToCompact(t *testing.T) {
	sum := &stubSummarizer{summary: "recap"}
	c := NewCompactor(CompactorConfig{TokenBudget: 1, TargetReclaimTokens: 1, PreserveTriples: 10}, sum)
	messages := []provider.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	}
	out, err := c.Compact(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if sum.calls != 0 {
		t.Fatal("summarizer should not be invoked when there is no safe window")
	}
	if len(out) != len(messages) {
		t.Fatalf("expected no-op, got %v", out)
	}
}
