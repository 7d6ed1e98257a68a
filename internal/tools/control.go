package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TodoItem is one entry in a session's task checklist.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// TodoTool tracks a per-session task checklist. It has no external backing
// store: the list lives for as long as the daemon process does, keyed by
// the session attached to the call's context.
type TodoTool struct {
	mu    sync.Mutex
	lists map[string][]TodoItem
}

func NewTodoTool() *TodoTool { return &TodoTool{lists: make(map[string][]TodoItem)} }

func (t *TodoTool) Name() string { return "todo" }
func (t *TodoTool) Tier() int    { return TierAgentControl }

func (t *TodoTool) Description() string {
	return "Read or replace the task checklist for the current session. Use action=write with the full list every time a task's status changes."
}

func (t *TodoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "list or write",
				"enum":        []string{"list", "write"},
			},
			"items": map[string]any{
				"type":        "array",
				"description": "Full replacement checklist, required when action=write.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"action"},
	}
}

func (t *TodoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	key := sessionKey(ctx)
	action := GetString(params, "action", "list")

	t.mu.Lock()
	defer t.mu.Unlock()

	if action == "write" {
		raw, ok := params["items"].([]any)
		if !ok {
			return "Error: items is required for action=write", nil
		}
		items := make([]TodoItem, 0, len(raw))
		for i, v := range raw {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			id := GetString(m, "id", "")
			if id == "" {
				id = fmt.Sprintf("%d", i+1)
			}
			status := GetString(m, "status", "pending")
			if status != "pending" && status != "in_progress" && status != "completed" {
				status = "pending"
			}
			items = append(items, TodoItem{ID: id, Content: GetString(m, "content", ""), Status: status})
		}
		t.lists[key] = items
	}

	return formatTodoList(t.lists[key]), nil
}

func formatTodoList(items []TodoItem) string {
	if len(items) == 0 {
		return "Checklist is empty."
	}
	var b strings.Builder
	for _, it := range items {
		mark := " "
		switch it.Status {
		case "in_progress":
			mark = "~"
		case "completed":
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %s %s\n", mark, it.ID, it.Content)
	}
	return b.String()
}

// AskUserTool asks the human operator a clarifying question. It never runs
// to completion inside the normal tool-execution path: the turn runner
// recognizes it through the Asker interface below and suspends the session
// on a question yield (awaiting-input state) instead of calling
// Execute. Execute is a fallback for direct/test invocation only.
type AskUserTool struct{}

func NewAskUserTool() *AskUserTool { return &AskUserTool{} }

func (t *AskUserTool) Name() string { return "ask_user" }
func (t *AskUserTool) Tier() int    { return TierAgentControl }

func (t *AskUserTool) Description() string {
	return "Ask the human operator a clarifying question and wait for their answer before continuing."
}

func (t *AskUserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The question to show the user",
			},
		},
		"required": []string{"question"},
	}
}

// Question implements the Asker interface: the runner reads it to build the
// PendingYield instead of executing the tool.
func (t *AskUserTool) Question(params map[string]any) string {
	return GetString(params, "question", "")
}

func (t *AskUserTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	q := GetString(params, "question", "")
	if q == "" {
		return "Error: question is required", nil
	}
	return fmt.Sprintf("(question queued for user: %s)", q), nil
}

const planModeMetadataKey = "plan_mode"

// EnterPlanModeTool marks the session as being in plan mode. Policy rules
// keyed on session metadata (not modeled by this tool) are what actually
// restrict further calls to read-only tools; this tool only flips the flag.
type EnterPlanModeTool struct{}

func NewEnterPlanModeTool() *EnterPlanModeTool { return &EnterPlanModeTool{} }

func (t *EnterPlanModeTool) Name() string { return "enter_plan_mode" }
func (t *EnterPlanModeTool) Tier() int    { return TierAgentControl }

func (t *EnterPlanModeTool) Description() string {
	return "Switch the session into plan mode: investigate and describe an approach before making changes. Call exit_plan_mode once the plan is ready."
}

func (t *EnterPlanModeTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *EnterPlanModeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if sess := SessionFromContext(ctx); sess != nil {
		sess.SetMetadata(planModeMetadataKey, true)
	}
	return "Entered plan mode. Investigate and describe your plan, then call exit_plan_mode to present it.", nil
}

// ExitPlanModeTool presents the finished plan and clears plan mode.
type ExitPlanModeTool struct{}

func NewExitPlanModeTool() *ExitPlanModeTool { return &ExitPlanModeTool{} }

func (t *ExitPlanModeTool) Name() string { return "exit_plan_mode" }
func (t *ExitPlanModeTool) Tier() int    { return TierAgentControl }

func (t *ExitPlanModeTool) Description() string {
	return "Present the completed plan to the user and leave plan mode."
}

func (t *ExitPlanModeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan": map[string]any{
				"type":        "string",
				"description": "The plan to present to the user",
			},
		},
		"required": []string{"plan"},
	}
}

func (t *ExitPlanModeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	plan := GetString(params, "plan", "")
	if plan == "" {
		return "Error: plan is required", nil
	}
	if sess := SessionFromContext(ctx); sess != nil {
		sess.DeleteMetadata(planModeMetadataKey)
	}
	return fmt.Sprintf("Exited plan mode. Plan:\n%s", plan), nil
}
