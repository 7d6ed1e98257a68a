package session

import (
	"fmt"
	"time"
)

// BeginTurn increments the turn counter (invariant: never decreases)
// and appends a fresh Turn record, returning its number.
func (s *Session) BeginTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State.TurnCount++
	s.State.Turns = append(s.State.Turns, Turn{Number: s.State.TurnCount})
	s.State.Status = StatusActive
	s.UpdatedAt = time.Now()
	return s.State.TurnCount
}

// GetStatus is a convenience read accessor mirroring the field name used in
// this data model.
func (s *Session) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State.Status
}

// SetStatus transitions the session's status directly (used for terminal
// states like ended/stuck that aren't reached via Suspend/Resume).
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State.Status = status
	s.UpdatedAt = time.Now()
}

// Suspend records a PendingYield and moves the session into the matching
// awaiting-* status. It refuses to overwrite an existing PendingYield,
// enforcing "a session is in at most one suspension state".
func (s *Session) Suspend(y PendingYield) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Pending != nil {
		return fmt.Errorf("session %s already has an open yield (tool_call_id=%s)", s.Key, s.State.Pending.ToolCallID)
	}
	cp := y
	s.State.Pending = &cp
	switch y.Reason {
	case YieldQuestion:
		s.State.Status = StatusAwaitingInput
	default:
		s.State.Status = StatusAwaitingApproval
	}
	s.UpdatedAt = time.Now()
	return nil
}

// PendingYield returns a copy of the open yield, or nil if none.
func (s *Session) PendingYield() *PendingYield {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.State.Pending == nil {
		return nil
	}
	cp := *s.State.Pending
	return &cp
}

// Resume clears the pending yield and returns the session to active,
// verifying toolCallID matches the open yield (resume contract).
func (s *Session) Resume(toolCallID string) (*PendingYield, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Pending == nil {
		return nil, fmt.Errorf("session %s has no open yield", s.Key)
	}
	if toolCallID != "" && s.State.Pending.ToolCallID != toolCallID {
		return nil, fmt.Errorf("resume tool_call_id %q does not match open yield %q", toolCallID, s.State.Pending.ToolCallID)
	}
	y := s.State.Pending
	s.State.Pending = nil
	s.State.Status = StatusActive
	s.UpdatedAt = time.Now()
	return y, nil
}

// RecordToolCall appends a tool call to the session's bookkeeping list.
func (s *Session) RecordToolCall(tc ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State.ToolCalls = append(s.State.ToolCalls, tc)
	s.UpdatedAt = time.Now()
}

// TransitionToolCall finds a tracked tool call by id and applies a status
// transition, refusing to move past a frozen terminal state.
func (s *Session) TransitionToolCall(id string, next ToolCallStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.State.ToolCalls {
		if s.State.ToolCalls[i].ID == id {
			ok := s.State.ToolCalls[i].Transition(next)
			if ok {
				s.UpdatedAt = time.Now()
			}
			return ok
		}
	}
	return false
}

// AddCost accumulates tokens and cost onto the session totals, updating the
// current (last) turn's own counters too.
func (s *Session) AddCost(tokens int, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State.CumulativeTokens += tokens
	s.State.CumulativeCost += costUSD
	if n := len(s.State.Turns); n > 0 {
		s.State.Turns[n-1].Tokens += tokens
		s.State.Turns[n-1].CostUSD += costUSD
	}
	s.UpdatedAt = time.Now()
}

// AddMessageWithToolCalls is AddMessage generalized to carry tool call
// metadata, needed once the daemon starts persisting assistant/tool turns.
func (s *Session) AddMessageWithToolCalls(role, content string, toolCalls []ToolCall, toolCallID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, Message{
		Role:       role,
		Content:    content,
		Timestamp:  time.Now(),
		ToolCalls:  toolCalls,
		ToolCallID: toolCallID,
	})
	s.UpdatedAt = time.Now()
}
