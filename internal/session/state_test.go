package session

import "testing"

func TestBeginTurnIsMonotonic(t *testing.T) {
	s := NewSession("k1")
	if n := s.BeginTurn(); n != 1 {
		t.Fatalf("expected turn 1, got %d", n)
	}
	if n := s.BeginTurn(); n != 2 {
		t.Fatalf("expected turn 2, got %d", n)
	}
	if s.State.TurnCount != 2 {
		t.Fatalf("expected TurnCount 2, got %d", s.State.TurnCount)
	}
}

func TestSuspendRefusesSecondOpenYield(t *testing.T) {
	s := NewSession("k1")
	if err := s.Suspend(PendingYield{ToolCallID: "t1", Reason: YieldApproval}); err != nil {
		t.Fatalf("first suspend should succeed: %v", err)
	}
	if s.GetStatus() != StatusAwaitingApproval {
		t.Fatalf("expected awaiting-approval, got %s", s.GetStatus())
	}
	if err := s.Suspend(PendingYield{ToolCallID: "t2", Reason: YieldApproval}); err == nil {
		t.Fatal("expected error suspending a session that already has an open yield")
	}
}

func TestResumeClearsPendingYield(t *testing.T) {
	s := NewSession("k1")
	s.Suspend(PendingYield{ToolCallID: "t1", Reason: YieldApproval})
	y, err := s.Resume("t1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if y.ToolCallID != "t1" {
		t.Fatalf("unexpected yield: %+v", y)
	}
	if s.PendingYield() != nil {
		t.Fatal("expected pending yield to be cleared")
	}
	if s.GetStatus() != StatusActive {
		t.Fatalf("expected active status after resume, got %s", s.GetStatus())
	}
}

func TestResumeMismatchedToolCallIDFails(t *testing.T) {
	s := NewSession("k1")
	s.Suspend(PendingYield{ToolCallID: "t1", Reason: YieldApproval})
	if _, err := s.Resume("wrong-id"); err == nil {
		t.Fatal("expected error for mismatched tool_call_id")
	}
}

func TestToolCallStatusFreezesOnTerminalState(t *testing.T) {
	s := NewSession("k1")
	s.RecordToolCall(ToolCall{ID: "c1", ToolName: "Read", Status: ToolCallPending})

	if !s.TransitionToolCall("c1", ToolCallRunning) {
		t.Fatal("pending -> running should succeed")
	}
	if !s.TransitionToolCall("c1", ToolCallCompleted) {
		t.Fatal("running -> completed should succeed")
	}
	if s.TransitionToolCall("c1", ToolCallFailed) {
		t.Fatal("transition out of a terminal state must be refused")
	}
}

func TestAddCostAccumulatesOnLatestTurn(t *testing.T) {
	s := NewSession("k1")
	s.BeginTurn()
	s.AddCost(100, 0.01)
	s.AddCost(50, 0.005)

	if s.State.CumulativeTokens != 150 {
		t.Fatalf("expected 150 cumulative tokens, got %d", s.State.CumulativeTokens)
	}
	if s.State.Turns[0].Tokens != 150 {
		t.Fatalf("expected turn tokens 150, got %d", s.State.Turns[0].Tokens)
	}
}
