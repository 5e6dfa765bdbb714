package aicode

import (
	"context"
	"testing"
)

func newTestTask(t *testing.T, provider Provider) *Task {
	t.Helper()
	return NewTask("task-1", "say hello", provider, nil, nil)
}

func TestRunStepSingleRoundNoContinuation(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "Hello there.", Usage: Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8}}},
	}}
	task := newTestTask(t, stub)

	step, err := task.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(step.Rounds) != 1 {
		t.Fatalf("got %d rounds, want 1", len(step.Rounds))
	}
	if stub.calls != 1 {
		t.Errorf("got %d provider calls, want 1", stub.calls)
	}
	sum := step.Summary()
	if sum.TotalTokens != 8 {
		t.Errorf("got %d total tokens, want 8", sum.TotalTokens)
	}
	if task.State() != TaskCompleted {
		t.Errorf("got state %v, want TaskCompleted", task.State())
	}
}

func TestRunStepContinuesOnToolCall(t *testing.T) {
	first := "<!-- ToolCall: {\"name\":\"Exec\",\"arguments\":{\"name\":\"missing\"}} -->"
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: first}},
		{resp: ChatResponse{Content: "All done."}},
	}}
	task := newTestTask(t, stub)

	step, err := task.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(step.Rounds) != 2 {
		t.Fatalf("got %d rounds, want 2", len(step.Rounds))
	}
	if len(step.Rounds[0].ToolCallResults) != 1 {
		t.Fatalf("expected 1 tool call result in round 0, got %d", len(step.Rounds[0].ToolCallResults))
	}
	res, ok := step.Rounds[0].ToolCallResults[0].Result.(ExecToolResult)
	if !ok {
		t.Fatalf("result has unexpected type %T", step.Rounds[0].ToolCallResults[0].Result)
	}
	if res.Error == "" {
		t.Error("expected an error for an exec against a missing block")
	}
}

func TestRunStepStopsAtMaxRounds(t *testing.T) {
	looping := "<!-- ToolCall: {\"name\":\"Edit\",\"arguments\":{\"name\":\"x\",\"old\":\"a\",\"new\":\"b\"}} -->"
	results := make([]stubResult, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, stubResult{resp: ChatResponse{Content: looping}})
	}
	stub := &stubProvider{results: results}
	task := newTestTask(t, stub)
	task.MaxRounds = 3

	step, err := task.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(step.Rounds) != 3 {
		t.Fatalf("got %d rounds, want 3 (MaxRounds cap)", len(step.Rounds))
	}
}

func TestRunStepTerminatesOnProviderError(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 500, Body: "boom"}},
	}}
	task := newTestTask(t, stub)

	step, err := task.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error from a failing provider")
	}
	if len(step.Rounds) != 0 {
		t.Errorf("got %d rounds, want 0 (terminal before the round is recorded)", len(step.Rounds))
	}
	if task.State() != TaskFailed {
		t.Errorf("got state %v, want TaskFailed", task.State())
	}
}

func TestRunStepRespectsStop(t *testing.T) {
	stub := &stubProvider{results: []stubResult{{resp: ChatResponse{Content: "hi"}}}}
	task := newTestTask(t, stub)
	task.Stop()

	step, err := task.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error for a task stopped before it started: %v", err)
	}
	if len(step.Rounds) != 0 {
		t.Errorf("got %d rounds, want 0", len(step.Rounds))
	}
	if task.State() != TaskCancelled {
		t.Errorf("got state %v, want TaskCancelled", task.State())
	}
}
