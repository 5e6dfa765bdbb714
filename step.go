package aicode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nevindra/aicode/parse"
)

// NewStep starts a new Step for instruction.
func NewStep(instruction string) *Step {
	return &Step{Instruction: instruction, StartTime: time.Now()}
}

// record appends ev to s.Events, the recorded history a Replayer walks, and
// returns ev.
func (s *Step) record(ev Event) Event {
	s.Events = append(s.Events, ev)
	return ev
}

// Summary computes the accounting a Step exposes once it terminates,
// accumulating Usage across every assistant message produced in it.
func (s *Step) Summary() StepSummary {
	sum := StepSummary{Rounds: len(s.Rounds)}
	for _, r := range s.Rounds {
		if u := r.Response.Message.Message.Usage; u != nil {
			sum.InputTokens += u.InputTokens
			sum.OutputTokens += u.OutputTokens
			sum.TotalTokens += u.TotalTokens
			sum.ElapsedMS += u.ElapsedMS
		}
	}
	if !s.EndTime.IsZero() {
		sum.ElapsedMS = s.EndTime.Sub(s.StartTime).Milliseconds()
	}
	return sum
}

// runStep drives step through the bounded multi-round loop: request,
// response, parse, dispatch, feedback, until the round cap is hit, the
// provider fails terminally, or the model's reply needs nothing further
// from the runtime.
func runStep(ctx context.Context, t *Task, step *Step) error {
	defer func() { step.EndTime = time.Now() }()

	userMsg := TextMessage(RoleUser, step.Instruction)

	for len(step.Rounds) < t.MaxRounds {
		if t.Stopped() || ctx.Err() != nil {
			return ctx.Err()
		}

		chatMsg := t.Store.Store(userMsg)
		t.Context.AddMessage(chatMsg)
		step.record(t.Bus.Emit(EventRoundStart, map[string]any{
			"round": len(step.Rounds),
		}))

		step.record(t.Bus.Emit(EventRequestStarted, map[string]any{"llm": t.Provider.Name()}))
		req := ChatRequest{Messages: t.Context.GetMessages(false)}
		resp, err := chatWithStreamProcessor(ctx, t, step, req)
		if err != nil {
			errMsg := TextMessage(RoleError, err.Error())
			errChat := t.Store.Store(errMsg)
			step.record(t.Bus.Emit(EventResponseCompleted, map[string]any{"message": errChat, "error": err.Error()}))
			return fmt.Errorf("provider %s: %w", t.Provider.Name(), err)
		}

		assistantMsg := TextMessage(RoleAssistant, resp.Content)
		assistantMsg.Reason = resp.Reason
		assistantMsg.Usage = &resp.Usage
		assistantChat := t.Store.Store(assistantMsg)
		t.Context.AddMessage(assistantChat)
		step.record(t.Bus.Emit(EventResponseCompleted, map[string]any{"message": assistantChat}))

		parsed := parse.ParseResponse(assistantChat, t.MCPEnabled)
		step.record(t.Bus.Emit(EventParseReplyCompleted, map[string]any{"response": parsed}))

		if err := t.Processors.runPost(ctx, &parsed); err != nil {
			return fmt.Errorf("post-process round %d: %w", len(step.Rounds), err)
		}

		round := Round{Request: chatMsg, Response: parsed}
		step.Rounds = append(step.Rounds, round)

		if parsed.TaskStatus != nil {
			step.record(t.Bus.Emit(EventTaskStatus, map[string]any{"status": parsed.TaskStatus}))
		}
		if len(parsed.CodeBlocks) > 0 {
			if errs := t.Blocks.AddBlocks(parsed.CodeBlocks); countNonNil(errs) > 0 {
				t.Log.Warn("code block registration errors", "count", countNonNil(errs))
			}
		}
		if len(parsed.ToolCalls) > 0 {
			results := t.Dispatcher.Process(ctx, parsed.ToolCalls)
			if err := t.Processors.runPostTool(ctx, results); err != nil {
				return fmt.Errorf("post-tool-process round %d: %w", len(step.Rounds)-1, err)
			}
			step.Rounds[len(step.Rounds)-1].ToolCallResults = results
		}

		step.record(t.Bus.Emit(EventRoundEnd, map[string]any{"round": len(step.Rounds) - 1}))

		if !parsed.ShouldContinue() {
			break
		}
		userMsg = buildReplyMessage(step.Rounds[len(step.Rounds)-1])
	}

	return nil
}

// chatWithStreamProcessor drives one provider request through ChatStream,
// feeding every chunk through a StreamProcessor scoped to this request so
// listeners see line-aligned stream/stream_start/stream_end events exactly
// as they would for a directly-streamed response, then returns the
// provider's final accumulated ChatResponse.
func chatWithStreamProcessor(ctx context.Context, t *Task, step *Step, req ChatRequest) (ChatResponse, error) {
	sp := NewStreamProcessor(func(name EventName, fields map[string]any) Event {
		return step.record(t.Bus.Emit(name, fields))
	}, t.Provider.Name())
	defer sp.Close()

	ch := make(chan StreamEvent, 64)
	type result struct {
		resp ChatResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.Provider.ChatStream(ctx, req, ch)
		done <- result{resp: resp, err: err}
	}()

	for ev := range ch {
		if ev.Type == EventTextDelta {
			sp.ProcessChunk(ev.Content, ev.Reason)
		}
	}
	r := <-done
	return r.resp, r.err
}

// buildReplyMessage constructs the next user-role turn fed back to the
// model: a parse-error prompt takes priority over a tool-call-results
// prompt.
func buildReplyMessage(round Round) Message {
	if len(round.Response.Errors) > 0 {
		return TextMessage(RoleUser, parseErrorPrompt(round.Response.Errors))
	}
	if len(round.ToolCallResults) > 0 {
		return TextMessage(RoleUser, toolResultsPrompt(round.ToolCallResults))
	}
	// Unreachable: runStep only calls this when ShouldContinue() is true,
	// which requires one of the above.
	return TextMessage(RoleUser, "")
}

func countNonNil(errs []error) int {
	n := 0
	for _, e := range errs {
		if e != nil {
			n++
		}
	}
	return n
}

func parseErrorPrompt(errs []ParseError) string {
	b, _ := json.MarshalIndent(errs, "", "  ")
	return "Your previous response could not be parsed. Fix the following errors and resend:\n" + string(b)
}

func toolResultsPrompt(results []ToolCallResult) string {
	b, _ := json.MarshalIndent(results, "", "  ")
	return "Tool call results:\n" + string(b)
}
