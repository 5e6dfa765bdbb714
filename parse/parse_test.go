package parse

import (
	"testing"

	"github.com/nevindra/aicode"
)

func chatMsg(text string) aicode.ChatMessage {
	store := aicode.NewMessageStore()
	return store.Store(aicode.TextMessage(aicode.RoleAssistant, text))
}

func TestParseResponseSingleBlockAndExec(t *testing.T) {
	// S1: one-shot code exec.
	content := "I'll run this.\n" +
		"<!-- Block-Start: {\"name\":\"m\",\"version\":1} -->\n" +
		"```python\n" +
		"print(2+2)\n" +
		"```\n" +
		"<!-- Block-End: {\"name\":\"m\"} -->\n" +
		"<!-- ToolCall: {\"name\":\"Exec\",\"arguments\":{\"name\":\"m\"}} -->\n"

	resp := ParseResponse(chatMsg(content), false)
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	if len(resp.CodeBlocks) != 1 {
		t.Fatalf("expected 1 code block, got %d", len(resp.CodeBlocks))
	}
	b := resp.CodeBlocks[0]
	if b.Name != "m" || b.Lang != "python" || b.Code != "print(2+2)" {
		t.Errorf("got %+v", b)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != aicode.ToolExec {
		t.Fatalf("expected 1 Exec tool call, got %+v", resp.ToolCalls)
	}
}

func TestParseResponseInvalidBlockStartJSON(t *testing.T) {
	// S4: parse error retry.
	content := "<!-- Block-Start: {bad json} -->\n```python\nprint(1)\n```\n<!-- Block-End: {\"name\":\"m\"} -->\n"
	resp := ParseResponse(chatMsg(content), false)
	if len(resp.Errors) == 0 {
		t.Fatal("expected a parse error for malformed Block-Start JSON")
	}
	if resp.Errors[0].Type != aicode.ErrJSONDecode {
		t.Errorf("expected json_decode_error, got %s", resp.Errors[0].Type)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("no tool calls expected when the block itself failed to parse")
	}
}

func TestParseResponseNameMismatch(t *testing.T) {
	content := "<!-- Block-Start: {\"name\":\"a\"} -->\n```python\nx=1\n```\n<!-- Block-End: {\"name\":\"b\"} -->\n"
	resp := ParseResponse(chatMsg(content), false)
	if len(resp.CodeBlocks) != 0 {
		t.Fatalf("mismatched name/name must not produce a block, got %+v", resp.CodeBlocks)
	}
	if len(resp.Errors) == 0 {
		t.Fatal("expected a name-mismatch parse error")
	}
}

func TestParseResponseFrontMatterCompleted(t *testing.T) {
	content := "---\ntask_status:\n  completed: true\n  confidence: 0.9\n---\nAll done.\n"
	resp := ParseResponse(chatMsg(content), false)
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	if resp.TaskStatus == nil || !resp.TaskStatus.Completed {
		t.Fatalf("expected completed task_status, got %+v", resp.TaskStatus)
	}
	if resp.ContentPos == 0 {
		t.Error("expected ContentPos to advance past front matter")
	}
}

func TestParseResponseMultipleBlocksAndToolCalls(t *testing.T) {
	// P7: every well-formed Block and ToolCall produces exactly one result.
	content := "" +
		"<!-- Block-Start: {\"name\":\"a\",\"version\":1} -->\n```python\nx=1\n```\n<!-- Block-End: {\"name\":\"a\"} -->\n" +
		"<!-- Block-Start: {\"name\":\"b\",\"version\":1} -->\n```python\ny=2\n```\n<!-- Block-End: {\"name\":\"b\"} -->\n" +
		"<!-- ToolCall: {\"name\":\"Exec\",\"arguments\":{\"name\":\"a\"}} -->\n" +
		"<!-- ToolCall: {\"name\":\"Exec\",\"arguments\":{\"name\":\"b\"}} -->\n"

	resp := ParseResponse(chatMsg(content), false)
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	if len(resp.CodeBlocks) != 2 {
		t.Fatalf("expected 2 code blocks, got %d", len(resp.CodeBlocks))
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
}
