package openaicompat

import (
	"testing"
)

func TestParseResponseTextResponse(t *testing.T) {
	resp := ChatResponse{
		ID: "chatcmpl-123",
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChoiceMessage{
					Role:    "assistant",
					Content: "Hello! How can I help you?",
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     10,
			CompletionTokens: 8,
			TotalTokens:      18,
		},
	}

	result, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}

	if result.Content != "Hello! How can I help you?" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.Usage.InputTokens != 10 {
		t.Errorf("expected 10 input tokens, got %d", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 8 {
		t.Errorf("expected 8 output tokens, got %d", result.Usage.OutputTokens)
	}
	if result.Usage.TotalTokens != 18 {
		t.Errorf("expected 18 total tokens, got %d", result.Usage.TotalTokens)
	}
}

func TestParseResponseWithToolCallMarkup(t *testing.T) {
	// Tool-call directives travel inside Content as Markdown, not as a
	// native tool_calls field, so a reply describing one is just text.
	resp := ChatResponse{
		ID: "chatcmpl-456",
		Choices: []Choice{
			{
				Message: &ChoiceMessage{
					Role:    "assistant",
					Content: `<!-- ToolCall: {"name":"Exec","arguments":{"name":"f"}} -->`,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{PromptTokens: 15, CompletionTokens: 20, TotalTokens: 35},
	}

	result, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if result.Content == "" {
		t.Error("expected non-empty content carrying the tool-call directive")
	}
}

func TestParseResponseEmptyChoices(t *testing.T) {
	resp := ChatResponse{ID: "chatcmpl-789", Choices: []Choice{}}

	result, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if result.Content != "" {
		t.Errorf("expected empty content, got %q", result.Content)
	}
}

func TestParseResponseNoUsage(t *testing.T) {
	resp := ChatResponse{
		ID:      "chatcmpl-nousage",
		Choices: []Choice{{Message: &ChoiceMessage{Content: "Hello"}}},
	}

	result, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if result.Usage.InputTokens != 0 || result.Usage.OutputTokens != 0 {
		t.Errorf("expected zero usage, got %+v", result.Usage)
	}
}
