package openaicompat

import (
	"context"
	"strings"
	"testing"

	oasis "github.com/nevindra/aicode"
)

// buildSSE constructs a mock SSE stream from data lines.
func buildSSE(lines ...string) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestStreamSSETextChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"!"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		"[DONE]",
	)

	reader := strings.NewReader(sse)
	ch := make(chan oasis.StreamEvent, 10)

	resp, err := StreamSSE(context.Background(), reader, ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}

	var deltas []string
	for ev := range ch {
		if ev.Type == oasis.EventTextDelta {
			deltas = append(deltas, ev.Content)
		}
	}

	if resp.Content != "Hello world!" {
		t.Errorf("expected content 'Hello world!', got %q", resp.Content)
	}
	if len(deltas) != 3 {
		t.Errorf("expected 3 deltas, got %d: %v", len(deltas), deltas)
	}
	if resp.Usage.InputTokens != 5 {
		t.Errorf("expected 5 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 3 {
		t.Errorf("expected 3 output tokens, got %d", resp.Usage.OutputTokens)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("expected 8 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestStreamSSEEmptyStream(t *testing.T) {
	sse := buildSSE("[DONE]")

	reader := strings.NewReader(sse)
	ch := make(chan oasis.StreamEvent, 10)

	resp, err := StreamSSE(context.Background(), reader, ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	for range ch {
	}

	if resp.Content != "" {
		t.Errorf("expected empty content, got %q", resp.Content)
	}
}

func TestStreamSSEUsageOnlyChunk(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-4","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"id":"chatcmpl-4","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-4","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`,
		"[DONE]",
	)

	reader := strings.NewReader(sse)
	ch := make(chan oasis.StreamEvent, 10)

	resp, err := StreamSSE(context.Background(), reader, ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	for range ch {
	}

	if resp.Content != "Hi" {
		t.Errorf("expected content 'Hi', got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 3 {
		t.Errorf("expected 3 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 1 {
		t.Errorf("expected 1 output tokens, got %d", resp.Usage.OutputTokens)
	}
}

func TestStreamSSESkipsMalformedChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-5","choices":[{"index":0,"delta":{"content":"Good"}}]}`,
		`this is not json`,
		`{"id":"chatcmpl-5","choices":[{"index":0,"delta":{"content":" day"}}]}`,
		"[DONE]",
	)

	reader := strings.NewReader(sse)
	ch := make(chan oasis.StreamEvent, 10)

	resp, err := StreamSSE(context.Background(), reader, ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	for range ch {
	}

	if resp.Content != "Good day" {
		t.Errorf("expected content 'Good day', got %q", resp.Content)
	}
}

func TestStreamSSENonDataLinesIgnored(t *testing.T) {
	raw := ": this is a comment\n" +
		"event: message\n" +
		"data: {\"id\":\"chatcmpl-6\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"OK\"}}]}\n\n" +
		"retry: 3000\n" +
		"data: [DONE]\n\n"

	reader := strings.NewReader(raw)
	ch := make(chan oasis.StreamEvent, 10)

	resp, err := StreamSSE(context.Background(), reader, ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	for range ch {
	}

	if resp.Content != "OK" {
		t.Errorf("expected content 'OK', got %q", resp.Content)
	}
}
