package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	oasis "github.com/nevindra/aicode"
)

// StreamSSE reads an SSE stream from body, sends text-delta events to ch, and
// returns the fully accumulated response (content + usage).
//
// The channel is closed when streaming completes. Callers should read from ch
// in a separate goroutine. The context is used to cancel channel sends if the
// consumer is no longer interested.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var fullReason strings.Builder
	var usage oasis.Usage

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if len(chunk.Choices) == 0 {
			// Usage-only chunk (some providers send this).
			if chunk.Usage != nil {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
			}
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.ReasoningContent != "" {
			fullReason.WriteString(delta.ReasoningContent)
			select {
			case ch <- oasis.StreamEvent{Type: oasis.EventTextDelta, Content: delta.ReasoningContent, Reason: true}:
			case <-ctx.Done():
				return oasis.ChatResponse{}, ctx.Err()
			}
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- oasis.StreamEvent{Type: oasis.EventTextDelta, Content: delta.Content}:
			case <-ctx.Done():
				return oasis.ChatResponse{}, ctx.Err()
			}
		}

		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}

	if err := scanner.Err(); err != nil {
		return oasis.ChatResponse{}, err
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return oasis.ChatResponse{
		Content: fullContent.String(),
		Reason:  fullReason.String(),
		Usage:   usage,
	}, nil
}
