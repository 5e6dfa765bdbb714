package gemini

import (
	"context"
	"os"
	"testing"
	"time"

	oasis "github.com/nevindra/aicode"
)

const rateLimitDelay = 5 * time.Second

func skipIfNoAPIKey(t *testing.T) string {
	t.Helper()
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("OASIS_LLM_API_KEY")
	}
	if key == "" {
		t.Skip("GEMINI_API_KEY or OASIS_LLM_API_KEY not set, skipping integration test")
	}
	return key
}

func TestIntegration(t *testing.T) {
	key := skipIfNoAPIKey(t)

	t.Run("Chat", func(t *testing.T) {
		g := New(key, "gemini-2.0-flash")

		resp, err := g.Chat(context.Background(), oasis.ChatRequest{
			Messages: []oasis.ChatMessage{chatMsg(oasis.RoleUser, "Reply with exactly: hello")},
		})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Content == "" {
			t.Fatal("expected non-empty response content")
		}
		t.Logf("response: %q", resp.Content)
		t.Logf("usage: input=%d output=%d", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	})

	time.Sleep(rateLimitDelay)

	t.Run("ChatWithOptions", func(t *testing.T) {
		g := New(key, "gemini-2.0-flash",
			WithTemperature(0.5),
			WithTopP(0.8),
		)

		resp, err := g.Chat(context.Background(), oasis.ChatRequest{
			Messages: []oasis.ChatMessage{chatMsg(oasis.RoleUser, "Reply with exactly: configured")},
		})
		if err != nil {
			t.Fatalf("Chat with options failed: %v", err)
		}
		if resp.Content == "" {
			t.Fatal("expected non-empty response content")
		}
		t.Logf("response: %q", resp.Content)
	})

	time.Sleep(rateLimitDelay)

	t.Run("ChatStream", func(t *testing.T) {
		g := New(key, "gemini-2.0-flash")

		ch := make(chan oasis.StreamEvent, 100)
		var chunks []oasis.StreamEvent

		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range ch {
				chunks = append(chunks, ev)
			}
		}()

		resp, err := g.ChatStream(context.Background(), oasis.ChatRequest{
			Messages: []oasis.ChatMessage{chatMsg(oasis.RoleUser, "Count from 1 to 5.")},
		}, ch)
		<-done

		if err != nil {
			t.Fatalf("ChatStream failed: %v", err)
		}
		if resp.Content == "" {
			t.Fatal("expected non-empty streamed content")
		}
		if len(chunks) == 0 {
			t.Fatal("expected at least 1 streamed chunk")
		}
		t.Logf("streamed %d chunks, final content: %q", len(chunks), resp.Content)
	})
}
