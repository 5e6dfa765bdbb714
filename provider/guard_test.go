package provider

import (
	"context"
	"testing"

	oasis "github.com/nevindra/aicode"
)

type stubProvider struct{ calls int }

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error) {
	s.calls++
	return oasis.ChatResponse{Content: "ok"}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error) {
	s.calls++
	close(ch)
	return oasis.ChatResponse{Content: "ok"}, nil
}

func TestCapabilityGuardAllowsSupportedContent(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	stub := &stubProvider{}
	guard := NewCapabilityGuard(stub, reg, "deepseek-chat")

	_, err = guard.Chat(context.Background(), oasis.ChatRequest{Messages: []oasis.ChatMessage{{Message: textMsg()}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("inner provider called %d times, want 1", stub.calls)
	}
}

func TestCapabilityGuardRejectsUnsupportedContent(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	stub := &stubProvider{}
	guard := NewCapabilityGuard(stub, reg, "deepseek-chat")

	_, err = guard.Chat(context.Background(), oasis.ChatRequest{Messages: []oasis.ChatMessage{{Message: imageMsg()}}})
	if err == nil {
		t.Fatal("expected error for image content against a text-only model")
	}
	if stub.calls != 0 {
		t.Errorf("inner provider should not be called when capability check fails, got %d calls", stub.calls)
	}
}

func TestCapabilityGuardNilRegistryPassesThrough(t *testing.T) {
	stub := &stubProvider{}
	guard := NewCapabilityGuard(stub, nil, "anything")

	_, err := guard.Chat(context.Background(), oasis.ChatRequest{Messages: []oasis.ChatMessage{{Message: imageMsg()}}})
	if err != nil {
		t.Fatalf("unexpected error with nil registry: %v", err)
	}
	if stub.calls != 1 {
		t.Error("nil registry should skip the capability check entirely")
	}
}
