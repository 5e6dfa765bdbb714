package aicode

import (
	"context"
	"testing"
)

// mockInputHandler is a test InputHandler that returns canned responses.
type mockInputHandler struct {
	response InputResponse
	err      error
	received []InputRequest // records all requests for assertions
}

func (m *mockInputHandler) RequestInput(_ context.Context, req InputRequest) (InputResponse, error) {
	m.received = append(m.received, req)
	return m.response, m.err
}

func TestInputHandlerFromContextMissing(t *testing.T) {
	ctx := context.Background()
	handler, ok := InputHandlerFromContext(ctx)
	if ok {
		t.Error("expected ok=false for empty context")
	}
	if handler != nil {
		t.Error("expected nil handler for empty context")
	}
}

func TestInputHandlerContextRoundTrip(t *testing.T) {
	h := &mockInputHandler{response: InputResponse{Value: "yes"}}
	ctx := WithInputHandlerContext(context.Background(), h)

	got, ok := InputHandlerFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != h {
		t.Error("expected same handler instance")
	}
}

func TestMockInputHandlerRecordsRequests(t *testing.T) {
	h := &mockInputHandler{response: InputResponse{Value: "42"}}
	_, err := h.RequestInput(context.Background(), InputRequest{Question: "what?", Options: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.received) != 1 || h.received[0].Question != "what?" {
		t.Fatalf("got %+v", h.received)
	}
}
