package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	oasis "github.com/nevindra/aicode"
)

func testGemini() *Gemini {
	return New("test-key", "test-model")
}

func chatMsg(role oasis.Role, text string) oasis.ChatMessage {
	return oasis.ChatMessage{ID: "m", Message: oasis.TextMessage(role, text)}
}

func TestBuildBodySystemMessages(t *testing.T) {
	g := testGemini()
	req := oasis.ChatRequest{Messages: []oasis.ChatMessage{
		chatMsg(oasis.RoleSystem, "You are a helpful assistant."),
		chatMsg(oasis.RoleSystem, "Be concise."),
		chatMsg(oasis.RoleUser, "Hello"),
	}}

	body := g.buildBody(req)

	si, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("expected systemInstruction in body")
	}
	parts := si["parts"].([]map[string]any)
	if len(parts) != 1 || parts[0]["text"] != "You are a helpful assistant.\n\nBe concise." {
		t.Errorf("unexpected systemInstruction: %+v", parts)
	}

	contents := body["contents"].([]map[string]any)
	if len(contents) != 1 {
		t.Fatalf("expected 1 content entry, got %d", len(contents))
	}
	if contents[0]["role"] != "user" {
		t.Errorf("expected role 'user', got %v", contents[0]["role"])
	}
}

func TestBuildBodyAssistantMapsToModel(t *testing.T) {
	g := testGemini()
	req := oasis.ChatRequest{Messages: []oasis.ChatMessage{
		chatMsg(oasis.RoleAssistant, "Hi there"),
	}}

	body := g.buildBody(req)
	contents := body["contents"].([]map[string]any)
	if contents[0]["role"] != "model" {
		t.Errorf("expected role 'model', got %v", contents[0]["role"])
	}
}

func TestBuildBodyThinkingConfig(t *testing.T) {
	g := New("key", "model", WithThinking(true))
	body := g.buildBody(oasis.ChatRequest{Messages: []oasis.ChatMessage{chatMsg(oasis.RoleUser, "hi")}})
	gen := body["generationConfig"].(map[string]any)
	tc := gen["thinkingConfig"].(map[string]any)
	if tc["thinkingBudget"] != -1 {
		t.Errorf("expected thinkingBudget -1, got %v", tc["thinkingBudget"])
	}
}

func TestExtractTextFromParsed(t *testing.T) {
	raw := `{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}]}`
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatal(err)
	}
	if got := extractTextFromParsed(parsed); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractTextFromParsedSkipsThought(t *testing.T) {
	raw := `{"candidates":[{"content":{"parts":[{"text":"thinking","thought":true},{"text":"answer"}]}}]}`
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatal(err)
	}
	if got := extractTextFromParsed(parsed); got != "answer" {
		t.Errorf("got %q", got)
	}
}

func TestExtractUsageFromParsed(t *testing.T) {
	raw := `{"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}`
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatal(err)
	}
	var usage oasis.Usage
	extractUsageFromParsed(parsed, &usage)
	if usage.InputTokens != 10 || usage.OutputTokens != 5 || usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}

func TestIsCompleteJSON(t *testing.T) {
	cases := map[string]bool{
		`{"a":1}`:        true,
		`{"a":[1,2,3]}`:  true,
		`{"a":"x}"}`:     true,
		`{"a":`:          false,
		`{"a": "{not"}}`: false,
	}
	for in, want := range cases {
		if got := isCompleteJSON(in); got != want {
			t.Errorf("isCompleteJSON(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestChatSendsRequestAndParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hello!"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}`))
	}))
	defer srv.Close()
	baseURL = srv.URL
	defer func() { baseURL = "https://generativelanguage.googleapis.com/v1beta" }()

	g := New("key", "model")
	resp, err := g.Chat(context.Background(), oasis.ChatRequest{Messages: []oasis.ChatMessage{chatMsg(oasis.RoleUser, "hi")}})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected 'Hello!', got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("expected 5 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"2s"}]}}`))
	}))
	defer srv.Close()
	baseURL = srv.URL
	defer func() { baseURL = "https://generativelanguage.googleapis.com/v1beta" }()

	g := New("key", "model")
	_, err := g.Chat(context.Background(), oasis.ChatRequest{Messages: []oasis.ChatMessage{chatMsg(oasis.RoleUser, "hi")}})
	if err == nil {
		t.Fatal("expected an error")
	}
	httpErr, ok := err.(*oasis.ErrHTTP)
	if !ok {
		t.Fatalf("expected *oasis.ErrHTTP, got %T", err)
	}
	if httpErr.RetryAfter.Seconds() != 2 {
		t.Errorf("expected 2s retry delay, got %v", httpErr.RetryAfter)
	}
}
