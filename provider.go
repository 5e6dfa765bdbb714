package aicode

import (
	"context"
	"encoding/json"
)

// ChatRequest is one turn sent to an LLM provider: the running conversation
// plus whatever tool vocabulary the model should be told about. Step builds
// this from a ContextManager snapshot; the reply comes back as Markdown
// containing the code-block and tool-call grammar, not native function calls.
type ChatRequest struct {
	System   string
	Messages []ChatMessage
	Tools    []ToolDefinition
}

// ChatResponse is a complete (non-streamed) reply from a provider. Content
// is the raw Markdown text handed to parse.ParseResponse; Usage feeds the
// Step's token accounting and the rate limiter's TPM budget.
type ChatResponse struct {
	Content string
	// Reason carries chain-of-thought/reasoning content the provider
	// streamed or returned separately from the main reply, if any.
	Reason string
	Usage  Usage
}

// ToolDefinition describes one callable surfaced to the model, either a
// built-in (Exec/Edit) or an MCP-discovered tool. Parameters is a raw JSON
// schema object, passed through untouched to whichever provider wire format
// needs it.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Provider abstracts one LLM backend. Chat and ChatStream both carry the
// full request shape (including Tools) since the dividing line between
// "plain" and "tool-aware" calls is a provider-side prompt-construction
// detail, not a different operation.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams StreamEvents into ch as they arrive, then returns
	// the final response with usage stats. ch is always closed before return.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "gemini", "openai-compat").
	Name() string
}
