// Package aicode is an agentic code-execution runtime: an LLM drives a
// bounded multi-round loop, writing Markdown responses that embed versioned
// code blocks and tool-call directives, which the runtime parses, executes
// in a sandboxed Runner, and feeds back as results for the next round.
//
// # Core pieces
//
// The root package defines the data model and the components that operate
// on it:
//
//   - [Message] / [ChatMessage] / [MessageStore] — content-addressed chat history
//   - [ContextManager] — token-bounded conversation window with pluggable compression
//   - [CodeBlocks] — the versioned registry of code artifacts an LLM has written
//   - [Dispatcher] — executes Exec/Edit/MCP tool calls against that registry
//   - [EventBus] — synchronous typed-event fan-out, replay's source of truth
//   - [Provider] — the LLM backend abstraction (chat, streaming, retry, rate limiting)
//
// Package parse turns a raw assistant reply into a [ParsedResponse]. Package
// mcpclient manages per-server MCP sessions. Packages persist/sqlite and
// persist/postgres durably store Task state. Package code implements
// [CodeRunner] over a local subprocess or a remote sandbox service.
package aicode
