// Package http is a generic HTTP request tool: arbitrary method, headers,
// and body against any URL, returning status and response body as text.
// For fetching and reading web content as plain text, use tools/fileread
// instead — that tool owns readability/PDF extraction; this one is the raw
// request primitive a Task reaches for to call an API.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oasis "github.com/nevindra/aicode"
)

// maxResponseBody caps how much of a response body this tool reads, to keep
// a misbehaving endpoint from blowing the context budget.
const maxResponseBody = 1 << 20 // 1MB

// maxResultContent caps what's handed back to the model; a truncation
// marker is appended when the body is cut.
const maxResultContent = 8000

// Tool issues arbitrary HTTP requests.
type Tool struct {
	client *http.Client
}

var _ oasis.Tool = (*Tool)(nil)

// New creates an HTTP request Tool with a 15-second timeout.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *Tool) Definitions() []oasis.ToolDefinition {
	return []oasis.ToolDefinition{{
		Name:        "http_request",
		Description: "Issue an HTTP request to a URL with a given method, optional headers, and optional body. Returns the status code and response body as text. Use read_url instead for fetching and reading web pages or documents.",
		Parameters: json.RawMessage(`{
			"type":"object",
			"properties":{
				"method":{"type":"string","description":"HTTP method, defaults to GET"},
				"url":{"type":"string","description":"request URL"},
				"headers":{"type":"object","additionalProperties":{"type":"string"}},
				"body":{"type":"string","description":"request body, sent as-is"}
			},
			"required":["url"]
		}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (oasis.ToolResult, error) {
	var params struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return oasis.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.URL == "" {
		return oasis.ToolResult{Error: "url is required"}, nil
	}
	method := params.Method
	if method == "" {
		method = http.MethodGet
	}

	status, body, err := t.Do(ctx, method, params.URL, params.Headers, params.Body)
	if err != nil {
		return oasis.ToolResult{Error: err.Error()}, nil
	}

	content := fmt.Sprintf("HTTP %d\n%s", status, body)
	if len(content) > maxResultContent {
		content = content[:maxResultContent] + "\n... (truncated)"
	}
	return oasis.ToolResult{Content: content}, nil
}

// Do issues method against rawURL with headers and body, returning the
// status code and response body truncated to maxResponseBody.
func (t *Tool) Do(ctx context.Context, method, rawURL string, headers map[string]string, body string) (int, string, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; aicode/1.0)")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, "", fmt.Errorf("read error: %w", err)
	}

	return resp.StatusCode, string(respBody), nil
}
