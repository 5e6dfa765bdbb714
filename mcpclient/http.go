package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nevindra/aicode/mcp"
)

// httpSession speaks MCP over SSE or streamable-HTTP: each JSON-RPC call is
// a POST whose response is either a bare JSON body or an SSE stream
// carrying the response as a single `data:` event, scanned the same way
// provider/openaicompat's StreamSSE scans completion chunks.
type httpSession struct {
	url     string
	headers map[string]string
	client  *http.Client
	nextID  int32
}

func dialHTTP(ctx context.Context, cfg ServerConfig) (*httpSession, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcpclient: http server %q has no url", cfg.Name)
	}
	s := &httpSession{url: cfg.URL, headers: cfg.Headers, client: http.DefaultClient}

	if _, err := s.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "aicode-mcpclient", Version: "1"},
	}); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return s, nil
}

func (s *httpSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := int(atomic.AddInt32(&s.nextID, 1))
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("mcpclient: http %d: %s", resp.StatusCode, string(data))
	}

	contentType := resp.Header.Get("Content-Type")
	var rpcResp rpcResponse
	if strings.Contains(contentType, "text/event-stream") {
		rpcResp, err = readSSEResponse(resp.Body)
	} else {
		err = json.NewDecoder(resp.Body).Decode(&rpcResp)
	}
	if err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// readSSEResponse scans an SSE stream for the first `data:` event carrying
// a JSON-RPC response.
func readSSEResponse(body io.Reader) (rpcResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var resp rpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		return resp, nil
	}
	if err := scanner.Err(); err != nil {
		return rpcResponse{}, err
	}
	return rpcResponse{}, fmt.Errorf("mcpclient: no response event in SSE stream")
}

func (s *httpSession) listTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	raw, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	out := make([]mcp.ToolDefinition, len(result.Tools))
	for i, td := range result.Tools {
		out[i] = mcp.ToolDefinition{Name: td.Name, Description: td.Description, InputSchema: td.InputSchema}
	}
	return out, nil
}

func (s *httpSession) callTool(ctx context.Context, name string, arguments json.RawMessage) (mcp.ToolCallResult, error) {
	raw, err := s.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return mcp.ToolCallResult{}, err
	}
	return decodeToolCallResult(raw)
}

func (s *httpSession) close() error { return nil }
