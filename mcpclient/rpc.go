package mcpclient

import (
	"encoding/json"
	"fmt"
)

// rpcRequest and rpcResponse mirror the JSON-RPC 2.0 envelope used by the
// MCP wire protocol. mcp.ToolDefinition and mcp.ToolCallResult are reused
// from the mcp package for the payload shapes; the envelope itself is
// re-declared here since mcp's is server-private.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("mcpclient: rpc error %d: %s", e.Code, e.Message)
}

func newRequest(id int, method string, params any) (rpcRequest, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return rpcRequest{}, err
		}
		raw = b
	}
	return rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

const protocolVersion = "2025-03-26"

type toolsListResult struct {
	Tools []toolDef `json:"tools"`
}

// toolDef mirrors mcp.ToolDefinition for decoding; mcp's field is
// unexported-compatible so we decode into our own shape then convert.
type toolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolCallResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
