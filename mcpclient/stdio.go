package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/nevindra/aicode/mcp"
)

// stdioSession runs a server as a subprocess and speaks newline-delimited
// JSON-RPC over its stdin/stdout, matching mcp.Server's own transport.
type stdioSession struct {
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Scanner

	mu     sync.Mutex
	nextID int32
}

func dialStdio(ctx context.Context, cfg ServerConfig) (*stdioSession, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpclient: stdio server %q has no command", cfg.Name)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = cfg.Env

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	s := &stdioSession{
		cmd:    cmd,
		stdin:  bufio.NewWriter(stdinPipe),
		stdout: scanner,
	}

	if _, err := s.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "aicode-mcpclient", Version: "1"},
	}); err != nil {
		s.close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := s.notify("notifications/initialized", nil); err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

func (s *stdioSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := int(atomic.AddInt32(&s.nextID, 1))
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return nil, err
	}
	if err := s.stdin.Flush(); err != nil {
		return nil, err
	}

	for s.stdout.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(s.stdout.Bytes(), &resp); err != nil {
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
	if err := s.stdout.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("mcpclient: server closed stdout before responding")
}

func (s *stdioSession) notify(method string, params any) error {
	req, err := newRequest(0, method, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{JSONRPC: req.JSONRPC, Method: req.Method, Params: req.Params})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.stdin.Write(append(raw, '\n')); err != nil {
		return err
	}
	return s.stdin.Flush()
}

func (s *stdioSession) listTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
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

func (s *stdioSession) callTool(ctx context.Context, name string, arguments json.RawMessage) (mcp.ToolCallResult, error) {
	raw, err := s.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return mcp.ToolCallResult{}, err
	}
	return decodeToolCallResult(raw)
}

func (s *stdioSession) close() error {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

func decodeToolCallResult(raw json.RawMessage) (mcp.ToolCallResult, error) {
	var res toolCallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.ToolCallResult{}, err
	}
	if len(res.Content) == 0 {
		if res.IsError {
			return mcp.ErrorResult(""), nil
		}
		return mcp.TextResult(""), nil
	}
	text := res.Content[0].Text
	if res.IsError {
		return mcp.ErrorResult(text), nil
	}
	return mcp.TextResult(text), nil
}
