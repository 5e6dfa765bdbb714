package aicode

import (
	"context"
	"encoding/json"
	"fmt"
)

// MCPCaller is the subset of the MCP client a dispatcher needs: calling a
// tool by its (possibly server-qualified) name. Defined here rather than
// imported from mcpclient to keep this package free of that dependency;
// mcpclient.Client satisfies it.
type MCPCaller interface {
	CallTool(ctx context.Context, tool string, args json.RawMessage) (any, error)
}

// Dispatcher executes an ordered list of ToolCalls against one Task's
// CodeBlocks registry, CodeRunner, and MCP client, applying the
// edit-failure-blacklist rule within a single batch: once a block fails an
// edit, later Exec calls in the same batch targeting that block are
// skipped rather than run against a block known to be in a bad state.
type Dispatcher struct {
	blocks *CodeBlocks
	runner CodeRunner
	mcp    MCPCaller
	bus    *EventBus
	tools  *ToolRegistry
	env    *RuntimeEnv
}

// NewDispatcher builds a Dispatcher over the given registry, runner, and
// MCP client. mcp and bus may be nil (MCP calls then fail closed; events
// are simply not emitted).
func NewDispatcher(blocks *CodeBlocks, runner CodeRunner, mcp MCPCaller, bus *EventBus) *Dispatcher {
	return &Dispatcher{blocks: blocks, runner: runner, mcp: mcp, bus: bus}
}

// WithTools wires a ToolRegistry so sandboxed code can call ordinary agent
// tools via runtime.call_function; without one, every such call fails closed.
func (d *Dispatcher) WithTools(tools *ToolRegistry) *Dispatcher {
	d.tools = tools
	return d
}

// WithEnv wires the Task-scoped environment store backing
// runtime.get_env/set_env; without one, get_env returns the caller's
// default and set_env fails closed.
func (d *Dispatcher) WithEnv(env *RuntimeEnv) *Dispatcher {
	d.env = env
	return d
}

// Process runs every call in order, returning one ToolCallResult per call.
func (d *Dispatcher) Process(ctx context.Context, calls []ToolCall) []ToolCallResult {
	failedBlocks := make(map[string]bool)
	results := make([]ToolCallResult, 0, len(calls))

	for _, call := range calls {
		if call.Name == ToolExec {
			var args ExecArgs
			if err := json.Unmarshal(call.Arguments, &args); err == nil && failedBlocks[args.Name] {
				results = append(results, ToolCallResult{
					ToolName: ToolExec,
					Result: ExecToolResult{
						BlockName: args.Name,
						Error:     "Execution skipped: previous edit of the block failed",
					},
				})
				continue
			}
		}

		d.emit(EventToolCallStarted, map[string]any{"tool_call": call})
		result := d.dispatchOne(ctx, call, failedBlocks)
		d.emit(EventToolCallCompleted, map[string]any{"result": result})
		results = append(results, result)
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call ToolCall, failedBlocks map[string]bool) ToolCallResult {
	switch call.Name {
	case ToolExec:
		return ToolCallResult{ToolName: ToolExec, Result: d.execCall(ctx, call)}
	case ToolEdit:
		return ToolCallResult{ToolName: ToolEdit, Result: d.editCall(call, failedBlocks)}
	case ToolMCP:
		return ToolCallResult{ToolName: ToolMCP, Result: d.mcpCall(ctx, call)}
	default:
		return ToolCallResult{ToolName: call.Name, Result: fmt.Sprintf("unknown tool: %s", call.Name)}
	}
}

func (d *Dispatcher) execCall(ctx context.Context, call ToolCall) ExecToolResult {
	var args ExecArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ExecToolResult{Error: "invalid Exec arguments: " + err.Error()}
	}
	block, ok := d.blocks.Get(args.Name)
	if !ok {
		return ExecToolResult{BlockName: args.Name, Error: "Code block not found"}
	}

	d.emit(EventExecStarted, map[string]any{"block_name": args.Name})
	req := CodeRequest{Code: block.Code, Runtime: block.Lang}
	res, err := d.runner.Run(ctx, req, d.dispatchFromCode)
	d.emit(EventExecCompleted, map[string]any{"block_name": args.Name})
	if err != nil {
		return ExecToolResult{BlockName: args.Name, Error: err.Error()}
	}
	if res.Error != "" {
		return ExecToolResult{BlockName: args.Name, Error: res.Error}
	}
	return ExecToolResult{BlockName: args.Name, Result: res.Output}
}

// Reserved runtime.call_function names the sandbox facade (code/prelude.py,
// cmd/sandbox/prelude.{py,js}) uses for the non-tool parts of the runtime
// object (spec §4.6) — get_env, set_env, get_block_by_name, show_image,
// input — so they ride the same call_tool/call_function wire path as
// ordinary tool calls instead of needing a parallel RPC surface.
const (
	runtimeOpGetEnv         = "__runtime_get_env__"
	runtimeOpSetEnv         = "__runtime_set_env__"
	runtimeOpGetBlockByName = "__runtime_get_block_by_name__"
	runtimeOpShowImage      = "__runtime_show_image__"
	runtimeOpInput          = "__runtime_input__"
)

// dispatchFromCode lets code executed by the Runner call back into ordinary
// agent tools via runtime.call_function, or into the runtime facade's own
// env/block/display methods via the reserved runtimeOp* names.
func (d *Dispatcher) dispatchFromCode(ctx context.Context, tc ToolCall) DispatchResult {
	switch string(tc.Name) {
	case runtimeOpGetEnv:
		return d.runtimeGetEnv(tc.Arguments)
	case runtimeOpSetEnv:
		return d.runtimeSetEnv(tc.Arguments)
	case runtimeOpGetBlockByName:
		return d.runtimeGetBlockByName(tc.Arguments)
	case runtimeOpShowImage:
		return d.runtimeShowImage(tc.Arguments)
	case runtimeOpInput:
		return d.runtimeInput(tc.Arguments)
	}

	if d.tools == nil {
		return DispatchResult{Content: "error: no tool registry configured for runtime call_function", IsError: true}
	}
	res, err := d.tools.Execute(ctx, string(tc.Name), tc.Arguments)
	if err != nil {
		return DispatchResult{Content: err.Error(), IsError: true}
	}
	if res.Error != "" {
		return DispatchResult{Content: res.Error, IsError: true}
	}
	return DispatchResult{Content: res.Content}
}

type runtimeGetEnvArgs struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
	Desc    string `json:"desc,omitempty"`
}

// runtimeGetEnv backs runtime.get_env(name, default=None, desc=None),
// grounded on original_source runtime.py's get_env: looks up the
// Task-scoped env store and emits a runtime_message around the lookup,
// the way the original does around its own prompt-on-miss flow (this
// headless runtime has no interactive prompt, so a miss just falls back
// to default).
func (d *Dispatcher) runtimeGetEnv(raw json.RawMessage) DispatchResult {
	var args runtimeGetEnvArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return DispatchResult{Content: "invalid get_env arguments: " + err.Error(), IsError: true}
	}
	if d.env == nil {
		return DispatchResult{Content: args.Default}
	}
	entry, ok := d.env.Get(args.Name)
	if !ok {
		d.emit(EventRuntimeMessage, map[string]any{
			"message": fmt.Sprintf("environment variable %s not found", args.Name),
			"status":  "warning",
		})
		return DispatchResult{Content: args.Default}
	}
	d.emit(EventRuntimeMessage, map[string]any{
		"message": fmt.Sprintf("environment variable %s exists, returned for code use", args.Name),
	})
	if entry.Value == "" {
		return DispatchResult{Content: args.Default}
	}
	return DispatchResult{Content: entry.Value}
}

type runtimeSetEnvArgs struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Desc  string `json:"desc,omitempty"`
}

// runtimeSetEnv backs runtime.set_env(name, value, desc).
func (d *Dispatcher) runtimeSetEnv(raw json.RawMessage) DispatchResult {
	var args runtimeSetEnvArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return DispatchResult{Content: "invalid set_env arguments: " + err.Error(), IsError: true}
	}
	if d.env == nil {
		return DispatchResult{Content: "error: no environment store configured for this task", IsError: true}
	}
	d.env.Set(args.Name, args.Value, args.Desc)
	return DispatchResult{}
}

type runtimeBlockNameArgs struct {
	Name string `json:"name"`
}

// runtimeGetBlockByName backs runtime.get_block_by_name(name), trivially
// backed by the existing CodeBlocks.Get lookup.
func (d *Dispatcher) runtimeGetBlockByName(raw json.RawMessage) DispatchResult {
	var args runtimeBlockNameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return DispatchResult{Content: "invalid get_block_by_name arguments: " + err.Error(), IsError: true}
	}
	block, ok := d.blocks.Get(args.Name)
	if !ok {
		return DispatchResult{Content: "null"}
	}
	data, err := json.Marshal(block)
	if err != nil {
		return DispatchResult{Content: err.Error(), IsError: true}
	}
	return DispatchResult{Content: string(data)}
}

type runtimeShowImageArgs struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// runtimeShowImage backs runtime.show_image(path, url): this headless
// runtime has no display surface, so it only emits show_image for
// listeners to act on.
func (d *Dispatcher) runtimeShowImage(raw json.RawMessage) DispatchResult {
	var args runtimeShowImageArgs
	json.Unmarshal(raw, &args)
	d.emit(EventShowImage, map[string]any{"path": args.Path, "url": args.URL})
	return DispatchResult{}
}

type runtimeInputArgs struct {
	Prompt string `json:"prompt"`
}

// runtimeInput backs runtime.input(prompt). There is no interactive display
// collaborator in this runtime, so it always emits runtime_input and
// returns empty rather than blocking for terminal input.
func (d *Dispatcher) runtimeInput(raw json.RawMessage) DispatchResult {
	var args runtimeInputArgs
	json.Unmarshal(raw, &args)
	d.emit(EventRuntimeInput, map[string]any{"prompt": args.Prompt})
	return DispatchResult{}
}

func (d *Dispatcher) editCall(call ToolCall, failedBlocks map[string]bool) EditToolResult {
	var args EditArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return EditToolResult{Error: "invalid Edit arguments: " + err.Error()}
	}

	d.emit(EventEditStart, map[string]any{"block_name": args.Name})
	next, err := d.blocks.EditBlock(args.Name, args.Old, args.New, args.ReplaceAll)
	d.emit(EventEditCompleted, map[string]any{"block_name": args.Name})
	if err != nil {
		failedBlocks[args.Name] = true
		return EditToolResult{BlockName: args.Name, Success: false, Error: err.Error()}
	}
	return EditToolResult{BlockName: args.Name, Success: true, NewVersion: next.Version}
}

func (d *Dispatcher) mcpCall(ctx context.Context, call ToolCall) MCPToolResult {
	var args MCPArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return MCPToolResult{Result: map[string]string{"error": "invalid MCP arguments: " + err.Error()}}
	}
	if d.mcp == nil {
		return MCPToolResult{Result: map[string]string{"error": "no MCP client configured"}}
	}
	tool := args.Tool
	if args.Server != "" {
		tool = args.Server + ":" + args.Tool
	}
	res, err := d.mcp.CallTool(ctx, tool, args.Arguments)
	if err != nil {
		return MCPToolResult{Result: map[string]string{"error": err.Error()}}
	}
	return MCPToolResult{Result: res}
}

func (d *Dispatcher) emit(name EventName, fields map[string]any) {
	if d.bus == nil {
		return
	}
	d.bus.Emit(name, fields)
}
