package aicode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TaskState tracks a Task's execution lifecycle.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is the unit of agentic work: one instruction driven through a bounded
// sequence of Steps, each a multi-round LLM/tool-execution loop sharing one
// MessageStore, ContextManager, CodeBlocks registry, and EventBus.
//
// Task owns every component exclusively: no concurrent writers touch its
// MessageStore or CodeBlocks, matching the single-logical-thread-per-Task
// scheduling model. Multiple Tasks run concurrently only under a TaskManager.
type Task struct {
	ID          string
	Instruction string
	MaxRounds   int
	MCPEnabled  bool

	StartTime time.Time
	DoneTime  time.Time

	Provider   Provider
	Store      *MessageStore
	Context    *ContextManager
	Blocks     *CodeBlocks
	Dispatcher *Dispatcher
	Bus        *EventBus
	Log        *slog.Logger

	// Envs backs the runtime.get_env/set_env facade exposed to executed
	// code (component F), distinct from the host process's OS environment.
	Envs *RuntimeEnv

	// Processors runs post-parse and post-dispatch hooks (e.g. a guardrail
	// redacting output) around every round. Nil skips the chain entirely.
	Processors *ProcessorChain

	Steps []*Step

	mcpClient MCPCaller

	state   atomic.Int32
	stopped atomic.Bool
	mu      sync.Mutex
}

// DefaultMaxRounds bounds a single Step's request/response/dispatch cycles,
// matching the "while len(step.rounds) < task.max_rounds" loop guard.
const DefaultMaxRounds = 10

// NewTask wires a fresh Task around the given Provider and registers its
// components with bus so replay/observers see every sub-component's events.
func NewTask(id, instruction string, provider Provider, bus *EventBus, log *slog.Logger) *Task {
	if log == nil {
		log = nopLogger
	}
	if bus == nil {
		bus = NewEventBus(log)
	}
	store := NewMessageStore()
	t := &Task{
		ID:          id,
		Instruction: instruction,
		MaxRounds:   DefaultMaxRounds,
		Provider:    provider,
		Store:       store,
		Context:     NewContextManager(DefaultContextConfig(), store, log),
		Blocks:      NewCodeBlocks(),
		Bus:         bus,
		Log:         log,
		Envs:        NewRuntimeEnv(),
	}
	t.Dispatcher = NewDispatcher(t.Blocks, noopRunner{}, nil, bus).WithEnv(t.Envs)
	t.state.Store(int32(TaskPending))
	return t
}

// WithRunner replaces the Task's CodeRunner (the noopRunner default always
// fails Exec calls, so real use requires wiring a code.SubprocessRunner or
// code.HTTPRunner before calling Run).
func (t *Task) WithRunner(r CodeRunner) *Task {
	t.Dispatcher = NewDispatcher(t.Blocks, r, t.mcp(), t.Bus).WithTools(t.tools()).WithEnv(t.Envs)
	return t
}

// WithMCP replaces the Task's MCP caller.
func (t *Task) WithMCP(m MCPCaller) *Task {
	t.mcpClient = m
	t.Dispatcher = NewDispatcher(t.Blocks, t.runner(), m, t.Bus).WithTools(t.tools()).WithEnv(t.Envs)
	return t
}

// WithTools gives the Task's Dispatcher a ToolRegistry so code running in
// the sandbox can call ordinary agent tools via runtime.call_function.
func (t *Task) WithTools(tools *ToolRegistry) *Task {
	t.Dispatcher = NewDispatcher(t.Blocks, t.runner(), t.mcp(), t.Bus).WithTools(tools).WithEnv(t.Envs)
	return t
}

// WithProcessors wires a ProcessorChain around every round's parsed
// response and dispatched tool results.
func (t *Task) WithProcessors(chain *ProcessorChain) *Task {
	t.Processors = chain
	return t
}

// runner/mcp/tools accessors exist so WithRunner/WithMCP/WithTools can
// rebuild the Dispatcher without losing whichever parts were set first.
func (t *Task) runner() CodeRunner {
	if t.Dispatcher == nil {
		return noopRunner{}
	}
	return t.Dispatcher.runner
}

func (t *Task) mcp() MCPCaller {
	return t.mcpClient
}

func (t *Task) tools() *ToolRegistry {
	if t.Dispatcher == nil {
		return nil
	}
	return t.Dispatcher.tools
}

// noopRunner rejects every Exec call; Tasks built without WithRunner still
// parse and register code blocks but cannot execute them.
type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, req CodeRequest, dispatch DispatchFunc) (CodeResult, error) {
	return CodeResult{}, fmt.Errorf("no CodeRunner configured for this task")
}

// State returns the Task's current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Stop requests cancellation. The running Step checks this at every round
// boundary; in-flight LLM/Runner/MCP calls are cancelled via ctx.
func (t *Task) Stop() { t.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (t *Task) Stopped() bool { return t.stopped.Load() }

// Run drives one Step to completion for the Task's Instruction and appends
// it to t.Steps. Callers wanting concurrent, cancellable background
// execution should use TaskManager.Spawn instead of calling Run directly.
func (t *Task) Run(ctx context.Context) (*Step, error) {
	t.mu.Lock()
	if t.StartTime.IsZero() {
		t.StartTime = time.Now()
	}
	t.mu.Unlock()
	t.state.Store(int32(TaskRunning))
	t.Bus.Emit(EventTaskStart, map[string]any{"task_id": t.ID, "instruction": t.Instruction})

	step := NewStep(t.Instruction)
	err := runStep(ctx, t, step)

	t.mu.Lock()
	t.Steps = append(t.Steps, step)
	t.DoneTime = time.Now()
	t.mu.Unlock()

	if err != nil {
		t.state.Store(int32(TaskFailed))
	} else if t.Stopped() {
		t.state.Store(int32(TaskCancelled))
	} else {
		t.state.Store(int32(TaskCompleted))
	}
	t.Bus.Emit(EventTaskEnd, map[string]any{"task_id": t.ID, "state": t.State().String()})
	return step, err
}
