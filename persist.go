package aicode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// TaskSnapshot is the durable representation of a Task: everything needed
// to resume it (or inspect it after the fact) without rerunning any Step.
// persist/sqlite and persist/postgres both save and load this shape.
type TaskSnapshot struct {
	ID          string
	Instruction string
	MaxRounds   int
	MCPEnabled  bool
	State       TaskState
	StartTime   time.Time
	DoneTime    time.Time

	Messages   map[string]Message
	CodeBlocks []CodeBlock
	Steps      []Step
}

// TaskStore persists and restores Task state by task ID. Implementations
// own their own transaction/connection strategy; callers pass a context
// for cancellation and tracing, not isolation-level control.
type TaskStore interface {
	SaveTask(ctx context.Context, snap TaskSnapshot) error
	LoadTask(ctx context.Context, id string) (TaskSnapshot, error)
	ListTasks(ctx context.Context) ([]string, error)
	DeleteTask(ctx context.Context, id string) error
}

// Snapshot captures t's current state for persistence. It is safe to call
// while t is running; the result reflects state as of the call, not a
// consistent point-in-time view across concurrent Step execution (Task
// owns its components exclusively, so callers should snapshot between
// Steps or after Stop).
func (t *Task) Snapshot() TaskSnapshot {
	steps := make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = *s
	}
	return TaskSnapshot{
		ID:          t.ID,
		Instruction: t.Instruction,
		MaxRounds:   t.MaxRounds,
		MCPEnabled:  t.MCPEnabled,
		State:       t.State(),
		StartTime:   t.StartTime,
		DoneTime:    t.DoneTime,
		Messages:    t.Store.Snapshot(),
		CodeBlocks:  t.Blocks.History(),
		Steps:       steps,
	}
}

// RestoreTask rebuilds a Task from a snapshot, wiring provider/bus/log the
// same way NewTask does, then replaying the saved MessageStore and
// CodeBlocks state before resuming. The returned Task's state machine is
// left in snap.State; callers that want to keep running it should check
// IsTerminal() first.
func RestoreTask(snap TaskSnapshot, provider Provider, bus *EventBus, log *slog.Logger) *Task {
	t := NewTask(snap.ID, snap.Instruction, provider, bus, log)
	t.MaxRounds = snap.MaxRounds
	t.MCPEnabled = snap.MCPEnabled
	t.StartTime = snap.StartTime
	t.DoneTime = snap.DoneTime
	t.state.Store(int32(snap.State))

	t.Store.RestoreState(snap.Messages)
	t.Blocks.RestoreState(snap.CodeBlocks)

	t.Steps = make([]*Step, len(snap.Steps))
	for i := range snap.Steps {
		step := snap.Steps[i]
		t.Steps[i] = &step
	}

	return t
}

// ExportJSON writes a Task snapshot to path as JSON, matching the
// write-temp-file-then-rename pattern so a reader never observes a
// partially-written file: the rename is atomic on the same filesystem.
func (t *Task) ExportJSON(path string) error {
	snap := t.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("export task %s: marshal: %w", t.ID, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".task-export-*.json.tmp")
	if err != nil {
		return fmt.Errorf("export task %s: create temp file: %w", t.ID, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("export task %s: write: %w", t.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export task %s: close temp file: %w", t.ID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("export task %s: rename: %w", t.ID, err)
	}
	return nil
}
