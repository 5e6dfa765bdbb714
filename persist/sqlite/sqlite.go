// Package sqlite implements aicode.TaskStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/aicode"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs when it opens and when it saves a task (with timing),
// and an info log when Init completes; loads, lists and deletes are not logged.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements aicode.TaskStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ aicode.TaskStore = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a single
// shared connection pool with SetMaxOpenConns(1) so that all goroutines
// serialize through one connection, eliminating SQLITE_BUSY errors caused by
// concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL,
			max_rounds INTEGER NOT NULL,
			mcp_enabled INTEGER NOT NULL,
			state INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			done_time INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			task_id TEXT NOT NULL,
			msg_id TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (task_id, msg_id)
		)`,
		`CREATE TABLE IF NOT EXISTS code_blocks (
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			lang TEXT,
			code TEXT,
			path TEXT,
			deps TEXT,
			PRIMARY KEY (task_id, name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			task_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			instruction TEXT,
			title TEXT,
			start_time INTEGER,
			end_time INTEGER,
			PRIMARY KEY (task_id, step_index)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			task_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			round_index INTEGER NOT NULL,
			request TEXT,
			response TEXT,
			tool_results TEXT,
			PRIMARY KEY (task_id, step_index, round_index)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			task_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			event_index INTEGER NOT NULL,
			name TEXT,
			timestamp INTEGER,
			fields TEXT,
			PRIMARY KEY (task_id, step_index, event_index)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTask replaces task_id's stored snapshot with snap, inside a single
// transaction so a reader never observes a partially-updated task.
func (s *Store) SaveTask(ctx context.Context, snap aicode.TaskSnapshot) error {
	start := time.Now()
	s.logger.Debug("sqlite: save task", "id", snap.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save task %s: begin tx: %w", snap.ID, err)
	}
	defer tx.Rollback()

	if err := deleteTaskRows(ctx, tx, snap.ID); err != nil {
		return fmt.Errorf("save task %s: clear existing rows: %w", snap.ID, err)
	}

	var doneTime *int64
	if !snap.DoneTime.IsZero() {
		v := snap.DoneTime.UnixMilli()
		doneTime = &v
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, instruction, max_rounds, mcp_enabled, state, start_time, done_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Instruction, snap.MaxRounds, boolToInt(snap.MCPEnabled), int32(snap.State),
		snap.StartTime.UnixMilli(), doneTime,
	); err != nil {
		return fmt.Errorf("save task %s: insert task row: %w", snap.ID, err)
	}

	for msgID, msg := range snap.Messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("save task %s: marshal message %s: %w", snap.ID, msgID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (task_id, msg_id, content) VALUES (?, ?, ?)`,
			snap.ID, msgID, string(data),
		); err != nil {
			return fmt.Errorf("save task %s: insert message %s: %w", snap.ID, msgID, err)
		}
	}

	for _, cb := range snap.CodeBlocks {
		deps, err := json.Marshal(cb.Deps)
		if err != nil {
			return fmt.Errorf("save task %s: marshal deps for block %s: %w", snap.ID, cb.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO code_blocks (task_id, name, version, lang, code, path, deps) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, cb.Name, cb.Version, cb.Lang, cb.Code, cb.Path, string(deps),
		); err != nil {
			return fmt.Errorf("save task %s: insert code block %s: %w", snap.ID, cb.Name, err)
		}
	}

	for stepIdx, step := range snap.Steps {
		var stepEnd *int64
		if !step.EndTime.IsZero() {
			v := step.EndTime.UnixMilli()
			stepEnd = &v
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (task_id, step_index, instruction, title, start_time, end_time) VALUES (?, ?, ?, ?, ?, ?)`,
			snap.ID, stepIdx, step.Instruction, step.Title, step.StartTime.UnixMilli(), stepEnd,
		); err != nil {
			return fmt.Errorf("save task %s: insert step %d: %w", snap.ID, stepIdx, err)
		}

		for roundIdx, round := range step.Rounds {
			req, err := json.Marshal(round.Request)
			if err != nil {
				return fmt.Errorf("save task %s: marshal round %d/%d request: %w", snap.ID, stepIdx, roundIdx, err)
			}
			resp, err := json.Marshal(round.Response)
			if err != nil {
				return fmt.Errorf("save task %s: marshal round %d/%d response: %w", snap.ID, stepIdx, roundIdx, err)
			}
			toolResults, err := json.Marshal(round.ToolCallResults)
			if err != nil {
				return fmt.Errorf("save task %s: marshal round %d/%d tool results: %w", snap.ID, stepIdx, roundIdx, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rounds (task_id, step_index, round_index, request, response, tool_results) VALUES (?, ?, ?, ?, ?, ?)`,
				snap.ID, stepIdx, roundIdx, string(req), string(resp), string(toolResults),
			); err != nil {
				return fmt.Errorf("save task %s: insert round %d/%d: %w", snap.ID, stepIdx, roundIdx, err)
			}
		}

		for eventIdx, ev := range step.Events {
			fields, err := json.Marshal(ev.Fields)
			if err != nil {
				return fmt.Errorf("save task %s: marshal event %d/%d fields: %w", snap.ID, stepIdx, eventIdx, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO events (task_id, step_index, event_index, name, timestamp, fields) VALUES (?, ?, ?, ?, ?, ?)`,
				snap.ID, stepIdx, eventIdx, string(ev.Name), ev.Timestamp.UnixMilli(), string(fields),
			); err != nil {
				return fmt.Errorf("save task %s: insert event %d/%d: %w", snap.ID, stepIdx, eventIdx, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save task %s: commit: %w", snap.ID, err)
	}
	s.logger.Debug("sqlite: save task ok", "id", snap.ID, "duration", time.Since(start))
	return nil
}

func deleteTaskRows(ctx context.Context, tx *sql.Tx, taskID string) error {
	for _, table := range []string{"events", "rounds", "steps", "code_blocks", "messages"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE task_id = ?", table), taskID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", taskID); err != nil {
		return err
	}
	return nil
}

// LoadTask reconstructs a TaskSnapshot for id.
func (s *Store) LoadTask(ctx context.Context, id string) (aicode.TaskSnapshot, error) {
	var snap aicode.TaskSnapshot
	var maxRounds, mcpEnabled, state int
	var startMS int64
	var doneMS sql.NullInt64

	row := s.db.QueryRowContext(ctx,
		`SELECT id, instruction, max_rounds, mcp_enabled, state, start_time, done_time FROM tasks WHERE id = ?`, id)
	if err := row.Scan(&snap.ID, &snap.Instruction, &maxRounds, &mcpEnabled, &state, &startMS, &doneMS); err != nil {
		if err == sql.ErrNoRows {
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: not found", id)
		}
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: %w", id, err)
	}
	snap.MaxRounds = maxRounds
	snap.MCPEnabled = mcpEnabled != 0
	snap.State = aicode.TaskState(state)
	snap.StartTime = time.UnixMilli(startMS)
	if doneMS.Valid {
		snap.DoneTime = time.UnixMilli(doneMS.Int64)
	}

	msgRows, err := s.db.QueryContext(ctx, `SELECT msg_id, content FROM messages WHERE task_id = ?`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query messages: %w", id, err)
	}
	snap.Messages = make(map[string]aicode.Message)
	for msgRows.Next() {
		var msgID, content string
		if err := msgRows.Scan(&msgID, &content); err != nil {
			msgRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan message: %w", id, err)
		}
		var msg aicode.Message
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			msgRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal message %s: %w", id, msgID, err)
		}
		snap.Messages[msgID] = msg
	}
	msgRows.Close()

	cbRows, err := s.db.QueryContext(ctx,
		`SELECT name, version, lang, code, path, deps FROM code_blocks WHERE task_id = ? ORDER BY name, version`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query code blocks: %w", id, err)
	}
	for cbRows.Next() {
		var cb aicode.CodeBlock
		var depsJSON string
		if err := cbRows.Scan(&cb.Name, &cb.Version, &cb.Lang, &cb.Code, &cb.Path, &depsJSON); err != nil {
			cbRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan code block: %w", id, err)
		}
		if depsJSON != "" {
			if err := json.Unmarshal([]byte(depsJSON), &cb.Deps); err != nil {
				cbRows.Close()
				return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal deps for %s: %w", id, cb.Name, err)
			}
		}
		snap.CodeBlocks = append(snap.CodeBlocks, cb)
	}
	cbRows.Close()

	stepRows, err := s.db.QueryContext(ctx,
		`SELECT step_index, instruction, title, start_time, end_time FROM steps WHERE task_id = ? ORDER BY step_index`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query steps: %w", id, err)
	}
	var stepIndices []int
	stepsByIndex := make(map[int]*aicode.Step)
	for stepRows.Next() {
		var idx int
		var step aicode.Step
		var startMS int64
		var endMS sql.NullInt64
		if err := stepRows.Scan(&idx, &step.Instruction, &step.Title, &startMS, &endMS); err != nil {
			stepRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan step: %w", id, err)
		}
		step.StartTime = time.UnixMilli(startMS)
		if endMS.Valid {
			step.EndTime = time.UnixMilli(endMS.Int64)
		}
		stepIndices = append(stepIndices, idx)
		stepsByIndex[idx] = &step
	}
	stepRows.Close()

	roundRows, err := s.db.QueryContext(ctx,
		`SELECT step_index, round_index, request, response, tool_results FROM rounds WHERE task_id = ? ORDER BY step_index, round_index`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query rounds: %w", id, err)
	}
	for roundRows.Next() {
		var stepIdx, roundIdx int
		var reqJSON, respJSON, toolJSON string
		if err := roundRows.Scan(&stepIdx, &roundIdx, &reqJSON, &respJSON, &toolJSON); err != nil {
			roundRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan round: %w", id, err)
		}
		step, ok := stepsByIndex[stepIdx]
		if !ok {
			continue
		}
		var round aicode.Round
		if err := json.Unmarshal([]byte(reqJSON), &round.Request); err != nil {
			roundRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal round request: %w", id, err)
		}
		if err := json.Unmarshal([]byte(respJSON), &round.Response); err != nil {
			roundRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal round response: %w", id, err)
		}
		if toolJSON != "" {
			if err := json.Unmarshal([]byte(toolJSON), &round.ToolCallResults); err != nil {
				roundRows.Close()
				return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal round tool results: %w", id, err)
			}
		}
		step.Rounds = append(step.Rounds, round)
	}
	roundRows.Close()

	eventRows, err := s.db.QueryContext(ctx,
		`SELECT step_index, name, timestamp, fields FROM events WHERE task_id = ? ORDER BY step_index, event_index`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query events: %w", id, err)
	}
	for eventRows.Next() {
		var stepIdx int
		var name string
		var tsMS int64
		var fieldsJSON string
		if err := eventRows.Scan(&stepIdx, &name, &tsMS, &fieldsJSON); err != nil {
			eventRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan event: %w", id, err)
		}
		step, ok := stepsByIndex[stepIdx]
		if !ok {
			continue
		}
		ev := aicode.Event{Name: aicode.EventName(name), Timestamp: time.UnixMilli(tsMS)}
		if fieldsJSON != "" {
			if err := json.Unmarshal([]byte(fieldsJSON), &ev.Fields); err != nil {
				eventRows.Close()
				return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal event fields: %w", id, err)
			}
		}
		step.Events = append(step.Events, ev)
	}
	eventRows.Close()

	for _, idx := range stepIndices {
		snap.Steps = append(snap.Steps, *stepsByIndex[idx])
	}

	return snap, nil
}

// ListTasks returns every stored task ID.
func (s *Store) ListTasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list tasks: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTask removes every stored row for id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete task %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()
	if err := deleteTaskRows(ctx, tx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
