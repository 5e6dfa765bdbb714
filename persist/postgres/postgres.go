// Package postgres implements aicode.TaskStore using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/aicode"
)

// Store implements aicode.TaskStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ aicode.TaskStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL,
			max_rounds INTEGER NOT NULL,
			mcp_enabled BOOLEAN NOT NULL,
			state INTEGER NOT NULL,
			start_time BIGINT NOT NULL,
			done_time BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			msg_id TEXT NOT NULL,
			content JSONB NOT NULL,
			PRIMARY KEY (task_id, msg_id)
		)`,
		`CREATE TABLE IF NOT EXISTS code_blocks (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			lang TEXT,
			code TEXT,
			path TEXT,
			deps JSONB,
			PRIMARY KEY (task_id, name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			step_index INTEGER NOT NULL,
			instruction TEXT,
			title TEXT,
			start_time BIGINT,
			end_time BIGINT,
			PRIMARY KEY (task_id, step_index)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			task_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			round_index INTEGER NOT NULL,
			request JSONB,
			response JSONB,
			tool_results JSONB,
			PRIMARY KEY (task_id, step_index, round_index),
			FOREIGN KEY (task_id, step_index) REFERENCES steps(task_id, step_index) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			task_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			event_index INTEGER NOT NULL,
			name TEXT,
			timestamp BIGINT,
			fields JSONB,
			PRIMARY KEY (task_id, step_index, event_index),
			FOREIGN KEY (task_id, step_index) REFERENCES steps(task_id, step_index) ON DELETE CASCADE
		)`,
	}

	for _, ddl := range stmts {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
	}
	return nil
}

// SaveTask replaces the stored snapshot for snap.ID inside a single
// transaction, so a reader never observes a partially-updated task.
func (s *Store) SaveTask(ctx context.Context, snap aicode.TaskSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save task %s: begin tx: %w", snap.ID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, snap.ID); err != nil {
		return fmt.Errorf("save task %s: clear existing row: %w", snap.ID, err)
	}

	var doneTime *int64
	if !snap.DoneTime.IsZero() {
		v := snap.DoneTime.UnixMilli()
		doneTime = &v
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tasks (id, instruction, max_rounds, mcp_enabled, state, start_time, done_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.Instruction, snap.MaxRounds, snap.MCPEnabled, int32(snap.State),
		snap.StartTime.UnixMilli(), doneTime,
	); err != nil {
		return fmt.Errorf("save task %s: insert task row: %w", snap.ID, err)
	}

	for msgID, msg := range snap.Messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("save task %s: marshal message %s: %w", snap.ID, msgID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (task_id, msg_id, content) VALUES ($1, $2, $3)`,
			snap.ID, msgID, data,
		); err != nil {
			return fmt.Errorf("save task %s: insert message %s: %w", snap.ID, msgID, err)
		}
	}

	for _, cb := range snap.CodeBlocks {
		deps, err := json.Marshal(cb.Deps)
		if err != nil {
			return fmt.Errorf("save task %s: marshal deps for block %s: %w", snap.ID, cb.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO code_blocks (task_id, name, version, lang, code, path, deps) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			snap.ID, cb.Name, cb.Version, cb.Lang, cb.Code, cb.Path, deps,
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
		if _, err := tx.Exec(ctx,
			`INSERT INTO steps (task_id, step_index, instruction, title, start_time, end_time) VALUES ($1, $2, $3, $4, $5, $6)`,
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
			if _, err := tx.Exec(ctx,
				`INSERT INTO rounds (task_id, step_index, round_index, request, response, tool_results) VALUES ($1, $2, $3, $4, $5, $6)`,
				snap.ID, stepIdx, roundIdx, req, resp, toolResults,
			); err != nil {
				return fmt.Errorf("save task %s: insert round %d/%d: %w", snap.ID, stepIdx, roundIdx, err)
			}
		}

		for eventIdx, ev := range step.Events {
			fields, err := json.Marshal(ev.Fields)
			if err != nil {
				return fmt.Errorf("save task %s: marshal event %d/%d fields: %w", snap.ID, stepIdx, eventIdx, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO events (task_id, step_index, event_index, name, timestamp, fields) VALUES ($1, $2, $3, $4, $5, $6)`,
				snap.ID, stepIdx, eventIdx, string(ev.Name), ev.Timestamp.UnixMilli(), fields,
			); err != nil {
				return fmt.Errorf("save task %s: insert event %d/%d: %w", snap.ID, stepIdx, eventIdx, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save task %s: commit: %w", snap.ID, err)
	}
	return nil
}

// LoadTask reconstructs a TaskSnapshot for id.
func (s *Store) LoadTask(ctx context.Context, id string) (aicode.TaskSnapshot, error) {
	var snap aicode.TaskSnapshot
	var maxRounds, state int32
	var mcpEnabled bool
	var startMS int64
	var doneMS *int64

	row := s.pool.QueryRow(ctx,
		`SELECT id, instruction, max_rounds, mcp_enabled, state, start_time, done_time FROM tasks WHERE id = $1`, id)
	if err := row.Scan(&snap.ID, &snap.Instruction, &maxRounds, &mcpEnabled, &state, &startMS, &doneMS); err != nil {
		if err == pgx.ErrNoRows {
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: not found", id)
		}
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: %w", id, err)
	}
	snap.MaxRounds = int(maxRounds)
	snap.MCPEnabled = mcpEnabled
	snap.State = aicode.TaskState(state)
	snap.StartTime = time.UnixMilli(startMS)
	if doneMS != nil {
		snap.DoneTime = time.UnixMilli(*doneMS)
	}

	msgRows, err := s.pool.Query(ctx, `SELECT msg_id, content FROM messages WHERE task_id = $1`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query messages: %w", id, err)
	}
	snap.Messages = make(map[string]aicode.Message)
	for msgRows.Next() {
		var msgID string
		var content []byte
		if err := msgRows.Scan(&msgID, &content); err != nil {
			msgRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan message: %w", id, err)
		}
		var msg aicode.Message
		if err := json.Unmarshal(content, &msg); err != nil {
			msgRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal message %s: %w", id, msgID, err)
		}
		snap.Messages[msgID] = msg
	}
	msgRows.Close()

	cbRows, err := s.pool.Query(ctx,
		`SELECT name, version, lang, code, path, deps FROM code_blocks WHERE task_id = $1 ORDER BY name, version`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query code blocks: %w", id, err)
	}
	for cbRows.Next() {
		var cb aicode.CodeBlock
		var deps []byte
		if err := cbRows.Scan(&cb.Name, &cb.Version, &cb.Lang, &cb.Code, &cb.Path, &deps); err != nil {
			cbRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan code block: %w", id, err)
		}
		if len(deps) > 0 {
			if err := json.Unmarshal(deps, &cb.Deps); err != nil {
				cbRows.Close()
				return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal deps for %s: %w", id, cb.Name, err)
			}
		}
		snap.CodeBlocks = append(snap.CodeBlocks, cb)
	}
	cbRows.Close()

	stepRows, err := s.pool.Query(ctx,
		`SELECT step_index, instruction, title, start_time, end_time FROM steps WHERE task_id = $1 ORDER BY step_index`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query steps: %w", id, err)
	}
	var stepIndices []int
	stepsByIndex := make(map[int]*aicode.Step)
	for stepRows.Next() {
		var idx int
		var step aicode.Step
		var startMS int64
		var endMS *int64
		if err := stepRows.Scan(&idx, &step.Instruction, &step.Title, &startMS, &endMS); err != nil {
			stepRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan step: %w", id, err)
		}
		step.StartTime = time.UnixMilli(startMS)
		if endMS != nil {
			step.EndTime = time.UnixMilli(*endMS)
		}
		stepIndices = append(stepIndices, idx)
		stepsByIndex[idx] = &step
	}
	stepRows.Close()

	roundRows, err := s.pool.Query(ctx,
		`SELECT step_index, round_index, request, response, tool_results FROM rounds WHERE task_id = $1 ORDER BY step_index, round_index`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query rounds: %w", id, err)
	}
	for roundRows.Next() {
		var stepIdx, roundIdx int
		var reqJSON, respJSON, toolJSON []byte
		if err := roundRows.Scan(&stepIdx, &roundIdx, &reqJSON, &respJSON, &toolJSON); err != nil {
			roundRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan round: %w", id, err)
		}
		step, ok := stepsByIndex[stepIdx]
		if !ok {
			continue
		}
		var round aicode.Round
		if err := json.Unmarshal(reqJSON, &round.Request); err != nil {
			roundRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal round request: %w", id, err)
		}
		if err := json.Unmarshal(respJSON, &round.Response); err != nil {
			roundRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal round response: %w", id, err)
		}
		if len(toolJSON) > 0 {
			if err := json.Unmarshal(toolJSON, &round.ToolCallResults); err != nil {
				roundRows.Close()
				return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: unmarshal round tool results: %w", id, err)
			}
		}
		step.Rounds = append(step.Rounds, round)
	}
	roundRows.Close()

	eventRows, err := s.pool.Query(ctx,
		`SELECT step_index, name, timestamp, fields FROM events WHERE task_id = $1 ORDER BY step_index, event_index`, id)
	if err != nil {
		return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: query events: %w", id, err)
	}
	for eventRows.Next() {
		var stepIdx int
		var name string
		var tsMS int64
		var fieldsJSON []byte
		if err := eventRows.Scan(&stepIdx, &name, &tsMS, &fieldsJSON); err != nil {
			eventRows.Close()
			return aicode.TaskSnapshot{}, fmt.Errorf("load task %s: scan event: %w", id, err)
		}
		step, ok := stepsByIndex[stepIdx]
		if !ok {
			continue
		}
		ev := aicode.Event{Name: aicode.EventName(name), Timestamp: time.UnixMilli(tsMS)}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &ev.Fields); err != nil {
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
	rows, err := s.pool.Query(ctx, `SELECT id FROM tasks ORDER BY start_time`)
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

// DeleteTask removes every stored row for id. Foreign keys cascade, so
// deleting the tasks row is enough.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}
