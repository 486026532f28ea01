package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/orikata-ai/orikata/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	graph_slug   TEXT NOT NULL,
	status       TEXT NOT NULL,
	input        TEXT,
	result       TEXT,
	metadata     TEXT,
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_graph ON runs(graph_slug, started_at DESC);

CREATE TABLE IF NOT EXISTS steps (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	node_id      TEXT NOT NULL,
	step_number  INTEGER NOT NULL,
	input        TEXT,
	output       TEXT,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	tool_name    TEXT,
	state_before TEXT,
	state_after  TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, step_number);
`

// SQLite is the embedded store. It uses the pure-Go modernc driver, so
// no cgo toolchain is needed.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite store at path.
// ":memory:" gives a private throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// The sqlite driver is single-writer; one connection sidesteps
	// SQLITE_BUSY under concurrent fire-and-forget writes.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: bootstrap schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// CreateRun inserts a new run record.
func (s *SQLite) CreateRun(ctx context.Context, run model.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, graph_slug, status, input, metadata, tokens_used, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GraphSlug, string(run.Status),
		encodeJSON(run.Input), encodeJSON(run.Metadata), run.TokensUsed, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLite) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_slug, status, input, result, metadata, tokens_used, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, ErrNotFound
		}
		return model.RunRecord{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs for a graph slug, newest first. An empty slug
// matches all graphs.
func (s *SQLite) ListRuns(ctx context.Context, graphSlug string, limit, offset int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_slug, status, input, result, metadata, tokens_used, started_at, finished_at
		 FROM runs WHERE (? = '' OR graph_slug = ?)
		 ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		graphSlug, graphSlug, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus transitions a run's status, setting finished_at the
// first time the status leaves running.
func (s *SQLite) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, update model.RunUpdate) error {
	var finishedAt any
	if status.Terminal() {
		finishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?,
			finished_at = COALESCE(finished_at, ?),
			result = COALESCE(?, result),
			tokens_used = CASE WHEN ? > 0 THEN ? ELSE tokens_used END
		 WHERE id = ?`,
		string(status), finishedAt, encodeJSON(update.Result),
		update.TokensUsed, update.TokensUsed, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update run status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateStep inserts a step record.
func (s *SQLite) CreateStep(ctx context.Context, step model.StepData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (id, run_id, node_id, step_number, input, output,
			duration_ms, tokens_used, tool_name, state_before, state_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), step.RunID, step.NodeID, step.StepNumber,
		encodeJSON(step.Input), encodeJSON(step.Output), step.DurationMs,
		step.TokensUsed, nullString(step.ToolName),
		encodeJSON(step.StateBefore), encodeJSON(step.StateAfter), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: create step: %w", err)
	}
	return nil
}

// GetSteps returns a run's steps ordered by step number.
func (s *SQLite) GetSteps(ctx context.Context, runID string) ([]model.StepData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, step_number, input, output, duration_ms,
			tokens_used, tool_name, state_before, state_after
		 FROM steps WHERE run_id = ? ORDER BY step_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: get steps: %w", err)
	}
	defer rows.Close()

	steps := []model.StepData{}
	for rows.Next() {
		var step model.StepData
		var input, output, before, after, tool sql.NullString
		if err := rows.Scan(&step.RunID, &step.NodeID, &step.StepNumber,
			&input, &output, &step.DurationMs, &step.TokensUsed,
			&tool, &before, &after); err != nil {
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		step.ToolName = tool.String
		decodeJSON(input, &step.Input)
		decodeJSON(before, &step.StateBefore)
		decodeJSON(after, &step.StateAfter)
		if output.Valid {
			var v any
			if err := json.Unmarshal([]byte(output.String), &v); err == nil {
				step.Output = v
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.RunRecord, error) {
	var run model.RunRecord
	var input, result, metadata sql.NullString
	var status string
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.GraphSlug, &status, &input, &result,
		&metadata, &run.TokensUsed, &run.StartedAt, &finishedAt); err != nil {
		return model.RunRecord{}, err
	}
	run.Status = model.RunStatus(status)
	decodeJSON(input, &run.Input)
	decodeJSON(result, &run.Result)
	decodeJSON(metadata, &run.Metadata)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// encodeJSON marshals v into a nullable TEXT column value. Values the
// sanitizer could not make JSON-safe degrade to their string form.
func encodeJSON(v any) any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprint(v))
	}
	return string(raw)
}

func decodeJSON(col sql.NullString, dst *map[string]any) {
	if !col.Valid || col.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(col.String), dst)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
