package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orikata-ai/orikata/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	graph_slug   TEXT NOT NULL,
	status       TEXT NOT NULL,
	input        JSONB,
	result       JSONB,
	metadata     JSONB,
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_runs_graph ON runs(graph_slug, started_at DESC);

CREATE TABLE IF NOT EXISTS steps (
	id           UUID PRIMARY KEY,
	run_id       TEXT NOT NULL,
	node_id      TEXT NOT NULL,
	step_number  INTEGER NOT NULL,
	input        JSONB,
	output       JSONB,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	tool_name    TEXT,
	state_before JSONB,
	state_after  JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, step_number);
`

// Postgres is the production store, backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool, verifies it, and bootstraps the schema.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: bootstrap schema: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// CreateRun inserts a new run record.
func (p *Postgres) CreateRun(ctx context.Context, run model.RunRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO runs (id, graph_slug, status, input, metadata, tokens_used, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.GraphSlug, string(run.Status),
		jsonb(run.Input), jsonb(run.Metadata), run.TokensUsed, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (p *Postgres) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, graph_slug, status, input, result, metadata, tokens_used, started_at, finished_at
		 FROM runs WHERE id = $1`, id)
	run, err := scanPgRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunRecord{}, ErrNotFound
		}
		return model.RunRecord{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs for a graph slug, newest first. An empty slug
// matches all graphs.
func (p *Postgres) ListRuns(ctx context.Context, graphSlug string, limit, offset int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, graph_slug, status, input, result, metadata, tokens_used, started_at, finished_at
		 FROM runs WHERE ($1 = '' OR graph_slug = $1)
		 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		graphSlug, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RunRecord{}
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus transitions a run's status, setting finished_at the
// first time the status leaves running.
func (p *Postgres) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, update model.RunUpdate) error {
	var finishedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		finishedAt = &now
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE runs SET status = $1,
			finished_at = COALESCE(finished_at, $2),
			result = COALESCE($3, result),
			tokens_used = CASE WHEN $4 > 0 THEN $4 ELSE tokens_used END
		 WHERE id = $5`,
		string(status), finishedAt, jsonb(update.Result), update.TokensUsed, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateStep inserts a step record.
func (p *Postgres) CreateStep(ctx context.Context, step model.StepData) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO steps (id, run_id, node_id, step_number, input, output,
			duration_ms, tokens_used, tool_name, state_before, state_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New(), step.RunID, step.NodeID, step.StepNumber,
		jsonb(step.Input), jsonb(step.Output), step.DurationMs, step.TokensUsed,
		nullString(step.ToolName), jsonb(step.StateBefore), jsonb(step.StateAfter),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: create step: %w", err)
	}
	return nil
}

// GetSteps returns a run's steps ordered by step number.
func (p *Postgres) GetSteps(ctx context.Context, runID string) ([]model.StepData, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT run_id, node_id, step_number, input, output, duration_ms,
			tokens_used, tool_name, state_before, state_after
		 FROM steps WHERE run_id = $1 ORDER BY step_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: get steps: %w", err)
	}
	defer rows.Close()

	steps := []model.StepData{}
	for rows.Next() {
		var step model.StepData
		var input, output, before, after []byte
		var tool *string
		if err := rows.Scan(&step.RunID, &step.NodeID, &step.StepNumber,
			&input, &output, &step.DurationMs, &step.TokensUsed,
			&tool, &before, &after); err != nil {
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		if tool != nil {
			step.ToolName = *tool
		}
		decodeJSONB(input, &step.Input)
		decodeJSONB(before, &step.StateBefore)
		decodeJSONB(after, &step.StateAfter)
		if len(output) > 0 {
			var v any
			if err := json.Unmarshal(output, &v); err == nil {
				step.Output = v
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgRun(row pgx.Row) (model.RunRecord, error) {
	var run model.RunRecord
	var input, result, metadata []byte
	var status string
	var finishedAt *time.Time
	if err := row.Scan(&run.ID, &run.GraphSlug, &status, &input, &result,
		&metadata, &run.TokensUsed, &run.StartedAt, &finishedAt); err != nil {
		return model.RunRecord{}, err
	}
	run.Status = model.RunStatus(status)
	decodeJSONB(input, &run.Input)
	decodeJSONB(result, &run.Result)
	decodeJSONB(metadata, &run.Metadata)
	run.FinishedAt = finishedAt
	return run, nil
}

// jsonb marshals v for a JSONB parameter, mapping nil to SQL NULL.
func jsonb(v any) any {
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
	return raw
}

func decodeJSONB(raw []byte, dst *map[string]any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
