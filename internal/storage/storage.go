// Package storage provides the persistence layer for run records and
// step records.
//
// Three implementations share one Store interface: SQLite (embedded,
// pure Go, the default), Postgres (pgxpool, production), and an
// in-memory store for tests and ephemeral runs. Run/step payloads are
// stored as JSON columns; callers treat them as opaque maps.
package storage

import (
	"context"
	"errors"

	"github.com/orikata-ai/orikata/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the combined persistence surface consumed by the engine and
// the HTTP layer.
type Store interface {
	CreateRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, error)
	ListRuns(ctx context.Context, graphSlug string, limit, offset int) ([]model.RunRecord, error)
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, update model.RunUpdate) error

	CreateStep(ctx context.Context, step model.StepData) error
	GetSteps(ctx context.Context, runID string) ([]model.StepData, error)

	Close() error
}

const defaultListLimit = 50
