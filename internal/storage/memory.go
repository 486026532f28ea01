package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orikata-ai/orikata/internal/model"
)

// Memory is a mutex-guarded in-memory store. Zero persistence across
// restarts; intended for tests and ephemeral embedding.
type Memory struct {
	mu    sync.Mutex
	runs  map[string]model.RunRecord
	steps map[string][]model.StepData
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:  make(map[string]model.RunRecord),
		steps: make(map[string][]model.StepData),
	}
}

// CreateRun stores a new run record.
func (m *Memory) CreateRun(ctx context.Context, run model.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by id.
func (m *Memory) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return model.RunRecord{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs for a graph slug ordered by started_at descending.
// An empty slug matches all graphs.
func (m *Memory) ListRuns(ctx context.Context, graphSlug string, limit, offset int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.RunRecord
	for _, run := range m.runs {
		if graphSlug != "" && run.GraphSlug != graphSlug {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if offset >= len(out) {
		return []model.RunRecord{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateRunStatus transitions a run's status. FinishedAt is set the
// first time the status leaves running.
func (m *Memory) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, update model.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if status.Terminal() && run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if update.Result != nil {
		run.Result = update.Result
	}
	if update.TokensUsed > 0 {
		run.TokensUsed = update.TokensUsed
	}
	m.runs[id] = run
	return nil
}

// CreateStep appends a step record.
func (m *Memory) CreateStep(ctx context.Context, step model.StepData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.RunID] = append(m.steps[step.RunID], step)
	return nil
}

// GetSteps returns a run's steps ordered by step number. Persistence is
// fire-and-forget upstream, so arrival order is not meaningful.
func (m *Memory) GetSteps(ctx context.Context, runID string) ([]model.StepData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.StepData, len(m.steps[runID]))
	copy(out, m.steps[runID])
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
