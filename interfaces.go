package orikata

import "context"

// RunStore persists run lifecycle records. Implementations must
// tolerate best-effort calls: the engine logs write failures and never
// fails a run on them.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, update RunUpdate) error
}

// StepPersister persists per-node step records. Calls arrive from
// detached goroutines after each node finishes; ordering across nodes
// is not guaranteed.
type StepPersister interface {
	CreateStep(ctx context.Context, step StepData) error
}

// Store is the full persistence surface. The built-in SQLite,
// Postgres, and in-memory stores are constructed by WithSQLitePath,
// WithDatabaseURL, and WithMemoryStore; embedders bring their own
// implementation through WithStore.
type Store interface {
	RunStore
	StepPersister

	GetRun(ctx context.Context, id string) (RunRecord, error)
	ListRuns(ctx context.Context, graphSlug string, limit, offset int) ([]RunRecord, error)
	GetSteps(ctx context.Context, runID string) ([]StepData, error)

	Close() error
}

// Checkpointer receives the merged state after every execution
// superstep. Implementations decide durability and format.
type Checkpointer interface {
	Save(ctx context.Context, state State) error
}
