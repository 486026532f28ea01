package orikata

import (
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger         *slog.Logger
	store          Store
	sqlitePath     string
	databaseURL    string
	memoryStore    bool
	runStore       RunStore
	stepPersister  StepPersister
	checkpointer   Checkpointer
	reducers       map[string]Reducer
	defaultTimeout time.Duration
	maxSteps       int
	runIDKey       string
	debugSnapshots bool
	storeInput     bool
	stepRecording  bool
}

// Reducer merges a node's partial update into the accumulated state for
// one key. The default is replacement.
type Reducer func(existing, update any) any

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithStore wires one store for both run records and step records.
// Overrides WithRunStore, WithStepPersister, and the built-in store
// options.
func WithStore(s Store) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithSQLitePath opens the built-in SQLite store at path. The engine
// owns the store and closes it on Close.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithDatabaseURL connects the built-in Postgres store to the given
// connection string. The engine owns the store and closes it on Close.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithMemoryStore uses the built-in in-memory store. Records vanish
// with the engine; intended for tests and ephemeral runs.
func WithMemoryStore() Option {
	return func(o *resolvedOptions) { o.memoryStore = true }
}

// WithRunStore wires run lifecycle persistence only.
func WithRunStore(s RunStore) Option {
	return func(o *resolvedOptions) { o.runStore = s }
}

// WithStepPersister wires step record persistence only.
func WithStepPersister(p StepPersister) Option {
	return func(o *resolvedOptions) { o.stepPersister = p }
}

// WithCheckpointer saves the merged state after every superstep of
// every run.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *resolvedOptions) { o.checkpointer = c }
}

// WithReducer sets the merge function for one state key. Keys without a
// reducer are replaced on update.
func WithReducer(key string, r Reducer) Option {
	return func(o *resolvedOptions) {
		if o.reducers == nil {
			o.reducers = make(map[string]Reducer)
		}
		o.reducers[key] = r
	}
}

// WithDefaultTimeout bounds run wall-clock time when StartRunOptions
// does not override it. Defaults to five minutes.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.defaultTimeout = d }
}

// WithMaxSteps caps node executions per run. Zero keeps the engine
// default.
func WithMaxSteps(n int) Option {
	return func(o *resolvedOptions) { o.maxSteps = n }
}

// WithRunIDKey overrides the state field carrying the run id. The
// default is "agent_run_id". Step records attach to a run only through
// this field.
func WithRunIDKey(key string) Option {
	return func(o *resolvedOptions) { o.runIDKey = key }
}

// WithDebugSnapshots captures full before/after state snapshots on
// every step record. Off by default; snapshots can be large.
func WithDebugSnapshots(debug bool) Option {
	return func(o *resolvedOptions) { o.debugSnapshots = debug }
}

// WithStoreInput persists run input state on the run record.
func WithStoreInput(store bool) Option {
	return func(o *resolvedOptions) { o.storeInput = store }
}

// WithStepRecording toggles per-node step instrumentation. On by
// default when a step persister is available.
func WithStepRecording(enabled bool) Option {
	return func(o *resolvedOptions) { o.stepRecording = enabled }
}
