// Package orikata is the public API for embedding the Orikata graph
// execution engine.
//
// An Engine binds externally authored graph definitions against
// registered node implementations, compiles them into executable
// graphs, and drives asynchronous, cancellable runs with per-node step
// instrumentation:
//
//	eng, err := orikata.New(
//	    orikata.WithLogger(logger),
//	    orikata.WithSQLitePath("orikata.db"),
//	)
//	_ = eng.RegisterNode("classify", classifyFn,
//	    orikata.WithNodeRoute("urgent", isUrgent))
//	_ = eng.AddGraph(def)
//	runID, err := eng.StartRun(ctx, "support-triage", orikata.StartRunOptions{
//	    Input: orikata.State{"query": "help"},
//	})
//
// Public types are re-exports of the shared data model, so embedders
// never touch internal packages. The HTTP surface (internal/server)
// and the CLI (cmd/orikata) are consumers of this same API.
package orikata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/orikata-ai/orikata/internal/compiler"
	"github.com/orikata-ai/orikata/internal/flow"
	"github.com/orikata-ai/orikata/internal/graphdef"
	"github.com/orikata-ai/orikata/internal/model"
	"github.com/orikata-ai/orikata/internal/recorder"
	"github.com/orikata-ai/orikata/internal/registry"
	"github.com/orikata-ai/orikata/internal/runner"
	"github.com/orikata-ai/orikata/internal/storage"
)

var (
	// ErrUnknownGraph is returned for a slug with no added definition.
	ErrUnknownGraph = errors.New("orikata: unknown graph")
	// ErrNoStore is returned from read methods when no full store is wired.
	ErrNoStore = errors.New("orikata: no store configured")
	// ErrDuplicateRun is returned when a run id is already active.
	ErrDuplicateRun = runner.ErrDuplicateRun
)

// Engine is the embeddable graph execution engine. Construct with New;
// the zero value is not usable. All methods are safe for concurrent
// use once node registration has finished.
type Engine struct {
	logger         *slog.Logger
	registry       *registry.Registry
	recorder       *recorder.Recorder // nil when step recording is off
	compiler       *compiler.Compiler
	runner         *runner.Manager
	schema         *flow.Schema
	store          Store    // nil unless a full store is wired
	ownsStore      bool     // engine built the store and closes it
	runStore       RunStore // may be non-nil without a full store
	checkpointer   Checkpointer
	maxSteps       int
	defaultTimeout time.Duration
	storeInput     bool

	mu         sync.Mutex
	graphs     map[string]model.GraphDefinition
	graphOrder []string
	compiled   map[string]*compiler.Compiled

	compileGroup singleflight.Group
}

// New assembles an engine. Registration of nodes and graphs happens
// after construction; nothing starts running until StartRun. A
// built-in store requested via WithSQLitePath, WithDatabaseURL, or
// WithMemoryStore is opened here and closed by Close.
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{
		defaultTimeout: runner.DefaultTimeout,
		runIDKey:       recorder.DefaultRunIDKey,
		storeInput:     true,
		stepRecording:  true,
	}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	store := o.store
	ownsStore := false
	if store == nil {
		switch {
		case o.databaseURL != "":
			pg, err := storage.NewPostgres(context.Background(), o.databaseURL, logger)
			if err != nil {
				return nil, fmt.Errorf("orikata: storage: %w", err)
			}
			store, ownsStore = pg, true
		case o.sqlitePath != "":
			db, err := storage.OpenSQLite(context.Background(), o.sqlitePath)
			if err != nil {
				return nil, fmt.Errorf("orikata: storage: %w", err)
			}
			store, ownsStore = db, true
		case o.memoryStore:
			store, ownsStore = storage.NewMemory(), true
		}
	}

	runStore := o.runStore
	stepPersister := o.stepPersister
	if store != nil {
		runStore = store
		stepPersister = store
	}

	schema := flow.NewSchema()
	for key, r := range o.reducers {
		schema.WithReducer(key, flow.Reducer(r))
	}

	eng := &Engine{
		logger:         logger,
		registry:       registry.New(),
		schema:         schema,
		store:          store,
		ownsStore:      ownsStore,
		runStore:       runStore,
		checkpointer:   o.checkpointer,
		maxSteps:       o.maxSteps,
		defaultTimeout: o.defaultTimeout,
		storeInput:     o.storeInput,
		graphs:         make(map[string]model.GraphDefinition),
		compiled:       make(map[string]*compiler.Compiled),
	}

	if o.stepRecording && stepPersister != nil {
		eng.recorder = recorder.New(stepPersister,
			recorder.WithLogger(logger),
			recorder.WithRunIDKey(o.runIDKey),
			recorder.WithDebug(o.debugSnapshots),
		)
	}

	compilerOpts := []compiler.Option{compiler.WithLogger(logger)}
	if eng.recorder != nil {
		compilerOpts = append(compilerOpts, compiler.WithRecorder(eng.recorder))
	}
	eng.compiler = compiler.New(eng.registry, compilerOpts...)

	runnerOpts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithRunIDKey(o.runIDKey),
	}
	if eng.recorder != nil {
		runnerOpts = append(runnerOpts, runner.WithRecorder(eng.recorder))
	}
	eng.runner = runner.New(runnerOpts...)

	return eng, nil
}

// NodeOption configures one registered node.
type NodeOption func(*[]registry.DefinitionOption)

// WithNodeLabel sets a human-readable label.
func WithNodeLabel(label string) NodeOption {
	return func(opts *[]registry.DefinitionOption) {
		*opts = append(*opts, registry.WithLabel(label))
	}
}

// WithNodeRoute declares one conditional route from this node. The
// predicate is consulted when a graph edge carries a route map naming
// the route.
func WithNodeRoute(route string, p Predicate) NodeOption {
	return func(opts *[]registry.DefinitionOption) {
		*opts = append(*opts, registry.WithRoute(route, registry.Predicate(p)))
	}
}

// WithNodeOutputSummarizer condenses the node's result for its step
// records. Without one, the raw partial update is recorded.
func WithNodeOutputSummarizer(fn OutputSummarizer) NodeOption {
	return func(opts *[]registry.DefinitionOption) {
		*opts = append(*opts, registry.WithOutputSummarizer(registry.OutputSummarizer(fn)))
	}
}

// RegisterNode adds a node implementation under a unique key.
// Registration happens at startup; registering after runs have begun
// invalidates compiled graphs.
func (e *Engine) RegisterNode(key string, fn NodeFunc, opts ...NodeOption) error {
	var defOpts []registry.DefinitionOption
	for _, o := range opts {
		o(&defOpts)
	}
	def, err := registry.NewDefinition(key, flow.NodeFunc(fn), defOpts...)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.registry.Register(def); err != nil {
		return err
	}
	clear(e.compiled)
	return nil
}

// NodeRegistration pairs a node key with its implementation for batch
// registration.
type NodeRegistration struct {
	Key     string
	Func    NodeFunc
	Options []NodeOption
}

// RegisterNodes registers several nodes in order, stopping at the first
// error.
func (e *Engine) RegisterNodes(nodes ...NodeRegistration) error {
	for _, n := range nodes {
		if err := e.RegisterNode(n.Key, n.Func, n.Options...); err != nil {
			return err
		}
	}
	return nil
}

// NodeKeys returns the registered node keys in registration order.
func (e *Engine) NodeKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Keys()
}

// AddGraph validates and stores a graph definition. Adding a slug again
// replaces the previous definition.
func (e *Engine) AddGraph(def GraphDefinition) error {
	if err := graphdef.Validate(def); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.graphs[def.Slug]; !exists {
		e.graphOrder = append(e.graphOrder, def.Slug)
	}
	e.graphs[def.Slug] = def
	delete(e.compiled, def.Slug)
	return nil
}

// LoadGraphs loads every definition file in a directory.
func (e *Engine) LoadGraphs(dir string) error {
	defs, err := graphdef.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := e.AddGraph(def); err != nil {
			return err
		}
	}
	return nil
}

// Graph returns the stored definition for a slug.
func (e *Engine) Graph(slug string) (GraphDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.graphs[slug]
	if !ok {
		return GraphDefinition{}, fmt.Errorf("%w: %q", ErrUnknownGraph, slug)
	}
	return def, nil
}

// GraphSlugs returns the stored graph slugs in insertion order.
func (e *Engine) GraphSlugs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.graphOrder))
	copy(out, e.graphOrder)
	return out
}

// BindingStatus partitions a graph's nodes into bound and skeleton
// against the current registry. Recomputed on every call.
func (e *Engine) BindingStatus(slug string) (BindingStatus, error) {
	def, err := e.Graph(slug)
	if err != nil {
		return BindingStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.BindingStatus(def), nil
}

// Validate compiles a graph without running it, returning its binding
// status. Skeleton nodes make it fail.
func (e *Engine) Validate(slug string) (BindingStatus, error) {
	c, err := e.compile(slug)
	if err != nil {
		return BindingStatus{}, err
	}
	return c.Binding, nil
}

// compile returns the cached compiled graph for a slug, compiling on
// first use. Concurrent first-use compiles of one slug are deduplicated.
func (e *Engine) compile(slug string) (*compiler.Compiled, error) {
	e.mu.Lock()
	if c, ok := e.compiled[slug]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	v, err, _ := e.compileGroup.Do(slug, func() (any, error) {
		def, err := e.Graph(slug)
		if err != nil {
			return nil, err
		}
		opts := compiler.Options{
			Schema:     e.schema,
			Definition: def,
			MaxSteps:   e.maxSteps,
		}
		if e.checkpointer != nil {
			opts.Checkpointer = e.checkpointer
		}
		c, err := e.compiler.Compile(opts)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.compiled[slug] = c
		e.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*compiler.Compiled), nil
}

// StartRunOptions configures one run.
type StartRunOptions struct {
	// RunID identifies the run; a ULID is generated when empty. Starting
	// a second run with an active id fails with ErrDuplicateRun.
	RunID string
	// Input is the initial state. The engine injects the run id into a
	// copy; the caller's map is never mutated.
	Input State
	// Metadata is persisted on the run record untouched.
	Metadata map[string]any
	// Timeout bounds wall-clock execution; zero means the engine default.
	Timeout time.Duration

	// OnCompleted receives the final merged state. Runs in the run's
	// goroutine after status persistence.
	OnCompleted func(runID string, result State)
	// OnFailed receives node errors. Cancelled runs (abort or timeout)
	// invoke neither callback.
	OnFailed func(runID string, err error)
}

// StartRun compiles the graph if needed, then launches the run in the
// background and returns its id immediately. Compile failures and
// configuration errors are synchronous; execution outcomes surface
// through the store and callbacks.
func (e *Engine) StartRun(ctx context.Context, slug string, opts StartRunOptions) (string, error) {
	c, err := e.compile(slug)
	if err != nil {
		return "", err
	}

	runID := opts.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	startOpts := runner.StartOptions{
		RunID:      runID,
		GraphSlug:  slug,
		Input:      opts.Input,
		StoreInput: e.storeInput,
		Metadata:   opts.Metadata,
		Timeout:    timeout,
		Callbacks: runner.Callbacks{
			OnCompleted: opts.OnCompleted,
			OnFailed:    opts.OnFailed,
		},
	}
	if e.runStore != nil {
		startOpts.Store = e.runStore
	}
	if err := e.runner.StartRun(c.Runnable, startOpts); err != nil {
		return "", err
	}
	return runID, nil
}

// AbortRun cancels an active run, reporting whether it was found. The
// run resolves to cancelled, not failed, and invokes no callbacks.
func (e *Engine) AbortRun(runID string) bool {
	return e.runner.AbortRun(runID)
}

// IsRunning reports whether a run id is currently active.
func (e *Engine) IsRunning(runID string) bool {
	return e.runner.IsRunning(runID)
}

// RunningIDs returns the active run ids, sorted.
func (e *Engine) RunningIDs() []string {
	return e.runner.RunningIDs()
}

// RunningCount returns the number of active runs.
func (e *Engine) RunningCount() int {
	return e.runner.RunningCount()
}

// RunDone returns a channel closed when the run's background work,
// including status persistence, has finished. Unknown ids return a
// closed channel.
func (e *Engine) RunDone(runID string) <-chan struct{} {
	return e.runner.Done(runID)
}

// GetRun reads a run record from the configured store.
func (e *Engine) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if e.store == nil {
		return RunRecord{}, ErrNoStore
	}
	return e.store.GetRun(ctx, runID)
}

// ListRuns reads run records from the configured store, newest first.
// An empty slug matches all graphs.
func (e *Engine) ListRuns(ctx context.Context, graphSlug string, limit, offset int) ([]RunRecord, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.ListRuns(ctx, graphSlug, limit, offset)
}

// GetSteps reads a run's step records ordered by step number.
func (e *Engine) GetSteps(ctx context.Context, runID string) ([]StepData, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.GetSteps(ctx, runID)
}

// Close drains pending step persistence and closes any store the
// engine opened itself. It does not abort active runs; abort them
// first if shutdown must not wait.
func (e *Engine) Close(ctx context.Context) error {
	if e.recorder != nil {
		done := make(chan struct{})
		go func() {
			e.recorder.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.ownsStore {
		return e.store.Close()
	}
	return nil
}
