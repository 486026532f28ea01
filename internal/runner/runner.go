// Package runner drives asynchronous execution of compiled graphs:
// lifecycle tracking, timeout, cancellation, and status persistence.
//
// A run moves running -> completed | failed | cancelled and the
// terminal state is final. Cancellation — manual abort or timeout — is
// not a failure: it never reaches the failure callback.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orikata-ai/orikata/internal/flow"
	"github.com/orikata-ai/orikata/internal/model"
	"github.com/orikata-ai/orikata/internal/recorder"
)

// DefaultTimeout bounds a run's wall-clock execution when StartOptions
// does not override it.
const DefaultTimeout = 5 * time.Minute

const persistTimeout = 10 * time.Second

var (
	// ErrAborted is the cancellation cause set by AbortRun.
	ErrAborted = errors.New("runner: run aborted")
	// ErrTimeout is the cancellation cause set by timeout expiry.
	ErrTimeout = errors.New("runner: run timed out")
	// ErrDuplicateRun is returned when a run id is already active.
	ErrDuplicateRun = errors.New("runner: run already active")
)

// Store persists run lifecycle transitions. A nil store disables
// persistence; writes are best-effort and never fail a run.
type Store interface {
	CreateRun(ctx context.Context, run model.RunRecord) error
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, update StatusUpdate) error
}

// StatusUpdate is the data attached to a status transition.
type StatusUpdate = model.RunUpdate

// Callbacks receive terminal run outcomes. Either field may be nil.
// Cancelled runs invoke neither.
type Callbacks struct {
	OnCompleted func(runID string, result flow.State)
	OnFailed    func(runID string, err error)
}

// StartOptions configures one run.
type StartOptions struct {
	RunID     string
	GraphSlug string
	Input     flow.State
	// StoreInput persists the input state on the run record.
	StoreInput bool
	Store      Store
	Callbacks  Callbacks
	Metadata   map[string]any
	// Timeout bounds execution; zero means DefaultTimeout.
	Timeout time.Duration
}

type entry struct {
	cancel    context.CancelCauseFunc
	timer     *time.Timer
	startedAt time.Time
	done      chan struct{}
}

// Manager tracks active runs. Entries are instance state keyed by run
// id; at most one entry exists per id at any time.
type Manager struct {
	mu      sync.Mutex
	running map[string]*entry

	recorder *recorder.Recorder // nil when step recording is off
	logger   *slog.Logger
	runIDKey string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder lets the manager clear step counters when runs end.
func WithRecorder(r *recorder.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRunIDKey overrides the state field the run id is injected under.
// It must match the recorder's key for steps to attach to the run.
func WithRunIDKey(key string) Option {
	return func(m *Manager) { m.runIDKey = key }
}

// New creates an empty run manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		running:  make(map[string]*entry),
		logger:   slog.Default(),
		runIDKey: recorder.DefaultRunIDKey,
	}
	for _, fn := range opts {
		fn(m)
	}
	return m
}

// StartRun launches a run in the background and returns immediately.
// The only synchronous failures are configuration errors (missing unit
// or run id, duplicate run id); execution outcomes surface through the
// store and callbacks, never through a return value.
func (m *Manager) StartRun(unit *flow.Runnable, opts StartOptions) error {
	if unit == nil {
		return fmt.Errorf("runner: executable unit is required")
	}
	if opts.RunID == "" {
		return fmt.Errorf("runner: run id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	m.mu.Lock()
	if _, exists := m.running[opts.RunID]; exists {
		m.mu.Unlock()
		cancel(nil)
		return fmt.Errorf("%w: %q", ErrDuplicateRun, opts.RunID)
	}
	e := &entry{
		cancel:    cancel,
		timer:     time.AfterFunc(timeout, func() { cancel(ErrTimeout) }),
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	m.running[opts.RunID] = e
	m.mu.Unlock()

	go m.execute(ctx, e, unit, opts)
	return nil
}

func (m *Manager) execute(ctx context.Context, e *entry, unit *flow.Runnable, opts StartOptions) {
	runID := opts.RunID
	defer func() {
		e.timer.Stop()
		if m.recorder != nil {
			m.recorder.ClearCounter(runID)
		}
		m.mu.Lock()
		delete(m.running, runID)
		m.mu.Unlock()
		close(e.done)
	}()

	input := make(flow.State, len(opts.Input)+1)
	for k, v := range opts.Input {
		input[k] = v
	}
	input[m.runIDKey] = runID

	if opts.Store != nil {
		rec := model.RunRecord{
			ID:        runID,
			GraphSlug: opts.GraphSlug,
			Status:    model.RunStatusRunning,
			Metadata:  opts.Metadata,
			StartedAt: e.startedAt,
		}
		if opts.StoreInput {
			rec.Input = opts.Input
		}
		m.persist(runID, func(pctx context.Context) error {
			return opts.Store.CreateRun(pctx, rec)
		})
	}

	result, err := unit.Invoke(ctx, input)

	switch {
	case ctx.Err() != nil:
		// The signal fired: manual abort and timeout both land here and
		// both resolve to cancelled, never failed.
		cause := context.Cause(ctx)
		m.logger.Info("runner: run cancelled", "run_id", runID, "cause", cause)
		m.updateStatus(opts, model.RunStatusCancelled, StatusUpdate{})
	case err != nil:
		m.logger.Warn("runner: run failed", "run_id", runID, "error", err)
		m.updateStatus(opts, model.RunStatusFailed, StatusUpdate{
			Result: map[string]any{"error": err.Error()},
		})
		if opts.Callbacks.OnFailed != nil {
			opts.Callbacks.OnFailed(runID, err)
		}
	default:
		tokens, _ := stateTokens(result)
		m.logger.Info("runner: run completed", "run_id", runID,
			"duration", time.Since(e.startedAt), "tokens_used", tokens)
		m.updateStatus(opts, model.RunStatusCompleted, StatusUpdate{
			Result: result, TokensUsed: tokens,
		})
		if opts.Callbacks.OnCompleted != nil {
			opts.Callbacks.OnCompleted(runID, result)
		}
	}
}

func (m *Manager) updateStatus(opts StartOptions, status model.RunStatus, update StatusUpdate) {
	if opts.Store == nil {
		return
	}
	m.persist(opts.RunID, func(pctx context.Context) error {
		return opts.Store.UpdateRunStatus(pctx, opts.RunID, status, update)
	})
}

// persist runs a store write on a detached context so cancelled runs
// can still record their terminal status. Failures are logged only.
func (m *Manager) persist(runID string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.logger.Error("runner: persist run state failed", "run_id", runID, "error", err)
	}
}

// AbortRun cancels a tracked run, reporting whether it was found.
// Aborting an already-cancelled run is a no-op at the signal level.
func (m *Manager) AbortRun(runID string) bool {
	m.mu.Lock()
	e, ok := m.running[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel(ErrAborted)
	return true
}

// IsRunning reports whether a run id is currently tracked.
func (m *Manager) IsRunning(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[runID]
	return ok
}

// RunningIDs returns the tracked run ids, sorted for determinism.
func (m *Manager) RunningIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunningCount returns the number of tracked runs.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Done returns a channel closed when the run's background task has
// fully finished, including status persistence and cleanup. For a run
// that is not tracked the channel is already closed.
func (m *Manager) Done(runID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.running[runID]; ok {
		return e.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func stateTokens(s flow.State) (int, bool) {
	switch n := s["tokens_used"].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
