// Package recorder instruments node executions with run-scoped step
// numbering, input/output summarization, duration and token-delta
// measurement, and fire-and-forget persistence.
//
// Recording must never destabilize the execution path: persistence runs
// in detached goroutines, persistence errors are logged and swallowed,
// and a state map without a run id executes the node with no
// instrumentation at all.
package recorder

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/orikata-ai/orikata/internal/flow"
	"github.com/orikata-ai/orikata/internal/model"
	"github.com/orikata-ai/orikata/internal/sanitize"
	"github.com/orikata-ai/orikata/internal/telemetry"
)

// DefaultRunIDKey is the state field carrying the run id.
const DefaultRunIDKey = "agent_run_id"

// tokensKey is the state/result field carrying the cumulative token count.
const tokensKey = "tokens_used"

const persistTimeout = 10 * time.Second

// Persister receives recorded steps. Writes are submitted from detached
// goroutines and never awaited on the execution path.
type Persister interface {
	CreateStep(ctx context.Context, step model.StepData) error
}

// InputSummarizer condenses the input state for a step record.
type InputSummarizer func(s flow.State) map[string]any

// OutputSummarizer condenses a node's result for a step record.
type OutputSummarizer func(input flow.State, output flow.State) any

// Recorder owns the per-run step counters and the persistence sink.
// Counters are instance state, not globals, so independent recorders
// never share numbering.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]int

	persister Persister
	logger    *slog.Logger
	runIDKey  string
	debug     bool

	tracer    trace.Tracer
	steps     metric.Int64Counter
	tokens    metric.Int64Counter
	persistWG sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the structured logger for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithRunIDKey overrides the state field carrying the run id.
func WithRunIDKey(key string) Option {
	return func(r *Recorder) { r.runIDKey = key }
}

// WithDebug enables sanitized before/after state snapshots on every step.
func WithDebug(debug bool) Option {
	return func(r *Recorder) { r.debug = debug }
}

// New creates a recorder writing steps to persister.
func New(persister Persister, opts ...Option) *Recorder {
	r := &Recorder{
		counters:  make(map[string]int),
		persister: persister,
		logger:    slog.Default(),
		runIDKey:  DefaultRunIDKey,
		tracer:    otel.Tracer("orikata/recorder"),
	}
	for _, fn := range opts {
		fn(r)
	}
	meter := telemetry.Meter("orikata/recorder")
	if c, err := meter.Int64Counter("orikata.steps.recorded"); err == nil {
		r.steps = c
	}
	if c, err := meter.Int64Counter("orikata.tokens.used"); err == nil {
		r.tokens = c
	}
	return r
}

// WrapOption configures one wrapped node.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	inputSummarizer  InputSummarizer
	outputSummarizer OutputSummarizer
	toolName         string
}

// WithInputSummarizer replaces the default input summary for this node.
func WithInputSummarizer(fn InputSummarizer) WrapOption {
	return func(c *wrapConfig) { c.inputSummarizer = fn }
}

// WithOutputSummarizer replaces the raw result as the step output.
func WithOutputSummarizer(fn OutputSummarizer) WrapOption {
	return func(c *wrapConfig) { c.outputSummarizer = fn }
}

// WithToolName tags the step with a tool name.
func WithToolName(name string) WrapOption {
	return func(c *wrapConfig) { c.toolName = name }
}

// Wrap decorates a node function with step recording. The wrapped
// function behaves identically to fn from the caller's point of view:
// results and errors pass through unchanged.
func (r *Recorder) Wrap(nodeKey string, fn flow.NodeFunc, opts ...WrapOption) flow.NodeFunc {
	cfg := wrapConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	return func(ctx context.Context, state flow.State) (flow.State, error) {
		runID, ok := state[r.runIDKey].(string)
		if !ok || runID == "" {
			// Standalone execution (unit tests, ad-hoc invocations):
			// no run id, no instrumentation.
			return fn(ctx, state)
		}

		stepNumber := r.nextStep(runID)
		inputSummary := r.summarizeInput(cfg, state)
		var stateBefore map[string]any
		if r.debug {
			stateBefore = sanitize.State(state)
		}

		ctx, span := r.tracer.Start(ctx, "node."+nodeKey, trace.WithAttributes(
			attribute.String("orikata.run_id", runID),
			attribute.String("orikata.node", nodeKey),
			attribute.Int("orikata.step", stepNumber),
		))
		defer span.End()

		start := time.Now()
		result, err := fn(ctx, state)
		durationMs := time.Since(start).Milliseconds()

		step := model.StepData{
			RunID:      runID,
			NodeID:     nodeKey,
			StepNumber: stepNumber,
			Input:      inputSummary,
			DurationMs: durationMs,
			ToolName:   cfg.toolName,
		}
		if r.debug {
			step.StateBefore = stateBefore
		}

		if err != nil {
			span.RecordError(err)
			step.Output = map[string]any{"error": err.Error()}
			r.submit(step)
			return nil, err
		}

		if cfg.outputSummarizer != nil {
			step.Output = cfg.outputSummarizer(state, result)
		} else {
			step.Output = result
		}
		step.TokensUsed = tokensDelta(state, result)
		if r.debug {
			merged := make(flow.State, len(state)+len(result))
			for k, v := range state {
				merged[k] = v
			}
			for k, v := range result {
				merged[k] = v
			}
			step.StateAfter = sanitize.State(merged)
		}

		if r.steps != nil {
			r.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("orikata.node", nodeKey)))
		}
		if r.tokens != nil && step.TokensUsed > 0 {
			r.tokens.Add(ctx, int64(step.TokensUsed), metric.WithAttributes(attribute.String("orikata.node", nodeKey)))
		}
		r.submit(step)
		return result, nil
	}
}

// nextStep allocates the next 1-based step number for a run.
func (r *Recorder) nextStep(runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[runID]++
	return r.counters[runID]
}

// ClearCounter resets a run's step numbering. The run manager calls
// this when a run ends so a reused id starts at 1 again.
func (r *Recorder) ClearCounter(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, runID)
}

// Wait blocks until all submitted persistence writes have drained.
// Used by tests and graceful shutdown; the execution path never calls it.
func (r *Recorder) Wait() {
	r.persistWG.Wait()
}

// submit fires a persistence write in a detached goroutine. Errors go
// to the logger and nowhere else.
func (r *Recorder) submit(step model.StepData) {
	if r.persister == nil {
		return
	}
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("recorder: step persister panicked",
					"run_id", step.RunID, "step", step.StepNumber, "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.persister.CreateStep(ctx, step); err != nil {
			r.logger.Error("recorder: persist step failed",
				"run_id", step.RunID, "node", step.NodeID, "step", step.StepNumber, "error", err)
		}
	}()
}

func (r *Recorder) summarizeInput(cfg wrapConfig, state flow.State) map[string]any {
	if cfg.inputSummarizer != nil {
		return cfg.inputSummarizer(state)
	}
	summary := make(map[string]any)
	if v, ok := state["iteration"]; ok {
		summary["iteration"] = v
	}
	if v, ok := state[tokensKey]; ok {
		summary[tokensKey] = v
	}
	for k, v := range state {
		if v == nil {
			continue
		}
		switch reflect.ValueOf(v).Kind() {
		case reflect.Slice, reflect.Array:
			summary[k+"_count"] = reflect.ValueOf(v).Len()
		}
	}
	return summary
}

// tokensDelta returns result.tokens_used - state.tokens_used when both
// are numeric, else 0.
func tokensDelta(state, result flow.State) int {
	after, ok := numeric(result[tokensKey])
	if !ok {
		return 0
	}
	before, ok := numeric(state[tokensKey])
	if !ok {
		return 0
	}
	return after - before
}

func numeric(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
