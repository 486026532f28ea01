// Package flow is the state-machine execution engine the graph compiler
// targets. It offers keyed node registration, direct and conditional
// transitions, reserved entry/exit sentinels, and compilation to an
// invokable unit with cooperative cancellation between node executions.
//
// The engine is deliberately small: state is a flat map merged by
// shallow per-key reducers, and execution advances frontier-by-frontier
// (a node's direct fan-out runs within the same superstep, in edge
// declaration order).
package flow

import (
	"context"
	"errors"
)

// Start and End are the engine's reserved entry and exit sentinels.
// They are valid only as edge endpoints, never as node keys.
const (
	Start = "start"
	End   = "end"
)

// State is the execution state threaded through a run. Nodes receive
// the full state and return a partial update.
type State = map[string]any

// NodeFunc executes one node. The returned map is a partial update
// merged into the run state via the schema's reducers.
type NodeFunc func(ctx context.Context, s State) (State, error)

// Router selects the route key for a conditional transition given the
// current state.
type Router func(ctx context.Context, s State) (string, error)

// Reducer merges an update value into the existing value for one state key.
type Reducer func(existing, update any) any

// Checkpointer persists intermediate state. The engine calls Save after
// every superstep; failures abort the run.
type Checkpointer interface {
	Save(ctx context.Context, s State) error
}

// ErrNilSchema is returned when a graph is built without a state schema.
var ErrNilSchema = errors.New("flow: schema is required")

// Schema describes how state keys merge. Keys without a reducer are
// overwritten by updates (last write wins). The compiler treats the
// schema as an opaque token; only the engine interprets it.
type Schema struct {
	reducers map[string]Reducer
}

// NewSchema returns an empty schema with overwrite semantics for all keys.
func NewSchema() *Schema {
	return &Schema{reducers: make(map[string]Reducer)}
}

// WithReducer registers a merge function for one state key and returns
// the schema for chaining.
func (s *Schema) WithReducer(key string, r Reducer) *Schema {
	s.reducers[key] = r
	return s
}

// Apply merges a partial update into dst in place.
func (s *Schema) Apply(dst State, update State) {
	for k, v := range update {
		if r, ok := s.reducers[k]; ok {
			dst[k] = r(dst[k], v)
			continue
		}
		dst[k] = v
	}
}

// AppendReducer accumulates slice-valued keys instead of overwriting
// them. Non-slice existing values are replaced.
func AppendReducer(existing, update any) any {
	cur, ok := existing.([]any)
	if !ok && existing != nil {
		return update
	}
	switch u := update.(type) {
	case []any:
		return append(cur, u...)
	default:
		return append(cur, u)
	}
}
