// Package registry holds the hand-written node implementations a graph
// definition binds against.
//
// A Registry is populated once at startup, before any compile or run.
// It is not safe for concurrent mutation; concurrent reads are fine.
package registry

import (
	"errors"
	"fmt"

	"github.com/orikata-ai/orikata/internal/flow"
	"github.com/orikata-ai/orikata/internal/model"
)

// ErrDuplicateKey is returned when a node key is registered twice.
// There are no overwrite semantics.
var ErrDuplicateKey = errors.New("registry: duplicate node key")

// Predicate evaluates a conditional route against the current state.
type Predicate func(s flow.State) bool

// OutputSummarizer condenses a node's result for step records, given
// the input state and the node's partial update.
type OutputSummarizer func(input flow.State, output flow.State) any

// Definition is an immutable node implementation: a key, an execution
// function, and optional routes and output summarization. Construct
// with NewDefinition; the zero value is invalid.
type Definition struct {
	key             string
	label           string
	routes          map[string]Predicate
	run             flow.NodeFunc
	summarizeOutput OutputSummarizer
}

// DefinitionOption configures optional Definition fields.
type DefinitionOption func(*Definition)

// WithLabel sets a human-readable label.
func WithLabel(label string) DefinitionOption {
	return func(d *Definition) { d.label = label }
}

// WithRoute adds one conditional route predicate.
func WithRoute(route string, p Predicate) DefinitionOption {
	return func(d *Definition) { d.routes[route] = p }
}

// WithOutputSummarizer sets the step-record output summarizer.
func WithOutputSummarizer(fn OutputSummarizer) DefinitionOption {
	return func(d *Definition) { d.summarizeOutput = fn }
}

// NewDefinition validates and builds a node definition. Key and run are
// required; everything else is optional.
func NewDefinition(key string, run flow.NodeFunc, opts ...DefinitionOption) (Definition, error) {
	if key == "" {
		return Definition{}, fmt.Errorf("registry: node key must not be empty")
	}
	if run == nil {
		return Definition{}, fmt.Errorf("registry: node %q has no run function", key)
	}
	d := Definition{key: key, run: run, routes: make(map[string]Predicate)}
	for _, fn := range opts {
		fn(&d)
	}
	return d, nil
}

// Key returns the unique node key.
func (d Definition) Key() string { return d.key }

// Label returns the optional human-readable label.
func (d Definition) Label() string { return d.label }

// Run returns the node's execution function.
func (d Definition) Run() flow.NodeFunc { return d.run }

// Route returns the predicate for one route key, if declared.
func (d Definition) Route(route string) (Predicate, bool) {
	p, ok := d.routes[route]
	return p, ok
}

// OutputSummarizer returns the optional step-record summarizer.
func (d Definition) OutputSummarizer() OutputSummarizer { return d.summarizeOutput }

// Registry is an insertion-ordered key to Definition map.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register stores a definition, failing on a duplicate key.
func (r *Registry) Register(d Definition) error {
	if d.key == "" || d.run == nil {
		return fmt.Errorf("registry: definition not built with NewDefinition")
	}
	if _, ok := r.defs[d.key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, d.key)
	}
	r.defs[d.key] = d
	r.order = append(r.order, d.key)
	return nil
}

// RegisterAll registers definitions in order, stopping at the first error.
func (r *Registry) RegisterAll(defs ...Definition) error {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the definition for key.
func (r *Registry) Get(key string) (Definition, bool) {
	d, ok := r.defs[key]
	return d, ok
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.defs[key]
	return ok
}

// Keys returns registered keys in insertion order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Entries returns registered definitions in insertion order.
func (r *Registry) Entries() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.defs[k])
	}
	return out
}

// BindingStatus compares a graph definition's non-reserved node keys
// against the registry, preserving the definition's node order in both
// partitions. It is recomputed on every call, never cached.
func (r *Registry) BindingStatus(def model.GraphDefinition) model.BindingStatus {
	status := model.BindingStatus{Bound: []string{}, Skeleton: []string{}}
	for _, key := range def.NodeKeys() {
		if r.Has(key) {
			status.Bound = append(status.Bound, key)
		} else {
			status.Skeleton = append(status.Skeleton, key)
		}
	}
	return status
}
