package flow

import (
	"context"
	"fmt"
	"slices"
)

const defaultMaxSteps = 250

// CompileOption adjusts compilation of a graph.
type CompileOption func(*compileOptions)

type compileOptions struct {
	maxSteps     int
	checkpointer Checkpointer
}

// WithMaxSteps caps the number of node executions in one run. The cap
// guards against unbounded routing loops; the default is 250.
func WithMaxSteps(n int) CompileOption {
	return func(o *compileOptions) { o.maxSteps = n }
}

// WithCheckpointer persists state after every superstep.
func WithCheckpointer(cp Checkpointer) CompileOption {
	return func(o *compileOptions) { o.checkpointer = cp }
}

// Compile validates the assembled graph and returns an invokable unit.
func (g *Graph) Compile(opts ...CompileOption) (*Runnable, error) {
	o := compileOptions{maxSteps: defaultMaxSteps}
	for _, fn := range opts {
		fn(&o)
	}
	if g.schema == nil {
		return nil, ErrNilSchema
	}
	if len(g.edges[Start]) == 0 && g.branches[Start] == nil {
		return nil, fmt.Errorf("flow: graph has no entry edge from %s", Start)
	}
	if o.maxSteps <= 0 {
		return nil, fmt.Errorf("flow: max steps must be positive, got %d", o.maxSteps)
	}
	return &Runnable{graph: g, opts: o}, nil
}

// Runnable is a compiled graph. It is safe for concurrent Invoke calls:
// each invocation owns its state copy and the graph is immutable after
// compilation.
type Runnable struct {
	graph *Graph
	opts  compileOptions
}

// Invoke executes the graph from the entry sentinel until the frontier
// drains, returning the final state. Cancellation is cooperative:
// the context is checked before each node execution, never mid-node.
func (r *Runnable) Invoke(ctx context.Context, initial State) (State, error) {
	g := r.graph
	state := make(State, len(initial))
	for k, v := range initial {
		state[k] = v
	}

	frontier, err := g.successors(ctx, Start, state)
	if err != nil {
		return nil, err
	}

	steps := 0
	for len(frontier) > 0 {
		var next []string
		for _, key := range frontier {
			if key == End {
				continue
			}
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			steps++
			if steps > r.opts.maxSteps {
				return nil, fmt.Errorf("flow: exceeded %d steps, aborting (routing loop?)", r.opts.maxSteps)
			}
			update, err := g.nodes[key](ctx, state)
			if err != nil {
				return nil, fmt.Errorf("flow: node %q: %w", key, err)
			}
			g.schema.Apply(state, update)

			succ, err := g.successors(ctx, key, state)
			if err != nil {
				return nil, err
			}
			for _, s := range succ {
				if !slices.Contains(next, s) {
					next = append(next, s)
				}
			}
		}
		if r.opts.checkpointer != nil {
			if err := r.opts.checkpointer.Save(ctx, state); err != nil {
				return nil, fmt.Errorf("flow: checkpoint: %w", err)
			}
		}
		frontier = next
	}
	return state, nil
}

// successors resolves the next frontier entries after key: the branch
// route if one is registered, otherwise the direct edges in declaration
// order.
func (g *Graph) successors(ctx context.Context, key string, s State) ([]string, error) {
	if b, ok := g.branches[key]; ok {
		route, err := b.router(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("flow: branch at %q: %w", key, err)
		}
		target, ok := b.targets[route]
		if !ok {
			return nil, fmt.Errorf("flow: branch at %q routed to unknown route %q", key, route)
		}
		return []string{target}, nil
	}
	return g.edges[key], nil
}
