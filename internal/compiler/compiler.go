// Package compiler assembles a stored graph definition and a node
// registry into an executable flow graph, wiring step recording into
// every node and resolving conditional routing from the definition's
// route maps.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orikata-ai/orikata/internal/flow"
	"github.com/orikata-ai/orikata/internal/model"
	"github.com/orikata-ai/orikata/internal/recorder"
	"github.com/orikata-ai/orikata/internal/registry"
)

// ErrMissingSchema is returned when Compile is called without a state
// schema. The schema is a required collaborator, not an optional one.
var ErrMissingSchema = errors.New("compiler: state schema is required")

// Compiler binds graph definitions against a registry. A single
// compiler may compile any number of definitions; it retains no
// reference to the compiled units it returns.
type Compiler struct {
	registry *registry.Registry
	recorder *recorder.Recorder
	logger   *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithRecorder wires step recording into every compiled node.
func WithRecorder(r *recorder.Recorder) Option {
	return func(c *Compiler) { c.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) { c.logger = logger }
}

// New creates a compiler over the given registry.
func New(reg *registry.Registry, opts ...Option) *Compiler {
	c := &Compiler{registry: reg, logger: slog.Default()}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Options carries the inputs for one compilation.
type Options struct {
	// Schema describes state merging. Required.
	Schema *flow.Schema
	// Definition is the stored graph topology. Read-only input.
	Definition model.GraphDefinition
	// Checkpointer, when set, is passed through to the flow engine untouched.
	Checkpointer flow.Checkpointer
	// MaxSteps caps node executions per run; 0 means the engine default.
	MaxSteps int
}

// Compiled is the result of a successful compilation.
type Compiled struct {
	Runnable *flow.Runnable
	Binding  model.BindingStatus
}

// Compile validates the definition against the registry and assembles
// the executable graph. It fails with a descriptive error and never
// returns a partial result: missing schema and unbound (skeleton) nodes
// are the compile-time failure points, both checked before any node is
// registered with the engine.
func (c *Compiler) Compile(opts Options) (*Compiled, error) {
	if opts.Schema == nil {
		return nil, ErrMissingSchema
	}
	def := opts.Definition

	binding := c.registry.BindingStatus(def)
	if len(binding.Skeleton) > 0 {
		return nil, fmt.Errorf("compiler: graph %q has nodes without implementations: %s",
			def.Slug, strings.Join(binding.Skeleton, ", "))
	}

	g := flow.New(opts.Schema)
	for _, node := range def.Nodes {
		key := model.ParseNodeKey(node.Key)
		if key.IsReserved() {
			continue
		}
		d, ok := c.registry.Get(key.String())
		if !ok {
			// Unreachable after the skeleton check; kept as a guard.
			return nil, fmt.Errorf("compiler: node %q not registered", key)
		}
		fn := d.Run()
		if c.recorder != nil {
			var wrapOpts []recorder.WrapOption
			if s := d.OutputSummarizer(); s != nil {
				wrapOpts = append(wrapOpts, recorder.WithOutputSummarizer(recorder.OutputSummarizer(s)))
			}
			fn = c.recorder.Wrap(key.String(), fn, wrapOpts...)
		}
		if err := g.AddNode(key.String(), fn); err != nil {
			return nil, fmt.Errorf("compiler: %w", err)
		}
	}

	if err := c.addTransitions(g, def); err != nil {
		return nil, err
	}

	var flowOpts []flow.CompileOption
	if opts.Checkpointer != nil {
		flowOpts = append(flowOpts, flow.WithCheckpointer(opts.Checkpointer))
	}
	if opts.MaxSteps > 0 {
		flowOpts = append(flowOpts, flow.WithMaxSteps(opts.MaxSteps))
	}
	runnable, err := g.Compile(flowOpts...)
	if err != nil {
		return nil, fmt.Errorf("compiler: graph %q: %w", def.Slug, err)
	}

	c.logger.Debug("compiler: graph compiled",
		"slug", def.Slug, "nodes", len(binding.Bound), "edges", len(def.Edges))
	return &Compiled{Runnable: runnable, Binding: binding}, nil
}

// addTransitions groups edges by source. A group containing a route-map
// edge becomes a single conditional transition driven by the source
// node's route predicates; a plain group becomes independent direct
// edges (fan-out allowed).
func (c *Compiler) addTransitions(g *flow.Graph, def model.GraphDefinition) error {
	groups := make(map[string][]model.GraphEdge)
	var sources []string
	for _, e := range def.Edges {
		if _, ok := groups[e.Source]; !ok {
			sources = append(sources, e.Source)
		}
		groups[e.Source] = append(groups[e.Source], e)
	}

	for _, source := range sources {
		group := groups[source]
		conditional := firstConditional(group)
		if conditional == nil {
			for _, e := range group {
				if err := g.AddEdge(translate(e.Source), translate(e.Target)); err != nil {
					return fmt.Errorf("compiler: edge %s -> %s: %w", e.Source, e.Target, err)
				}
			}
			continue
		}

		routeMap := conditional.RouteMap
		targets := make(map[string]string, len(routeMap))
		for _, b := range routeMap {
			targets[b.Route] = translate(b.Target)
		}
		router := c.buildRouter(source, routeMap)
		if err := g.AddBranch(translate(source), router, targets); err != nil {
			return fmt.Errorf("compiler: conditional edge at %s: %w", source, err)
		}
	}
	return nil
}

// firstConditional returns the first route-map-bearing edge of a group.
// When several edges from one source declare route maps, only the first
// is honored and the rest are ignored; the same applies to plain edges
// sharing a source with a conditional one.
func firstConditional(group []model.GraphEdge) *model.GraphEdge {
	for i := range group {
		if group[i].Conditional() {
			return &group[i]
		}
	}
	return nil
}

// buildRouter evaluates the source node's route predicates in route-map
// declaration order and returns the first route whose predicate holds.
// When none match, the first declared route is the default. Callers
// rely on this fallback; a no-match condition is not an error.
func (c *Compiler) buildRouter(source string, routeMap model.RouteMap) flow.Router {
	d, hasDef := c.registry.Get(source)
	return func(ctx context.Context, s flow.State) (string, error) {
		if hasDef {
			for _, b := range routeMap {
				pred, ok := d.Route(b.Route)
				if ok && pred(s) {
					return b.Route, nil
				}
			}
		}
		return routeMap[0].Route, nil
	}
}

func translate(key string) string {
	k := model.ParseNodeKey(key)
	switch {
	case k.IsStart():
		return flow.Start
	case k.IsEnd():
		return flow.End
	default:
		return key
	}
}
