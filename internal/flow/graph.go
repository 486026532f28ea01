package flow

import (
	"fmt"
)

// Graph accumulates nodes and transitions before compilation. The zero
// value is not usable; construct with New.
type Graph struct {
	schema   *Schema
	nodes    map[string]NodeFunc
	order    []string
	edges    map[string][]string
	branches map[string]*branch
}

type branch struct {
	router  Router
	targets map[string]string // route key -> node key
}

// New creates an empty graph over the given state schema.
func New(schema *Schema) *Graph {
	return &Graph{
		schema:   schema,
		nodes:    make(map[string]NodeFunc),
		edges:    make(map[string][]string),
		branches: make(map[string]*branch),
	}
}

// AddNode registers an executable node under key.
func (g *Graph) AddNode(key string, fn NodeFunc) error {
	if key == "" {
		return fmt.Errorf("flow: node key must not be empty")
	}
	if key == Start || key == End {
		return fmt.Errorf("flow: node key %q is reserved", key)
	}
	if fn == nil {
		return fmt.Errorf("flow: node %q has no function", key)
	}
	if _, ok := g.nodes[key]; ok {
		return fmt.Errorf("flow: node %q already added", key)
	}
	g.nodes[key] = fn
	g.order = append(g.order, key)
	return nil
}

// AddEdge registers a direct transition. A source may fan out to
// multiple targets; targets run in edge declaration order.
func (g *Graph) AddEdge(from, to string) error {
	if from == End {
		return fmt.Errorf("flow: %s cannot be an edge source", End)
	}
	if to == Start {
		return fmt.Errorf("flow: %s cannot be an edge target", Start)
	}
	if err := g.checkEndpoint(from); err != nil {
		return err
	}
	if err := g.checkEndpoint(to); err != nil {
		return err
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// AddBranch registers a conditional transition: router picks a route
// key, targets maps route keys to node keys. A source holds at most one
// branch.
func (g *Graph) AddBranch(from string, router Router, targets map[string]string) error {
	if from == End {
		return fmt.Errorf("flow: %s cannot be a branch source", End)
	}
	if err := g.checkEndpoint(from); err != nil {
		return err
	}
	if router == nil {
		return fmt.Errorf("flow: branch at %q has no router", from)
	}
	if len(targets) == 0 {
		return fmt.Errorf("flow: branch at %q has no targets", from)
	}
	if _, ok := g.branches[from]; ok {
		return fmt.Errorf("flow: node %q already has a branch", from)
	}
	for route, target := range targets {
		if target == Start {
			return fmt.Errorf("flow: branch route %q targets %s", route, Start)
		}
		if err := g.checkEndpoint(target); err != nil {
			return fmt.Errorf("flow: branch route %q: %w", route, err)
		}
	}
	g.branches[from] = &branch{router: router, targets: targets}
	return nil
}

func (g *Graph) checkEndpoint(key string) error {
	if key == Start || key == End {
		return nil
	}
	if _, ok := g.nodes[key]; !ok {
		return fmt.Errorf("flow: unknown node %q", key)
	}
	return nil
}
