package main

import (
	"context"

	orikata "github.com/orikata-ai/orikata"
)

// visitLogKey accumulates the visit order during stub runs.
const visitLogKey = "visited_nodes"

func appendReducer(existing, update any) any {
	a, _ := existing.([]any)
	b, _ := update.([]any)
	return append(a, b...)
}

// registerStubNodes gives every node key across all loaded graphs a
// pass-through implementation that records its visit. Keys already
// registered are left alone.
func registerStubNodes(eng *orikata.Engine) error {
	registered := make(map[string]bool)
	for _, key := range eng.NodeKeys() {
		registered[key] = true
	}
	for _, slug := range eng.GraphSlugs() {
		def, err := eng.Graph(slug)
		if err != nil {
			return err
		}
		for _, key := range def.NodeKeys() {
			if registered[key] {
				continue
			}
			if err := eng.RegisterNode(key, stubNode(key)); err != nil {
				return err
			}
			registered[key] = true
		}
	}
	return nil
}

func stubNode(key string) orikata.NodeFunc {
	return func(ctx context.Context, s orikata.State) (orikata.State, error) {
		return orikata.State{visitLogKey: []any{key}}, nil
	}
}
