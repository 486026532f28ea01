package orikata

import (
	"context"

	"github.com/orikata-ai/orikata/internal/model"
)

// State is the mutable run state passed between nodes. Nodes return a
// partial update; the engine merges it into the accumulated state.
type State = map[string]any

// NodeFunc is a node implementation. It receives the accumulated state
// and returns a partial update to merge.
type NodeFunc func(ctx context.Context, state State) (State, error)

// Predicate evaluates a conditional route against the current state.
type Predicate func(state State) bool

// OutputSummarizer condenses a node's result for its step record.
type OutputSummarizer func(input State, output State) any

// Shared data model, re-exported so embedders never import internal
// packages.
type (
	GraphDefinition = model.GraphDefinition
	GraphNode       = model.GraphNode
	GraphEdge       = model.GraphEdge
	RouteMap        = model.RouteMap
	RouteBinding    = model.RouteBinding
	BindingStatus   = model.BindingStatus

	RunStatus = model.RunStatus
	RunRecord = model.RunRecord
	RunUpdate = model.RunUpdate
	StepData  = model.StepData
)

// Run status values.
const (
	RunStatusRunning   = model.RunStatusRunning
	RunStatusCompleted = model.RunStatusCompleted
	RunStatusFailed    = model.RunStatusFailed
	RunStatusCancelled = model.RunStatusCancelled
)

// Reserved node keys marking graph entry and exit in definitions.
const (
	ReservedStart = model.ReservedStart
	ReservedEnd   = model.ReservedEnd
)
