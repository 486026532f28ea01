// Package model defines the core domain types for orikata.
//
// Types are shared between the engine packages and the storage layer.
// They use strong typing (time.Time, enums) and avoid interface{}
// except where execution state is genuinely schemaless.
package model

import (
	"time"
)

// RunStatus represents the lifecycle state of a graph run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunRecord is one execution instance of a compiled graph.
// FinishedAt is set exactly when Status transitions away from running.
type RunRecord struct {
	ID         string         `json:"id"`
	GraphSlug  string         `json:"graph_slug"`
	Status     RunStatus      `json:"status"`
	Input      map[string]any `json:"input,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// RunUpdate carries the data attached to a run status transition.
// Nil/zero fields leave the stored value untouched.
type RunUpdate struct {
	Result     map[string]any
	TokensUsed int
}

// StepData is one recorded node invocation within a run, numbered
// sequentially from 1. StateBefore/StateAfter are present only when the
// recorder runs with debug snapshots enabled.
type StepData struct {
	RunID       string         `json:"agent_run_id"`
	NodeID      string         `json:"node_id"`
	StepNumber  int            `json:"step_number"`
	Input       map[string]any `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	TokensUsed  int            `json:"tokens_used"`
	ToolName    string         `json:"tool_name,omitempty"`
	StateBefore map[string]any `json:"state_before,omitempty"`
	StateAfter  map[string]any `json:"state_after,omitempty"`
}
