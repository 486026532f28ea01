package orikata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orikata-ai/orikata/internal/storage"
)

func triageGraph() GraphDefinition {
	return GraphDefinition{
		Slug: "triage",
		Nodes: []GraphNode{
			{Key: "classify"},
			{Key: "escalate"},
			{Key: "respond"},
		},
		Edges: []GraphEdge{
			{Source: ReservedStart, Target: "classify"},
			{Source: "classify", Target: "respond", RouteMap: RouteMap{
				{Route: "calm", Target: "respond"},
				{Route: "urgent", Target: "escalate"},
			}},
			{Source: "escalate", Target: ReservedEnd},
			{Source: "respond", Target: ReservedEnd},
		},
	}
}

func newTriageEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	var opts []Option
	if store != nil {
		opts = append(opts, WithStore(store))
	}
	eng, err := New(opts...)
	require.NoError(t, err)

	require.NoError(t, eng.RegisterNode("classify",
		func(ctx context.Context, s State) (State, error) {
			return State{"severity": s["severity"]}, nil
		},
		WithNodeRoute("urgent", func(s State) bool {
			sev, _ := s["severity"].(string)
			return sev == "high"
		}),
		WithNodeRoute("calm", func(s State) bool { return true }),
	))
	require.NoError(t, eng.RegisterNode("escalate",
		func(ctx context.Context, s State) (State, error) {
			return State{"handled_by": "escalate"}, nil
		}))
	require.NoError(t, eng.RegisterNode("respond",
		func(ctx context.Context, s State) (State, error) {
			return State{"handled_by": "respond"}, nil
		}))
	require.NoError(t, eng.AddGraph(triageGraph()))
	return eng
}

func TestEngineRunToCompletion(t *testing.T) {
	store := storage.NewMemory()
	eng := newTriageEngine(t, store)

	done := make(chan State, 1)
	runID, err := eng.StartRun(context.Background(), "triage", StartRunOptions{
		Input:       State{"severity": "high"},
		OnCompleted: func(id string, result State) { done <- result },
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	select {
	case result := <-done:
		assert.Equal(t, "escalate", result["handled_by"])
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}
	<-eng.RunDone(runID)

	run, err := eng.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, "triage", run.GraphSlug)
	require.NotNil(t, run.FinishedAt)

	require.NoError(t, eng.Close(context.Background()))
	steps, err := eng.GetSteps(context.Background(), runID)
	require.NoError(t, err)
	assert.NotEmpty(t, steps)
}

func TestEngineRoutingFallback(t *testing.T) {
	eng := newTriageEngine(t, nil)

	done := make(chan State, 1)
	_, err := eng.StartRun(context.Background(), "triage", StartRunOptions{
		Input:       State{"severity": "low"},
		OnCompleted: func(id string, result State) { done <- result },
	})
	require.NoError(t, err)

	select {
	case result := <-done:
		assert.Equal(t, "respond", result["handled_by"])
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}
}

func TestEngineUnknownGraph(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	_, err = eng.StartRun(context.Background(), "ghost", StartRunOptions{})
	assert.ErrorIs(t, err, ErrUnknownGraph)

	_, err = eng.BindingStatus("ghost")
	assert.ErrorIs(t, err, ErrUnknownGraph)
}

func TestEngineBindingStatus(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	require.NoError(t, eng.RegisterNode("classify",
		func(ctx context.Context, s State) (State, error) { return nil, nil }))
	require.NoError(t, eng.AddGraph(triageGraph()))

	status, err := eng.BindingStatus("triage")
	require.NoError(t, err)
	assert.Equal(t, []string{"classify"}, status.Bound)
	assert.Equal(t, []string{"escalate", "respond"}, status.Skeleton)

	// Skeleton nodes fail validation but not binding queries.
	_, err = eng.Validate("triage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalate")
}

func TestEngineAbort(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	require.NoError(t, eng.RegisterNode("wait",
		func(ctx context.Context, s State) (State, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Second):
				return State{}, nil
			}
		}))
	require.NoError(t, eng.AddGraph(GraphDefinition{
		Slug:  "waiting",
		Nodes: []GraphNode{{Key: "wait"}},
		Edges: []GraphEdge{
			{Source: ReservedStart, Target: "wait"},
			{Source: "wait", Target: ReservedEnd},
		},
	}))

	failed := make(chan error, 1)
	runID, err := eng.StartRun(context.Background(), "waiting", StartRunOptions{
		RunID:    "abort-me",
		OnFailed: func(id string, err error) { failed <- err },
	})
	require.NoError(t, err)
	require.True(t, eng.IsRunning(runID))
	assert.Equal(t, 1, eng.RunningCount())
	assert.Equal(t, []string{"abort-me"}, eng.RunningIDs())

	require.True(t, eng.AbortRun(runID))
	<-eng.RunDone(runID)

	assert.False(t, eng.IsRunning(runID))
	select {
	case err := <-failed:
		t.Fatalf("aborted run must not invoke OnFailed, got %v", err)
	default:
	}
}

func TestEngineDuplicateRunID(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	require.NoError(t, eng.RegisterNode("wait",
		func(ctx context.Context, s State) (State, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	require.NoError(t, eng.AddGraph(GraphDefinition{
		Slug:  "waiting",
		Nodes: []GraphNode{{Key: "wait"}},
		Edges: []GraphEdge{
			{Source: ReservedStart, Target: "wait"},
			{Source: "wait", Target: ReservedEnd},
		},
	}))

	_, err = eng.StartRun(context.Background(), "waiting", StartRunOptions{RunID: "dup"})
	require.NoError(t, err)
	_, err = eng.StartRun(context.Background(), "waiting", StartRunOptions{RunID: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateRun)

	eng.AbortRun("dup")
	<-eng.RunDone("dup")
}

func TestEngineReducer(t *testing.T) {
	eng, err := New(WithReducer("log", func(existing, update any) any {
		a, _ := existing.([]any)
		b, _ := update.([]any)
		return append(a, b...)
	}))
	require.NoError(t, err)
	require.NoError(t, eng.RegisterNode("first",
		func(ctx context.Context, s State) (State, error) {
			return State{"log": []any{"first"}}, nil
		}))
	require.NoError(t, eng.RegisterNode("second",
		func(ctx context.Context, s State) (State, error) {
			return State{"log": []any{"second"}}, nil
		}))
	require.NoError(t, eng.AddGraph(GraphDefinition{
		Slug:  "chain",
		Nodes: []GraphNode{{Key: "first"}, {Key: "second"}},
		Edges: []GraphEdge{
			{Source: ReservedStart, Target: "first"},
			{Source: "first", Target: "second"},
			{Source: "second", Target: ReservedEnd},
		},
	}))

	done := make(chan State, 1)
	_, err = eng.StartRun(context.Background(), "chain", StartRunOptions{
		OnCompleted: func(id string, result State) { done <- result },
	})
	require.NoError(t, err)

	select {
	case result := <-done:
		assert.Equal(t, []any{"first", "second"}, result["log"])
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}
}

func TestEngineRejectsInvalidGraph(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	err = eng.AddGraph(GraphDefinition{
		Slug:  "bad",
		Nodes: []GraphNode{{Key: "a"}},
		Edges: []GraphEdge{{Source: "a", Target: "ghost"}},
	})
	require.Error(t, err)
}

func TestEngineRegisterNodesBatch(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	passthrough := func(ctx context.Context, s State) (State, error) { return nil, nil }

	require.NoError(t, eng.RegisterNodes(
		NodeRegistration{Key: "a", Func: passthrough},
		NodeRegistration{Key: "b", Func: passthrough,
			Options: []NodeOption{WithNodeLabel("B")}},
	))
	assert.Equal(t, []string{"a", "b"}, eng.NodeKeys())

	err = eng.RegisterNodes(
		NodeRegistration{Key: "c", Func: passthrough},
		NodeRegistration{Key: "a", Func: passthrough},
	)
	require.Error(t, err, "duplicate key in the batch")
	assert.Equal(t, []string{"a", "b", "c"}, eng.NodeKeys(),
		"registration stops at the duplicate")
}

func TestEngineBuiltinMemoryStore(t *testing.T) {
	eng, err := New(WithMemoryStore())
	require.NoError(t, err)
	require.NoError(t, eng.RegisterNode("classify",
		func(ctx context.Context, s State) (State, error) {
			return State{"handled_by": "classify"}, nil
		}))
	require.NoError(t, eng.AddGraph(GraphDefinition{
		Slug:  "mem",
		Nodes: []GraphNode{{Key: "classify"}},
		Edges: []GraphEdge{
			{Source: ReservedStart, Target: "classify"},
			{Source: "classify", Target: ReservedEnd},
		},
	}))

	runID, err := eng.StartRun(context.Background(), "mem", StartRunOptions{})
	require.NoError(t, err)
	<-eng.RunDone(runID)

	run, err := eng.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	require.NoError(t, eng.Close(context.Background()))
}

func TestEngineBuiltinSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	eng, err := New(WithSQLitePath(path))
	require.NoError(t, err)
	require.NoError(t, eng.RegisterNode("work",
		func(ctx context.Context, s State) (State, error) {
			return State{"done": true}, nil
		}))
	require.NoError(t, eng.AddGraph(GraphDefinition{
		Slug:  "disk",
		Nodes: []GraphNode{{Key: "work"}},
		Edges: []GraphEdge{
			{Source: ReservedStart, Target: "work"},
			{Source: "work", Target: ReservedEnd},
		},
	}))

	runID, err := eng.StartRun(context.Background(), "disk", StartRunOptions{})
	require.NoError(t, err)
	<-eng.RunDone(runID)
	require.NoError(t, eng.Close(context.Background()))

	// The engine owned the store and closed it with the database file
	// intact; a fresh engine over the same path sees the run.
	reopened, err := New(WithSQLitePath(path))
	require.NoError(t, err)
	run, err := reopened.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	steps, err := reopened.GetSteps(context.Background(), runID)
	require.NoError(t, err)
	assert.NotEmpty(t, steps)
	require.NoError(t, reopened.Close(context.Background()))
}
