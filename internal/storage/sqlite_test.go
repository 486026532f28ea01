package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orikata-ai/orikata/internal/model"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	err := db.CreateRun(ctx, model.RunRecord{
		ID:        "run-1",
		GraphSlug: "support-triage",
		Status:    model.RunStatusRunning,
		Input:     map[string]any{"query": "hello"},
		Metadata:  map[string]any{"source": "test"},
		StartedAt: started,
	})
	require.NoError(t, err)

	run, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "support-triage", run.GraphSlug)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, "hello", run.Input["query"])
	assert.Equal(t, "test", run.Metadata["source"])
	assert.Nil(t, run.FinishedAt)
}

func TestSQLiteGetRunNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUpdateRunStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateRun(ctx, model.RunRecord{
		ID: "run-2", GraphSlug: "g", Status: model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}))

	err := db.UpdateRunStatus(ctx, "run-2", model.RunStatusCompleted, model.RunUpdate{
		Result:     map[string]any{"answer": float64(42)},
		TokensUsed: 150,
	})
	require.NoError(t, err)

	run, err := db.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, float64(42), run.Result["answer"])
	assert.Equal(t, 150, run.TokensUsed)
	require.NotNil(t, run.FinishedAt)
	first := *run.FinishedAt

	// A second terminal update must not move finished_at.
	require.NoError(t, db.UpdateRunStatus(ctx, "run-2", model.RunStatusCompleted, model.RunUpdate{}))
	run, err = db.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, first.Unix(), run.FinishedAt.Unix())
}

func TestSQLiteUpdateUnknownRun(t *testing.T) {
	db := openTestDB(t)
	err := db.UpdateRunStatus(context.Background(), "nope", model.RunStatusFailed, model.RunUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListRunsFilterAndOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, slug := range []string{"alpha", "beta", "alpha"} {
		require.NoError(t, db.CreateRun(ctx, model.RunRecord{
			ID:        []string{"a1", "b1", "a2"}[i],
			GraphSlug: slug,
			Status:    model.RunStatusRunning,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := db.ListRuns(ctx, "alpha", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a2", runs[0].ID)
	assert.Equal(t, "a1", runs[1].ID)

	all, err := db.ListRuns(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	paged, err := db.ListRuns(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "b1", paged[0].ID)
}

func TestSQLiteStepsOrderedByNumber(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Insert out of order to make sure the query sorts.
	for _, n := range []int{3, 1, 2} {
		require.NoError(t, db.CreateStep(ctx, model.StepData{
			RunID:      "run-3",
			NodeID:     "classify",
			StepNumber: n,
			Input:      map[string]any{"step": float64(n)},
			Output:     map[string]any{"ok": true},
			DurationMs: int64(n * 10),
			TokensUsed: n,
			ToolName:   "search",
		}))
	}

	steps, err := db.GetSteps(ctx, "run-3")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepNumber)
		assert.Equal(t, "classify", step.NodeID)
		assert.Equal(t, "search", step.ToolName)
	}
	out, ok := steps[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, out["ok"])
}

func TestSQLiteStepNullableColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateStep(ctx, model.StepData{
		RunID: "run-4", NodeID: "n", StepNumber: 1,
	}))
	steps, err := db.GetSteps(ctx, "run-4")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].ToolName)
	assert.Nil(t, steps[0].Input)
	assert.Nil(t, steps[0].StateBefore)
	assert.Nil(t, steps[0].StateAfter)
}
