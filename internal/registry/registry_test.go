package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orikata-ai/orikata/internal/flow"
	"github.com/orikata-ai/orikata/internal/model"
	"github.com/orikata-ai/orikata/internal/registry"
)

func noopRun(ctx context.Context, s flow.State) (flow.State, error) {
	return nil, nil
}

func mustDef(t *testing.T, key string, opts ...registry.DefinitionOption) registry.Definition {
	t.Helper()
	d, err := registry.NewDefinition(key, noopRun, opts...)
	require.NoError(t, err)
	return d
}

func TestNewDefinitionValidation(t *testing.T) {
	_, err := registry.NewDefinition("", noopRun)
	assert.Error(t, err, "empty key")

	_, err = registry.NewDefinition("classify", nil)
	assert.Error(t, err, "nil run")

	d, err := registry.NewDefinition("classify", noopRun,
		registry.WithLabel("Classify"),
		registry.WithRoute("high", func(s flow.State) bool { return true }),
	)
	require.NoError(t, err)
	assert.Equal(t, "classify", d.Key())
	assert.Equal(t, "Classify", d.Label())
	_, ok := d.Route("high")
	assert.True(t, ok)
	_, ok = d.Route("low")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(mustDef(t, "classify")))

	err := r.Register(mustDef(t, "classify"))
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDuplicateKey)
	assert.Contains(t, err.Error(), "classify")

	// Distinct keys both land and stay retrievable.
	require.NoError(t, r.Register(mustDef(t, "respond")))
	assert.True(t, r.Has("classify"))
	assert.True(t, r.Has("respond"))
}

func TestRegisterRejectsZeroValue(t *testing.T) {
	r := registry.New()
	assert.Error(t, r.Register(registry.Definition{}))
}

func TestInsertionOrder(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterAll(
		mustDef(t, "gamma"),
		mustDef(t, "alpha"),
		mustDef(t, "beta"),
	))
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, r.Keys())

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "gamma", entries[0].Key())
	assert.Equal(t, "beta", entries[2].Key())
}

func TestBindingStatus(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterAll(mustDef(t, "classify"), mustDef(t, "respond")))

	def := model.GraphDefinition{
		Nodes: []model.GraphNode{
			{Key: "__start__"},
			{Key: "classify"},
			{Key: "enrich"}, // no implementation registered
			{Key: "respond"},
			{Key: "__end__"},
		},
	}
	status := r.BindingStatus(def)
	assert.Equal(t, []string{"classify", "respond"}, status.Bound)
	assert.Equal(t, []string{"enrich"}, status.Skeleton)

	// Reserved markers never appear in either partition, and the union
	// covers the non-reserved keys exactly once each.
	all := append(append([]string{}, status.Bound...), status.Skeleton...)
	assert.ElementsMatch(t, def.NodeKeys(), all)
}

func TestBindingStatusEmptyDefinition(t *testing.T) {
	r := registry.New()
	status := r.BindingStatus(model.GraphDefinition{})
	assert.Empty(t, status.Bound)
	assert.Empty(t, status.Skeleton)
	assert.NotNil(t, status.Bound, "JSON encodes as [] not null")
}
