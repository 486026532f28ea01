package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/orikata-ai/orikata/internal/model"
)

func TestParseNodeKey(t *testing.T) {
	tests := []struct {
		raw      string
		start    bool
		end      bool
		reserved bool
	}{
		{"__start__", true, false, true},
		{"__end__", false, true, true},
		{"classify", false, false, false},
		{"", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			k := model.ParseNodeKey(tt.raw)
			assert.Equal(t, tt.start, k.IsStart())
			assert.Equal(t, tt.end, k.IsEnd())
			assert.Equal(t, tt.reserved, k.IsReserved())
			assert.Equal(t, tt.raw, k.String())
		})
	}
}

func TestRouteMapJSONOrder(t *testing.T) {
	// Key order in the document must survive a decode/encode round trip:
	// the first declared route is the no-match fallback.
	raw := `{"high":"high_path","low":"low_path","retry":"classify"}`

	var m model.RouteMap
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Len(t, m, 3)
	assert.Equal(t, "high", m[0].Route)
	assert.Equal(t, "low", m[1].Route)
	assert.Equal(t, "retry", m[2].Route)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
	assert.Equal(t, raw, string(out), "marshal must preserve declaration order")
}

func TestRouteMapYAMLOrder(t *testing.T) {
	raw := "high: high_path\nlow: low_path\n"

	var m model.RouteMap
	require.NoError(t, yaml.Unmarshal([]byte(raw), &m))
	require.Len(t, m, 2)
	assert.Equal(t, model.RouteBinding{Route: "high", Target: "high_path"}, m[0])
	assert.Equal(t, model.RouteBinding{Route: "low", Target: "low_path"}, m[1])

	out, err := yaml.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, raw, string(out))
}

func TestRouteMapGet(t *testing.T) {
	m := model.RouteMap{{Route: "high", Target: "a"}, {Route: "low", Target: "b"}}
	target, ok := m.Get("low")
	assert.True(t, ok)
	assert.Equal(t, "b", target)
	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestRouteMapRejectsNonObject(t *testing.T) {
	var m model.RouteMap
	assert.Error(t, json.Unmarshal([]byte(`["high"]`), &m))
	assert.Error(t, yaml.Unmarshal([]byte("- high\n"), &m))
}

func TestNodeKeysSkipsReserved(t *testing.T) {
	def := model.GraphDefinition{
		Nodes: []model.GraphNode{
			{Key: "__start__"},
			{Key: "classify"},
			{Key: "respond"},
			{Key: "__end__"},
		},
	}
	assert.Equal(t, []string{"classify", "respond"}, def.NodeKeys())
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, model.RunStatusRunning.Terminal())
	assert.True(t, model.RunStatusCompleted.Terminal())
	assert.True(t, model.RunStatusFailed.Terminal())
	assert.True(t, model.RunStatusCancelled.Terminal())
}
