package graphdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orikata-ai/orikata/internal/model"
)

const yamlGraph = `
slug: support-triage
name: Support triage
nodes:
  - key: classify
    label: Classify request
  - key: escalate
  - key: respond
edges:
  - source: __start__
    target: classify
  - source: classify
    target: respond
    route_map:
      urgent: escalate
      normal: respond
  - source: escalate
    target: __end__
  - source: respond
    target: __end__
`

func TestParseYAML(t *testing.T) {
	def, err := ParseYAML([]byte(yamlGraph))
	require.NoError(t, err)
	assert.Equal(t, "support-triage", def.Slug)
	assert.Len(t, def.Nodes, 3)
	require.Len(t, def.Edges, 4)

	rm := def.Edges[1].RouteMap
	require.Len(t, rm, 2)
	assert.Equal(t, "urgent", rm[0].Route)
	assert.Equal(t, "escalate", rm[0].Target)
	assert.Equal(t, "normal", rm[1].Route)
}

func TestParseJSON(t *testing.T) {
	raw := []byte(`{
		"slug": "pipeline",
		"nodes": [{"key": "a"}, {"key": "b"}],
		"edges": [
			{"source": "__start__", "target": "a"},
			{"source": "a", "target": "b", "route_map": {"next": "b", "done": "__end__"}},
			{"source": "b", "target": "__end__"}
		]
	}`)
	def, err := ParseJSON(raw)
	require.NoError(t, err)
	require.Len(t, def.Edges, 3)
	rm := def.Edges[1].RouteMap
	require.Len(t, rm, 2)
	assert.Equal(t, "next", rm[0].Route)
	assert.Equal(t, "done", rm[1].Route)
}

func TestSchemaRejectsBadSlug(t *testing.T) {
	_, err := ParseJSON([]byte(`{"slug": "Bad Slug!", "nodes": [{"key": "a"}], "edges": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestSchemaRejectsMissingNodes(t *testing.T) {
	_, err := ParseJSON([]byte(`{"slug": "g", "edges": []}`))
	require.Error(t, err)
}

func TestValidateRejectsUnknownEdgeEndpoint(t *testing.T) {
	_, err := ParseJSON([]byte(`{
		"slug": "g",
		"nodes": [{"key": "a"}],
		"edges": [{"source": "a", "target": "ghost"}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown node "ghost"`)
}

func TestValidateRejectsUnknownRouteTarget(t *testing.T) {
	_, err := ParseJSON([]byte(`{
		"slug": "g",
		"nodes": [{"key": "a"}, {"key": "b"}],
		"edges": [{"source": "a", "target": "b", "route_map": {"x": "ghost"}}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `targets unknown node "ghost"`)
}

func TestValidateRejectsDuplicateNodeKey(t *testing.T) {
	err := Validate(model.GraphDefinition{
		Slug:  "g",
		Nodes: []model.GraphNode{{Key: "a"}, {Key: "a"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node key")
}

func TestValidateRejectsReservedPrefixNode(t *testing.T) {
	err := Validate(model.GraphDefinition{
		Slug:  "g",
		Nodes: []model.GraphNode{{Key: "__internal"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved prefix")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(yamlGraph), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Contains(t, defs, "support-triage")
}

func TestLoadDirRejectsDuplicateSlug(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.yaml"), []byte(yamlGraph), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.yaml"), []byte(yamlGraph), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate graph slug")
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}
