package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Reserved node keys marking the graph entry and exit. They appear in
// stored graph definitions but never in the registry: the compiler
// translates them to the execution engine's sentinels, and binding
// checks skip them.
const (
	ReservedStart = "__start__"
	ReservedEnd   = "__end__"

	reservedPrefix = "__"
)

// NodeKey is a graph node key parsed once at the boundary, so reserved
// markers are carried as a variant instead of being re-checked as
// string prefixes throughout the compiler.
type NodeKey struct {
	kind nodeKeyKind
	key  string
}

type nodeKeyKind uint8

const (
	nodeKeyPlain nodeKeyKind = iota
	nodeKeyStart
	nodeKeyEnd
)

// ParseNodeKey classifies a raw node key from a graph definition.
func ParseNodeKey(raw string) NodeKey {
	switch raw {
	case ReservedStart:
		return NodeKey{kind: nodeKeyStart, key: raw}
	case ReservedEnd:
		return NodeKey{kind: nodeKeyEnd, key: raw}
	default:
		return NodeKey{kind: nodeKeyPlain, key: raw}
	}
}

// IsStart reports whether the key is the reserved entry marker.
func (k NodeKey) IsStart() bool { return k.kind == nodeKeyStart }

// IsEnd reports whether the key is the reserved exit marker.
func (k NodeKey) IsEnd() bool { return k.kind == nodeKeyEnd }

// IsReserved reports whether the key is either reserved marker.
func (k NodeKey) IsReserved() bool { return k.kind != nodeKeyPlain }

// String returns the raw key.
func (k NodeKey) String() string { return k.key }

// IsReservedKey reports whether a raw key carries the reserved prefix.
// Binding checks use this to exclude internal markers wholesale.
func IsReservedKey(raw string) bool {
	return len(raw) >= len(reservedPrefix) && raw[:len(reservedPrefix)] == reservedPrefix
}

// GraphNode is one node of a stored graph definition. Everything except
// Key is presentation metadata the compiler ignores.
type GraphNode struct {
	Key      string   `json:"key" yaml:"key"`
	Label    string   `json:"label,omitempty" yaml:"label,omitempty"`
	Type     string   `json:"type,omitempty" yaml:"type,omitempty"`
	Position Position `json:"position,omitempty" yaml:"position,omitempty"`
}

// Position is canvas placement metadata, carried through untouched.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// GraphEdge is a declared transition between two node keys. An edge
// with a non-empty RouteMap marks its source's outgoing transitions as
// conditional.
type GraphEdge struct {
	Source   string   `json:"source" yaml:"source"`
	Target   string   `json:"target" yaml:"target"`
	RouteMap RouteMap `json:"route_map,omitempty" yaml:"route_map,omitempty"`
}

// Conditional reports whether the edge carries a route map.
func (e GraphEdge) Conditional() bool { return len(e.RouteMap) > 0 }

// GraphDefinition is the externally authored description of a graph's
// topology. It is read-only input to the compiler.
type GraphDefinition struct {
	Slug  string      `json:"slug" yaml:"slug"`
	Name  string      `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []GraphNode `json:"nodes" yaml:"nodes"`
	Edges []GraphEdge `json:"edges" yaml:"edges"`
}

// NodeKeys returns the non-reserved node keys in definition order.
func (d GraphDefinition) NodeKeys() []string {
	keys := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if IsReservedKey(n.Key) {
			continue
		}
		keys = append(keys, n.Key)
	}
	return keys
}

// BindingStatus partitions a definition's non-reserved node keys into
// those with a registered implementation (bound) and those without
// (skeleton). Both slices preserve the definition's node order. It is
// derived state, recomputed on every query.
type BindingStatus struct {
	Bound    []string `json:"bound"`
	Skeleton []string `json:"skeleton"`
}

// RouteBinding maps one route key to its target node key.
type RouteBinding struct {
	Route  string
	Target string
}

// RouteMap is an insertion-ordered route-key to target-key mapping.
// Order matters: route predicates are evaluated in declaration order,
// and the first declared route is the fallback when no predicate
// matches. JSON and YAML documents encode it as an object; both
// unmarshallers preserve document order.
type RouteMap []RouteBinding

// Get returns the target for a route key.
func (m RouteMap) Get(route string) (string, bool) {
	for _, b := range m {
		if b.Route == route {
			return b.Target, true
		}
	}
	return "", false
}

// MarshalJSON encodes the route map as a JSON object in declaration order.
func (m RouteMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(b.Route)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(b.Target)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order via the
// token stream (map-based decoding would lose it).
func (m *RouteMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("model: route map must be a JSON object")
	}
	var out RouteMap
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		route, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("model: route map key must be a string")
		}
		var target string
		if err := dec.Decode(&target); err != nil {
			return fmt.Errorf("model: route map target for %q: %w", route, err)
		}
		out = append(out, RouteBinding{Route: route, Target: target})
	}
	*m = out
	return nil
}

// MarshalYAML encodes the route map as a YAML mapping in declaration order.
func (m RouteMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, b := range m {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: b.Route},
			&yaml.Node{Kind: yaml.ScalarNode, Value: b.Target},
		)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping, preserving document order.
func (m *RouteMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("model: route map must be a mapping (line %d)", value.Line)
	}
	var out RouteMap
	for i := 0; i+1 < len(value.Content); i += 2 {
		out = append(out, RouteBinding{
			Route:  value.Content[i].Value,
			Target: value.Content[i+1].Value,
		})
	}
	*m = out
	return nil
}
