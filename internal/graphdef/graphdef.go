// Package graphdef loads externally authored graph definitions from
// YAML or JSON documents, validating them against an embedded JSON
// Schema and a set of structural rules the schema cannot express.
package graphdef

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/orikata-ai/orikata/internal/model"
)

//go:embed schema.json
var schemaJSON []byte

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("graph.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("graphdef: add schema resource: %v", err))
	}
	s, err := c.Compile("graph.schema.json")
	if err != nil {
		panic(fmt.Sprintf("graphdef: compile schema: %v", err))
	}
	return s
}

// Load reads and validates a graph definition file. The format is
// chosen by extension: .yaml/.yml or .json.
func Load(path string) (model.GraphDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.GraphDefinition{}, fmt.Errorf("graphdef: read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(raw)
	case ".json":
		return ParseJSON(raw)
	default:
		return model.GraphDefinition{}, fmt.Errorf("graphdef: unsupported extension %q", ext)
	}
}

// ParseJSON validates and decodes a JSON graph definition.
func ParseJSON(raw []byte) (model.GraphDefinition, error) {
	if err := validateDocument(raw); err != nil {
		return model.GraphDefinition{}, err
	}
	var def model.GraphDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return model.GraphDefinition{}, fmt.Errorf("graphdef: decode: %w", err)
	}
	if err := Validate(def); err != nil {
		return model.GraphDefinition{}, err
	}
	return def, nil
}

// ParseYAML validates and decodes a YAML graph definition. The document
// is converted to JSON for schema validation; decoding uses the YAML
// node tree directly so route map order survives.
func ParseYAML(raw []byte) (model.GraphDefinition, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return model.GraphDefinition{}, fmt.Errorf("graphdef: decode yaml: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return model.GraphDefinition{}, fmt.Errorf("graphdef: yaml document is not JSON-representable: %w", err)
	}
	if err := validateDocument(asJSON); err != nil {
		return model.GraphDefinition{}, err
	}
	var def model.GraphDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return model.GraphDefinition{}, fmt.Errorf("graphdef: decode: %w", err)
	}
	if err := Validate(def); err != nil {
		return model.GraphDefinition{}, err
	}
	return def, nil
}

func validateDocument(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("graphdef: decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("graphdef: schema validation: %w", err)
	}
	return nil
}

// Validate enforces the structural rules a JSON Schema cannot express:
// unique non-reserved node keys, and edge endpoints that are either
// declared nodes or reserved markers.
func Validate(def model.GraphDefinition) error {
	if def.Slug == "" {
		return fmt.Errorf("graphdef: graph slug is required")
	}
	seen := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		key := model.ParseNodeKey(n.Key)
		if !key.IsReserved() && model.IsReservedKey(n.Key) {
			return fmt.Errorf("graphdef: graph %q: node key %q uses the reserved prefix", def.Slug, n.Key)
		}
		if seen[n.Key] {
			return fmt.Errorf("graphdef: graph %q: duplicate node key %q", def.Slug, n.Key)
		}
		seen[n.Key] = true
	}
	for _, e := range def.Edges {
		for _, endpoint := range []string{e.Source, e.Target} {
			if model.ParseNodeKey(endpoint).IsReserved() || seen[endpoint] {
				continue
			}
			return fmt.Errorf("graphdef: graph %q: edge references unknown node %q", def.Slug, endpoint)
		}
		for _, b := range e.RouteMap {
			if !model.ParseNodeKey(b.Target).IsReserved() && !seen[b.Target] {
				return fmt.Errorf("graphdef: graph %q: route %q targets unknown node %q", def.Slug, b.Route, b.Target)
			}
		}
	}
	return nil
}

// LoadDir loads every definition file in a directory (non-recursive),
// keyed by slug. Duplicate slugs across files are an error.
func LoadDir(dir string) (map[string]model.GraphDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("graphdef: read dir %s: %w", dir, err)
	}
	defs := make(map[string]model.GraphDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		def, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := defs[def.Slug]; dup {
			return nil, fmt.Errorf("graphdef: duplicate graph slug %q in %s", def.Slug, dir)
		}
		defs[def.Slug] = def
	}
	return defs, nil
}
