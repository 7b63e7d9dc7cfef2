package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaCatalogue holds compiled JSON Schemas keyed by name. Agent
// descriptors reference entries through output_schema; the response
// validator applies them to agent output.
type SchemaCatalogue struct {
	schemas map[string]*jsonschema.Schema
}

// LoadSchemaCatalogue compiles every *.json file in dir. The schema name is
// the file name without extension. A missing directory yields an empty
// catalogue (schemas are optional).
func LoadSchemaCatalogue(dir string) (*SchemaCatalogue, error) {
	cat := &SchemaCatalogue{schemas: make(map[string]*jsonschema.Schema)}
	if dir == "" {
		return cat, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return cat, nil
		}
		return nil, NewLoadError(dir, err)
	}

	compiler := jsonschema.NewCompiler()
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewLoadError(path, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, NewLoadError(path, fmt.Errorf("invalid JSON: %w", err))
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if err := compiler.AddResource(name+".json", doc); err != nil {
			return nil, NewLoadError(path, err)
		}
		names = append(names, name)
	}

	for _, name := range names {
		sch, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, NewLoadError(name+".json", fmt.Errorf("schema compile failed: %w", err))
		}
		cat.schemas[name] = sch
	}
	return cat, nil
}

// NewSchemaCatalogue builds a catalogue from in-memory schema documents.
// Used by tests and embedded defaults.
func NewSchemaCatalogue(docs map[string]string) (*SchemaCatalogue, error) {
	cat := &SchemaCatalogue{schemas: make(map[string]*jsonschema.Schema)}
	compiler := jsonschema.NewCompiler()
	for name, raw := range docs {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("schema %q: invalid JSON: %w", name, err)
		}
		if err := compiler.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("schema %q: %w", name, err)
		}
	}
	for name := range docs {
		sch, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("schema %q: compile failed: %w", name, err)
		}
		cat.schemas[name] = sch
	}
	return cat, nil
}

// Has reports whether the catalogue contains name.
func (c *SchemaCatalogue) Has(name string) bool {
	_, ok := c.schemas[name]
	return ok
}

// Len returns the number of compiled schemas.
func (c *SchemaCatalogue) Len() int { return len(c.schemas) }

// Validate checks instance against the named schema. The instance must be
// a decoded JSON value (map/slice/scalar). Returns ErrSchemaNotFound for an
// unknown name, or the validation error from the schema.
func (c *SchemaCatalogue) Validate(name string, instance any) error {
	sch, ok := c.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	}
	return sch.Validate(instance)
}
