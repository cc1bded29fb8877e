package agent

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator validates tool call arguments against each tool's
// declared input schema. Compiled schemas are cached per tool name and
// invalidated when the schema bytes change.
type schemaValidator struct {
	mu    sync.Mutex
	cache map[string]compiledSchema
}

type compiledSchema struct {
	raw    []byte
	schema *jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{cache: make(map[string]compiledSchema)}
}

// Validate checks input against the tool's schema. A tool with no
// schema accepts anything. Schema compilation errors are treated as
// validation failures so a malformed remote schema cannot disable
// checking silently.
func (v *schemaValidator) Validate(toolName string, schemaRaw json.RawMessage, input json.RawMessage) error {
	if len(schemaRaw) == 0 {
		return nil
	}

	schema, err := v.compile(toolName, schemaRaw)
	if err != nil {
		return err
	}

	doc := any(map[string]any{})
	if len(input) > 0 {
		if err := json.Unmarshal(input, &doc); err != nil {
			return err
		}
	}
	return schema.Validate(doc)
}

func (v *schemaValidator) compile(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[toolName]; ok && bytes.Equal(cached.raw, raw) {
		return cached.schema, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("input.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("input.json")
	if err != nil {
		return nil, err
	}
	v.cache[toolName] = compiledSchema{raw: append([]byte(nil), raw...), schema: schema}
	return schema, nil
}
