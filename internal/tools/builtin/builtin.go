// Package builtin provides the runtime's built-in tools. They resolve
// ahead of custom and remote tools of the same name.
package builtin

import (
	"encoding/json"
	"log/slog"

	"github.com/invopop/jsonschema"

	"github.com/aegis-dev/aegis/internal/tools"
)

// schemaFor reflects a JSON schema from an argument struct.
func schemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// NewRegistry returns a registry populated with every builtin tool.
func NewRegistry(logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(tools.SourceBuiltin, logger)
	for _, t := range []tools.Tool{
		NewShellTool(DefaultShellConfig()),
		NewReadFileTool(DefaultReadFileConfig()),
		NewTimeTool(),
	} {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
