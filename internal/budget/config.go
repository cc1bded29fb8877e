package budget

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StrategyConfig selects and parameterizes a compaction strategy from
// configuration.
type StrategyConfig struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

const strategySchemaJSON = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "enum": ["noop", "reactive-overflow"]},
		"options": {
			"type": "object",
			"properties": {
				"preserve_last_n_turns": {"type": "integer", "minimum": 1, "maximum": 1000}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

var strategySchema = jsonschema.MustCompileString("strategy.json", strategySchemaJSON)

// BuildStrategy validates the config against its schema and constructs
// the strategy. The summarizer is only used by strategies that
// summarize.
func BuildStrategy(cfg StrategyConfig, summarizer Summarizer) (Strategy, error) {
	doc := map[string]any{"name": cfg.Name}
	if cfg.Options != nil {
		doc["options"] = cfg.Options
	}
	// Round-trip through JSON so YAML-decoded values carry the types
	// the validator expects.
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode strategy config: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("decode strategy config: %w", err)
	}
	if err := strategySchema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("invalid compaction strategy config: %w", err)
	}

	switch cfg.Name {
	case "noop":
		return NoopStrategy{}, nil
	case "reactive-overflow":
		ro := DefaultReactiveOverflowConfig()
		if raw, ok := cfg.Options["preserve_last_n_turns"]; ok {
			data, _ := json.Marshal(raw)
			var n int
			if err := json.Unmarshal(data, &n); err != nil {
				return nil, fmt.Errorf("preserve_last_n_turns: %w", err)
			}
			ro.PreserveLastNTurns = n
		}
		return NewReactiveOverflow(ro, summarizer), nil
	default:
		// The schema enum already rejects unknown names.
		return nil, fmt.Errorf("unknown strategy %q", strings.TrimSpace(cfg.Name))
	}
}
