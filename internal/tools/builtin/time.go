package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegis-dev/aegis/internal/tools"
)

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
}

// TimeTool reports the current time.
type TimeTool struct{}

// NewTimeTool creates the time tool.
func NewTimeTool() *TimeTool { return &TimeTool{} }

func (t *TimeTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "time",
		Description: "Return the current time, optionally in a given timezone.",
		InputSchema: schemaFor(&timeArgs{}),
	}
}

func (t *TimeTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args timeArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid time arguments: %w", err)
		}
	}

	loc := time.UTC
	if args.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(args.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
		}
	}
	return &tools.Result{Content: time.Now().In(loc).Format(time.RFC3339)}, nil
}
