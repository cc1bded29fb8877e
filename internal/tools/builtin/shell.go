package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/aegis-dev/aegis/internal/tools"
)

// ShellConfig bounds shell tool execution.
type ShellConfig struct {
	// Timeout caps a single command's runtime.
	Timeout time.Duration
	// MaxOutputBytes truncates combined output beyond this size.
	MaxOutputBytes int
	// WorkDir is the command working directory; empty means inherit.
	WorkDir string
}

// DefaultShellConfig returns the shell tool defaults.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Timeout:        2 * time.Minute,
		MaxOutputBytes: 64 * 1024,
	}
}

type shellArgs struct {
	Command string `json:"command" jsonschema:"description=Shell command to run"`
}

// ShellTool runs a shell command and returns its combined output.
type ShellTool struct {
	cfg ShellConfig
}

// NewShellTool creates the shell tool.
func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultShellConfig().Timeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultShellConfig().MaxOutputBytes
	}
	return &ShellTool{cfg: cfg}
}

func (t *ShellTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "shell",
		Description: "Run a shell command and return its output.",
		InputSchema: schemaFor(&shellArgs{}),
	}
}

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args shellArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid shell arguments: %w", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
	cmd.Dir = t.cfg.WorkDir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()

	output := buf.String()
	if len(output) > t.cfg.MaxOutputBytes {
		output = output[:t.cfg.MaxOutputBytes] + "\n[output truncated]"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", t.cfg.Timeout)
	}
	if err != nil {
		return &tools.Result{
			Content: fmt.Sprintf("%s\nexit error: %v", output, err),
			IsError: true,
		}, nil
	}
	return &tools.Result{Content: output}, nil
}
