package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aegis-dev/aegis/internal/tools"
)

// ReadFileConfig bounds file reads.
type ReadFileConfig struct {
	// Root confines reads to a directory tree; empty allows any path.
	Root string
	// MaxBytes caps the returned content size.
	MaxBytes int
}

// DefaultReadFileConfig returns the read_file tool defaults.
func DefaultReadFileConfig() ReadFileConfig {
	return ReadFileConfig{MaxBytes: 256 * 1024}
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=Path of the file to read"`
}

// ReadFileTool returns a file's contents.
type ReadFileTool struct {
	cfg ReadFileConfig
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(cfg ReadFileConfig) *ReadFileTool {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultReadFileConfig().MaxBytes
	}
	return &ReadFileTool{cfg: cfg}
}

func (t *ReadFileTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "read_file",
		Description: "Read a file and return its contents as text.",
		InputSchema: schemaFor(&readFileArgs{}),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args readFileArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid read_file arguments: %w", err)
	}
	if args.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	path := args.Path
	if t.cfg.Root != "" {
		abs, err := filepath.Abs(filepath.Join(t.cfg.Root, path))
		if err != nil {
			return nil, fmt.Errorf("resolve path: %w", err)
		}
		root, err := filepath.Abs(t.cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
		if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return nil, fmt.Errorf("path %q escapes the allowed root", args.Path)
		}
		path = abs
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("read %s: %v", args.Path, err), IsError: true}, nil
	}
	if len(data) > t.cfg.MaxBytes {
		data = data[:t.cfg.MaxBytes]
	}
	return &tools.Result{Content: string(data)}, nil
}
