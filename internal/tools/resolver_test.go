package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTool struct {
	name    string
	content string
}

func (f *fakeTool) Definition() Definition {
	return Definition{Name: f.name, Description: "fake"}
}

func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	return &Result{Content: f.content}, nil
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry(SourceBuiltin, nil)
	if err := reg.Register(&fakeTool{name: "echo"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(&fakeTool{name: "echo"}); err == nil {
		t.Fatal("duplicate Register succeeded")
	}
}

func TestResolverPriorityOrder(t *testing.T) {
	builtins := NewRegistry(SourceBuiltin, nil)
	custom := NewRegistry(SourceCustom, nil)
	remote := NewRegistry(SourceRemote, nil)

	builtins.Register(&fakeTool{name: "shared", content: "builtin"})
	custom.Register(&fakeTool{name: "shared", content: "custom"})
	custom.Register(&fakeTool{name: "custom_only", content: "custom"})
	remote.Register(&fakeTool{name: "shared", content: "remote"})
	remote.Register(&fakeTool{name: "remote_only", content: "remote"})

	// Registration order of sources must not matter; priority is fixed.
	r := NewResolver(remote, custom, builtins)

	tests := []struct {
		name     string
		wantKind SourceKind
	}{
		{"shared", SourceBuiltin},
		{"custom_only", SourceCustom},
		{"remote_only", SourceRemote},
	}
	for _, tt := range tests {
		tool, kind, err := r.Resolve(tt.name)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.name, err)
		}
		if kind != tt.wantKind {
			t.Errorf("Resolve(%q) kind = %v, want %v", tt.name, kind, tt.wantKind)
		}
		if tool == nil {
			t.Errorf("Resolve(%q) returned nil tool", tt.name)
		}
	}
}

func TestResolverUnknownTool(t *testing.T) {
	r := NewResolver(NewRegistry(SourceBuiltin, nil))
	if _, _, err := r.Resolve("missing"); err == nil {
		t.Fatal("Resolve of unknown tool succeeded")
	}
}

func TestResolverDefinitionsDeduplicateShadowedNames(t *testing.T) {
	builtins := NewRegistry(SourceBuiltin, nil)
	remote := NewRegistry(SourceRemote, nil)
	builtins.Register(&fakeTool{name: "shared"})
	remote.Register(&fakeTool{name: "shared"})
	remote.Register(&fakeTool{name: "extra"})

	r := NewResolver(builtins, remote)
	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2: %+v", len(defs), defs)
	}
}

func TestModeOfDefaultsToSync(t *testing.T) {
	if mode := ModeOf(&fakeTool{name: "x"}); mode != ModeSync {
		t.Fatalf("mode = %v, want sync", mode)
	}
}
