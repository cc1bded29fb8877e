package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aegis-dev/aegis/internal/tools"
)

type fakeClient struct {
	name     string
	tools    []ToolInfo
	result   *CallResult
	callErr  error
	listErr  error
	closed   bool
	lastCall string
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return f.tools, f.listErr
}

func (f *fakeClient) CallTool(ctx context.Context, name string, input json.RawMessage) (*CallResult, error) {
	f.lastCall = name
	return f.result, f.callErr
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestBridgeNamespacesTools(t *testing.T) {
	b := NewBridge(nil)
	client := &fakeClient{
		name:   "files",
		tools:  []ToolInfo{{Name: "search"}, {Name: "fetch"}},
		result: &CallResult{Content: "ok"},
	}
	if err := b.AddServer(context.Background(), client); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	if _, ok := b.Lookup("files/search"); !ok {
		t.Fatal("qualified tool files/search not found")
	}
	if _, ok := b.Lookup("search"); ok {
		t.Fatal("unqualified name resolved")
	}

	tool, _ := b.Lookup("files/fetch")
	res, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "ok" {
		t.Fatalf("content = %q", res.Content)
	}
	if client.lastCall != "fetch" {
		t.Fatalf("remote call used name %q, want unqualified %q", client.lastCall, "fetch")
	}
}

func TestBridgeRejectsDuplicateServer(t *testing.T) {
	b := NewBridge(nil)
	c1 := &fakeClient{name: "files"}
	if err := b.AddServer(context.Background(), c1); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if err := b.AddServer(context.Background(), &fakeClient{name: "files"}); err == nil {
		t.Fatal("duplicate server accepted")
	}
}

func TestBridgeRefreshReplacesCatalog(t *testing.T) {
	b := NewBridge(nil)
	client := &fakeClient{name: "files", tools: []ToolInfo{{Name: "old"}}}
	if err := b.AddServer(context.Background(), client); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	client.tools = []ToolInfo{{Name: "new"}}
	if err := b.Refresh(context.Background(), "files"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := b.Lookup("files/old"); ok {
		t.Fatal("stale tool survived refresh")
	}
	if _, ok := b.Lookup("files/new"); !ok {
		t.Fatal("new tool missing after refresh")
	}
}

func TestBridgeRemoveServerClosesClient(t *testing.T) {
	b := NewBridge(nil)
	client := &fakeClient{name: "files", tools: []ToolInfo{{Name: "search"}}}
	b.AddServer(context.Background(), client)

	if err := b.RemoveServer("files"); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	if !client.closed {
		t.Fatal("client not closed")
	}
	if _, ok := b.Lookup("files/search"); ok {
		t.Fatal("removed server's tool still resolvable")
	}
}

func TestBridgeIsRemoteSource(t *testing.T) {
	var src tools.Source = NewBridge(nil)
	if src.Kind() != tools.SourceRemote {
		t.Fatalf("kind = %v, want remote", src.Kind())
	}
}

func TestBridgeExecutePropagatesError(t *testing.T) {
	b := NewBridge(nil)
	client := &fakeClient{
		name:    "files",
		tools:   []ToolInfo{{Name: "search"}},
		callErr: errors.New("connection reset"),
	}
	b.AddServer(context.Background(), client)

	tool, _ := b.Lookup("files/search")
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error from remote call")
	}
}
