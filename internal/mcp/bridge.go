package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aegis-dev/aegis/internal/tools"
)

// Bridge exposes the tools of one or more remote servers as a
// tools.Source of kind remote. Tool names are namespaced as
// "server/tool" so two servers can offer the same tool name without
// colliding.
type Bridge struct {
	mu      sync.RWMutex
	clients map[string]Client
	catalog map[string]*remoteTool
	logger  *slog.Logger
}

// NewBridge creates an empty bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		clients: make(map[string]Client),
		catalog: make(map[string]*remoteTool),
		logger:  logger.With("component", "mcp-bridge"),
	}
}

// AddServer connects a client and imports its tool catalog.
func (b *Bridge) AddServer(ctx context.Context, client Client) error {
	infos, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools from %s: %w", client.Name(), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.clients[client.Name()]; exists {
		return fmt.Errorf("server %q already registered", client.Name())
	}
	b.clients[client.Name()] = client
	for _, info := range infos {
		qualified := client.Name() + "/" + info.Name
		b.catalog[qualified] = &remoteTool{client: client, info: info, qualified: qualified}
	}
	b.logger.Info("remote server bridged", "server", client.Name(), "tools", len(infos))
	return nil
}

// Refresh re-imports the catalog of a connected server, picking up
// tools added or removed since the last sync.
func (b *Bridge) Refresh(ctx context.Context, serverName string) error {
	b.mu.RLock()
	client, ok := b.clients[serverName]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown server %q", serverName)
	}

	infos, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("refresh tools from %s: %w", serverName, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropServerToolsLocked(serverName)
	for _, info := range infos {
		qualified := serverName + "/" + info.Name
		b.catalog[qualified] = &remoteTool{client: client, info: info, qualified: qualified}
	}
	return nil
}

// RemoveServer disconnects a server and drops its tools.
func (b *Bridge) RemoveServer(serverName string) error {
	b.mu.Lock()
	client, ok := b.clients[serverName]
	if ok {
		delete(b.clients, serverName)
		b.dropServerToolsLocked(serverName)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown server %q", serverName)
	}
	return client.Close()
}

func (b *Bridge) dropServerToolsLocked(serverName string) {
	prefix := serverName + "/"
	for name := range b.catalog {
		if strings.HasPrefix(name, prefix) {
			delete(b.catalog, name)
		}
	}
}

// Kind implements tools.Source.
func (b *Bridge) Kind() tools.SourceKind { return tools.SourceRemote }

// Lookup implements tools.Source.
func (b *Bridge) Lookup(name string) (tools.Tool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.catalog[name]
	return t, ok
}

// Tools implements tools.Source.
func (b *Bridge) Tools() []tools.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]tools.Tool, 0, len(b.catalog))
	for _, t := range b.catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].(*remoteTool).qualified < out[j].(*remoteTool).qualified
	})
	return out
}

// Close disconnects every server.
func (b *Bridge) Close() error {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]Client)
	b.catalog = make(map[string]*remoteTool)
	b.mu.Unlock()

	var firstErr error
	for name, client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return firstErr
}

// remoteTool adapts one remote tool to the Tool interface.
type remoteTool struct {
	client    Client
	info      ToolInfo
	qualified string
}

func (t *remoteTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.qualified,
		Description: t.info.Description,
		InputSchema: t.info.InputSchema,
	}
}

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	res, err := t.client.CallTool(ctx, t.info.Name, input)
	if err != nil {
		return nil, fmt.Errorf("remote call %s: %w", t.qualified, err)
	}
	return &tools.Result{Content: res.Content, IsError: res.IsError}, nil
}
