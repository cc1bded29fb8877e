package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aegis-dev/aegis/internal/approval"
	"github.com/aegis-dev/aegis/internal/hooks"
	"github.com/aegis-dev/aegis/internal/tools"
	"github.com/aegis-dev/aegis/pkg/models"
)

type stubTool struct {
	name    string
	schema  json.RawMessage
	mode    tools.ExecutionMode
	mu      sync.Mutex
	inputs  []json.RawMessage
	execute func(ctx context.Context, input json.RawMessage) (*tools.Result, error)
}

func (s *stubTool) Definition() tools.Definition {
	return tools.Definition{Name: s.name, Description: "stub", InputSchema: s.schema}
}

func (s *stubTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(ctx, input)
	}
	return &tools.Result{Content: "done"}, nil
}

func (s *stubTool) ExecutionMode() tools.ExecutionMode { return s.mode }

func (s *stubTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []*models.RuntimeEvent
}

func (r *recordedEvents) Emit(event *models.RuntimeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) typesSeen() []models.RuntimeEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RuntimeEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordedEvents) has(t models.RuntimeEventType) bool {
	for _, seen := range r.typesSeen() {
		if seen == t {
			return true
		}
	}
	return false
}

func newTestDispatcher(t *testing.T, tool tools.Tool, opts ...func(*DispatcherConfig)) (*Dispatcher, *hooks.Registry, *recordedEvents) {
	t.Helper()
	reg := tools.NewRegistry(tools.SourceBuiltin, nil)
	if tool != nil {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	cfg := DefaultDispatcherConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	hookReg := hooks.NewRegistry(nil)
	events := &recordedEvents{}
	d := NewDispatcher(cfg, tools.NewResolver(reg), hookReg, nil, events, nil, nil)
	return d, hookReg, events
}

func call(id, name, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, SessionID: "sess-1", Input: json.RawMessage(input)}
}

func TestDispatchHappyPath(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, _, events := newTestDispatcher(t, tool)

	res := d.Dispatch(context.Background(), nil, call("c1", "echo", `{"x":1}`))
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.ToolCallID != "c1" || res.Content != "done" {
		t.Fatalf("result = %+v", res)
	}
	if !events.has(models.EventToolStarted) || !events.has(models.EventToolResult) {
		t.Fatalf("missing lifecycle events: %v", events.typesSeen())
	}
}

func TestDispatchUnknownToolSyntheticResult(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)

	res := d.Dispatch(context.Background(), nil, call("c1", "ghost", `{}`))
	if !res.IsError || !res.Synthetic {
		t.Fatalf("expected synthetic error, got %+v", res)
	}
	if !strings.Contains(res.Content, string(ErrTypeNotFound)) {
		t.Fatalf("content = %q, want not_found classification", res.Content)
	}
}

func TestDispatchHookBlocksCall(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, hookReg, events := newTestDispatcher(t, tool)

	hookReg.Register(hooks.BeforeToolCall, func(ctx context.Context, p hooks.Payload, ec *hooks.ExecContext) (*hooks.Result, error) {
		return &hooks.Result{Cancel: true, Message: "not allowed"}, nil
	})

	res := d.Dispatch(context.Background(), nil, call("c1", "echo", `{}`))
	if !res.IsError || !res.Synthetic {
		t.Fatalf("expected synthetic denial, got %+v", res)
	}
	if !strings.Contains(res.Content, string(ErrTypePermission)) {
		t.Fatalf("content = %q, want permission classification", res.Content)
	}
	if tool.callCount() != 0 {
		t.Fatal("blocked tool still executed")
	}
	if !events.has(models.EventToolDenied) {
		t.Fatal("no denied event emitted")
	}
}

func TestDispatchHookModifiesArguments(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, hookReg, _ := newTestDispatcher(t, tool)

	hookReg.Register(hooks.BeforeToolCall, func(ctx context.Context, p hooks.Payload, ec *hooks.ExecContext) (*hooks.Result, error) {
		args := p[hooks.KeyArgs].(map[string]any)
		args["redacted"] = true
		return &hooks.Result{OK: true, Modify: map[string]any{hooks.KeyArgs: args}}, nil
	})

	d.Dispatch(context.Background(), nil, call("c1", "echo", `{"path":"secret"}`))
	if tool.callCount() != 1 {
		t.Fatal("tool not executed")
	}
	var got map[string]any
	if err := json.Unmarshal(tool.inputs[0], &got); err != nil {
		t.Fatal(err)
	}
	if got["redacted"] != true {
		t.Fatalf("hook modification not applied: %v", got)
	}
}

func TestDispatchHookFailureIsInternal(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, hookReg, _ := newTestDispatcher(t, tool)

	hookReg.Register(hooks.BeforeToolCall, func(ctx context.Context, p hooks.Payload, ec *hooks.ExecContext) (*hooks.Result, error) {
		return nil, errors.New("hook exploded")
	})

	res := d.Dispatch(context.Background(), nil, call("c1", "echo", `{}`))
	if !strings.Contains(res.Content, string(ErrTypeInternal)) {
		t.Fatalf("content = %q, want internal classification", res.Content)
	}
	if tool.callCount() != 0 {
		t.Fatal("tool executed despite hook failure")
	}
}

func TestDispatchSchemaValidationRejectsBadInput(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	tool := &stubTool{name: "reader", schema: schema}
	d, _, _ := newTestDispatcher(t, tool)

	res := d.Dispatch(context.Background(), nil, call("c1", "reader", `{"path":42}`))
	if !strings.Contains(res.Content, string(ErrTypeInvalidInput)) {
		t.Fatalf("content = %q, want invalid_input classification", res.Content)
	}
	if tool.callCount() != 0 {
		t.Fatal("tool executed with invalid input")
	}

	res = d.Dispatch(context.Background(), nil, call("c2", "reader", `{"path":"ok"}`))
	if res.IsError {
		t.Fatalf("valid input rejected: %s", res.Content)
	}
}

func TestDispatchToolTimeout(t *testing.T) {
	tool := &stubTool{
		name: "slow",
		execute: func(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d, _, events := newTestDispatcher(t, tool, func(cfg *DispatcherConfig) {
		cfg.DefaultTimeout = 30 * time.Millisecond
	})

	res := d.Dispatch(context.Background(), nil, call("c1", "slow", `{}`))
	if !strings.Contains(res.Content, string(ErrTypeTimeout)) {
		t.Fatalf("content = %q, want timeout classification", res.Content)
	}
	if !events.has(models.EventToolTimeout) {
		t.Fatal("no timeout event emitted")
	}
}

func TestDispatchToolPanicIsolated(t *testing.T) {
	tool := &stubTool{
		name: "bomb",
		execute: func(context.Context, json.RawMessage) (*tools.Result, error) {
			panic("boom")
		},
	}
	d, _, _ := newTestDispatcher(t, tool)

	res := d.Dispatch(context.Background(), nil, call("c1", "bomb", `{}`))
	if !res.IsError || !res.Synthetic {
		t.Fatalf("panic did not become synthetic error: %+v", res)
	}
}

func TestDispatchAfterHookRewritesResult(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, hookReg, _ := newTestDispatcher(t, tool)

	hookReg.Register(hooks.AfterToolResult, func(ctx context.Context, p hooks.Payload, ec *hooks.ExecContext) (*hooks.Result, error) {
		return &hooks.Result{OK: true, Modify: map[string]any{hooks.KeyResult: "[redacted]"}}, nil
	})

	res := d.Dispatch(context.Background(), nil, call("c1", "echo", `{}`))
	if res.Content != "[redacted]" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestDispatchAfterHookFailureKeepsResult(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, hookReg, _ := newTestDispatcher(t, tool)

	hookReg.Register(hooks.AfterToolResult, func(ctx context.Context, p hooks.Payload, ec *hooks.ExecContext) (*hooks.Result, error) {
		return nil, errors.New("observer crashed")
	})

	res := d.Dispatch(context.Background(), nil, call("c1", "echo", `{}`))
	if res.IsError || res.Content != "done" {
		t.Fatalf("executed result lost: %+v", res)
	}
}

func TestDispatchAllOneResultPerCall(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, _, _ := newTestDispatcher(t, tool)

	calls := []models.ToolCall{
		call("c1", "echo", `{}`),
		call("c2", "ghost", `{}`),
		call("c3", "echo", `{}`),
	}
	results := d.DispatchAll(context.Background(), nil, calls)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, c := range calls {
		if results[i].ToolCallID != c.ID {
			t.Errorf("results[%d].ToolCallID = %q, want %q", i, results[i].ToolCallID, c.ID)
		}
	}
	if !results[1].IsError || !results[1].Synthetic {
		t.Fatal("unknown tool in batch did not yield synthetic result")
	}
}

func TestDispatchApprovalDenied(t *testing.T) {
	tool := &stubTool{name: "shell"}
	reg := tools.NewRegistry(tools.SourceBuiltin, nil)
	reg.Register(tool)

	broker := approval.NewBroker(approval.BrokerConfig{DefaultTTL: time.Second}, nil, nil)
	mgr := approval.NewManager(approval.DefaultManagerConfig(),
		approval.PolicyMap{Default: approval.ConfirmAlways},
		approval.NewMemoryAllowList(), broker, nil)
	events := &recordedEvents{}
	d := NewDispatcher(DefaultDispatcherConfig(), tools.NewResolver(reg), hooks.NewRegistry(nil), mgr, events, nil, nil)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			for _, req := range broker.Pending() {
				broker.Resolve(req.CallID, approval.Decision{Approved: false, Feedback: "nope"})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res := d.Dispatch(context.Background(), nil, call("c1", "shell", `{"command":"git push"}`))
	if !res.IsError || !res.Synthetic {
		t.Fatalf("denied call produced %+v", res)
	}
	if !strings.Contains(res.Content, "nope") {
		t.Fatalf("feedback missing from result: %q", res.Content)
	}
	if tool.callCount() != 0 {
		t.Fatal("denied tool executed")
	}
	if !events.has(models.EventToolDenied) {
		t.Fatal("no denied event")
	}
}

func TestDispatchApprovalTimeoutSkipsExecution(t *testing.T) {
	tool := &stubTool{name: "shell"}
	reg := tools.NewRegistry(tools.SourceBuiltin, nil)
	reg.Register(tool)

	cfg := approval.DefaultManagerConfig()
	cfg.RequestTTL = 30 * time.Millisecond
	broker := approval.NewBroker(approval.BrokerConfig{DefaultTTL: cfg.RequestTTL}, nil, nil)
	mgr := approval.NewManager(cfg, approval.PolicyMap{Default: approval.ConfirmAlways},
		approval.NewMemoryAllowList(), broker, nil)
	events := &recordedEvents{}
	d := NewDispatcher(DefaultDispatcherConfig(), tools.NewResolver(reg), hooks.NewRegistry(nil), mgr, events, nil, nil)

	res := d.Dispatch(context.Background(), nil, call("c1", "shell", `{"command":"git push"}`))
	if !res.IsError {
		t.Fatal("timed-out approval executed")
	}
	if !strings.Contains(res.Content, "timed out") {
		t.Fatalf("content = %q, want timeout wording", res.Content)
	}
	if tool.callCount() != 0 {
		t.Fatal("tool executed after approval timeout")
	}
	if !events.has(models.EventToolTimeout) {
		t.Fatal("no timeout event")
	}
}

func TestDispatchBackgroundMode(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tool := &stubTool{
		name: "worker",
		mode: tools.ModeBackground,
		execute: func(context.Context, json.RawMessage) (*tools.Result, error) {
			close(started)
			<-release
			return &tools.Result{Content: "finished"}, nil
		},
	}
	d, hookReg, events := newTestDispatcher(t, tool)

	afterRan := make(chan struct{})
	hookReg.Register(hooks.AfterToolResult, func(ctx context.Context, p hooks.Payload, ec *hooks.ExecContext) (*hooks.Result, error) {
		close(afterRan)
		return &hooks.Result{OK: true}, nil
	})

	res := d.Dispatch(context.Background(), nil, call("c1", "worker", `{}`))
	if res.IsError {
		t.Fatalf("ack result is error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "background") {
		t.Fatalf("ack content = %q", res.Content)
	}
	if !events.has(models.EventBackgroundStarted) {
		t.Fatal("no background-started event")
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("background execution never started")
	}
	close(release)

	select {
	case <-afterRan:
	case <-time.After(time.Second):
		t.Fatal("afterToolResult hook did not run for background result")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if events.has(models.EventToolResult) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("background result event never delivered")
}

func TestDispatchWithNilSink(t *testing.T) {
	tool := &stubTool{name: "echo"}
	reg := tools.NewRegistry(tools.SourceBuiltin, nil)
	reg.Register(tool)
	d := NewDispatcher(DefaultDispatcherConfig(), tools.NewResolver(reg), hooks.NewRegistry(nil), nil, nil, nil, nil)

	res := d.Dispatch(context.Background(), nil, call("c1", "echo", `{}`))
	if res.IsError {
		t.Fatalf("dispatch without a sink failed: %+v", res)
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool executed %d times", tool.callCount())
	}
}

func TestDispatchEmitsConfirmationRequestEvent(t *testing.T) {
	tool := &stubTool{name: "shell"}
	reg := tools.NewRegistry(tools.SourceBuiltin, nil)
	reg.Register(tool)

	broker := approval.NewBroker(approval.BrokerConfig{DefaultTTL: time.Second}, nil, nil)
	mgr := approval.NewManager(approval.DefaultManagerConfig(),
		approval.PolicyMap{Default: approval.ConfirmAlways},
		approval.NewMemoryAllowList(), broker, nil)
	events := &recordedEvents{}
	d := NewDispatcher(DefaultDispatcherConfig(), tools.NewResolver(reg), hooks.NewRegistry(nil), mgr, events, nil, nil)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			for _, req := range broker.Pending() {
				broker.Resolve(req.CallID, approval.Decision{Approved: true})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res := d.Dispatch(context.Background(), nil, call("c1", "shell", `{"command":"git status"}`))
	if res.IsError {
		t.Fatalf("approved call failed: %+v", res)
	}
	if !events.has(models.EventToolConfirmationRequest) {
		t.Fatalf("no confirmation-request event, saw %v", events.typesSeen())
	}
}

func TestDispatchAutoApprovedSkipsConfirmationEvent(t *testing.T) {
	tool := &stubTool{name: "echo"}
	reg := tools.NewRegistry(tools.SourceBuiltin, nil)
	reg.Register(tool)

	broker := approval.NewBroker(approval.BrokerConfig{DefaultTTL: time.Second}, nil, nil)
	mgr := approval.NewManager(approval.DefaultManagerConfig(),
		approval.PolicyMap{Default: approval.ConfirmNever},
		approval.NewMemoryAllowList(), broker, nil)
	events := &recordedEvents{}
	d := NewDispatcher(DefaultDispatcherConfig(), tools.NewResolver(reg), hooks.NewRegistry(nil), mgr, events, nil, nil)

	res := d.Dispatch(context.Background(), nil, call("c2", "echo", `{}`))
	if res.IsError {
		t.Fatalf("auto-approved call failed: %+v", res)
	}
	if events.has(models.EventToolConfirmationRequest) {
		t.Fatal("auto-approved call emitted a confirmation request")
	}
}
