package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func appendField(key, value string) Handler {
	return func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		return &Result{OK: true, Modify: map[string]any{key: value}}, nil
	}
}

func TestExecuteMergesModificationsInOrder(t *testing.T) {
	reg := NewRegistry(nil)

	var observed []string
	record := func(name, key string) Handler {
		return func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
			observed = append(observed, name)
			return &Result{OK: true, Modify: map[string]any{key: name}}, nil
		}
	}

	if _, err := reg.Register(BeforeToolCall, record("first", "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(BeforeToolCall, record("second", "b")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(BeforeToolCall, record("third", "c")); err != nil {
		t.Fatal(err)
	}

	exec, err := reg.Execute(context.Background(), BeforeToolCall, Payload{KeyToolName: "shell"}, &ExecContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, name := range want {
		if observed[i] != name {
			t.Fatalf("handler order = %v, want %v", observed, want)
		}
	}

	// Union of all three modifications plus the original payload.
	for key, val := range map[string]string{"a": "first", "b": "second", "c": "third"} {
		if exec.Payload[key] != val {
			t.Errorf("payload[%q] = %v, want %q", key, exec.Payload[key], val)
		}
	}
	if exec.Payload[KeyToolName] != "shell" {
		t.Errorf("original payload field lost: %v", exec.Payload[KeyToolName])
	}
}

func TestExecutePriorityOrderWithStableTies(t *testing.T) {
	reg := NewRegistry(nil)

	var order []string
	mark := func(name string) Handler {
		return func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
			order = append(order, name)
			return &Result{OK: true}, nil
		}
	}

	// Registered out of priority order; ties break by registration order.
	reg.Register(BeforeLLMRequest, mark("normal-1"), WithPriority(PriorityNormal))
	reg.Register(BeforeLLMRequest, mark("high"), WithPriority(PriorityHigh))
	reg.Register(BeforeLLMRequest, mark("normal-2"), WithPriority(PriorityNormal))
	reg.Register(BeforeLLMRequest, mark("highest"), WithPriority(PriorityHighest))

	if _, err := reg.Execute(context.Background(), BeforeLLMRequest, Payload{}, &ExecContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{"highest", "high", "normal-1", "normal-2"}
	if len(order) != len(want) {
		t.Fatalf("ran %d handlers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestExecuteLaterHandlerSeesEarlierMutation(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(BeforeToolCall, appendField("injected", "by-first"))

	var seen any
	reg.Register(BeforeToolCall, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		seen = payload["injected"]
		return &Result{OK: true}, nil
	})

	if _, err := reg.Execute(context.Background(), BeforeToolCall, Payload{}, &ExecContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "by-first" {
		t.Fatalf("second handler saw %v, want by-first", seen)
	}
}

func TestExecuteCancelStopsRemainingHandlers(t *testing.T) {
	reg := NewRegistry(nil)

	ran := make([]bool, 3)
	reg.Register(BeforeResponse, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		ran[0] = true
		return &Result{OK: true}, nil
	})
	reg.Register(BeforeResponse, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		ran[1] = true
		return &Result{OK: true, Cancel: true, Message: "policy says no"}, nil
	})
	reg.Register(BeforeResponse, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		ran[2] = true
		return &Result{OK: true}, nil
	})

	_, err := reg.Execute(context.Background(), BeforeResponse, Payload{}, &ExecContext{})
	if !IsBlocked(err) {
		t.Fatalf("err = %v, want BlockedError", err)
	}

	var blocked *BlockedError
	errors.As(err, &blocked)
	if blocked.Message != "policy says no" {
		t.Errorf("blocked message = %q", blocked.Message)
	}
	if !ran[0] || !ran[1] {
		t.Error("handlers before the cancel should have run")
	}
	if ran[2] {
		t.Error("handler after cancel must not run")
	}
}

func TestExecuteHandlerErrorAbortsChain(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(BeforeResponse, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		return nil, fmt.Errorf("boom")
	}, WithName("broken"))

	thirdRan := false
	reg.Register(BeforeResponse, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		thirdRan = true
		return &Result{OK: true}, nil
	})

	_, err := reg.Execute(context.Background(), BeforeResponse, Payload{}, &ExecContext{})
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want ExecError", err)
	}
	if execErr.Handler != "broken" {
		t.Errorf("handler label = %q", execErr.Handler)
	}
	if thirdRan {
		t.Error("handler after failure must not run")
	}
}

func TestExecuteHandlerPanicBecomesExecError(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(AfterToolResult, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		panic("unexpected")
	})

	_, err := reg.Execute(context.Background(), AfterToolResult, Payload{}, &ExecContext{})
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want ExecError", err)
	}
}

func TestExecuteAccumulatesNotices(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(BeforeToolCall, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		return &Result{OK: true, Notices: []string{"first notice"}}, nil
	})
	reg.Register(BeforeToolCall, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		return &Result{OK: true, Notices: []string{"second notice"}}, nil
	})

	exec, err := reg.Execute(context.Background(), BeforeToolCall, Payload{}, &ExecContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(exec.Notices) != 2 || exec.Notices[0] != "first notice" || exec.Notices[1] != "second notice" {
		t.Fatalf("notices = %v", exec.Notices)
	}
}

func TestOnceRegistrationRunsOnlyOnce(t *testing.T) {
	reg := NewRegistry(nil)

	runs := 0
	reg.Register(BeforeLLMRequest, func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error) {
		runs++
		return &Result{OK: true}, nil
	}, Once())

	for i := 0; i < 3; i++ {
		if _, err := reg.Execute(context.Background(), BeforeLLMRequest, Payload{}, &ExecContext{}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if runs != 1 {
		t.Fatalf("once handler ran %d times", runs)
	}
	if reg.HandlerCount(BeforeLLMRequest) != 0 {
		t.Error("once registration should be removed after first run")
	}
}

func TestRegisterRejectsUnknownPoint(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Register(ExtensionPoint("afterEverything"), appendField("k", "v")); err == nil {
		t.Fatal("expected error for unknown extension point")
	}
}

type testPlugin struct {
	name       string
	hooks      map[ExtensionPoint]Handler
	initConfig map[string]any
	cleaned    bool
	cleanupErr error
}

func (p *testPlugin) Name() string                       { return p.name }
func (p *testPlugin) Hooks() map[ExtensionPoint]Handler  { return p.hooks }
func (p *testPlugin) Initialize(cfg map[string]any) error {
	p.initConfig = cfg
	return nil
}
func (p *testPlugin) Cleanup() error {
	p.cleaned = true
	return p.cleanupErr
}

func TestRegisterPluginRejectsEmptyHookSet(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.RegisterPlugin(&testPlugin{name: "empty"}, nil)
	if err == nil {
		t.Fatal("expected configuration error for plugin with no extension points")
	}
}

func TestRegisterPluginInitializesAndRegisters(t *testing.T) {
	reg := NewRegistry(nil)
	plugin := &testPlugin{
		name: "audit",
		hooks: map[ExtensionPoint]Handler{
			BeforeToolCall:  appendField("audited", "yes"),
			AfterToolResult: appendField("recorded", "yes"),
		},
	}

	ids, err := reg.RegisterPlugin(plugin, map[string]any{"level": "full"})
	if err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("registered %d handlers, want 2", len(ids))
	}
	if plugin.initConfig["level"] != "full" {
		t.Error("plugin not initialized with config")
	}
	if reg.HandlerCount(BeforeToolCall) != 1 || reg.HandlerCount(AfterToolResult) != 1 {
		t.Error("plugin handlers not registered at their points")
	}
}

func TestShutdownCleanupIsBestEffort(t *testing.T) {
	reg := NewRegistry(nil)

	failing := &testPlugin{
		name:       "flaky",
		hooks:      map[ExtensionPoint]Handler{BeforeResponse: appendField("x", "y")},
		cleanupErr: errors.New("cleanup failed"),
	}
	healthy := &testPlugin{
		name:  "stable",
		hooks: map[ExtensionPoint]Handler{BeforeResponse: appendField("z", "w")},
	}

	if _, err := reg.RegisterPlugin(failing, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RegisterPlugin(healthy, nil); err != nil {
		t.Fatal(err)
	}

	reg.Shutdown()

	if !failing.cleaned || !healthy.cleaned {
		t.Error("all plugins must get a cleanup attempt even when one fails")
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	reg := NewRegistry(nil)
	id, err := reg.Register(BeforeToolCall, appendField("k", "v"))
	if err != nil {
		t.Fatal(err)
	}
	if !reg.Unregister(id) {
		t.Fatal("Unregister returned false for live registration")
	}
	if reg.HandlerCount(BeforeToolCall) != 0 {
		t.Error("handler still present after unregister")
	}
	if reg.Unregister(id) {
		t.Error("second unregister should return false")
	}
}
