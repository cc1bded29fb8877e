package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-dev/aegis/internal/approval"
	"github.com/aegis-dev/aegis/internal/hooks"
	"github.com/aegis-dev/aegis/internal/observability"
	"github.com/aegis-dev/aegis/internal/tools"
	"github.com/aegis-dev/aegis/pkg/models"
)

// DispatcherConfig bounds tool execution.
type DispatcherConfig struct {
	// DefaultTimeout caps each tool execution.
	DefaultTimeout time.Duration

	// MaxConcurrent limits parallel tool executions within one batch.
	MaxConcurrent int
}

// DefaultDispatcherConfig returns the dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DefaultTimeout: 2 * time.Minute,
		MaxConcurrent:  4,
	}
}

// Dispatcher runs tool calls through the full governance pipeline:
// beforeToolCall hooks, approval, source resolution, schema validation,
// timed execution, afterToolResult hooks. Every call receives exactly
// one result; failures at any stage become synthetic error results
// rather than dropped calls.
type Dispatcher struct {
	cfg       DispatcherConfig
	resolver  *tools.Resolver
	hooks     *hooks.Registry
	approvals *approval.Manager
	validator *schemaValidator
	sink      EventSink
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu         sync.Mutex
	background map[string]context.CancelFunc
}

// NewDispatcher wires the pipeline. approvals and sink may be nil;
// hooks and resolver must not be.
func NewDispatcher(cfg DispatcherConfig, resolver *tools.Resolver, hookReg *hooks.Registry, approvals *approval.Manager, sink EventSink, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultDispatcherConfig().DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultDispatcherConfig().MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = EventSinkFunc(func(*models.RuntimeEvent) {})
	}
	d := &Dispatcher{
		cfg:        cfg,
		resolver:   resolver,
		hooks:      hookReg,
		approvals:  approvals,
		validator:  newSchemaValidator(),
		sink:       sink,
		metrics:    metrics,
		logger:     logger.With("component", "dispatcher"),
		background: make(map[string]context.CancelFunc),
	}
	if approvals != nil {
		// Surface pending confirmations on the event stream so outer
		// layers can prompt before the broker resolves.
		approvals.SetRequestObserver(func(req *approval.Request) {
			d.sink.Emit(models.NewToolEvent(models.EventToolConfirmationRequest, req.ToolName, req.CallID).
				WithSession(req.SessionID).
				WithMeta("pattern_key", req.PatternKey))
		})
	}
	return d
}

// DispatchAll executes a batch of tool calls with bounded concurrency
// and returns one result per call, in input order.
func (d *Dispatcher) DispatchAll(ctx context.Context, execCtx *hooks.ExecContext, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, d.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.Dispatch(ctx, execCtx, call)
		}(i, call)
	}
	wg.Wait()

	// Exactly one result per call id, even if a stage misbehaved.
	for i, call := range calls {
		if results[i].ToolCallID == "" {
			results[i] = syntheticResult(call, ErrTypeInternal, "tool call produced no result")
		}
	}
	return results
}

// Dispatch runs one call through the pipeline and always returns a
// result for its call id.
func (d *Dispatcher) Dispatch(ctx context.Context, execCtx *hooks.ExecContext, call models.ToolCall) (result models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in tool dispatch", "tool", call.Name, "call_id", call.ID, "panic", r)
			result = syntheticResult(call, ErrTypeInternal, fmt.Sprintf("internal fault: %v", r))
		}
	}()

	ctx = observability.AddToolCallID(ctx, call.ID)
	start := time.Now()

	// beforeToolCall hooks may rewrite arguments or block the call.
	call, res, blocked := d.runBeforeHooks(ctx, execCtx, call)
	if blocked {
		return res
	}

	if !d.authorize(ctx, call, &res) {
		return res
	}

	tool, sourceKind, err := d.resolver.Resolve(call.Name)
	if err != nil {
		d.emitFailure(call, ErrTypeNotFound, start)
		return syntheticResult(call, ErrTypeNotFound, err.Error())
	}

	if err := d.validator.Validate(call.Name, tool.Definition().InputSchema, call.Input); err != nil {
		d.emitFailure(call, ErrTypeInvalidInput, start)
		return syntheticResult(call, ErrTypeInvalidInput, fmt.Sprintf("arguments rejected: %v", err))
	}

	if tools.ModeOf(tool) == tools.ModeBackground {
		return d.startBackground(ctx, execCtx, tool, call)
	}

	d.sink.Emit(models.NewToolEvent(models.EventToolStarted, call.Name, call.ID).
		WithSession(call.SessionID).
		WithMeta("source", string(sourceKind)))

	result = d.executeTimed(ctx, tool, call, start)
	return d.runAfterHooks(ctx, execCtx, call, result)
}

// runBeforeHooks executes the beforeToolCall extension point. Blocked
// and failed hook chains both convert into synthetic results.
func (d *Dispatcher) runBeforeHooks(ctx context.Context, execCtx *hooks.ExecContext, call models.ToolCall) (models.ToolCall, models.ToolResult, bool) {
	if d.hooks == nil {
		return call, models.ToolResult{}, false
	}

	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			d.logger.Warn("tool arguments are not an object, hooks see raw payload", "tool", call.Name, "call_id", call.ID)
		}
	}
	exec, err := d.hooks.Execute(ctx, hooks.BeforeToolCall, hooks.NewToolCallPayload(call.Name, args, call.SessionID, call.ID), execCtx)
	if err != nil {
		if hooks.IsBlocked(err) {
			d.countHooks(hooks.BeforeToolCall, "blocked")
			d.logger.Info("tool call blocked by hook", "tool", call.Name, "call_id", call.ID, "error", err)
			d.sink.Emit(models.NewToolEvent(models.EventToolDenied, call.Name, call.ID).WithSession(call.SessionID))
			return call, syntheticResult(call, ErrTypePermission, fmt.Sprintf("blocked: %v", err)), true
		}
		d.countHooks(hooks.BeforeToolCall, "failed")
		d.logger.Error("beforeToolCall hook failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return call, syntheticResult(call, ErrTypeInternal, fmt.Sprintf("hook failure: %v", err)), true
	}
	d.countHooks(hooks.BeforeToolCall, "ok")

	// Hooks may rewrite the arguments.
	if modified, ok := exec.Payload[hooks.KeyArgs]; ok {
		if raw, err := json.Marshal(modified); err == nil {
			call.Input = raw
		}
	}
	return call, models.ToolResult{}, false
}

// authorize runs the approval flow. It returns true when execution may
// proceed; otherwise result holds the synthetic denial.
func (d *Dispatcher) authorize(ctx context.Context, call models.ToolCall, result *models.ToolResult) bool {
	if d.approvals == nil {
		return true
	}

	resolution, err := d.approvals.Authorize(ctx, call)
	if err != nil {
		*result = syntheticResult(call, ErrTypeInternal, fmt.Sprintf("approval flow failed: %v", err))
		return false
	}
	if resolution.Status.Allows() {
		if d.metrics != nil && resolution.AutoApproved {
			d.metrics.ApprovalDecisionCounter.WithLabelValues("auto_approved").Inc()
		}
		return true
	}

	msg := "tool call denied"
	eventType := models.EventToolDenied
	errType := ErrTypePermission
	switch resolution.Status {
	case approval.StatusTimedOut:
		msg = "confirmation timed out; treated as denial"
		eventType = models.EventToolTimeout
	case approval.StatusCancelled:
		msg = "turn cancelled before confirmation"
		errType = ErrTypeCanceled
	}
	if resolution.Feedback != "" {
		msg += ": " + resolution.Feedback
	}

	d.sink.Emit(models.NewToolEvent(eventType, call.Name, call.ID).
		WithSession(call.SessionID).
		WithMeta("status", string(resolution.Status)))
	*result = syntheticResult(call, errType, msg)
	return false
}

// executeTimed runs the tool under the timeout with panic isolation.
func (d *Dispatcher) executeTimed(ctx context.Context, tool tools.Tool, call models.ToolCall, start time.Time) models.ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, d.cfg.DefaultTimeout)
	defer cancel()

	type outcome struct {
		res *tools.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewToolError(ErrTypeExecution, call.Name, call.ID, fmt.Sprintf("tool panicked: %v", r), nil)}
			}
		}()
		res, err := tool.Execute(execCtx, call.Input)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			d.emitFailure(call, ErrorTypeOf(out.err), start)
			return syntheticResult(call, ErrorTypeOf(out.err), out.err.Error())
		}
		d.observe(call.Name, "ok", start)
		d.sink.Emit(models.NewToolEvent(models.EventToolResult, call.Name, call.ID).WithSession(call.SessionID))
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    out.res.Content,
			IsError:    out.res.IsError,
		}
	case <-execCtx.Done():
		if ctx.Err() != nil {
			d.emitFailure(call, ErrTypeCanceled, start)
			return syntheticResult(call, ErrTypeCanceled, "turn cancelled during execution")
		}
		d.emitFailure(call, ErrTypeTimeout, start)
		return syntheticResult(call, ErrTypeTimeout, fmt.Sprintf("execution exceeded %s", d.cfg.DefaultTimeout))
	}
}

// runAfterHooks executes afterToolResult. The tool already ran, so hook
// failures here are logged and the result stands; hooks may still
// rewrite the result content.
func (d *Dispatcher) runAfterHooks(ctx context.Context, execCtx *hooks.ExecContext, call models.ToolCall, result models.ToolResult) models.ToolResult {
	if d.hooks == nil {
		return result
	}

	payload := hooks.NewToolResultPayload(call.Name, result.Content, !result.IsError, call.SessionID, call.ID)
	exec, err := d.hooks.Execute(ctx, hooks.AfterToolResult, payload, execCtx)
	if err != nil {
		d.countHooks(hooks.AfterToolResult, "failed")
		d.logger.Error("afterToolResult hook failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return result
	}
	d.countHooks(hooks.AfterToolResult, "ok")

	if modified, ok := exec.Payload[hooks.KeyResult].(string); ok {
		result.Content = modified
	}
	return result
}

// startBackground acknowledges immediately and delivers the real result
// through the event sink when the tool finishes. afterToolResult hooks
// still run on the final result.
func (d *Dispatcher) startBackground(ctx context.Context, execCtx *hooks.ExecContext, tool tools.Tool, call models.ToolCall) models.ToolResult {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Lock()
	d.background[call.ID] = cancel
	d.mu.Unlock()

	d.sink.Emit(models.NewToolEvent(models.EventBackgroundStarted, call.Name, call.ID).WithSession(call.SessionID))

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.background, call.ID)
			d.mu.Unlock()
			cancel()
		}()

		start := time.Now()
		result := d.executeTimed(bgCtx, tool, call, start)
		result = d.runAfterHooks(bgCtx, execCtx, call, result)

		d.sink.Emit(models.NewToolEvent(models.EventToolResult, call.Name, call.ID).
			WithSession(call.SessionID).
			WithMeta("background", true).
			WithMeta("content", result.Content).
			WithMeta("is_error", result.IsError))
	}()

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("tool %s started in background; result will follow", call.Name),
	}
}

// CancelBackground stops a running background execution.
func (d *Dispatcher) CancelBackground(callID string) bool {
	d.mu.Lock()
	cancel, ok := d.background[callID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (d *Dispatcher) observe(toolName, status string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	d.metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) emitFailure(call models.ToolCall, typ ToolErrorType, start time.Time) {
	d.observe(call.Name, string(typ), start)
	eventType := models.EventToolFailed
	if typ == ErrTypeTimeout {
		eventType = models.EventToolTimeout
	}
	d.sink.Emit(models.NewToolEvent(eventType, call.Name, call.ID).
		WithSession(call.SessionID).
		WithMeta("error_type", string(typ)))
}

func (d *Dispatcher) countHooks(point hooks.ExtensionPoint, outcome string) {
	if d.metrics != nil {
		d.metrics.HookExecutionCounter.WithLabelValues(string(point), outcome).Inc()
	}
}

// syntheticResult builds the error result injected when a call cannot
// or must not execute.
func syntheticResult(call models.ToolCall, typ ToolErrorType, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("[%s] %s", typ, message),
		IsError:    true,
		Synthetic:  true,
	}
}
