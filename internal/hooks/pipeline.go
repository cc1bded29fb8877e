package hooks

import (
	"context"
	"errors"
	"fmt"
)

// BlockedError is returned when a handler cancels the pipeline. Message
// carries the handler's user-facing explanation.
type BlockedError struct {
	Point   ExtensionPoint
	Handler string
	Message string
}

func (e *BlockedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("hook blocked execution at %s: %s", e.Point, e.Message)
	}
	return fmt.Sprintf("hook blocked execution at %s", e.Point)
}

// ExecError is returned when a handler fails or panics. A defect in one
// hook must not silently corrupt the turn, so the remaining chain is
// aborted.
type ExecError struct {
	Point   ExtensionPoint
	Handler string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("hook execution failed at %s (%s): %v", e.Point, e.Handler, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsBlocked reports whether err is a pipeline cancellation.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// Execution is the outcome of running one extension point's chain.
type Execution struct {
	// Payload is the input payload with all Modify merges applied.
	Payload Payload

	// Notices accumulated from handlers for observability.
	Notices []string
}

// Execute runs all handlers registered at point in priority order.
// Each handler sees the payload with all earlier modifications merged.
// A handler error or panic aborts the chain with *ExecError; cancel
// aborts it with *BlockedError. Handlers run sequentially because later
// handlers must observe earlier mutations.
func (r *Registry) Execute(ctx context.Context, point ExtensionPoint, payload Payload, execCtx *ExecContext) (*Execution, error) {
	regs := r.registrationsFor(point)

	current := payload.Clone()
	exec := &Execution{Payload: current}
	if len(regs) == 0 {
		return exec, nil
	}

	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := r.callHandler(ctx, reg, current, execCtx)
		if reg.Once {
			r.Unregister(reg.ID)
		}
		if err != nil {
			r.logger.Warn("hook handler error",
				"point", point,
				"handler_id", reg.ID,
				"handler_name", reg.Name,
				"error", err)
			return nil, &ExecError{Point: point, Handler: registrationLabel(reg), Err: err}
		}
		if result == nil {
			continue
		}

		exec.Notices = append(exec.Notices, result.Notices...)

		if result.Cancel {
			return nil, &BlockedError{
				Point:   point,
				Handler: registrationLabel(reg),
				Message: result.Message,
			}
		}

		// Shallow merge so later handlers observe prior modifications.
		for k, v := range result.Modify {
			current[k] = v
		}
	}

	exec.Payload = current
	return exec, nil
}

func (r *Registry) callHandler(ctx context.Context, reg *Registration, payload Payload, execCtx *ExecContext) (result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, payload, execCtx)
}

func registrationLabel(reg *Registration) string {
	if reg.Name != "" {
		return reg.Name
	}
	return reg.ID
}
