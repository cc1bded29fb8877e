package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-dev/aegis/internal/observability"
)

// RequestNotifier receives newly created pending requests so a surface
// (CLI prompt, UI, API) can present them to the operator.
type RequestNotifier func(req *Request)

// AuditSink records resolved requests. Failures are logged, never fatal.
type AuditSink interface {
	Record(ctx context.Context, req *Request) error
}

// BrokerConfig controls pending-request behavior.
type BrokerConfig struct {
	// DefaultTTL bounds how long a request may stay pending before it
	// resolves to timed_out. Zero means no automatic timeout.
	DefaultTTL time.Duration
}

// DefaultBrokerConfig returns the broker defaults.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{DefaultTTL: 5 * time.Minute}
}

type pendingRequest struct {
	req      *Request
	decision chan Decision
}

// Broker owns the pending-approval state machine. Every request moves
// from pending to exactly one terminal status; later decisions for an
// already-resolved request are rejected with ErrAlreadyResolved and
// decisions for unknown call IDs with ErrNoPendingRequest.
type Broker struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	cfg      BrokerConfig
	notify   RequestNotifier
	audit    AuditSink
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewBroker creates a broker. notify and audit may be nil.
func NewBroker(cfg BrokerConfig, logger *slog.Logger, metrics *observability.Metrics) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		pending: make(map[string]*pendingRequest),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "approval-broker"),
	}
}

// SetNotifier installs the callback invoked for each new pending request.
func (b *Broker) SetNotifier(fn RequestNotifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

// SetAuditSink installs the sink that records resolutions.
func (b *Broker) SetAuditSink(sink AuditSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audit = sink
}

// Pending returns a snapshot of requests still awaiting a decision.
func (b *Broker) Pending() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Request, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	return out
}

// Await registers the request and blocks until a decision arrives, the
// TTL elapses, or ctx is done. It is the only place a request becomes
// terminal, so races between a decision and a timeout resolve to
// whichever arrives first.
func (b *Broker) Await(ctx context.Context, req *Request) (*Request, Decision, error) {
	p := &pendingRequest{req: req, decision: make(chan Decision, 1)}

	b.mu.Lock()
	if _, exists := b.pending[req.CallID]; exists {
		b.mu.Unlock()
		return req, Decision{}, ErrAlreadyResolved
	}
	b.pending[req.CallID] = p
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(req)
	}
	b.logger.Info("approval requested",
		"call_id", req.CallID,
		"tool", req.ToolName,
		"pattern", req.PatternKey)

	ttl := b.cfg.DefaultTTL
	if !req.ExpiresAt.IsZero() {
		ttl = time.Until(req.ExpiresAt)
	}
	var timeout <-chan time.Time
	if ttl > 0 {
		timer := time.NewTimer(ttl)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case decision, ok := <-p.decision:
		return b.settle(ctx, req, decision, ok)
	case <-timeout:
		// A Resolve may have removed the entry just before the timer
		// fired; its decision is already buffered and must win, or the
		// resolver was told delivery succeeded when it did not.
		if !b.claim(req.CallID) {
			decision, ok := <-p.decision
			return b.settle(ctx, req, decision, ok)
		}
		b.finalize(ctx, req, StatusTimedOut, "", "")
		return req, Decision{}, nil
	case <-ctx.Done():
		if !b.claim(req.CallID) {
			decision, ok := <-p.decision
			return b.settle(ctx, req, decision, ok)
		}
		b.finalize(ctx, req, StatusCancelled, "", "")
		return req, Decision{}, ctx.Err()
	}
}

// claim removes the pending entry if it is still present. A false
// return means a resolver or canceller won the race and a decision (or
// channel close) is already on the way.
func (b *Broker) claim(callID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[callID]; ok {
		delete(b.pending, callID)
		return true
	}
	return false
}

func (b *Broker) settle(ctx context.Context, req *Request, decision Decision, ok bool) (*Request, Decision, error) {
	if !ok {
		b.finalize(ctx, req, StatusCancelled, "", "")
		return req, Decision{}, nil
	}
	status := StatusDenied
	if decision.Approved {
		status = StatusApproved
	}
	b.finalize(ctx, req, status, decision.DecidedBy, decision.Feedback)
	return req, decision, nil
}

// Resolve delivers a decision for a pending request. A decision for an
// unknown call ID is a strict no-op at the state-machine level: the
// caller gets ErrNoPendingRequest and nothing changes.
func (b *Broker) Resolve(callID string, decision Decision) error {
	b.mu.Lock()
	p, ok := b.pending[callID]
	if ok {
		delete(b.pending, callID)
		// Buffered send under the lock: once Resolve reports success the
		// decision is in the channel, so Await cannot time out past it.
		p.decision <- decision
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Warn("decision for unknown or resolved request dropped", "call_id", callID)
		return ErrNoPendingRequest
	}
	return nil
}

// CancelSession cancels every pending request belonging to the session.
func (b *Broker) CancelSession(sessionID string) int {
	return b.cancelWhere(func(req *Request) bool { return req.SessionID == sessionID })
}

// CancelAll cancels every pending request, used at shutdown.
func (b *Broker) CancelAll() int {
	return b.cancelWhere(func(*Request) bool { return true })
}

func (b *Broker) cancelWhere(match func(*Request) bool) int {
	b.mu.Lock()
	var cancelled []*pendingRequest
	for id, p := range b.pending {
		if match(p.req) {
			cancelled = append(cancelled, p)
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()

	for _, p := range cancelled {
		close(p.decision)
	}
	return len(cancelled)
}

func (b *Broker) finalize(ctx context.Context, req *Request, status Status, decidedBy, feedback string) {
	b.mu.Lock()
	delete(b.pending, req.CallID)
	audit := b.audit
	b.mu.Unlock()

	now := time.Now()
	req.Status = status
	req.DecidedAt = now
	req.DecidedBy = decidedBy
	req.Feedback = feedback

	if b.metrics != nil {
		b.metrics.ApprovalDecisionCounter.WithLabelValues(string(status)).Inc()
	}
	b.logger.Info("approval resolved",
		"call_id", req.CallID,
		"tool", req.ToolName,
		"status", string(status))

	if audit != nil {
		if err := audit.Record(ctx, req); err != nil {
			b.logger.Warn("approval audit record failed", "call_id", req.CallID, "error", err)
		}
	}
}
