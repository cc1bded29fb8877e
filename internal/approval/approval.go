// Package approval implements the tool-call governance state machine:
// pending confirmation requests resolved by explicit operator decision,
// stored allow-list patterns, or timeout. Terminal states are final and
// a request can never be resolved twice.
package approval

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-dev/aegis/pkg/models"
)

// Status represents the lifecycle state of an approval request.
type Status string

const (
	// StatusPending means the request awaits a decision.
	StatusPending Status = "pending"
	// StatusApproved means the operator allowed the call.
	StatusApproved Status = "approved"
	// StatusDenied means the operator denied the call.
	StatusDenied Status = "denied"
	// StatusTimedOut means no decision arrived within the window. Treated
	// as a denial for execution, reported distinctly for telemetry.
	StatusTimedOut Status = "timed_out"
	// StatusCancelled means the turn was cancelled before a decision.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Allows reports whether the status permits execution.
func (s Status) Allows() bool {
	return s == StatusApproved
}

var (
	// ErrNoPendingRequest is returned when a decision arrives for a
	// request that is unknown or already terminal. Late decisions are a
	// no-op by contract; callers log and drop this error.
	ErrNoPendingRequest = errors.New("no pending approval request")

	// ErrAlreadyResolved is returned on an attempt to resolve a request
	// a second time.
	ErrAlreadyResolved = errors.New("approval request already resolved")
)

// Request is a pending confirmation request for one tool call.
type Request struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ToolName    string    `json:"tool_name"`
	ArgsSummary string    `json:"args_summary,omitempty"`
	PatternKey  string    `json:"pattern_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	Status    Status    `json:"status"`
	DecidedAt time.Time `json:"decided_at,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	Feedback  string    `json:"feedback,omitempty"`
}

// NewRequest builds a pending request for a tool call. patternKey may be
// empty when the call has no shell-like command or the command is
// classified dangerous.
func NewRequest(call models.ToolCall, argsSummary, patternKey string, ttl time.Duration) *Request {
	now := time.Now()
	return &Request{
		ID:          uuid.New().String(),
		CallID:      call.ID,
		SessionID:   call.SessionID,
		ToolName:    call.Name,
		ArgsSummary: argsSummary,
		PatternKey:  patternKey,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      StatusPending,
	}
}

// Decision is an inbound resolution for a pending request.
type Decision struct {
	// Approved allows the tool call to execute.
	Approved bool `json:"approved"`

	// AlwaysAllow stores the request's pattern key in the allow-list so
	// future covered calls skip the prompt. Ignored for dangerous
	// commands and requests without a pattern key.
	AlwaysAllow bool `json:"always_allow,omitempty"`

	// DecidedBy identifies the operator.
	DecidedBy string `json:"decided_by,omitempty"`

	// Feedback is optional operator text carried into the denial result.
	Feedback string `json:"feedback,omitempty"`
}

// Resolution is the terminal outcome of an authorization check.
type Resolution struct {
	// Status is the terminal state the request reached. Auto-approved
	// calls are StatusApproved without ever entering pending.
	Status Status `json:"status"`

	// AutoApproved means no prompt was shown (policy or allow-list).
	AutoApproved bool `json:"auto_approved,omitempty"`

	// Reason explains the resolution for logs and telemetry.
	Reason string `json:"reason,omitempty"`

	// Feedback is the operator's optional text, carried into the
	// synthetic denial result.
	Feedback string `json:"feedback,omitempty"`

	// PatternKey is the derived allow-list key, when one exists.
	PatternKey string `json:"pattern_key,omitempty"`
}

// Mode is a tool's confirmation policy.
type Mode string

const (
	// ConfirmAlways prompts for every call.
	ConfirmAlways Mode = "always"
	// ConfirmNever executes without a prompt.
	ConfirmNever Mode = "never"
	// ConfirmPattern consults the allow-list via the covering rule and
	// prompts only when no stored pattern covers the call.
	ConfirmPattern Mode = "pattern"
)

// Policy maps tools to confirmation modes.
type Policy interface {
	ModeFor(toolName string) Mode
}

// PolicyMap is a static Policy with a default mode for unlisted tools.
type PolicyMap struct {
	Modes   map[string]Mode
	Default Mode
}

// ModeFor returns the confirmation mode for a tool.
func (p PolicyMap) ModeFor(toolName string) Mode {
	if mode, ok := p.Modes[toolName]; ok {
		return mode
	}
	if p.Default != "" {
		return p.Default
	}
	return ConfirmPattern
}
