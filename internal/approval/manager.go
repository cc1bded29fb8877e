package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegis-dev/aegis/pkg/models"
)

// ManagerConfig controls authorization behavior.
type ManagerConfig struct {
	// RequestTTL bounds how long a prompt may stay unanswered.
	RequestTTL time.Duration

	// CommandArg names the tool argument holding a shell command, used
	// to derive allow-list pattern keys. Tools without this argument
	// never get pattern suggestions.
	CommandArg string
}

// DefaultManagerConfig returns the manager defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RequestTTL: 5 * time.Minute,
		CommandArg: "command",
	}
}

// Manager decides whether a tool call may execute: policy mode first,
// then the allow-list covering rule, then an operator prompt through
// the broker. Dangerous commands always prompt regardless of stored
// patterns.
type Manager struct {
	cfg      ManagerConfig
	policy   Policy
	list     AllowList
	broker   *Broker
	observer RequestNotifier
	logger   *slog.Logger
}

// NewManager wires the authorization flow.
func NewManager(cfg ManagerConfig, policy Policy, list AllowList, broker *Broker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = PolicyMap{}
	}
	return &Manager{
		cfg:    cfg,
		policy: policy,
		list:   list,
		broker: broker,
		logger: logger.With("component", "approval-manager"),
	}
}

// Broker exposes the underlying broker so surfaces can resolve and
// cancel pending requests.
func (m *Manager) Broker() *Broker { return m.broker }

// AllowListStore exposes the underlying allow-list.
func (m *Manager) AllowListStore() AllowList { return m.list }

// SetRequestObserver installs a callback invoked when a call enters
// pending, before the broker starts awaiting a decision. Set it during
// wiring; it is not synchronized against in-flight Authorize calls.
func (m *Manager) SetRequestObserver(fn RequestNotifier) {
	m.observer = fn
}

// Authorize runs the full approval flow for one tool call and returns
// its terminal resolution. The caller translates a non-approved status
// into a synthetic error result; execution proceeds only on
// Status.Allows().
func (m *Manager) Authorize(ctx context.Context, call models.ToolCall) (Resolution, error) {
	mode := m.policy.ModeFor(call.Name)
	command := m.extractCommand(call)
	patternKey, dangerous := m.patternKeyFor(command)

	if mode == ConfirmNever {
		return Resolution{
			Status:       StatusApproved,
			AutoApproved: true,
			Reason:       "policy: never confirm",
			PatternKey:   patternKey,
		}, nil
	}

	if mode == ConfirmPattern && !dangerous && command != "" && m.list != nil {
		covered, err := m.coveredByCommand(ctx, call.SessionID, command)
		if err != nil {
			return Resolution{}, fmt.Errorf("allow-list lookup: %w", err)
		}
		if covered {
			return Resolution{
				Status:       StatusApproved,
				AutoApproved: true,
				Reason:       "allow-list pattern covers command",
				PatternKey:   patternKey,
			}, nil
		}
	}

	req := NewRequest(call, summarizeArgs(call), patternKey, m.cfg.RequestTTL)
	if dangerous {
		// Dangerous commands never produce an allow-list suggestion.
		req.PatternKey = ""
	}

	if m.observer != nil {
		m.observer(req)
	}

	resolved, decision, err := m.broker.Await(ctx, req)
	if err != nil && resolved.Status != StatusCancelled {
		return Resolution{}, err
	}

	res := Resolution{
		Status:     resolved.Status,
		Reason:     reasonFor(resolved.Status),
		Feedback:   resolved.Feedback,
		PatternKey: req.PatternKey,
	}

	if resolved.Status == StatusApproved && decision.AlwaysAllow &&
		req.PatternKey != "" && !dangerous && m.list != nil {
		entry := Entry{Pattern: req.PatternKey, Scope: call.SessionID}
		if err := m.list.Add(ctx, entry); err != nil {
			m.logger.Warn("allow-list add failed", "pattern", req.PatternKey, "error", err)
		} else {
			m.logger.Info("allow-list pattern stored", "pattern", req.PatternKey)
		}
	}
	return res, nil
}

func (m *Manager) coveredByCommand(ctx context.Context, sessionID, command string) (bool, error) {
	entries, err := m.list.List(ctx)
	if err != nil {
		return false, err
	}
	if IsDangerousCommand(command) {
		return false, nil
	}
	for _, entry := range entries {
		// An empty scope is a global entry; a scoped entry only covers
		// calls from the session that approved it.
		if entry.Scope != "" && entry.Scope != sessionID {
			continue
		}
		if IsDangerousPattern(entry.Pattern) {
			continue
		}
		if CoversCommand(entry.Pattern, command) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) extractCommand(call models.ToolCall) string {
	if m.cfg.CommandArg == "" || len(call.Input) == 0 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return ""
	}
	command, _ := args[m.cfg.CommandArg].(string)
	return command
}

func (m *Manager) patternKeyFor(command string) (key string, dangerous bool) {
	if command == "" {
		return "", false
	}
	if IsDangerousCommand(command) {
		return "", true
	}
	key, ok := SuggestPattern(command)
	if !ok {
		return "", false
	}
	return key, false
}

func summarizeArgs(call models.ToolCall) string {
	const maxSummary = 200
	s := string(call.Input)
	if len(s) > maxSummary {
		s = s[:maxSummary] + "..."
	}
	return s
}

func reasonFor(status Status) string {
	switch status {
	case StatusApproved:
		return "operator approved"
	case StatusDenied:
		return "operator denied"
	case StatusTimedOut:
		return "confirmation timed out"
	case StatusCancelled:
		return "turn cancelled before decision"
	default:
		return string(status)
	}
}
