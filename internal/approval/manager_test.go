package approval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aegis-dev/aegis/pkg/models"
)

func shellCall(id, command string) models.ToolCall {
	input, _ := json.Marshal(map[string]string{"command": command})
	return models.ToolCall{ID: id, Name: "shell", SessionID: "sess-1", Input: input}
}

func newTestManager(ttl time.Duration, defaultMode Mode) *Manager {
	cfg := DefaultManagerConfig()
	cfg.RequestTTL = ttl
	broker := NewBroker(BrokerConfig{DefaultTTL: ttl}, nil, nil)
	policy := PolicyMap{Default: defaultMode}
	return NewManager(cfg, policy, NewMemoryAllowList(), broker, nil)
}

func TestAuthorizeConfirmNeverAutoApproves(t *testing.T) {
	m := newTestManager(time.Second, ConfirmNever)
	res, err := m.Authorize(context.Background(), shellCall("c1", "git push origin main"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Status != StatusApproved || !res.AutoApproved {
		t.Fatalf("res = %+v, want auto-approved", res)
	}
}

func TestAuthorizeStoredPatternCoversCall(t *testing.T) {
	m := newTestManager(time.Second, ConfirmPattern)
	m.AllowListStore().Add(context.Background(), Entry{Pattern: "git *"})

	res, err := m.Authorize(context.Background(), shellCall("c2", "git push origin main"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Status != StatusApproved || !res.AutoApproved {
		t.Fatalf("res = %+v, want auto-approved via allow-list", res)
	}
}

func TestAuthorizeDangerousCommandIgnoresAllowList(t *testing.T) {
	// Even a stored "rm *" entry must not silence the prompt for an rm
	// command; with nobody answering, the request times out and the
	// call is not allowed.
	m := newTestManager(30*time.Millisecond, ConfirmPattern)
	m.AllowListStore().Add(context.Background(), Entry{Pattern: "rm *"})

	res, err := m.Authorize(context.Background(), shellCall("c3", "rm -rf /tmp/scratch"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.AutoApproved {
		t.Fatal("dangerous command was auto-approved")
	}
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %v, want timed_out", res.Status)
	}
	if res.PatternKey != "" {
		t.Fatalf("dangerous command got pattern suggestion %q", res.PatternKey)
	}
}

func TestAuthorizeUncoveredCommandPromptsAndStoresPattern(t *testing.T) {
	m := newTestManager(time.Second, ConfirmPattern)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			for _, req := range m.Broker().Pending() {
				m.Broker().Resolve(req.CallID, Decision{Approved: true, AlwaysAllow: true})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res, err := m.Authorize(context.Background(), shellCall("c4", "npm install lodash"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Status != StatusApproved || res.AutoApproved {
		t.Fatalf("res = %+v, want prompted approval", res)
	}
	if res.PatternKey != "npm install *" {
		t.Fatalf("pattern key = %q, want %q", res.PatternKey, "npm install *")
	}

	// The always-allow decision stored the pattern; the same command
	// now skips the prompt entirely.
	res, err = m.Authorize(context.Background(), shellCall("c5", "npm install react"))
	if err != nil {
		t.Fatalf("second Authorize: %v", err)
	}
	if res.Status != StatusApproved || !res.AutoApproved {
		t.Fatalf("second res = %+v, want auto-approved", res)
	}
}

func TestAuthorizeDeniedWithFeedback(t *testing.T) {
	m := newTestManager(time.Second, ConfirmAlways)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			for _, req := range m.Broker().Pending() {
				m.Broker().Resolve(req.CallID, Decision{Approved: false, Feedback: "not in CI"})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res, err := m.Authorize(context.Background(), shellCall("c6", "git push origin main"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Status != StatusDenied {
		t.Fatalf("status = %v, want denied", res.Status)
	}
	if res.Feedback != "not in CI" {
		t.Fatalf("feedback = %q", res.Feedback)
	}
}

func TestAuthorizeConfirmAlwaysIgnoresAllowList(t *testing.T) {
	m := newTestManager(30*time.Millisecond, ConfirmAlways)
	m.AllowListStore().Add(context.Background(), Entry{Pattern: "git *"})

	res, err := m.Authorize(context.Background(), shellCall("c7", "git status"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.AutoApproved {
		t.Fatal("confirm-always tool was auto-approved from allow-list")
	}
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %v, want timed_out", res.Status)
	}
}

func TestAuthorizeScopedEntryCoversOnlyItsSession(t *testing.T) {
	m := newTestManager(30*time.Millisecond, ConfirmPattern)
	m.AllowListStore().Add(context.Background(), Entry{Pattern: "git *", Scope: "sess-1"})

	// Same session as the scope: covered.
	res, err := m.Authorize(context.Background(), shellCall("c8", "git push origin main"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Status != StatusApproved || !res.AutoApproved {
		t.Fatalf("res = %+v, want auto-approved in owning session", res)
	}

	// A different session must still prompt; with nobody answering the
	// request times out.
	other := shellCall("c9", "git push origin main")
	other.SessionID = "sess-2"
	res, err = m.Authorize(context.Background(), other)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.AutoApproved {
		t.Fatal("entry scoped to sess-1 covered a sess-2 call")
	}
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %v, want timed_out", res.Status)
	}
}

func TestAuthorizeUnscopedEntryCoversAllSessions(t *testing.T) {
	m := newTestManager(time.Second, ConfirmPattern)
	m.AllowListStore().Add(context.Background(), Entry{Pattern: "git *"})

	call := shellCall("c10", "git status")
	call.SessionID = "sess-other"
	res, err := m.Authorize(context.Background(), call)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Status != StatusApproved || !res.AutoApproved {
		t.Fatalf("res = %+v, want global entry to cover any session", res)
	}
}

func TestCoveredByExcludesDangerousEntries(t *testing.T) {
	list := NewMemoryAllowList()
	list.Add(context.Background(), Entry{Pattern: "rm *"})

	covered, err := CoveredBy(context.Background(), list, "rm -rf *")
	if err != nil {
		t.Fatalf("CoveredBy: %v", err)
	}
	if covered {
		t.Fatal("dangerous pattern key reported as covered")
	}
}
