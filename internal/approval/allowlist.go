package approval

import (
	"context"
	"sync"
	"time"
)

// Entry is a previously approved pattern that covers future calls
// without re-prompting. Entries are created only by an explicit
// approve-and-always-allow decision.
type Entry struct {
	Pattern string `json:"pattern" yaml:"pattern"`

	// Scope restricts the entry to the session that approved it. Empty
	// means global: operator-managed entries cover every session.
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// AllowList persists approved patterns.
type AllowList interface {
	Add(ctx context.Context, entry Entry) error
	Remove(ctx context.Context, pattern string) error
	List(ctx context.Context) ([]Entry, error)
}

// CoveredBy reports whether any stored entry covers the requested
// pattern key. Dangerous heads are excluded at both ends: a dangerous
// request is never covered, and a stored dangerous pattern covers
// nothing, so an "rm *" entry cannot silence the prompt for "rm -rf /".
func CoveredBy(ctx context.Context, list AllowList, patternKey string) (bool, error) {
	if patternKey == "" || IsDangerousPattern(patternKey) {
		return false, nil
	}
	entries, err := list.List(ctx)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if IsDangerousPattern(entry.Pattern) {
			continue
		}
		if Covers(entry.Pattern, patternKey) {
			return true, nil
		}
	}
	return false, nil
}

// MemoryAllowList is a thread-safe in-memory AllowList.
type MemoryAllowList struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryAllowList creates an empty in-memory allow-list.
func NewMemoryAllowList() *MemoryAllowList {
	return &MemoryAllowList{entries: make(map[string]Entry)}
}

// Add stores an entry, replacing any existing entry for the pattern.
func (l *MemoryAllowList) Add(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.Pattern] = entry
	return nil
}

// Remove deletes an entry by pattern.
func (l *MemoryAllowList) Remove(ctx context.Context, pattern string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, pattern)
	return nil
}

// List returns all stored entries.
func (l *MemoryAllowList) List(ctx context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReplaceAll swaps the full entry set, used by the file watcher reload.
func (l *MemoryAllowList) ReplaceAll(entries []Entry) {
	next := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if entry.Pattern == "" {
			continue
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		next[entry.Pattern] = entry
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = next
}
