// Package sessions persists conversation sessions and their message
// history. The memory store backs tests and ephemeral runs; the SQLite
// store survives restarts.
package sessions

import (
	"context"
	"errors"

	"github.com/aegis-dev/aegis/pkg/models"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store is the session persistence contract.
type Store interface {
	// CreateSession registers a new session.
	CreateSession(ctx context.Context, session models.Session) error

	// GetSession returns a session by id.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]models.Session, error)

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage adds a message to a session's history.
	AppendMessage(ctx context.Context, msg models.Message) error

	// Messages returns a session's history in order.
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)

	// ReplaceMessages atomically swaps a session's history, used after
	// compaction.
	ReplaceMessages(ctx context.Context, sessionID string, msgs []models.Message) error
}
