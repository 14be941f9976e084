// Package session provides session storage and the in-memory working
// session the Turn Engine operates on.
package session

import (
	"context"
	"time"

	"github.com/chatgate/chatgate/internal/types"
)

// ScopeMain is the constant user slot used when a session's scope is "main":
// every sender on a channel shares that channel's one session.
const ScopeMain = "__main__"

// Record is a persisted session row.
type Record struct {
	ID        string
	UserID    string
	Channel   string
	Scope     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Info adds list-sessions summary fields to a Record.
type Info struct {
	Record
	MessageCount int
}

// Store is the narrow, concurrent-safe interface the Turn Engine and the
// HTTP surface use to persist sessions and messages. Both the SQLite
// implementation and the in-memory test double obey the same contracts.
type Store interface {
	// GetOrCreateSession returns the session for (userID, channel, scope),
	// creating it atomically on first use. Two concurrent calls for the same
	// key must return the same session row.
	GetOrCreateSession(ctx context.Context, userID, channel, scope string) (*Record, error)

	// GetSession fetches a session by id, or returns an *errkind.NotFound.
	GetSession(ctx context.Context, id string) (*Record, error)

	// ListSessions enumerates a user's sessions with message counts.
	ListSessions(ctx context.Context, userID string) ([]*Info, error)

	// DeleteSession removes all of a session's messages then the session
	// row. Returns *errkind.Forbidden if ownerID doesn't own it, or
	// *errkind.NotFound if it doesn't exist.
	DeleteSession(ctx context.Context, sessionID, ownerID string) error

	// AppendMessage appends a message and returns it with its assigned id
	// and timestamp. Fails with *errkind.NotFound if the session is gone.
	AppendMessage(ctx context.Context, sessionID string, role types.Role, content, modelUsed, toolCallID, toolName string, tokens int) (*types.Message, error)

	// ListMessages returns the most recent limit messages in chronological
	// (oldest-first) order. limit <= 0 means unbounded.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error)

	// GetMessage fetches a single message by id.
	GetMessage(ctx context.Context, id string) (*types.Message, error)

	// Close releases any underlying resources (e.g. the database handle).
	Close() error
}

// EffectiveUser collapses the (user, scope) pair to the key the store
// actually partitions sessions by: scope "main" shares one slot across all
// callers on a channel; every other scope keys on the caller-supplied user
// id directly (transport adapters populate that id appropriately for
// per-peer/per-channel-peer scoping — the core only needs the final string).
func EffectiveUser(userID, scope string) string {
	if scope == "main" {
		return ScopeMain
	}
	return userID
}
