package session

import (
	"context"
	"sync"
	"time"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/types"
	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests in place of SQLite, per the
// same Store contract.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Record
	byKey    map[string]string // userID/channel/scope -> session id
	messages map[string][]*types.Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Record),
		byKey:    make(map[string]string),
		messages: make(map[string][]*types.Message),
	}
}

func memKey(userID, channel, scope string) string {
	return userID + "\x00" + channel + "\x00" + scope
}

func (m *MemStore) GetOrCreateSession(ctx context.Context, userID, channel, scope string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(userID, channel, scope)
	if id, ok := m.byKey[k]; ok {
		rec := *m.sessions[id]
		return &rec, nil
	}

	now := time.Now().UTC()
	rec := &Record{ID: uuid.NewString(), UserID: userID, Channel: channel, Scope: scope, CreatedAt: now, UpdatedAt: now}
	m.sessions[rec.ID] = rec
	m.byKey[k] = rec.ID
	out := *rec
	return &out, nil
}

func (m *MemStore) GetSession(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, &errkind.NotFound{Kind: "session", ID: id}
	}
	out := *rec
	return &out, nil
}

func (m *MemStore) ListSessions(ctx context.Context, userID string) ([]*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Info
	for _, rec := range m.sessions {
		if rec.UserID != userID {
			continue
		}
		out = append(out, &Info{Record: *rec, MessageCount: len(m.messages[rec.ID])})
	}
	return out, nil
}

func (m *MemStore) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return &errkind.NotFound{Kind: "session", ID: sessionID}
	}
	if rec.UserID != ownerID {
		return &errkind.Forbidden{Reason: "session belongs to a different user"}
	}
	delete(m.sessions, sessionID)
	delete(m.byKey, memKey(rec.UserID, rec.Channel, rec.Scope))
	delete(m.messages, sessionID)
	return nil
}

func (m *MemStore) AppendMessage(ctx context.Context, sessionID string, role types.Role, content, modelUsed, toolCallID, toolName string, tokens int) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, &errkind.NotFound{Kind: "session", ID: sessionID}
	}

	msg := &types.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		ModelUsed:  modelUsed,
		Tokens:     tokens,
		ToolCallID: toolCallID,
		ToolName:   toolName,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	rec.UpdatedAt = msg.CreatedAt
	return msg, nil
}

func (m *MemStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]*types.Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]*types.Message, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (m *MemStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				out := *msg
				return &out, nil
			}
		}
	}
	return nil, &errkind.NotFound{Kind: "message", ID: id}
}

func (m *MemStore) Close() error { return nil }
