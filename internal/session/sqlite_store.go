package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatgate/chatgate/internal/errkind"
	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/types"
	"github.com/google/uuid"
)

// SQLiteStore implements Store on a two-table SQLite schema:
// sessions(id, user_id, channel, scope, created_at, updated_at) and
// messages(id, session_id, role, content, created_at, model_used, tokens,
// seq), with ON DELETE CASCADE from sessions to messages. seq is a
// monotonic insertion counter: created_at's second precision alone can't
// break ties between messages appended within the same second, and
// ties must break by insertion order, not clock order.
type SQLiteStore struct {
	db  *sql.DB
	seq atomic.Int64
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	channel    TEXT NOT NULL,
	scope      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (user_id, channel, scope)
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_channel_scope ON sessions (user_id, channel, scope);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	model_used    TEXT,
	tokens        INTEGER,
	tool_call_id  TEXT,
	tool_name     TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (session_id, created_at, seq);
`

// NewSQLiteStore opens (creating if needed) the SQLite database at path and
// applies the schema. Foreign keys and WAL mode are enabled explicitly.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("session: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		L_warn("session: failed to enable foreign_keys", "error", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: apply schema: %w", err)
	}

	store := &SQLiteStore{db: db}

	var maxSeq int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM messages`).Scan(&maxSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: read max seq: %w", err)
	}
	store.seq.Store(maxSeq)

	L_info("session: sqlite store opened", "path", path)
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, userID, channel, scope string) (*Record, error) {
	if rec, err := s.lookupSession(ctx, userID, channel, scope); err == nil {
		return rec, nil
	} else if !errors.As(err, new(*errkind.NotFound)) {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, channel, scope, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, channel, scope) DO NOTHING`,
		id, userID, channel, scope, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	rec, err := s.lookupSession(ctx, userID, channel, scope)
	if err != nil {
		return nil, fmt.Errorf("session: create: re-lookup after insert: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) lookupSession(ctx context.Context, userID, channel, scope string) (*Record, error) {
	var rec Record
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, scope, created_at, updated_at
		 FROM sessions WHERE user_id = ? AND channel = ? AND scope = ?`,
		userID, channel, scope,
	).Scan(&rec.ID, &rec.UserID, &rec.Channel, &rec.Scope, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, &errkind.NotFound{Kind: "session", ID: userID + "/" + channel + "/" + scope}
	}
	if err != nil {
		return nil, fmt.Errorf("session: lookup: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return &rec, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Record, error) {
	var rec Record
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, scope, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&rec.ID, &rec.UserID, &rec.Channel, &rec.Scope, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, &errkind.NotFound{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return &rec, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.channel, s.scope, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s WHERE s.user_id = ? ORDER BY s.updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []*Info
	for rows.Next() {
		var info Info
		var created, updated int64
		if err := rows.Scan(&info.ID, &info.UserID, &info.Channel, &info.Scope, &created, &updated, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("session: list scan: %w", err)
		}
		info.CreatedAt = time.Unix(created, 0).UTC()
		info.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, &info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	rec, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.UserID != ownerID {
		return &errkind.Forbidden{Reason: "session belongs to a different user"}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role types.Role, content, modelUsed, toolCallID, toolName string, tokens int) (*types.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
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
	seq := s.seq.Add(1)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session: append message: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at, seq, model_used, tokens, tool_call_id, tool_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt.Unix(), seq,
		nullable(msg.ModelUsed), nullableInt(msg.Tokens), nullable(msg.ToolCallID), nullable(msg.ToolName))
	if err != nil {
		return nil, fmt.Errorf("session: append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt.Unix(), sessionID); err != nil {
		return nil, fmt.Errorf("session: append message: touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("session: append message: commit: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error) {
	query := `SELECT id, session_id, role, content, created_at, model_used, tokens, tool_call_id, tool_name
	          FROM messages WHERE session_id = ? ORDER BY created_at DESC, seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session: list messages: %w", err)
	}
	defer rows.Close()

	var reversed []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, model_used, tokens, tool_call_id, tool_name
		 FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("session: get message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, &errkind.NotFound{Kind: "message", ID: id}
	}
	return scanMessage(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rows rowScanner) (*types.Message, error) {
	var msg types.Message
	var role string
	var created int64
	var modelUsed, toolCallID, toolName sql.NullString
	var tokens sql.NullInt64

	if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &created, &modelUsed, &tokens, &toolCallID, &toolName); err != nil {
		return nil, fmt.Errorf("session: scan message: %w", err)
	}
	msg.Role = types.Role(role)
	msg.CreatedAt = time.Unix(created, 0).UTC()
	msg.ModelUsed = modelUsed.String
	msg.ToolCallID = toolCallID.String
	msg.ToolName = toolName.String
	if tokens.Valid {
		msg.Tokens = int(tokens.Int64)
	}
	return &msg, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
