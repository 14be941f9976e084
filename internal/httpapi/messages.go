package httpapi

import (
	"net/http"
	"strconv"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/session"
	"github.com/chatgate/chatgate/internal/types"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

type messagePayload struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
	ModelUsed  string `json:"model_used,omitempty"`
	Tokens     int    `json:"tokens,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

func toMessagePayload(m *types.Message) messagePayload {
	return messagePayload{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       string(m.Role),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ModelUsed:  m.ModelUsed,
		Tokens:     m.Tokens,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
	}
}

type messageListData struct {
	Total    int              `json:"total"`
	Messages []messagePayload `json:"messages"`
}

// resolveSession finds the session named by ?session_id=, or, if absent,
// the caller's default web-channel session under the configured scope.
func (s *Server) resolveSession(r *http.Request, userID string) (*session.Record, error) {
	q := r.URL.Query().Get("session_id")
	if q != "" {
		rec, err := s.store.GetSession(r.Context(), q)
		if err != nil {
			return nil, err
		}
		if rec.UserID != userID {
			return nil, &errkind.Forbidden{Reason: "session belongs to a different user"}
		}
		return rec, nil
	}
	scope := s.sessionCfg.Scope
	owner := session.EffectiveUser(userID, scope)
	return s.store.GetOrCreateSession(r.Context(), owner, "web", scope)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	rec, err := s.resolveSession(r, u.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := parseIntParam(r, "limit", defaultMessageLimit)
	if limit > maxMessageLimit {
		limit = defaultMessageLimit
	}
	if limit < 0 {
		limit = 0
	}
	offset := parseIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	all, err := s.store.ListMessages(r.Context(), rec.ID, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	total := len(all)
	// Page from the most recent message backward.
	end := total - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := all[start:end]

	out := make([]messagePayload, 0, len(page))
	for _, m := range page {
		out = append(out, toMessagePayload(m))
	}
	writeSuccess(w, http.StatusOK, messageListData{Total: total, Messages: out})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	id := r.PathValue("id")

	msg, err := s.store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	owningSession, err := s.store.GetSession(r.Context(), msg.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if owningSession.UserID != u.ID {
		writeError(w, &errkind.Forbidden{Reason: "message belongs to a different user"})
		return
	}
	writeSuccess(w, http.StatusOK, toMessagePayload(msg))
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
