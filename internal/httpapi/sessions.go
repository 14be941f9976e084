package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/session"
)

type createSessionRequest struct {
	Scope string `json:"scope,omitempty"`
}

type sessionPayload struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Scope     string `json:"scope"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type sessionInfoPayload struct {
	sessionPayload
	MessageCount int `json:"message_count"`
}

func toSessionPayload(rec *session.Record) sessionPayload {
	return sessionPayload{
		ID:        rec.ID,
		Channel:   rec.Channel,
		Scope:     rec.Scope,
		CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	var req createSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	scope := req.Scope
	if scope == "" {
		scope = s.sessionCfg.Scope
	}

	owner := session.EffectiveUser(u.ID, scope)
	rec, err := s.store.GetOrCreateSession(r.Context(), owner, "web", scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toSessionPayload(rec))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	infos, err := s.store.ListSessions(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]sessionInfoPayload, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionInfoPayload{sessionPayload: toSessionPayload(&info.Record), MessageCount: info.MessageCount})
	}
	writeSuccess(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	id := r.PathValue("id")

	rec, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.UserID != u.ID {
		writeError(w, &errkind.Forbidden{Reason: "session belongs to a different user"})
		return
	}
	writeSuccess(w, http.StatusOK, toSessionPayload(rec))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	id := r.PathValue("id")

	if err := s.store.DeleteSession(r.Context(), id, u.ID); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
