package httpapi

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/session"
	"github.com/chatgate/chatgate/internal/stream"
	"github.com/chatgate/chatgate/internal/turn"
)

const maxMessageChars = 10_000

type chatRequest struct {
	Message   string `json:"message"`
	Stream    bool   `json:"stream"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponseData struct {
	Response responsePayload `json:"response"`
}

type responsePayload struct {
	Text  string      `json:"text"`
	Model string      `json:"model,omitempty"`
	Usage *usagePayload `json:"usage,omitempty"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errkind.Validation{Reason: "malformed JSON body"})
		return
	}
	if req.Message == "" || utf8.RuneCountInString(req.Message) > maxMessageChars {
		writeError(w, &errkind.Validation{Reason: "message must be 1-10000 characters"})
		return
	}

	if req.SessionID != "" {
		rec, err := s.store.GetSession(r.Context(), req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if rec.UserID != session.EffectiveUser(u.ID, rec.Scope) {
			writeError(w, &errkind.Forbidden{Reason: "session belongs to a different user"})
			return
		}
	}

	turnReq := turn.Request{
		UserID:       u.ID,
		Channel:      "web",
		Scope:        s.sessionCfg.Scope,
		SessionID:    req.SessionID,
		Content:      req.Message,
		HistoryLimit: s.sessionCfg.HistoryLimit,
	}

	if req.Stream {
		s.streamChatSSE(w, r, turnReq)
		return
	}

	msg, err := s.engine.Run(r.Context(), turnReq, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, chatResponseData{
		Response: responsePayload{Text: msg.Content, Model: msg.ModelUsed},
	})
}

func (s *Server) streamChatSSE(w http.ResponseWriter, r *http.Request, req turn.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, &errkind.Validation{Reason: "streaming unsupported by this transport"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(frame stream.SSEFrame) {
		if frame.Event != "" {
			w.Write([]byte("event: " + frame.Event + "\n"))
		}
		w.Write([]byte("data: " + frame.Data + "\n\n"))
		flusher.Flush()
	}

	_, err := s.engine.Run(r.Context(), req, func(ev turn.Event) {
		if frame, ok := stream.ToSSEFrame(ev); ok {
			writeFrame(frame)
		}
	})
	if err != nil {
		writeFrame(stream.SSEFrame{Event: "error", Data: err.Error()})
	}
}
