package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/chatgate/chatgate/internal/types"
)

type modelPayload struct {
	Name     string `json:"name"`
	Role     string `json:"role"` // "primary" | "code" | "fast" | "rule"
	LastUsed string `json:"last_used,omitempty"`
	Warm     bool   `json:"warm"`
}

// handleListModels reports the role-tagged models the router can pick from,
// annotated with the Router's last-used bookkeeping so a caller can see
// which models the Cache Policy currently considers warm.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	lastUsed := s.rtr.LastUsed()

	roleOf := make(map[string]string)
	order := []string{}
	add := func(name, role string) {
		if name == "" {
			return
		}
		if _, seen := roleOf[name]; !seen {
			order = append(order, name)
		}
		roleOf[name] = role
	}

	cfg := s.modelsCfg
	add(cfg.Primary, "primary")
	add(cfg.Code, "code")
	add(cfg.Fast, "fast")
	for _, rule := range cfg.Rules {
		add(rule.Model, "rule")
	}
	for name := range lastUsed {
		add(name, roleOf[name])
	}
	sort.Strings(order)

	warmRank := s.warmRank(lastUsed)

	out := make([]modelPayload, 0, len(order))
	for _, name := range order {
		p := modelPayload{Name: name, Role: roleOf[name]}
		if t, ok := lastUsed[name]; ok {
			p.LastUsed = t.Format(time.RFC3339)
			p.Warm = warmRank[name]
		}
		out = append(out, p)
	}
	writeSuccess(w, http.StatusOK, out)
}

// warmRank reports, for each tracked model, whether it falls within the
// Cache Policy's warm-set bound under an LRU ordering by last use.
func (s *Server) warmRank(lastUsed map[string]time.Time) map[string]bool {
	names := make([]string, 0, len(lastUsed))
	for name := range lastUsed {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return lastUsed[names[i]].After(lastUsed[names[j]]) })

	warm := make(map[string]bool, len(names))
	for i, name := range names {
		warm[name] = i < s.cache.MaxModels
	}
	return warm
}

// handleLoadModel warms a model ahead of a real turn by sending a minimal
// chat-completion (one user message of a single space) through the Backend Client so the backend
// loads it into memory under the configured keep_alive hint.
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	warmup := []types.Message{{Role: types.RoleUser, Content: " "}}
	_, err := s.backend.StreamMessage(r.Context(), name, warmup, nil, s.cache.KeepAlive, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	s.rtr.Route("", name)
	writeSuccess(w, http.StatusOK, modelPayload{Name: name, Warm: true})
}
