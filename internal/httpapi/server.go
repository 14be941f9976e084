package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/llm"
	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/session"
	"github.com/chatgate/chatgate/internal/tools"
	"github.com/chatgate/chatgate/internal/turn"
	"github.com/chatgate/chatgate/internal/user"
)

// Server is the HTTP/WS Surface: it owns the net/http server and
// wires every handler to its collaborators. It holds no domain state of its
// own — that all lives in the Turn Engine, the Store, and the Registry.
type Server struct {
	httpServer *http.Server

	users      *user.Registry
	store      session.Store
	engine     *turn.Engine
	registry   *tools.Registry
	policy     *tools.Policy
	rtr        *router.Router
	cache      *router.CachePolicy
	backend    llm.Provider
	modelsCfg  config.ModelsConfig
	sessionCfg config.SessionConfig
	toolDir    string
}

// New builds a Server bound to listen, wiring the full endpoint table.
func New(listen string, users *user.Registry, store session.Store, engine *turn.Engine, registry *tools.Registry, policy *tools.Policy, rtr *router.Router, cache *router.CachePolicy, backend llm.Provider, modelsCfg config.ModelsConfig, sessionCfg config.SessionConfig, toolDir string) *Server {
	s := &Server{
		users:      users,
		store:      store,
		engine:     engine,
		registry:   registry,
		policy:     policy,
		rtr:        rtr,
		cache:      cache,
		backend:    backend,
		modelsCfg:  modelsCfg,
		sessionCfg: sessionCfg,
		toolDir:    toolDir,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpServer = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/chat", withAuth(s.users, s.handleChat))

	mux.HandleFunc("POST /api/sessions", withAuth(s.users, s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions", withAuth(s.users, s.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{id}", withAuth(s.users, s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", withAuth(s.users, s.handleDeleteSession))

	mux.HandleFunc("GET /api/messages", withAuth(s.users, s.handleListMessages))
	mux.HandleFunc("GET /api/messages/{id}", withAuth(s.users, s.handleGetMessage))

	mux.HandleFunc("GET /api/models", withAuth(s.users, s.handleListModels))
	mux.HandleFunc("POST /api/models/{name}/load", withAuth(s.users, s.handleLoadModel))

	mux.HandleFunc("POST /api/tools", withAuth(s.users, s.handleCreateTool))
	mux.HandleFunc("GET /api/tools", withAuth(s.users, s.handleListTools))
	mux.HandleFunc("GET /api/tools/{name}", withAuth(s.users, s.handleGetTool))
	mux.HandleFunc("PUT /api/tools/{name}", withAuth(s.users, s.handleReplaceTool))
	mux.HandleFunc("DELETE /api/tools/{name}", withAuth(s.users, s.handleDeleteTool))
	mux.HandleFunc("POST /api/tools/{name}/test", withAuth(s.users, s.handleTestTool))
	mux.HandleFunc("POST /api/tools/{name}/validate", withAuth(s.users, s.handleValidateTool))
	mux.HandleFunc("GET /api/tools/{name}/definition", withAuth(s.users, s.handleToolDefinition))
	mux.HandleFunc("GET /api/tools/definitions/all", withAuth(s.users, s.handleAllToolDefinitions))

	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe starts serving and blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	L_info("httpapi: listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
