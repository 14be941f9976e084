package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/session"
	"github.com/chatgate/chatgate/internal/tokens"
	"github.com/chatgate/chatgate/internal/tools"
	"github.com/chatgate/chatgate/internal/types"
)

// Engine runs turns: one per inbound message, serialized per session so a
// session's messages are always answered in the order they arrived, while
// turns against different sessions run fully concurrently.
type Engine struct {
	store    session.Store
	sessions *session.Manager
	router   *router.Router
	cache    *router.CachePolicy
	backend  llm.Provider
	registry *tools.Registry
	policy   *tools.Policy
	cfg      config.TurnConfig

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Turn Engine from its dependencies.
func New(store session.Store, sessions *session.Manager, rtr *router.Router, cache *router.CachePolicy, backend llm.Provider, registry *tools.Registry, policy *tools.Policy, cfg config.TurnConfig) *Engine {
	return &Engine{
		store:    store,
		sessions: sessions,
		router:   rtr,
		cache:    cache,
		backend:  backend,
		registry: registry,
		policy:   policy,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Request is the input to a single turn.
type Request struct {
	UserID        string
	Channel       string
	Scope         string
	SessionID     string // targets an existing session; empty resolves by (user, channel, scope)
	Content       string
	ExplicitModel string // empty unless the caller pinned a model
	HistoryLimit  int    // 0 uses config default
}

// Run executes one full turn: append the user message, build the visible
// tool set, route to a model, drive the tool-calling loop to completion (or
// to its iteration/wall-clock bound), and append the final assistant
// message. Emit is called for every event along the way; it may be nil.
func (e *Engine) Run(ctx context.Context, req Request, emit Emit) (*types.Message, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	var rec *session.Record
	var err error
	if req.SessionID != "" {
		rec, err = e.store.GetSession(ctx, req.SessionID)
	} else {
		ownerID := session.EffectiveUser(req.UserID, req.Scope)
		rec, err = e.store.GetOrCreateSession(ctx, ownerID, req.Channel, req.Scope)
	}
	if err != nil {
		return nil, fmt.Errorf("turn: resolve session: %w", err)
	}
	working := e.sessions.Get(*rec)

	lock := e.sessionLock(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	emit(Event{Kind: EventStart, SessionID: rec.ID})

	userTokens := tokens.Estimate(req.Content)
	if _, err := e.store.AppendMessage(ctx, rec.ID, types.RoleUser, req.Content, "", "", "", userTokens); err != nil {
		emit(Event{Kind: EventError, SessionID: rec.ID, Err: err})
		return nil, fmt.Errorf("turn: append user message: %w", err)
	}

	limit := req.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	historyPtrs, err := e.store.ListMessages(ctx, rec.ID, limit)
	if err != nil {
		emit(Event{Kind: EventError, SessionID: rec.ID, Err: err})
		return nil, fmt.Errorf("turn: list messages: %w", err)
	}
	history := make([]types.Message, len(historyPtrs))
	for i, m := range historyPtrs {
		history[i] = *m
	}

	model := e.router.Route(req.Content, req.ExplicitModel)
	visibleTools := e.visibleToolDefs(working.IsElevated())

	wallClockDeadline := time.Now().Add(time.Duration(e.cfg.WallClockMs) * time.Millisecond)
	ctx, cancel := context.WithDeadline(ctx, wallClockDeadline)
	defer cancel()

	maxIter := e.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			return e.finishWithCapMessage(ctx, rec.ID, "wall-clock limit reached", emit)
		}

		resp, err := e.backend.StreamMessage(ctx, model, history, visibleTools, e.cache.KeepAlive, func(delta string) {
			emit(Event{Kind: EventDelta, SessionID: rec.ID, Delta: delta})
		})
		if err != nil {
			emit(Event{Kind: EventError, SessionID: rec.ID, Err: err})
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			return e.finishWithAssistantMessage(ctx, rec.ID, model, resp, emit)
		}

		for i, call := range resp.ToolCalls {
			// The model's pre-call text (and its token usage) belong to the
			// first intent; later intents in the same response get an empty
			// assistant message so each tool result follows its own intent.
			preText := ""
			assistantTokens := 0
			if i == 0 {
				preText = resp.Text
				if resp.Usage != nil {
					assistantTokens = resp.Usage.TotalTokens
				}
			}
			assistantMsg, err := e.store.AppendMessage(ctx, rec.ID, types.RoleAssistant, preText, model, "", "", assistantTokens)
			if err != nil {
				return nil, fmt.Errorf("turn: append assistant message: %w", err)
			}
			history = append(history, *assistantMsg)

			emit(Event{
				Kind: EventToolUse, SessionID: rec.ID,
				ToolName: call.Name, ToolCallID: call.ID, ToolInput: call.Arguments,
			})

			result, isError := e.runTool(ctx, call, working.IsElevated())
			emit(Event{
				Kind: EventToolUse, SessionID: rec.ID,
				ToolName: call.Name, ToolCallID: call.ID, ToolInput: call.Arguments,
				ToolResult: result, ToolError: isError,
			})

			toolMsg, err := e.store.AppendMessage(ctx, rec.ID, types.RoleTool, result, "", call.ID, call.Name, 0)
			if err != nil {
				return nil, fmt.Errorf("turn: append tool message: %w", err)
			}
			history = append(history, *toolMsg)
		}
	}

	return e.finishWithCapMessage(ctx, rec.ID, "tool-call iteration limit reached", emit)
}

func (e *Engine) visibleToolDefs(elevated bool) []types.ToolDefinition {
	var out []types.ToolDefinition
	for _, name := range e.registry.List() {
		if e.policy.Evaluate(name, elevated) == tools.DecisionDeny {
			continue
		}
		entry, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, tools.ToDefinition(entry.Tool))
	}
	return out
}

func (e *Engine) runTool(ctx context.Context, call llm.ToolCall, elevated bool) (string, bool) {
	if err := e.policy.Authorize(call.Name, elevated); err != nil {
		return err.Error(), true
	}

	timeout := time.Duration(e.cfg.ToolTimeoutSecs) * time.Second
	if entry, ok := e.registry.Get(call.Name); ok && entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.registry.Execute(toolCtx, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		if toolCtx.Err() == context.DeadlineExceeded {
			return (&errkind.Timeout{What: "tool " + call.Name}).Error(), true
		}
		return err.Error(), true
	}
	return result, false
}

func (e *Engine) finishWithAssistantMessage(ctx context.Context, sessionID, model string, resp *llm.Response, emit Emit) (*types.Message, error) {
	tokenCount := 0
	if resp.Usage != nil {
		tokenCount = resp.Usage.TotalTokens
	}
	msg, err := e.store.AppendMessage(ctx, sessionID, types.RoleAssistant, resp.Text, model, "", "", tokenCount)
	if err != nil {
		return nil, fmt.Errorf("turn: append final message: %w", err)
	}
	emit(Event{Kind: EventEnd, SessionID: sessionID, Message: msg, Usage: resp.Usage})
	return msg, nil
}

func (e *Engine) finishWithCapMessage(ctx context.Context, sessionID, reason string, emit Emit) (*types.Message, error) {
	text := fmt.Sprintf("I wasn't able to finish this turn (%s). Here is what I had so far.", reason)
	msg, err := e.store.AppendMessage(ctx, sessionID, types.RoleAssistant, text, "", "", "", 0)
	if err != nil {
		return nil, fmt.Errorf("turn: append cap message: %w", err)
	}
	emit(Event{Kind: EventEnd, SessionID: sessionID, Message: msg})
	return msg, nil
}
