// Package router implements the Model Router and Cache Policy: it
// decides which model answers a turn, and tracks what the Cache Policy
// needs to know to keep the right models warm.
package router

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chatgate/chatgate/internal/config"
	. "github.com/chatgate/chatgate/internal/logging"
)

// fastMessageCharLimit is the built-in heuristic threshold: short messages
// route to the fast model unless a rule or explicit request says otherwise.
const fastMessageCharLimit = 100

var codeKeywords = regexp.MustCompile(`(?i)\b(code|function|implement|debug|class|def|fn)\b`)

type compiledRule struct {
	pattern *regexp.Regexp
	model   string
}

// Router picks the model for a turn and is the single owner of the
// model->last-used map the Cache Policy's sweeper prunes against.
type Router struct {
	mu    sync.Mutex
	rules []compiledRule
	cfg   config.ModelsConfig

	lastUsed map[string]time.Time
}

// New compiles the declaration-ordered rule list from cfg and returns a
// Router ready to serve Route calls.
func New(cfg config.ModelsConfig) *Router {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			L_warn("router: skipping invalid rule pattern", "pattern", r.Pattern, "error", err)
			continue
		}
		rules = append(rules, compiledRule{pattern: re, model: r.Model})
	}
	return &Router{
		rules:    rules,
		cfg:      cfg,
		lastUsed: make(map[string]time.Time),
	}
}

// Route picks a model for message, honoring explicit>rules>heuristics>primary
// in that order. explicitModel, if non-empty, always wins.
func (r *Router) Route(message, explicitModel string) string {
	model := r.route(message, explicitModel)
	r.touch(model)
	return model
}

func (r *Router) route(message, explicitModel string) string {
	if explicitModel != "" {
		return explicitModel
	}

	for _, rule := range r.rules {
		if rule.pattern.MatchString(message) {
			return rule.model
		}
	}

	trimmed := strings.TrimSpace(message)
	if len(trimmed) <= fastMessageCharLimit {
		return r.cfg.Fast
	}
	if codeKeywords.MatchString(trimmed) {
		return r.cfg.Code
	}

	return r.cfg.Primary
}

// touch records model as just used, for the Cache Policy's LRU sweep.
func (r *Router) touch(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed[model] = time.Now()
}

// LastUsed returns a snapshot of the model->last-used map. The sweeper and
// the /api/models handler read it; the returned map is a copy.
func (r *Router) LastUsed() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.lastUsed))
	for k, v := range r.lastUsed {
		out[k] = v
	}
	return out
}

// Forget drops a model from the last-used tracking map. The sweeper calls
// this when it prunes an LRU entry; it never triggers an unload itself.
func (r *Router) Forget(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastUsed, model)
}
