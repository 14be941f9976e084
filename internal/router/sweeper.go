package router

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	. "github.com/chatgate/chatgate/internal/logging"
)

// Sweeper is the model warm-set sweeper: on a fixed interval it prunes the
// Router's model->last-used tracking map down to the cache strategy's
// MaxModels, evicting the least-recently-used entries first. It never talks
// to the backend and never issues an unload command; the backend's own
// keep_alive timers are the only thing that actually evicts a model from
// memory. The sweeper exists purely to keep the tracking map from growing
// unbounded as models come and go over a long-running process's lifetime.
// A MaxModels of zero or less (the none strategy) leaves the map unpruned.
type Sweeper struct {
	router *Router
	policy *CachePolicy
	cron   *cron.Cron
}

// NewSweeper builds a sweeper against router and policy. It does not start
// until Start is called.
func NewSweeper(router *Router, policy *CachePolicy) *Sweeper {
	return &Sweeper{router: router, policy: policy, cron: cron.New()}
}

// Start schedules the sweep to run every minute.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("@every 1m", s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	L_info("router: warm-set sweeper started")
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	if s.policy.MaxModels <= 0 {
		return
	}

	last := s.router.LastUsed()
	if len(last) <= s.policy.MaxModels {
		return
	}

	type entry struct {
		model string
		at    time.Time
	}
	entries := make([]entry, 0, len(last))
	for model, at := range last {
		entries = append(entries, entry{model, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })

	for _, e := range entries[s.policy.MaxModels:] {
		s.router.Forget(e.model)
		L_debug("router: pruned stale warm-set entry", "model", e.model, "lastUsed", e.at)
	}
}
