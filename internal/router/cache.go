package router

import "github.com/chatgate/chatgate/internal/config"

// CacheStrategy is one of the three keep-alive policies a model selection
// maps to.
type CacheStrategy string

const (
	StrategyRAM  CacheStrategy = "ram"
	StrategySSD  CacheStrategy = "ssd"
	StrategyNone CacheStrategy = "none"
)

// CachePolicy turns a configured cache strategy into the keep_alive hint
// sent with each Backend Client request, and the warm-set size the sweeper
// enforces.
type CachePolicy struct {
	Strategy  CacheStrategy
	MaxModels int
	KeepAlive string // the literal keep_alive value to send (e.g. "30m", "2m", "0")
}

// NewCachePolicy derives a CachePolicy from configuration, applying the
// three fixed strategy profiles: ram keeps up to MaxModels models
// warm for 30 minutes with LRU eviction; ssd keeps exactly one model warm
// for 2 minutes with immediate eviction of anything else; none unloads
// every model immediately after each response.
func NewCachePolicy(cfg config.CacheConfig) *CachePolicy {
	switch CacheStrategy(cfg.Strategy) {
	case StrategySSD:
		return &CachePolicy{Strategy: StrategySSD, MaxModels: 1, KeepAlive: "2m"}
	case StrategyNone:
		return &CachePolicy{Strategy: StrategyNone, MaxModels: 0, KeepAlive: "0"}
	default:
		max := cfg.MaxModels
		if max <= 0 {
			max = 3
		}
		return &CachePolicy{Strategy: StrategyRAM, MaxModels: max, KeepAlive: "30m"}
	}
}
