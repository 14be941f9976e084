package router

import (
	"testing"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/stretchr/testify/assert"
)

func testConfig() config.ModelsConfig {
	return config.ModelsConfig{
		Primary: "primary",
		Code:    "code",
		Fast:    "fast",
		Rules: []config.RoutingRule{
			{Pattern: `(?i)\btranslate\b`, Model: "multilingual"},
		},
	}
}

func TestRoute_ExplicitModelAlwaysWins(t *testing.T) {
	r := New(testConfig())
	assert.Equal(t, "custom", r.Route("short", "custom"))
}

func TestRoute_RuleBeatsHeuristics(t *testing.T) {
	r := New(testConfig())
	assert.Equal(t, "multilingual", r.Route("please translate this", ""))
}

func TestRoute_ShortMessageGoesFast(t *testing.T) {
	r := New(testConfig())
	assert.Equal(t, "fast", r.Route("hi there", ""))
}

func TestRoute_CodeKeywordRoutesToCode(t *testing.T) {
	r := New(testConfig())
	msg := "I keep hitting an error in my function when the input list is empty and I cannot work out why it only happens on the second call"
	assert.Equal(t, "code", r.Route(msg, ""))
}

func TestRoute_ShortMessageGoesFastEvenWithCodeKeyword(t *testing.T) {
	r := New(testConfig())
	assert.Equal(t, "fast", r.Route("debug this", ""), "the length heuristic is checked before the keyword heuristic")
}

func TestRoute_LongPlainMessageFallsBackToPrimary(t *testing.T) {
	r := New(testConfig())
	long := "this is a long message about my day that has nothing special in it at all, really, just rambling on and on"
	assert.Equal(t, "primary", r.Route(long, ""))
}

func TestCachePolicy_Profiles(t *testing.T) {
	ram := NewCachePolicy(config.CacheConfig{Strategy: "ram", MaxModels: 3})
	assert.Equal(t, 3, ram.MaxModels)
	assert.Equal(t, "30m", ram.KeepAlive)

	ssd := NewCachePolicy(config.CacheConfig{Strategy: "ssd"})
	assert.Equal(t, 1, ssd.MaxModels)

	none := NewCachePolicy(config.CacheConfig{Strategy: "none"})
	assert.Equal(t, 0, none.MaxModels)
	assert.Equal(t, "0", none.KeepAlive)
}

func TestSweeper_PrunesLRUBeyondMaxModels(t *testing.T) {
	r := New(testConfig())
	r.Route("hi", "alpha")
	r.Route("hi", "beta")
	r.Route("hi", "gamma")

	policy := &CachePolicy{MaxModels: 2}
	s := NewSweeper(r, policy)
	s.sweep()

	assert.Len(t, r.LastUsed(), 2)
	_, stillTracked := r.LastUsed()["alpha"]
	assert.False(t, stillTracked, "least recently used model should have been pruned")
}
