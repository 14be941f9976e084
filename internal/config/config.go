// Package config loads chatgate's TOML configuration file once at startup.
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"

	"github.com/chatgate/chatgate/internal/logging"
)

// RoutingRule is one entry in the model router's declaration-ordered rule list.
type RoutingRule struct {
	Pattern string `toml:"pattern"`
	Model   string `toml:"model"`
}

// ModelsConfig names the role-tagged backend models the router picks from.
type ModelsConfig struct {
	Primary string        `toml:"primary"`
	Code    string        `toml:"code"`
	Fast    string        `toml:"fast"`
	Rules   []RoutingRule `toml:"rules"`
}

// CacheConfig selects the hot-swap cache strategy (ram/ssd/none).
type CacheConfig struct {
	Strategy  string `toml:"strategy"`   // "ram" | "ssd" | "none"
	MaxModels int    `toml:"max_models"` // warm-set bound for "ram"
}

// BackendConfig describes the OpenAI-compatible chat-completion backend.
type BackendConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// SessionConfig controls session scoping and history composition.
type SessionConfig struct {
	Scope        string `toml:"scope"` // per-sender | main | per-peer | per-channel-peer
	HistoryLimit int    `toml:"history_limit"`
	StorePath    string `toml:"store_path"`
}

// ToolsConfig points at the user-tool (skill-file) directory and holds the
// per-tool / per-category policy overrides.
type ToolsConfig struct {
	UserToolDir     string            `toml:"user_tool_dir"`
	Watch           bool              `toml:"watch"`
	WatchDebounceMs int               `toml:"watch_debounce_ms"`
	Policy          map[string]string `toml:"policy"`          // tool name -> allow|deny|elevated
	CategoryPolicy  map[string]string `toml:"category_policy"` // category -> allow|deny|elevated
}

// HTTPConfig configures the HTTP/WS surface.
type HTTPConfig struct {
	Listen string   `toml:"listen"`
	Tokens []string `toml:"tokens"`
}

// TurnConfig bounds the tool-calling loop.
type TurnConfig struct {
	MaxIterations   int `toml:"max_iterations"`
	WallClockMs     int `toml:"wall_clock_ms"`
	ToolTimeoutSecs int `toml:"default_tool_timeout_secs"`
}

// LogConfig controls the ambient logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Config is the complete, once-read-at-startup configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Models  ModelsConfig  `toml:"models"`
	Cache   CacheConfig   `toml:"cache"`
	Session SessionConfig `toml:"session"`
	Tools   ToolsConfig   `toml:"tools"`
	HTTP    HTTPConfig    `toml:"http"`
	Turn    TurnConfig    `toml:"turn"`
	Log     LogConfig     `toml:"log"`
}

// Default returns the built-in defaults every loaded config is merged onto.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{BaseURL: "http://127.0.0.1:11434/v1"},
		Models: ModelsConfig{
			Primary: "primary",
			Code:    "code",
			Fast:    "fast",
		},
		Cache: CacheConfig{Strategy: "ram", MaxModels: 3},
		Session: SessionConfig{
			Scope:        "per-sender",
			HistoryLimit: 50,
			StorePath:    "chatgate.db",
		},
		Tools: ToolsConfig{
			UserToolDir:     "tools",
			Watch:           true,
			WatchDebounceMs: 300,
		},
		HTTP: HTTPConfig{Listen: ":8080"},
		Turn: TurnConfig{
			MaxIterations:   10,
			WallClockMs:     120_000,
			ToolTimeoutSecs: 30,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and decodes a TOML config file at path, merging it over the
// defaults. A missing file is not an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		logging.L_info("config: no config path given, using defaults")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.L_warn("config: file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var loaded Config
	if _, err := toml.Decode(string(data), &loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge %s: %w", path, err)
	}

	logging.L_info("config: loaded", "path", path,
		"backend", cfg.Backend.BaseURL,
		"cacheStrategy", cfg.Cache.Strategy,
		"sessionScope", cfg.Session.Scope)

	return cfg, nil
}
