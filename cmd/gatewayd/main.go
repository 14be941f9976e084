package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/httpapi"
	"github.com/chatgate/chatgate/internal/llm"
	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/paths"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/session"
	"github.com/chatgate/chatgate/internal/tools"
	"github.com/chatgate/chatgate/internal/tools/builtin"
	"github.com/chatgate/chatgate/internal/tools/skillfile"
	"github.com/chatgate/chatgate/internal/turn"
	"github.com/chatgate/chatgate/internal/user"
)

// version is set by the release build via ldflags: -X main.version=...
var version = "dev"

// CLI is gatewayd's command surface: one long-running process, no daemon
// supervision or background-service management (those belong to transport
// adapters this core does not carry).
type CLI struct {
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Config string `help:"Config file path" short:"c" type:"path"`

	Run     RunCmd     `cmd:"" default:"withargs" help:"Run the gateway in the foreground"`
	Version VersionCmd `cmd:"" help:"Show version"`
}

type RunCmd struct {
	Listen string `help:"Override the configured HTTP listen address"`
}

type VersionCmd struct{}

func (v *VersionCmd) Run(cli *CLI) error {
	fmt.Printf("gatewayd %s\n", version)
	return nil
}

func (r *RunCmd) Run(cli *CLI) error {
	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, TimeFormat: "15:04:05", ShowCaller: true})

	configPath := cli.Config
	if configPath == "" {
		resolved, err := paths.ConfigPath()
		if err != nil {
			return fmt.Errorf("gatewayd: resolve config path: %w", err)
		}
		configPath = resolved
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("gatewayd: load config: %w", err)
	}
	if r.Listen != "" {
		cfg.HTTP.Listen = r.Listen
	}

	return runGateway(cfg)
}

func runGateway(cfg *config.Config) error {
	base, err := paths.BaseDir()
	if err != nil {
		return fmt.Errorf("gatewayd: resolve base dir: %w", err)
	}
	if err := paths.EnsureDir(base); err != nil {
		return fmt.Errorf("gatewayd: create base dir: %w", err)
	}
	storePath, err := resolveDataPath(cfg.Session.StorePath)
	if err != nil {
		return fmt.Errorf("gatewayd: resolve session store path: %w", err)
	}
	toolDir, err := resolveDataPath(cfg.Tools.UserToolDir)
	if err != nil {
		return fmt.Errorf("gatewayd: resolve tool dir: %w", err)
	}
	if err := paths.EnsureDir(toolDir); err != nil {
		return fmt.Errorf("gatewayd: create tool dir: %w", err)
	}
	cfg.Session.StorePath = storePath
	cfg.Tools.UserToolDir = toolDir

	users := user.NewRegistry(cfg.HTTP.Tokens)

	store, err := session.NewSQLiteStore(cfg.Session.StorePath)
	if err != nil {
		return fmt.Errorf("gatewayd: open session store: %w", err)
	}
	defer store.Close()
	sessions := session.NewManager()

	backend := llm.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey)

	rtr := router.New(cfg.Models)
	cache := router.NewCachePolicy(cfg.Cache)
	sweeper := router.NewSweeper(rtr, cache)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("gatewayd: start warm-set sweeper: %w", err)
	}
	defer sweeper.Stop()

	registry := tools.NewRegistry()
	if err := registry.Register(&tools.Entry{
		Tool:     tools.NewReadFileTool(cfg.Tools.UserToolDir),
		Source:   tools.SourceBuiltin,
		Runtime:  tools.RuntimeBuiltin,
		Category: "filesystem",
	}); err != nil {
		return fmt.Errorf("gatewayd: register built-in tools: %w", err)
	}

	if err := builtin.Seed(cfg.Tools.UserToolDir); err != nil {
		L_warn("gatewayd: failed to seed default skill-files", "error", err)
	}

	watcher, err := skillfile.New(cfg.Tools.UserToolDir, time.Duration(cfg.Tools.WatchDebounceMs)*time.Millisecond,
		func(result skillfile.LoadResult) { loadSkillFile(registry, result) },
		func(name string) {
			if err := registry.Unregister(name); err != nil {
				L_warn("gatewayd: failed to unregister removed skill-file", "name", name, "error", err)
			}
		})
	if err != nil {
		return fmt.Errorf("gatewayd: start skill-file watcher: %w", err)
	}
	if err := watcher.LoadAll(); err != nil {
		return fmt.Errorf("gatewayd: load user tools: %w", err)
	}
	if cfg.Tools.Watch {
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("gatewayd: watch user tools: %w", err)
		}
	}
	defer watcher.Stop()

	policy := tools.NewPolicy(registry, cfg.Tools.Policy, cfg.Tools.CategoryPolicy)

	engine := turn.New(store, sessions, rtr, cache, backend, registry, policy, cfg.Turn)

	server := httpapi.New(cfg.HTTP.Listen, users, store, engine, registry, policy, rtr, cache, backend, cfg.Models, cfg.Session, cfg.Tools.UserToolDir)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gatewayd: http server: %w", err)
		}
	case sig := <-sigCh:
		L_info("gatewayd: received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("gatewayd: shutdown: %w", err)
		}
	}
	return nil
}

// resolveDataPath anchors a relative config path under ~/.chatgate, leaving
// absolute paths untouched so an operator can still point outside it.
func resolveDataPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	return paths.DataPath(p)
}

// loadSkillFile converts a parsed skill-file into a registry entry, used
// both for the initial LoadAll pass and every debounced watcher reload.
func loadSkillFile(registry *tools.Registry, result skillfile.LoadResult) {
	f := result.File
	timeout := time.Duration(f.TimeoutSecs) * time.Second
	var tool tools.Tool
	if tools.Runtime(f.Runtime) == tools.RuntimeWasm {
		tool = tools.NewWasmTool(f.Name, f.Description, f.JSONSchema(), f.Body, nil, timeout)
	} else {
		tool = tools.NewShellTool(f.Name, f.Description, f.JSONSchema(), tools.Runtime(f.Runtime), f.Body, "", timeout)
	}
	entry := &tools.Entry{
		Tool:       tool,
		Source:     tools.SourceUser,
		Runtime:    tools.Runtime(f.Runtime),
		Category:   f.Category,
		Policy:     tools.Decision(f.Policy),
		Timeout:    f.TimeoutSecs,
		AuditFlags: result.AuditFlags,
	}
	if err := registry.Replace(entry); err != nil {
		L_error("gatewayd: failed to register skill-file tool", "name", f.Name, "error", err)
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("gatewayd"), kong.Description("chatgate's local-first messaging gateway"))
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
