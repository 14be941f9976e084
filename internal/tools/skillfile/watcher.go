package skillfile

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/chatgate/chatgate/internal/logging"
)

// LoadResult is what Watcher hands to its OnLoad callback for each
// skill-file load or reload.
type LoadResult struct {
	File       *File
	AuditFlags []string // non-blocking pattern warnings, surfaced on GET /api/tools/:name
}

// auditPatterns are non-blocking warnings surfaced alongside a loaded
// skill-file's definition. They never block a load, only flag it for a
// human reviewer.
var auditPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"pipes-remote-script-to-a-shell", regexp.MustCompile(`curl[^\n]*\|\s*(bash|sh)\b`)},
	{"recursive-root-delete", regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`)},
	{"raw-eval", regexp.MustCompile(`\beval\s*\(`)},
}

// Audit scans a skill-file body for non-blocking pattern warnings.
func Audit(body string) []string {
	var flags []string
	for _, p := range auditPatterns {
		if p.re.MatchString(body) {
			flags = append(flags, p.name)
		}
	}
	return flags
}

// Watcher loads every skill-file under dir and keeps watching it for
// changes, debouncing bursts of filesystem events (editors routinely emit
// several writes per save) before re-parsing and invoking OnLoad again.
type Watcher struct {
	dir      string
	debounce time.Duration
	onLoad   func(LoadResult)
	onRemove func(name string)

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	names  map[string]string // file path -> registered tool name
}

// New builds a Watcher rooted at dir. onLoad fires for every initial load
// and every debounced reload; onRemove fires when a skill-file is deleted.
func New(dir string, debounce time.Duration, onLoad func(LoadResult), onRemove func(name string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onLoad:   onLoad,
		onRemove: onRemove,
		fsw:      fsw,
		timers:   make(map[string]*time.Timer),
		names:    make(map[string]string),
	}, nil
}

// LoadAll parses every skill-file currently in dir and invokes onLoad for
// each one. Call this once before Start to populate the registry at boot.
func (w *Watcher) LoadAll() error {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		L_warn("skillfile: directory does not exist, no user tools loaded", "dir", w.dir)
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.loadOne(filepath.Join(w.dir, e.Name()))
	}
	return nil
}

func (w *Watcher) loadOne(path string) {
	f, err := ParseFile(path)
	if err != nil {
		L_error("skillfile: failed to load", "path", path, "error", err)
		return
	}

	// The registry keys on the frontmatter name, which need not match the
	// filename; remember the mapping so a later delete (or a reload that
	// renamed the tool) unregisters the right entry.
	w.mu.Lock()
	prev, reloaded := w.names[path]
	w.names[path] = f.Name
	w.mu.Unlock()
	if reloaded && prev != f.Name && w.onRemove != nil {
		w.onRemove(prev)
	}

	L_info("skillfile: loaded", "name", f.Name, "runtime", f.Runtime)
	w.onLoad(LoadResult{File: f, AuditFlags: Audit(f.Body)})
}

// Start begins watching dir for changes; it runs until ctx-equivalent Stop
// is called or the filesystem watcher's channel closes.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(w.dir); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				L_warn("skillfile: watch error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return // ignore editor swap/temp files
	}

	if event.Op&fsnotify.Remove == fsnotify.Remove || event.Op&fsnotify.Rename == fsnotify.Rename {
		w.mu.Lock()
		name, tracked := w.names[event.Name]
		delete(w.names, event.Name)
		w.mu.Unlock()
		if !tracked {
			name = strings.TrimSuffix(filepath.Base(event.Name), filepath.Ext(event.Name))
		}
		if w.onRemove != nil {
			w.onRemove(name)
		}
		return
	}

	w.debounced(event.Name)
}

func (w *Watcher) debounced(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.loadOne(path)
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
	})
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}
