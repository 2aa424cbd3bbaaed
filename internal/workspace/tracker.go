package workspace

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// stamp is the on-disk state of a file the last time the model saw it.
type stamp struct {
	mtime time.Time
	size  int64
}

// Tracker records which files the model has read and watches the tree
// for changes made behind its back. File tools consult Stale before
// acting on content the model may be holding out of date.
type Tracker struct {
	root     string
	matcher  gitignore.IgnoreParser
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	stamps  map[string]stamp
	changed map[string]bool
	pending map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker rooted at the given directory. Call
// Start to begin watching; the stamp table works without it.
func NewTracker(root string) (*Tracker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		root:     abs,
		matcher:  LoadMatcher(abs),
		watcher:  watcher,
		debounce: 500 * time.Millisecond,
		stamps:   make(map[string]stamp),
		changed:  make(map[string]bool),
		pending:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Root returns the absolute workspace root.
func (t *Tracker) Root() string { return t.root }

// Ignored reports whether a workspace-relative path matches the ignore
// patterns.
func (t *Tracker) Ignored(rel string) bool {
	return t.matcher.MatchesPath(rel)
}

// Abs resolves a tool-supplied path against the workspace root.
func (t *Tracker) Abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(t.root, path)
}

// Resolve maps a tool-supplied path to an absolute path and rejects
// anything that escapes the workspace root.
func (t *Tracker) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	abs := t.Abs(path)
	rel, err := filepath.Rel(t.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the workspace", path)
	}
	return abs, nil
}

// Start adds watches for every non-ignored directory and begins the
// event and debounce loops.
func (t *Tracker) Start() error {
	err := filepath.WalkDir(t.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return nil
		}
		if rel != "." && t.matcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := t.watcher.Add(path); err != nil {
				log.Printf("WARNING: cannot watch %s: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk workspace: %w", err)
	}

	t.wg.Add(2)
	go t.eventLoop()
	go t.debounceLoop()
	return nil
}

// Stop halts the loops and closes the watcher.
func (t *Tracker) Stop() error {
	t.cancel()
	t.wg.Wait()
	return t.watcher.Close()
}

// MarkRead records the current on-disk state of a file as known to the
// model. Both reads and the model's own writes call this.
func (t *Tracker) MarkRead(path string) {
	abs := t.Abs(path)
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		return
	}

	t.mu.Lock()
	t.stamps[rel] = stamp{mtime: info.ModTime(), size: info.Size()}
	delete(t.changed, rel)
	t.mu.Unlock()
}

// Stale reports whether the file changed on disk, or disappeared, after
// the model last saw it. Files the model never read are not stale. A
// watcher flag answers without touching the disk; otherwise the current
// stat is compared against the stamp.
func (t *Tracker) Stale(path string) bool {
	abs := t.Abs(path)
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return false
	}

	t.mu.Lock()
	s, ok := t.stamps[rel]
	flagged := t.changed[rel]
	t.mu.Unlock()
	if !ok {
		return false
	}
	if flagged {
		return true
	}

	info, err := os.Stat(abs)
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(s.mtime) || info.Size() != s.size
}

// Changes returns the sorted relative paths of files the model has read
// that later changed on disk, as observed by the watcher.
func (t *Tracker) Changes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changedPaths()
}

// DrainChanges returns the changed set like Changes and clears it, so a
// caller reporting the paths reports each burst of edits once. The stamp
// table is untouched; per-file staleness checks still fire.
func (t *Tracker) DrainChanges() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := t.changedPaths()
	t.changed = make(map[string]bool)
	return paths
}

func (t *Tracker) changedPaths() []string {
	paths := make([]string, 0, len(t.changed))
	for rel := range t.changed {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

func (t *Tracker) eventLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: watcher error: %v", err)
		}
	}
}

func (t *Tracker) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil {
		return
	}
	if t.matcher.MatchesPath(rel) {
		return
	}

	// New directories need their own watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := t.watcher.Add(event.Name); err != nil {
				log.Printf("WARNING: cannot watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		t.mu.Lock()
		t.pending[rel] = true
		t.mu.Unlock()
	}
}

func (t *Tracker) debounceLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.flushPending()
		}
	}
}

// flushPending promotes pending events into the changed set. Only files
// with a stamp count, and only when the disk state no longer matches
// it, so the model's own writes do not flag themselves.
func (t *Tracker) flushPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return
	}

	for rel := range t.pending {
		s, ok := t.stamps[rel]
		if !ok {
			continue
		}
		info, err := os.Stat(filepath.Join(t.root, rel))
		if err != nil || !info.ModTime().Equal(s.mtime) || info.Size() != s.size {
			t.changed[rel] = true
		}
	}
	t.pending = make(map[string]bool)
}
