// Package monitor implements the long-lived filesystem watcher of spec.md
// §4.5: it coalesces CREATE/MODIFY bursts, turns paired remove+create events
// into an atomic move intent, and supports pre-unmount cancellation of
// everything under a path.
//
// Grounded on: the teacher has no live-watch equivalent (its store is
// reindexed from source on demand, never pushed to); the debounce-timer-
// per-path shape follows the common fsnotify idiom of coalescing bursts
// before acting, as referenced (if not vendored) by jordigilh-kubernaut's
// hot-reload integration tests.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// IntentKind classifies one coalesced filesystem intent handed to the
// scheduler.
type IntentKind int

const (
	// IntentRecheck asks the scheduler to re-run the per-file pipeline on
	// Path (a coalesced CREATE/WRITE/CHMOD burst).
	IntentRecheck IntentKind = iota

	// IntentMove reports that Path was renamed to NewPath. The daemon
	// applies it as one atomic update-uri of Path's own resource; stored
	// resources of Path's descendants are not renamed.
	IntentMove

	// IntentRemove asks for the resource at Path (and, if a directory, its
	// descendants) to be deleted from the store.
	IntentRemove
)

// Intent is one coalesced filesystem change.
type Intent struct {
	Kind    IntentKind
	Path    string
	NewPath string // IntentMove only
}

const (
	// debounceWindow coalesces rapid CREATE/MODIFY bursts on the same path
	// into a single re-check intent (spec.md §4.5).
	debounceWindow = 400 * time.Millisecond

	// renamePairWindow bounds how long a bare "removed" waits for a
	// matching "created" before it is reported as a plain remove instead
	// of a move. fsnotify does not expose inotify's rename cookie, so
	// pairing is done by same-basename heuristic within this window.
	renamePairWindow = 150 * time.Millisecond
)

// Watcher watches a set of directory subtrees and emits coalesced Intents.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu       sync.Mutex
	watched  map[string]bool
	debounce map[string]*time.Timer
	pendingRemove map[string]removedEntry

	intents chan Intent
	done    chan struct{}
}

type removedEntry struct {
	timer *time.Timer
}

// New starts a Watcher with no roots yet added.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("monitor: new watcher: %w", err)
	}

	w := &Watcher{
		fsw:           fsw,
		watched:       make(map[string]bool),
		debounce:      make(map[string]*time.Timer),
		pendingRemove: make(map[string]removedEntry),
		intents:       make(chan Intent, 64),
		done:          make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Intents returns the channel of coalesced intents. Never closed while the
// Watcher is open; closed on Close.
func (w *Watcher) Intents() <-chan Intent {
	return w.intents
}

// AddRoot recursively watches path and every subdirectory beneath it.
// fsnotify's inotify backend only watches one directory level per Add
// call, so recursion is done here by walking the tree once at add time;
// newly created subdirectories are picked up as CREATE events arrive.
func (w *Watcher) AddRoot(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // spec.md §7 "io": dropped, not fatal to the whole add
		}

		if !d.IsDir() {
			return nil
		}

		w.addDir(p)

		return nil
	})
}

func (w *Watcher) addDir(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched[path] {
		return
	}

	if err := w.fsw.Add(path); err != nil {
		return
	}

	w.watched[path] = true
}

// CancelSubtree stops watching root and every directory beneath it, and
// drops any pending debounce/rename-pair timers under it (spec.md §4.5:
// "handle pre-unmount by cancelling queued work for any descendant of the
// unmount path").
func (w *Watcher) CancelSubtree(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path := range w.watched {
		if isUnder(root, path) {
			_ = w.fsw.Remove(path)
			delete(w.watched, path)
		}
	}

	for path, t := range w.debounce {
		if isUnder(root, path) {
			t.Stop()
			delete(w.debounce, path)
		}
	}

	for path, e := range w.pendingRemove {
		if isUnder(root, path) {
			e.timer.Stop()
			delete(w.pendingRemove, path)
		}
	}
}

// Close stops the watcher and releases its inotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.intents)

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handleEvent(ev)

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// spec.md §7 "io": a watch-backend error is dropped; the
			// watcher itself keeps running.
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		w.handleCreate(ev.Name)
	case ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Chmod != 0:
		w.scheduleRecheck(ev.Name)
	case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
		w.scheduleRemoveOrMove(ev.Name)
	}
}

func (w *Watcher) handleCreate(path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		_ = w.AddRoot(path)
	}

	base := filepath.Base(path)

	w.mu.Lock()
	for removedPath, e := range w.pendingRemove {
		if filepath.Base(removedPath) == base {
			e.timer.Stop()
			delete(w.pendingRemove, removedPath)
			w.mu.Unlock()

			w.emit(Intent{Kind: IntentMove, Path: removedPath, NewPath: path})

			return
		}
	}
	w.mu.Unlock()

	w.scheduleRecheck(path)
}

func (w *Watcher) scheduleRecheck(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.debounce[path]; ok {
		t.Reset(debounceWindow)
		return
	}

	w.debounce[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		w.emit(Intent{Kind: IntentRecheck, Path: path})
	})
}

func (w *Watcher) scheduleRemoveOrMove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.debounce[path]; ok {
		t.Stop()
		delete(w.debounce, path)
	}

	w.pendingRemove[path] = removedEntry{
		timer: time.AfterFunc(renamePairWindow, func() {
			w.mu.Lock()
			delete(w.pendingRemove, path)
			w.mu.Unlock()

			w.emit(Intent{Kind: IntentRemove, Path: path})
		}),
	}
}

func (w *Watcher) emit(i Intent) {
	select {
	case w.intents <- i:
	case <-w.done:
	}
}

func isUnder(root, path string) bool {
	if path == root {
		return true
	}

	return strings.HasPrefix(path, strings.TrimRight(root, "/")+"/")
}
