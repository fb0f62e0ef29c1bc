// Package scheduler implements spec.md §4.5's processing queue: two queues
// (files, directories) plus a module list, drained in a fixed order, with
// reference-counted pause cookies and the flush-threshold bookkeeping the
// update buffer needs (spec.md §4.3, §4.10, §5).
//
// Grounded on: the teacher's internal/store/tx.go "single active writer,
// ordered drain" shape (one lock-held mutation path, FIFO over pending
// work) generalized from one WAL-file queue to the two typed queues of
// spec.md §4.5. Pause reference-counting has no pack precedent; it is a
// plain stdlib map[string]int guarded by sync.Cond, justified by spec.md
// §4.10's own "resumes only when all cookies are released" contract.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"

	"trackerd/internal/crawler"
)

// ErrStopped is returned by Next once Stop has been called.
var ErrStopped = errors.New("scheduler: stopped")

// Module is one named indexing root the scheduler crawls in turn.
type Module struct {
	Name string
	Root crawler.RootConfig
}

type dirTask struct {
	path      string
	recursive bool
}

// Work is one unit handed back by Next: either a file to run the per-file
// pipeline on, or (Finished true) the drain-order signal that every queue
// and module is exhausted.
type Work struct {
	Module   string
	Entry    crawler.Entry
	IsDir    bool
	Finished bool
}

// Scheduler owns the file/directory queues and module list of spec.md §4.5.
type Scheduler struct {
	lister *crawler.Lister

	mu         sync.Mutex
	cond       *sync.Cond
	files      []taggedEntry
	dirQueue   []taggedDir
	modules    []Module
	moduleIdx  int
	started    bool
	stopped    bool
	pauseCooks map[string]int

	processed int
	indexed   int
}

type taggedEntry struct {
	module string
	entry  crawler.Entry
}

type taggedDir struct {
	module string
	task   dirTask
}

// New returns a Scheduler that lists directories via lister.
func New(lister *crawler.Lister) *Scheduler {
	s := &Scheduler{
		lister:     lister,
		pauseCooks: make(map[string]int),
	}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// AddModule appends a crawl root to the module list. Must be called before
// the first Next.
func (s *Scheduler) AddModule(m Module) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modules = append(s.modules, m)
}

// Pause increments reason's cookie count; Next blocks while any cookie is
// held (spec.md §4.10: "resumes only when all cookies are released").
func (s *Scheduler) Pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pauseCooks[reason]++
}

// Continue releases one instance of reason's cookie.
func (s *Scheduler) Continue(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pauseCooks[reason] > 0 {
		s.pauseCooks[reason]--
		if s.pauseCooks[reason] == 0 {
			delete(s.pauseCooks, reason)
		}
	}

	s.cond.Broadcast()
}

// IsPaused reports whether any pause cookie is outstanding.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pauseCooks) > 0
}

// Stop unblocks any pending Next call with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.cond.Broadcast()
}

// Next returns the next unit of work per the drain order of spec.md §4.5:
// "one file if available, else iterate the head directory once, else pop
// the next module. When both queues drain and the module list is empty,
// emit finished." Blocks while paused; returns ErrStopped after Stop.
func (s *Scheduler) Next(ctx context.Context) (Work, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Work{}, err
		}

		s.mu.Lock()

		for len(s.pauseCooks) > 0 && !s.stopped {
			s.cond.Wait()
		}

		if s.stopped {
			s.mu.Unlock()
			return Work{}, ErrStopped
		}

		if len(s.files) > 0 {
			f := s.files[0]
			s.files = s.files[1:]
			s.mu.Unlock()

			return Work{Module: f.module, Entry: f.entry}, nil
		}

		if len(s.dirQueue) > 0 {
			d := s.dirQueue[0]
			s.dirQueue = s.dirQueue[1:]
			s.mu.Unlock()

			s.iterateDir(d)

			continue
		}

		if s.moduleIdx >= len(s.modules) {
			s.mu.Unlock()
			return Work{Finished: true}, nil
		}

		m := s.modules[s.moduleIdx]
		s.moduleIdx++
		s.dirQueue = append(s.dirQueue, taggedDir{module: m.Name, task: dirTask{path: m.Root.Path, recursive: m.Root.Recursive}})
		s.mu.Unlock()
	}
}

// iterateDir performs one directory read (spec.md §5's "between a
// directory's children" suspension point) and enqueues what survives.
func (s *Scheduler) iterateDir(d taggedDir) {
	files, dirs, err := s.lister.List(d.task.path)
	if err != nil {
		// spec.md §7 "io": dropped from the current pass, not fatal.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range files {
		s.files = append(s.files, taggedEntry{module: d.module, entry: f})
	}

	if d.task.recursive {
		for _, sub := range dirs {
			s.dirQueue = append(s.dirQueue, taggedDir{module: d.module, task: dirTask{path: sub.Path, recursive: true}})
		}
	}
}

// EnqueueFile directly queues a single file, bypassing directory discovery
// (used for index_file and move_file targets, and monitor re-check
// intents).
func (s *Scheduler) EnqueueFile(module string, e crawler.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = append(s.files, taggedEntry{module: module, entry: e})
}

// CancelUnder drops every queued file and directory task whose path is
// root or a descendant of it (spec.md §4.5: pre-unmount cancellation).
func (s *Scheduler) CancelUnder(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.files[:0]

	for _, f := range s.files {
		if !isUnder(root, f.entry.Path) {
			kept = append(kept, f)
		}
	}

	s.files = kept

	keptDirs := s.dirQueue[:0]

	for _, d := range s.dirQueue {
		if !isUnder(root, d.task.path) {
			keptDirs = append(keptDirs, d)
		}
	}

	s.dirQueue = keptDirs
}

// QueueLen reports the combined pending file+directory count, used by
// rdfstore.Buffer.ScheduleFlush's proportional delay (spec.md §4.3).
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.files) + len(s.dirQueue)
}

// IncrementProcessed records one file as processed (mtime-gated skip or
// full reindex, spec.md §8's boundary behaviour either way).
func (s *Scheduler) IncrementProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
}

// IncrementIndexed records one file as having produced store writes.
func (s *Scheduler) IncrementIndexed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexed++
}

// Stats returns (processed, indexed, remaining) for the status event.
func (s *Scheduler) Stats() (processed, indexed, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.processed, s.indexed, len(s.files) + len(s.dirQueue)
}

func isUnder(root, path string) bool {
	if path == root {
		return true
	}

	return strings.HasPrefix(path, strings.TrimRight(root, "/")+"/")
}
