package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/watcher"
	"github.com/google/uuid"
)

// task is one category's serialized rebuild loop. trigger has capacity one:
// triggers that arrive while a rebuild is running collapse into a single
// pending rerun.
type task struct {
	cat     catalog.Category
	trigger chan struct{}
	state   atomic.Int32
	runs    atomic.Int64
	fails   atomic.Int64
}

// Session is the state of one watch run: a task per category and the watcher
// feeding them. It is created when watching starts and discarded on exit.
type Session struct {
	ID string

	orch    *Orchestrator
	tasks   map[string]*task
	order   []string
	logger  logging.Logger
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewSession creates a session with one idle task per catalog category.
func (o *Orchestrator) NewSession() *Session {
	id := uuid.NewString()
	s := &Session{
		ID:     id,
		orch:   o,
		tasks:  make(map[string]*task),
		logger: o.logger.With("session", id),
	}
	for _, cat := range o.catalog.All() {
		s.tasks[cat.Name] = &task{cat: cat, trigger: make(chan struct{}, 1)}
		s.order = append(s.order, cat.Name)
	}
	return s
}

// Start launches the category task loops. They stop when ctx is done; Wait
// blocks until they have.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s already started", s.ID)
	}
	for _, name := range s.order {
		t := s.tasks[name]
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info(ctx, "Session started", "categories", len(s.order))
	return nil
}

// Wait blocks until every task loop has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) loop(ctx context.Context, t *task) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.trigger:
			s.run(ctx, t)
		}
	}
}

// run performs one rebuild. A panic or error stays inside this category.
func (s *Session) run(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			t.fails.Add(1)
			t.state.Store(int32(StateIdle))
			s.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Category task panicked", "category", t.cat.Name)
		}
	}()

	t.runs.Add(1)
	_, err := s.orch.Rebuild(ctx, t.cat, func(st State) { t.state.Store(int32(st)) })
	if err != nil {
		t.fails.Add(1)
	}
}

// Trigger queues a rebuild of the named category. It never blocks: when a
// rebuild is already pending the trigger is merged into it. It returns false
// for an unknown category.
func (s *Session) Trigger(name string) bool {
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	select {
	case t.trigger <- struct{}{}:
		s.logger.Debug(context.Background(), "Queued rebuild", "category", name)
	default:
		s.logger.Debug(context.Background(), "Rebuild already pending", "category", name)
	}
	return true
}

// Dispatch triggers every category whose source glob matches one of paths and
// returns the triggered names, sorted.
func (s *Session) Dispatch(paths []string) []string {
	hit := make(map[string]bool)
	for _, p := range paths {
		for _, cat := range s.orch.catalog.Match(p) {
			hit[cat.Name] = true
		}
	}
	names := make([]string, 0, len(hit))
	for name := range hit {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Trigger(name)
	}
	return names
}

// HandleEvents is a watcher.ChangeHandler that dispatches a debounced batch.
func (s *Session) HandleEvents(events []watcher.ChangeEvent) error {
	paths := make([]string, len(events))
	for i, e := range events {
		paths[i] = e.Path
	}
	if names := s.Dispatch(paths); len(names) > 0 {
		s.logger.Debug(context.Background(), "Dispatched change batch", "events", len(events), "categories", names)
	}
	return nil
}

// Watch registers every category's source directory with fw and routes its
// batches into the session. Starting fw stays with the caller.
func (s *Session) Watch(fw *watcher.FileWatcher) error {
	c := s.orch.catalog
	seen := make(map[string]bool)
	for _, name := range s.order {
		dir := c.SourceDir(s.tasks[name].cat)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := fw.AddRecursive(dir); err != nil {
			return fmt.Errorf("watch %s: %w", name, err)
		}
	}
	fw.AddFilter(watcher.EditorTempFilter)
	fw.AddFilter(watcher.NoHiddenFilter(c.Root()))
	fw.AddHandler(s.HandleEvents)
	return nil
}

// State returns the current phase of the named category's task.
func (s *Session) State(name string) State {
	t, ok := s.tasks[name]
	if !ok {
		return StateIdle
	}
	return State(t.state.Load())
}

// Stats reports how many rebuilds ran and failed for a category.
func (s *Session) Stats(name string) (runs, fails int64) {
	t, ok := s.tasks[name]
	if !ok {
		return 0, 0
	}
	return t.runs.Load(), t.fails.Load()
}
