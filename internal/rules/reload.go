package rules

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/cmdsource/internal/event"
	"github.com/dshills/cmdsource/internal/logging"
)

// Reloader evaluates a rule file and recompiles it whenever the file is
// written or replaced. A script that fails to load is logged and the
// previous version stays active.
type Reloader struct {
	path   string
	opts   []Option
	logger logging.Logger

	mu     sync.RWMutex
	engine *Engine

	watcher *fsnotify.Watcher
	reloads chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Watch loads the rule at path and starts watching it for changes.
func Watch(path string, logger logging.Logger, opts ...Option) (*Reloader, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	engine, err := LoadFile(absPath, opts...)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("watch rule %s: %w", path, err)
	}

	// Editors often replace the file, which drops a watch on the file
	// itself; watch the directory instead.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		engine.Close()
		return nil, fmt.Errorf("watch rule %s: %w", path, err)
	}

	r := &Reloader{
		path:    absPath,
		opts:    opts,
		logger:  logger,
		engine:  engine,
		watcher: fsw,
		reloads: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.processLoop()

	return r, nil
}

// Name returns the name of the active rule.
func (r *Reloader) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Name()
}

// Evaluate evaluates env with the active rule.
func (r *Reloader) Evaluate(ctx context.Context, env event.Envelope) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Evaluate(ctx, env)
}

// Reloads signals after each successful reload. Signals are dropped
// while one is pending.
func (r *Reloader) Reloads() <-chan struct{} {
	return r.reloads
}

// Reload recompiles the rule file now.
func (r *Reloader) Reload() error {
	engine, err := LoadFile(r.path, r.opts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.engine
	r.engine = engine
	r.mu.Unlock()

	old.Close()

	select {
	case r.reloads <- struct{}{}:
	default:
	}
	return nil
}

// Close stops watching and releases the active rule.
func (r *Reloader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closeCh)
		err = r.watcher.Close()
		r.wg.Wait()

		r.mu.Lock()
		defer r.mu.Unlock()
		err = errors.Join(err, r.engine.Close())
	})
	return err
}

// processLoop handles incoming fsnotify events.
func (r *Reloader) processLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.closeCh:
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("failed to reload rules, keeping previous version", "path", r.path, "error", err)
				continue
			}
			r.logger.Info("rules reloaded", "path", r.path, "rule", r.Name())

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("rule watcher error", "path", r.path, "error", err)
		}
	}
}
