package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RuleWatcher keeps a Classifier in sync with a YAML rule file. Rules from
// the file are appended to DefaultRules. A file that fails to load is
// logged and the previous rules stay active.
type RuleWatcher struct {
	path       string
	classifier *Classifier
	debounce   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	reloads int
}

// NewRuleWatcher creates a watcher for path. It does nothing until Start.
func NewRuleWatcher(path string, c *Classifier) *RuleWatcher {
	return &RuleWatcher{
		path:       filepath.Clean(path),
		classifier: c,
		debounce:   250 * time.Millisecond,
		logger:     slog.Default(),
	}
}

// Reload reads the rule file once and installs it. A missing file resets
// the classifier to the defaults.
func (w *RuleWatcher) Reload() error {
	rules := DefaultRules()
	extra, err := LoadRules(w.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		rules = append(rules, extra...)
	}
	if err := w.classifier.Replace(rules); err != nil {
		return fmt.Errorf("installing rules: %w", err)
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("intent rules loaded", "path", w.path, "extra_rules", len(extra))
	return nil
}

// Reloads returns how many times rules were installed.
func (w *RuleWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Start loads the file and watches its directory until ctx is done or
// Stop is called. Editors often replace files instead of writing them in
// place, so the parent directory is watched and events are filtered by name.
func (w *RuleWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		w.mu.Unlock()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fw
	w.done = make(chan struct{})
	w.mu.Unlock()

	if err := w.Reload(); err != nil {
		w.logger.Warn("initial intent rule load failed, using defaults", "path", w.path, "error", err)
	}

	go w.run(ctx, fw, w.done)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *RuleWatcher) Stop() {
	w.mu.Lock()
	fw, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	fw.Close()
	<-done
}

func (w *RuleWatcher) run(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fw.Close()
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("intent rule watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("intent rule reload failed, keeping previous rules", "path", w.path, "error", err)
			}
		}
	}
}
