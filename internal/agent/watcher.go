package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// DecisionEvent reports that an answer file landed for a task.
type DecisionEvent struct {
	TaskID string
	Gate   bool
	Path   string
}

// DecisionWatcher watches a decisions directory and reports new answer files.
type DecisionWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	events  chan DecisionEvent
}

// NewDecisionWatcher starts watching dir, creating it if needed.
func NewDecisionWatcher(dir string) (*DecisionWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create decisions dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &DecisionWatcher{
		dir:     dir,
		watcher: w,
		events:  make(chan DecisionEvent, 16),
	}, nil
}

// Events returns the channel answer files are reported on. It is closed when
// Run returns.
func (d *DecisionWatcher) Events() <-chan DecisionEvent {
	return d.events
}

// Run forwards answer-file events until ctx is done. Answers already present
// when Run starts are reported first.
func (d *DecisionWatcher) Run(ctx context.Context) error {
	defer close(d.events)
	defer d.watcher.Close()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read decisions dir: %w", err)
	}
	for _, e := range entries {
		if !d.forward(ctx, filepath.Join(d.dir, e.Name())) {
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !d.forward(ctx, event.Name) {
				return ctx.Err()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[watch] warning: %v", err)
		}
	}
}

// forward sends an event for path if it is an existing answer file.
// Returns false if ctx ended while sending.
func (d *DecisionWatcher) forward(ctx context.Context, path string) bool {
	id, gate := taskIDFromDecisionFile(filepath.Base(path))
	if id == "" {
		return true
	}
	// Rename reports the old name too; only existing files count.
	if _, err := os.Stat(path); err != nil {
		return true
	}
	select {
	case d.events <- DecisionEvent{TaskID: id, Gate: gate, Path: path}:
		return true
	case <-ctx.Done():
		return false
	}
}
