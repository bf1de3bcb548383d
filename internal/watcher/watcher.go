// Package watcher observes a directory for file additions and removals.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors flat directories using fsnotify.
// Added files are reported once their size and mtime stop changing.
type Watcher struct {
	logger  *slog.Logger
	opts    Options
	watcher *fsnotify.Watcher

	pending map[string]*pendingEvent // path -> settling file
	mu      sync.Mutex

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// pendingEvent tracks a file that may still be changing.
type pendingEvent struct {
	size    int64
	modTime time.Time
	timer   *time.Timer
}

// New creates a watcher.
func New(logger *slog.Logger, opts Options) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		logger:  logger,
		opts:    opts,
		watcher: fw,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a directory. Subdirectories are not followed.
func (w *Watcher) Watch(dir string) error {
	dir = filepath.Clean(dir)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", dir)
	}

	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Debug("added watch", slog.String("path", dir))
	return nil
}

// Start processes filesystem events. It blocks until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn("dropped watcher error", slog.Any("error", err))
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if w.opts.shouldIgnore(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a Create.
		w.cancelPending(path)
		w.emit(Event{Type: EventRemoved, Path: path})
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.startSettling(path)
	}
}

func (w *Watcher) startSettling(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		delete(w.pending, path)
		return
	}

	p := &pendingEvent{size: info.Size(), modTime: info.ModTime()}
	p.timer = time.AfterFunc(w.opts.SettleDelay, func() { w.checkSettled(path) })
	w.pending[path] = p
}

func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[path]
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// The Remove event reports it.
		delete(w.pending, path)
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.opts.SettleDelay, func() { w.checkSettled(path) })
		return
	}

	delete(w.pending, path)
	w.emit(Event{
		Type:    EventAdded,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(event Event) {
	select {
	case w.events <- event:
	case <-w.done:
	}
}

// Events returns the channel of settled additions and removals.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of fsnotify errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop releases the fsnotify watcher and waits for Start to return. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		clear(w.pending)
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
