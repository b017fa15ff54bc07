// Package watcher reports edits to a project file.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

const DefaultDebounce = 150 * time.Millisecond

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventDelete:
		return "delete"
	default:
		return "modify"
	}
}

// FileWatcher watches single files. It watches the parent directory so
// editors that save by rename keep being observed. Bursts of events for one
// file collapse into one callback after the debounce delay; the callback
// receives the last event type of the burst.
type FileWatcher struct {
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	fs       *fsnotify.Watcher
	files    map[string]bool
	timers   map[string]*time.Timer
	last     map[string]EventType
	callback func(path string, event EventType)
	stopped  bool
	done     chan struct{}
}

func NewFileWatcher(debounce time.Duration, logger *slog.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher{
		logger:   logging.WithComponent(logging.OrDiscard(logger), "watcher"),
		debounce: debounce,
		files:    make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		last:     make(map[string]EventType),
	}
}

func (w *FileWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = callback
}

// Watch starts observing path. The event loop runs until ctx is done or
// Stop is called.
func (w *FileWatcher) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.New("watcher stopped")
	}
	if w.fs == nil {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		w.fs = fsw
		w.done = make(chan struct{})
		go w.loop(ctx, fsw, w.done)
	}
	if err := w.fs.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.files[abs] = true
	w.logger.Info("watching file", "path", logging.SanitizePath(abs))
	return nil
}

func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
	fsw, done := w.fs, w.done
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	var typ EventType
	switch {
	case ev.Has(fsnotify.Create):
		typ = EventCreate
	case ev.Has(fsnotify.Write):
		typ = EventModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		typ = EventDelete
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || !w.files[name] {
		return
	}
	w.last[name] = typ
	if t, ok := w.timers[name]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() { w.fire(name) })
}

func (w *FileWatcher) fire(name string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	typ := w.last[name]
	delete(w.timers, name)
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("file changed", "path", logging.SanitizePath(name), "event", typ.String())
	if cb != nil {
		cb(name, typ)
	}
}
