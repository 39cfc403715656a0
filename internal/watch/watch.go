// Package watch reloads the labeling document when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"segtag/internal/session"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Reloader receives the new document bytes.
type Reloader interface {
	ReloadDocument(ctx context.Context, data []byte) (session.Selection, error)
}

// Options tunes a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
	// OnReload is called after every reload attempt. Optional.
	OnReload func(session.Selection, error)
}

// Watcher follows one document file. It watches the parent directory so
// that rename-and-replace saves are seen as well.
type Watcher struct {
	path     string
	target   Reloader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      *slog.Logger
	onReload func(session.Selection, error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	reloads int
}

// New prepares a watcher for path. Start begins delivering reloads.
func New(path string, target Reloader, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     abs,
		target:   target,
		watcher:  fw,
		debounce: debounce,
		log:      logger,
		onReload: opts.OnReload,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop ends the event loop and waits for it.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

// Reloads returns the number of reload attempts so far.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
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
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("document watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	var sel session.Selection
	if err == nil {
		sel, err = w.target.ReloadDocument(ctx, data)
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	if err != nil {
		w.log.Warn("document reload failed", "path", w.path, "error", err)
	} else {
		w.log.Info("document reloaded from disk", "path", w.path, "image", sel.ImageKey, "position", sel.Position)
	}
	if w.onReload != nil {
		w.onReload(sel, err)
	}
}
