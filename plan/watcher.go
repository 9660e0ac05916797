package plan

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"fsagent/internal/logging"
)

// DefaultSettle is how long the workspace must be quiet before a burst of
// events marks the preview stale.
const DefaultSettle = 200 * time.Millisecond

// Watcher notices workspace changes made after a plan preview was shown.
type Watcher struct {
	root    string
	skip    func(path string) bool
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	settle  func(func())

	stale    atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
	onChange func()
	mu       sync.Mutex
}

// NewWatcher watches root and every directory below it, except those skip
// rejects. A nil skip watches everything.
func NewWatcher(root string, skip func(path string) bool, settle time.Duration, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if skip == nil {
		skip = func(string) bool { return false }
	}
	if settle <= 0 {
		settle = DefaultSettle
	}

	w := &Watcher{
		root:    root,
		skip:    skip,
		logger:  logging.OrNop(logger).Named("watcher"),
		watcher: fw,
		settle:  debounce.New(settle),
		done:    make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != w.root && w.skip(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.skip(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Debug("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			w.settle(w.markStale)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) markStale() {
	if w.closed.Load() {
		return
	}
	w.stale.Store(true)

	w.mu.Lock()
	fn := w.onChange
	w.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnChange registers fn to run, debounced, after the workspace changes.
func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Stale reports whether the workspace changed since the last MarkFresh.
func (w *Watcher) Stale() bool {
	return w.stale.Load()
}

// MarkFresh is called after a preview has been computed.
func (w *Watcher) MarkFresh() {
	w.stale.Store(false)
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
