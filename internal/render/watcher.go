package render

import (
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/zektor/internal/logging"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls a function when the state file changes. It watches the
// containing directory because saves replace the file by rename.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	base     string
	debounce time.Duration
	onChange func()
	logger   *logging.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for path. onChange runs on the watcher's
// goroutine once per burst of changes.
func NewWatcher(path string, onChange func(), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		path:     path,
		base:     filepath.Base(path),
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger.WithComponent("watch"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce overrides DefaultDebounce. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start begins watching.
func (w *Watcher) Start() {
	if w.started.Swap(true) {
		return
	}
	go w.watchLoop()
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

// relevant matches the state file and its companions, such as the
// SQLite -wal file, but not the lock or temp files.
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, w.base) {
		return false
	}
	return !strings.HasSuffix(base, ".lock") && !strings.HasSuffix(base, ".tmp")
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	// Debounce events - a save is a write, a sync and a rename
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	defer debounceTimer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.relevant(ev.Name) {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "path", w.path, "error", err.Error())
		}
	}
}
