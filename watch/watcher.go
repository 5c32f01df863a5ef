/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package watch implements hostio.Watcher on top of fsnotify, with
// recursive directory watching and debouncing.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hotmod.dev/hmr/hostio"
	"hotmod.dev/hmr/internal/logging"
	"hotmod.dev/hmr/internal/platform"
)

// DefaultDebounce is the coalescing window spec.md §4.1 mandates for
// main()'s update scheduler: events arriving within this window are
// merged into a single ChangeEvent.
const DefaultDebounce = 100 * time.Millisecond

// Watcher implements hostio.Watcher using fsnotify, recursively watching
// directories and debouncing bursts of events into one batch.
type Watcher struct {
	fsw            *fsnotify.Watcher
	events         chan hostio.ChangeEvent
	debounceWindow time.Duration
	pending        map[string]time.Time
	timer          *time.Timer
	mu             sync.Mutex
	logger         logging.Logger
	clock          platform.TimeProvider
	done           chan struct{}
	closeOnce      sync.Once
}

// New creates a Watcher with the given debounce window. A zero window
// uses DefaultDebounce.
func New(debounceWindow time.Duration, logger logging.Logger) (*Watcher, error) {
	return NewWithClock(debounceWindow, logger, platform.NewRealTimeProvider())
}

// NewWithClock is New with the timestamp source stamped onto
// hostio.ChangeEvent and the pending-event map made explicit, so tests
// can assert on debounce timing without a real clock. The debounce
// timer itself still runs on time.AfterFunc: only Now() is abstracted.
func NewWithClock(debounceWindow time.Duration, logger logging.Logger, clock platform.TimeProvider) (*Watcher, error) {
	if debounceWindow <= 0 {
		debounceWindow = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Noop{}
	}
	if clock == nil {
		clock = platform.NewRealTimeProvider()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:            fsw,
		events:         make(chan hostio.ChangeEvent, 100),
		debounceWindow: debounceWindow,
		pending:        make(map[string]time.Time),
		logger:         logger,
		clock:          clock,
		done:           make(chan struct{}),
	}

	go w.processEvents()

	return w, nil
}

// Watch adds path to the watch set, recursing into subdirectories.
func (w *Watcher) Watch(path string) error {
	if err := w.fsw.Add(path); err != nil {
		return err
	}

	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if p == path {
			return nil
		}
		if shouldIgnore(filepath.Base(p)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// Events returns the channel of debounced change batches.
func (w *Watcher) Events() <-chan hostio.ChangeEvent {
	return w.events
}

// Close stops the watcher and releases its goroutine and channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()

	w.closeOnce.Do(func() {
		close(w.done)
	})

	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if shouldIgnore(ev.Name) {
				continue
			}

			w.mu.Lock()
			w.pending[ev.Name] = w.clock.Now()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounceWindow, w.flush)
			w.mu.Unlock()

			w.logger.Debug("file changed: %s", ev.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if len(w.pending) == 0 {
		return
	}

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]time.Time)

	event := hostio.ChangeEvent{Paths: paths, Timestamp: w.clock.Now()}

	select {
	case w.events <- event:
	case <-w.done:
	default:
		w.logger.Debug("dropped change event, channel full")
	}
}

// shouldIgnore reports whether path should never trigger a reload: VCS
// metadata, dependency directories, build output, and editor swap files.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)

	for _, dir := range []string{".git", "node_modules", "dist", "build", ".cache"} {
		if base == dir {
			return true
		}
	}

	switch {
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swo"), strings.HasSuffix(base, ".swn"):
		return strings.HasPrefix(base, ".")
	case strings.HasSuffix(base, "~"):
		return true
	case strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	case strings.HasPrefix(base, ".#"):
		return true
	}

	if base != "" && !strings.Contains(base, ".") {
		allDigits := true
		for _, c := range base {
			if c < '0' || c > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return true
		}
	}

	return false
}
