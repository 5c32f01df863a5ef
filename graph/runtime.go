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

package graph

import (
	"context"
	"sync"
	"time"

	"hotmod.dev/hmr/hostio"
	"hotmod.dev/hmr/internal/logging"
)

// DefaultDebounce is the trailing-edge coalescing window main() installs
// for update requests (spec.md §4.1, §4.6).
const DefaultDebounce = 100 * time.Millisecond

// Runtime is the process-wide module registry and update coordinator
// (spec.md §9, "expose them as a constructed runtime value rather than
// module-level singletons"). All graph-mutating operations funnel
// through a single coordinator goroutine so the cooperative
// single-threading spec.md §5 mandates holds even though Go itself is
// built around concurrent goroutines — this is the one place the
// teacher's heavily concurrent server style is deliberately not
// imitated.
type Runtime struct {
	host    hostio.Host
	watcher hostio.Watcher
	logger  logging.Logger

	mu          sync.Mutex
	controllers map[string]*Controller

	visitMu sync.Mutex

	fatalMu sync.Mutex
	fatal   *FatalError

	entry *Controller

	debounce    time.Duration
	pendingMu   sync.Mutex
	pendingURLs map[string]bool
	debounceTmr *time.Timer

	reqs     chan updateRequest
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	listenerMu sync.Mutex
	listeners  []func(UpdateResult)
}

type updateRequest struct {
	result chan UpdateResult
}

// NewRuntime constructs a Runtime backed by host for source fetching
// and dynamic import, and watcher for file-change notification. Either
// collaborator may be nil for tests that drive the graph purely through
// Acquire/Load/Dispatch without a live host.
func NewRuntime(host hostio.Host, watcher hostio.Watcher, logger logging.Logger, debounce time.Duration) *Runtime {
	if logger == nil {
		logger = logging.Noop{}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	r := &Runtime{
		host:        host,
		watcher:     watcher,
		logger:      logger,
		controllers: make(map[string]*Controller),
		debounce:    debounce,
		pendingURLs: make(map[string]bool),
		reqs:        make(chan updateRequest, 16),
		stop:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.coordinatorLoop()

	return r
}

// SetHost installs host after construction, for callers that must build
// their hostio.Host implementation out of collaborators (a
// hostio.DynamicImporter in particular) that themselves need a reference
// to this Runtime — a dependency NewRuntime cannot satisfy at call
// time. Not safe to call concurrently
// with Acquire/Dispatch/RequestUpdate*; callers install it once, before
// Main.
func (r *Runtime) SetHost(host hostio.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host = host
}

// Acquire returns the unique controller for url, creating it on first
// call (property P2). First acquisition registers a file-change watch.
func (r *Runtime) Acquire(url string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[url]; ok {
		return c
	}

	c := newController(r, url)
	r.controllers[url] = c

	if r.watcher != nil {
		if err := r.watcher.Watch(url); err != nil {
			r.logger.Debug("graph: failed to watch %s: %v", url, err)
		}
	}

	return c
}

// Lookup returns the controller for url if one has already been
// acquired, without creating it.
func (r *Runtime) Lookup(url string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[url]
	return c, ok
}

// traversalActiveKey marks a context as already running inside a
// runTraversal call on the current call stack.
type traversalActiveKey struct{}

func withinTraversal(ctx context.Context) bool {
	return ctx.Value(traversalActiveKey{}) != nil
}

// runTraversal serializes graph-mutating traversals behind visitMu
// (spec.md §4.5, "a visit-index acquired under a lightweight lock") —
// except when ctx shows a traversal is already running on this same
// call stack. That happens when a module's own instantiation performs a
// dynamic import (Hot.DynamicImport) whose host callback turns around
// and calls Controller.Dispatch on the imported chunk: without this
// check that nested Dispatch would try to re-lock the non-reentrant
// visitMu its own caller is still holding. build receives the
// correctly marked context to close over in its Begin/Join hooks.
func (r *Runtime) runTraversal(ctx context.Context, root *Controller, build func(context.Context) TraversalOptions) error {
	nested := withinTraversal(ctx)
	if !nested {
		r.visitMu.Lock()
		defer r.visitMu.Unlock()
		ctx = context.WithValue(ctx, traversalActiveKey{}, true)
	}

	opts := build(ctx)
	if opts.Unwind == nil {
		opts.Unwind = func([]*Controller) {}
	}
	return newTraversal(opts).Run(ctx, root)
}

// Main boots entryURL as the runtime's entry controller and, if a
// watcher was supplied, starts listening for file-change events to feed
// the debounced update scheduler (spec.md §4.1).
func (r *Runtime) Main(ctx context.Context, entryURL string) error {
	entry := r.Acquire(entryURL)
	if err := entry.Dispatch(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.entry = entry
	r.mu.Unlock()

	if r.watcher != nil {
		r.wg.Add(1)
		go r.watchLoop(ctx)
	}
	return nil
}

func (r *Runtime) watchLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case ev, ok := <-r.watcher.Events():
			if !ok {
				return
			}
			r.scheduleUpdate(ev.Paths)
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		}
	}
}

func (r *Runtime) scheduleUpdate(changedURLs []string) {
	r.pendingMu.Lock()
	for _, u := range changedURLs {
		r.pendingURLs[u] = true
	}
	if r.debounceTmr != nil {
		r.debounceTmr.Stop()
	}
	r.debounceTmr = time.AfterFunc(r.debounce, r.flushPending)
	r.pendingMu.Unlock()
}

func (r *Runtime) flushPending() {
	r.pendingMu.Lock()
	n := len(r.pendingURLs)
	r.pendingURLs = make(map[string]bool)
	r.pendingMu.Unlock()

	if n == 0 {
		return
	}

	r.RequestUpdate(context.Background())
}

// Subscribe registers fn to run after every update this runtime
// completes — regardless of whether it was requested via RequestUpdate
// or RequestUpdateResult. fn is called synchronously on the coordinator
// goroutine once the requester has been handed the result, so the next
// queued update waits for it. Used by callers that need to relay results
// somewhere (devserver's WebSocket broadcast).
func (r *Runtime) Subscribe(fn func(UpdateResult)) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Runtime) notifyListeners(result UpdateResult) {
	r.listenerMu.Lock()
	listeners := append([]func(UpdateResult){}, r.listeners...)
	r.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(result)
	}
}

// RequestUpdate schedules an update and logs its outcome without
// returning it (spec.md §4.1).
func (r *Runtime) RequestUpdate(ctx context.Context) {
	go func() {
		result, err := r.RequestUpdateResult(ctx)
		if err != nil {
			r.logger.Error("graph: update request failed: %v", err)
			return
		}
		if result.Error != nil {
			r.logger.Warning("graph: update %s: %v", result.Type, result.Error)
			return
		}
		r.logger.Info("graph: update %s", result.Type)
	}()
}

// RequestUpdateResult schedules an update and blocks for its structured
// result. Overlapping requests serialize on the single coordinator
// goroutine (property P10, spec.md §4.6).
func (r *Runtime) RequestUpdateResult(ctx context.Context) (UpdateResult, error) {
	if fatal := r.fatalError(); fatal != nil {
		return UpdateResult{Type: UpdateFatalError, Error: fatal}, nil
	}

	req := updateRequest{result: make(chan UpdateResult, 1)}
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return UpdateResult{}, ctx.Err()
	case <-r.stop:
		return UpdateResult{}, context.Canceled
	}

	select {
	case res := <-req.result:
		return res, nil
	case <-ctx.Done():
		return UpdateResult{}, ctx.Err()
	}
}

func (r *Runtime) coordinatorLoop() {
	defer r.wg.Done()
	for {
		select {
		case req := <-r.reqs:
			result := r.runUpdate(context.Background())
			req.result <- result
			r.notifyListeners(result)
		case <-r.stop:
			return
		}
	}
}

func (r *Runtime) fatalError() *FatalError {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatal
}

func (r *Runtime) setFatal(err *FatalError) {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	r.fatal = err
}

// Close stops the runtime's background goroutines. Safe to call once;
// subsequent calls are no-ops.
func (r *Runtime) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	return nil
}
