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

package hotmod

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"hotmod.dev/hmr/graph"
	"hotmod.dev/hmr/hostio"
	"hotmod.dev/hmr/transformhost"
	"hotmod.dev/hmr/watch"
)

// host composes an Engine (hostio.SourceFetcher) with a dynamicImporter
// built on the live graph.Runtime to satisfy hostio.Host, without either
// transformhost or graph importing one another (see transformhost/host.go).
type host struct {
	*transformhost.Engine
	*dynamicImporter
}

// dynamicImporter implements hostio.DynamicImporter by acquiring,
// loading, and dispatching the target controller on demand, then
// flattening its namespace into a plain map for the caller.
type dynamicImporter struct {
	engine  *transformhost.Engine
	builder *transformhost.DeclarationBuilder
	runtime *graph.Runtime
}

func newDynamicImporter(engine *transformhost.Engine, builder *transformhost.DeclarationBuilder, runtime *graph.Runtime) *dynamicImporter {
	return &dynamicImporter{engine: engine, builder: builder, runtime: runtime}
}

func (d *dynamicImporter) Import(ctx context.Context, specifier, parentURL string) (any, error) {
	url, err := d.engine.Resolve(ctx, specifier, parentURL)
	if err != nil {
		return nil, fmt.Errorf("hotmod: dynamic import %q from %s: %w", specifier, parentURL, err)
	}

	ctrl := d.runtime.Acquire(url)
	if ctrl.Current() == nil && ctrl.Staging() == nil {
		decl, err := d.builder.Build(ctx, url, false)
		if err != nil {
			return nil, err
		}
		ctrl.Load(decl)
	}
	if err := ctrl.Dispatch(ctx); err != nil {
		return nil, err
	}

	inst := ctrl.Current()
	if inst == nil {
		return nil, fmt.Errorf("hotmod: %s did not produce an instance", url)
	}

	ns := inst.Namespace()
	out := make(map[string]any, len(ns.Entries()))
	for _, e := range ns.Entries() {
		out[e.Name] = e.Get()
	}
	return out, nil
}

// moduleWatcher adapts watch.Watcher's real-filesystem-path vocabulary to
// the graph engine's module-URL vocabulary, joining/stripping rootDir on
// the way in and out so graph.Runtime never has to know the on-disk layout.
type moduleWatcher struct {
	inner   *watch.Watcher
	rootDir string
	events  chan hostio.ChangeEvent
}

func newModuleWatcher(inner *watch.Watcher, rootDir string) *moduleWatcher {
	w := &moduleWatcher{inner: inner, rootDir: rootDir, events: make(chan hostio.ChangeEvent, 16)}
	go w.translate()
	return w
}

func (w *moduleWatcher) Watch(url string) error {
	return w.inner.Watch(w.realPath(url))
}

func (w *moduleWatcher) Events() <-chan hostio.ChangeEvent { return w.events }

func (w *moduleWatcher) Close() error {
	err := w.inner.Close()
	close(w.events)
	return err
}

func (w *moduleWatcher) realPath(url string) string {
	return filepath.Join(w.rootDir, filepath.FromSlash(strings.TrimPrefix(url, "/")))
}

func (w *moduleWatcher) moduleURL(realPath string) (string, bool) {
	rel, err := filepath.Rel(w.rootDir, realPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func (w *moduleWatcher) translate() {
	for ev := range w.inner.Events() {
		urls := make([]string, 0, len(ev.Paths))
		for _, p := range ev.Paths {
			if url, ok := w.moduleURL(p); ok {
				urls = append(urls, url)
			}
		}
		if len(urls) == 0 {
			continue
		}
		w.events <- hostio.ChangeEvent{Paths: urls, Timestamp: ev.Timestamp}
	}
}
