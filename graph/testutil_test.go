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

package graph_test

import (
	"context"
	"sync"

	"hotmod.dev/hmr/graph"
)

// closedDone returns a Done channel already carrying err, for bodies
// that complete synchronously — every body in this test suite does.
func closedDone(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}

// staticBody exports fixed values and declares no accept behavior.
func staticBody(exports map[string]any) graph.BodyFunc {
	return func(_ context.Context, _ *graph.Hot) (*graph.BodyHandle, error) {
		getters := make(map[string]graph.Getter, len(exports))
		for name, val := range exports {
			v := val
			getters[name] = func() any { return v }
		}
		return &graph.BodyHandle{
			Exports:        getters,
			ReplaceImports: func(graph.ImportsObject) {},
			Resume: func(graph.ImportsObject) graph.ResumeResult {
				return graph.ResumeResult{Done: closedDone(nil)}
			},
		}, nil
	}
}

// failingBody fails evaluation with err.
func failingBody(err error) graph.BodyFunc {
	return func(_ context.Context, _ *graph.Hot) (*graph.BodyHandle, error) {
		return &graph.BodyHandle{
			Exports:        map[string]graph.Getter{},
			ReplaceImports: func(graph.ImportsObject) {},
			Resume: func(graph.ImportsObject) graph.ResumeResult {
				return graph.ResumeResult{Done: closedDone(err)}
			},
		}, nil
	}
}

// linkFailingBody fails Body itself, before any instance state exists —
// used to simulate a module whose new source fails to even instantiate.
func linkFailingBody(err error) graph.BodyFunc {
	return func(_ context.Context, _ *graph.Hot) (*graph.BodyHandle, error) {
		return nil, err
	}
}

// recorder captures calls into hot lifecycle hooks in invocation order,
// shared by every module instance that closes over it. Used to assert
// dispose/prune ordering (scenario 5's seq = [3,1,4,2]).
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// relayModule builds a body that imports a single named binding from one
// dependency and re-exports it (optionally transformed by compute),
// reading the import fresh on every export access so the relay reflects
// whatever instance it was most recently linked against. setup, if
// non-nil, runs synchronously at body start with the instance's hot
// surface, matching import.meta.hot being available before any
// suspension point.
func relayModule(localName string, compute func(v any) any, setup func(hot *graph.Hot)) graph.BodyFunc {
	if compute == nil {
		compute = func(v any) any { return v }
	}
	return func(_ context.Context, hot *graph.Hot) (*graph.BodyHandle, error) {
		if setup != nil {
			setup(hot)
		}
		var mu sync.Mutex
		var imports graph.ImportsObject
		read := func() any {
			mu.Lock()
			imp := imports
			mu.Unlock()
			if imp == nil {
				return nil
			}
			g, ok := imp[localName]
			if !ok {
				return nil
			}
			return compute(g())
		}
		install := func(im graph.ImportsObject) {
			mu.Lock()
			imports = im
			mu.Unlock()
		}
		return &graph.BodyHandle{
			Exports:        map[string]graph.Getter{"value": read},
			ReplaceImports: install,
			Resume: func(im graph.ImportsObject) graph.ResumeResult {
				install(im)
				return graph.ResumeResult{Done: closedDone(nil)}
			},
		}, nil
	}
}

// depSpec is one dependency request for buildModule.
type depSpec struct {
	specifier string
	url       string
	bindings  []graph.BindingEntry
}

func dep(specifier, url string, bindings ...graph.BindingEntry) depSpec {
	return depSpec{specifier: specifier, url: url, bindings: bindings}
}

// loadModule installs decl as the staging declaration for url on rt,
// acquiring the controller if needed, and wires each dep's Controller
// resolver back through rt.Acquire — the same deferred, memoized
// resolution pattern Controller.Load documents for order-independent
// graph construction across cycles.
func loadModule(rt *graph.Runtime, url string, body graph.BodyFunc, deps ...depSpec) *graph.Controller {
	ctrl := rt.Acquire(url)
	entries := make([]graph.DependencyEntry, len(deps))
	for i, d := range deps {
		d := d
		entries[i] = graph.DependencyEntry{
			Specifier:  d.specifier,
			Controller: func() *graph.Controller { return rt.Acquire(d.url) },
			Bindings:   d.bindings,
		}
	}
	ctrl.Load(&graph.Declaration{Body: body, Dependencies: entries})
	return ctrl
}

func importBinding(name, local string) graph.BindingEntry {
	return graph.BindingEntry{Kind: graph.BindImport, Name: name, Local: local}
}

func importStarBinding(local string) graph.BindingEntry {
	return graph.BindingEntry{Kind: graph.BindImportStar, Local: local}
}

func reexportBinding(name, exported string) graph.BindingEntry {
	return graph.BindingEntry{Kind: graph.BindReexport, Name: name, Exported: exported}
}

func reexportStarBinding(exported string) graph.BindingEntry {
	return graph.BindingEntry{Kind: graph.BindReexportStar, Exported: exported}
}

func starFromBinding() graph.BindingEntry {
	return graph.BindingEntry{Kind: graph.BindStarFrom}
}
