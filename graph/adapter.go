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

import "sync"

// Adapter wraps a namespace from a non-reloadable dependency — a host
// built-in or a foreign module format (spec.md §4.8). It participates
// in export resolution (a reloadable module may `export * from` it) but
// never in the dispatch graph: Reloadable always reports false.
type Adapter struct {
	mu        sync.Mutex
	namespace map[string]any
	memo      map[string]Getter
}

// NewAdapter wraps namespace as an adapter module.
func NewAdapter(namespace map[string]any) *Adapter {
	return &Adapter{
		namespace: namespace,
		memo:      make(map[string]Getter),
	}
}

// Reloadable is always false for an adapter module.
func (a *Adapter) Reloadable() bool { return false }

// ResolveExport returns a memoized getter for name, or ExportUnresolvable
// if namespace does not contain it.
func (a *Adapter) ResolveExport(name string) (Getter, ExportResolution) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g, ok := a.memo[name]; ok {
		return g, ExportFound
	}

	val, ok := a.namespace[name]
	if !ok {
		return nil, ExportUnresolvable
	}

	g := func() any { return val }
	a.memo[name] = g
	return g, ExportFound
}

// ModuleNamespace returns a thunk to the wrapped namespace object.
func (a *Adapter) ModuleNamespace() func() map[string]any {
	return func() map[string]any { return a.namespace }
}
