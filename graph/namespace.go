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

import "sort"

// NamespaceEntry is one property of a module namespace object: a name
// and the getter that resolves its current value.
type NamespaceEntry struct {
	Name string
	Get  Getter
}

// Namespace is a frozen, sorted view over an instance's resolvable
// exports (spec.md §4.3). It has no exported mutator after construction
// — Go has no object-freezing primitive, so immutability here is
// structural rather than enforced at runtime.
type Namespace struct {
	entries []NamespaceEntry
	byName  map[string]Getter
}

// Names returns the sorted export names visible on this namespace.
func (n *Namespace) Names() []string {
	names := make([]string, len(n.entries))
	for i, e := range n.entries {
		names[i] = e.Name
	}
	return names
}

// Get returns the getter for name, or nil if name is not exported.
func (n *Namespace) Get(name string) (Getter, bool) {
	g, ok := n.byName[name]
	return g, ok
}

// Entries returns the namespace's sorted entries.
func (n *Namespace) Entries() []NamespaceEntry {
	return n.entries
}

// buildNamespace resolves every locally and indirectly exported name
// of inst's declaration, omitting ambiguous star-exported names, and
// returns the sorted, frozen result.
func buildNamespace(inst *Instance) *Namespace {
	c := inst.controller
	decl := inst.Declaration()

	names := make(map[string]bool)
	for _, n := range inst.localExportNames() {
		names[n] = true
	}
	for i := range decl.Dependencies {
		for _, b := range decl.Dependencies[i].Bindings {
			if (b.Kind == BindReexport || b.Kind == BindReexportStar) && b.Exported != "" {
				names[b.Exported] = true
			}
		}
	}
	for _, dep := range decl.starExportSources() {
		target := dep.Controller()
		targetInst := CurrentSelector(target)
		if targetInst == nil {
			continue
		}
		for _, n := range targetInst.Namespace().Names() {
			if n != "default" {
				names[n] = true
			}
		}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	entries := make([]NamespaceEntry, 0, len(sorted))
	byName := make(map[string]Getter, len(sorted))
	for _, name := range sorted {
		g, res, _ := resolveExport(c, name, CurrentSelector, make(map[resolveKey]bool))
		if res != ExportFound {
			// Ambiguous or since-invalidated star exports are simply
			// omitted from the namespace (spec.md §4.3).
			continue
		}
		entries = append(entries, NamespaceEntry{Name: name, Get: g})
		byName[name] = g
	}

	return &Namespace{entries: entries, byName: byName}
}
