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

// Package graph implements the reloadable module graph engine: the
// controller/instance state machine, cycle-aware dependency traversal,
// export resolution and live bindings, and the dry-run/link-test/dispatch
// update protocol. It depends only on the narrow collaborator interfaces
// in hostio; source transforming, fetching, and file watching are left to
// callers (see transformhost and watch for reference implementations).
package graph

// BindingKind identifies which of the five import/export binding shapes
// a BindingEntry describes.
type BindingKind int

const (
	// BindImport is `import { name [as local] }`.
	BindImport BindingKind = iota
	// BindImportStar is `import * as local`.
	BindImportStar
	// BindReexport is `export { name [as exported] } from`.
	BindReexport
	// BindReexportStar is `export * as name from`.
	BindReexportStar
	// BindStarFrom is `export * from`.
	BindStarFrom
)

func (k BindingKind) String() string {
	switch k {
	case BindImport:
		return "import"
	case BindImportStar:
		return "import-star"
	case BindReexport:
		return "reexport"
	case BindReexportStar:
		return "reexport-star"
	case BindStarFrom:
		return "star-from"
	default:
		return "unknown"
	}
}

// BindingEntry is one binding declared against a single dependency
// request (spec.md §3). Which fields are meaningful depends on Kind; a
// tagged struct rather than an interface hierarchy, matching the
// narrow-contract idiom used throughout this codebase.
type BindingEntry struct {
	Kind BindingKind
	// Name is the source-side name: the imported name for BindImport,
	// the re-exported-from name for BindReexport/BindReexportStar.
	// Empty for BindImportStar and BindStarFrom.
	Name string
	// Local is the local binding name, meaningful for BindImport and
	// BindImportStar.
	Local string
	// Exported is the name this binding is published under, meaningful
	// for BindReexport and BindReexportStar.
	Exported string
}

// DependencyEntry is one dependency request installed by Controller.Load,
// carrying a deferred, memoized resolver so graph construction is
// order-independent even across cycles (spec.md §9).
type DependencyEntry struct {
	Specifier  string
	Controller func() *Controller
	Bindings   []BindingEntry
}

// Declaration is an immutable description of one source version
// (spec.md §3). Two Declarations for the same URL, even if byte-identical
// source, are distinct instances representing distinct load events.
type Declaration struct {
	// Body is the module body, realized as an explicit state machine
	// rather than a generator (spec.md §4.2, §9 "Deep generator
	// protocol" — Go has no first-class generators).
	Body BodyFunc
	// ImportMeta carries import.meta payload fields exposed to the body.
	ImportMeta map[string]any
	// Attributes holds import attributes (e.g. `with { type: "json" }`).
	Attributes map[string]string
	// UsesDynamicImport flags whether the body may call the host's
	// DynamicImporter during evaluation.
	UsesDynamicImport bool
	// Dependencies is the ordered list of static dependency requests.
	Dependencies []DependencyEntry
}

// indirectExport returns the dependency and binding describing an
// `export { x as name } from` or `export * as name from` for exported
// name, if one exists. Direct exports and star-from entries are not
// represented here; direct exports are resolved against the instance's
// own exports table and star-from entries are walked separately by
// starExportSources.
func (d *Declaration) indirectExport(name string) (*DependencyEntry, BindingEntry, bool) {
	for i := range d.Dependencies {
		dep := &d.Dependencies[i]
		for _, b := range dep.Bindings {
			if (b.Kind == BindReexport || b.Kind == BindReexportStar) && b.Exported == name {
				return dep, b, true
			}
		}
	}
	return nil, BindingEntry{}, false
}

// starExportSources returns the dependency entries through which this
// declaration re-exports everything (`export * from`).
func (d *Declaration) starExportSources() []*DependencyEntry {
	var out []*DependencyEntry
	for i := range d.Dependencies {
		dep := &d.Dependencies[i]
		for _, b := range dep.Bindings {
			if b.Kind == BindStarFrom {
				out = append(out, dep)
				break
			}
		}
	}
	return out
}
