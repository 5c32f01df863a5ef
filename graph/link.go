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

// resolveImports computes the ImportsObject for inst's import and
// import-star bindings, resolving each named import through the
// dependency controller selected by sel (spec.md §4.4). Re-export
// bindings are not bound locally — they matter only to resolveExport.
func resolveImports(inst *Instance, sel InstanceSelector) (ImportsObject, error) {
	decl := inst.Declaration()

	if err := checkSelfStarExport(inst.controller, decl); err != nil {
		return nil, err
	}

	imports := make(ImportsObject)

	for i := range decl.Dependencies {
		dep := &decl.Dependencies[i]
		target := dep.Controller()

		for _, b := range dep.Bindings {
			switch b.Kind {
			case BindImportStar:
				targetInst := sel(target)
				imports[b.Local] = func() any {
					if targetInst == nil {
						return nil
					}
					return targetInst.Namespace()
				}

			case BindImport:
				g, res, _ := resolveExport(target, b.Name, sel, make(map[resolveKey]bool))
				switch res {
				case ExportFound:
					imports[b.Local] = g
				case ExportAmbiguous:
					return nil, &LinkError{
						Reason:      AmbiguousExport,
						URL:         inst.controller.url,
						BindingName: b.Name,
					}
				case ExportUnresolvable:
					return nil, &LinkError{
						Reason:      MissingExport,
						URL:         inst.controller.url,
						BindingName: b.Name,
					}
				}

			case BindReexport, BindReexportStar, BindStarFrom:
				// Not bound into the local environment; only
				// relevant to resolveExport.
			}
		}
	}

	return imports, nil
}

// checkSelfStarExport detects `export * from` referencing the
// declaring module's own controller — the open-question case spec.md
// §9 calls out explicitly (one test expects this to raise a
// syntax-kind error during link).
func checkSelfStarExport(c *Controller, decl *Declaration) error {
	for _, dep := range decl.starExportSources() {
		if dep.Controller() == c {
			return &LinkError{Reason: SelfStarExport, URL: c.url}
		}
	}
	return nil
}
