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

package transformhost

import "regexp"

// specifierPattern matches the specifier string literal in static
// import/export-from statements and in `import(...)` calls. esbuild's
// Transform API only lowers syntax; it never resolves or bundles
// imports, so the dependency list a module's Declaration needs has to
// come from a scan of its own output, not from esbuild. A full parser
// would do this more soundly, but the only parser in the corpus
// (tree-sitter) is wired to a different grammar set entirely (see
// DESIGN.md); like the attribute rewrite in `import_rewrite.go`, this
// scan uses a regular expression rather than attempting full syntax
// awareness.
var specifierPattern = regexp.MustCompile(
	`(?:^|[;\n])\s*(?:import|export)\b[^'"` + "`" + `;\n]*\sfrom\s*['"]([^'"]+)['"]` +
		`|(?:^|[^.\w])import\s*\(\s*['"]([^'"]+)['"]\s*\)` +
		`|(?:^|[;\n])\s*import\s*['"]([^'"]+)['"]`,
)

// ExtractSpecifiers scans JavaScript source for static import/export-from
// specifiers and dynamic import() call specifiers, in first-occurrence
// order with duplicates removed.
func ExtractSpecifiers(source []byte) []string {
	matches := specifierPattern.FindAllSubmatch(source, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	specifiers := make([]string, 0, len(matches))
	for _, m := range matches {
		var spec string
		for _, g := range m[1:] {
			if len(g) > 0 {
				spec = string(g)
				break
			}
		}
		if spec == "" || seen[spec] {
			continue
		}
		seen[spec] = true
		specifiers = append(specifiers, spec)
	}
	return specifiers
}
