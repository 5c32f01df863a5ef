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

import (
	"net/url"
	"regexp"
	"strings"
)

// ImportAttribute is one key/value pair from an import attributes clause.
type ImportAttribute struct {
	Key   string
	Value string
}

// importWithPattern matches `import ... from 'spec' with { ... }` and
// `import 'spec' with { ... }`, capturing the specifier and the raw
// attributes object body. esbuild's Transform API strips import
// attributes it doesn't understand, so this pass runs before transform
// and folds each attribute into a query parameter the dev server can
// read back off the specifier after transform.
var importWithPattern = regexp.MustCompile(
	`import\s+(?:[^'"` + "`" + `;]+?\sfrom\s+)?['"]([^'"]+)['"]\s+with\s*\{([^}]*)\}`,
)

var attrPairPattern = regexp.MustCompile(`(\w+)\s*:\s*['"]([^'"]*)['"]`)

// RewriteImportAttributes folds every `with { ... }` import-attributes
// clause into query-parameter form on the import specifier itself, e.g.
//
//	import styles from './foo.css' with { type: 'css' }
//	  becomes
//	import styles from './foo.css?__hotmod-attrs[type]=css'
//
// so the attribute survives esbuild's transform and the dev server can
// recover it from the request URL.
func RewriteImportAttributes(source []byte) []byte {
	return importWithPattern.ReplaceAllFunc(source, func(match []byte) []byte {
		groups := importWithPattern.FindSubmatch(match)
		specifier := string(groups[1])
		attrs := parseAttributes(string(groups[2]))
		if len(attrs) == 0 {
			return match
		}

		rewritten := buildRewrittenImportPath(specifier, attrs)
		withClauseStart := strings.Index(string(match), "with")
		stmt := strings.TrimRight(string(match[:withClauseStart]), " \t\r\n")
		return []byte(strings.Replace(stmt, specifier, rewritten, 1))
	})
}

func parseAttributes(body string) []ImportAttribute {
	pairs := attrPairPattern.FindAllStringSubmatch(body, -1)
	attrs := make([]ImportAttribute, 0, len(pairs))
	for _, p := range pairs {
		attrs = append(attrs, ImportAttribute{Key: p[1], Value: p[2]})
	}
	return attrs
}

// buildRewrittenImportPath appends each attribute as a
// `__hotmod-attrs[key]=value` query parameter.
func buildRewrittenImportPath(originalPath string, attributes []ImportAttribute) string {
	if len(attributes) == 0 {
		return originalPath
	}

	params := make([]string, 0, len(attributes))
	for _, attr := range attributes {
		params = append(params, "__hotmod-attrs["+url.QueryEscape(attr.Key)+"]="+url.QueryEscape(attr.Value))
	}

	sep := "?"
	if strings.Contains(originalPath, "?") {
		sep = "&"
	}
	return originalPath + sep + strings.Join(params, "&")
}
