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

// Package transformhost is a concrete hostio.SourceFetcher: it reads
// module source from disk, transforms TypeScript/JSX to JavaScript with
// esbuild, rewrites CSS into constructable-stylesheet modules, and caches
// the result keyed on (url, version) so a forced reload always produces a
// fresh entry (spec.md §6).
package transformhost

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Loader specifies the file type for transformation.
type Loader string

const (
	LoaderTS  Loader = "ts"
	LoaderTSX Loader = "tsx"
	LoaderJS  Loader = "js"
	LoaderJSX Loader = "jsx"
)

// Target specifies the ECMAScript target version.
type Target string

const (
	ES2015 Target = "es2015"
	ES2016 Target = "es2016"
	ES2017 Target = "es2017"
	ES2018 Target = "es2018"
	ES2019 Target = "es2019"
	ES2020 Target = "es2020"
	ES2021 Target = "es2021"
	ES2022 Target = "es2022"
	ES2023 Target = "es2023"
	ESNext Target = "esnext"
)

// ValidTargets returns all valid target values.
func ValidTargets() []Target {
	return []Target{ES2015, ES2016, ES2017, ES2018, ES2019, ES2020, ES2021, ES2022, ES2023, ESNext}
}

// IsValidTarget checks if a target string is valid.
func IsValidTarget(target string) bool {
	switch Target(target) {
	case ES2015, ES2016, ES2017, ES2018, ES2019, ES2020, ES2021, ES2022, ES2023, ESNext:
		return true
	default:
		return false
	}
}

// SourceMapMode specifies how source maps are generated.
type SourceMapMode string

const (
	SourceMapInline   SourceMapMode = "inline"
	SourceMapExternal SourceMapMode = "external"
	SourceMapNone     SourceMapMode = "none"
)

// TransformOptions configures the transformation.
type TransformOptions struct {
	Loader      Loader
	Target      Target
	Sourcemap   SourceMapMode
	TsconfigRaw string // optional tsconfig.json content as JSON
	Sourcefile  string // original path, for source maps
}

// TransformResult contains the transformed code and its static
// dependency specifiers (spec.md §2's out-of-scope "source transformer"
// output shape, produced here instead of assumed).
type TransformResult struct {
	Code         []byte
	Map          []byte
	Dependencies []string
}

func loaderFor(l Loader) api.Loader {
	switch l {
	case LoaderTSX:
		return api.LoaderTSX
	case LoaderJS:
		return api.LoaderJS
	case LoaderJSX:
		return api.LoaderJSX
	default:
		return api.LoaderTS
	}
}

func targetFor(t Target) api.Target {
	switch t {
	case ES2015:
		return api.ES2015
	case ES2016:
		return api.ES2016
	case ES2017:
		return api.ES2017
	case ES2018:
		return api.ES2018
	case ES2019:
		return api.ES2019
	case ES2021:
		return api.ES2021
	case ES2022:
		return api.ES2022
	case ES2023:
		return api.ES2023
	case ESNext:
		return api.ESNext
	default:
		return api.ES2020
	}
}

func sourcemapFor(m SourceMapMode) api.SourceMap {
	switch m {
	case SourceMapExternal:
		return api.SourceMapExternal
	case SourceMapNone:
		return api.SourceMapNone
	default:
		return api.SourceMapInline
	}
}

// TransformTypeScript transforms TypeScript/JSX source to JavaScript
// using esbuild, then scans the result for static and dynamic import
// specifiers.
func TransformTypeScript(source []byte, opts TransformOptions) (*TransformResult, error) {
	tsconfigRaw := opts.TsconfigRaw
	if tsconfigRaw == "" {
		tsconfigRaw = `{"compilerOptions":{"importHelpers":false}}`
	}

	result := api.Transform(string(source), api.TransformOptions{
		Loader:      loaderFor(opts.Loader),
		Target:      targetFor(opts.Target),
		Format:      api.FormatESModule,
		Sourcemap:   sourcemapFor(opts.Sourcemap),
		Sourcefile:  opts.Sourcefile,
		TsconfigRaw: tsconfigRaw,
	})

	if len(result.Errors) > 0 {
		var b strings.Builder
		b.WriteString("transform failed:\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "  %s\n", e.Text)
		}
		return nil, fmt.Errorf("%s", b.String())
	}

	return &TransformResult{
		Code:         result.Code,
		Map:          result.Map,
		Dependencies: ExtractSpecifiers(result.Code),
	}, nil
}

// stringToTemplateLiteral escapes a string for safe inclusion in a JS
// template literal, matching Lit's own escaping rule:
// /\\|`|\$(?={)|(?<=<)\//g
func stringToTemplateLiteral(str string) string {
	var result strings.Builder
	result.Grow(len(str) + 20)

	prevChar := rune(0)
	for i, char := range str {
		switch char {
		case '\\', '`':
			result.WriteRune('\\')
			result.WriteRune(char)
		case '$':
			if i+1 < len(str) && str[i+1] == '{' {
				result.WriteString("\\$")
			} else {
				result.WriteRune(char)
			}
		case '/':
			if prevChar == '<' {
				result.WriteString("\\/")
			} else {
				result.WriteRune(char)
			}
		default:
			result.WriteRune(char)
		}
		prevChar = char
	}

	return result.String()
}

// TransformCSS rewrites a CSS file into a JavaScript module default-
// exporting a constructed CSSStyleSheet, matching Lit's CSS module
// convention so a plain `import styles from './x.css'` works unmodified.
func TransformCSS(source []byte, path string) string {
	css := stringToTemplateLiteral(string(source))
	return fmt.Sprintf(`// [hotmod] %s
const sheet = new CSSStyleSheet();
sheet.replaceSync(%s);
export default sheet;
`, path, "`"+css+"`")
}
