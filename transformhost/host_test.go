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

package transformhost_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"hotmod.dev/hmr/transformhost"
)

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestEngine_ResolveJoinsRelativeSpecifierAgainstParent(t *testing.T) {
	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: t.TempDir()})

	got, err := engine.Resolve(context.Background(), "./sibling.ts", "/pkg/entry.ts")
	require.NoError(t, err)
	require.Equal(t, "/pkg/sibling.ts", got)

	got, err = engine.Resolve(context.Background(), "../shared/util.ts", "/pkg/entry.ts")
	require.NoError(t, err)
	require.Equal(t, "/shared/util.ts", got)
}

func TestEngine_ResolveRejectsBareSpecifiers(t *testing.T) {
	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: t.TempDir()})

	_, err := engine.Resolve(context.Background(), "lit", "/pkg/entry.ts")
	require.Error(t, err)
}

func TestEngine_FetchTransformsTypeScriptAndCachesResult(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "entry.ts", `export const greet = (name: string): string => "hi " + name;`)

	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: root})
	defer engine.Close()

	result, err := engine.Fetch(context.Background(), "/entry.ts", false)
	require.NoError(t, err)
	require.NotContains(t, string(result.Source), ": string")
	require.Contains(t, string(result.Source), "greet")
	require.Equal(t, uint64(0), result.Version)

	statsBefore := engine.Stats()
	again, err := engine.Fetch(context.Background(), "/entry.ts", false)
	require.NoError(t, err)
	require.Equal(t, result.Version, again.Version)

	statsAfter := engine.Stats()
	require.Greater(t, statsAfter.Hits, statsBefore.Hits)
}

func TestEngine_FetchForceReloadBumpsVersion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "entry.ts", `export const x = 1;`)

	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: root})
	defer engine.Close()

	first, err := engine.Fetch(context.Background(), "/entry.ts", false)
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.Version)

	writeFile(t, root, "entry.ts", `export const x = 2;`)
	second, err := engine.Fetch(context.Background(), "/entry.ts", true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), second.Version)
	require.Contains(t, string(second.Source), "2")
}

func TestEngine_FetchRewritesCSSImportAttributesBeforeTransform(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "styles.css", `:host { color: red; }`)
	writeFile(t, root, "entry.ts", `import styles from './styles.css' with { type: 'css' };
export { styles };`)

	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: root})
	defer engine.Close()

	result, err := engine.Fetch(context.Background(), "/entry.ts", false)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(result.Source), "__hotmod-attrs[type]=css"))
}

func TestEngine_FetchTransformsCSSIntoConstructedStylesheet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "styles.css", `:host { color: red; }`)

	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: root})
	defer engine.Close()

	result, err := engine.Fetch(context.Background(), "/styles.css", false)
	require.NoError(t, err)
	require.Contains(t, string(result.Source), "CSSStyleSheet")
	require.Contains(t, string(result.Source), "color: red")
}

func TestEngine_InvalidateReturnsTransitiveDependents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "leaf.ts", `export const leaf = 1;`)
	writeFile(t, root, "mid.ts", `import { leaf } from './leaf.ts';
export const mid = leaf;`)

	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: root})
	defer engine.Close()

	_, err := engine.Fetch(context.Background(), "/leaf.ts", false)
	require.NoError(t, err)
	_, err = engine.Fetch(context.Background(), "/mid.ts", false)
	require.NoError(t, err)

	invalidated := engine.Invalidate("/leaf.ts")
	require.ElementsMatch(t, []string{"/leaf.ts", "/mid.ts"}, invalidated)
}

func TestEngine_FetchUnsupportedExtensionErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "data.json", `{"a":1}`)

	engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: root})
	defer engine.Close()

	_, err := engine.Fetch(context.Background(), "/data.json", false)
	require.Error(t, err)
}
