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
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"hotmod.dev/hmr/hostio"
	"hotmod.dev/hmr/internal/logging"
)

// EngineConfig configures a reference hostio.SourceFetcher backed by the
// local filesystem and esbuild.
type EngineConfig struct {
	RootDir     string // directory module URLs are resolved against
	Target      Target // defaults to ES2022
	TsconfigRaw string // optional tsconfig.json content as JSON
	Logger      logging.Logger
	MaxWorkers  int // transform pool concurrency, defaults to 4
	QueueDepth  int // transform pool queue depth, defaults to 64
	CacheBytes  int64 // transform cache size bound, defaults to 64MiB
}

// Engine is the reference hostio.SourceFetcher: it resolves specifiers
// against the local filesystem, transforms TypeScript/JSX/CSS with
// esbuild, and caches results keyed on (url, version). It does not
// implement hostio.DynamicImporter: cmd/hotmod composes Engine with a
// graph.Runtime to satisfy hostio.Host instead.
type Engine struct {
	rootDir     string
	target      Target
	tsconfigRaw string
	logger      logging.Logger
	cache       *Cache
	pool        *Pool

	mu       sync.Mutex
	versions map[string]uint64
}

// NewEngine constructs an Engine rooted at cfg.RootDir.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Noop{}
	}
	target := cfg.Target
	if target == "" {
		target = ES2022
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = 64
	}
	cacheBytes := cfg.CacheBytes
	if cacheBytes <= 0 {
		cacheBytes = 64 * 1024 * 1024
	}

	return &Engine{
		rootDir:     cfg.RootDir,
		target:      target,
		tsconfigRaw: cfg.TsconfigRaw,
		logger:      logger,
		cache:       NewCache(cacheBytes),
		pool:        NewPool(maxWorkers, queueDepth),
		versions:    make(map[string]uint64),
	}
}

// Close releases the Engine's worker pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// Stats reports the underlying transform cache's metrics.
func (e *Engine) Stats() CacheStats {
	return e.cache.Stats()
}

// Resolve joins specifier against parentURL's directory. Only relative
// ("./x", "../x") and rooted ("/x") specifiers are supported; the host
// loader hooks spec.md §1 hands off to are not specified to perform
// bare-specifier (node_modules-style) resolution, so Engine declines it
// explicitly rather than guessing a convention.
func (e *Engine) Resolve(ctx context.Context, specifier, parentURL string) (string, error) {
	if !strings.HasPrefix(specifier, ".") && !strings.HasPrefix(specifier, "/") {
		return "", fmt.Errorf("transformhost: bare specifier %q not supported, only relative or rooted paths", specifier)
	}

	if strings.HasPrefix(specifier, "/") {
		return path.Clean(specifier), nil
	}

	dir := path.Dir(strings.TrimPrefix(parentURL, "/"))
	joined := path.Join(dir, specifier)
	return "/" + joined, nil
}

// Fetch reads the module at url from disk, rewrites import attributes,
// transforms it, and returns the result with a cache-busting version. A
// forceReload bumps the version past any previously served value, per
// spec.md §6 — the transform cache treats every (url, version) pair as
// a distinct entry, so the old one simply ages out of the LRU.
func (e *Engine) Fetch(ctx context.Context, url string, forceReload bool) (hostio.FetchResult, error) {
	version := e.versionFor(url, forceReload)
	key := CacheKey{URL: url, Version: version}

	if entry, found := e.cache.Get(key); found {
		e.logger.Debug("transformhost: cache hit for %s@%d", url, version)
		return hostio.FetchResult{URL: url, Version: version, Source: entry.Code}, nil
	}

	var result hostio.FetchResult
	err := e.pool.SubmitSync(func() error {
		code, deps, err := e.transform(url)
		if err != nil {
			return err
		}
		e.cache.Set(key, code, e.resolveDependencies(deps, url))
		result = hostio.FetchResult{URL: url, Version: version, Source: code}
		return nil
	})
	if err != nil {
		return hostio.FetchResult{}, fmt.Errorf("transformhost: fetch %s: %w", url, err)
	}

	return result, nil
}

// resolveDependencies turns the raw specifiers a transform reports into
// the same absolute-URL namespace the cache keys on, so Invalidate can
// walk from a changed URL to its dependents. Specifiers that don't
// resolve (bare imports) are dropped rather than tracked, matching
// Resolve's refusal to guess a bare-specifier convention.
func (e *Engine) resolveDependencies(specifiers []string, parentURL string) []string {
	if len(specifiers) == 0 {
		return nil
	}
	resolved := make([]string, 0, len(specifiers))
	for _, spec := range specifiers {
		url, err := e.Resolve(context.Background(), spec, parentURL)
		if err != nil {
			continue
		}
		resolved = append(resolved, url)
	}
	return resolved
}

func (e *Engine) versionFor(url string, forceReload bool) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if forceReload {
		e.versions[url]++
	}
	return e.versions[url]
}

// Invalidate evicts url and its transitive cache dependents, returning
// every URL invalidated. Callers (typically the watch-triggered update
// path) use this to decide which controllers need a dispatch.
func (e *Engine) Invalidate(url string) []string {
	return e.cache.Invalidate(url)
}

func (e *Engine) transform(url string) ([]byte, []string, error) {
	fullPath := filepath.Join(e.rootDir, filepath.FromSlash(strings.TrimPrefix(url, "/")))

	source, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", fullPath, err)
	}

	ext := strings.ToLower(filepath.Ext(fullPath))
	switch ext {
	case ".css":
		return []byte(TransformCSS(source, url)), nil, nil
	case ".ts", ".tsx", ".jsx", ".mjs", ".js":
		rewritten := RewriteImportAttributes(source)
		loader := LoaderJS
		switch ext {
		case ".ts":
			loader = LoaderTS
		case ".tsx":
			loader = LoaderTSX
		case ".jsx":
			loader = LoaderJSX
		}

		result, err := TransformTypeScript(rewritten, TransformOptions{
			Loader:      loader,
			Target:      e.target,
			Sourcemap:   SourceMapInline,
			Sourcefile:  url,
			TsconfigRaw: e.tsconfigRaw,
		})
		if err != nil {
			return nil, nil, err
		}
		return result.Code, result.Dependencies, nil
	default:
		return nil, nil, fmt.Errorf("transformhost: unsupported file extension %q for %s", ext, url)
	}
}
